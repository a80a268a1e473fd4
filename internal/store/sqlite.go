package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"codegraph/internal/logging"
	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// SQLiteStore is the default injectable Store: code graph and VFG tables
// keyed by (repo_id, snapshot_id) in a single SQLite file.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLite opens (and migrates) the store at path. Use ":memory:" for an
// ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", types.ErrAdapter, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("SQLiteStore: opened %s", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			repo_id TEXT NOT NULL,
			snapshot_id TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			name TEXT,
			kind TEXT,
			file_path TEXT,
			line INTEGER,
			return_type TEXT,
			code TEXT,
			parameters TEXT,
			metadata TEXT,
			PRIMARY KEY (repo_id, snapshot_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_nodes_file ON graph_nodes(repo_id, file_path)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			repo_id TEXT NOT NULL,
			snapshot_id TEXT NOT NULL DEFAULT '',
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence TEXT,
			PRIMARY KEY (repo_id, snapshot_id, src, dst, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_dst ON graph_edges(repo_id, dst)`,
		`CREATE TABLE IF NOT EXISTS vfg_nodes (
			repo_id TEXT NOT NULL,
			snapshot_id TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			symbol_name TEXT,
			file_path TEXT,
			line INTEGER,
			language TEXT,
			value_type TEXT,
			schema TEXT,
			function_context TEXT,
			service_context TEXT,
			taint_labels TEXT,
			is_source INTEGER DEFAULT 0,
			is_sink INTEGER DEFAULT 0,
			metadata TEXT,
			PRIMARY KEY (repo_id, snapshot_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS vfg_edges (
			repo_id TEXT NOT NULL,
			snapshot_id TEXT NOT NULL DEFAULT '',
			src_id TEXT NOT NULL,
			dst_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence TEXT,
			boundary TEXT,
			field_mapping TEXT,
			PRIMARY KEY (repo_id, snapshot_id, src_id, dst_id, kind)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", types.ErrAdapter, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// NodeByID returns one node, or nil when absent.
func (s *SQLiteStore) NodeByID(ctx context.Context, repoID, id string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, file_path, line, return_type, code, parameters, metadata
		 FROM graph_nodes WHERE repo_id = ? AND id = ? LIMIT 1`, repoID, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: node_by_id: %v", types.ErrAdapter, err)
	}
	return n, nil
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanNode(row rowScanner) (*types.Node, error) {
	var n types.Node
	var paramsJSON, metaJSON sql.NullString
	var returnType, code, name, kind, filePath sql.NullString
	var line sql.NullInt64
	if err := row.Scan(&n.ID, &name, &kind, &filePath, &line, &returnType, &code, &paramsJSON, &metaJSON); err != nil {
		return nil, err
	}
	n.Name = name.String
	n.Kind = types.SymbolKind(kind.String)
	n.FilePath = filePath.String
	n.Line = int(line.Int64)
	n.ReturnType = returnType.String
	n.Code = code.String
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &n.Parameters); err != nil {
			logging.Get(logging.CategoryStore).Warn("scanNode: parameters unmarshal failed for %s: %v", n.ID, err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &n.Metadata); err != nil {
			logging.Get(logging.CategoryStore).Warn("scanNode: metadata unmarshal failed for %s: %v", n.ID, err)
		}
	}
	return &n, nil
}

// NodesByIDs batch-fetches nodes.
func (s *SQLiteStore) NodesByIDs(ctx context.Context, repoID string, ids []string) (map[string]*types.Node, error) {
	out := make(map[string]*types.Node, len(ids))
	for _, id := range ids {
		n, err := s.NodeByID(ctx, repoID, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out[id] = n
		}
	}
	return out, nil
}

// relationOfFile runs the shared "edges of kind K into symbols of file F"
// query.
func (s *SQLiteStore) relationOfFile(ctx context.Context, repoID, filePath string, kind types.EdgeKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT e.src
		 FROM graph_edges e
		 JOIN graph_nodes n ON n.repo_id = e.repo_id AND n.id = e.dst
		 WHERE e.repo_id = ? AND e.kind = ? AND n.file_path = ?
		 ORDER BY e.src`, repoID, string(kind), filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: relation query: %v", types.ErrAdapter, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logging.Get(logging.CategoryStore).Warn("relationOfFile: row scan failed: %v", err)
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CallersOfFile returns symbols calling into the file.
func (s *SQLiteStore) CallersOfFile(ctx context.Context, repoID, filePath string) ([]string, error) {
	return s.relationOfFile(ctx, repoID, filePath, types.EdgeCalls)
}

// SubclassesOfFile returns symbols inheriting from the file's symbols.
func (s *SQLiteStore) SubclassesOfFile(ctx context.Context, repoID, filePath string) ([]string, error) {
	return s.relationOfFile(ctx, repoID, filePath, types.EdgeInherits)
}

// ImportersOfFile returns symbols importing the file's symbols.
func (s *SQLiteStore) ImportersOfFile(ctx context.Context, repoID, filePath string) ([]string, error) {
	return s.relationOfFile(ctx, repoID, filePath, types.EdgeImports)
}

// ExtractVFG returns the value-flow view for (repo, snapshot).
func (s *SQLiteStore) ExtractVFG(ctx context.Context, repoID, snapshotID string, limit int) ([]*vfg.Node, []vfg.Edge, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ExtractVFG")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeQuery := `SELECT id, symbol_name, file_path, line, language, value_type, schema,
		function_context, service_context, taint_labels, is_source, is_sink, metadata
		FROM vfg_nodes WHERE repo_id = ? AND snapshot_id = ?`
	args := []interface{}{repoID, snapshotID}
	if limit > 0 {
		nodeQuery += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, nodeQuery, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: extract_vfg nodes: %v", types.ErrAdapter, err)
	}
	defer rows.Close()

	var nodes []*vfg.Node
	for rows.Next() {
		n, err := scanVFGNode(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("ExtractVFG: node scan failed: %v", err)
			continue
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: extract_vfg nodes: %v", types.ErrAdapter, err)
	}

	erows, err := s.db.QueryContext(ctx,
		`SELECT src_id, dst_id, kind, confidence, boundary, field_mapping
		 FROM vfg_edges WHERE repo_id = ? AND snapshot_id = ?`, repoID, snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: extract_vfg edges: %v", types.ErrAdapter, err)
	}
	defer erows.Close()

	var edges []vfg.Edge
	for erows.Next() {
		var e vfg.Edge
		var kind string
		var confidence, boundaryJSON, mappingJSON sql.NullString
		if err := erows.Scan(&e.Src, &e.Dst, &kind, &confidence, &boundaryJSON, &mappingJSON); err != nil {
			logging.Get(logging.CategoryStore).Warn("ExtractVFG: edge scan failed: %v", err)
			continue
		}
		e.Kind = types.EdgeKind(kind)
		e.Confidence = types.ConfidenceLabel(confidence.String)
		if boundaryJSON.Valid && boundaryJSON.String != "" {
			var spec vfg.BoundarySpec
			if err := json.Unmarshal([]byte(boundaryJSON.String), &spec); err == nil {
				e.Boundary = &spec
			}
		}
		if mappingJSON.Valid && mappingJSON.String != "" {
			_ = json.Unmarshal([]byte(mappingJSON.String), &e.FieldMapping)
		}
		edges = append(edges, e)
	}
	return nodes, edges, erows.Err()
}

func scanVFGNode(rows *sql.Rows) (*vfg.Node, error) {
	var n vfg.Node
	var valueTypeJSON, schemaJSON, labelsJSON, metaJSON sql.NullString
	var symbolName, filePath, language, funcCtx, svcCtx sql.NullString
	var line sql.NullInt64
	var isSource, isSink int
	if err := rows.Scan(&n.ID, &symbolName, &filePath, &line, &language, &valueTypeJSON, &schemaJSON,
		&funcCtx, &svcCtx, &labelsJSON, &isSource, &isSink, &metaJSON); err != nil {
		return nil, err
	}
	n.SymbolName = symbolName.String
	n.FilePath = filePath.String
	n.Line = int(line.Int64)
	n.Language = language.String
	n.FunctionContext = funcCtx.String
	n.ServiceContext = svcCtx.String
	n.IsSource = isSource != 0
	n.IsSink = isSink != 0
	if valueTypeJSON.Valid && valueTypeJSON.String != "" {
		_ = json.Unmarshal([]byte(valueTypeJSON.String), &n.ValueType)
	}
	if schemaJSON.Valid && schemaJSON.String != "" {
		_ = json.Unmarshal([]byte(schemaJSON.String), &n.Schema)
	}
	if labelsJSON.Valid && labelsJSON.String != "" {
		_ = json.Unmarshal([]byte(labelsJSON.String), &n.TaintLabels)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &n.Metadata)
	}
	return &n, nil
}

// SourcesAndSinks lists source-marked and sink-marked VFG node ids.
func (s *SQLiteStore) SourcesAndSinks(ctx context.Context, repoID, snapshotID string) ([]string, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, is_source, is_sink FROM vfg_nodes
		 WHERE repo_id = ? AND snapshot_id = ? AND (is_source = 1 OR is_sink = 1)
		 ORDER BY id`, repoID, snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sources_and_sinks: %v", types.ErrAdapter, err)
	}
	defer rows.Close()

	var sources, sinks []string
	for rows.Next() {
		var id string
		var isSource, isSink int
		if err := rows.Scan(&id, &isSource, &isSink); err != nil {
			continue
		}
		if isSource != 0 {
			sources = append(sources, id)
		}
		if isSink != 0 {
			sinks = append(sinks, id)
		}
	}
	return sources, sinks, rows.Err()
}

// SaveGraph persists a code graph plus its VFG view for (repo, snapshot).
func (s *SQLiteStore) SaveGraph(ctx context.Context, repoID, snapshotID string, g *types.Graph, vfgNodes []*vfg.Node, vfgEdges []vfg.Edge) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveGraph")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: save_graph begin: %v", types.ErrAdapter, err)
	}
	defer tx.Rollback()

	if g != nil {
		for _, n := range g.Nodes() {
			params, _ := json.Marshal(n.Parameters)
			meta, _ := json.Marshal(n.Metadata)
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO graph_nodes
				 (repo_id, snapshot_id, id, name, kind, file_path, line, return_type, code, parameters, metadata)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				repoID, snapshotID, n.ID, n.Name, string(n.Kind), n.FilePath, n.Line,
				n.ReturnType, n.Code, string(params), string(meta)); err != nil {
				return fmt.Errorf("%w: save node %s: %v", types.ErrAdapter, n.ID, err)
			}
		}
		for _, e := range g.Edges() {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO graph_edges (repo_id, snapshot_id, src, dst, kind, confidence)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				repoID, snapshotID, e.Src, e.Dst, string(e.Kind), string(e.Confidence)); err != nil {
				return fmt.Errorf("%w: save edge %s->%s: %v", types.ErrAdapter, e.Src, e.Dst, err)
			}
		}
	}

	for _, n := range vfgNodes {
		valueType, _ := json.Marshal(n.ValueType)
		schema, _ := json.Marshal(n.Schema)
		labels, _ := json.Marshal(n.TaintLabels)
		meta, _ := json.Marshal(n.Metadata)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO vfg_nodes
			 (repo_id, snapshot_id, id, symbol_name, file_path, line, language, value_type, schema,
			  function_context, service_context, taint_labels, is_source, is_sink, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repoID, snapshotID, n.ID, n.SymbolName, n.FilePath, n.Line, n.Language,
			string(valueType), string(schema), n.FunctionContext, n.ServiceContext,
			string(labels), boolToInt(n.IsSource), boolToInt(n.IsSink), string(meta)); err != nil {
			return fmt.Errorf("%w: save vfg node %s: %v", types.ErrAdapter, n.ID, err)
		}
	}
	for _, e := range vfgEdges {
		boundary, _ := json.Marshal(e.Boundary)
		mapping, _ := json.Marshal(e.FieldMapping)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO vfg_edges
			 (repo_id, snapshot_id, src_id, dst_id, kind, confidence, boundary, field_mapping)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			repoID, snapshotID, e.Src, e.Dst, string(e.Kind), string(e.Confidence),
			string(boundary), string(mapping)); err != nil {
			return fmt.Errorf("%w: save vfg edge %s->%s: %v", types.ErrAdapter, e.Src, e.Dst, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: save_graph commit: %v", types.ErrAdapter, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, where string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"graph_nodes", "graph_edges", "vfg_nodes", "vfg_edges"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+where, args...); err != nil {
			return fmt.Errorf("%w: delete from %s: %v", types.ErrAdapter, table, err)
		}
	}
	return nil
}

// DeleteRepo removes every record of the repo.
func (s *SQLiteStore) DeleteRepo(ctx context.Context, repoID string) error {
	return s.deleteWhere(ctx, "repo_id = ?", repoID)
}

// DeleteSnapshot removes one snapshot of the repo.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, repoID, snapshotID string) error {
	return s.deleteWhere(ctx, "repo_id = ? AND snapshot_id = ?", repoID, snapshotID)
}

// DeleteNodesForFiles removes graph nodes (and their edges) for deleted
// files.
func (s *SQLiteStore) DeleteNodesForFiles(ctx context.Context, repoID string, filePaths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fp := range filePaths {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM graph_edges WHERE repo_id = ? AND (
				src IN (SELECT id FROM graph_nodes WHERE repo_id = ? AND file_path = ?) OR
				dst IN (SELECT id FROM graph_nodes WHERE repo_id = ? AND file_path = ?))`,
			repoID, repoID, fp, repoID, fp); err != nil {
			return fmt.Errorf("%w: delete edges for %s: %v", types.ErrAdapter, fp, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM graph_nodes WHERE repo_id = ? AND file_path = ?`, repoID, fp); err != nil {
			return fmt.Errorf("%w: delete nodes for %s: %v", types.ErrAdapter, fp, err)
		}
	}
	return nil
}
