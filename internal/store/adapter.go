// Package store provides the read-only adapter view over the authoritative
// graph store, a SQLite-backed implementation of it, and a caching wrapper.
package store

import (
	"context"

	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// View is the narrow read interface the reasoning core consumes. Missing ids
// resolve to nil without error; infrastructure failures wrap ErrAdapter.
type View interface {
	// NodeByID returns one code-graph node, or nil when absent.
	NodeByID(ctx context.Context, repoID, id string) (*types.Node, error)

	// NodesByIDs batch-fetches nodes; absent ids are simply missing from the
	// result map.
	NodesByIDs(ctx context.Context, repoID string, ids []string) (map[string]*types.Node, error)

	// CallersOfFile returns ids of symbols with CALLS edges into any symbol
	// of the file.
	CallersOfFile(ctx context.Context, repoID, filePath string) ([]string, error)

	// SubclassesOfFile returns ids of symbols inheriting from any symbol of
	// the file.
	SubclassesOfFile(ctx context.Context, repoID, filePath string) ([]string, error)

	// ImportersOfFile returns ids of symbols importing any symbol of the
	// file.
	ImportersOfFile(ctx context.Context, repoID, filePath string) ([]string, error)

	// ExtractVFG returns the value-flow view filtered by (repo, snapshot).
	// limit > 0 bounds the node count.
	ExtractVFG(ctx context.Context, repoID, snapshotID string, limit int) ([]*vfg.Node, []vfg.Edge, error)

	// SourcesAndSinks lists the source-marked and sink-marked VFG node ids.
	SourcesAndSinks(ctx context.Context, repoID, snapshotID string) (sources, sinks []string, err error)
}

// Store extends View with the write operations that invalidate downstream
// caches.
type Store interface {
	View

	SaveGraph(ctx context.Context, repoID, snapshotID string, g *types.Graph, vfgNodes []*vfg.Node, vfgEdges []vfg.Edge) error
	DeleteRepo(ctx context.Context, repoID string) error
	DeleteSnapshot(ctx context.Context, repoID, snapshotID string) error
	DeleteNodesForFiles(ctx context.Context, repoID string, filePaths []string) error
}
