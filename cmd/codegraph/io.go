package main

import (
	"encoding/json"
	"fmt"
	"os"

	"codegraph/internal/types"
)

// graphDoc is the on-disk JSON shape for an extracted code graph.
type graphDoc struct {
	Nodes []*types.Node `json:"nodes"`
	Edges []types.Edge  `json:"edges"`
}

// loadGraph reads a graph JSON file into an indexed graph.
func loadGraph(path string) (*types.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	var doc graphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}

	g := types.NewGraph()
	for _, n := range doc.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range doc.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("graph %s: %w", path, err)
		}
	}
	return g, nil
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
