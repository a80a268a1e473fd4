package taint

import (
	"context"
	"fmt"
	"testing"

	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// loadLadder loads a 1000-node chain n0000 -> n0001 -> ... -> n0999.
func loadLadder(b *testing.B) *Engine {
	b.Helper()
	e := NewEngine(256)
	var nodes []*vfg.Node
	var edges []vfg.Edge
	for i := 0; i < 1000; i++ {
		nodes = append(nodes, &vfg.Node{ID: fmt.Sprintf("n%04d", i)})
		if i > 0 {
			edges = append(edges, vfg.Edge{
				Src: fmt.Sprintf("n%04d", i-1), Dst: fmt.Sprintf("n%04d", i), Kind: types.EdgeFlowsTo,
			})
		}
	}
	if err := e.Load(nodes, edges); err != nil {
		b.Fatal(err)
	}
	return e
}

func BenchmarkEngine_FastReachability(b *testing.B) {
	e := loadLadder(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.FastReachability("n0000", "n0999")
	}
}

func BenchmarkEngine_TraceTaintCached(b *testing.B) {
	e := loadLadder(b)
	ctx := context.Background()
	sources, sinks := []string{"n0000"}, []string{"n0999"}
	if _, _, err := e.TraceTaint(ctx, sources, sinks, 0, 0); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := e.TraceTaint(ctx, sources, sinks, 0, 0); err != nil {
			b.Fatal(err)
		}
	}
}
