package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"codegraph/internal/cache"
	"codegraph/internal/effects"
	"codegraph/internal/pipeline"
	"codegraph/internal/store"
	"codegraph/internal/taint"
	"codegraph/internal/types"
)

// newAnalyzeCmd diffs effects for a change set and reports the aggregate.
func newAnalyzeCmd() *cobra.Command {
	var graphPath, changesPath string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Diff effects for a change set and aggregate the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(graphPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(changesPath)
			if err != nil {
				return err
			}
			var changes map[string]effects.CodePair
			if err := json.Unmarshal(data, &changes); err != nil {
				return fmt.Errorf("parse changes %s: %w", changesPath, err)
			}

			p, err := pipeline.New(pipeline.Options{Graph: g})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			diffs, err := p.AnalyzeEffects(ctx, changes)
			if err != nil {
				return err
			}

			var breaking []string
			for id, d := range diffs {
				if d.IsBreaking {
					breaking = append(breaking, id)
				}
			}
			if _, err := p.AnalyzeImpact(ctx, breaking); err != nil {
				return err
			}
			return printJSON(p.Result())
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "graph.json", "extracted code graph JSON")
	cmd.Flags().StringVar(&changesPath, "changes", "changes.json", "change set JSON: {symbol_id: {Before, After, Language}}")
	return cmd
}

// newImpactCmd propagates impact from one symbol.
func newImpactCmd() *cobra.Command {
	var graphPath string

	cmd := &cobra.Command{
		Use:   "impact <symbol-id>",
		Short: "Propagate impact from a changed symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(graphPath)
			if err != nil {
				return err
			}
			p, err := pipeline.New(pipeline.Options{Graph: g})
			if err != nil {
				return err
			}
			reports, err := p.AnalyzeImpact(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(reports[args[0]])
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "graph.json", "extracted code graph JSON")
	return cmd
}

// newTaintCmd traces taint over the stored VFG.
func newTaintCmd() *cobra.Command {
	var repoID, snapshotID string
	var sources, sinks []string

	cmd := &cobra.Command{
		Use:   "taint",
		Short: "Trace taint paths over the stored value flow graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenSQLite(cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()

			engine := taint.NewEngine(cfg.Taint.CacheSize)
			ctx := cmd.Context()
			if err := engine.LoadFromExtractor(ctx, st, repoID, snapshotID, 0); err != nil {
				return err
			}
			if len(sources) == 0 && len(sinks) == 0 {
				sources, sinks, err = st.SourcesAndSinks(ctx, repoID, snapshotID)
				if err != nil {
					return err
				}
			}

			paths, timedOut, err := engine.TraceTaint(ctx, sources, sinks,
				cfg.Taint.MaxPaths, time.Duration(cfg.Taint.TimeoutSeconds)*time.Second)
			if err != nil {
				return err
			}
			out := map[string]interface{}{
				"paths":     paths,
				"timed_out": timedOut,
				"stats":     engine.Stats(),
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source node ids (default: store-marked sources)")
	cmd.Flags().StringSliceVar(&sinks, "sink", nil, "sink node ids (default: store-marked sinks)")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

// newSimulateCmd simulates a patch file and prints its risk report.
func newSimulateCmd() *cobra.Command {
	var graphPath, patchPath string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a candidate patch and score its risk",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(graphPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(patchPath)
			if err != nil {
				return err
			}
			var patch types.Patch
			if err := json.Unmarshal(data, &patch); err != nil {
				return fmt.Errorf("parse patch %s: %w", patchPath, err)
			}

			p, err := pipeline.New(pipeline.Options{Graph: g})
			if err != nil {
				return err
			}
			report, err := p.SimulatePatch(cmd.Context(), &patch)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "graph.json", "extracted code graph JSON")
	cmd.Flags().StringVar(&patchPath, "patch", "patch.json", "patch descriptor JSON")
	return cmd
}

// newCacheCmd inspects or clears the tiered IR cache.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the tiered IR cache",
	}

	openTiered := func() (*cache.TieredCache, error) {
		ser := cache.SerializerMsgpack
		if cfg.Cache.L2Serializer == "json" {
			ser = cache.SerializerJSON
		}
		l2, err := cache.NewDiskCache(cfg.Cache.Dir, ser, cfg.Cache.L2Compress)
		if err != nil {
			return nil, err
		}
		l1 := cache.NewPriorityCache(cfg.Cache.L1MaxEntries, cfg.Cache.L1MaxBytes, cfg.Cache.L1DecayFactor)
		return cache.NewTieredCache(l1, l2), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print cache telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := openTiered()
			if err != nil {
				return err
			}
			return printJSON(tc.Stats())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop both cache tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := openTiered()
			if err != nil {
				return err
			}
			tc.Clear()
			fmt.Println("cache cleared")
			return nil
		},
	})
	return cmd
}
