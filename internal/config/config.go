// Package config loads codegraph configuration from .codegraph/config.json,
// overlaying user values onto defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all codegraph configuration.
type Config struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	Logging     LoggingConfig     `json:"logging"`
	Cache       CacheConfig       `json:"cache"`
	Propagation PropagationConfig `json:"propagation"`
	Taint       TaintConfig       `json:"taint"`
	Overlay     OverlayConfig     `json:"overlay"`
	Rebuild     RebuildConfig     `json:"rebuild"`
	Store       StoreConfig       `json:"store"`
}

// LoggingConfig mirrors the shape the logging package reads directly.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level"`
}

// CacheConfig bounds the tiered IR cache.
type CacheConfig struct {
	Dir           string  `json:"dir"`
	L1MaxEntries  int     `json:"l1_max_entries"`
	L1MaxBytes    int64   `json:"l1_max_bytes"`
	L1DecayFactor float64 `json:"l1_decay_factor"`
	L2Compress    bool    `json:"l2_compress"`
	L2Serializer  string  `json:"l2_serializer"` // "msgpack" or "json"
}

// PropagationConfig tunes the impact BFS.
type PropagationConfig struct {
	MaxDepth      int     `json:"max_depth"`
	MinConfidence float64 `json:"min_confidence"`
	DecayCalls    float64 `json:"decay_calls"`
	DecayInherits float64 `json:"decay_inherits"`
	DecayImports  float64 `json:"decay_imports"`
}

// TaintConfig bounds the taint engine.
type TaintConfig struct {
	MaxPaths       int `json:"max_paths"`
	TimeoutSeconds int `json:"timeout_seconds"`
	CacheSize      int `json:"cache_size"`
}

// OverlayConfig bounds the overlay manager.
type OverlayConfig struct {
	MaxStackDepth      int  `json:"max_stack_depth"`
	AutoRejectBreaking bool `json:"auto_reject_breaking"`
}

// RebuildConfig bounds the rebuild cache and builder.
type RebuildConfig struct {
	CacheMaxEntries          int     `json:"cache_max_entries"`
	CacheTTLSeconds          int     `json:"cache_ttl_seconds"`
	SliceConfidenceThreshold float64 `json:"slice_confidence_threshold"`
	UnknownIsBreaking        bool    `json:"unknown_is_breaking"`
}

// StoreConfig locates the graph store and the optional remote K/V tier.
type StoreConfig struct {
	SQLitePath        string `json:"sqlite_path"`
	RedisAddr         string `json:"redis_addr,omitempty"`
	RelationTTLSecond int    `json:"relation_ttl_seconds"`
}

// DefaultConfig returns the defaults every load starts from.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codegraph",
		Version: "1.0.0",
		Logging: LoggingConfig{Level: "info"},
		Cache: CacheConfig{
			Dir:           ".codegraph/ir_cache",
			L1MaxEntries:  500,
			L1MaxBytes:    512 * 1024 * 1024,
			L1DecayFactor: 0.001,
			L2Serializer:  "msgpack",
		},
		Propagation: PropagationConfig{
			MaxDepth:      5,
			MinConfidence: 0.3,
			DecayCalls:    0.9,
			DecayInherits: 0.8,
			DecayImports:  0.8,
		},
		Taint: TaintConfig{
			MaxPaths:       100,
			TimeoutSeconds: 10,
			CacheSize:      256,
		},
		Overlay: OverlayConfig{
			MaxStackDepth:      100,
			AutoRejectBreaking: true,
		},
		Rebuild: RebuildConfig{
			CacheMaxEntries:          100,
			CacheTTLSeconds:          300,
			SliceConfidenceThreshold: 0.5,
		},
		Store: StoreConfig{
			SQLitePath:        ".codegraph/graph.db",
			RelationTTLSecond: 60,
		},
	}
}

// Load reads .codegraph/config.json under workspace, overlaying it onto the
// defaults. A missing file returns the defaults unchanged.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".codegraph", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config under workspace, creating the directory.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".codegraph")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
