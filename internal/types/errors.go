package types

import "errors"

// Core error sentinels. Every package in the reasoning core reports failures
// by wrapping one of these with fmt.Errorf("...: %w", Err...) so callers can
// match with errors.Is regardless of how many layers the error crossed.
var (
	// ErrInvalidPatch marks a malformed patch descriptor, a missing required
	// field, or a validation failure before simulation.
	ErrInvalidPatch = errors.New("invalid patch")

	// ErrSimulation marks a delta application that failed or produced a graph
	// violating an invariant.
	ErrSimulation = errors.New("simulation failed")

	// ErrRiskAnalysis marks missing graph data during risk analysis.
	ErrRiskAnalysis = errors.New("risk analysis failed")

	// Cache-layer sentinels (L2 disk specific).
	ErrCacheCorrupt         = errors.New("cache entry corrupt")
	ErrCacheVersionMismatch = errors.New("cache version mismatch")
	ErrCacheSerialization   = errors.New("cache serialization failed")
	ErrCacheDiskFull        = errors.New("cache disk full")
	ErrCachePermission      = errors.New("cache permission denied")

	// ErrAdapter wraps upstream I/O or graph-store failures.
	ErrAdapter = errors.New("adapter failure")

	// ErrTimeout marks an operation that exceeded its per-call bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrNotFound marks lookups on symbols, keys, or records that do not exist.
	ErrNotFound = errors.New("not found")
)
