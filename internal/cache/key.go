// Package cache implements the tiered IR cache: content fingerprints and
// composite keys, crash-safe file I/O, a priority-evicting memory tier (L1),
// a content-addressed disk tier (L2), and the facade that cascades them.
package cache

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// fingerprintSeed keys the content hash. Stable across processes so that
// fingerprints are comparable between runs; bump only together with
// EngineVersion since it invalidates every stored entry.
const fingerprintSeed uint64 = 0x636772_49520001

// Fingerprint is a 128-bit non-cryptographic content digest.
type Fingerprint struct {
	Hi uint64
	Lo uint64
}

// String renders the digest as 32 hex chars.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x", f.Hi, f.Lo)
}

// HashContent fingerprints raw bytes. Non-UTF-8 input is hashed as-is; no
// decoding happens at this layer.
func HashContent(content []byte) Fingerprint {
	sum := xxh3.Hash128Seed(content, fingerprintSeed)
	return Fingerprint{Hi: sum.Hi, Lo: sum.Lo}
}

// SchemaVersion identifies the IR document structure version. Bumping it
// invalidates every prior entry of the cache family.
type SchemaVersion string

// EngineVersion identifies the lowering engine version.
type EngineVersion string

const (
	SchemaV1 SchemaVersion = "1.0.0"
	EngineV1 EngineVersion = "1.0.0"

	// CurrentSchemaVersion and CurrentEngineVersion are the versions new
	// entries are written with.
	CurrentSchemaVersion = SchemaV1
	CurrentEngineVersion = EngineV1
)

// PackVersion encodes "major.minor.patch" as major*100 + minor*10 + patch
// ("1.0.0" -> 100). The packed value fits 32 bits; the on-disk field reserves
// the upper 32 bits as zero.
func PackVersion(v string) uint32 {
	var major, minor, patch uint32
	fmt.Sscanf(v, "%d.%d.%d", &major, &minor, &patch)
	return major*100 + minor*10 + patch
}

// CacheKey identifies one cached IR entry. Equality uses the content hash and
// the two versions; Path is debugging metadata only.
type CacheKey struct {
	ContentHash   Fingerprint
	SchemaVersion SchemaVersion
	EngineVersion EngineVersion
	Path          string
}

// BuildKey forms the composite key for a source fragment.
func BuildKey(content []byte, schemaV SchemaVersion, engineV EngineVersion, path string) CacheKey {
	return CacheKey{
		ContentHash:   HashContent(content),
		SchemaVersion: schemaV,
		EngineVersion: engineV,
		Path:          path,
	}
}

// Equal compares keys ignoring Path.
func (k CacheKey) Equal(other CacheKey) bool {
	return k.ContentHash == other.ContentHash &&
		k.SchemaVersion == other.SchemaVersion &&
		k.EngineVersion == other.EngineVersion
}

// String renders the identity portion of the key. Used as the map key for L1
// and hashed for the L2 filename.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ContentHash, k.SchemaVersion, k.EngineVersion)
}

// FileName returns the content-addressed L2 filename: truncated hex of the
// hash of the full key string.
func (k CacheKey) FileName() string {
	sum := xxh3.Hash128([]byte(k.String()))
	return fmt.Sprintf("%016x.cgir", sum.Lo)
}
