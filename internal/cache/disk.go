package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// L2 on-disk format. Header fields are little-endian:
//
//	magic(4) = "CGIR"
//	version(2)               cache format version
//	schema_version_packed(8) "1.0.0" -> 100, upper 32 bits reserved zero
//	engine_version_packed(8)
//	payload_checksum(4)      xxh3-64 low 32 bits of payload BEFORE compression
//	serializer_type(1)       1=msgpack, 2=json
const (
	diskMagic      = "CGIR"
	diskFormatVer  = uint16(2)
	diskHeaderSize = 27
)

// SerializerType selects how the payload is encoded.
type SerializerType byte

const (
	SerializerMsgpack SerializerType = 1
	SerializerJSON    SerializerType = 2
)

// compressThreshold: payloads at or above this size are gzip-compressed.
const compressThreshold = 4 * 1024

// DiskCacheStats reports L2 counters.
type DiskCacheStats struct {
	Hits       int64
	Misses     int64
	Writes     int64
	WriteFails int64
	Corrupt    int64
}

// DiskCache is the persistent L2 tier: one content-addressed file per key,
// each carrying a fixed binary header, a payload checksum, and a serializer
// tag. Every header, checksum, or version mismatch reads as a miss; the
// offending file is removed best-effort so it cannot poison later reads.
type DiskCache struct {
	dir        string
	serializer SerializerType
	compress   bool
	lock       bool // advisory flock on writes

	mu    sync.Mutex
	stats DiskCacheStats
}

// NewDiskCache opens (and creates) the cache directory, sweeping orphaned
// temp files from crashed writers.
func NewDiskCache(dir string, serializer SerializerType, compress bool) (*DiskCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("disk cache: directory required")
	}
	if serializer != SerializerMsgpack && serializer != SerializerJSON {
		return nil, fmt.Errorf("%w: unknown serializer %d", types.ErrCacheSerialization, serializer)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, classifyWriteErr(dir, err)
	}
	CleanupOrphans(dir)
	return &DiskCache{dir: dir, serializer: serializer, compress: compress}, nil
}

func (d *DiskCache) path(key CacheKey) string {
	return filepath.Join(d.dir, key.FileName())
}

// Get loads and decodes the entry for key into out (a pointer). Returns
// false on any miss, including integrity failures.
func (d *DiskCache) Get(key CacheKey, out interface{}) bool {
	path := d.path(key)
	data, err := ReadWithRetry(path, 3, 10*time.Millisecond, nil)
	if err != nil {
		d.count(func(s *DiskCacheStats) { s.Misses++ })
		return false
	}

	payload, ser, err := d.decodeFile(key, data)
	if err != nil {
		// Integrity failure: treat as miss and drop the file.
		d.count(func(s *DiskCacheStats) { s.Misses++; s.Corrupt++ })
		logging.CacheDebug("DiskCache: dropping bad entry %s: %v", filepath.Base(path), err)
		os.Remove(path)
		return false
	}

	if err := deserialize(ser, payload, out); err != nil {
		d.count(func(s *DiskCacheStats) { s.Misses++; s.Corrupt++ })
		os.Remove(path)
		return false
	}
	d.count(func(s *DiskCacheStats) { s.Hits++ })
	return true
}

// decodeFile verifies the header and returns the raw (decompressed) payload.
func (d *DiskCache) decodeFile(key CacheKey, data []byte) ([]byte, SerializerType, error) {
	if len(data) < diskHeaderSize {
		return nil, 0, fmt.Errorf("%w: short header (%d bytes)", types.ErrCacheCorrupt, len(data))
	}
	if string(data[0:4]) != diskMagic {
		return nil, 0, fmt.Errorf("%w: bad magic", types.ErrCacheCorrupt)
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != diskFormatVer {
		return nil, 0, fmt.Errorf("%w: format version %d", types.ErrCacheVersionMismatch, version)
	}
	schemaPacked := binary.LittleEndian.Uint64(data[6:14])
	enginePacked := binary.LittleEndian.Uint64(data[14:22])
	// Upper 32 bits are reserved; nonzero means a future packing we cannot
	// interpret.
	if schemaPacked>>32 != 0 || enginePacked>>32 != 0 {
		return nil, 0, fmt.Errorf("%w: reserved version bits set", types.ErrCacheVersionMismatch)
	}
	if uint32(schemaPacked) != PackVersion(string(key.SchemaVersion)) ||
		uint32(enginePacked) != PackVersion(string(key.EngineVersion)) {
		return nil, 0, fmt.Errorf("%w: schema/engine %d/%d", types.ErrCacheVersionMismatch, schemaPacked, enginePacked)
	}
	checksum := binary.LittleEndian.Uint32(data[22:26])
	ser := SerializerType(data[26])

	payload := data[diskHeaderSize:]
	if d.compress && looksGzipped(payload) {
		var err error
		payload, err = gunzip(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: decompress: %v", types.ErrCacheCorrupt, err)
		}
	}
	if checksum32(payload) != checksum {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", types.ErrCacheCorrupt)
	}
	return payload, ser, nil
}

// Set serializes value and writes the entry through AtomicWrite.
func (d *DiskCache) Set(key CacheKey, value interface{}) error {
	payload, err := serialize(d.serializer, value)
	if err != nil {
		d.count(func(s *DiskCacheStats) { s.WriteFails++ })
		return err
	}

	header := make([]byte, diskHeaderSize)
	copy(header[0:4], diskMagic)
	binary.LittleEndian.PutUint16(header[4:6], diskFormatVer)
	binary.LittleEndian.PutUint64(header[6:14], uint64(PackVersion(string(key.SchemaVersion))))
	binary.LittleEndian.PutUint64(header[14:22], uint64(PackVersion(string(key.EngineVersion))))
	binary.LittleEndian.PutUint32(header[22:26], checksum32(payload))
	header[26] = byte(d.serializer)

	body := payload
	if d.compress && len(payload) >= compressThreshold {
		if gz, err := gzipBytes(payload); err == nil && len(gz) < len(payload) {
			body = gz
		}
	}

	if err := AtomicWrite(d.path(key), append(header, body...), WriteOptions{Fsync: true, AdvisoryLock: d.lock}); err != nil {
		d.count(func(s *DiskCacheStats) { s.WriteFails++ })
		return err
	}
	d.count(func(s *DiskCacheStats) { s.Writes++ })
	return nil
}

// Delete removes the entry for key if present.
func (d *DiskCache) Delete(key CacheKey) {
	os.Remove(d.path(key))
}

// Clear removes every entry and resets counters.
func (d *DiskCache) Clear() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("disk cache clear: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			os.Remove(filepath.Join(d.dir, e.Name()))
		}
	}
	d.mu.Lock()
	d.stats = DiskCacheStats{}
	d.mu.Unlock()
	return nil
}

// Stats snapshots the counters.
func (d *DiskCache) Stats() DiskCacheStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Dir returns the cache directory.
func (d *DiskCache) Dir() string { return d.dir }

func (d *DiskCache) count(fn func(*DiskCacheStats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// checksum32 is the low 32 bits of xxh3-64, computed over the uncompressed
// payload.
func checksum32(payload []byte) uint32 {
	return uint32(xxh3.Hash(payload))
}

func serialize(ser SerializerType, value interface{}) ([]byte, error) {
	switch ser {
	case SerializerMsgpack:
		data, err := msgpack.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: msgpack: %v", types.ErrCacheSerialization, err)
		}
		return data, nil
	case SerializerJSON:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: json: %v", types.ErrCacheSerialization, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown serializer %d", types.ErrCacheSerialization, ser)
	}
}

func deserialize(ser SerializerType, data []byte, out interface{}) error {
	switch ser {
	case SerializerMsgpack:
		if err := msgpack.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: msgpack: %v", types.ErrCacheSerialization, err)
		}
		return nil
	case SerializerJSON:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: json: %v", types.ErrCacheSerialization, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown serializer %d", types.ErrCacheSerialization, ser)
	}
}

func looksGzipped(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}
