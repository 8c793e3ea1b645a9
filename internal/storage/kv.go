package storage

import (
	"context"
)

// KVEngine defines the interface for embedded key-value storage.
//
// The credential store persists a handful of small keys, so the contract
// is deliberately narrow: point reads and writes, prefix scans and a
// read-write transaction for multi-key updates and counters.
//
// Implementations must be safe for concurrent use and durable across
// process restarts (unless configured in-memory for tests).
type KVEngine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores a key-value pair.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Scan iterates over keys with a given prefix.
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// Update runs fn inside a serializable read-write transaction.
	// All writes made through txn commit atomically or not at all.
	Update(ctx context.Context, fn func(txn KVTxn) error) error

	// GC triggers garbage collection (for LSM-based engines like Badger).
	// Returns bytes reclaimed.
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*KVStats, error)

	// Close gracefully shuts down the KV engine.
	Close() error
}

// KVTxn is the view of a read-write transaction handed to KVEngine.Update.
type KVTxn interface {
	// Get returns ErrKeyNotFound if key doesn't exist.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
}

// KVStats contains storage engine statistics.
type KVStats struct {
	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size.
	LSMSize uint64

	// ValueLogSize is the value log size.
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// Badger-specific configuration
	Badger BadgerConfig
}

// BadgerConfig contains Badger tuning parameters.
//
// Defaults are sized for a single-user credential database: a few
// kilobytes of live data, rare writes, fsync on every commit.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 30m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 1MB
	CacheSize int64

	// MemTableSize is the memtable size in bytes. Badger caps a write
	// batch at 15% of it, which must stay above ValueThreshold.
	// Default: 8MB
	MemTableSize int64

	// ValueThreshold is the size above which values move to the value log.
	// Default: 4KB (tokens stay in the LSM tree)
	ValueThreshold int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 16MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 1
	NumMemtables int

	// SyncWrites enables fsync after each write.
	// Default: true
	SyncWrites bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// InMemoryKVConfig returns a configuration for a throwaway in-memory engine.
func InMemoryKVConfig() KVConfig {
	return KVConfig{
		InMemory: true,
		Badger:   DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "30m",
		GCThreshold:      0.5,
		CacheSize:        1 << 20,  // 1MB
		MemTableSize:     8 << 20,  // 8MB
		ValueThreshold:   4 << 10,  // 4KB
		ValueLogFileSize: 16 << 20, // 16MB
		NumMemtables:     1,
		SyncWrites:       true,
	}
}
