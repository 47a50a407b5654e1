package docdb

import "errors"

// ErrMapNotFound is returned by BackendTx.DeleteMap when the map
// doesn't exist.
var ErrMapNotFound = errors.New("docdb: map not found")

// KVBackend is the external, ordered key-value engine this store is
// layered over (Bolt on disk, an in-memory B-tree for tests). It is
// the component spec.md calls KvBackend: an ordered map of bytes to
// bytes, exposing neighbor/floor/ceiling lookup and per-name maps.
// Everything about pages, compression, encryption, and autocommit
// buffering at the storage-engine level is this interface's problem,
// not the collection engine's.
type KVBackend interface {
	// Begin starts a new transaction.
	Begin(writable bool) (BackendTx, error)
	// Close closes the backend.
	Close() error
}

// BackendTx is a transaction against a KVBackend. Collection
// operations run inside one BackendTx so that a single insert/update/
// delete's cross-map writes become visible together (design note in
// spec.md §9, resolved as option (a): real backend transactions).
type BackendTx interface {
	// Writable reports whether this is a read-write transaction.
	Writable() bool

	// Map returns a named ordered map, or nil if it doesn't exist yet.
	Map(name string) OrderedMap

	// CreateMapIfNotExists returns the named map, creating it if needed.
	CreateMapIfNotExists(name string) (OrderedMap, error)

	// DeleteMap removes a named map and all its entries.
	DeleteMap(name string) error

	// Maps lists every map name currently registered in the backend.
	Maps() []string

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. Safe to call more than once.
	Rollback() error

	// Size returns the backend's on-disk size in bytes (0 if not
	// applicable, e.g. for an in-memory backend).
	Size() int64
}

// OrderedMap is a single ordered bytes-to-bytes map: one collection's
// primary map, one secondary index, or one spatial index.
type OrderedMap interface {
	// Get retrieves a value by exact key. Returns nil if absent.
	Get(key []byte) []byte

	// Put stores a key-value pair, overwriting any existing value.
	Put(key, value []byte) error

	// Delete removes a key. A no-op if the key is absent.
	Delete(key []byte) error

	// First returns the smallest key-value pair, or (nil, nil) if empty.
	First() (key, value []byte)

	// Last returns the largest key-value pair, or (nil, nil) if empty.
	Last() (key, value []byte)

	// Ceiling returns the smallest key-value pair with key >= the
	// given key, or (nil, nil) if none.
	Ceiling(key []byte) (k, v []byte)

	// Floor returns the largest key-value pair with key <= the given
	// key, or (nil, nil) if none.
	Floor(key []byte) (k, v []byte)

	// Higher returns the smallest key-value pair with key strictly
	// greater than the given key, or (nil, nil) if none. Looking up by
	// key value (not a live cursor handle) is what makes advancing
	// past a just-deleted entry well-defined (spec.md §4.4.1).
	Higher(key []byte) (k, v []byte)

	// Lower returns the largest key-value pair with key strictly less
	// than the given key, or (nil, nil) if none.
	Lower(key []byte) (k, v []byte)

	// Stats returns best-effort size statistics.
	Stats() MapStats

	// Count returns the number of entries (best effort, O(1) where the
	// backend tracks it, O(n) otherwise).
	Count() int
}

// MapStats holds best-effort bucket statistics. Backends that don't
// track allocation sizes may return zero for everything but KeyN.
type MapStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s MapStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }
