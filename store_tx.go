package docdb

import (
	"fmt"
	"runtime/debug"

	"github.com/kvdoc/docdb/wal"
)

// Tx is a raw, Collection-agnostic handle on one backend transaction,
// for callers who want a map of their own outside any Collection's
// index bookkeeping -- a "meta" map of singleton config values, a
// counter, anything that doesn't need Insert/Update's index upkeep.
// Collection's own operations never go through this type; they use
// the unexported txHandle directly so a failed secondary-index write
// can still roll back the whole backend transaction.
type Tx struct {
	h    *txHandle
	memo map[string]any
}

// Begin starts a raw transaction. Callers must Commit or Rollback it;
// an abandoned Tx counts against Store.Close's open-transaction check
// until one of those runs.
func (s *Store) Begin(writable bool) (*Tx, error) {
	h, err := s.begin(writable)
	if err != nil {
		return nil, err
	}
	return &Tx{h: h}, nil
}

func (tx *Tx) Writable() bool { return tx.h.btx.Writable() }

func (tx *Tx) Commit() error { return tx.h.commit() }

func (tx *Tx) Rollback() { tx.h.rollbackUnlessDone() }

// Maps lists every backend map name, across every collection and raw
// map alike -- the teacher's DescribeOpenTxns diagnostic counterpart
// for "what's actually on disk", not just what this process has
// opened a Collection for.
func (tx *Tx) Maps() []string {
	return tx.h.btx.Maps()
}

// RawMap returns the named backend map, creating it if this is a
// writable transaction and it doesn't exist yet.
func (tx *Tx) RawMap(name string) (OrderedMap, error) {
	if tx.Writable() {
		m, err := tx.h.btx.CreateMapIfNotExists(name)
		if err != nil {
			return nil, backendErrf("create map", err)
		}
		return m, nil
	}
	if m := tx.h.btx.Map(name); m != nil {
		return m, nil
	}
	return emptyMap{}, nil
}

// RawKey fetches a single singleton value from a raw map, the
// degenerate case of RawMap for config-blob style keys that don't
// need a Cursor. If an autocommit buffer is configured, a write still
// waiting to flush is visible here before it ever reaches the backend.
func (tx *Tx) RawKey(mapName string, key []byte) ([]byte, error) {
	if w := tx.h.store.autoCommit; w != nil {
		if v, tombstone, found := w.Pending(mapName, key); found {
			if tombstone {
				return nil, nil
			}
			return v, nil
		}
	}
	m, err := tx.RawMap(mapName)
	if err != nil {
		return nil, err
	}
	return m.Get(key), nil
}

// SetRawKey stores a single singleton value in a raw map. With an
// autocommit buffer configured, the write is appended to that buffer
// instead of touching the backend immediately; otherwise it's a
// direct Put within this transaction.
func (tx *Tx) SetRawKey(mapName string, key, value []byte) error {
	if w := tx.h.store.autoCommit; w != nil {
		return w.Append(walRecord(mapName, key, value, false))
	}
	m, err := tx.RawMap(mapName)
	if err != nil {
		return err
	}
	if err := m.Put(key, value); err != nil {
		return backendErrf("put", err)
	}
	return nil
}

// DeleteRawKey removes a single singleton value from a raw map,
// buffered through the autocommit buffer if one is configured.
func (tx *Tx) DeleteRawKey(mapName string, key []byte) error {
	if w := tx.h.store.autoCommit; w != nil {
		return w.Append(walRecord(mapName, key, nil, true))
	}
	m, err := tx.RawMap(mapName)
	if err != nil {
		return err
	}
	if err := m.Delete(key); err != nil {
		return backendErrf("delete", err)
	}
	return nil
}

func walRecord(mapName string, key, value []byte, tombstone bool) wal.Record {
	return wal.Record{Map: mapName, Key: key, Value: value, Tombstone: tombstone}
}

// Memo caches f's result for the remainder of this transaction under
// key, following the teacher's Tx.Memo idiom: useful for a read that
// several Collection calls within one request would otherwise repeat.
func (tx *Tx) Memo(key string, f func() (any, error)) (any, error) {
	if v, ok := tx.memo[key]; ok {
		if e, ok := v.(error); ok {
			return nil, e
		}
		return v, nil
	}
	v, err := f()
	if tx.memo == nil {
		tx.memo = make(map[string]any)
	}
	if err != nil {
		tx.memo[key] = err
	} else {
		tx.memo[key] = v
	}
	return v, err
}

// View runs f against a fresh read-only Tx, rolling it back
// afterwards regardless of f's result.
func (s *Store) View(f func(tx *Tx) error) error {
	tx, err := s.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return safelyCall(f, tx)
}

// Update runs f against a fresh writable Tx, committing on a nil
// return and rolling back otherwise.
func (s *Store) Update(f func(tx *Tx) error) error {
	tx, err := s.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("docdb: panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
