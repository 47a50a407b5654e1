package docdb

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/tidwall/btree"
)

// memBackend is the in-memory KVBackend used by tests and by callers
// who want a disposable store. Each named map is a
// github.com/tidwall/btree.BTreeG, copy-on-write cloned at the start
// of every transaction so that concurrent readers never observe a
// writer's half-finished mutation -- the same snapshot-isolation
// contract boltBackend gets for free from Bolt's MVCC pages.
type memBackend struct {
	mu      sync.Mutex
	cond    *sync.Cond
	maps    map[string]*btree.BTreeG[memKV]
	closed  bool
	writer  bool
}

func newMemBackend() KVBackend {
	s := &memBackend{maps: make(map[string]*btree.BTreeG[memKV])}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memBackend) Begin(writable bool) (BackendTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("docdb: backend closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("docdb: backend closed")
		}
		s.writer = true
	}

	snap := make(map[string]*btree.BTreeG[memKV], len(s.maps))
	for name, t := range s.maps {
		snap[name] = t.Copy()
	}
	return &memTx{writable: writable, base: s, maps: snap}, nil
}

func (s *memBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.maps = nil
	s.cond.Broadcast()
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

func memKVLess(a, b memKV) bool { return bytes.Compare(a.key, b.key) < 0 }

type memTx struct {
	base     *memBackend
	writable bool
	maps     map[string]*btree.BTreeG[memKV]
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Map(name string) OrderedMap {
	if tx.closed {
		panic("docdb: transaction is closed")
	}
	t := tx.maps[name]
	if t == nil {
		return nil
	}
	return memMap{tx: tx, t: t}
}

func (tx *memTx) CreateMapIfNotExists(name string) (OrderedMap, error) {
	if tx.closed {
		panic("docdb: transaction is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("docdb: transaction not writable")
	}
	t := tx.maps[name]
	if t == nil {
		t = btree.NewBTreeG(memKVLess)
		tx.maps[name] = t
	}
	return memMap{tx: tx, t: t}, nil
}

func (tx *memTx) DeleteMap(name string) error {
	if tx.closed {
		panic("docdb: transaction is closed")
	}
	if !tx.writable {
		return fmt.Errorf("docdb: transaction not writable")
	}
	if tx.maps[name] == nil {
		return ErrMapNotFound
	}
	delete(tx.maps, name)
	return nil
}

func (tx *memTx) Maps() []string {
	names := make([]string, 0, len(tx.maps))
	for name := range tx.maps {
		names = append(names, name)
	}
	return names
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("docdb: transaction not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("docdb: backend closed")
	}
	tx.base.maps = tx.maps
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

// memMap adapts a BTreeG[memKV] to OrderedMap.
type memMap struct {
	tx *memTx
	t  *btree.BTreeG[memKV]
}

func (m memMap) Get(key []byte) []byte {
	kv, ok := m.t.Get(memKV{key: key})
	if !ok {
		return nil
	}
	return kv.value
}

func (m memMap) Put(key, value []byte) error {
	if !m.tx.writable {
		return fmt.Errorf("docdb: transaction not writable")
	}
	m.t.Set(memKV{key: cloneBytes(key), value: cloneBytes(value)})
	return nil
}

func (m memMap) Delete(key []byte) error {
	if !m.tx.writable {
		return fmt.Errorf("docdb: transaction not writable")
	}
	m.t.Delete(memKV{key: key})
	return nil
}

func (m memMap) First() ([]byte, []byte) {
	kv, ok := m.t.Min()
	if !ok {
		return nil, nil
	}
	return kv.key, kv.value
}

func (m memMap) Last() ([]byte, []byte) {
	kv, ok := m.t.Max()
	if !ok {
		return nil, nil
	}
	return kv.key, kv.value
}

func (m memMap) Ceiling(key []byte) ([]byte, []byte) {
	var out memKV
	found := false
	m.t.Ascend(memKV{key: key}, func(item memKV) bool {
		out, found = item, true
		return false
	})
	if !found {
		return nil, nil
	}
	return out.key, out.value
}

func (m memMap) Floor(key []byte) ([]byte, []byte) {
	var out memKV
	found := false
	m.t.Descend(memKV{key: key}, func(item memKV) bool {
		out, found = item, true
		return false
	})
	if !found {
		return nil, nil
	}
	return out.key, out.value
}

func (m memMap) Higher(key []byte) ([]byte, []byte) {
	var out memKV
	found := false
	m.t.Ascend(memKV{key: key}, func(item memKV) bool {
		if bytes.Equal(item.key, key) {
			return true
		}
		out, found = item, true
		return false
	})
	if !found {
		return nil, nil
	}
	return out.key, out.value
}

func (m memMap) Lower(key []byte) ([]byte, []byte) {
	var out memKV
	found := false
	m.t.Descend(memKV{key: key}, func(item memKV) bool {
		if bytes.Equal(item.key, key) {
			return true
		}
		out, found = item, true
		return false
	})
	if !found {
		return nil, nil
	}
	return out.key, out.value
}

func (m memMap) Stats() MapStats {
	var inuse int64
	m.t.Scan(func(item memKV) bool {
		inuse += int64(len(item.key) + len(item.value))
		return true
	})
	return MapStats{KeyN: m.t.Len(), LeafInuse: inuse, LeafAlloc: inuse}
}

func (m memMap) Count() int { return m.t.Len() }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
