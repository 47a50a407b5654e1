package docdb

import (
	"bytes"
	"unsafe"

	"go.etcd.io/bbolt"
)

// boltBackend is the on-disk KVBackend, a thin adaptation of *bbolt.DB.
// Every named OrderedMap is a flat top-level Bolt bucket keyed by its
// full dotted name ("orders.byEmail"); Bolt bucket names are arbitrary
// byte strings, so this needs no nesting.
type boltBackend struct {
	bdb *bbolt.DB
}

func newBoltBackend(bdb *bbolt.DB) KVBackend {
	return &boltBackend{bdb: bdb}
}

func (s *boltBackend) Begin(writable bool) (BackendTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltBackend) Close() error { return s.bdb.Close() }

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) BoltTx() *bbolt.Tx { return tx.btx }

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Map(name string) OrderedMap {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil
	}
	return boltMap{b: b}
}

func (tx *boltTx) CreateMapIfNotExists(name string) (OrderedMap, error) {
	b, err := tx.btx.CreateBucketIfNotExists(unsafeBytesFromString(name))
	if err != nil {
		return nil, err
	}
	return boltMap{b: b}, nil
}

func (tx *boltTx) DeleteMap(name string) error {
	err := tx.btx.DeleteBucket(unsafeBytesFromString(name))
	if err == bbolt.ErrBucketNotFound {
		return ErrMapNotFound
	}
	return err
}

func (tx *boltTx) Maps() []string {
	var names []string
	_ = tx.btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		names = append(names, string(name))
		return nil
	})
	return names
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

func (tx *boltTx) Size() int64 { return tx.btx.Size() }

// boltMap adapts a *bbolt.Bucket to OrderedMap. Every neighbor lookup
// opens a fresh cursor and re-seeks by key value rather than holding a
// live cursor across calls, so a Delete between two lookups can never
// leave a lookup pointing at a stale position (spec.md §4.4.1).
type boltMap struct {
	b *bbolt.Bucket
}

func (m boltMap) Get(key []byte) []byte { return m.b.Get(key) }

func (m boltMap) Put(key, value []byte) error { return m.b.Put(key, value) }

func (m boltMap) Delete(key []byte) error { return m.b.Delete(key) }

func (m boltMap) First() ([]byte, []byte) { return m.b.Cursor().First() }

func (m boltMap) Last() ([]byte, []byte) { return m.b.Cursor().Last() }

func (m boltMap) Ceiling(key []byte) ([]byte, []byte) {
	return m.b.Cursor().Seek(key)
}

func (m boltMap) Floor(key []byte) ([]byte, []byte) {
	c := m.b.Cursor()
	k, v := c.Seek(key)
	if k != nil && bytes.Equal(k, key) {
		return k, v
	}
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

func (m boltMap) Higher(key []byte) ([]byte, []byte) {
	c := m.b.Cursor()
	k, v := c.Seek(key)
	if k == nil {
		return nil, nil
	}
	if bytes.Equal(k, key) {
		return c.Next()
	}
	return k, v
}

func (m boltMap) Lower(key []byte) ([]byte, []byte) {
	c := m.b.Cursor()
	k, _ := c.Seek(key)
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

func (m boltMap) Stats() MapStats {
	s := m.b.Stats()
	return MapStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

func (m boltMap) Count() int { return m.b.Stats().KeyN }

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
