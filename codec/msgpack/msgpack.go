// Package msgpack is a convenience docdb.Codec built on
// github.com/vmihailenco/msgpack/v5 for callers who just want their Go
// struct serialized without hand-writing an Encode/Decode pair.
package msgpack

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kvdoc/docdb"
)

// Codec implements docdb.Codec by msgpack-marshaling values of type T
// and letting the caller supply the index definitions directly, the
// same way a hand-written Codec would -- this only takes the wire
// format off the caller's plate, not the index declarations.
type Codec[T any] struct {
	indexes []docdb.IndexDef
	spatial []docdb.SpatialIndexDef
}

// New returns a Codec for T with the given ordered indices (the first
// must be Unique) and spatial indices.
func New[T any](indexes []docdb.IndexDef, spatial []docdb.SpatialIndexDef) *Codec[T] {
	return &Codec[T]{indexes: indexes, spatial: spatial}
}

func (c *Codec[T]) Encode(data any) ([]byte, error) {
	return msgpack.Marshal(data)
}

func (c *Codec[T]) Decode(raw []byte) (any, error) {
	var v T
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Codec[T]) Indexes() []docdb.IndexDef { return c.indexes }

func (c *Codec[T]) SpatialIndexes() []docdb.SpatialIndexDef { return c.spatial }
