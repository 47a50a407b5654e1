package docdb

// Codec is supplied by the caller when opening a Collection. It owns
// the document's wire representation and the set of indices a
// Collection maintains -- there is deliberately no reflection-driven
// schema inference here; the caller names its own indices and writes
// its own key-extraction functions.
type Codec interface {
	// Encode serializes data to its stored byte representation.
	Encode(data any) ([]byte, error)

	// Decode deserializes stored bytes back into the caller's type.
	Decode(raw []byte) (any, error)

	// Indexes lists the ordered indices a Collection maintains, most
	// significant first. The first entry is the primary index and
	// must be Unique.
	Indexes() []IndexDef

	// SpatialIndexes lists the spatial indices a Collection
	// maintains, if any.
	SpatialIndexes() []SpatialIndexDef
}

// IndexDef names one ordered (lexicographically sorted) index and the
// function that derives its key from a decoded document.
type IndexDef struct {
	// Name identifies the index; it becomes part of the backend map
	// name "<collection>.<Name>" for every index but the primary one.
	Name string

	// Unique marks an index whose key never repeats across documents.
	// The primary index must be Unique.
	Unique bool

	// KeyGen derives this index's key from a decoded document. Called
	// with the same value Codec.Decode would produce.
	KeyGen func(data any) Key
}

// SpatialIndexDef names one spatial index and the function that
// derives its bounding rectangle from a decoded document.
type SpatialIndexDef struct {
	Name    string
	BoundsOf func(data any) Rect
}
