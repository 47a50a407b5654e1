package docdb

import (
	"encoding/binary"
	"math"
)

// Rect is an axis-aligned bounding rectangle in two dimensions. Spatial
// indices store one Rect per document and answer ContainedBy queries
// by exact rectangle containment, not by a tree-structured spatial
// index -- no R-tree or similar library turned up anywhere in the
// retrieved corpus (see DESIGN.md), so this is a linear scan of the
// whole spatial map per query, which is enough for the modest
// Collection sizes this is built for.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether r and other share any area.
func (r Rect) Intersects(other Rect) bool {
	return r.MinX <= other.MaxX && r.MaxX >= other.MinX &&
		r.MinY <= other.MaxY && r.MaxY >= other.MinY
}

// Contains reports whether other lies entirely within r.
func (r Rect) Contains(other Rect) bool {
	return other.MinX >= r.MinX && other.MaxX <= r.MaxX &&
		other.MinY >= r.MinY && other.MaxY <= r.MaxY
}

// cellKey maps a rectangle's center to a coarse Hilbert-curve cell so
// that spatially nearby rectangles land near each other in the
// backing OrderedMap's key order. containedBy does not use this
// ordering to narrow its scan; it reads every entry.
func cellKey(r Rect) uint64 {
	cx := (r.MinX + r.MaxX) / 2
	cy := (r.MinY + r.MaxY) / 2
	return hilbertD2XY(scaleCoord(cx), scaleCoord(cy))
}

const cellBits = 16 // per axis
const cellScale = float64(int64(1) << (cellBits - 1))

func scaleCoord(v float64) uint32 {
	// Fold an arbitrary float onto the [0, 2^cellBits) grid used for
	// the Hilbert curve; values are clamped rather than wrapped so a
	// wildly out-of-range coordinate degrades to a border cell instead
	// of aliasing onto an unrelated one.
	scaled := (v + cellScale) / (2 * cellScale) * float64(uint32(1)<<cellBits)
	if scaled < 0 {
		scaled = 0
	}
	max := float64(uint32(1)<<cellBits - 1)
	if scaled > max {
		scaled = max
	}
	return uint32(scaled)
}

// hilbertD2XY computes the Hilbert curve distance for grid coordinates
// x, y on a 2^cellBits square, interleaving them into a single sortable
// integer.
func hilbertD2XY(x, y uint32) uint64 {
	var rx, ry uint32
	var d uint64
	for s := uint32(1) << (cellBits - 1); s > 0; s >>= 1 {
		if x&s > 0 {
			rx = 1
		} else {
			rx = 0
		}
		if y&s > 0 {
			ry = 1
		} else {
			ry = 0
		}
		d += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		// rotate
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}

// spatialIndex is the Collection-level wrapper around one
// SpatialIndexDef's backing OrderedMap: keys are cellKey(rect) followed
// by the primary key, and values carry the primary key plus the exact
// rectangle, so ContainedBy never needs a second lookup to check exact
// containment past the coarse cell the key sorts by.
type spatialIndex struct {
	name     string
	m        OrderedMap
	boundsOf func(data any) Rect
}

func spatialEntryKey(rect Rect, primaryKey []byte) Key {
	return NewKeyBuilder().Int64(int64(cellKey(rect))).Bytes(primaryKey).Key()
}

func encodeSpatialValue(primaryKey []byte, r Rect) []byte {
	buf := appendVarbytes(nil, primaryKey)
	buf = appendFloat64(buf, r.MinX)
	buf = appendFloat64(buf, r.MinY)
	buf = appendFloat64(buf, r.MaxX)
	buf = appendFloat64(buf, r.MaxY)
	return buf
}

func decodeSpatialValue(raw []byte) (primaryKey []byte, r Rect, err error) {
	d := makeByteDecoder(raw)
	primaryKey, err = d.VarBytes()
	if err != nil {
		return nil, Rect{}, err
	}
	var vals [4]float64
	for i := range vals {
		var bits []byte
		bits, err = d.Raw(8)
		if err != nil {
			return nil, Rect{}, err
		}
		vals[i] = math.Float64frombits(binary.BigEndian.Uint64(bits))
	}
	return primaryKey, Rect{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

func appendFloat64(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	return appendRaw(buf, tmp[:])
}

// containedBy scans every entry in the spatial map and returns the
// primary keys of documents whose rectangle lies entirely within
// query. The cost is one pass over the whole map whatever the size of
// query.
func (si *spatialIndex) containedBy(query Rect) ([][]byte, error) {
	var out [][]byte
	rc := newRangeCursor(si.m, Start, End, true, true, false)
	for {
		_, v := rc.advance()
		if v == nil {
			break
		}
		pk, r, err := decodeSpatialValue(v)
		if err != nil {
			return nil, err
		}
		if query.Contains(r) {
			out = append(out, pk)
		}
	}
	return out, nil
}

func (si *spatialIndex) insert(primaryKey []byte, r Rect) error {
	return si.m.Put(spatialEntryKey(r, primaryKey).Bytes(), encodeSpatialValue(primaryKey, r))
}

func (si *spatialIndex) remove(primaryKey []byte, r Rect) error {
	return si.m.Delete(spatialEntryKey(r, primaryKey).Bytes())
}
