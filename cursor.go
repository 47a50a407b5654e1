package docdb

// rangeCursor walks a single OrderedMap between two Key bounds. It
// never holds a live backend cursor across steps: every advance calls
// Higher/Lower with the previous key's byte value, which is what lets
// a concurrent delete of that exact key leave the walk well-defined
// (the teacher's RawRangeCursor instead held a stateful bbolt.Cursor
// and re-seeked on Next/Prev; OrderedMap's by-value neighbor lookups
// give the same walk without that statefulness).
type rangeCursor struct {
	m       OrderedMap
	lower   Key
	upper   Key
	lowerInc bool
	upperInc bool
	reverse bool

	started bool
	lastKey []byte
}

func newRangeCursor(m OrderedMap, lower, upper Key, lowerInc, upperInc, reverse bool) *rangeCursor {
	return &rangeCursor{m: m, lower: lower, upper: upper, lowerInc: lowerInc, upperInc: upperInc, reverse: reverse}
}

// advance returns the next (key, value) pair in the walk, or (nil,
// nil) once the range is exhausted.
func (c *rangeCursor) advance() ([]byte, []byte) {
	var k, v []byte
	if !c.started {
		c.started = true
		if c.reverse {
			k, v = c.resolveStart(c.upper, c.upperInc, true)
		} else {
			k, v = c.resolveStart(c.lower, c.lowerInc, false)
		}
	} else if c.reverse {
		k, v = c.m.Lower(c.lastKey)
	} else {
		k, v = c.m.Higher(c.lastKey)
	}
	if k == nil || !c.inBounds(k) {
		return nil, nil
	}
	c.lastKey = k
	return k, v
}

func (c *rangeCursor) resolveStart(bound Key, inclusive, forUpper bool) ([]byte, []byte) {
	if bound.IsSentinel() {
		if forUpper {
			return c.m.Last()
		}
		return c.m.First()
	}
	b := bound.Bytes()
	if forUpper {
		if inclusive {
			// The upper start is the largest physical key that is
			// either <= b or extends b as a prefix (spec.md §4.4):
			// a short prefix bound must admit every key it prefixes,
			// not just the one matching it exactly. succ is the
			// smallest key strictly greater than every key prefixed
			// by b, so Lower(succ) lands on exactly that key.
			if succ := prefixSuccessor(b); succ != nil {
				return c.m.Lower(succ)
			}
			return c.m.Last()
		}
		return c.m.Lower(b)
	}
	if inclusive {
		return c.m.Ceiling(b)
	}
	return c.m.Higher(b)
}

// prefixSuccessor returns the smallest byte string that compares
// greater than every string prefixed by p, or nil if p has no
// successor (p is empty, or every byte is already 0xFF).
func prefixSuccessor(p []byte) []byte {
	succ := make([]byte, len(p))
	copy(succ, p)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] != 0xFF {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}

func (c *rangeCursor) inBounds(k []byte) bool {
	key := KeyFromBytes(k)
	if !c.lower.IsSentinel() {
		cmp := key.Compare(c.lower)
		if cmp < 0 || (cmp == 0 && !c.lowerInc) {
			return false
		}
	}
	if !c.upper.IsSentinel() {
		cmp := key.Compare(c.upper)
		switch {
		case cmp == 0:
			if !c.upperInc {
				return false
			}
		case cmp > 0:
			// A key past an inclusive upper bound is still in range
			// if the bound is a prefix of it -- the advance rule
			// (spec.md §4.4) terminates only when neither holds. An
			// exclusive upper bound admits no key past it.
			if !c.upperInc || !c.upper.IsPrefixOf(key) {
				return false
			}
		}
	}
	return true
}

// dereferencer resolves an index entry (ik, iv) to the document bytes
// that entry denotes, or reports that the entry is stale (its primary
// key no longer exists) via ok=false. A primary-map cursor uses the
// identity dereferencer; a secondary-index cursor's dereferencer pulls
// the primary key out of the index entry and looks it up.
type dereferencer func(indexKey, indexValue []byte) (primaryKey, data []byte, ok bool)

func identityDeref(k, v []byte) ([]byte, []byte, bool) { return k, v, true }

// Cursor iterates matches of a Collection query: a bounded, optionally
// reversed walk of one ordered index, dereferenced to documents,
// skipped/strided/limited per spec. A stale index entry (the document
// it names was concurrently deleted) is skipped without being charged
// against Start or Count -- only entries that actually resolve to a
// document count as a match.
type Cursor struct {
	rc     *rangeCursor
	deref  dereferencer
	stride int
	start  int
	limit  int // -1 = unlimited

	seenStart bool
	matched   int // matches returned so far, post Start/Stride filtering
	skipped   int // raw matches seen so far, pre Start filtering, used for Start and Stride bookkeeping

	key, primaryKey, value []byte
	done                   bool
	err                    error

	// onClose releases the read transaction this cursor is walking
	// under. Called automatically once the walk is exhausted; callers
	// that abandon a Cursor early must call Close themselves.
	onClose func()
}

// CursorOptions configures a Cursor's windowing over its matches.
type CursorOptions struct {
	Start   int
	Count   int // <0 means unlimited
	Stride  int // must be >= 1
	Reverse bool
}

func newCursor(m OrderedMap, lower, upper Key, lowerInc, upperInc bool, deref dereferencer, opts CursorOptions) (*Cursor, error) {
	if opts.Stride < 1 {
		return nil, &BadStrideError{Stride: opts.Stride}
	}
	if deref == nil {
		deref = identityDeref
	}
	limit := opts.Count
	if limit < 0 {
		limit = -1
	}
	return &Cursor{
		rc:     newRangeCursor(m, lower, upper, lowerInc, upperInc, opts.Reverse),
		deref:  deref,
		stride: opts.Stride,
		start:  opts.Start,
		limit:  limit,
	}, nil
}

// NewRawCursor builds a Cursor directly over any OrderedMap, with no
// primary-key indirection -- for callers walking a raw map (see
// Tx.RawMap) below the Collection/Codec layer, where Key() and
// Value() are already the map's own bytes.
func NewRawCursor(m OrderedMap, lower, upper Key, lowerInc, upperInc bool, opts CursorOptions) (*Cursor, error) {
	return newCursor(m, lower, upper, lowerInc, upperInc, identityDeref, opts)
}

// Next advances the cursor. It returns false once the range is
// exhausted or the Count limit has been reached; callers should check
// Err afterwards to distinguish exhaustion from a backend failure.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	if c.limit >= 0 && c.matched >= c.limit {
		c.Close()
		return false
	}
	for {
		ik, iv := c.rc.advance()
		if ik == nil {
			c.Close()
			return false
		}
		pk, data, ok := c.deref(ik, iv)
		if !ok {
			continue // stale index entry, doesn't count against Start/Stride/Count
		}
		pos := c.skipped
		c.skipped++
		if pos < c.start {
			continue
		}
		if (pos-c.start)%c.stride != 0 {
			continue
		}
		c.key, c.primaryKey, c.value = ik, pk, data
		c.matched++
		return true
	}
}

// Key returns the current match's index key.
func (c *Cursor) Key() []byte { return c.key }

// PrimaryKey returns the current match's primary key (equal to Key
// when iterating the primary map directly).
func (c *Cursor) PrimaryKey() []byte { return c.primaryKey }

// Value returns the current match's raw document bytes.
func (c *Cursor) Value() []byte { return c.value }

// Err returns the first backend error encountered, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the read transaction backing this cursor. Safe to
// call more than once; called automatically once Next exhausts the
// walk, so only early abandonment needs an explicit call.
func (c *Cursor) Close() {
	c.done = true
	if c.onClose != nil {
		c.onClose()
		c.onClose = nil
	}
}
