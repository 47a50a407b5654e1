package docdb

// Counter counts matches of a bounded range without dereferencing
// them to documents: no Start/Stride/Count windowing, no primary
// lookups, nothing but a walk that stops exactly where a Cursor's walk
// would stop. It exists so Collection.Count can report how many
// documents a query would touch without paying for decoding any of
// them.
type Counter struct {
	rc *rangeCursor
}

func newCounter(m OrderedMap, lower, upper Key, lowerInc, upperInc bool) *Counter {
	return &Counter{rc: newRangeCursor(m, lower, upper, lowerInc, upperInc, false)}
}

// Count walks the entire range and returns how many entries it holds.
func (c *Counter) Count() int {
	n := 0
	for {
		k, _ := c.rc.advance()
		if k == nil {
			return n
		}
		n++
	}
}
