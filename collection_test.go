package docdb

import (
	"fmt"
	"reflect"
	"sort"
	"testing"
)

// stringDoc is the toy record used throughout: a bare string, keyed by
// itself, optionally with a "prefixed" secondary index whose key is a
// caller-chosen prefix followed by the string.
type stringDoc string

type stringCodec struct {
	secondaryPrefix string // "" disables the secondary index
	unique          bool
}

func (c stringCodec) Encode(data any) ([]byte, error) {
	return []byte(data.(stringDoc)), nil
}

func (c stringCodec) Decode(raw []byte) (any, error) {
	return stringDoc(raw), nil
}

func (c stringCodec) Indexes() []IndexDef {
	idx := []IndexDef{
		{Name: "primary", Unique: true, KeyGen: func(data any) Key {
			return KeyFromBytes([]byte(data.(stringDoc)))
		}},
	}
	if c.secondaryPrefix != "" {
		prefix := c.secondaryPrefix
		idx = append(idx, IndexDef{Name: "prefixed", Unique: c.unique, KeyGen: func(data any) Key {
			s := string(data.(stringDoc))
			if c.unique && len(s) > 0 {
				// Key on the first rune only, so distinct primary keys
				// can still collide on this secondary index -- needed
				// to exercise a genuine unique-secondary violation
				// independent of the primary-key duplicate check.
				return ComposeKey(prefix + s[:1])
			}
			return ComposeKey(prefix + s)
		}})
	}
	return idx
}

func (c stringCodec) SpatialIndexes() []SpatialIndexDef { return nil }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func insertStrings(t *testing.T, c *Collection, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := c.Insert(stringDoc(fmt.Sprintf("String %d", i))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
}

func drainQuery(t *testing.T, c *Collection, idx string, lo, hi Key, loInc, hiInc bool, opts CursorOptions) []string {
	t.Helper()
	cur, err := c.Query(idx, lo, hi, loInc, hiInc, opts)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer cur.Close()
	var out []string
	for cur.Next() {
		out = append(out, string(cur.Value()))
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	return out
}

func TestCollectionConstructionErrors(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Collection("bad.name", stringCodec{}); err == nil {
		t.Fatal("expected BadNameError")
	} else if _, ok := err.(*BadNameError); !ok {
		t.Fatalf("expected *BadNameError, got %T: %v", err, err)
	}

	if _, err := s.Collection("noidx", noIndexCodec{}); err == nil {
		t.Fatal("expected NoIndexError")
	} else if _, ok := err.(*NoIndexError); !ok {
		t.Fatalf("expected *NoIndexError, got %T", err)
	}

	if _, err := s.Collection("nonuniq", nonUniquePrimaryCodec{}); err == nil {
		t.Fatal("expected NonUniquePrimaryError")
	} else if _, ok := err.(*NonUniquePrimaryError); !ok {
		t.Fatalf("expected *NonUniquePrimaryError, got %T", err)
	}

	if _, err := s.Collection("dupidx", dupIndexNameCodec{}); err == nil {
		t.Fatal("expected DuplicateIndexNameError")
	} else if _, ok := err.(*DuplicateIndexNameError); !ok {
		t.Fatalf("expected *DuplicateIndexNameError, got %T", err)
	}
}

type noIndexCodec struct{ stringCodec }

func (noIndexCodec) Indexes() []IndexDef { return nil }

type nonUniquePrimaryCodec struct{ stringCodec }

func (nonUniquePrimaryCodec) Indexes() []IndexDef {
	return []IndexDef{{Name: "primary", Unique: false, KeyGen: func(data any) Key {
		return KeyFromBytes([]byte(data.(stringDoc)))
	}}}
}

type dupIndexNameCodec struct{ stringCodec }

func (dupIndexNameCodec) Indexes() []IndexDef {
	kg := func(data any) Key { return KeyFromBytes([]byte(data.(stringDoc))) }
	return []IndexDef{
		{Name: "primary", Unique: true, KeyGen: kg},
		{Name: "primary", Unique: false, KeyGen: kg},
	}
}

func TestInsertDuplicatePrimaryFails(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("x")); err != nil {
		t.Fatal(err)
	}
	_, err = c.Insert(stringDoc("x"))
	dup, ok := err.(*DuplicateError)
	if !ok {
		t.Fatalf("expected *DuplicateError, got %T: %v", err, err)
	}
	if dup.Index != "primary" {
		t.Fatalf("expected duplicate on primary index, got %q", dup.Index)
	}

	// The failed second insert must leave the primary map holding
	// only the first document.
	n, err := c.Count("", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry after rejected duplicate, got %d", n)
	}
}

func TestInsertUniqueSecondaryViolation(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:", unique: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("apple")); err != nil {
		t.Fatal(err)
	}
	// Distinct primary key, same first rune, so this collides on the
	// unique secondary index while the primary index accepts it fine.
	_, err = c.Insert(stringDoc("avocado"))
	dup, ok := err.(*DuplicateError)
	if !ok {
		t.Fatalf("expected duplicate, got %T: %v", err, err)
	}
	if dup.Index != "prefixed" {
		t.Fatalf("expected duplicate on prefixed index, got %q", dup.Index)
	}
	// The rejected insert must not have left a primary-map entry behind.
	if _, err := c.Read([]byte("avocado")); err != ErrNoSuchElement {
		t.Fatalf("expected no trace of rejected insert, got err=%v", err)
	}
}

func TestUpdateMissingFallsThroughToInsert(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	pk, err := c.Update(stringDoc("missing"))
	if err != nil {
		t.Fatalf("Update on a missing key should insert, got err=%v", err)
	}
	if string(pk) != "missing" {
		t.Fatalf("expected primary key %q, got %q", "missing", pk)
	}
	if _, err := c.Read([]byte("missing")); err != nil {
		t.Fatalf("expected Update to have inserted the document, got err=%v", err)
	}
}

func TestDeleteIsNoopWhenMissing(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Delete([]byte("nope")); err != nil {
		t.Fatalf("delete of missing key should be a no-op, got %v", err)
	}
}

func TestInsertDeleteRoundtripLeavesNoTrace(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:", unique: false})
	if err != nil {
		t.Fatal(err)
	}
	pk, err := c.Insert(stringDoc("hello"))
	if err != nil {
		t.Fatal(err)
	}
	before, err := c.Count("", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if before != 1 {
		t.Fatalf("expected 1, got %d", before)
	}
	if err := c.Delete(pk); err != nil {
		t.Fatal(err)
	}
	after, err := c.Count("", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if after != 0 {
		t.Fatalf("expected 0 after delete, got %d", after)
	}
	secCount, err := c.Count("prefixed", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if secCount != 0 {
		t.Fatalf("expected secondary index empty after delete, got %d", secCount)
	}
}

func TestUpdateIdempotent(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:", unique: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(stringDoc("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(stringDoc("hello")); err != nil {
		t.Fatal(err)
	}
	n, err := c.Count("prefixed", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("repeated update should not duplicate secondary entries, got %d", n)
	}
}

func TestReadOrCreate(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	data, created, err := c.ReadOrCreate([]byte("x"), func() any { return stringDoc("x") })
	if err != nil {
		t.Fatal(err)
	}
	if !created || data.(stringDoc) != "x" {
		t.Fatalf("expected created=true data=x, got %v %v", created, data)
	}
	data, created, err = c.ReadOrCreate([]byte("x"), func() any {
		t.Fatal("default thunk should not run when key exists")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected created=false on second call")
	}
	if data.(stringDoc) != "x" {
		t.Fatalf("unexpected value: %v", data)
	}
}

// Concrete scenario 1 from the spec: String 0..10 sort lexicographically.
func TestDefaultIndexLexicographicOrder(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	insertStrings(t, c, 11)

	got := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})
	want := []string{
		"String 0", "String 1", "String 10", "String 2", "String 3",
		"String 4", "String 5", "String 6", "String 7", "String 8", "String 9",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v\nwant %v", got, want)
	}
}

// Concrete scenario 2: start=2, count=2, reverse=true.
func TestQueryStartCountReverse(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	insertStrings(t, c, 11)

	got := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Start: 2, Count: 2, Stride: 1, Reverse: true})
	want := []string{"String 7", "String 6"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v\nwant %v", got, want)
	}
}

func TestQueryConcurrentDeletionTerminatesAtBound(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	insertStrings(t, c, 10) // String 0..9

	hi := KeyFromBytes([]byte("String 7"))
	cur, err := c.Query("", Start, hi, true, true, CursorOptions{Count: -1, Stride: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	var got []string
	for i := 0; cur.Next(); i++ {
		got = append(got, string(cur.Value()))
		if i == 2 { // after pulling 3 elements, delete "String 7"
			if err := c.Delete([]byte("String 7")); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := cur.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 7 {
		t.Fatalf("expected 7 elements, got %d: %v", len(got), got)
	}
	if got[len(got)-1] != "String 6" {
		t.Fatalf("expected last element String 6, got %s", got[len(got)-1])
	}
}

func TestDeleteRange(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	insertStrings(t, c, 5) // String 0..4

	n, err := c.DeleteRange("", KeyFromBytes([]byte("String 1")), KeyFromBytes([]byte("String 3")), true, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	remaining, err := c.Count("", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", remaining)
	}
}

func TestUnknownIndexErrors(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Query("nope", Start, End, true, true, CursorOptions{Count: -1, Stride: 1}); err == nil {
		t.Fatal("expected UnknownIndexError")
	} else if _, ok := err.(*UnknownIndexError); !ok {
		t.Fatalf("expected *UnknownIndexError, got %T", err)
	}
	if _, err := c.Count("nope", Start, End, true, true); err == nil {
		t.Fatal("expected UnknownIndexError")
	} else if _, ok := err.(*UnknownIndexError); !ok {
		t.Fatalf("expected *UnknownIndexError, got %T", err)
	}
}

func TestSecondaryIndexMaintenanceInvariant(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:", unique: false})
	if err != nil {
		t.Fatal(err)
	}
	var inserted []string
	for i := 0; i < 20; i++ {
		v := fmt.Sprintf("doc-%02d", i)
		inserted = append(inserted, v)
		if _, err := c.Insert(stringDoc(v)); err != nil {
			t.Fatal(err)
		}
	}
	// Delete every third element.
	for i := 0; i < len(inserted); i += 3 {
		if err := c.Delete([]byte(inserted[i])); err != nil {
			t.Fatal(err)
		}
	}

	primaryN, err := c.Count("", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	secondaryN, err := c.Count("prefixed", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if primaryN != secondaryN {
		t.Fatalf("primary (%d) and secondary (%d) counts diverged", primaryN, secondaryN)
	}

	got := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})
	sort.Strings(got)
	var want []string
	for i, v := range inserted {
		if i%3 != 0 {
			want = append(want, v)
		}
	}
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("surviving documents mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestReconcileRepairsMissingSecondary(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:", unique: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("b")); err != nil {
		t.Fatal(err)
	}
	// Simulate a lost secondary write by dropping the whole index map.
	if err := s.DeleteMap("docs.prefixed"); err != nil {
		t.Fatal(err)
	}
	repaired, err := c.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	if repaired != 2 {
		t.Fatalf("expected 2 repaired entries, got %d", repaired)
	}
	n, err := c.Count("prefixed", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected secondary rebuilt to 2 entries, got %d", n)
	}
}

func TestCollectionStatsReportsEveryMap(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:"})
	if err != nil {
		t.Fatal(err)
	}
	insertStrings(t, c, 3)

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	primary, ok := stats["docs"]
	if !ok {
		t.Fatalf("Stats() = %v, missing primary map entry", stats)
	}
	if primary.KeyN != 3 {
		t.Fatalf("primary KeyN = %d, wanted 3", primary.KeyN)
	}
	secondary, ok := stats["docs.prefixed"]
	if !ok {
		t.Fatalf("Stats() = %v, missing secondary map entry", stats)
	}
	if secondary.KeyN != 3 {
		t.Fatalf("secondary KeyN = %d, wanted 3", secondary.KeyN)
	}
}

func TestRebuildDropsOrphanedSecondaryEntries(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{secondaryPrefix: "k:", unique: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("b")); err != nil {
		t.Fatal(err)
	}

	// Hand-plant a stale secondary entry Reconcile would leave behind
	// (it only adds missing entries, never removes orphans) to verify
	// Rebuild actually starts the index over rather than patching it.
	if err := s.Update(func(tx *Tx) error {
		m, err := tx.RawMap("docs.prefixed")
		if err != nil {
			return err
		}
		return m.Put(ComposeKey("k:z").Bytes(), []byte("ghost"))
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.Rebuild(); err != nil {
		t.Fatal(err)
	}
	n, err := c.Count("prefixed", Start, End, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected rebuilt secondary to hold exactly 2 entries, got %d", n)
	}
	got := drainQuery(t, c, "prefixed", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})
	want := []string{"a", "b"}
	sort.Strings(got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rebuilt secondary contents = %v, wanted %v", got, want)
	}
}
