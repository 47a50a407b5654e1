package docdb

import (
	"fmt"
	"reflect"
	"testing"
)

func TestCursorBadStride(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Query("", Start, End, true, true, CursorOptions{Count: -1, Stride: 0})
	if _, ok := err.(*BadStrideError); !ok {
		t.Fatalf("expected *BadStrideError, got %T: %v", err, err)
	}
}

func TestCursorStride(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := c.Insert(stringDoc(fmt.Sprintf("k%02d", i))); err != nil {
			t.Fatal(err)
		}
	}
	got := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Count: -1, Stride: 3})
	want := []string{"k00", "k03", "k06", "k09"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestCursorReverseEqualsForwardReversed(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 9; i++ {
		if _, err := c.Insert(stringDoc(fmt.Sprintf("k%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	forward := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})
	reverse := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Count: -1, Stride: 1, Reverse: true})

	reversedForward := make([]string, len(forward))
	for i, v := range forward {
		reversedForward[len(forward)-1-i] = v
	}
	if !reflect.DeepEqual(reverse, reversedForward) {
		t.Fatalf("reverse scan %v does not equal forward scan reversed %v", reverse, reversedForward)
	}
}

func TestCursorNextFalseAfterExhaustion(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(stringDoc("only")); err != nil {
		t.Fatal(err)
	}
	cur, err := c.Query("", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Next() {
		t.Fatal("expected one element")
	}
	if cur.Next() {
		t.Fatal("expected exhaustion")
	}
	if cur.Next() {
		t.Fatal("Next should keep returning false once exhausted")
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCursorEmptyRange(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	cur, err := c.Query("", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})
	if err != nil {
		t.Fatal(err)
	}
	if cur.Next() {
		t.Fatal("expected no elements in an empty collection")
	}
}

func TestCursorWindowMatchesFullScanSlice(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("docs", stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if _, err := c.Insert(stringDoc(fmt.Sprintf("k%02d", i))); err != nil {
			t.Fatal(err)
		}
	}
	full := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Count: -1, Stride: 1})

	start, count := 5, 7
	windowed := drainQuery(t, c, "", Start, End, true, true, CursorOptions{Start: start, Count: count, Stride: 1})
	want := full[start : start+count]
	if !reflect.DeepEqual(windowed, want) {
		t.Fatalf("windowed scan %v != expected slice %v", windowed, want)
	}
}
