package docdb

import (
	"fmt"
	"sort"
	"testing"
)

// pointDoc is a labeled point used to exercise spatial indexing; its
// primary key is its label.
type pointDoc struct {
	label      string
	x, y       float64
}

type pointCodec struct{}

func (pointCodec) Encode(data any) ([]byte, error) {
	p := data.(pointDoc)
	return []byte(fmt.Sprintf("%s|%g|%g", p.label, p.x, p.y)), nil
}

func (pointCodec) Decode(raw []byte) (any, error) {
	parts := splitPipe(string(raw))
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed point record %q", raw)
	}
	return pointDoc{label: parts[0], x: parseFloat(parts[1]), y: parseFloat(parts[2])}, nil
}

func splitPipe(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '|' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}

func parseFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%g", &f)
	return f
}

func (pointCodec) Indexes() []IndexDef {
	return []IndexDef{
		{Name: "primary", Unique: true, KeyGen: func(data any) Key {
			return ComposeKey(data.(pointDoc).label)
		}},
	}
}

func (pointCodec) SpatialIndexes() []SpatialIndexDef {
	return []SpatialIndexDef{
		{Name: "location", BoundsOf: func(data any) Rect {
			p := data.(pointDoc)
			return Rect{MinX: p.x, MinY: p.y, MaxX: p.x, MaxY: p.y}
		}},
	}
}

func TestContainedByFindsPointsInsideQueryRect(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("places", pointCodec{})
	if err != nil {
		t.Fatal(err)
	}
	points := []pointDoc{
		{"a", 1, 1},
		{"b", 5, 5},
		{"c", 50, 50},
		{"d", -1, -1},
	}
	for _, p := range points {
		if _, err := c.Insert(p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.ContainedBy("location", Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10})
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, d := range got {
		labels = append(labels, d.(pointDoc).label)
	}
	sort.Strings(labels)
	want := []string{"a", "b"}
	if len(labels) != len(want) || labels[0] != want[0] || labels[1] != want[1] {
		t.Fatalf("got %v want %v", labels, want)
	}
}

func TestContainedByUpdatesOnMove(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("places", pointCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(pointDoc{"a", 1, 1}); err != nil {
		t.Fatal(err)
	}
	inBox := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	got, err := c.ContainedBy("location", inBox)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 point in box, got %d", len(got))
	}

	if _, err := c.Update(pointDoc{"a", 100, 100}); err != nil {
		t.Fatal(err)
	}
	got, err = c.ContainedBy("location", inBox)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 points in box after move, got %d", len(got))
	}
}

func TestContainedByUnknownIndex(t *testing.T) {
	s := openTestStore(t)
	c, err := s.Collection("places", pointCodec{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ContainedBy("nope", Rect{})
	if _, ok := err.(*UnknownIndexError); !ok {
		t.Fatalf("expected *UnknownIndexError, got %T: %v", err, err)
	}
}

func TestRectContainsAndIntersects(t *testing.T) {
	outer := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	inner := Rect{MinX: 2, MinY: 2, MaxX: 5, MaxY: 5}
	outside := Rect{MinX: 20, MinY: 20, MaxX: 30, MaxY: 30}
	overlap := Rect{MinX: 8, MinY: 8, MaxX: 15, MaxY: 15}

	if !outer.Contains(inner) {
		t.Fatal("outer should contain inner")
	}
	if outer.Contains(outside) {
		t.Fatal("outer should not contain a disjoint rect")
	}
	if !outer.Intersects(overlap) {
		t.Fatal("outer should intersect overlap")
	}
	if outer.Intersects(outside) {
		t.Fatal("outer should not intersect a disjoint rect")
	}
}
