package idl

import (
	"reflect"
	"testing"
)

func TestInsertKeepsOrder(t *testing.T) {
	l := New()
	for _, id := range []ID{5, 1, 3, 1, 4} {
		l = l.Insert(id)
	}
	expect := List{1, 3, 4, 5}
	if !reflect.DeepEqual(l, expect) {
		t.Fatalf("expect %v, got %v", expect, l)
	}
}

func TestLastAndPopLast(t *testing.T) {
	l := List{1, 2, 3}
	id, ok := l.Last()
	if !ok || id != 3 {
		t.Fatalf("expect last 3, got %v ok=%v", id, ok)
	}
	l, id, ok = l.PopLast()
	if !ok || id != 3 || !reflect.DeepEqual(l, List{1, 2}) {
		t.Fatalf("pop last failed: %v %v %v", l, id, ok)
	}
}

func TestIsZero(t *testing.T) {
	if !New().IsZero() {
		t.Fatal("empty list should be zero")
	}
	if (List{1}).IsZero() {
		t.Fatal("non-empty list should not be zero")
	}
}

func TestEncodeDecodeContiguous(t *testing.T) {
	l := List{10, 11, 12, 13}
	buf := l.Encode()
	if len(buf) != l.SizeBytes() {
		t.Fatalf("SizeBytes mismatch: %d vs %d", len(buf), l.SizeBytes())
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, l) {
		t.Fatalf("round trip mismatch: expect %v got %v", l, got)
	}
}

func TestEncodeDecodeScattered(t *testing.T) {
	l := List{1, 3, 100, 4096}
	buf := l.Encode()
	if len(buf) != l.SizeBytes() {
		t.Fatalf("SizeBytes mismatch: %d vs %d", len(buf), l.SizeBytes())
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, l) {
		t.Fatalf("round trip mismatch: expect %v got %v", l, got)
	}
}

func TestMerge(t *testing.T) {
	a := List{1, 3, 5}
	b := List{2, 3, 4, 6}
	got := Merge(a, b)
	expect := List{1, 2, 3, 4, 5, 6}
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("expect %v got %v", expect, got)
	}
}
