package mdb

import "testing"

func TestCmpLexical(t *testing.T) {
	if CmpLexical([]byte("a"), []byte("b")) >= 0 {
		t.Fatal("a should sort before b")
	}
	if CmpLexical([]byte("abc"), []byte("abc")) != 0 {
		t.Fatal("equal byte slices should compare equal")
	}
}

func TestCmpReverse(t *testing.T) {
	// byte-reversed, "...01" < "...02"
	a := []byte{0x00, 0x00, 0x00, 0x01}
	b := []byte{0x00, 0x00, 0x00, 0x02}
	if CmpReverse(a, b) >= 0 {
		t.Fatalf("expected a < b under CmpReverse")
	}
	if CmpReverse(a, a) != 0 {
		t.Fatal("identical slices should compare equal under CmpReverse")
	}
}

func TestCmpForFlags(t *testing.T) {
	if fn := cmpForFlags(0, nil); fn == nil {
		t.Fatal("default comparator should not be nil")
	}
	custom := func(a, b []byte) int { return 0 }
	if fn := cmpForFlags(ReverseKey, custom); fn([]byte("x"), []byte("y")) != 0 {
		t.Fatal("user comparator should take priority over flags")
	}
	a, b := []byte{0, 0, 0, 1}, []byte{0, 0, 0, 2}
	if cmpForFlags(IntegerKey, nil)(a, b) != CmpReverse(a, b) {
		t.Fatal("INTEGERKEY on a little-endian host should use CmpReverse")
	}
}
