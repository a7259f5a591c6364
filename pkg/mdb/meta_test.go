package mdb

import "testing"

func TestDBDescRoundTrip(t *testing.T) {
	d := DBDesc{Pad: 4096, Flags: uint16(IntegerKey), Depth: 3, BranchPages: 5, LeafPages: 9, Entries: 123, Root: 42}
	buf := make([]byte, dbDescSize)
	d.encode(buf)
	got := decodeDBDesc(buf)
	if got != d {
		t.Fatalf("DBDesc round trip mismatch: got %+v want %+v", got, d)
	}
}

func TestDBDescIsEmpty(t *testing.T) {
	d := DBDesc{Root: invalidPgno}
	if !d.isEmpty() {
		t.Fatal("expected DBDesc with invalidPgno root to be empty")
	}
	d.Root = 0
	if d.isEmpty() {
		t.Fatal("root 0 is a valid page, should not read as empty")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	m := Meta{
		Magic:   Magic,
		Version: Version,
		DBs:     [2]DBDesc{{Pad: 4096, Root: invalidPgno}, {Root: 5}},
		LastPgno: 99,
		Txnid:    7,
	}
	p := newPage(defaultPageSize, 1)
	writeMeta(p, &m)

	got, err := readMeta(p)
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	if got.Txnid != m.Txnid || got.LastPgno != m.LastPgno || got.DBs[1].Root != 5 {
		t.Fatalf("meta round trip mismatch: %+v", got)
	}
}

func TestReadMetaRejectsBadMagic(t *testing.T) {
	p := newPage(defaultPageSize, 1)
	m := Meta{Magic: 0xdeadbeef, Version: Version}
	writeMeta(p, &m)
	if _, err := readMeta(p); err != ErrVersionMismatch {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestEncodeMutableTailPreservesHeader(t *testing.T) {
	m := Meta{Magic: Magic, Version: Version, DBs: [2]DBDesc{{Pad: 4096}, {}}, Txnid: 1}
	p := newPage(defaultPageSize, 1)
	writeMeta(p, &m)

	m.Txnid = 2
	m.DBs[1].Entries = 10
	writeMetaMutableTail(p, &m)

	got, err := readMeta(p)
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	if got.Txnid != 2 || got.DBs[1].Entries != 10 {
		t.Fatalf("mutable tail write didn't apply: %+v", got)
	}
	if got.DBs[0].Pad != 4096 {
		t.Fatalf("mutable tail write clobbered the fixed header: %+v", got)
	}
}

func TestChooseMetaPicksHigherTxnid(t *testing.T) {
	m0 := Meta{Txnid: 5}
	m1 := Meta{Txnid: 9}
	chosen, toggle, err := chooseMeta(m0, m1, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if toggle != 1 || chosen.Txnid != 9 {
		t.Fatalf("expected toggle 1 / txnid 9, got toggle=%d txnid=%d", toggle, chosen.Txnid)
	}
}

func TestChooseMetaFallsBackToValidOne(t *testing.T) {
	m0 := Meta{Txnid: 5}
	_, toggle, err := chooseMeta(m0, Meta{}, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if toggle != 0 {
		t.Fatalf("expected toggle 0, got %d", toggle)
	}
}

func TestChooseMetaErrorsWhenNeitherValid(t *testing.T) {
	if _, _, err := chooseMeta(Meta{}, Meta{}, false, false); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
