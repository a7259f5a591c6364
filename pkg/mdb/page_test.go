package mdb

import (
	"testing"

	fuzz "github.com/google/gofuzz"
)

var fz = fuzz.New()

func randomKV(n int) map[string]string {
	kvs := map[string]string{}
	for len(kvs) < n {
		var key, value string
		fz.Fuzz(&key)
		fz.Fuzz(&value)
		if key == "" {
			continue
		}
		kvs[key] = value
	}
	return kvs
}

func randomLeafNodes(kvs map[string]string) []decodedNode {
	nodes := make([]decodedNode, 0, len(kvs))
	for k, v := range kvs {
		nodes = append(nodes, decodedNode{key: []byte(k), dataSize: len(v), data: []byte(v)})
	}
	return nodes
}

func TestEncodeDecodeLeafRoundTrip(t *testing.T) {
	kvs := randomKV(50)
	nodes := randomLeafNodes(kvs)

	p := newPage(defaultPageSize, 1)
	p.setPgno(7)
	if !encodeNodes(p, true, nodes) {
		t.Fatalf("encodeNodes failed for %d small nodes", len(nodes))
	}
	if p.pgno() != 7 {
		t.Fatalf("pgno clobbered by encodeNodes: got %d", p.pgno())
	}

	got := decodeNodes(p)
	if len(got) != len(nodes) {
		t.Fatalf("node count mismatch: got %d want %d", len(got), len(nodes))
	}
	for i, nd := range got {
		want := kvs[string(nd.key)]
		if want != string(nd.data) {
			t.Fatalf("node %d: key %q got value %q want %q", i, nd.key, nd.data, want)
		}
	}
}

func TestEncodeNodesReportsOverflow(t *testing.T) {
	p := newPage(256, 1)
	nodes := []decodedNode{
		{key: []byte("k1"), data: make([]byte, 200)},
		{key: []byte("k2"), data: make([]byte, 200)},
	}
	if encodeNodes(p, true, nodes) {
		t.Fatalf("expected encodeNodes to reject content that doesn't fit a 256-byte page")
	}
}

func TestBranchNodeRoundTrip(t *testing.T) {
	p := newPage(defaultPageSize, 1)
	nodes := []decodedNode{
		{key: nil, childPgno: 10},
		{key: []byte("m"), childPgno: 11},
		{key: []byte("z"), childPgno: 12},
	}
	if !encodeNodes(p, false, nodes) {
		t.Fatal("encodeNodes failed for branch page")
	}
	got := decodeNodes(p)
	if len(got) != 3 || got[1].childPgno != 11 || got[2].childPgno != 12 {
		t.Fatalf("branch round-trip mismatch: %+v", got)
	}
}

func TestOverflowCountAliasesHeader(t *testing.T) {
	p := newPage(defaultPageSize, 3)
	p.addFlag(PageOverflow)
	p.setOverflowCount(2)
	if got := p.overflowCount(); got != 2 {
		t.Fatalf("overflowCount() = %d, want 2", got)
	}
}

func TestFillRatio(t *testing.T) {
	p := newPage(defaultPageSize, 1)
	nodes := []decodedNode{{key: []byte("a"), data: make([]byte, 100)}}
	encodeNodes(p, true, nodes)
	r := fillRatio(p)
	if r <= 0 || r >= 1 {
		t.Fatalf("fillRatio out of range: %f", r)
	}
}
