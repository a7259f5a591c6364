package mdb

import (
	"encoding/binary"
	"os"
)

// pgid is a page number: a page's file offset divided by the page size.
type pgid uint64

// txnid is a transaction identifier. Meta.txnid and reader-slot txnid
// both use this type; it only ever increases.
type txnid uint64

// pageHeaderSize is the fixed 16-byte header shared by every page:
// {pgno u64, flags u32, lower u16, upper u16}. Overflow pages reuse the
// lower/upper bytes to store a u32 contiguous-page count instead.
const pageHeaderSize = 16

// PageSize is fixed at env-create time from the host page size and
// stored in meta.dbs[0].pad; Open() resizes it to match an existing
// file's stored value. Mirrors daicang-mk/pkg/page.go's
// `pageSize = os.Getpagesize()` global, generalized to be per-env
// rather than process-global so tests can open multiple envs with
// different page sizes in one process.
var defaultPageSize = os.Getpagesize()

// page is a thin view over a page-sized (or, for overflow runs,
// multi-page-sized) byte slice backed either by the mmap or by a
// malloc'd dirty-page buffer.
type page struct {
	buf []byte
}

func pageAt(buf []byte, pageSize, index int) *page {
	start := index * pageSize
	return &page{buf: buf[start : start+pageSize]}
}

func newPage(pageSize int, count int) *page {
	return &page{buf: make([]byte, pageSize*count)}
}

func (p *page) pgno() pgid {
	return pgid(binary.LittleEndian.Uint64(p.buf[0:8]))
}

func (p *page) setPgno(id pgid) {
	binary.LittleEndian.PutUint64(p.buf[0:8], uint64(id))
}

func (p *page) flags() uint32 {
	return binary.LittleEndian.Uint32(p.buf[8:12])
}

func (p *page) setFlags(f uint32) {
	binary.LittleEndian.PutUint32(p.buf[8:12], f)
}

func (p *page) hasFlag(f uint32) bool {
	return p.flags()&f != 0
}

func (p *page) addFlag(f uint32) {
	p.setFlags(p.flags() | f)
}

func (p *page) clearFlag(f uint32) {
	p.setFlags(p.flags() &^ f)
}

func (p *page) isBranch() bool   { return p.hasFlag(PageBranch) }
func (p *page) isLeaf() bool     { return p.hasFlag(PageLeaf) }
func (p *page) isOverflow() bool { return p.hasFlag(PageOverflow) }
func (p *page) isMeta() bool     { return p.hasFlag(PageMeta) }
func (p *page) isDirty() bool    { return p.hasFlag(PageDirty) }

func (p *page) lower() uint16 {
	return binary.LittleEndian.Uint16(p.buf[12:14])
}

func (p *page) setLower(v uint16) {
	binary.LittleEndian.PutUint16(p.buf[12:14], v)
}

func (p *page) upper() uint16 {
	return binary.LittleEndian.Uint16(p.buf[14:16])
}

func (p *page) setUpper(v uint16) {
	binary.LittleEndian.PutUint16(p.buf[14:16], v)
}

// overflowCount returns the number of contiguous pages following this
// one that together hold a single overflow value. Only meaningful when
// PageOverflow is set; it aliases the lower/upper header bytes.
func (p *page) overflowCount() uint32 {
	return binary.LittleEndian.Uint32(p.buf[12:16])
}

func (p *page) setOverflowCount(n uint32) {
	binary.LittleEndian.PutUint32(p.buf[12:16], n)
}

func (p *page) numKeys() int {
	return int((p.lower() - pageHeaderSize) / 2)
}

func (p *page) nodeOffset(i int) uint16 {
	pos := pageHeaderSize + 2*i
	return binary.LittleEndian.Uint16(p.buf[pos : pos+2])
}

func (p *page) freeSpace() int {
	return int(p.upper()) - int(p.lower())
}

// reset clears flags and the node area bounds; the pgno is kept.
func (p *page) reset(pageSize int) {
	for i := 8; i < pageHeaderSize; i++ {
		p.buf[i] = 0
	}
	p.setLower(pageHeaderSize)
	p.setUpper(uint16(pageSize))
}

// decodedNode is the in-memory unpacked form of one node, used as the
// scratch representation spec.md §4.5 describes splitting against:
// "Copy M to scratch, clear M's node area... walk scratch and re-add
// nodes into M or R". insert/delete/split/merge/rebalance all operate
// on []decodedNode and call encodeNodes to serialize the result, rather
// than threading byte-level offset bookkeeping through each operation.
type decodedNode struct {
	flags     uint8
	key       []byte
	childPgno pgid   // branch only
	dataSize  int    // leaf only: logical value length
	data      []byte // leaf only: stored bytes (== value, or 8-byte overflow head pgno if BIGDATA)
}

func (n *decodedNode) isBigData() bool { return n.flags&NodeBigData != 0 }
func (n *decodedNode) isSubData() bool { return n.flags&NodeSubData != 0 }
func (n *decodedNode) isDupList() bool { return n.flags&NodeDupList != 0 }

// encodedSize returns the on-page footprint of this node: a 2-byte
// offset slot plus a 6-byte header plus key and payload bytes.
func (n *decodedNode) encodedSize(isLeaf bool) int {
	sz := 2 + 6 + len(n.key)
	if isLeaf {
		sz += len(n.data)
	}
	return sz
}

// decodeNodes unpacks every node on the page into the scratch form.
func decodeNodes(p *page) []decodedNode {
	isLeaf := p.isLeaf()
	n := p.numKeys()
	out := make([]decodedNode, n)
	for i := 0; i < n; i++ {
		off := int(p.nodeOffset(i))
		u32 := binary.LittleEndian.Uint32(p.buf[off : off+4])
		packed := binary.LittleEndian.Uint16(p.buf[off+4 : off+6])
		flags := uint8(packed >> 12)
		keySize := int(packed & 0x0FFF)
		key := p.buf[off+6 : off+6+keySize]
		nd := decodedNode{flags: flags, key: append([]byte(nil), key...)}
		if isLeaf {
			nd.dataSize = int(u32)
			dataLen := nd.dataSize
			if flags&NodeBigData != 0 {
				dataLen = 8
			}
			data := p.buf[off+6+keySize : off+6+keySize+dataLen]
			nd.data = append([]byte(nil), data...)
		} else {
			nd.childPgno = pgid(u32)
		}
		out[i] = nd
	}
	return out
}

// encodeNodes clears the page's node area and rewrites it from nodes,
// in order. It is the sole mutation primitive for branch/leaf pages:
// callers build the desired []decodedNode and call this once.
func encodeNodes(p *page, isLeaf bool, nodes []decodedNode) bool {
	pageSize := len(p.buf)
	lower := pageHeaderSize
	upper := pageSize

	// Two passes: first check total size fits, then write. This keeps
	// the page untouched (still usable by the caller) on failure.
	total := 0
	for i := range nodes {
		total += nodes[i].encodedSize(isLeaf)
	}
	if lower+total > upper {
		return false
	}

	p.reset(pageSize)
	if isLeaf {
		p.addFlag(PageLeaf)
	} else {
		p.addFlag(PageBranch)
	}

	for i := range nodes {
		nd := &nodes[i]
		bodySize := 6 + len(nd.key)
		if isLeaf {
			bodySize += len(nd.data)
		}
		upper -= bodySize
		off := upper

		var u32 uint32
		if isLeaf {
			u32 = uint32(nd.dataSize)
		} else {
			u32 = uint32(nd.childPgno)
		}
		binary.LittleEndian.PutUint32(p.buf[off:off+4], u32)
		packed := uint16(nd.flags)<<12 | uint16(len(nd.key)&0x0FFF)
		binary.LittleEndian.PutUint16(p.buf[off+4:off+6], packed)
		copy(p.buf[off+6:off+6+len(nd.key)], nd.key)
		if isLeaf {
			copy(p.buf[off+6+len(nd.key):off+6+len(nd.key)+len(nd.data)], nd.data)
		}

		binary.LittleEndian.PutUint16(p.buf[pageHeaderSize+2*i:pageHeaderSize+2*i+2], uint16(off))
		lower += 2
	}

	p.setLower(uint16(lower))
	p.setUpper(uint16(upper))
	return true
}

// fillRatio returns the fraction of the page occupied by payload bytes,
// used by rebalance's fillThreshold check.
func fillRatio(p *page) float64 {
	pageSize := len(p.buf)
	used := pageSize - p.freeSpace() - pageHeaderSize
	return float64(used) / float64(pageSize-pageHeaderSize)
}
