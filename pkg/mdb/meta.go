package mdb

import "encoding/binary"

// DBDesc is the on-disk descriptor for one B+tree within the env:
// {pad, flags, depth, branchPages, leafPages, overflowPages, entries,
// root}. dbs[0] (the free-DB) reuses pad to store the file's page size
// and flags to store the env flags, per spec.md §3.
//
// Encoded with encoding/binary the way sharvitKashikar-FiloDB encodes
// its master page, rather than an unsafe.Pointer struct overlay,
// because DBDesc values also travel inside a leaf node's SUBDATA
// payload where there is no natural struct alignment to overlay onto.
type DBDesc struct {
	Pad           uint32
	Flags         uint16
	Depth         uint16
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
	Root          pgid
}

const dbDescSize = 4 + 2 + 2 + 8 + 8 + 8 + 8 + 8 // 48 bytes

// dbDescMutableOffset is the byte offset of Depth within a DBDesc: the
// part that changes every commit. Pad and Flags are set once at
// creation and never rewritten, mirroring real LMDB's mm_dbs[0].md_depth
// split point referenced in spec.md §6.
const dbDescMutableOffset = 4 + 2

func (d *DBDesc) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.Pad)
	binary.LittleEndian.PutUint16(buf[4:6], d.Flags)
	binary.LittleEndian.PutUint16(buf[6:8], d.Depth)
	binary.LittleEndian.PutUint64(buf[8:16], d.BranchPages)
	binary.LittleEndian.PutUint64(buf[16:24], d.LeafPages)
	binary.LittleEndian.PutUint64(buf[24:32], d.OverflowPages)
	binary.LittleEndian.PutUint64(buf[32:40], d.Entries)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(d.Root))
}

func decodeDBDesc(buf []byte) DBDesc {
	return DBDesc{
		Pad:           binary.LittleEndian.Uint32(buf[0:4]),
		Flags:         binary.LittleEndian.Uint16(buf[4:6]),
		Depth:         binary.LittleEndian.Uint16(buf[6:8]),
		BranchPages:   binary.LittleEndian.Uint64(buf[8:16]),
		LeafPages:     binary.LittleEndian.Uint64(buf[16:24]),
		OverflowPages: binary.LittleEndian.Uint64(buf[24:32]),
		Entries:       binary.LittleEndian.Uint64(buf[32:40]),
		Root:          pgid(binary.LittleEndian.Uint64(buf[40:48])),
	}
}

func (d DBDesc) isEmpty() bool {
	return d.Root == invalidPgno
}

// Meta is the fixed-format record stored in the header area of pages 0
// and 1. dbs[0] is the free-list DB, dbs[1] the main DB; named sub-DBs
// live as entries inside the main DB rather than in Meta, and are read
// back from there by OpenDB and Begin.
type Meta struct {
	Magic    uint32
	Version  uint32
	MapAddr  uint64
	MapSize  uint64
	DBs      [2]DBDesc
	LastPgno pgid
	Txnid    txnid
}

const (
	metaMagicOff   = 0
	metaVersionOff = 4
	metaMapAddrOff = 8
	metaMapSizeOff = 16
	metaDBsOff     = 24
	metaLastPgnoOff = metaDBsOff + 2*dbDescSize
	metaTxnidOff    = metaLastPgnoOff + 8
	metaSize        = metaTxnidOff + 8

	// metaMutableOff is the offset of dbs[0].Depth: everything from
	// here to the end of Meta is rewritten on every commit; everything
	// before it (magic/version/mapAddr/mapSize/dbs[0].pad/dbs[0].flags)
	// is fixed at creation time.
	metaMutableOff = metaDBsOff + dbDescMutableOffset
)

func (m *Meta) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[metaMagicOff:], m.Magic)
	binary.LittleEndian.PutUint32(buf[metaVersionOff:], m.Version)
	binary.LittleEndian.PutUint64(buf[metaMapAddrOff:], m.MapAddr)
	binary.LittleEndian.PutUint64(buf[metaMapSizeOff:], m.MapSize)
	m.DBs[0].encode(buf[metaDBsOff : metaDBsOff+dbDescSize])
	m.DBs[1].encode(buf[metaDBsOff+dbDescSize : metaDBsOff+2*dbDescSize])
	binary.LittleEndian.PutUint64(buf[metaLastPgnoOff:], uint64(m.LastPgno))
	binary.LittleEndian.PutUint64(buf[metaTxnidOff:], uint64(m.Txnid))
}

// encodeMutableTail writes only the part of Meta that changes after
// creation, at the exact offset spec.md §6 specifies for commit.
func (m *Meta) encodeMutableTail(buf []byte) {
	tail := buf[metaMutableOff:metaSize]
	full := make([]byte, metaSize)
	m.encode(full)
	copy(tail, full[metaMutableOff:metaSize])
}

func decodeMeta(buf []byte) Meta {
	var m Meta
	m.Magic = binary.LittleEndian.Uint32(buf[metaMagicOff:])
	m.Version = binary.LittleEndian.Uint32(buf[metaVersionOff:])
	m.MapAddr = binary.LittleEndian.Uint64(buf[metaMapAddrOff:])
	m.MapSize = binary.LittleEndian.Uint64(buf[metaMapSizeOff:])
	m.DBs[0] = decodeDBDesc(buf[metaDBsOff : metaDBsOff+dbDescSize])
	m.DBs[1] = decodeDBDesc(buf[metaDBsOff+dbDescSize : metaDBsOff+2*dbDescSize])
	m.LastPgno = pgid(binary.LittleEndian.Uint64(buf[metaLastPgnoOff:]))
	m.Txnid = txnid(binary.LittleEndian.Uint64(buf[metaTxnidOff:]))
	return m
}

// metaBytes returns the slice of p's backing buffer holding the Meta
// record, located right after the page header as spec.md §6 requires.
func metaBytes(p *page) []byte {
	return p.buf[pageHeaderSize : pageHeaderSize+metaSize]
}

func readMeta(p *page) (Meta, error) {
	m := decodeMeta(metaBytes(p))
	if m.Magic != Magic {
		return Meta{}, ErrVersionMismatch
	}
	if m.Version != Version {
		return Meta{}, ErrVersionMismatch
	}
	return m, nil
}

func writeMeta(p *page, m *Meta) {
	p.reset(len(p.buf))
	p.addFlag(PageMeta)
	m.encode(metaBytes(p))
}

func writeMetaMutableTail(p *page, m *Meta) {
	m.encodeMutableTail(metaBytes(p))
}

// chooseMeta picks the authoritative meta page per spec.md's invariant:
// the newer of the two (larger txnid) wins; the older is the
// crash-recovery fallback. toggle is the index (0 or 1) of the chosen
// page, so the writer's next commit flips to 1-toggle.
func chooseMeta(meta0, meta1 Meta, meta0ok, meta1ok bool) (chosen Meta, toggle int, err error) {
	switch {
	case meta0ok && meta1ok:
		if meta1.Txnid > meta0.Txnid {
			return meta1, 1, nil
		}
		return meta0, 0, nil
	case meta0ok:
		return meta0, 0, nil
	case meta1ok:
		return meta1, 1, nil
	default:
		return Meta{}, 0, ErrInvalid
	}
}
