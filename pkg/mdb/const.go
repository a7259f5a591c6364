package mdb

// File format constants, matching spec §6. Grounded on daicang-mk's
// const.go (Magic/DBVersion naming) with the exact LMDB-style values
// spec.md specifies instead of the teacher's own arbitrary constants.
const (
	// Magic identifies a data file as belonging to this format.
	Magic uint32 = 0xBEEFC0DE

	// Version is the on-disk format version. Opening a file written by
	// a different version fails with ErrVersionMismatch.
	Version uint32 = 1
)

// Reserved database indices. dbs[0] is always the free-list DB, dbs[1]
// the main DB; named sub-DBs start at index 2.
const (
	FreeDBI  = 0
	MainDBI  = 1
	firstDBI = 2
)

// Page flags (persisted except DIRTY, which only ever lives in the
// in-memory copy of a page and is cleared before it is written out).
const (
	PageBranch   uint32 = 1 << 0
	PageLeaf     uint32 = 1 << 1
	PageOverflow uint32 = 1 << 2
	PageMeta     uint32 = 1 << 3
	PageDirty    uint32 = 1 << 4
)

// Node flags, packed into the low 4 bits of the node header.
const (
	NodeBigData uint8 = 1 << 0
	NodeSubData uint8 = 1 << 1
	NodeDupList uint8 = 1 << 2
)

// Env flags (spec.md §6).
const (
	FixedMap uint32 = 1 << 0
	NoSync   uint32 = 1 << 1
	ReadOnly uint32 = 1 << 2
)

// DB flags (spec.md §6).
const (
	ReverseKey uint32 = 1 << 0
	DupSort    uint32 = 1 << 1
	IntegerKey uint32 = 1 << 2
	Create     uint32 = 1 << 3
)

// Put flags (spec.md §6).
const (
	NoOverwrite uint32 = 1 << 0
	NoDupData   uint32 = 1 << 1
)

// Del flags (spec.md §6).
const (
	DelDup uint32 = 1 << 0
)

// Cursor operations (spec.md §6).
type CursorOp int

const (
	First CursorOp = iota
	Last
	Next
	NextDup
	NextNoDup
	Prev
	PrevDup
	PrevNoDup
	Set
	SetRange
	GetBoth
	GetBothRange
)

const (
	// MinKeys is the minimum number of keys a non-root page must carry
	// after a commit.
	MinKeys = 2

	// minKeysDivisor (spec.md "MINKEYS=4 used in divisor") sets the
	// overflow threshold: a value of size >= pageSize/minKeysDivisor is
	// moved to an overflow chain instead of being stored inline.
	minKeysDivisor = 4

	// MaxKeySize is the hard key size limit.
	MaxKeySize = 511

	// fillThreshold is the page-fill ratio (of payload bytes) below
	// which rebalance is triggered.
	fillThreshold = 0.25

	// commitPages bounds how many dirty pages are coalesced into one
	// scatter-gather write during commit.
	commitPages = 64

	// invalidPgno marks an empty tree's root.
	invalidPgno = pgid(^uint64(0))
)
