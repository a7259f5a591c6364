package mdb

import "errors"

// Error kinds from spec.md §7. Call sites wrap these with fmt.Errorf's
// %w the way daicang-mk/pkg/db.go wraps file errors, so callers can
// still errors.Is against the sentinel.
var (
	// ErrNotFound: key absent, empty tree, or cursor past either end.
	ErrNotFound = errors.New("mdb: not found")

	// ErrKeyExist: NOOVERWRITE violated.
	ErrKeyExist = errors.New("mdb: key already exists")

	// ErrNoSpace: a page can't accommodate an update (internal, should
	// trigger a split before escaping to a caller) or the reader table
	// is full.
	ErrNoSpace = errors.New("mdb: no space")

	// ErrVersionMismatch: file magic/version incompatible.
	ErrVersionMismatch = errors.New("mdb: version mismatch")

	// ErrInvalid: malformed argument, bad meta page, or wrong txn state.
	ErrInvalid = errors.New("mdb: invalid")

	// ErrPerm: write/commit attempted on a read-only transaction. A
	// ReadOnly env is not checked here; a write there fails with the
	// underlying file error instead.
	ErrPerm = errors.New("mdb: permission denied")

	// ErrIO: underlying file/map error.
	ErrIO = errors.New("mdb: io error")

	// ErrNoMem: allocation failed.
	ErrNoMem = errors.New("mdb: out of memory")

	// ErrTxnFinished: use of a transaction after commit/abort.
	ErrTxnFinished = errors.New("mdb: transaction already finished")
)
