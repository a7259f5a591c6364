package mdb

import "github.com/go-logr/logr"

// Options configures Open, generalizing daicang-mk/pkg/db.go's
// Options{Path string} with the env-level knobs spec.md calls for.
type Options struct {
	// Path is the directory holding data.mdb and lock.mdb.
	Path string

	// Flags are env flags: FixedMap, NoSync, ReadOnly.
	Flags uint32

	// MaxReaders bounds the reader table size. Zero uses defaultMaxReaders.
	MaxReaders int

	// MaxDBs is stored (zero uses defaultMaxDBs) but not enforced:
	// OpenDB does not limit the number of named sub-databases.
	MaxDBs int

	// MapSize is stored (zero uses defaultMapSize) but not read by
	// Open: the initial map covers the data file's current size and
	// grows automatically as needed.
	MapSize int64

	// Log receives the env's structured logs (Open logs at V(1)); the
	// tx, pager, freelist and cursor code does not log. A nil Log
	// defaults to stdr.New(nil) at V(1), matching daicang-mk/pkg/log.go's
	// verbosity convention.
	Log logr.Logger
}

const (
	defaultMaxReaders = 126
	defaultMaxDBs     = 16
	defaultMapSize    = 1 << 20 // 1MiB, grows on demand
)

func (o *Options) setDefaults() {
	if o.MaxReaders <= 0 {
		o.MaxReaders = defaultMaxReaders
	}
	if o.MaxDBs <= 0 {
		o.MaxDBs = defaultMaxDBs
	}
	if o.MapSize <= 0 {
		o.MapSize = defaultMapSize
	}
}
