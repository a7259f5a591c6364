package mdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/daicang/mdb/pkg/idl"
)

// DB is the environment: one memory-mapped data file plus its lock
// region, shared by every reader and the single writer. Mirrors
// daicang-mk/pkg/db.go's DB struct (path, file, mmap, pagePool,
// freelist fields) generalized to the two-meta-page / reader-table /
// free-DB design spec.md requires.
type DB struct {
	opts Options
	log  logr.Logger

	dataPath string
	lockPath string

	file *os.File
	lock *lockRegion

	mu sync.Mutex // guards mmap growth and writer handoff bookkeeping

	// writerMu serializes writable transactions within this process.
	// flock on lock.lockWriter only excludes other processes: locks taken
	// through the same open file description (which every Tx in this
	// process shares) never block each other, so cross-goroutine
	// exclusion needs its own mutex alongside it.
	writerMu sync.Mutex

	pageSize int
	mmapBuf  []byte
	mmapSize int

	meta0, meta1 Meta
	metaToggle   int // index (0 or 1) of the currently authoritative meta

	// reclaimPool is the env-owned in-memory pool of page numbers ready
	// for immediate reuse, filled from the free-DB by allocPage and
	// written back to the free-DB (and emptied) at commit. Only the
	// writer touches it, under writerMu.
	reclaimPool idl.List

	// txnidCounter is the monotonically increasing global transaction id.
	txnidCounter uint64

	// namedDBs caches name -> dbi assignment for this process. Dbi
	// handles are process-local (see DESIGN.md); 0 and 1 are reserved
	// for the free-DB and main DB.
	namedMu sync.Mutex
	namedDBs map[string]int
	nextDBI  int

	writerHeld int32 // atomic flag: a writable Tx is outstanding

	pagePool sync.Pool

	closed bool
}

// Open creates the data/lock files if absent and maps the data file.
// Mirrors daicang-mk/pkg/db.go's Open/create/load split.
func Open(opts Options) (*DB, error) {
	opts.setDefaults()
	log := opts.Log
	if log == nil {
		log = defaultLogger()
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("mdb: mkdir: %w", err)
	}

	db := &DB{
		opts:     opts,
		log:      log,
		dataPath: filepath.Join(opts.Path, "data.mdb"),
		lockPath: filepath.Join(opts.Path, "lock.mdb"),
		namedDBs: map[string]int{},
		nextDBI:  firstDBI,
		pageSize: defaultPageSize,
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.Flags&ReadOnly != 0 {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(db.dataPath, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mdb: open data file: %w", err)
	}
	db.file = f

	lock, err := openLockRegion(db.lockPath, opts.MaxReaders)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mdb: open lock file: %w", err)
	}
	db.lock = lock

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mdb: stat data file: %w", err)
	}

	if fi.Size() == 0 {
		if err := db.bootstrap(); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := db.mmapAndLoad(); err != nil {
		db.Close()
		return nil, err
	}

	db.log.V(1).Info("opened", "path", opts.Path, "pageSize", db.pageSize, "lastPgno", db.meta().LastPgno)
	return db, nil
}

// bootstrap writes the initial two identical meta pages, a root-less
// free-DB and main DB, per spec.md §4.10.
func (db *DB) bootstrap() error {
	db.pageSize = defaultPageSize

	buf := make([]byte, db.pageSize*2)
	m := Meta{
		Magic:   Magic,
		Version: Version,
		DBs: [2]DBDesc{
			{Pad: uint32(db.pageSize), Flags: uint16(IntegerKey), Root: invalidPgno},
			{Root: invalidPgno},
		},
		LastPgno: 1,
		Txnid:    0,
	}
	for i := 0; i < 2; i++ {
		p := pageAt(buf, db.pageSize, i)
		p.setPgno(pgid(i))
		writeMeta(p, &m)
	}
	if _, err := db.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("mdb: write bootstrap meta: %w", err)
	}
	return db.file.Sync()
}

func (db *DB) mmapAndLoad() error {
	fi, err := db.file.Stat()
	if err != nil {
		return err
	}
	size := int(fi.Size())
	if size < db.pageSize*2 {
		return fmt.Errorf("mdb: %w: file too small", ErrInvalid)
	}

	buf, err := mmapFile(db.file, size)
	if err != nil {
		return fmt.Errorf("mdb: mmap: %w", err)
	}
	db.mmapBuf = buf
	db.mmapSize = size

	p0 := pageAt(buf, db.pageSize, 0)
	p1 := pageAt(buf, db.pageSize, 1)
	m0, err0 := readMeta(p0)
	m1, err1 := readMeta(p1)
	chosen, toggle, err := chooseMeta(m0, m1, err0 == nil, err1 == nil)
	if err != nil {
		return err
	}
	db.meta0, db.meta1 = m0, m1
	db.metaToggle = toggle
	db.pageSize = int(chosen.DBs[0].Pad)
	return nil
}

func (db *DB) meta() Meta {
	if db.metaToggle == 0 {
		return db.meta0
	}
	return db.meta1
}

// ensureMmapSize grows the mmap (and, if needed, the file) to cover
// at least n pages, following daicang-mk/pkg/db.go's roundMmapSize
// doubling-then-1GB-step policy.
func (db *DB) ensureMmapSize(pages int) error {
	need := pages * db.pageSize
	if need <= db.mmapSize {
		return nil
	}

	newSize := db.mmapSize
	if newSize == 0 {
		newSize = db.pageSize * 2
	}
	for newSize < need {
		if newSize < 1<<30 {
			newSize *= 2
		} else {
			newSize += 1 << 30
		}
	}

	fi, err := db.file.Stat()
	if err != nil {
		return err
	}
	if int(fi.Size()) < newSize {
		if err := db.file.Truncate(int64(newSize)); err != nil {
			return fmt.Errorf("mdb: grow file: %w", err)
		}
	}

	if err := munmapFile(db.mmapBuf); err != nil {
		return fmt.Errorf("mdb: unmap: %w", err)
	}
	buf, err := mmapFile(db.file, newSize)
	if err != nil {
		return fmt.Errorf("mdb: remap: %w", err)
	}
	db.mmapBuf = buf
	db.mmapSize = newSize
	return nil
}

func (db *DB) pageAt(id pgid) *page {
	return pageAt(db.mmapBuf, db.pageSize, int(id))
}

// Close unmaps and closes all files.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	if db.mmapBuf != nil {
		if err := munmapFile(db.mmapBuf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.lock != nil {
		if err := db.lock.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.file != nil {
		if err := db.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (db *DB) nextTxnid() txnid {
	return txnid(atomic.AddUint64(&db.txnidCounter, 1))
}

// dbiForName returns the process-local dbi handle for name, assigning
// a fresh one on first sight. Handles are not persisted: a named DB's
// durable identity is the DBDesc stored under its name inside the main
// DB tree, which is what a reopening process actually reads back (see
// DESIGN.md "dbi handles are process-local").
func (db *DB) dbiForName(name string) int {
	db.namedMu.Lock()
	defer db.namedMu.Unlock()
	if dbi, ok := db.namedDBs[name]; ok {
		return dbi
	}
	dbi := db.nextDBI
	db.nextDBI++
	db.namedDBs[name] = dbi
	return dbi
}
