package mdb

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/daicang/mdb/pkg/idl"
)

// Tx is a single transaction: a read-only snapshot, or the one
// outstanding writable transaction. Grounded on daicang-mk/pkg/txn.go's
// Txn struct (id, db, root, dirty pages), extended with the free-DB
// bookkeeping and named-DB descriptor cache spec.md §4.9 requires.
type Tx struct {
	db       *DB
	id       txnid
	writable bool
	meta     Meta

	dirty map[pgid]*page
	freed idl.List

	dbDesc  map[int]DBDesc
	dbName  map[int]string
	dbDirty map[int]bool
	dbCmp   map[int]CmpFunc

	readerSlot readerSlot
	hasSlot    bool

	done bool
}

// FreeDBI and MainDBI are the two fixed dbi handles every Tx can use
// without calling OpenDB.
const (
	freeDBIConst = FreeDBI
	mainDBIConst = MainDBI
)

// Begin starts a new transaction. A writable transaction blocks until
// it acquires the env's writer lock; a read-only transaction claims a
// reader-table slot and publishes its txnid so the writer knows not to
// reclaim pages it might still be reading.
func (db *DB) Begin(writable bool) (*Tx, error) {
	tx := &Tx{
		db:       db,
		writable: writable,
		dirty:    map[pgid]*page{},
		freed:    idl.New(),
		dbDesc:   map[int]DBDesc{},
		dbName:   map[int]string{},
		dbDirty:  map[int]bool{},
		dbCmp:    map[int]CmpFunc{},
	}

	if writable {
		db.writerMu.Lock()
		if err := db.lock.lockWriter(); err != nil {
			db.writerMu.Unlock()
			return nil, fmt.Errorf("mdb: acquire writer lock: %w", err)
		}
		tx.id = db.nextTxnid()
		tx.meta = db.meta()
		tx.meta.Txnid = tx.id
	} else {
		slot, err := db.lock.claimSlot(uint32(os.Getpid()), currentGoroutineTag())
		if err != nil {
			return nil, err
		}
		tx.readerSlot = slot
		tx.hasSlot = true
		tx.meta = db.meta()
		slot.setTxnid(tx.meta.Txnid)
		tx.id = tx.meta.Txnid
	}

	tx.dbDesc[FreeDBI] = tx.meta.DBs[FreeDBI]
	tx.dbDesc[MainDBI] = tx.meta.DBs[MainDBI]
	tx.dbCmp[FreeDBI] = cmpForFlags(uint32(tx.meta.DBs[FreeDBI].Flags), nil)
	tx.dbCmp[MainDBI] = cmpForFlags(uint32(tx.meta.DBs[MainDBI].Flags), nil)

	// dbi handles from earlier OpenDB calls stay valid: load each named
	// DB's descriptor from this snapshot's main DB.
	db.namedMu.Lock()
	named := make(map[string]int, len(db.namedDBs))
	for name, dbi := range db.namedDBs {
		named[name] = dbi
	}
	db.namedMu.Unlock()
	for name, dbi := range named {
		if v, isSub, _, err := tx.getRaw(MainDBI, []byte(name)); err == nil && isSub {
			desc := decodeDBDesc(v)
			tx.dbDesc[dbi], tx.dbName[dbi] = desc, name
			tx.dbCmp[dbi] = cmpForFlags(uint32(desc.Flags), nil)
		}
	}

	return tx, nil
}

// currentGoroutineTag stands in for a thread id: Go has no stable
// OS-thread identity for a goroutine, so reader slots are keyed by
// (pid, a process-lifetime counter) instead of (pid, tid), which is
// sufficient for the reader-table's only job of bounding free-DB
// reclamation.
var readerTagCounter uint64

func currentGoroutineTag() uint64 {
	return atomic.AddUint64(&readerTagCounter, 1)
}

func (tx *Tx) dbRoot(dbi int) pgid {
	return tx.dbDesc[dbi].Root
}

func (tx *Tx) setDBRoot(dbi int, root pgid) {
	d := tx.dbDesc[dbi]
	d.Root = root
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true
}

func (tx *Tx) cmpFor(dbi int) CmpFunc {
	return tx.dbCmp[dbi]
}

// OpenDB looks up (or, with Create, creates) a named sub-database,
// stored as an entry in the main DB whose value is a serialized
// DBDesc marked with the SUBDATA node flag. dbi handles are assigned
// per-process by db.dbiForName; see DESIGN.md.
func (tx *Tx) OpenDB(name string, flags uint32) (int, error) {
	dbi := tx.db.dbiForName(name)
	if desc, ok := tx.dbDesc[dbi]; ok {
		_ = desc
		return dbi, nil
	}

	v, isSub, _, err := tx.getRaw(MainDBI, []byte(name))
	if err == nil {
		if !isSub {
			return 0, fmt.Errorf("mdb: %w: %q is not a database", ErrInvalid, name)
		}
		desc := decodeDBDesc(v)
		tx.dbDesc[dbi] = desc
		tx.dbName[dbi] = name
		tx.dbCmp[dbi] = cmpForFlags(uint32(desc.Flags), nil)
		return dbi, nil
	}
	if err != ErrNotFound {
		return 0, err
	}
	if flags&Create == 0 {
		return 0, ErrNotFound
	}
	if !tx.writable {
		return 0, fmt.Errorf("mdb: %w: cannot create database in read-only tx", ErrPerm)
	}

	desc := DBDesc{Root: invalidPgno, Flags: uint16(flags)}
	tx.dbDesc[dbi] = desc
	tx.dbName[dbi] = name
	tx.dbDirty[dbi] = true
	tx.dbCmp[dbi] = cmpForFlags(uint32(desc.Flags), nil)

	buf := make([]byte, dbDescSize)
	desc.encode(buf)
	if err := tx.put(MainDBI, []byte(name), buf, 0); err != nil {
		return 0, err
	}
	if err := tx.markSubData(MainDBI, []byte(name)); err != nil {
		return 0, err
	}
	return dbi, nil
}

// markSubData flags the leaf node just written for key as holding a
// serialized DBDesc rather than a plain value, so a later get() by
// another name doesn't hand back sub-DB bytes as a user value and
// OpenDB can distinguish "exists as a DB" from "exists as a key".
func (tx *Tx) markSubData(dbi int, key []byte) error {
	root := tx.dbRoot(dbi)
	res, err := tx.searchPage(root, key, tx.cmpFor(dbi))
	if err != nil {
		return err
	}
	if res.index >= len(res.nodes) || tx.cmpFor(dbi)(res.nodes[res.index].key, key) != 0 {
		return ErrNotFound
	}
	res.nodes[res.index].flags |= NodeSubData
	if !encodeNodes(res.page, true, res.nodes) {
		return fmt.Errorf("mdb: %w: marking sub-db", ErrNoSpace)
	}
	return nil
}

// Get looks up key in dbi, returning a copy of the stored value. For a
// DUPSORT dbi, key maps to a sorted set of values rather than a single
// one; Get returns the first (smallest) value, matching a cursor's
// First/NextDup walk — callers after the full set should use a Cursor.
func (tx *Tx) Get(dbi int, key []byte) ([]byte, error) {
	v, isSub, isDup, err := tx.getRaw(dbi, key)
	if err != nil {
		return nil, err
	}
	if isSub {
		return nil, fmt.Errorf("mdb: %w: key holds a sub-database descriptor", ErrInvalid)
	}
	if isDup {
		list := decodeDupList(v)
		if len(list) == 0 {
			return nil, ErrNotFound
		}
		return list[0], nil
	}
	return v, nil
}

func (tx *Tx) getRaw(dbi int, key []byte) ([]byte, bool, bool, error) {
	root := tx.dbRoot(dbi)
	if root == invalidPgno {
		return nil, false, false, ErrNotFound
	}
	res, err := tx.searchPage(root, key, tx.cmpFor(dbi))
	if err != nil {
		return nil, false, false, err
	}
	if res.index >= len(res.nodes) {
		return nil, false, false, ErrNotFound
	}
	n := res.nodes[res.index]
	if tx.cmpFor(dbi)(n.key, key) != 0 {
		return nil, false, false, ErrNotFound
	}
	val, err := tx.readNodeValue(n)
	if err != nil {
		return nil, false, false, err
	}
	return val, n.isSubData(), n.isDupList(), nil
}

// readNodeValue materializes a node's value, following the overflow
// chain when NodeBigData is set.
func (tx *Tx) readNodeValue(n decodedNode) ([]byte, error) {
	if !n.isBigData() {
		return n.data, nil
	}
	start := pgid(lePgnoFromBytes(n.data))
	p := tx.getPage(start)
	count := 1
	if p.hasFlag(PageOverflow) {
		count = int(p.overflowCount()) + 1
	}
	total := count*len(p.buf) - pageHeaderSize
	if total > n.dataSize {
		total = n.dataSize
	}
	buf := make([]byte, 0, n.dataSize)
	remaining := n.dataSize
	for i := 0; i < count && remaining > 0; i++ {
		page := tx.getPage(start + pgid(i))
		chunk := page.buf[pageHeaderSize:]
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		buf = append(buf, chunk...)
		remaining -= len(chunk)
	}
	return buf, nil
}

// Abort discards a transaction's changes (writable) or releases its
// reader slot (read-only) without committing.
func (tx *Tx) Abort() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.writable {
		tx.dirty = nil
		err := tx.db.lock.unlockWriter()
		tx.db.writerMu.Unlock()
		return err
	}
	if tx.hasSlot {
		tx.readerSlot.setTxnid(0)
	}
	return nil
}

// Commit durably applies a writable transaction's changes using the
// nine-step protocol spec.md §4.9 describes: drain the leftover reclaim
// pool, flush the freed-page record, write dirty named-DB descriptors,
// scatter-gather the dirty page queue in ascending pgno order, fsync,
// write the meta page's mutable tail on the currently-inactive toggle,
// fsync again, and flip the toggle. Committing a read-only Tx releases
// its reader slot and fails with ErrPerm.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("mdb: %w", ErrTxnFinished)
	}
	if !tx.writable {
		tx.Abort()
		return fmt.Errorf("mdb: %w: commit on read-only tx", ErrPerm)
	}
	tx.done = true
	defer tx.db.writerMu.Unlock()
	defer tx.db.lock.unlockWriter()

	if err := tx.drainReclaimPool(); err != nil {
		return tx.rollbackAfterError(err)
	}

	if err := tx.flushFreed(); err != nil {
		return tx.rollbackAfterError(err)
	}

	for dbi, dirty := range tx.dbDirty {
		if dbi == FreeDBI || dbi == MainDBI || !dirty {
			continue
		}
		name := tx.dbName[dbi]
		desc := tx.dbDesc[dbi]
		buf := make([]byte, dbDescSize)
		desc.encode(buf)
		if err := tx.put(MainDBI, []byte(name), buf, 0); err != nil {
			return tx.rollbackAfterError(err)
		}
		if err := tx.markSubData(MainDBI, []byte(name)); err != nil {
			return tx.rollbackAfterError(err)
		}
	}

	tx.meta.DBs[FreeDBI] = tx.dbDesc[FreeDBI]
	tx.meta.DBs[MainDBI] = tx.dbDesc[MainDBI]

	if err := tx.writeDirtyPages(); err != nil {
		return tx.rollbackAfterError(err)
	}
	if err := tx.db.file.Sync(); err != nil {
		return tx.rollbackAfterError(err)
	}

	// The data file is mapped read-only, so the meta tail is encoded into
	// a scratch page and written to the file at its exact offset.
	nextToggle := 1 - tx.db.metaToggle
	mp := newPage(tx.db.pageSize, 1)
	writeMetaMutableTail(mp, &tx.meta)
	metaOff := int64(nextToggle)*int64(tx.db.pageSize) + pageHeaderSize + metaMutableOff
	if _, err := tx.db.file.WriteAt(metaBytes(mp)[metaMutableOff:], metaOff); err != nil {
		return tx.rollbackAfterError(fmt.Errorf("mdb: write meta: %w", err))
	}
	if err := tx.db.file.Sync(); err != nil {
		return tx.rollbackAfterError(err)
	}

	if nextToggle == 0 {
		tx.db.meta0 = tx.meta
	} else {
		tx.db.meta1 = tx.meta
	}
	tx.db.metaToggle = nextToggle

	return nil
}

// rollbackAfterError always returns err: it exists so every failure
// point in Commit funnels through one place that could, in the future,
// attempt partial cleanup. A mid-commit failure leaves the previous
// meta page authoritative (it was never overwritten), so the data file
// is never left in an inconsistent readable state.
func (tx *Tx) rollbackAfterError(err error) error {
	return err
}

// writeDirtyPages performs a scatter-gather write of the tx's dirty
// page set, sorted ascending by pgno, coalescing runs of adjacent dirty
// pages into a single WriteAt the way spec.md §4.9 calls for (capped at
// commitPages per vector, matching real LMDB's IOV_MAX batching).
func (tx *Tx) writeDirtyPages() error {
	if len(tx.dirty) == 0 {
		return nil
	}
	ids := make([]pgid, 0, len(tx.dirty))
	seen := map[pgid]bool{}
	for id, p := range tx.dirty {
		if p.pgno() != id {
			continue // part of an overflow run, aliased under multiple keys
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sortPgids(ids)

	i := 0
	for i < len(ids) {
		p := tx.dirty[ids[i]]
		count := 1
		if p.hasFlag(PageOverflow) {
			count = int(p.overflowCount()) + 1
		}
		run := p.buf
		j := i + 1
		for j < len(ids) && len(run)/tx.db.pageSize < commitPages {
			next := tx.dirty[ids[j]]
			if ids[j] != ids[i]+pgid(len(run)/tx.db.pageSize) {
				break
			}
			run = append(run, next.buf...)
			j++
		}
		if _, err := tx.db.file.WriteAt(run, int64(ids[i])*int64(tx.db.pageSize)); err != nil {
			return fmt.Errorf("mdb: write dirty pages: %w", err)
		}
		_ = count
		i = j
	}
	return nil
}

func sortPgids(ids []pgid) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func lePgnoFromBytes(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
