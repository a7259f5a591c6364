package mdb

import "fmt"

// pager.go implements page lookup, allocation, and copy-on-write
// cloning at the Tx level. Grounded on daicang-mk/pkg/db.go's
// getPage/allocPage, generalized to the three-step allocation order
// (reclaim pool, then free-DB oldest record, then tail bump) spec.md
// §4.1 requires.

// getPage returns the page for pgno, preferring a tx-local dirty copy
// over the env's mmap.
func (tx *Tx) getPage(id pgid) *page {
	if p, ok := tx.dirty[id]; ok {
		return p
	}
	return tx.db.pageAt(id)
}

// allocPage returns num contiguous freshly-allocated (dirty, zeroed)
// pages, following spec.md §4.1's allocation order:
//  1. pop from the in-memory reclaim pool if it holds num contiguous ids
//  2. read the oldest-txnid record out of the free-DB into the reclaim
//     pool and retry
//  3. bump LastPgno (grow the mmap first if needed)
func (tx *Tx) allocPage(num int) (*page, error) {
	if !tx.writable {
		return nil, fmt.Errorf("mdb: %w: read-only tx cannot allocate", ErrPerm)
	}

	if num == 1 {
		if id, rest, ok := popReclaim(tx.db.reclaimPool); ok {
			tx.db.reclaimPool = rest
			return tx.newDirtyPage(id, 1), nil
		}
	} else if start, ok := popReclaimRun(tx.db.reclaimPool, num); ok {
		tx.db.reclaimPool = removeRun(tx.db.reclaimPool, start, num)
		return tx.newDirtyPage(start, num), nil
	}

	if tx.refillReclaimPool() {
		return tx.allocPage(num)
	}

	start := tx.meta.LastPgno + 1
	tx.meta.LastPgno += pgid(num)
	if err := tx.db.ensureMmapSize(int(tx.meta.LastPgno) + 1); err != nil {
		return nil, err
	}
	return tx.newDirtyPage(start, num), nil
}

// newDirtyPage builds a zeroed page (or overflow run) and registers it
// in the tx's dirty set, to be written out at commit.
func (tx *Tx) newDirtyPage(id pgid, num int) *page {
	p := newPage(tx.db.pageSize, num)
	p.setPgno(id)
	if num > 1 {
		p.addFlag(PageOverflow)
		p.setOverflowCount(uint32(num - 1))
	}
	tx.dirty[id] = p
	for i := 1; i < num; i++ {
		tx.dirty[id+pgid(i)] = p
	}
	return p
}

// touch clones page src into a fresh dirty page if it is not already
// dirty in this tx, then patches parent's child pointer at parentIdx to
// point at the clone. This is the copy-on-write step: src may still be
// visible to older readers, so it is never mutated in place.
func (tx *Tx) touch(src *page, parent *page, parentIdx int) (*page, error) {
	if _, ok := tx.dirty[src.pgno()]; ok {
		return src, nil
	}

	count := 1
	if src.hasFlag(PageOverflow) {
		count = int(src.overflowCount()) + 1
	}
	srcPgno := src.pgno()
	np, err := tx.allocPage(count)
	if err != nil {
		return nil, err
	}
	// allocPage may have grown and remapped the file; re-fetch src.
	src = tx.getPage(srcPgno)
	newPgno := np.pgno()
	copy(np.buf, src.buf)
	np.setPgno(newPgno)

	tx.freed = tx.freed.Insert(idFromPgid(srcPgno))

	if parent != nil {
		nodes := decodeNodes(parent)
		nodes[parentIdx].childPgno = newPgno
		if ok := encodeNodes(parent, false, nodes); !ok {
			return nil, fmt.Errorf("mdb: %w: parent overflow while patching child pointer", ErrNoSpace)
		}
	}

	return np, nil
}
