package mdb

import "fmt"

// del.go implements Delete: descend under copy-on-write to the target
// leaf, remove the node (freeing its overflow chain if BIGDATA), and
// rebalance back up the tree. Grounded on spec.md §4.6.

// Delete removes key from dbi. For a DUPSORT database, a non-nil value
// selects the one duplicate to remove (with or without DelDup); a nil
// value removes the key and every duplicate.
func (tx *Tx) Delete(dbi int, key, value []byte, flags uint32) error {
	if !tx.writable {
		return fmt.Errorf("mdb: %w: read-only tx", ErrPerm)
	}
	if tx.dbDesc[dbi].Flags&uint16(DupSort) != 0 {
		return tx.delDup(dbi, key, value, flags)
	}
	return tx.del(dbi, key, flags)
}

func (tx *Tx) del(dbi int, key []byte, flags uint32) error {
	cmp := tx.cmpFor(dbi)
	root := tx.dbRoot(dbi)
	if root == invalidPgno {
		return ErrNotFound
	}

	leaf, stack, err := tx.descendForDelete(dbi, key, cmp)
	if err != nil {
		return err
	}

	nodes := decodeNodes(leaf)
	idx := searchLeaf(nodes, key, cmp)
	if idx >= len(nodes) || cmp(nodes[idx].key, key) != 0 {
		return ErrNotFound
	}

	if nodes[idx].isBigData() {
		if err := tx.freeOverflowChain(nodes[idx]); err != nil {
			return err
		}
	}

	nodes = append(nodes[:idx], nodes[idx+1:]...)
	if !encodeNodes(leaf, true, nodes) {
		return fmt.Errorf("mdb: %w: shrinking a page can't overflow it", ErrNoSpace)
	}

	tx.bumpEntries(dbi, -1)

	return tx.rebalance(dbi, leaf, stack)
}

// descendForDelete mirrors descendForWrite's copy-on-write walk; kept
// separate so Put and Delete can evolve independently (e.g. Delete
// never creates a new tree).
func (tx *Tx) descendForDelete(dbi int, key []byte, cmp CmpFunc) (*page, []cursorFrame, error) {
	var stack []cursorFrame
	var parent *page
	parentIdx := -1
	curPgno := tx.dbRoot(dbi)

	for {
		src := tx.getPage(curPgno)
		touched, err := tx.touch(src, parent, parentIdx)
		if err != nil {
			return nil, nil, err
		}
		if parent == nil {
			tx.setDBRoot(dbi, touched.pgno())
		}
		if touched.isLeaf() {
			return touched, stack, nil
		}
		nodes := decodeNodes(touched)
		idx := searchBranch(nodes, key, cmp)
		stack = append(stack, cursorFrame{pgno: touched.pgno(), index: idx})
		parent = touched
		parentIdx = idx
		curPgno = nodes[idx].childPgno
	}
}

// freeOverflowChain marks every page of a BIGDATA value's overflow run
// as freed at this tx.
func (tx *Tx) freeOverflowChain(n decodedNode) error {
	start := pgid(lePgnoFromBytes(n.data))
	p := tx.getPage(start)
	count := 1
	if p.hasFlag(PageOverflow) {
		count = int(p.overflowCount()) + 1
	}
	for i := 0; i < count; i++ {
		tx.freed = tx.freed.Insert(idFromPgid(start + pgid(i)))
	}
	return nil
}
