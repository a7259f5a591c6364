package mdb

import "fmt"

// cursor.go implements ordered traversal over a dbi using an explicit
// stack of {page, index} frames, per spec.md §4.8. The stack can't hold
// parent pointers directly because copy-on-write may replace any page
// between descents; re-fetching by pgno through the owning Tx keeps
// the stack valid across writes within the same transaction.
type cursor struct {
	tx  *Tx
	dbi int

	stack []cursorFrame

	// dup* cache the current key's duplicate-value list for DUPSORT
	// navigation (xcursor.go), reset whenever the outer position moves.
	dupList [][]byte
	dupKey  []byte
	dupIdx  int
}

// Cursor opens a new cursor over dbi within tx.
func (tx *Tx) Cursor(dbi int) *cursor {
	return &cursor{tx: tx, dbi: dbi}
}

func (c *cursor) page(pgno pgid) *page {
	return c.tx.getPage(pgno)
}

// descendLeftmost / descendRightmost push frames from pgno down to the
// first or last leaf, used by First/Last.
func (c *cursor) descendLeftmost(pgno pgid) {
	for {
		p := c.page(pgno)
		if p.isLeaf() {
			c.stack = append(c.stack, cursorFrame{pgno: pgno, index: 0})
			return
		}
		c.stack = append(c.stack, cursorFrame{pgno: pgno, index: 0})
		nodes := decodeNodes(p)
		pgno = nodes[0].childPgno
	}
}

func (c *cursor) descendRightmost(pgno pgid) {
	for {
		p := c.page(pgno)
		nodes := decodeNodes(p)
		idx := len(nodes) - 1
		if idx < 0 {
			idx = 0
		}
		if p.isLeaf() {
			c.stack = append(c.stack, cursorFrame{pgno: pgno, index: idx})
			return
		}
		c.stack = append(c.stack, cursorFrame{pgno: pgno, index: idx})
		pgno = nodes[idx].childPgno
	}
}

func (c *cursor) currentLeafFrame() *cursorFrame {
	if len(c.stack) == 0 {
		return nil
	}
	return &c.stack[len(c.stack)-1]
}

func (c *cursor) currentNode() (decodedNode, bool) {
	f := c.currentLeafFrame()
	if f == nil {
		return decodedNode{}, false
	}
	nodes := decodeNodes(c.page(f.pgno))
	if f.index < 0 || f.index >= len(nodes) {
		return decodedNode{}, false
	}
	return nodes[f.index], true
}

func (c *cursor) clearDupCache() {
	c.dupList = nil
	c.dupKey = nil
	c.dupIdx = 0
}

func (c *cursor) first() ([]byte, []byte, error) {
	root := c.tx.dbRoot(c.dbi)
	if root == invalidPgno {
		return nil, nil, ErrNotFound
	}
	c.stack = nil
	c.clearDupCache()
	c.descendLeftmost(root)
	return c.currentKV()
}

func (c *cursor) last() ([]byte, []byte, error) {
	root := c.tx.dbRoot(c.dbi)
	if root == invalidPgno {
		return nil, nil, ErrNotFound
	}
	c.stack = nil
	c.clearDupCache()
	c.descendRightmost(root)
	return c.currentKV()
}

// set positions the cursor at key, or returns ErrNotFound.
func (c *cursor) set(key []byte) ([]byte, []byte, error) {
	k, v, err := c.setRange(key)
	if err != nil {
		return nil, nil, err
	}
	if c.tx.cmpFor(c.dbi)(k, key) != 0 {
		return nil, nil, ErrNotFound
	}
	return k, v, nil
}

// setRange positions the cursor at the first key >= key.
func (c *cursor) setRange(key []byte) ([]byte, []byte, error) {
	root := c.tx.dbRoot(c.dbi)
	if root == invalidPgno {
		return nil, nil, ErrNotFound
	}
	cmp := c.tx.cmpFor(c.dbi)
	c.stack = nil
	c.clearDupCache()
	pgno := root
	for {
		p := c.page(pgno)
		nodes := decodeNodes(p)
		if p.isLeaf() {
			idx := searchLeaf(nodes, key, cmp)
			c.stack = append(c.stack, cursorFrame{pgno: pgno, index: idx})
			if idx >= len(nodes) {
				return c.next()
			}
			return c.currentKV()
		}
		idx := searchBranch(nodes, key, cmp)
		c.stack = append(c.stack, cursorFrame{pgno: pgno, index: idx})
		pgno = nodes[idx].childPgno
	}
}

func (c *cursor) currentKV() ([]byte, []byte, error) {
	n, ok := c.currentNode()
	if !ok {
		return nil, nil, ErrNotFound
	}
	val, err := c.tx.readNodeValue(n)
	if err != nil {
		return nil, nil, err
	}
	if n.isDupList() {
		// A DUPSORT key lands on its first (smallest) duplicate.
		list := decodeDupList(val)
		if len(list) == 0 {
			return nil, nil, ErrNotFound
		}
		c.dupList, c.dupKey, c.dupIdx = list, n.key, 0
		return n.key, list[0], nil
	}
	return n.key, val, nil
}

// next advances to the following key in order, climbing the stack when
// the current leaf is exhausted.
func (c *cursor) next() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return nil, nil, ErrNotFound
	}
	c.clearDupCache()
	f := &c.stack[len(c.stack)-1]
	leaf := c.page(f.pgno)
	nodes := decodeNodes(leaf)
	f.index++
	if f.index < len(nodes) {
		return c.currentKV()
	}

	// pop up until we find an ancestor with a next sibling to descend into.
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parentFrame := &c.stack[len(c.stack)-1]
		parent := c.page(parentFrame.pgno)
		parentNodes := decodeNodes(parent)
		parentFrame.index++
		if parentFrame.index < len(parentNodes) {
			c.descendLeftmost(parentNodes[parentFrame.index].childPgno)
			return c.currentKV()
		}
	}
	c.stack = nil
	return nil, nil, ErrNotFound
}

// prev is next's mirror image.
func (c *cursor) prev() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return nil, nil, ErrNotFound
	}
	c.clearDupCache()
	f := &c.stack[len(c.stack)-1]
	f.index--
	if f.index >= 0 {
		return c.currentKV()
	}

	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parentFrame := &c.stack[len(c.stack)-1]
		parentFrame.index--
		if parentFrame.index >= 0 {
			parent := c.page(parentFrame.pgno)
			parentNodes := decodeNodes(parent)
			c.descendRightmost(parentNodes[parentFrame.index].childPgno)
			return c.currentKV()
		}
	}
	c.stack = nil
	return nil, nil, ErrNotFound
}

// Get implements the CursorOp-driven navigation API spec.md §4.8
// exposes (First/Last/Next/Prev/Set/SetRange). The DUPSORT-only ops
// (NextDup, PrevDup, NextNoDup, PrevNoDup, GetBoth, GetBothRange) are
// handled by xcursor.go when the underlying DB has DupSort set.
func (c *cursor) Get(op CursorOp, key, value []byte) ([]byte, []byte, error) {
	switch op {
	case First:
		return c.first()
	case Last:
		return c.last()
	case Next:
		return c.next()
	case Prev:
		return c.prev()
	case Set:
		return c.set(key)
	case SetRange:
		return c.setRange(key)
	default:
		return c.dupOp(op, key, value)
	}
}

func (c *cursor) dupOp(op CursorOp, key, value []byte) ([]byte, []byte, error) {
	desc := c.tx.dbDesc[c.dbi]
	if desc.Flags&uint16(DupSort) == 0 {
		return nil, nil, fmt.Errorf("mdb: %w: op %d requires DUPSORT", ErrInvalid, op)
	}
	return c.dupsortGet(op, key, value)
}
