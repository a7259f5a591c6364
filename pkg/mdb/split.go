package mdb

import "fmt"

// split.go implements page splitting and upward propagation, per
// spec.md §4.5: copy the overflowing page's nodes to scratch, divide
// them roughly in half between the original page and a new sibling,
// and insert a separator key for the sibling into the parent -
// recursing if the parent itself overflows, and growing the tree by
// one level if the split reaches the root.

// splitLeaf is called when encodeNodes on a leaf returns false: nodes
// is the full desired content (one too many to fit on leaf alone).
func (tx *Tx) splitLeaf(dbi int, leaf *page, nodes []decodedNode, stack []cursorFrame) error {
	left, right, sepKey, err := tx.divideAndWrite(leaf, true, nodes)
	if err != nil {
		return err
	}
	d := tx.dbDesc[dbi]
	d.LeafPages++
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true

	return tx.propagateSplit(dbi, left, right, sepKey, stack)
}

// divideAndWrite splits nodes across src (rewritten in place) and a
// freshly allocated sibling, returning both pages and the sibling's
// first key as the separator to insert into the parent.
func (tx *Tx) divideAndWrite(src *page, isLeaf bool, nodes []decodedNode) (leftPgno, rightPgno pgid, sepKey []byte, err error) {
	mid := len(nodes) / 2
	leftNodes, rightNodes := nodes[:mid], nodes[mid:]

	if !encodeNodes(src, isLeaf, leftNodes) {
		return 0, 0, nil, fmt.Errorf("mdb: %w: left half still does not fit after split", ErrNoSpace)
	}

	sep := append([]byte(nil), rightNodes[0].key...)

	sibling, err := tx.allocPage(1)
	if err != nil {
		return 0, 0, nil, err
	}
	if !isLeaf {
		// Branch index 0 carries no key (searchBranch's "less than
		// everything" convention); the real separator lives in sep,
		// already copied above, and must not also sit in the sibling.
		rightNodes[0].key = nil
	}
	if !encodeNodes(sibling, isLeaf, rightNodes) {
		return 0, 0, nil, fmt.Errorf("mdb: %w: right half does not fit after split", ErrNoSpace)
	}

	return src.pgno(), sibling.pgno(), sep, nil
}

// propagateSplit inserts a separator for newRight into the parent
// named by the top of stack (the child pointer there currently points
// at existingLeft). If the parent overflows it splits too, recursing
// until either a parent absorbs the new entry or the stack is
// exhausted, in which case a new root is created with exactly two
// children, preserving the invariant spec.md §9 calls out.
func (tx *Tx) propagateSplit(dbi int, existingLeft, newRight pgid, sepKey []byte, stack []cursorFrame) error {
	if len(stack) == 0 {
		return tx.newRoot(dbi, existingLeft, newRight, sepKey)
	}

	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]

	parent := tx.getPage(top.pgno)
	nodes := decodeNodes(parent)

	newNode := decodedNode{key: sepKey, childPgno: newRight}
	insertAt := top.index + 1
	nodes = append(nodes, decodedNode{})
	copy(nodes[insertAt+1:], nodes[insertAt:])
	nodes[insertAt] = newNode

	if encodeNodes(parent, false, nodes) {
		return nil
	}

	left, right, sep, err := tx.divideAndWrite(parent, false, nodes)
	if err != nil {
		return err
	}
	d := tx.dbDesc[dbi]
	d.BranchPages++
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true
	return tx.propagateSplit(dbi, left, right, sep, rest)
}

// newRoot builds a fresh branch page with exactly two children: the
// old root (now left) and the new sibling produced by its split. The
// first child slot carries no key (branch index 0 means "less than
// everything"), matching searchBranch's convention.
func (tx *Tx) newRoot(dbi int, left, right pgid, sepKey []byte) error {
	p, err := tx.allocPage(1)
	if err != nil {
		return err
	}
	nodes := []decodedNode{
		{key: nil, childPgno: left},
		{key: sepKey, childPgno: right},
	}
	if !encodeNodes(p, false, nodes) {
		return fmt.Errorf("mdb: %w: new root does not fit two children", ErrNoSpace)
	}
	tx.setDBRoot(dbi, p.pgno())
	d := tx.dbDesc[dbi]
	d.Depth++
	d.BranchPages++
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true
	return nil
}
