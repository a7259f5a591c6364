package mdb

// rebalance.go keeps the tree within spec.md §4.6's bounds after a
// deletion shrinks a page: pages below MinKeys or fillThreshold are
// merged into a sibling when the combined content fits one page, or
// have one node moved across from a sibling (redistribution)
// otherwise. A root that collapses to a single child is replaced by
// that child, preserving the "freshly-split root has exactly two
// children" invariant in the other direction: a root is never left
// with fewer than it needs to be useful.

func (tx *Tx) rebalance(dbi int, leaf *page, stack []cursorFrame) error {
	return tx.rebalancePage(dbi, leaf, stack)
}

func (tx *Tx) rebalancePage(dbi int, p *page, stack []cursorFrame) error {
	isLeaf := p.isLeaf()
	nodes := decodeNodes(p)

	needsWork := len(nodes) < MinKeys
	if !needsWork && len(stack) > 0 {
		needsWork = fillRatio(p) < fillThreshold
	}
	if !needsWork {
		return nil
	}

	if len(stack) == 0 {
		return tx.rebalanceRoot(dbi, p, nodes, isLeaf)
	}

	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	parent := tx.getPage(top.pgno)
	parentNodes := decodeNodes(parent)

	siblingIdx := top.index + 1
	mergeLeft := false
	if siblingIdx >= len(parentNodes) {
		siblingIdx = top.index - 1
		mergeLeft = true
	}
	if siblingIdx < 0 {
		return nil // only child, nothing to balance against
	}

	siblingPgno := parentNodes[siblingIdx].childPgno
	sibling := tx.getPage(siblingPgno)
	touchedSibling, err := tx.touch(sibling, parent, siblingIdx)
	if err != nil {
		return err
	}
	parentNodes = decodeNodes(parent) // touch repointed the sibling's slot
	siblingNodes := decodeNodes(touchedSibling)

	var combined []decodedNode
	if mergeLeft {
		combined = append(append([]decodedNode{}, siblingNodes...), nodes...)
	} else {
		combined = append(append([]decodedNode{}, nodes...), siblingNodes...)
	}

	if encodeNodes(p, isLeaf, combined) {
		return tx.finishMerge(dbi, isLeaf, p, touchedSibling, mergeLeft, top, parentNodes, rest)
	}

	return tx.redistribute(dbi, p, touchedSibling, nodes, siblingNodes, mergeLeft, isLeaf, parent, top.index, siblingIdx, parentNodes)
}

// finishMerge absorbs touchedSibling's content into p (already
// written) and removes touchedSibling's child slot (and the separator
// key preceding it) from parent, recursing the rebalance check upward.
func (tx *Tx) finishMerge(dbi int, isLeaf bool, p, sibling *page, mergeLeft bool, top cursorFrame, parentNodes []decodedNode, rest []cursorFrame) error {
	removeIdx := top.index + 1
	if mergeLeft {
		removeIdx = top.index
		// the surviving page is now reachable through the sibling's old
		// slot; point that slot at p and drop the slot that named p.
		parentNodes[top.index-1].childPgno = p.pgno()
	}
	parentNodes = append(parentNodes[:removeIdx], parentNodes[removeIdx+1:]...)

	parentPage := tx.getPage(top.pgno)
	encodeNodes(parentPage, false, parentNodes)

	tx.freed = tx.freed.Insert(idFromPgid(sibling.pgno()))

	d := tx.dbDesc[dbi]
	if isLeaf {
		d.LeafPages--
	} else {
		d.BranchPages--
	}
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true

	return tx.rebalancePage(dbi, parentPage, rest)
}

// redistribute moves the sibling's outermost node into p and adjusts
// the parent's separator key, used when a merge would overflow a
// single page.
func (tx *Tx) redistribute(dbi int, p, sibling *page, nodes, siblingNodes []decodedNode, mergeLeft, isLeaf bool, parent *page, pIdx, sIdx int, parentNodes []decodedNode) error {
	var moved decodedNode
	if mergeLeft {
		moved = siblingNodes[len(siblingNodes)-1]
		siblingNodes = siblingNodes[:len(siblingNodes)-1]
		nodes = append([]decodedNode{moved}, nodes...)
	} else {
		moved = siblingNodes[0]
		siblingNodes = siblingNodes[1:]
		nodes = append(nodes, moved)
	}

	if !encodeNodes(p, isLeaf, nodes) {
		return nil
	}
	if !encodeNodes(sibling, isLeaf, siblingNodes) {
		return nil
	}

	sepIdx := pIdx
	if !mergeLeft {
		sepIdx = sIdx
	}
	if sepIdx > 0 && sepIdx < len(parentNodes) {
		if mergeLeft {
			parentNodes[sepIdx].key = append([]byte(nil), moved.key...)
		} else {
			parentNodes[sepIdx].key = append([]byte(nil), siblingNodes[0].key...)
		}
		pp := tx.getPage(parent.pgno())
		encodeNodes(pp, false, parentNodes)
	}
	return nil
}

// rebalanceRoot collapses a root branch with a single remaining child
// down to that child, shrinking the tree's depth by one, or - for a
// root leaf that drops to zero keys - empties the tree entirely.
func (tx *Tx) rebalanceRoot(dbi int, root *page, nodes []decodedNode, isLeaf bool) error {
	if isLeaf {
		if len(nodes) != 0 {
			return nil
		}
		tx.setDBRoot(dbi, invalidPgno)
		tx.freed = tx.freed.Insert(idFromPgid(root.pgno()))

		d := tx.dbDesc[dbi]
		if d.Depth > 0 {
			d.Depth--
		}
		if d.LeafPages > 0 {
			d.LeafPages--
		}
		tx.dbDesc[dbi] = d
		tx.dbDirty[dbi] = true
		return nil
	}

	if len(nodes) != 1 {
		return nil
	}
	child := nodes[0].childPgno
	tx.setDBRoot(dbi, child)
	tx.freed = tx.freed.Insert(idFromPgid(root.pgno()))

	d := tx.dbDesc[dbi]
	if d.Depth > 0 {
		d.Depth--
	}
	if d.BranchPages > 0 {
		d.BranchPages--
	}
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true
	return nil
}
