package mdb

import "fmt"

// insert.go implements Put: descend to the target leaf under
// copy-on-write, insert or overwrite the node, and split up the tree
// as far as needed. Grounded on daicang-mk/pkg/node.go's insert plus
// spec.md §4.3/§4.5.

// Put stores key/value in dbi, subject to flags (NoOverwrite fails with
// ErrKeyExist if the key exists in a non-DUPSORT dbi; NoDupData fails
// with ErrKeyExist if a DUPSORT key already holds the same value).
func (tx *Tx) Put(dbi int, key, value []byte, flags uint32) error {
	if !tx.writable {
		return fmt.Errorf("mdb: %w: read-only tx", ErrPerm)
	}
	if len(key) == 0 || len(key) > MaxKeySize {
		return fmt.Errorf("mdb: %w: key size %d", ErrInvalid, len(key))
	}
	if tx.dbDesc[dbi].Flags&uint16(DupSort) != 0 {
		return tx.putDup(dbi, key, value, flags)
	}
	return tx.put(dbi, key, value, flags)
}

func (tx *Tx) put(dbi int, key, value []byte, flags uint32) error {
	cmp := tx.cmpFor(dbi)

	leaf, stack, isNewTree, err := tx.descendForWrite(dbi, key, cmp)
	if err != nil {
		return err
	}

	node, err := tx.buildLeafNode(key, value)
	if err != nil {
		return err
	}

	if isNewTree {
		ok := encodeNodes(leaf, true, []decodedNode{node})
		if !ok {
			return fmt.Errorf("mdb: %w: value too large for empty page", ErrNoSpace)
		}
		d := tx.dbDesc[dbi]
		d.LeafPages = 1
		d.Depth = 1
		d.Entries = 1
		tx.dbDesc[dbi] = d
		tx.dbDirty[dbi] = true
		return nil
	}

	nodes := decodeNodes(leaf)
	idx := searchLeaf(nodes, key, cmp)
	existed := idx < len(nodes) && cmp(nodes[idx].key, key) == 0

	if existed {
		if flags&NoOverwrite != 0 {
			return ErrKeyExist
		}
		nodes[idx] = node
	} else {
		nodes = append(nodes, decodedNode{})
		copy(nodes[idx+1:], nodes[idx:])
		nodes[idx] = node
	}

	if !existed {
		tx.bumpEntries(dbi, 1)
	}

	if encodeNodes(leaf, true, nodes) {
		return nil
	}

	return tx.splitLeaf(dbi, leaf, nodes, stack)
}

// descendForWrite walks from dbi's root to the leaf that should hold
// key, copy-on-writing every page along the way. isNewTree is true
// when the DB had no root yet, in which case leaf is a freshly
// allocated empty page.
func (tx *Tx) descendForWrite(dbi int, key []byte, cmp CmpFunc) (leaf *page, stack []cursorFrame, isNewTree bool, err error) {
	root := tx.dbRoot(dbi)
	if root == invalidPgno {
		p, err := tx.allocPage(1)
		if err != nil {
			return nil, nil, false, err
		}
		p.addFlag(PageLeaf)
		p.setLower(pageHeaderSize)
		p.setUpper(uint16(len(p.buf)))
		tx.setDBRoot(dbi, p.pgno())
		return p, nil, true, nil
	}

	var parent *page
	parentIdx := -1
	curPgno := root

	for {
		src := tx.getPage(curPgno)
		touched, terr := tx.touch(src, parent, parentIdx)
		if terr != nil {
			return nil, nil, false, terr
		}
		if parent == nil && touched.pgno() != root {
			tx.setDBRoot(dbi, touched.pgno())
		}
		if touched.isLeaf() {
			return touched, stack, false, nil
		}
		nodes := decodeNodes(touched)
		idx := searchBranch(nodes, key, cmp)
		stack = append(stack, cursorFrame{pgno: touched.pgno(), index: idx})
		parent = touched
		parentIdx = idx
		curPgno = nodes[idx].childPgno
	}
}

// buildLeafNode encodes value inline, or as a BIGDATA overflow chain
// head when it is large enough to cross minKeysDivisor's threshold.
func (tx *Tx) buildLeafNode(key, value []byte) (decodedNode, error) {
	return tx.buildNodeFromBytes(key, value, 0)
}

func (tx *Tx) pageSize() int { return tx.db.pageSize }

func (tx *Tx) bumpEntries(dbi int, delta int64) {
	d := tx.dbDesc[dbi]
	d.Entries = uint64(int64(d.Entries) + delta)
	tx.dbDesc[dbi] = d
	tx.dbDirty[dbi] = true
}
