package mdb

import (
	"encoding/binary"
	"sort"
)

// xcursor.go implements DUPSORT: a DB opened with the DupSort flag
// stores, for each outer key, a sorted list of distinct values instead
// of a single value. spec.md §4.7 describes this as a nested B+tree
// embedded in the leaf node's data area; this implementation keeps the
// sorted list as a flat length-prefixed blob instead of a full nested
// tree (see DESIGN.md "DUPSORT as inline sorted list"), reusing the
// same BIGDATA overflow-chain mechanism plain values use once the list
// grows past the inline threshold, so a key with many duplicates still
// spills to overflow pages rather than forcing an oversized leaf.
//
// The outer node is marked with NodeDupList to distinguish "this node's
// data is a dup-list blob" from a plain value or a named sub-DB's
// descriptor entry (NodeSubData) — a separate bit, since a DUPSORT key
// and a sub-DB name are two independent things a node can hold.

func encodeDupList(vals [][]byte) []byte {
	total := 4
	for _, v := range vals {
		total += 4 + len(v)
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vals)))
	off := 4
	for _, v := range vals {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(v)))
		off += 4
		copy(buf[off:], v)
		off += len(v)
	}
	return buf
}

func decodeDupList(buf []byte) [][]byte {
	if len(buf) < 4 {
		return nil
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	out := make([][]byte, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		l := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		out = append(out, buf[off:off+l])
		off += l
	}
	return out
}

func dupInsert(list [][]byte, v []byte, noDup bool) ([][]byte, bool, error) {
	i := sort.Search(len(list), func(i int) bool { return CmpLexical(list[i], v) >= 0 })
	if i < len(list) && CmpLexical(list[i], v) == 0 {
		if noDup {
			return list, false, ErrKeyExist
		}
		return list, false, nil
	}
	out := append(list, nil)
	copy(out[i+1:], out[i:])
	out[i] = append([]byte(nil), v...)
	return out, true, nil
}

func dupRemove(list [][]byte, v []byte) ([][]byte, bool) {
	i := sort.Search(len(list), func(i int) bool { return CmpLexical(list[i], v) >= 0 })
	if i >= len(list) || CmpLexical(list[i], v) != 0 {
		return list, false
	}
	return append(list[:i], list[i+1:]...), true
}

// buildNodeFromBytes is the shared node-construction path for plain
// values and sub-DB descriptors (baseFlags 0; markSubData sets
// NodeSubData on a descriptor afterwards) and dup-list blobs (baseFlags
// NodeDupList): inline when small, BIGDATA overflow chain otherwise.
func (tx *Tx) buildNodeFromBytes(key, raw []byte, baseFlags uint8) (decodedNode, error) {
	threshold := tx.db.pageSize / minKeysDivisor
	if len(raw) < threshold {
		return decodedNode{key: key, flags: baseFlags, dataSize: len(raw), data: raw}, nil
	}

	pages := (len(raw) + tx.pageSize() - pageHeaderSize - 1) / (tx.pageSize() - pageHeaderSize)
	if pages < 1 {
		pages = 1
	}
	op, err := tx.allocPage(pages)
	if err != nil {
		return decodedNode{}, err
	}
	remaining := raw
	for i := 0; i < pages; i++ {
		chunk := remaining
		room := tx.pageSize() - pageHeaderSize
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		copy(op.buf[i*tx.pageSize()+pageHeaderSize:], chunk)
		remaining = remaining[len(chunk):]
	}
	head := make([]byte, 8)
	for i := 0; i < 8; i++ {
		head[i] = byte(op.pgno() >> (8 * i))
	}
	return decodedNode{key: key, flags: baseFlags | NodeBigData, dataSize: len(raw), data: head}, nil
}

// putDup inserts value into key's duplicate set.
func (tx *Tx) putDup(dbi int, key, value []byte, flags uint32) error {
	cmp := tx.cmpFor(dbi)
	leaf, stack, isNewTree, err := tx.descendForWrite(dbi, key, cmp)
	if err != nil {
		return err
	}

	if isNewTree {
		node, err := tx.buildNodeFromBytes(key, encodeDupList([][]byte{value}), NodeDupList)
		if err != nil {
			return err
		}
		if !encodeNodes(leaf, true, []decodedNode{node}) {
			return ErrNoSpace
		}
		d := tx.dbDesc[dbi]
		d.LeafPages, d.Depth, d.Entries = 1, 1, 1
		tx.dbDesc[dbi] = d
		tx.dbDirty[dbi] = true
		return nil
	}

	nodes := decodeNodes(leaf)
	idx := searchLeaf(nodes, key, cmp)
	existed := idx < len(nodes) && cmp(nodes[idx].key, key) == 0

	var list [][]byte
	if existed {
		raw, err := tx.readNodeValue(nodes[idx])
		if err != nil {
			return err
		}
		list = decodeDupList(raw)
	}
	list, added, err := dupInsert(list, value, flags&NoDupData != 0)
	if err != nil {
		return err
	}

	node, err := tx.buildNodeFromBytes(key, encodeDupList(list), NodeDupList)
	if err != nil {
		return err
	}

	if existed {
		nodes[idx] = node
	} else {
		nodes = append(nodes, decodedNode{})
		copy(nodes[idx+1:], nodes[idx:])
		nodes[idx] = node
	}
	if added {
		tx.bumpEntries(dbi, 1)
	}

	if encodeNodes(leaf, true, nodes) {
		return nil
	}
	return tx.splitLeaf(dbi, leaf, nodes, stack)
}

// delDup removes value from key's duplicate set (or the whole key and
// all its duplicates when value is nil).
func (tx *Tx) delDup(dbi int, key, value []byte, flags uint32) error {
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

	if value == nil {
		raw, err := tx.readNodeValue(nodes[idx])
		if err != nil {
			return err
		}
		n := len(decodeDupList(raw))
		if nodes[idx].isBigData() {
			if err := tx.freeOverflowChain(nodes[idx]); err != nil {
				return err
			}
		}
		nodes = append(nodes[:idx], nodes[idx+1:]...)
		if !encodeNodes(leaf, true, nodes) {
			return ErrNoSpace
		}
		tx.bumpEntries(dbi, -int64(n))
		return tx.rebalance(dbi, leaf, stack)
	}

	raw, err := tx.readNodeValue(nodes[idx])
	if err != nil {
		return err
	}
	list := decodeDupList(raw)
	list, removed := dupRemove(list, value)
	if !removed {
		return ErrNotFound
	}

	if len(list) == 0 {
		if nodes[idx].isBigData() {
			if err := tx.freeOverflowChain(nodes[idx]); err != nil {
				return err
			}
		}
		nodes = append(nodes[:idx], nodes[idx+1:]...)
	} else {
		node, err := tx.buildNodeFromBytes(key, encodeDupList(list), NodeDupList)
		if err != nil {
			return err
		}
		nodes[idx] = node
	}
	if !encodeNodes(leaf, true, nodes) {
		return ErrNoSpace
	}
	tx.bumpEntries(dbi, -1)
	return tx.rebalance(dbi, leaf, stack)
}

// dupsortGet services the DUPSORT-specific cursor ops. c.stack must
// already name a leaf frame pointing at a dup-list node (callers that
// start from a fresh cursor should Set(key) first).
func (c *cursor) dupsortGet(op CursorOp, key, value []byte) ([]byte, []byte, error) {
	switch op {
	case GetBoth, GetBothRange:
		return c.getBoth(key, op == GetBothRange, value)
	case NextDup:
		return c.stepDup(1)
	case PrevDup:
		return c.stepDup(-1)
	case NextNoDup:
		return c.next()
	case PrevNoDup:
		return c.prev()
	default:
		return nil, nil, ErrInvalid
	}
}

// getBoth positions on key, then within its dup list, optionally
// passed a specific value to match (exact or range).
func (c *cursor) getBoth(key []byte, rangeMatch bool, value []byte) ([]byte, []byte, error) {
	_, _, err := c.set(key)
	if err != nil {
		return nil, nil, err
	}
	n, ok := c.currentNode()
	if !ok {
		return nil, nil, ErrNotFound
	}
	raw, err := c.tx.readNodeValue(n)
	if err != nil {
		return nil, nil, err
	}
	list := decodeDupList(raw)
	if len(list) == 0 {
		return nil, nil, ErrNotFound
	}
	c.dupList = list
	c.dupKey = key
	if value == nil {
		c.dupIdx = 0
		return key, list[0], nil
	}
	i := sort.Search(len(list), func(i int) bool { return CmpLexical(list[i], value) >= 0 })
	if i >= len(list) || (!rangeMatch && CmpLexical(list[i], value) != 0) {
		return nil, nil, ErrNotFound
	}
	c.dupIdx = i
	return key, list[i], nil
}

func (c *cursor) stepDup(delta int) ([]byte, []byte, error) {
	if c.dupList == nil {
		n, ok := c.currentNode()
		if !ok {
			return nil, nil, ErrNotFound
		}
		raw, err := c.tx.readNodeValue(n)
		if err != nil {
			return nil, nil, err
		}
		c.dupList = decodeDupList(raw)
		c.dupKey = n.key
		c.dupIdx = -1
	}
	c.dupIdx += delta
	if c.dupIdx < 0 || c.dupIdx >= len(c.dupList) {
		return nil, nil, ErrNotFound
	}
	return c.dupKey, c.dupList[c.dupIdx], nil
}
