package mdb

import "sort"

// search.go implements binary search down a B+tree page chain.
// Grounded on daicang-mk/pkg/node.go's search, generalized to work over
// decodedNode scratch slices and a pluggable CmpFunc per spec.md §4.4.

// searchResult records the leaf page reached and the index of the
// matching (or insertion-point) node within it.
type searchResult struct {
	page  *page
	index int
	nodes []decodedNode
	stack []cursorFrame
}

// cursorFrame is one level of the path taken to reach a leaf, kept so
// callers (insert/delete/rebalance) can walk back up to parents without
// re-searching.
type cursorFrame struct {
	pgno  pgid
	index int
}

// searchPage walks from root to the leaf that should contain key,
// returning the decoded leaf and the path taken.
func (tx *Tx) searchPage(root pgid, key []byte, cmp CmpFunc) (*searchResult, error) {
	var stack []cursorFrame
	id := root
	for {
		p := tx.getPage(id)
		if p.isLeaf() {
			nodes := decodeNodes(p)
			idx := searchLeaf(nodes, key, cmp)
			return &searchResult{page: p, index: idx, nodes: nodes, stack: stack}, nil
		}
		nodes := decodeNodes(p)
		idx := searchBranch(nodes, key, cmp)
		stack = append(stack, cursorFrame{pgno: id, index: idx})
		id = nodes[idx].childPgno
	}
}

// searchBranch returns the index of the child to descend into: the
// last node whose key is <= key, or 0 if key is less than every key
// (branch index 0 holds no key and stands for negative infinity).
func searchBranch(nodes []decodedNode, key []byte, cmp CmpFunc) int {
	i := sort.Search(len(nodes), func(i int) bool {
		if i == 0 {
			return false
		}
		return cmp(nodes[i].key, key) > 0
	})
	return i - 1
}

// searchLeaf returns the index of the first node whose key is >= key
// (an exact match, or the insertion point).
func searchLeaf(nodes []decodedNode, key []byte, cmp CmpFunc) int {
	return sort.Search(len(nodes), func(i int) bool {
		return cmp(nodes[i].key, key) >= 0
	})
}
