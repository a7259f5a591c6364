// Package idl implements the compact ordered integer list used by the
// free-list to represent sets of freed page numbers.
//
// Grounded on daicang-mk/pkg/freelist.go's ints/merge helpers, extended
// with the length-prefixed and single-range encodings the free-DB needs
// to persist a set of page numbers as a single record value.
package idl

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ID is a page number.
type ID uint64

// List is an ordered, deduplicated set of page numbers, kept sorted
// ascending in memory. Its on-disk encoding carries a length prefix at
// index 0, with an optional compact single-range representation when
// the set is one contiguous run: length==0 and the next two words hold
// [start, end] inclusive.
type List []ID

// New returns an empty list.
func New() List {
	return List{}
}

// FromSorted wraps an already-sorted, deduplicated slice without
// copying. Callers that cannot guarantee order should use Insert.
func FromSorted(ids []ID) List {
	return List(ids)
}

// Len returns the number of ids in the set.
func (l List) Len() int {
	return len(l)
}

// IsZero reports whether the list is empty.
func (l List) IsZero() bool {
	return len(l) == 0
}

// Last returns the greatest id in the list. Callers pop from this end
// when reclaiming a single page, matching the "tail of the IDL" wording
// used by the free-list allocator.
func (l List) Last() (ID, bool) {
	if len(l) == 0 {
		return 0, false
	}
	return l[len(l)-1], true
}

// Insert adds id to the set, keeping it sorted and unique. Returns the
// (possibly reallocated) list.
func (l List) Insert(id ID) List {
	i := sort.Search(len(l), func(i int) bool { return l[i] >= id })
	if i < len(l) && l[i] == id {
		return l
	}
	l = append(l, 0)
	copy(l[i+1:], l[i:])
	l[i] = id
	return l
}

// Append adds id to the end of the list without checking order; callers
// that build a list from an already-sorted source (e.g. draining a
// reclaim pool) use this to avoid the O(n) insert-shift.
func (l List) Append(id ID) List {
	return append(l, id)
}

// PopLast removes and returns the greatest id in the list.
func (l List) PopLast() (List, ID, bool) {
	if len(l) == 0 {
		return l, 0, false
	}
	id := l[len(l)-1]
	return l[:len(l)-1], id, true
}

// isContiguousRun reports whether the sorted list is exactly one run of
// consecutive integers, and if so returns its [start, end].
func (l List) isContiguousRun() (start, end ID, ok bool) {
	if len(l) == 0 {
		return 0, 0, false
	}
	start, end = l[0], l[len(l)-1]
	if ID(len(l)) != end-start+1 {
		return 0, 0, false
	}
	for i := 1; i < len(l); i++ {
		if l[i] != l[i-1]+1 {
			return 0, 0, false
		}
	}
	return start, end, true
}

// SizeBytes returns the number of bytes Encode will produce for this
// list, without actually encoding it.
func (l List) SizeBytes() int {
	if _, _, ok := l.isContiguousRun(); ok {
		return 3 * 8
	}
	return (1 + len(l)) * 8
}

// Encode serializes the list as a sequence of little-endian u64 words.
// A contiguous run is compressed to three words: 0, start, end.
func (l List) Encode() []byte {
	if start, end, ok := l.isContiguousRun(); ok {
		buf := make([]byte, 24)
		binary.LittleEndian.PutUint64(buf[0:8], 0)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(start))
		binary.LittleEndian.PutUint64(buf[16:24], uint64(end))
		return buf
	}
	buf := make([]byte, (1+len(l))*8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(l)))
	for i, id := range l {
		binary.LittleEndian.PutUint64(buf[(i+1)*8:(i+2)*8], uint64(id))
	}
	return buf
}

// Decode parses bytes produced by Encode.
func Decode(buf []byte) (List, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("idl: short buffer (%d bytes)", len(buf))
	}
	count := binary.LittleEndian.Uint64(buf[0:8])
	if count == 0 {
		if len(buf) == 8 {
			return List{}, nil // empty list: a bare zero length word
		}
		if len(buf) < 24 {
			return nil, fmt.Errorf("idl: short range encoding (%d bytes)", len(buf))
		}
		start := ID(binary.LittleEndian.Uint64(buf[8:16]))
		end := ID(binary.LittleEndian.Uint64(buf[16:24]))
		if end < start {
			return nil, fmt.Errorf("idl: bad range [%d, %d]", start, end)
		}
		out := make(List, 0, end-start+1)
		for id := start; id <= end; id++ {
			out = append(out, id)
		}
		return out, nil
	}
	want := int(1+count) * 8
	if len(buf) < want {
		return nil, fmt.Errorf("idl: short buffer: want %d have %d", want, len(buf))
	}
	out := make(List, count)
	for i := range out {
		out[i] = ID(binary.LittleEndian.Uint64(buf[(i+1)*8 : (i+2)*8]))
	}
	return out, nil
}

// Merge returns the sorted union of a and b, matching
// daicang-mk/pkg/freelist.go's merge() but operating on idl.List.
func Merge(a, b List) List {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(List, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
