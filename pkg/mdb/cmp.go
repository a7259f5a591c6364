package mdb

import "bytes"

// CmpFunc compares two keys, returning <0, 0, >0 like bytes.Compare.
// Generalizes the lessThan/equalTo helpers on daicang-mk/pkg/node.go's
// KeyType into a pluggable comparator, as spec.md §4.2 requires for
// REVERSEKEY/INTEGERKEY/user-supplied comparisons.
type CmpFunc func(a, b []byte) int

// CmpLexical is the default forward byte-lexicographic comparator.
func CmpLexical(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CmpReverse compares keys byte-for-byte from the end, used for
// REVERSEKEY, and for INTEGERKEY on little-endian hosts where
// byte-reverse order matches numeric order.
func CmpReverse(a, b []byte) int {
	la, lb := len(a), len(b)
	for i := 1; i <= la && i <= lb; i++ {
		ca, cb := a[la-i], b[lb-i]
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	if la == lb {
		return 0
	}
	if la < lb {
		return -1
	}
	return 1
}

// littleEndianHost is true on every build target this module supports
// (amd64/arm64); kept as a named constant rather than inline so the
// choice in cmpForFlags below reads as a deliberate decision, as
// spec.md §4.2 calls out explicitly ("for INTEGERKEY when the host is
// little-endian").
const littleEndianHost = true

// cmpForFlags selects the key comparator for a DB from its flags.
func cmpForFlags(flags uint32, userCmp CmpFunc) CmpFunc {
	if userCmp != nil {
		return userCmp
	}
	switch {
	case flags&ReverseKey != 0:
		return CmpReverse
	case flags&IntegerKey != 0 && littleEndianHost:
		return CmpReverse
	case flags&IntegerKey != 0:
		return CmpLexical
	default:
		return CmpLexical
	}
}
