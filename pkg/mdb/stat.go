package mdb

// Stat exposes the bookkeeping fields of a DBDesc for introspection,
// matching the mdb_stat() shape spec.md §4.10 expects any embedded KV
// store to provide.
type Stat struct {
	Entries       uint64
	Depth         uint16
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
}

// Stat returns current bookkeeping counters for dbi, as seen by this
// transaction's snapshot.
func (tx *Tx) Stat(dbi int) Stat {
	d := tx.dbDesc[dbi]
	return Stat{
		Entries:       d.Entries,
		Depth:         d.Depth,
		BranchPages:   d.BranchPages,
		LeafPages:     d.LeafPages,
		OverflowPages: d.OverflowPages,
	}
}
