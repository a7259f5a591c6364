package mdb

import (
	"encoding/binary"

	"github.com/daicang/mdb/pkg/idl"
)

// freelist.go bridges pkg/idl's page-id list encoding with the free-DB
// (dbs[0]), a reserved B+tree keyed by the 8-byte little-endian txnid
// that freed a batch of pages, valued with that batch's idl.Encode()
// bytes. Grounded on spec.md §4.1/§4.10 and on how daicang-mk/pkg/db.go
// keeps a flat freelist slice, generalized into a persisted, reusable
// structure the way real LMDB's MDB_dbi 0 works.

func idFromPgid(p pgid) idl.ID { return idl.ID(p) }
func pgidFromID(id idl.ID) pgid { return pgid(id) }

func freeKey(t txnid) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t))
	return b
}

func freeKeyTxnid(k []byte) txnid {
	return txnid(binary.LittleEndian.Uint64(k))
}

// popReclaim removes and returns the last id in the pool, LMDB's
// pattern of consuming the reclaim pool from its tail.
func popReclaim(pool idl.List) (idl.ID, idl.List, bool) {
	rest, id, ok := pool.PopLast()
	return id, rest, ok
}

// popReclaimRun looks for num ids in pool forming a contiguous
// ascending run and returns the run's first id if found.
func popReclaimRun(pool idl.List, num int) (pgid, bool) {
	if num <= 1 || pool.Len() < num {
		return 0, false
	}
	for i := 0; i+num <= pool.Len(); i++ {
		ok := true
		for j := 1; j < num; j++ {
			if pool[i+j] != pool[i]+idl.ID(j) {
				ok = false
				break
			}
		}
		if ok {
			return pgid(pool[i]), true
		}
	}
	return 0, false
}

// removeRun deletes the num ids starting at pgno start from pool.
func removeRun(pool idl.List, start pgid, num int) idl.List {
	out := idl.New()
	for _, id := range pool {
		if id >= idl.ID(start) && id < idl.ID(start)+idl.ID(num) {
			continue
		}
		out = out.Append(id)
	}
	return idl.FromSorted(out)
}

// refillReclaimPool reads the oldest free-DB record whose freeing txnid
// is older than every active reader, decodes its page-id list into the
// reclaim pool, and deletes that record. Returns false if there is
// nothing safe to reclaim yet.
func (tx *Tx) refillReclaimPool() bool {
	if tx.db.meta().DBs[FreeDBI].isEmpty() {
		return false
	}

	oldestReader := tx.db.lock.oldestReaderTxnid(tx.id)

	c := &cursor{tx: tx, dbi: FreeDBI}
	k, v, err := c.first()
	if err != nil || k == nil {
		return false
	}
	freedAt := freeKeyTxnid(k)
	if freedAt >= oldestReader || freedAt >= tx.id {
		return false
	}

	ids, err := idl.Decode(v)
	if err != nil {
		return false
	}
	tx.db.reclaimPool = idl.Merge(tx.db.reclaimPool, ids)

	if err := tx.del(FreeDBI, k, 0); err != nil {
		return false
	}
	return true
}

// reclaimPoolKey is the reserved free-DB key under which the env's
// unconsumed in-memory reclaim pool is persisted at commit. txnid 0 is
// never assigned to a real transaction (nextTxnid starts at 1), and
// sorts before every real batch, so refillReclaimPool always drains it
// first - consistent with these ids already being safe to reuse.
var reclaimPoolKey = freeKey(0)

// drainReclaimPool persists whatever is left of the env's in-memory
// reclaim pool to the free-DB before commit, per spec.md §4.9 step 2.
// Without this, page numbers popped out of an old free-DB record by
// refillReclaimPool but never consumed by this tx's allocations would
// only exist in process memory: a crash or restart after the commit
// would leak them permanently, since no on-disk structure points at
// them anymore. The pool is cleared from memory once written so a
// later refillReclaimPool reading it back never double-counts it.
func (tx *Tx) drainReclaimPool() error {
	if tx.db.reclaimPool.Len() == 0 {
		return nil
	}
	val := tx.db.reclaimPool.Encode()
	tx.db.reclaimPool = idl.New()
	return tx.put(FreeDBI, reclaimPoolKey, val, 0)
}

// flushFreed writes this tx's freed-page list (its own copy-on-write
// castoffs plus anything explicitly freed by del) as one record in the
// free-DB keyed by this tx's id, per spec.md §4.9 step 1.
func (tx *Tx) flushFreed() error {
	if tx.freed.Len() == 0 {
		return nil
	}
	key := freeKey(tx.id)
	val := tx.freed.Encode()
	return tx.put(FreeDBI, key, val, 0)
}
