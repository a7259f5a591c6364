package mdb

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Lock region format (spec.md §3/§6): a separate lock.mdb file holding
// a header {magic, version, numReaders} and a fixed-size reader slot
// table. Process-shared mutexes are approximated with flock byte-range
// locks on independent open file descriptions of the same path, since
// Go cannot portably construct a PTHREAD_PROCESS_SHARED mutex without
// cgo (see DESIGN.md). Reader-slot txnid fields are updated with
// sync/atomic over the mmap'd bytes, matching spec.md §5's "benign
// race" ordering: the writer reads a slot's txnid without holding the
// reader-table mutex.
const (
	readerSlotSize  = 64 // one cache line
	lockHeaderSize  = 64
	readerTxnidOff  = 0
	readerPidOff    = 8
	readerTidOff    = 12
)

type readerSlot struct {
	buf []byte // readerSlotSize bytes, view into the lock file's mmap
}

func (s readerSlot) txnid() txnid {
	return txnid(atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.buf[readerTxnidOff]))))
}

func (s readerSlot) setTxnid(t txnid) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.buf[readerTxnidOff])), uint64(t))
}

func (s readerSlot) pid() uint32 {
	return binary.LittleEndian.Uint32(s.buf[readerPidOff:])
}

func (s readerSlot) setPid(p uint32) {
	binary.LittleEndian.PutUint32(s.buf[readerPidOff:], p)
}

func (s readerSlot) tid() uint64 {
	return binary.LittleEndian.Uint64(s.buf[readerTidOff:])
}

func (s readerSlot) setTid(t uint64) {
	binary.LittleEndian.PutUint64(s.buf[readerTidOff:], t)
}

func (s readerSlot) isFree() bool {
	return s.txnid() == 0
}

// lockRegion owns the lock file, its mmap, and the two file-backed
// mutexes spec.md §3 calls for.
type lockRegion struct {
	file        *os.File
	tableMu     *os.File // reader-table-mutex: guards slot allocation
	writerMu    *os.File // writer mutex: held for the whole write txn
	buf         []byte
	maxReaders  int
}

func lockRegionSize(maxReaders int) int {
	return lockHeaderSize + maxReaders*readerSlotSize
}

func openLockRegion(path string, maxReaders int) (*lockRegion, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	tableMu, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		f.Close()
		return nil, err
	}
	writerMu, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		f.Close()
		tableMu.Close()
		return nil, err
	}

	size := lockRegionSize(maxReaders)
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, err
		}
	}

	// The lock region is written in place (header, slot pid/tid/txnid),
	// so unlike the data file it is mapped read-write.
	buf, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	lr := &lockRegion{file: f, tableMu: tableMu, writerMu: writerMu, buf: buf, maxReaders: maxReaders}

	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		binary.LittleEndian.PutUint32(buf[0:4], Magic)
		binary.LittleEndian.PutUint32(buf[4:8], Version)
		binary.LittleEndian.PutUint32(buf[8:12], 0)
	}

	return lr, nil
}

func (lr *lockRegion) close() error {
	if err := munmapFile(lr.buf); err != nil {
		return err
	}
	lr.tableMu.Close()
	lr.writerMu.Close()
	return lr.file.Close()
}

func (lr *lockRegion) slot(i int) readerSlot {
	start := lockHeaderSize + i*readerSlotSize
	return readerSlot{buf: lr.buf[start : start+readerSlotSize]}
}

// claimSlot finds or reuses the calling thread's slot, under the
// reader-table mutex, per spec.md §4.9's begin_read.
func (lr *lockRegion) claimSlot(pid uint32, tid uint64) (readerSlot, error) {
	if err := flockExclusive(lr.tableMu); err != nil {
		return readerSlot{}, err
	}
	defer flockUnlock(lr.tableMu)

	var free = -1
	for i := 0; i < lr.maxReaders; i++ {
		s := lr.slot(i)
		if s.pid() == pid && s.tid() == tid && !s.isFree() {
			return s, nil
		}
		if free == -1 && s.isFree() {
			free = i
		}
	}
	if free == -1 {
		return readerSlot{}, ErrNoSpace
	}
	s := lr.slot(free)
	s.setPid(pid)
	s.setTid(tid)
	return s, nil
}

// oldestReaderTxnid scans slots without the table mutex (the benign
// race spec.md §5 documents: a stale read only delays reclamation).
func (lr *lockRegion) oldestReaderTxnid(current txnid) txnid {
	oldest := current
	for i := 0; i < lr.maxReaders; i++ {
		s := lr.slot(i)
		t := s.txnid()
		if t != 0 && t < oldest {
			oldest = t
		}
	}
	return oldest
}

func (lr *lockRegion) lockWriter() error {
	return flockExclusive(lr.writerMu)
}

func (lr *lockRegion) unlockWriter() error {
	return flockUnlock(lr.writerMu)
}
