// Package version implements the version word each record carries: an OCC
// atomic triple (last writer, lock owner, lock count), a wait-die 2PL
// sub-record (writer, max reader tid, reader count, spin-lock), and a
// refcounted access_info handle pointing at the last writer's TxnInfo.
//
// Grounded on original_source/pnvm_lib/src/tcore.rs's TVersion (mutex-based
// lock/check/install/unlock) refined by tbox.rs's atomics-based TVersion
// (last_writer_/lock_owner_ as AtomicU32, an ArcCell<Arc<TxnInfo>> for the
// writer handle), and on pkg/btree/node.go's latch methods for the general
// shape of a per-object concurrency guard in this codebase.
package version

import (
	"sync/atomic"

	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/txninfo"
)

// Word is the per-record concurrency-control state. A zero Word is ready to
// use except for accessInfo, which must be seeded with Sentinel via Init.
type Word struct {
	lastWriter atomic.Uint32
	lockOwner  atomic.Uint32
	lockCount  atomic.Int32
	accessInfo atomic.Pointer[txninfo.Info]

	twoPL twoPLState
}

type twoPLState struct {
	writer       atomic.Uint32
	readerMaxTid atomic.Uint32
	readerCount  atomic.Int32
	cr           SpinMutex
}

// Init seeds the version word with the "no writer yet" sentinel access_info
// so OCC validation and ParOCC dependency checks never block on a record
// nobody has written.
func (w *Word) Init() {
	w.accessInfo.Store(txninfo.Sentinel())
}

// --- OCC (spec 4.B) ---

// Lock attempts to acquire the OCC write lock for tid. Reentrant: a second
// Lock call by the same tid just bumps the count, matching tbox.rs's
// TVersion::lock semantics (same owner -> success without replacing owner).
func (w *Word) Lock(tid engineid.Tid) bool {
	for {
		owner := engineid.Tid(w.lockOwner.Load())
		if owner == tid {
			w.lockCount.Add(1)
			return true
		}
		if owner != 0 {
			return false
		}
		if w.lockOwner.CompareAndSwap(0, uint32(tid)) {
			w.lockCount.Store(1)
			return true
		}
	}
}

// Unlock releases one level of the OCC write lock. Calling it without a
// matching Lock is an invariant violation.
func (w *Word) Unlock(tid engineid.Tid) {
	if engineid.Tid(w.lockOwner.Load()) != tid {
		panic("version: unlock by non-owner")
	}
	if w.lockCount.Add(-1) == 0 {
		w.lockOwner.Store(0)
	}
}

// Check validates that the record's current writer still matches the
// version a transaction observed when it read/wrote the record, and that
// the OCC write lock (if held at all) belongs to the validating tid.
func (w *Word) Check(observed engineid.Tid) bool {
	owner := engineid.Tid(w.lockOwner.Load())
	if owner != 0 && owner != observed {
		return false
	}
	return engineid.Tid(w.lastWriter.Load()) == observed
}

// GetVersion returns the record's current last-writer Tid (0 if untouched).
func (w *Word) GetVersion() engineid.Tid {
	return engineid.Tid(w.lastWriter.Load())
}

// Install publishes tid as the new last writer and swaps in info as the new
// access_info handle. Called at commit-time install, after Lock succeeded
// and Check passed.
func (w *Word) Install(tid engineid.Tid, info *txninfo.Info) {
	w.lastWriter.Store(uint32(tid))
	w.accessInfo.Store(info)
}

// AccessInfo returns the current writer's status handle, used by ParOCC to
// build its dependency set.
func (w *Word) AccessInfo() *txninfo.Info {
	return w.accessInfo.Load()
}

// --- Wait-die 2PL (spec 4.B') ---

// ReadLock acquires a shared lock for tid under the wait-die rule: if the
// record is write-locked by a younger transaction, tid (the older) waits; if
// held by an older one, tid dies (returns false) so the caller can abort and
// retry.
// maxSpin bounds the wait; onStuck fires (and the loop keeps going) every
// time the budget is exceeded, so a genuinely wedged wait surfaces instead
// of hanging forever.
func (w *Word) ReadLock(tid engineid.Tid, maxSpin int, onStuck func()) bool {
	spins := 0
	for {
		writer := engineid.Tid(w.twoPL.writer.Load())
		if writer == 0 || writer == tid {
			w.twoPL.cr.Lock(maxSpin, onStuck)
			w.twoPL.readerCount.Add(1)
			if uint32(tid) > w.twoPL.readerMaxTid.Load() {
				w.twoPL.readerMaxTid.Store(uint32(tid))
			}
			w.twoPL.cr.Unlock()
			return true
		}
		if tid < writer { // requester older: wait
			spins++
			if maxSpin > 0 && spins >= maxSpin {
				if onStuck != nil {
					onStuck()
				}
				spins = 0
			}
			continue
		}
		return false // requester younger: die
	}
}

// WriteLock acquires an exclusive lock for tid under wait-die. Against a
// writer, tid waits if it is the older and dies if it is the younger.
// Against readers: if tid is itself the youngest reader it upgrades; if
// every reader is older than tid, tid dies; if some reader is younger, tid
// waits for all readers to drain and retries.
func (w *Word) WriteLock(tid engineid.Tid, maxSpin int, onStuck func()) bool {
	spins := 0
	for {
		writer := engineid.Tid(w.twoPL.writer.Load())
		if writer == tid {
			return true // reentrant
		}
		if writer != 0 {
			if tid < writer {
				spins = spinWait(spins, maxSpin, onStuck)
				continue
			}
			return false
		}

		w.twoPL.cr.Lock(maxSpin, onStuck)
		readers := w.twoPL.readerCount.Load()
		maxReader := engineid.Tid(w.twoPL.readerMaxTid.Load())
		if readers > 0 && maxReader == tid {
			// upgrade: tid is its own (sole or youngest) reader - grant the
			// write lock now and spin until the other readers, if any, drain.
			w.twoPL.writer.Store(uint32(tid))
			w.twoPL.cr.Unlock()
			for w.twoPL.readerCount.Load() > 1 {
				spins = spinWait(spins, maxSpin, onStuck)
			}
			return true
		}
		if readers > 0 && tid >= maxReader {
			// every active reader is older than tid: die
			w.twoPL.cr.Unlock()
			return false
		}
		if readers > 0 {
			// a younger reader is active: wait for all readers to drain, then retry
			w.twoPL.cr.Unlock()
			for w.twoPL.readerCount.Load() > 0 {
				spins = spinWait(spins, maxSpin, onStuck)
			}
			continue
		}
		if !w.twoPL.writer.CompareAndSwap(0, uint32(tid)) {
			w.twoPL.cr.Unlock()
			continue
		}
		w.twoPL.cr.Unlock()
		return true
	}
}

// ReadUnlock releases a shared lock held by tid.
func (w *Word) ReadUnlock(maxSpin int, onStuck func()) {
	w.twoPL.cr.Lock(maxSpin, onStuck)
	if w.twoPL.readerCount.Add(-1) == 0 {
		w.twoPL.readerMaxTid.Store(0)
	}
	w.twoPL.cr.Unlock()
}

// WriteUnlock releases the exclusive lock held by tid.
func (w *Word) WriteUnlock(tid engineid.Tid) {
	if !w.twoPL.writer.CompareAndSwap(uint32(tid), 0) {
		panic("version: write-unlock by non-owner")
	}
}

func spinWait(spins, maxSpin int, onStuck func()) int {
	spins++
	if maxSpin > 0 && spins >= maxSpin {
		if onStuck != nil {
			onStuck()
		}
		return 0
	}
	return spins
}
