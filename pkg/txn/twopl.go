// TwoPL is the wait-die two-phase-locking transaction: locks are acquired
// at access time (not deferred to commit), writes are write-through, and a
// lock request that loses the wait-die race aborts the whole transaction
// immediately rather than retrying internally.
//
// Grounded on spec 4.B'/4.G and the wait-die rules implemented in
// pkg/version/word.go (ReadLock/WriteLock), generalizing
// pkg/storage/transaction_write.go's buffer-then-commit shape into an
// eager, write-through one for this protocol specifically.
package txn

import (
	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/log"
	"github.com/bobboyms/storage-engine/pkg/metrics"
	"github.com/bobboyms/storage-engine/pkg/record"
	"github.com/bobboyms/storage-engine/pkg/tag"
	"github.com/bobboyms/storage-engine/pkg/txlog"
	"github.com/bobboyms/storage-engine/pkg/txninfo"
	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// TwoPL is a wait-die locking transaction.
type TwoPL struct {
	tid       engineid.Tid
	deps      Deps
	held      map[engineid.ObjectID]record.Ref
	heldWrite map[engineid.ObjectID]bool
	upgraded  map[engineid.ObjectID]bool
	writes    []twoPLWrite
	info      *txninfo.Info
	aborted   bool
	lastAbort xerrors.Kind
	done      bool
}

type twoPLWrite struct {
	ref    record.Ref
	fields []int
	val    any
}

// BeginTwoPL starts a new wait-die 2PL transaction.
func BeginTwoPL(deps Deps) *TwoPL {
	tid := deps.IDs.NextTid()
	return &TwoPL{
		tid:       tid,
		deps:      deps,
		held:      make(map[engineid.ObjectID]record.Ref, 32),
		heldWrite: make(map[engineid.ObjectID]bool, 32),
		upgraded:  make(map[engineid.ObjectID]bool, 32),
		info:      txninfo.New(tid),
	}
}

func (t *TwoPL) Tid() engineid.Tid { return t.tid }

// Read acquires a shared lock on ref (if not already held) and returns a
// snapshot of its current value. A lost wait-die race aborts the
// transaction and returns (nil, false).
func (t *TwoPL) Read(ref record.Ref) ([]byte, bool) {
	if t.aborted {
		return nil, false
	}
	id := ref.ObjectID()
	if _, ok := t.held[id]; !ok {
		if !ref.Word().ReadLock(t.tid, t.deps.Cfg.MaxSpin, t.onStuck("2pl_read")) {
			t.abort(xerrors.KindFailedLocking)
			return nil, false
		}
		t.held[id] = ref
	}
	return ref.Data(), true
}

// Write acquires an exclusive lock on ref (if not already held) and
// installs val immediately (write-through - no buffering until commit).
func (t *TwoPL) Write(ref record.Ref, val []byte) bool {
	if t.aborted {
		return false
	}
	id := ref.ObjectID()
	if !t.heldWrite[id] {
		_, alreadyReading := t.held[id]
		if !ref.Word().WriteLock(t.tid, t.deps.Cfg.MaxSpin, t.onStuck("2pl_write")) {
			t.abort(xerrors.KindFailedLocking)
			return false
		}
		if alreadyReading {
			// upgraded from our own read lock: the read reservation is
			// still outstanding and must be dropped separately on release.
			t.upgraded[id] = true
		}
		t.held[id] = ref
		t.heldWrite[id] = true
	}
	ref.InstallWhole(val)
	t.writes = append(t.writes, twoPLWrite{ref: ref, val: val})
	return true
}

func (t *TwoPL) onStuck(site string) func() {
	return func() { metrics.WaitSpinsTripped.WithLabelValues(site).Inc() }
}

func (t *TwoPL) abort(kind xerrors.Kind) {
	t.aborted = true
	t.lastAbort = kind
}

func (t *TwoPL) LastAbortKind() xerrors.Kind { return t.lastAbort }

// TryCommit logs and persists every write made so far, then releases every
// lock this transaction holds. Locks were already acquired and writes
// already installed at access time; TryCommit only needs durability and
// release, not validation (2PL's whole point is that a successful lock
// acquisition already proves serializability).
func (t *TwoPL) TryCommit() bool {
	if t.done {
		xerrors.Fatal("txn: TryCommit called twice on tid %d", t.tid)
	}
	t.done = true

	if t.aborted {
		t.releaseAll()
		metrics.AbortsTotal.WithLabelValues(t.lastAbort.String(), "twopl").Inc()
		return false
	}

	var logRecs []*txlog.Record
	for _, w := range t.writes {
		val, ok := w.val.([]byte)
		if !ok {
			xerrors.Fatal("txn: 2pl write with non-[]byte value")
		}
		tg := &tag.Tag{}
		tg.Write(val, w.fields)
		payload, err := encodeDataPayload(tag.Key{Object: w.ref.ObjectID(), Op: tag.OpRWrite}, tg)
		if err != nil {
			xerrors.Fatal("txn: encoding 2pl data record: %v", err)
		}
		rec := txlog.AcquireRecord()
		rec.Header = txlog.Header{Kind: txlog.KindData, PayloadLen: uint64(len(payload)), Tid: uint32(t.tid)}
		rec.Payload = append(rec.Payload, payload...)
		logRecs = append(logRecs, rec)
	}
	if t.deps.Log != nil && len(logRecs) > 0 {
		if err := t.deps.Log.WriteBatch(logRecs); err != nil {
			xerrors.Fatal("txn: redo log write failed: %v", err)
		}
	}
	for _, rec := range logRecs {
		txlog.ReleaseRecord(rec)
	}

	for _, w := range t.writes {
		w.ref.Word().Install(t.tid, t.info)
		if t.deps.Region != nil {
			if err := w.ref.PersistWhole(t.deps.Region); err != nil {
				xerrors.Fatal("txn: persist failed: %v", err)
			}
		}
	}

	if t.deps.Region != nil {
		if err := t.deps.Region.Drain(); err != nil {
			xerrors.Fatal("txn: drain failed: %v", err)
		}
	}
	if t.deps.Log != nil {
		payload := txlog.CommitPayload(uint32(t.tid))
		commitRec := txlog.AcquireRecord()
		commitRec.Header = txlog.Header{Kind: txlog.KindTxnCommit, PayloadLen: uint64(len(payload)), Tid: uint32(t.tid)}
		commitRec.Payload = append(commitRec.Payload, payload...)
		err := t.deps.Log.WriteRecord(commitRec)
		txlog.ReleaseRecord(commitRec)
		if err != nil {
			xerrors.Fatal("txn: commit marker write failed: %v", err)
		}
		if err := t.deps.Log.Sync(); err != nil {
			xerrors.Fatal("txn: commit marker sync failed: %v", err)
		}
	}

	t.info.Commit()
	t.info.Persist()
	t.releaseAll()
	metrics.CommitsTotal.WithLabelValues("twopl").Inc()
	log.Logger.Debug().Uint32("tid", uint32(t.tid)).Msg("txn: 2pl committed")
	return true
}

func (t *TwoPL) releaseAll() {
	for id, ref := range t.held {
		if t.heldWrite[id] {
			ref.Word().WriteUnlock(t.tid)
			if t.upgraded[id] {
				// drop the read reservation the write lock was upgraded from.
				ref.Word().ReadUnlock(t.deps.Cfg.MaxSpin, t.onStuck("2pl_unlock"))
			}
		} else {
			ref.Word().ReadUnlock(t.deps.Cfg.MaxSpin, t.onStuck("2pl_unlock"))
		}
	}
}
