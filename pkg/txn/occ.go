// Package txn implements the three transaction protocols the spec names:
// OCC (this file), wait-die 2PL (twopl.go), and pipelined ParOCC
// (paroc.go, which also keeps ParOCC's TxnInfo-dependency set in
// ParOCC.dependsOn).
//
// Grounded on pkg/storage/engine.go's Transaction/BeginTransaction and
// pkg/storage/transaction_write.go's WriteTransaction (buffer-until-commit
// writes, a Commit that logs then applies), refined against
// original_source/pnvm_lib/src/occ/occ_txn.rs and
// original_source/pnvm_lib/src/parnvm/nvm_txn_raw.rs for the exact
// lock/validate/log/install/persist/commit-marker pipeline spec 4.F
// specifies.
package txn

import (
	"sort"

	"github.com/bobboyms/storage-engine/pkg/config"
	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/log"
	"github.com/bobboyms/storage-engine/pkg/metrics"
	"github.com/bobboyms/storage-engine/pkg/pregion"
	"github.com/bobboyms/storage-engine/pkg/record"
	"github.com/bobboyms/storage-engine/pkg/tag"
	"github.com/bobboyms/storage-engine/pkg/txlog"
	"github.com/bobboyms/storage-engine/pkg/txninfo"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// Deps are the resources a transaction needs to run: its own id factory,
// the redo log writer, the persistent region, and the bounded-spin budget.
// Passed explicitly at Begin time rather than pulled from package globals,
// per the spec's concurrency design notes.
type Deps struct {
	IDs    *engineid.Factory
	Log    *txlog.Writer
	Region *pregion.Region
	Cfg    config.Config
}

// OCC is an optimistic-concurrency transaction: reads and writes are
// buffered in the tag set and only become visible at TryCommit.
type OCC struct {
	tid         engineid.Tid
	deps        Deps
	tags        *tag.Set
	refs        map[engineid.ObjectID]record.Ref
	deleteTable map[engineid.ObjectID]*record.Table
	info        *txninfo.Info
	earlyAbort  bool
	lastAbort   xerrors.Kind
	done        bool
}

// Begin starts a new OCC transaction.
func Begin(deps Deps) *OCC {
	tid := deps.IDs.NextTid()
	return &OCC{
		tid:         tid,
		deps:        deps,
		tags:        tag.NewSet(),
		refs:        make(map[engineid.ObjectID]record.Ref, 32),
		deleteTable: make(map[engineid.ObjectID]*record.Table, 4),
		info:        txninfo.New(tid),
	}
}

// Tid returns this transaction's identifier.
func (o *OCC) Tid() engineid.Tid { return o.tid }

// ShouldAbort marks the transaction for abort at the next TryCommit call,
// matching the Transaction trait's should_abort hook in the original
// source - used by application code that detected a logical conflict
// outside the engine's own validation (e.g. a uniqueness check it ran
// itself).
func (o *OCC) ShouldAbort() {
	o.earlyAbort = true
	o.lastAbort = xerrors.KindUser
}

// Read returns the transaction's current view of ref: the buffered write if
// one exists, otherwise a snapshot of the record's current value, recording
// the observed version on first access.
func (o *OCC) Read(ref record.Ref) any {
	o.refs[ref.ObjectID()] = ref
	tg := o.tags.Retrieve(ref.ObjectID(), tag.OpRead)
	if tg.HasWrite() {
		return tg.WriteValue()
	}
	if tg.Version == 0 {
		tg.AddVersion(ref.Word().GetVersion())
	}
	return ref.Data()
}

// Write buffers val as ref's new whole-record value.
func (o *OCC) Write(ref record.Ref, val []byte) {
	o.refs[ref.ObjectID()] = ref
	tg := o.tags.Retrieve(ref.ObjectID(), tag.OpRWrite)
	if !tg.HasWrite() {
		tg.AddVersion(ref.Word().GetVersion())
	}
	tg.Write(val, nil)
}

// WriteField buffers val as ref's new value for field fieldIdx only - the
// field-masked write spec 4.C/4.F describe.
func (o *OCC) WriteField(ref record.Ref, fieldIdx int, val []byte) {
	o.refs[ref.ObjectID()] = ref
	tg := o.tags.Retrieve(ref.ObjectID(), tag.OpRWrite)
	if !tg.HasWrite() {
		tg.AddVersion(ref.Word().GetVersion())
	}
	vals := map[int][]byte{fieldIdx: val}
	tg.Write(vals, []int{fieldIdx})
}

// Push inserts a new row into table, tagging it for commit-time install.
func (o *OCC) Push(table *record.Table, key types.Comparable, entry []byte) (record.Ref, error) {
	id := o.deps.IDs.NextObjectID()
	ref, err := table.Push(o.tid, id, o.tags, key, entry)
	if err != nil {
		o.lastAbort = xerrors.KindIndexErr
		return ref, err
	}
	o.refs[id] = ref
	return ref, nil
}

// Delete removes key from table at commit time.
func (o *OCC) Delete(table *record.Table, key types.Comparable) (record.Ref, error) {
	ref, err := table.Delete(o.tags, key)
	if err != nil {
		o.lastAbort = xerrors.KindIndexErr
		return ref, err
	}
	o.refs[ref.ObjectID()] = ref
	o.deleteTable[ref.ObjectID()] = table
	return ref, nil
}

// LastAbortKind reports why the most recent TryCommit (or Push/Delete)
// failed, for tests and diagnostics - TryCommit itself only returns a bool.
func (o *OCC) LastAbortKind() xerrors.Kind { return o.lastAbort }

// TryCommit runs the full OCC pipeline: lock, validate, log, install,
// persist, commit-marker, release. It never returns an error - only
// success/failure - per the spec's error-propagation policy.
func (o *OCC) TryCommit() bool {
	if o.done {
		xerrors.Fatal("txn: TryCommit called twice on tid %d", o.tid)
	}
	o.done = true

	if o.earlyAbort {
		o.releaseLocks(nil)
		metrics.AbortsTotal.WithLabelValues(o.lastAbort.String(), "occ").Inc()
		return false
	}

	keys := o.tags.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Object < keys[j].Object })

	locked := make([]tag.Key, 0, len(keys))

	// a. lock phase: only write tags.
	for _, k := range keys {
		tg := o.tags.Get(k)
		if !tg.HasWrite() {
			continue
		}
		ref, ok := o.refs[k.Object]
		if !ok {
			continue
		}
		if !ref.Word().Lock(o.tid) {
			o.lastAbort = xerrors.KindFailedLocking
			o.releaseLocks(locked)
			metrics.AbortsTotal.WithLabelValues(o.lastAbort.String(), "occ").Inc()
			return false
		}
		tg.MarkLocked(true)
		locked = append(locked, k)
	}

	// b. validate phase: only read tags (no buffered write).
	for _, k := range keys {
		tg := o.tags.Get(k)
		if tg.HasWrite() {
			continue
		}
		ref, ok := o.refs[k.Object]
		if !ok {
			continue
		}
		if !ref.Word().Check(tg.Version) {
			o.lastAbort = xerrors.KindFailedLocking
			o.releaseLocks(locked)
			metrics.AbortsTotal.WithLabelValues(o.lastAbort.String(), "occ").Inc()
			return false
		}
	}

	// c. log phase: append DATA records for every write tag. Records are
	// pooled (txlog.AcquireRecord/ReleaseRecord) since a busy committer
	// churns through one per touched row on every commit.
	var logRecs []*txlog.Record
	for _, k := range keys {
		tg := o.tags.Get(k)
		if !tg.HasWrite() {
			continue
		}
		payload, err := encodeDataPayload(k, tg)
		if err != nil {
			xerrors.Fatal("txn: encoding data record: %v", err)
		}
		rec := txlog.AcquireRecord()
		rec.Header = txlog.Header{Kind: txlog.KindData, PayloadLen: uint64(len(payload)), Tid: uint32(o.tid)}
		rec.Payload = append(rec.Payload, payload...)
		logRecs = append(logRecs, rec)
	}
	if o.deps.Log != nil && len(logRecs) > 0 {
		if err := o.deps.Log.WriteBatch(logRecs); err != nil {
			xerrors.Fatal("txn: redo log write failed: %v", err)
		}
	}
	for _, rec := range logRecs {
		txlog.ReleaseRecord(rec)
	}

	// d. install phase.
	for _, k := range keys {
		tg := o.tags.Get(k)
		if !tg.HasWrite() {
			continue
		}
		ref := o.refs[k.Object]
		o.install(ref, k, tg)
		ref.Word().Install(o.tid, o.info)
	}

	// e. persist phase: flush field-masked or whole-record image.
	for _, k := range keys {
		tg := o.tags.Get(k)
		if !tg.HasWrite() || o.deps.Region == nil {
			continue
		}
		ref := o.refs[k.Object]
		var err error
		if tg.Fields != nil {
			err = ref.PersistFields(o.deps.Region, tg.Fields)
		} else {
			err = ref.PersistWhole(o.deps.Region)
		}
		if err != nil {
			xerrors.Fatal("txn: persist failed: %v", err)
		}
	}

	// f. commit marker: drain, then write TXN_COMMIT, then sync.
	if o.deps.Region != nil {
		if err := o.deps.Region.Drain(); err != nil {
			xerrors.Fatal("txn: drain failed: %v", err)
		}
	}
	if o.deps.Log != nil {
		payload := txlog.CommitPayload(uint32(o.tid))
		commitRec := txlog.AcquireRecord()
		commitRec.Header = txlog.Header{Kind: txlog.KindTxnCommit, PayloadLen: uint64(len(payload)), Tid: uint32(o.tid)}
		commitRec.Payload = append(commitRec.Payload, payload...)
		err := o.deps.Log.WriteRecord(commitRec)
		txlog.ReleaseRecord(commitRec)
		if err != nil {
			xerrors.Fatal("txn: commit marker write failed: %v", err)
		}
		if err := o.deps.Log.Sync(); err != nil {
			xerrors.Fatal("txn: commit marker sync failed: %v", err)
		}
	}

	o.info.Commit()
	o.info.Persist()
	o.releaseLocks(locked)
	metrics.CommitsTotal.WithLabelValues("occ").Inc()
	log.Logger.Debug().Uint32("tid", uint32(o.tid)).Int("writes", len(locked)).Msg("txn: occ committed")
	return true
}

func (o *OCC) install(ref record.Ref, k tag.Key, tg *tag.Tag) {
	if k.Op == tag.OpDelete {
		table := o.deleteTable[k.Object]
		key := tg.WriteValue().(types.Comparable)
		table.InstallDelete(key)
		return
	}
	if tg.Fields != nil {
		vals := tg.WriteValue().(map[int][]byte)
		ref.InstallFields(vals)
		return
	}
	switch v := tg.WriteValue().(type) {
	case []byte:
		ref.InstallWhole(v)
	default:
		xerrors.Fatal("txn: unexpected buffered write type %T", v)
	}
}

func (o *OCC) releaseLocks(locked []tag.Key) {
	for _, k := range locked {
		tg := o.tags.Get(k)
		if !tg.IsLocked() {
			continue
		}
		if ref, ok := o.refs[k.Object]; ok {
			ref.Word().Unlock(o.tid)
		}
		tg.MarkLocked(false)
	}
}
