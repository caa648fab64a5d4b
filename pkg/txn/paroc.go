// ParOCC is the pipelined parallel-OCC transaction: work is committed in
// pieces, each piece stamps its writer's Tid into every touched record's
// access_info, and later pieces (in this transaction or others) build an
// explicit dependency set from those stamps to preserve commit order
// through commit and persist.
//
// Grounded directly on original_source/pnvm_lib/src/parnvm/nvm_txn_raw.rs's
// TransactionParOCCRaw: same piece lifecycle (lock -> add_dep -> commit_piece
// -> clean_up), same rank-based wait_deps_start busy-wait, same
// commit-then-wait-for-deps-to-persist ordering before the transaction's own
// commit marker is durable.
package txn

import (
	"sort"

	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/log"
	"github.com/bobboyms/storage-engine/pkg/metrics"
	"github.com/bobboyms/storage-engine/pkg/record"
	"github.com/bobboyms/storage-engine/pkg/tag"
	"github.com/bobboyms/storage-engine/pkg/txlog"
	"github.com/bobboyms/storage-engine/pkg/txninfo"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// ParOCC is a pipelined OCC transaction committed piece by piece.
type ParOCC struct {
	tid        engineid.Tid
	deps       Deps
	tags       *tag.Set
	refs       map[engineid.ObjectID]record.Ref
	deleteTbl  map[engineid.ObjectID]*record.Table
	info       *txninfo.Info
	dependsOn  map[engineid.Tid]*txninfo.Info
	rank       int64
	earlyAbort bool
	lastAbort  xerrors.Kind
}

// BeginParOCC starts a new ParOCC transaction.
func BeginParOCC(deps Deps) *ParOCC {
	tid := deps.IDs.NextTid()
	return &ParOCC{
		tid:       tid,
		deps:      deps,
		tags:      tag.NewSet(),
		refs:      make(map[engineid.ObjectID]record.Ref, 32),
		deleteTbl: make(map[engineid.ObjectID]*record.Table, 4),
		info:      txninfo.New(tid),
		dependsOn: make(map[engineid.Tid]*txninfo.Info, 8),
	}
}

func (p *ParOCC) Tid() engineid.Tid { return p.tid }

func (p *ParOCC) ShouldAbort() { p.earlyAbort = true; p.lastAbort = xerrors.KindUser }

func (p *ParOCC) Read(ref record.Ref) any {
	p.refs[ref.ObjectID()] = ref
	tg := p.tags.Retrieve(ref.ObjectID(), tag.OpRead)
	if tg.HasWrite() {
		return tg.WriteValue()
	}
	if tg.Version == 0 {
		tg.AddVersion(ref.Word().GetVersion())
	}
	return ref.Data()
}

func (p *ParOCC) Write(ref record.Ref, val []byte) {
	p.refs[ref.ObjectID()] = ref
	tg := p.tags.Retrieve(ref.ObjectID(), tag.OpRWrite)
	if !tg.HasWrite() {
		tg.AddVersion(ref.Word().GetVersion())
	}
	tg.Write(val, nil)
}

func (p *ParOCC) Push(table *record.Table, key types.Comparable, entry []byte) (record.Ref, error) {
	id := p.deps.IDs.NextObjectID()
	ref, err := table.Push(p.tid, id, p.tags, key, entry)
	if err != nil {
		p.lastAbort = xerrors.KindIndexErr
		return ref, err
	}
	p.refs[id] = ref
	return ref, nil
}

func (p *ParOCC) Delete(table *record.Table, key types.Comparable) (record.Ref, error) {
	ref, err := table.Delete(p.tags, key)
	if err != nil {
		p.lastAbort = xerrors.KindIndexErr
		return ref, err
	}
	p.refs[ref.ObjectID()] = ref
	p.deleteTbl[ref.ObjectID()] = table
	return ref, nil
}

func (p *ParOCC) LastAbortKind() xerrors.Kind { return p.lastAbort }

// addDeps scans every tag touched so far and records, for each one whose
// record was last written by a still-uncommitted transaction other than
// this one, that writer's Info as a dependency this piece must wait on
// before it can be considered to have started.
func (p *ParOCC) addDeps() {
	p.tags.Range(func(k tag.Key, tg *tag.Tag) {
		ref, ok := p.refs[k.Object]
		if !ok {
			return
		}
		writerInfo := ref.Word().AccessInfo()
		if writerInfo == nil || writerInfo == p.info || writerInfo.HasCommitted() {
			return
		}
		p.dependsOn[writerInfo.Tid()] = writerInfo
	})
}

// WaitDepsStart busy-waits until every current dependency has either
// committed or started a rank beyond toRunRank - i.e. it is safe for this
// piece (about to run at toRunRank) to proceed without racing a dependency
// that hasn't begun producing the state this piece reads.
func (p *ParOCC) WaitDepsStart(toRunRank int64) {
	for _, dep := range p.dependsOn {
		spins := 0
		for !dep.HasCommitted() && !dep.HasStarted(toRunRank) {
			spins++
			if spins >= p.deps.Cfg.MaxSpin {
				metrics.WaitSpinsTripped.WithLabelValues("paroc_wait_deps_start").Inc()
				spins = 0
			}
		}
	}
}

// PieceCommit runs OCC's lock/validate/log/install/persist phases over
// exactly the tags accumulated since the last PieceCommit, publishes this
// piece's rank, stamps every touched record's access_info, and clears the
// tag set so the next piece starts fresh. Returns false if the piece lost a
// lock/validate race - the whole transaction must then abort.
func (p *ParOCC) PieceCommit() bool {
	if p.earlyAbort {
		return false
	}
	p.addDeps()
	p.WaitDepsStart(p.rank)

	keys := p.tags.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Object < keys[j].Object })
	locked := make([]tag.Key, 0, len(keys))

	for _, k := range keys {
		tg := p.tags.Get(k)
		if !tg.HasWrite() {
			continue
		}
		ref := p.refs[k.Object]
		if !ref.Word().Lock(p.tid) {
			p.lastAbort = xerrors.KindFailedLocking
			p.unlockAll(locked)
			return false
		}
		tg.MarkLocked(true)
		locked = append(locked, k)
	}
	for _, k := range keys {
		tg := p.tags.Get(k)
		if tg.HasWrite() {
			continue
		}
		ref := p.refs[k.Object]
		if !ref.Word().Check(tg.Version) {
			p.lastAbort = xerrors.KindFailedLocking
			p.unlockAll(locked)
			return false
		}
	}

	var logRecs []*txlog.Record
	for _, k := range keys {
		tg := p.tags.Get(k)
		if !tg.HasWrite() {
			continue
		}
		payload, err := encodeDataPayload(k, tg)
		if err != nil {
			xerrors.Fatal("txn: encoding paroc data record: %v", err)
		}
		rec := txlog.AcquireRecord()
		rec.Header = txlog.Header{Kind: txlog.KindData, PayloadLen: uint64(len(payload)), Tid: uint32(p.tid)}
		rec.Payload = append(rec.Payload, payload...)
		logRecs = append(logRecs, rec)
	}
	if p.deps.Log != nil && len(logRecs) > 0 {
		if err := p.deps.Log.WriteBatch(logRecs); err != nil {
			xerrors.Fatal("txn: redo log write failed: %v", err)
		}
	}
	for _, rec := range logRecs {
		txlog.ReleaseRecord(rec)
	}

	for _, k := range keys {
		tg := p.tags.Get(k)
		if !tg.HasWrite() {
			continue
		}
		ref := p.refs[k.Object]
		p.install(ref, k, tg)
		ref.Word().Install(p.tid, p.info)
		if p.deps.Region != nil {
			var err error
			if tg.Fields != nil {
				err = ref.PersistFields(p.deps.Region, tg.Fields)
			} else {
				err = ref.PersistWhole(p.deps.Region)
			}
			if err != nil {
				xerrors.Fatal("txn: persist failed: %v", err)
			}
		}
	}

	p.unlockAll(locked)
	p.tags.Clear()
	p.rank++
	p.info.Start(p.rank)
	return true
}

func (p *ParOCC) install(ref record.Ref, k tag.Key, tg *tag.Tag) {
	if k.Op == tag.OpDelete {
		table := p.deleteTbl[k.Object]
		key := tg.WriteValue().(types.Comparable)
		table.InstallDelete(key)
		return
	}
	switch v := tg.WriteValue().(type) {
	case []byte:
		ref.InstallWhole(v)
	default:
		xerrors.Fatal("txn: unexpected buffered write type %T", v)
	}
}

func (p *ParOCC) unlockAll(locked []tag.Key) {
	for _, k := range locked {
		tg := p.tags.Get(k)
		if !tg.IsLocked() {
			continue
		}
		if ref, ok := p.refs[k.Object]; ok {
			ref.Word().Unlock(p.tid)
		}
		tg.MarkLocked(false)
	}
}

// WaitDepsCommit blocks until every current dependency has committed.
func (p *ParOCC) WaitDepsCommit() {
	for _, dep := range p.dependsOn {
		spins := 0
		for !dep.HasCommitted() {
			spins++
			if spins >= p.deps.Cfg.MaxSpin {
				metrics.WaitSpinsTripped.WithLabelValues("paroc_wait_deps_commit").Inc()
				spins = 0
			}
		}
	}
}

// WaitDepsPersist blocks until every current dependency has persisted.
func (p *ParOCC) WaitDepsPersist() {
	for _, dep := range p.dependsOn {
		spins := 0
		for !dep.HasPersisted() {
			spins++
			if spins >= p.deps.Cfg.MaxSpin {
				metrics.WaitSpinsTripped.WithLabelValues("paroc_wait_deps_persist").Inc()
				spins = 0
			}
		}
	}
}

// Commit finalizes the transaction: wait for every dependency to commit,
// publish this transaction's own commit marker, then wait for every
// dependency to persist before marking this transaction persisted too -
// the durability order spec 4.H and property 6 require.
func (p *ParOCC) Commit() bool {
	if !p.PieceCommit() {
		metrics.AbortsTotal.WithLabelValues(p.lastAbort.String(), "paroc").Inc()
		return false
	}
	p.WaitDepsCommit()
	p.info.Commit()

	if p.deps.Region != nil {
		if err := p.deps.Region.Drain(); err != nil {
			xerrors.Fatal("txn: drain failed: %v", err)
		}
	}
	if p.deps.Log != nil {
		payload := txlog.CommitPayload(uint32(p.tid))
		commitRec := txlog.AcquireRecord()
		commitRec.Header = txlog.Header{Kind: txlog.KindTxnCommit, PayloadLen: uint64(len(payload)), Tid: uint32(p.tid)}
		commitRec.Payload = append(commitRec.Payload, payload...)
		err := p.deps.Log.WriteRecord(commitRec)
		txlog.ReleaseRecord(commitRec)
		if err != nil {
			xerrors.Fatal("txn: commit marker write failed: %v", err)
		}
		if err := p.deps.Log.Sync(); err != nil {
			xerrors.Fatal("txn: commit marker sync failed: %v", err)
		}
	}

	p.WaitDepsPersist()
	p.info.Persist()
	metrics.CommitsTotal.WithLabelValues("paroc").Inc()
	log.Logger.Debug().Uint32("tid", uint32(p.tid)).Int64("rank", p.rank).Msg("txn: paroc committed")
	return true
}

// Abort unwinds any tags still locked by an unfinished piece. Already
// installed pieces remain visible - an accepted limitation for
// monotone-extension workloads, matching the spec's stated restriction.
func (p *ParOCC) Abort() {
	keys := p.tags.Keys()
	for _, k := range keys {
		tg := p.tags.Get(k)
		if !tg.IsLocked() {
			continue
		}
		if ref, ok := p.refs[k.Object]; ok {
			ref.Word().Unlock(p.tid)
		}
	}
}
