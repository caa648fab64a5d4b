package record

import (
	"hash/fnv"
	"sync"

	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/pregion"
	"github.com/bobboyms/storage-engine/pkg/tag"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/version"
	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// Table is a named, schema-typed collection of buckets. Retrieve is O(1)
// via a hash of the key modulo the bucket count, then the bucket's own
// primary-key map - generalizing the teacher's single-index-per-table
// lookup (pkg/storage/engine.go's table.GetIndex(name).Tree.Search) into
// the spec's bucketed design.
type Table struct {
	Name    string
	Schema  *Schema
	Region  *pregion.Region
	buckets []*Bucket
	mu      sync.RWMutex // guards metadata, not row contents

	idsMu sync.Mutex
	ids   map[engineid.ObjectID]Ref // ObjectID -> row location, for replay binding
}

// NewTable creates a table with bucketCount buckets (ideally a power of two
// so the hash-modulo lookup distributes evenly; not enforced, matching the
// teacher's light-touch validation style).
func NewTable(name string, schema *Schema, region *pregion.Region, bucketCount int) *Table {
	if bucketCount <= 0 {
		bucketCount = 16
	}
	t := &Table{Name: name, Schema: schema, Region: region, ids: make(map[engineid.ObjectID]Ref)}
	t.buckets = make([]*Bucket, bucketCount)
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// bucketForString is bucketFor's replay-time counterpart: hashes a row's
// already-stringified key form directly, since replay never reconstructs
// the original typed key (see ReplayInstall).
func (t *Table) bucketForString(keyStr string) (*Bucket, int) {
	h := fnv.New32a()
	h.Write([]byte(keyStr))
	idx := int(h.Sum32()) % len(t.buckets)
	if idx < 0 {
		idx += len(t.buckets)
	}
	return t.buckets[idx], idx
}

// Lookup returns the row location already known for id, if this table has
// seen it before (via Push, PushRaw, or an earlier replay step).
func (t *Table) Lookup(id engineid.ObjectID) (Ref, bool) {
	t.idsMu.Lock()
	defer t.idsMu.Unlock()
	ref, ok := t.ids[id]
	return ref, ok
}

func (t *Table) bucketFor(key types.Comparable) (*Bucket, int) {
	h := fnv.New32a()
	h.Write([]byte(keyString(key)))
	idx := int(h.Sum32()) % len(t.buckets)
	if idx < 0 {
		idx += len(t.buckets)
	}
	return t.buckets[idx], idx
}

// Ref addresses one row within a table: the bucket it lives in and its
// index within that bucket's row vector. It is the RecordRef the external
// Txn interface (spec section 6) operates on.
type Ref struct {
	Table     *Table
	BucketIdx int
	RowIdx    int
}

func (r Ref) record() *Record {
	return r.Table.buckets[r.BucketIdx].Rows[r.RowIdx]
}

// ObjectID returns the identity of the row this ref addresses.
func (r Ref) ObjectID() engineid.ObjectID { return r.record().ID }

// Word returns the version word guarding the row this ref addresses.
func (r Ref) Word() *version.Word { return &r.record().Version }

// Schema returns the owning table's schema, for field-offset lookups.
func (r Ref) Schema() *Schema { return r.Table.Schema }

// Data returns a snapshot copy of the row's current byte image. A copy is
// required here: installs overwrite the live buffer in place
// (WriteWhole/WriteField), and OCC/ParOCC readers are lock-free, so handing
// back the live slice would race with a concurrent committer and could
// return a torn read.
func (r Ref) Data() []byte { return r.record().Snapshot() }

// InstallWhole overwrites the row's entire live buffer.
func (r Ref) InstallWhole(val []byte) { r.record().WriteWhole(val) }

// InstallFields overwrites only the named fields of the row's live buffer.
func (r Ref) InstallFields(vals map[int][]byte) {
	rec := r.record()
	for idx, v := range vals {
		rec.WriteField(r.Table.Schema, idx, v)
	}
}

// PersistWhole flushes the row's entire current byte image to its NVM
// mirror, reserving the mirror slot on first use.
func (r Ref) PersistWhole(region *pregion.Region) error {
	rec := r.record()
	off, err := rec.MirrorOffset(region, r.Table.Schema)
	if err != nil {
		return err
	}
	region.NodrainCopy(off, rec.Data)
	return region.Flush(off, len(rec.Data))
}

// PersistFields flushes only the listed fields to the NVM mirror - the
// field-masked flush path spec 4.F step f calls for when a write buffered a
// field mask instead of a whole-record value.
func (r Ref) PersistFields(region *pregion.Region, fields []int) error {
	rec := r.record()
	off, err := rec.MirrorOffset(region, r.Table.Schema)
	if err != nil {
		return err
	}
	for _, fi := range fields {
		fd := r.Table.Schema.Field(fi)
		fieldOff := off.Add(fd.Offset)
		region.NodrainCopy(fieldOff, rec.Data[fd.Offset:fd.Offset+fd.Size])
		if err := region.Flush(fieldOff, fd.Size); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve finds a row by primary key, returning its Ref.
func (t *Table) Retrieve(key types.Comparable) (Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, bidx := t.bucketFor(key)
	if rec, ok := b.Lookup(key); ok {
		for i, r := range b.Rows {
			if r == rec {
				return Ref{Table: t, BucketIdx: bidx, RowIdx: i}, true
			}
		}
	}
	return Ref{}, false
}

// Push appends a brand-new row holding entry's initial bytes, tagging the
// access as tag.OpPush in txnTags so install happens at commit time (spec
// 4.C: "install is performed at commit," never at Push call time). id must
// be freshly minted by the calling transaction's own engineid.Factory.
func (t *Table) Push(tid engineid.Tid, id engineid.ObjectID, txnTags *tag.Set, key types.Comparable, entry []byte) (Ref, error) {
	t.mu.RLock()
	b, bidx := t.bucketFor(key)
	t.mu.RUnlock()

	if key != nil {
		if _, exists := b.Lookup(key); exists {
			return Ref{}, xerrors.Wrap(xerrors.KindIndexErr, xerrors.IndexErr, "record: duplicate primary key on push")
		}
	}

	rec := newRecord(id, t.Schema, key)

	var rowIdx int
	err := b.withStructLock(tid, func() error {
		rowIdx = b.append(rec)
		return nil
	})
	if err != nil {
		return Ref{}, err
	}

	ref := Ref{Table: t, BucketIdx: bidx, RowIdx: rowIdx}
	t.idsMu.Lock()
	t.ids[id] = ref
	t.idsMu.Unlock()

	tg := txnTags.Retrieve(id, tag.OpPush)
	tg.AddVersion(0)
	tg.Write(entry, nil)
	if key != nil {
		tg.SetPushKey(keyString(key))
	}
	tg.SetPushTable(t.Name)
	return ref, nil
}

// Delete logically removes key from the bucket's primary index. The row
// slab itself is left in place (Non-goal: no transactional storage
// reclamation), matching pkg/storage/engine.go's Del/tombstone approach.
func (t *Table) Delete(txnTags *tag.Set, key types.Comparable) (Ref, error) {
	ref, ok := t.Retrieve(key)
	if !ok {
		return Ref{}, xerrors.Wrap(xerrors.KindIndexErr, xerrors.IndexErr, "record: delete of missing key")
	}
	tg := txnTags.Retrieve(ref.ObjectID(), tag.OpDelete)
	tg.AddVersion(ref.Word().GetVersion())
	tg.Write(key, nil)
	return ref, nil
}

// InstallDelete removes key from its bucket's primary index. Called at
// commit-time install, after the deleting transaction's lock/validate
// phases passed.
func (t *Table) InstallDelete(key types.Comparable) {
	t.mu.RLock()
	b, _ := t.bucketFor(key)
	t.mu.RUnlock()
	b.removeFromIndex(key)
}

// PushRaw bulk-loads a row outside of any transaction: no tag, no log
// entry, no lock. Intended for initial data load before concurrent access
// begins, matching the spec's non-transactional bulk-load contract.
func (t *Table) PushRaw(id engineid.ObjectID, key types.Comparable, entry []byte) Ref {
	t.mu.RLock()
	b, bidx := t.bucketFor(key)
	t.mu.RUnlock()

	rec := newRecord(id, t.Schema, key)
	copy(rec.Data, entry)
	rowIdx := b.append(rec)
	ref := Ref{Table: t, BucketIdx: bidx, RowIdx: rowIdx}
	t.idsMu.Lock()
	t.ids[id] = ref
	t.idsMu.Unlock()
	return ref
}

// ReplayInstall places a row recovered from the redo log, binding id to a
// fresh record keyed by keyStr (the row's primary key in its already-
// stringified log form - replay never reconstructs a typed types.Comparable,
// since the log only ever carried bytes). If id is already known to this
// table (a prior DATA record for the same push, or a later field update
// replayed out of Push order), the existing row is overwritten in place
// instead of appending a second one.
func (t *Table) ReplayInstall(id engineid.ObjectID, keyStr string, whole []byte) Ref {
	if ref, ok := t.Lookup(id); ok {
		ref.record().WriteWhole(whole)
		return ref
	}

	t.mu.RLock()
	b, bidx := t.bucketForString(keyStr)
	t.mu.RUnlock()

	rec := newRecord(id, t.Schema, nil)
	copy(rec.Data, whole)
	rowIdx := b.appendWithKeyString(rec, keyStr)

	ref := Ref{Table: t, BucketIdx: bidx, RowIdx: rowIdx}
	t.idsMu.Lock()
	t.ids[id] = ref
	t.idsMu.Unlock()
	return ref
}

// ReplayFieldInstall applies a recovered field-masked write to the row
// already bound to id. The row must already exist (every field write's
// owning record was pushed, and committed, before the write could have
// happened) - a missing id here means the log and the table metadata have
// diverged, an engine bug rather than a recoverable condition.
func (t *Table) ReplayFieldInstall(id engineid.ObjectID, fields map[int][]byte) {
	ref, ok := t.Lookup(id)
	if !ok {
		xerrors.Fatal("record: replay field install for unknown object %d", id)
	}
	rec := ref.record()
	for idx, v := range fields {
		rec.WriteField(t.Schema, idx, v)
	}
}

// ReplayDelete removes keyStr from its bucket's primary index, mirroring
// InstallDelete for recovered DELETE records.
func (t *Table) ReplayDelete(keyStr string) {
	t.mu.RLock()
	b, _ := t.bucketForString(keyStr)
	t.mu.RUnlock()
	b.removeFromIndexString(keyStr)
}

// BucketCount returns the number of buckets, used by pkg/secidx's
// full-table rebuild scan for operational secondary indexes.
func (t *Table) BucketCount() int { return len(t.buckets) }

// RangeBucket iterates the rows of bucket i, for index rebuild. A row whose
// typed key is no longer in the bucket's primary index (it was deleted) is
// skipped; rows without a typed key (no primary-key column, or placed by log
// replay) are always visited.
func (t *Table) RangeBucket(i int, fn func(Ref)) {
	t.mu.RLock()
	b := t.buckets[i]
	t.mu.RUnlock()
	for rowIdx, rec := range b.Rows {
		if rec.Key != nil {
			if live, ok := b.index[keyString(rec.Key)]; !ok || live != rowIdx {
				continue
			}
		}
		fn(Ref{Table: t, BucketIdx: i, RowIdx: rowIdx})
	}
}
