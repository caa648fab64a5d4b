package record

import (
	"fmt"

	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/version"
	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// Bucket is an append-only vector of rows plus a primary-key index over
// them. Structural changes (appends that grow the row slice, and the NVM
// chunk growth those appends can trigger) are guarded by StructWord, a
// version word used purely for its OCC lock - there is no corresponding
// "reader" side, since reads never need to block an append.
type Bucket struct {
	Rows       []*Record
	index      map[string]int // primary-key string form -> row index
	StructWord version.Word
}

func newBucket() *Bucket {
	b := &Bucket{index: make(map[string]int)}
	b.StructWord.Init()
	return b
}

func keyString(k types.Comparable) string {
	return fmt.Sprintf("%v", k)
}

// Lookup returns the row for key, if present.
func (b *Bucket) Lookup(key types.Comparable) (*Record, bool) {
	idx, ok := b.index[keyString(key)]
	if !ok {
		return nil, false
	}
	return b.Rows[idx], true
}

// append adds rec to the bucket's row vector and primary index. Callers
// must hold the bucket's StructWord write lock.
func (b *Bucket) append(rec *Record) int {
	idx := len(b.Rows)
	b.Rows = append(b.Rows, rec)
	if rec.Key != nil {
		b.index[keyString(rec.Key)] = idx
	}
	return idx
}

// removeFromIndex logically deletes key from the primary index without
// touching the row slab - the row slot remains for any transaction still
// holding a reference to it (mirrors the teacher's tombstone-without-
// compaction approach in pkg/storage/engine.go's Del).
func (b *Bucket) removeFromIndex(key types.Comparable) {
	delete(b.index, keyString(key))
}

// appendWithKeyString is append's replay-time counterpart: log replay only
// has a row's string key form (DataEnvelope.DeleteKey/KeyStr), never the
// original typed types.Comparable, since the log's job is to reconstruct
// bytes, not application-level types. keyStr == "" (no primary key column)
// behaves like append's rec.Key == nil case.
func (b *Bucket) appendWithKeyString(rec *Record, keyStr string) int {
	idx := len(b.Rows)
	b.Rows = append(b.Rows, rec)
	if keyStr != "" {
		b.index[keyStr] = idx
	}
	return idx
}

// removeFromIndexString is removeFromIndex's replay-time counterpart.
func (b *Bucket) removeFromIndexString(keyStr string) {
	delete(b.index, keyStr)
}

// withStructLock runs fn while holding the bucket's structural write lock.
// A busy lock aborts immediately rather than spinning: structural changes
// are expected to be brief, and the caller (Table.Push/Delete) is already
// inside a transaction's own retry loop.
func (b *Bucket) withStructLock(tid engineid.Tid, fn func() error) error {
	if !b.StructWord.Lock(tid) {
		return xerrors.Wrap(xerrors.KindFailedLocking, xerrors.FailedLocking, "bucket: structural lock busy")
	}
	defer b.StructWord.Unlock(tid)
	return fn()
}
