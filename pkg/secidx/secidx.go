// Package secidx implements an operational, non-durable secondary index
// over a table's rows, built on pkg/btree's B+Tree.
//
// Spec.md section 5 calls these indexes out explicitly: "operational
// only" - they serve range and equality lookups during normal operation
// but never survive a crash, are never written to the redo log, and are
// never checkpointed. original_source/ has no secondary-index concept at
// all (pnvm's only index is each bucket's primary-key map); this is a
// feature supplemented from the teacher repo, whose B+Tree (pkg/btree) is
// exactly the shape spec.md asks for, adapted here: per-node latches now
// spin (version.SpinMutex, see pkg/btree/node.go) instead of parking on a
// sync.RWMutex, and the indexed value is a bucket/row coordinate pair
// instead of a heap file offset.
package secidx

import (
	"github.com/bobboyms/storage-engine/pkg/btree"
	"github.com/bobboyms/storage-engine/pkg/record"
	"github.com/bobboyms/storage-engine/pkg/types"
)

// degree is the B+Tree's minimum degree (T), matching the teacher's default
// test fixtures - not spec-mandated, just a reasonable node fan-out.
const degree = 32

// Index is a secondary index over one field of a table. It is built (or
// rebuilt) from the table's current rows and is never persisted; a crash
// loses it, and Rebuild regenerates it in one full-bucket scan.
type Index struct {
	table    *record.Table
	fieldIdx int
	unique   bool
	tree     *btree.BPlusTree
}

// New builds an index over table's field fieldIdx, scanning every row
// currently present (intended to run once, before concurrent access
// begins, or as part of post-recovery rebuild - see pkg/engine.Recover).
func New(table *record.Table, fieldIdx int, unique bool) *Index {
	idx := &Index{table: table, fieldIdx: fieldIdx, unique: unique}
	idx.Rebuild()
	return idx
}

// Rebuild discards the current tree and repopulates it from every live row
// in every bucket of the owning table (see record.Table.RangeBucket). After
// a crash, pkg/engine.Recover replays only the table rows; the caller runs
// Rebuild afterwards to reconstruct the index, which is never logged.
func (idx *Index) Rebuild() {
	var tree *btree.BPlusTree
	if idx.unique {
		tree = btree.NewUniqueTree(degree)
	} else {
		tree = btree.NewTree(degree)
	}
	for b := 0; b < idx.table.BucketCount(); b++ {
		idx.table.RangeBucket(b, func(ref record.Ref) {
			key := idx.keyFor(ref)
			if key == nil {
				return
			}
			// Best-effort: a unique-index violation discovered during
			// rebuild means the underlying table itself has a duplicate
			// value for a column declared unique - an application bug,
			// not an index bug, so it is silently skipped rather than
			// aborting the rebuild.
			_ = tree.Insert(key, encodeRef(ref))
		})
	}
	idx.tree = tree
}

func (idx *Index) keyFor(ref record.Ref) types.Comparable {
	schema := ref.Schema()
	if idx.fieldIdx >= schema.FieldCount() {
		return nil
	}
	fd := schema.Field(idx.fieldIdx)
	data := ref.Data()
	if fd.Offset+fd.Size > len(data) {
		return nil
	}
	return decodeField(fd.Kind, data[fd.Offset:fd.Offset+fd.Size])
}

// Insert adds ref's current field value to the index. Callers that mutate
// a row through the field-indexed column are responsible for calling this
// after commit (the engine's commit pipeline itself never touches
// operational indexes - keeping them out of the critical path and out of
// the redo log, per spec.md's non-goal on durable secondary indexes).
func (idx *Index) Insert(ref record.Ref) error {
	key := idx.keyFor(ref)
	if key == nil {
		return nil
	}
	return idx.tree.Insert(key, encodeRef(ref))
}

// Remove drops key from the index (e.g. after a row's indexed field
// changed, or the row was deleted).
func (idx *Index) Remove(key types.Comparable) bool {
	return idx.tree.Remove(key)
}

// Lookup finds the row whose indexed field equals key, if tracked.
func (idx *Index) Lookup(key types.Comparable) (record.Ref, bool) {
	dataPtr, ok := idx.tree.Get(key)
	if !ok {
		return record.Ref{}, false
	}
	return decodeRef(idx.table, dataPtr), true
}

// RangeScan calls fn for every row whose indexed field is >= lower, in
// ascending key order, walking the B+Tree's leaf linked list the way a
// teacher-style cursor (pkg/query/scan.go) walks the heap: starting at the
// lower-bound leaf, fn stops the scan early by returning false.
func (idx *Index) RangeScan(lower types.Comparable, fn func(record.Ref) bool) {
	node, i := idx.tree.FindLeafLowerBound(lower)
	for node != nil {
		for ; i < node.N; i++ {
			if !fn(decodeRef(idx.table, node.DataPtrs[i])) {
				node.RUnlock()
				return
			}
		}
		next := node.Next
		node.RUnlock()
		node = next
		i = 0
		if node != nil {
			node.RLock()
		}
	}
}

func encodeRef(ref record.Ref) int64 {
	return int64(ref.BucketIdx)<<32 | int64(uint32(ref.RowIdx))
}

func decodeRef(table *record.Table, ptr int64) record.Ref {
	return record.Ref{
		Table:     table,
		BucketIdx: int(ptr >> 32),
		RowIdx:    int(int32(uint32(ptr))),
	}
}
