// Package tag implements the per-transaction access tag set: a map keyed by
// (ObjectId, Operation) that buffers a transaction's reads and writes until
// commit time.
//
// Grounded on pkg/storage/transaction_write.go's WriteTransaction.writeSet
// (a slice of buffered writeOp, applied only at Commit) generalized from a
// slice into a map as original_source/pnvm_lib/src/parnvm/nvm_txn_raw.rs's
// TransactionParOCCRaw.tags_ (HashMap<(ObjectId, Operation), TTag>) does, so
// repeated access to the same record reuses one tag instead of appending
// duplicate write ops.
package tag

import (
	"github.com/bobboyms/storage-engine/pkg/engineid"
)

// Operation classifies how a transaction touched a record.
type Operation uint8

const (
	OpRead Operation = iota
	OpRWrite
	OpPush
	OpDelete
)

// Key identifies one access tag.
type Key struct {
	Object engineid.ObjectID
	Op     Operation
}

// Tag buffers one record access: the version observed when the record was
// first touched, an optional buffered write value, an optional field mask
// for partial writes, and whether this transaction currently holds the
// record's lock (so commit/abort release exactly what they acquired).
type Tag struct {
	Object    engineid.ObjectID
	Version   engineid.Tid
	write     any
	hasWrite  bool
	Fields    []int // nil means "whole record"
	locked    bool
	pushKey   string // OpPush only: the row's primary key in log/replay string form
	pushTable string // OpPush only: the owning table's name, for replay routing
}

// SetPushKey records the primary key a Push tag's row was created under, in
// its already-stringified form, so the commit-time log payload carries
// enough information for replay to place the row in the right bucket
// without reconstructing a typed types.Comparable (see pkg/txn/encode.go).
func (t *Tag) SetPushKey(keyStr string) { t.pushKey = keyStr }

// PushKey returns the key recorded by SetPushKey, or "" if none was set
// (no primary key column).
func (t *Tag) PushKey() string { return t.pushKey }

// SetPushTable records which table a Push tag's row belongs to. A DATA
// record's ObjectId alone does not name a table, so Push records carry it
// explicitly; every other operation locates its table via Metadata.FindByID
// once the pushed row is known (see pkg/txn/encode.go, pkg/engine/recover.go).
func (t *Tag) SetPushTable(name string) { t.pushTable = name }

// PushTable returns the table name recorded by SetPushTable.
func (t *Tag) PushTable() string { return t.pushTable }

// AddVersion records the version observed at first access.
func (t *Tag) AddVersion(v engineid.Tid) { t.Version = v }

// Write buffers val as the new value for this tag, optionally restricted to
// fields.
func (t *Tag) Write(val any, fields []int) {
	t.write = val
	t.hasWrite = true
	t.Fields = fields
}

// WriteValue returns the buffered write. Panics if HasWrite is false - a
// read-only tag being committed as a write is an engine bug, matching
// tcore.rs's TTag::write_value panic-on-empty behavior.
func (t *Tag) WriteValue() any {
	if !t.hasWrite {
		panic("tag: write_value on read-only tag")
	}
	return t.write
}

func (t *Tag) HasWrite() bool { return t.hasWrite }
func (t *Tag) HasRead() bool  { return !t.hasWrite }

func (t *Tag) MarkLocked(v bool) { t.locked = v }
func (t *Tag) IsLocked() bool    { return t.locked }

// Set is a transaction's access tag set, capacity-hinted to 32 entries to
// match nvm_txn_raw.rs's HashMap::with_capacity(32).
type Set struct {
	m map[Key]*Tag
}

// NewSet allocates an empty tag set.
func NewSet() *Set {
	return &Set{m: make(map[Key]*Tag, 32)}
}

// Retrieve returns the tag for (object, op), creating it on first access.
func (s *Set) Retrieve(object engineid.ObjectID, op Operation) *Tag {
	key := Key{Object: object, Op: op}
	if t, ok := s.m[key]; ok {
		return t
	}
	t := &Tag{Object: object}
	s.m[key] = t
	return t
}

// Lookup returns the tag for (object, op) without creating it.
func (s *Set) Lookup(object engineid.ObjectID, op Operation) (*Tag, bool) {
	t, ok := s.m[Key{Object: object, Op: op}]
	return t, ok
}

// Range iterates every tag in the set. Order is unspecified, matching a Go
// map - callers that need a deterministic lock order (OCC's lock phase)
// sort keys first (see pkg/txn).
func (s *Set) Range(fn func(Key, *Tag)) {
	for k, t := range s.m {
		fn(k, t)
	}
}

func (s *Set) Len() int { return len(s.m) }

// Keys returns every key currently tagged, for callers that need a stable
// iteration order (e.g. lock phases that must avoid self-deadlock).
func (s *Set) Keys() []Key {
	keys := make([]Key, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *Set) Get(k Key) *Tag { return s.m[k] }

// Clear empties the set, used by ParOCC at the end of each piece commit.
func (s *Set) Clear() {
	for k := range s.m {
		delete(s.m, k)
	}
}
