// Package record implements the record/table data model: fixed-layout
// typed rows addressed through a field-offset descriptor, grouped into
// append-only buckets guarded by a bucket-level version word.
//
// Grounded on pkg/storage/table.go's Table/TableMetaData surface as it is
// actually *called* from pkg/storage/engine.go (table.GetIndex,
// table.GetIndicesUnsafe, table.Lock/RLock/RUnlock) rather than on
// table.go's own stale struct definition, which does not implement those
// methods and is never wired to anything else in the teacher repo. Field
// typing reuses the teacher's DataType/Comparable family
// (pkg/storage/*Type constants, pkg/types.Comparable).
package record

import (
	"fmt"

	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// FieldKind is a column's declared type, reusing the teacher's DataType
// vocabulary (IntKey/VarcharKey/FloatKey/BoolKey/DateKey in pkg/types).
type FieldKind uint8

const (
	KindInt FieldKind = iota
	KindVarchar
	KindFloat
	KindBool
	KindDate
)

// maxFields is the field-offset table's fixed capacity, per the data
// model's "up to 32 entries" bound.
const maxFields = 32

// FieldDescriptor locates one column within a row's byte buffer. Sizes are
// stored explicitly rather than derived from the next field's offset -
// resolving the data model's Open Question in favor of an unambiguous
// per-field length even when fields are reordered or a row is
// field-masked on a partial write.
type FieldDescriptor struct {
	Name   string
	Kind   FieldKind
	Offset int
	Size   int
}

// Schema is a table's field-offset descriptor: up to 32 fields, one
// (optionally) marked as the primary key.
type Schema struct {
	fields        [maxFields]FieldDescriptor
	count         int
	rowSize       int
	primaryKeyIdx int
}

// NewSchema returns an empty schema with no primary key designated yet.
func NewSchema() *Schema {
	return &Schema{primaryKeyIdx: -1}
}

// AddField appends a column, assigning it the next free byte offset. It
// fails once 32 fields have been declared.
func (s *Schema) AddField(name string, kind FieldKind, size int) (int, error) {
	if s.count >= maxFields {
		return 0, xerrors.Wrap(xerrors.KindIndexErr, xerrors.IndexErr, fmt.Sprintf("schema: field table full, cannot add %q", name))
	}
	idx := s.count
	s.fields[idx] = FieldDescriptor{Name: name, Kind: kind, Offset: s.rowSize, Size: size}
	s.rowSize += size
	s.count++
	return idx, nil
}

// SetPrimaryKey designates field idx as the table's primary key.
func (s *Schema) SetPrimaryKey(idx int) {
	s.primaryKeyIdx = idx
}

func (s *Schema) PrimaryKeyIndex() int { return s.primaryKeyIdx }
func (s *Schema) RowSize() int         { return s.rowSize }
func (s *Schema) FieldCount() int      { return s.count }

// Field returns the descriptor for field idx.
func (s *Schema) Field(idx int) FieldDescriptor { return s.fields[idx] }

// FieldByName looks up a field's index by name.
func (s *Schema) FieldByName(name string) (int, bool) {
	for i := 0; i < s.count; i++ {
		if s.fields[i].Name == name {
			return i, true
		}
	}
	return 0, false
}
