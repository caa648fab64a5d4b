package record

import (
	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/pregion"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/version"
)

// Record is one row: a volatile in-memory byte buffer (the fast path every
// transaction reads/writes), an optional NVM mirror offset written at
// commit-time install, a primary-key value, and the version word
// controlling concurrent access.
type Record struct {
	ID      engineid.ObjectID
	Data    []byte
	NVM     pregion.Offset
	HasNVM  bool
	Key     types.Comparable
	Version version.Word
}

// newRecord allocates a row of schema.RowSize() bytes, zeroed, with its
// version word initialized to the "no writer yet" sentinel.
func newRecord(id engineid.ObjectID, schema *Schema, key types.Comparable) *Record {
	r := &Record{
		ID:   id,
		Data: make([]byte, schema.RowSize()),
		Key:  key,
	}
	r.Version.Init()
	return r
}

// ReadField returns a copy of the bytes currently stored for field idx.
func (r *Record) ReadField(schema *Schema, idx int) []byte {
	fd := schema.Field(idx)
	out := make([]byte, fd.Size)
	copy(out, r.Data[fd.Offset:fd.Offset+fd.Size])
	return out
}

// WriteField overwrites field idx's bytes in place. Called at commit-time
// install, never directly by a transaction's buffered Write.
func (r *Record) WriteField(schema *Schema, idx int, val []byte) {
	fd := schema.Field(idx)
	copy(r.Data[fd.Offset:fd.Offset+fd.Size], val)
}

// WriteWhole overwrites the entire row buffer.
func (r *Record) WriteWhole(val []byte) {
	copy(r.Data, val)
}

// Snapshot returns a copy of the row's current byte image, for logging and
// NVM-mirror installs.
func (r *Record) Snapshot() []byte {
	out := make([]byte, len(r.Data))
	copy(out, r.Data)
	return out
}

// MirrorOffset reserves the record's persistent-memory mirror slot, if it
// does not already have one, allocating schema.RowSize() bytes from region.
func (r *Record) MirrorOffset(region *pregion.Region, schema *Schema) (pregion.Offset, error) {
	if r.HasNVM {
		return r.NVM, nil
	}
	off, err := region.Alloc(schema.RowSize())
	if err != nil {
		return 0, err
	}
	r.NVM = off
	r.HasNVM = true
	return off, nil
}
