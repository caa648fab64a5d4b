package secidx

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/bobboyms/storage-engine/pkg/record"
	"github.com/bobboyms/storage-engine/pkg/types"
)

// decodeField converts a field's raw byte slot back into the teacher's
// types.Comparable key family, using the declared FieldKind the way
// pkg/storage's Put/InsertRow consulted a column's DataType before handing
// a value to its B+Tree index.
func decodeField(kind record.FieldKind, raw []byte) types.Comparable {
	switch kind {
	case record.KindInt:
		return types.IntKey(int64(binary.LittleEndian.Uint64(raw)))
	case record.KindFloat:
		return types.FloatKey(math.Float64frombits(binary.LittleEndian.Uint64(raw)))
	case record.KindBool:
		return types.BoolKey(raw[0] != 0)
	case record.KindDate:
		nanos := int64(binary.LittleEndian.Uint64(raw))
		return types.DateKey(time.Unix(0, nanos).UTC())
	default: // record.KindVarchar
		return types.VarcharKey(string(bytes.TrimRight(raw, "\x00")))
	}
}
