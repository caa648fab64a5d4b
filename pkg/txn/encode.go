package txn

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/storage-engine/pkg/tag"
	"github.com/bobboyms/storage-engine/pkg/types"
)

// DataEnvelope is the BSON-encoded shape of a DATA log record's payload:
// enough to replay a single tag's buffered write against a record during
// recovery, without needing a separate schema registry to decode it.
// Grounded on pkg/storage/bson.go's document codec, reused here for the
// log payload instead of the request/response documents the teacher uses
// it for.
type DataEnvelope struct {
	Object    uint64            `bson:"object"`
	Op        uint8             `bson:"op"`
	Fields    []int             `bson:"fields,omitempty"`
	Whole     []byte            `bson:"whole,omitempty"`
	FieldVals map[string][]byte `bson:"field_vals,omitempty"`
	DeleteKey string            `bson:"delete_key,omitempty"`
	KeyStr    string            `bson:"key_str,omitempty"`
	Table     string            `bson:"table,omitempty"`
}

func encodeDataPayload(k tag.Key, tg *tag.Tag) ([]byte, error) {
	env := DataEnvelope{Object: uint64(k.Object), Op: uint8(k.Op), Fields: tg.Fields}

	switch k.Op {
	case tag.OpDelete:
		key, ok := tg.WriteValue().(types.Comparable)
		if !ok {
			return nil, fmt.Errorf("txn: delete tag missing key value")
		}
		env.DeleteKey = fmt.Sprintf("%v", key)
	default:
		if tg.Fields != nil {
			vals, ok := tg.WriteValue().(map[int][]byte)
			if !ok {
				return nil, fmt.Errorf("txn: field-masked tag has non-map write value")
			}
			env.FieldVals = make(map[string][]byte, len(vals))
			for idx, v := range vals {
				env.FieldVals[strconv.Itoa(idx)] = v
			}
		} else {
			whole, ok := tg.WriteValue().([]byte)
			if !ok {
				return nil, fmt.Errorf("txn: whole-record tag has non-[]byte write value")
			}
			env.Whole = whole
		}
		if k.Op == tag.OpPush {
			env.KeyStr = tg.PushKey()
			env.Table = tg.PushTable()
		}
	}

	return bson.Marshal(env)
}

// DecodeDataPayload reverses encodeDataPayload, used by recovery replay.
func DecodeDataPayload(data []byte) (DataEnvelope, error) {
	var env DataEnvelope
	err := bson.Unmarshal(data, &env)
	return env, err
}
