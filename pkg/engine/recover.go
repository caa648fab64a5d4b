// Recover replays the redo log written before a crash, the way
// pkg/storage.StorageEngine.Recover replays its WAL against the heap - here
// over the tagged DATA/TXN_COMMIT record shape txn/encode.go produces.
package engine

import (
	"io"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/log"
	"github.com/bobboyms/storage-engine/pkg/tag"
	"github.com/bobboyms/storage-engine/pkg/txlog"
	"github.com/bobboyms/storage-engine/pkg/txn"
)

// pendingTxn buffers one not-yet-committed transaction's DATA records. Spec
// section 4.E: a transaction's writes become visible only once its
// TXN_COMMIT marker has been seen - anything still pending at EOF belongs to
// a transaction that crashed before committing, and is discarded.
type pendingTxn struct {
	envs []txn.DataEnvelope
}

// Recover replays every DATA/TXN_COMMIT record written since the last
// checkpoint (or from the start of the log, if no checkpoint exists),
// applying only the writes of transactions whose commit marker was
// observed. Tables referenced by the log must already be registered via
// CreateTable before Recover runs - recovery restores row contents, not
// schema.
//
// Callers that also use operational secondary indexes (pkg/secidx) must
// call Index.Rebuild on each one after Recover returns, since the redo log
// never carries index state (spec section 5: operational only).
func (e *Engine) Recover() error {
	watermark, err := e.Truncator.LoadWatermark()
	if err != nil {
		return errors.Wrap(err, "engine: recover: load watermark")
	}

	path := filepath.Join(e.Cfg.LogDir, "data.log")
	reader, err := txlog.NewReader(path)
	if err != nil {
		return errors.Wrap(err, "engine: recover: open log")
	}
	defer reader.Close()

	pending := make(map[engineid.Tid]*pendingTxn)
	var applied, discarded int

	for {
		rec, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errors.Wrap(err, "engine: recover: read record")
		}
		if int64(watermark) > 0 && reader.Offset() <= watermark {
			continue
		}

		tid := engineid.Tid(rec.Header.Tid)
		switch rec.Header.Kind {
		case txlog.KindData:
			env, err := txn.DecodeDataPayload(rec.Payload)
			if err != nil {
				return errors.Wrap(err, "engine: recover: decode data record")
			}
			p := pending[tid]
			if p == nil {
				p = &pendingTxn{}
				pending[tid] = p
			}
			p.envs = append(p.envs, env)

		case txlog.KindTxnCommit:
			p, ok := pending[tid]
			if !ok {
				continue
			}
			for _, env := range p.envs {
				if err := e.applyRecovered(env); err != nil {
					return errors.Wrap(err, "engine: recover: apply record")
				}
			}
			applied += len(p.envs)
			delete(pending, tid)

		default:
			return errors.AssertionFailedf("engine: recover: unknown record kind %d", rec.Header.Kind)
		}
	}

	for tid, p := range pending {
		discarded += len(p.envs)
		log.Logger.Warn().Uint32("tid", uint32(tid)).Int("records", len(p.envs)).
			Msg("engine: recover: discarding uncommitted transaction")
	}

	log.Logger.Info().Int("applied", applied).Int("discarded", discarded).Msg("engine: recover: replay complete")
	return nil
}

// applyRecovered installs one committed record's post-image, routing it to
// its owning table via Metadata.FindByID (non-push records) or the
// envelope's own Table field (push records, which Metadata cannot yet
// locate - see pkg/tag.Tag.PushTable).
func (e *Engine) applyRecovered(env txn.DataEnvelope) error {
	id := engineid.ObjectID(env.Object)
	op := tag.Operation(env.Op)

	if op == tag.OpPush {
		table, ok := e.Meta.GetTable(env.Table)
		if !ok {
			return errors.Newf("engine: recover: push record for unknown table %q", env.Table)
		}
		table.ReplayInstall(id, env.KeyStr, env.Whole)
		return nil
	}

	table, ok := e.Meta.FindByID(id)
	if !ok {
		return errors.Newf("engine: recover: record for unknown object %d", env.Object)
	}

	switch op {
	case tag.OpDelete:
		table.ReplayDelete(env.DeleteKey)
	default: // OpRWrite
		if env.FieldVals != nil {
			fields := make(map[int][]byte, len(env.FieldVals))
			for k, v := range env.FieldVals {
				idx, err := strconv.Atoi(k)
				if err != nil {
					return errors.Wrapf(err, "engine: recover: bad field index %q", k)
				}
				fields[idx] = v
			}
			table.ReplayFieldInstall(id, fields)
		} else {
			ref, ok := table.Lookup(id)
			if !ok {
				return errors.Newf("engine: recover: whole-write record for unknown object %d", env.Object)
			}
			ref.InstallWhole(env.Whole)
		}
	}
	return nil
}
