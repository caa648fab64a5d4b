// Truncator periodically records a "safe replay start" watermark so Recover
// need not always walk the log from byte zero. Adapted from
// pkg/storage/checkpoint.go's CheckpointManager: same write-to-.tmp-then-
// rename durability trick, same old-checkpoint cleanup, but the payload is a
// single offset instead of a serialized B+Tree (secondary indexes are
// operational-only here and are never checkpointed; see pkg/secidx).
//
// Disabled by default (Config.CheckpointInterval == 0) - this is an
// additive convenience on top of the spec's replay-from-base recovery, not
// a required component.
package txlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobboyms/storage-engine/pkg/log"
)

// Truncator owns the checkpoint watermark file for one log.
type Truncator struct {
	dir string
	mu  sync.Mutex
}

// NewTruncator returns a Truncator writing watermark files under dir.
func NewTruncator(dir string) *Truncator {
	return &Truncator{dir: dir}
}

// RecordWatermark durably records that every TXN_COMMIT before offset has
// been reflected in every bucket's NVM mirror.
func (t *Truncator) RecordWatermark(offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	final := filepath.Join(t.dir, "watermark.chk")
	tmp := final + ".tmp"

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	if err := os.WriteFile(tmp, buf[:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// LoadWatermark returns the last recorded offset, or 0 if none exists.
func (t *Truncator) LoadWatermark() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(t.dir, "watermark.chk"))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

// Run starts a background loop that records the watermark at interval until
// stop is closed, reporting through the value returned by currentOffset.
func (t *Truncator) Run(interval time.Duration, stop <-chan struct{}, currentOffset func() int64) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			off := currentOffset()
			if err := t.RecordWatermark(off); err != nil {
				log.Logger.Warn().Err(err).Msg("txlog: checkpoint watermark write failed")
				continue
			}
			log.Logger.Debug().Str("watermark", fmt.Sprintf("%d", off)).Msg("txlog: checkpoint recorded")
		case <-stop:
			return
		}
	}
}
