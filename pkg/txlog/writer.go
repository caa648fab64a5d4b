// Writer is the append-only log writer. Adapted from pkg/wal/writer.go:
// same buffered-append-then-sync-policy shape, same background sync
// goroutine for SyncInterval.
package txlog

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobboyms/storage-engine/pkg/log"
)

// Writer appends DATA and TXN_COMMIT records to a single log file.
type Writer struct {
	mu         sync.Mutex
	file       *os.File
	buf        *bufio.Writer
	opts       Options
	batchBytes int64
	written    int64
	done       chan struct{}
	ticker     *time.Ticker
	closed     bool
}

// NewWriter opens (creating if needed) the log file at opts.DirPath/data.log
// and, for SyncInterval, starts a background fsync goroutine.
func NewWriter(opts Options) (*Writer, error) {
	if err := os.MkdirAll(opts.DirPath, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(opts.DirPath, "data.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		file: f,
		buf:  bufio.NewWriterSize(f, opts.BufferSize),
		opts: opts,
		done: make(chan struct{}),
	}
	if opts.SyncPolicy == SyncInterval && opts.SyncIntervalDuration > 0 {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}
	return w, nil
}

// WriteRecord appends one record and a trailing checksum over its payload,
// applying the configured sync policy.
func (w *Writer) WriteRecord(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := r.WriteTo(w.buf)
	if err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], checksum(r.Payload))
	if _, err := w.buf.Write(crcBuf[:]); err != nil {
		return err
	}
	w.batchBytes += n + 4
	w.written += n + 4

	switch w.opts.SyncPolicy {
	case SyncEveryWrite:
		return w.syncLocked()
	case SyncBatch:
		if w.batchBytes >= w.opts.SyncBatchBytes {
			return w.syncLocked()
		}
	}
	return nil
}

// WriteBatch appends every record in recs, in order, by calling WriteRecord
// for each one: the sync policy applies per record, records of other
// writers may land between them, and no extra sync is issued at the end.
func (w *Writer) WriteBatch(recs []*Record) error {
	for _, r := range recs {
		if err := w.WriteRecord(r); err != nil {
			return err
		}
	}
	return nil
}

// Offset returns the total bytes appended so far, for the checkpoint
// Truncator's watermark.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Sync flushes the buffer and fsyncs the file - the durability point the
// engine waits on before marking a commit persisted.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	w.batchBytes = 0
	return w.file.Sync()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			if err := w.Sync(); err != nil {
				log.Logger.Error().Err(err).Msg("txlog: background sync failed")
			}
		case <-w.done:
			return
		}
	}
}

// Close flushes, fsyncs, stops the background goroutine (if any), and
// closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}
	if err := w.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
