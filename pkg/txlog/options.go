package txlog

import "time"

// SyncPolicy controls when the writer calls fsync, matching
// pkg/wal/options.go's SyncPolicy.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every record. Safest, slowest.
	SyncEveryWrite SyncPolicy = iota
	// SyncInterval fsyncs on a background ticker.
	SyncInterval
	// SyncBatch fsyncs once accumulated bytes cross SyncBatchBytes.
	SyncBatch
)

// Options configures a Writer.
type Options struct {
	DirPath              string
	BufferSize           int
	SyncPolicy           SyncPolicy
	SyncIntervalDuration time.Duration
	SyncBatchBytes       int64
}

// DefaultOptions mirrors wal.DefaultOptions' conservative interval policy.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./txlog_data",
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
	}
}
