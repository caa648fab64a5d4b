// Package config reads process-level engine configuration from the
// environment, the same shape as the teacher's wal.Options/DefaultOptions
// (pkg/wal/options.go): a small struct with sane defaults and a
// constructor, not scattered os.Getenv calls.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine's environment-derived settings.
type Config struct {
	// PmemDir is the directory backing the persistent region's mmap'd
	// files. Equivalent to pnvm's PMEM_FILE_DIR compile-time constant,
	// read at runtime instead since Go has no compile-time env reads.
	PmemDir string

	// LogDir holds the redo log segment files.
	LogDir string

	// CheckpointInterval, when non-zero, enables periodic log truncation
	// (pkg/txlog.Truncator). Zero disables it, matching the spec's
	// scope discipline: checkpointing is an additive convenience, not a
	// required component.
	CheckpointInterval time.Duration

	// MaxSpin is the spin budget of the engine's busy-wait loops (2PL lock
	// waits, ParOCC dependency waits). Each time a loop exceeds it,
	// metrics.WaitSpinsTripped is incremented and the loop keeps waiting
	// with a fresh budget; the operation is not aborted.
	MaxSpin int
}

// DefaultConfig mirrors wal.DefaultOptions: safe, conservative defaults for
// local development and tests.
func DefaultConfig() Config {
	return Config{
		PmemDir:            os.TempDir(),
		LogDir:             os.TempDir(),
		CheckpointInterval: 0,
		MaxSpin:            10_000_000,
	}
}

// FromEnv overlays DefaultConfig with PMEM_FILE_DIR, STM_LOG_DIR,
// STM_CHECKPOINT_INTERVAL and STM_MAX_SPIN, when set.
func FromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PMEM_FILE_DIR"); v != "" {
		cfg.PmemDir = v
	}
	if v := os.Getenv("STM_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("STM_CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointInterval = d
		}
	}
	if v := os.Getenv("STM_MAX_SPIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSpin = n
		}
	}
	return cfg
}
