// Package engine wires together the persistent region, the redo log, the
// table registry, and the three transaction protocols into one entry
// point, the way pkg/storage/engine.go's StorageEngine does for the
// teacher's WAL/heap/B+Tree stack.
package engine

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/config"
	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/log"
	"github.com/bobboyms/storage-engine/pkg/pregion"
	"github.com/bobboyms/storage-engine/pkg/record"
	"github.com/bobboyms/storage-engine/pkg/txlog"
	"github.com/bobboyms/storage-engine/pkg/txn"
)

// Engine is one running instance of the storage engine: a persistent
// region, a redo log, a table registry, and a shared id factory.
type Engine struct {
	Cfg       config.Config
	Region    *pregion.Region
	Log       *txlog.Writer
	Meta      *record.Metadata
	Truncator *txlog.Truncator

	ids            *engineid.Factory
	checkpointWG   sync.WaitGroup
	stopCheckpoint chan struct{}
}

// Open maps the persistent region and opens the redo log under cfg's
// directories, ready to accept transactions and table creation.
func Open(cfg config.Config, workerMask uint16) (*Engine, error) {
	region, err := pregion.Map(cfg.PmemDir, pregion.DefaultInitialChunkSize)
	if err != nil {
		return nil, err
	}
	logOpts := txlog.DefaultOptions()
	logOpts.DirPath = cfg.LogDir
	writer, err := txlog.NewWriter(logOpts)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		Cfg:            cfg,
		Region:         region,
		Log:            writer,
		Meta:           record.NewMetadata(),
		Truncator:      txlog.NewTruncator(cfg.LogDir),
		ids:            engineid.NewFactory(workerMask),
		stopCheckpoint: make(chan struct{}),
	}
	if cfg.CheckpointInterval > 0 {
		e.checkpointWG.Add(1)
		go func() {
			defer e.checkpointWG.Done()
			e.Truncator.Run(cfg.CheckpointInterval, e.stopCheckpoint, e.Log.Offset)
		}()
	}
	log.Logger.Info().Str("pmem_dir", cfg.PmemDir).Str("log_dir", cfg.LogDir).Msg("engine: opened")
	return e, nil
}

// NewWorker returns a fresh per-goroutine id factory that shares this
// engine's mask namespace but mints its own independent id sequence - for
// callers that want a distinct worker identity (tests spinning up several
// concurrent writers).
func (e *Engine) NewWorker(mask uint16) *engineid.Factory {
	return engineid.NewFactory(mask)
}

// Deps returns the transaction dependencies bundle for a transaction
// running on the given id factory.
func (e *Engine) Deps(ids *engineid.Factory) txn.Deps {
	return txn.Deps{IDs: ids, Log: e.Log, Region: e.Region, Cfg: e.Cfg}
}

// BeginOCC starts a new OCC transaction using this engine's shared
// resources and the supplied id factory (callers own their factory - see
// NewWorker).
func (e *Engine) BeginOCC(ids *engineid.Factory) *txn.OCC {
	return txn.Begin(e.Deps(ids))
}

// BeginTwoPL starts a new wait-die 2PL transaction.
func (e *Engine) BeginTwoPL(ids *engineid.Factory) *txn.TwoPL {
	return txn.BeginTwoPL(e.Deps(ids))
}

// BeginParOCC starts a new pipelined ParOCC transaction.
func (e *Engine) BeginParOCC(ids *engineid.Factory) *txn.ParOCC {
	return txn.BeginParOCC(e.Deps(ids))
}

// CreateTable registers a new table against this engine's region.
func (e *Engine) CreateTable(name string, schema *record.Schema, bucketCount int) (*record.Table, error) {
	return e.Meta.CreateTable(name, schema, e.Region, bucketCount)
}

// Close stops the checkpoint loop (if running), flushes and closes the redo
// log, and unmaps the persistent region.
func (e *Engine) Close() error {
	close(e.stopCheckpoint)
	e.checkpointWG.Wait()
	if err := e.Log.Close(); err != nil {
		return err
	}
	return e.Region.Unmap()
}
