// Package txninfo defines the reference-counted transaction status record
// shared between a transaction and every record it touches.
//
// Ported from original_source/pnvm_lib/src/txn.rs's TxnInfo/TxState. It is
// split out from package txn so that pkg/version (the record-side
// version word, which holds a *Info as its "last writer" handle) and
// pkg/txn (the transaction-side owner of that same Info) can both
// depend on it without an import cycle.
package txninfo

import (
	"sync/atomic"

	"github.com/bobboyms/storage-engine/pkg/engineid"
)

// Info is the status record a record's version word points to once a
// transaction has written it. It outlives the transaction that created it:
// later readers/dependents consult it long after TryCommit returns.
type Info struct {
	tid       engineid.Tid
	locked    atomic.Bool
	committed atomic.Bool
	persisted atomic.Bool
	rank      atomic.Int64
}

// Sentinel is the "no writer yet" handle every record's version word starts
// with. Its committed/persisted flags are true by construction (mirroring
// TxnInfo::default() in the Rust source) so a record nobody has written
// never blocks a dependent's wait loop.
func Sentinel() *Info {
	info := &Info{}
	info.committed.Store(true)
	info.persisted.Store(true)
	return info
}

// New builds the Info for a transaction that is about to start writing.
func New(tid engineid.Tid) *Info {
	return &Info{tid: tid}
}

func (i *Info) Tid() engineid.Tid { return i.tid }

func (i *Info) HasCommitted() bool { return i.committed.Load() }
func (i *Info) HasPersisted() bool { return i.persisted.Load() }
func (i *Info) HasLock() bool      { return i.locked.Load() }

// HasStarted reports whether this writer has begun a piece ranked beyond
// rank - i.e. a dependent waiting to start rank must wait while this is
// false and the writer hasn't committed yet.
func (i *Info) HasStarted(rank int64) bool { return i.rank.Load() > rank }

// HasFinished reports whether this writer has moved two ranks past rank,
// meaning the piece at rank is durably behind it.
func (i *Info) HasFinished(rank int64) bool { return i.rank.Load() > rank+1 }

func (i *Info) Lock()   { i.locked.Store(true) }
func (i *Info) Unlock() { i.locked.Store(false) }
func (i *Info) Commit() { i.committed.Store(true) }
func (i *Info) Persist() { i.persisted.Store(true) }

// Start advances this writer's published rank, unblocking any dependent
// waiting on HasStarted at a lower rank.
func (i *Info) Start(rank int64) { i.rank.Store(rank) }

func (i *Info) Rank() int64 { return i.rank.Load() }
