// Package engineid mints ObjectId and Tid values.
//
// Both id spaces are per-thread (per-goroutine, in this port): a Factory is
// an explicit value owned by whatever worker loop created it, never a
// package-level global. This mirrors pnvm's thread_local TID_FAC / object-id
// counter (original_source/pnvm_lib/src/txn.rs, tcore.rs) translated to Go's
// lack of native TLS - callers carry a *Factory through a context.Context or
// a constructor argument instead.
package engineid

import "github.com/google/uuid"

// ObjectId identifies a record slot. The low 52 bits are a monotonically
// increasing per-thread counter; the high 12 bits are the owning thread's
// mask, so ids minted by distinct factories never collide.
type ObjectID uint64

const objectCounterBits = 52

func newObjectID(mask uint16, counter uint64) ObjectID {
	return ObjectID(uint64(mask)<<objectCounterBits | (counter & (1<<objectCounterBits - 1)))
}

// Mask returns the thread mask embedded in an ObjectId.
func (id ObjectID) Mask() uint16 { return uint16(id >> objectCounterBits) }

// Tid identifies a transaction. The low 24 bits are a per-thread counter,
// the high 8 bits are the thread mask. Zero is reserved and never issued -
// it means "no owner" in a version word.
type Tid uint32

const tidCounterBits = 24

func newTid(mask uint8, counter uint32) Tid {
	return Tid(uint32(mask)<<tidCounterBits | (counter & (1<<tidCounterBits - 1)))
}

// Mask returns the thread mask embedded in a Tid.
func (t Tid) Mask() uint8 { return uint8(t >> tidCounterBits) }

// Factory mints ObjectId and Tid values for a single logical thread/worker.
// Not safe for concurrent use - each worker goroutine owns one.
type Factory struct {
	mask        uint16
	nextObject  uint64
	nextTid     uint32
	instanceTag uuid.UUID // engine-run-scoped identity, for logs/metrics labels
}

// NewFactory builds a Factory for worker number mask (must fit its id
// space: 12 bits for ObjectId, 8 bits for Tid - callers typically derive
// mask from a small worker index, not a hash).
func NewFactory(mask uint16) *Factory {
	return &Factory{
		mask:        mask,
		nextObject:  1,
		nextTid:     1, // 0 is reserved for "unowned"
		instanceTag: uuid.New(),
	}
}

// NextObjectID returns the next ObjectId owned by this factory.
func (f *Factory) NextObjectID() ObjectID {
	id := newObjectID(f.mask, f.nextObject)
	f.nextObject++
	return id
}

// NextTid returns the next Tid owned by this factory.
func (f *Factory) NextTid() Tid {
	id := newTid(uint8(f.mask), f.nextTid)
	f.nextTid++
	return id
}

// InstanceTag is a run-scoped identifier, useful as a log/metric label when
// multiple engine instances share a process (e.g. in tests).
func (f *Factory) InstanceTag() string { return f.instanceTag.String() }
