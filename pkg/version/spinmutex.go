package version

import (
	"runtime"
	"sync/atomic"
)

// SpinMutex is a busy-wait mutual exclusion primitive, used where the
// critical section is a handful of instructions and the cost of a futex
// round-trip through sync.Mutex would dominate. Grounded on the spec's
// explicit "AtomicBool with compare-and-swap and busy wait" requirement for
// the 2PL sub-record's cr_flag, and on the node latch idiom in
// pkg/btree/node.go generalized from RWMutex to a raw CAS loop.
type SpinMutex struct {
	held atomic.Bool
}

// Lock spins until the mutex is acquired. maxSpin is a caller-supplied
// budget (0 means unbounded); each time it is exceeded onStuck is called (if
// non-nil) and the spin continues, so whether a wedged lock ends in a fatal
// error depends on onStuck: pkg/btree's latch callback panics, the 2PL
// callbacks in pkg/txn only count.
func (m *SpinMutex) Lock(maxSpin int, onStuck func()) {
	for i := 0; !m.held.CompareAndSwap(false, true); i++ {
		if maxSpin > 0 && i >= maxSpin {
			if onStuck != nil {
				onStuck()
			}
			i = 0
		}
		if i%64 == 63 {
			runtime.Gosched()
		}
	}
}

// TryLock attempts to acquire the mutex without spinning.
func (m *SpinMutex) TryLock() bool {
	return m.held.CompareAndSwap(false, true)
}

// Unlock releases the mutex. Caller must hold it.
func (m *SpinMutex) Unlock() {
	m.held.Store(false)
}
