package version

import (
	"sync"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/engineid"
)

func TestWord_LockReentrant(t *testing.T) {
	var w Word
	w.Init()

	if !w.Lock(5) {
		t.Fatalf("first lock by tid 5 should succeed")
	}
	if !w.Lock(5) {
		t.Fatalf("reentrant lock by the same owner should succeed")
	}
	if w.Lock(6) {
		t.Fatalf("lock by a different tid should fail while tid 5 holds it")
	}

	w.Unlock(5) // drops the reentrant count to 1, still held
	if w.Lock(6) {
		t.Fatalf("tid 6 should still be rejected after one of two Unlocks")
	}

	w.Unlock(5) // drops to 0, releases
	if !w.Lock(6) {
		t.Fatalf("tid 6 should acquire once tid 5 has fully unlocked")
	}
}

func TestWord_UnlockByNonOwnerPanics(t *testing.T) {
	var w Word
	w.Init()
	w.Lock(1)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic unlocking by a non-owner")
		}
	}()
	w.Unlock(2)
}

func TestWord_CheckInstall(t *testing.T) {
	var w Word
	w.Init()

	if !w.Check(0) {
		t.Fatalf("a fresh word's version should read as 0")
	}

	w.Install(7, nil)
	if w.GetVersion() != 7 {
		t.Fatalf("GetVersion = %d, want 7", w.GetVersion())
	}
	if w.Check(7) != true || w.Check(6) != false {
		t.Fatalf("Check did not reflect the installed version")
	}
}

// TestWord_WaitDieSafety drives many goroutines taking the write lock under
// wait-die and checks that at most one writer holds the lock at a time
// (spec 4.B', property 3). It does not check which transaction died.
func TestWord_WaitDieSafety(t *testing.T) {
	var w Word
	w.Init()

	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	held := 0
	maxConcurrentHolders := 0

	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(tid engineid.Tid) {
			defer wg.Done()
			for attempt := 0; attempt < 20; attempt++ {
				if !w.WriteLock(tid, 50_000, func() {}) {
					continue // died against an older writer, retry with same tid (wait-die: no escalation)
				}
				mu.Lock()
				held++
				if held > maxConcurrentHolders {
					maxConcurrentHolders = held
				}
				mu.Unlock()

				mu.Lock()
				held--
				mu.Unlock()

				w.WriteUnlock(tid)
				return
			}
		}(engineid.Tid(i))
	}
	wg.Wait()

	if maxConcurrentHolders > 1 {
		t.Fatalf("observed %d simultaneous write-lock holders, want at most 1", maxConcurrentHolders)
	}
}

func TestWord_ReadLockManyReaders(t *testing.T) {
	var w Word
	w.Init()

	if !w.ReadLock(1, 1000, nil) {
		t.Fatalf("first read lock should succeed")
	}
	if !w.ReadLock(2, 1000, nil) {
		t.Fatalf("a second concurrent reader should also succeed")
	}
	if w.WriteLock(3, 1000, nil) {
		t.Fatalf("a younger writer should die against active older readers")
	}
	w.ReadUnlock(1000, nil)
	w.ReadUnlock(1000, nil)
	if !w.WriteLock(3, 1000, nil) {
		t.Fatalf("writer should succeed once all readers have released")
	}
	w.WriteUnlock(3)
}
