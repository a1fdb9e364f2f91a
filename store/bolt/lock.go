package bolt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SystemGarden/habitat-sub003/store"
)

// Bounded retry/backoff parameters for the blocking Lock variant (spec
// §4.1: "blocks (with bounded retries and a small backoff) until acquired,
// or fails immediately in 'now' variants").
const (
	lockAttempts = 50
	lockBackoff  = 5 * time.Millisecond
)

const (
	heldNone int32 = iota
	heldRead
	heldWrite
)

// fileLock is an in-process advisory read/write lock for one Conn.
// Cross-process exclusion is provided underneath by bbolt's own flock at
// Open time (exclusive for a read-write database, shared for a read-only
// one) — see the "lock(mode)" bullet of SPEC_FULL.md §4.1.
type fileLock struct {
	mu   sync.RWMutex
	held atomic.Int32
}

func (l *fileLock) tryAcquire(mode store.LockMode) bool {
	if mode == store.LockRead {
		return l.mu.TryRLock()
	}
	return l.mu.TryLock()
}

func (l *fileLock) blockingAcquire(mode store.LockMode) {
	if mode == store.LockRead {
		l.mu.RLock()
		return
	}
	l.mu.Lock()
}

// release un-acquires whatever mode was last successfully acquired. It
// intentionally does not reset held to heldNone: concurrent readers all
// record heldRead on acquire, and a writer can only ever acquire once every
// reader has already released (RWMutex semantics), so by the time held
// could read heldWrite no reader-side release is still pending. Each
// Unlock call here thus always maps to the correct one of RUnlock/Unlock.
func (l *fileLock) release() {
	switch l.held.Load() {
	case heldRead:
		l.mu.RUnlock()
	case heldWrite:
		l.mu.Unlock()
	}
}

func heldMode(mode store.LockMode) int32 {
	if mode == store.LockRead {
		return heldRead
	}
	return heldWrite
}

// lock blocks with bounded retries, then falls back to an unbounded
// blocking acquire so that legitimate, merely-slow contention eventually
// succeeds rather than failing a caller that asked for the patient variant.
func (l *fileLock) lock(mode store.LockMode, callerTag string) error {
	for i := 0; i < lockAttempts; i++ {
		if l.tryAcquire(mode) {
			l.held.Store(heldMode(mode))
			return nil
		}
		time.Sleep(lockBackoff)
	}
	l.blockingAcquire(mode)
	l.held.Store(heldMode(mode))
	return nil
}

func (l *fileLock) tryLock(mode store.LockMode, callerTag string) error {
	if l.tryAcquire(mode) {
		l.held.Store(heldMode(mode))
		return nil
	}
	return store.New(store.KindLocked, "TryLock",
		fmt.Errorf("%s: %s lock contended", callerTag, mode))
}

func (l *fileLock) unlock() error {
	l.release()
	return nil
}
