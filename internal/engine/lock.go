package engine

import "sync"

// LockTable provides per-key try-acquire mutual exclusion so only one
// worker evaluates and executes a market (or cross-venue pair) at a time.
// Locks are non-reentrant.
type LockTable struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockTable creates an empty table.
func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]bool)}
}

// TryAcquire takes the lock for key if free. The returned release func is
// safe to call exactly once; callers defer it on every exit path.
func (t *LockTable) TryAcquire(key string) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[key] {
		return nil, false
	}
	t.held[key] = true
	return func() {
		t.mu.Lock()
		delete(t.held, key)
		t.mu.Unlock()
	}, true
}

// Held reports whether the key is currently locked.
func (t *LockTable) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[key]
}
