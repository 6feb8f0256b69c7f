package session

import "sync"

// LockRegistry hands out advisory locks keyed by session file path, enforcing
// spec.md §5's "at most one worker at a time holds a job for a given
// session_file" even when the Job Queue itself would otherwise allow two
// different kinds of job (e.g. initial and reanalysis) against the same
// file to be leased to two different workers.
//
// Locks are advisory: callers that never call TryLock/Unlock are unaffected.
// This mirrors the teacher's session-cancel registry shape (map + mutex, one
// entry per in-flight key) generalized from "cancel function" to "held lock".
type LockRegistry struct {
	mu      sync.Mutex
	held    map[string]struct{}
}

// NewLockRegistry constructs an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]struct{})}
}

// TryLock attempts to acquire the advisory lock for sessionFile. Returns
// false if another worker already holds it.
func (r *LockRegistry) TryLock(sessionFile string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[sessionFile]; ok {
		return false
	}
	r.held[sessionFile] = struct{}{}
	return true
}

// Unlock releases the advisory lock for sessionFile. Unlocking a key that
// isn't held is a no-op.
func (r *LockRegistry) Unlock(sessionFile string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, sessionFile)
}

// Held reports whether sessionFile is currently locked, for diagnostics.
func (r *LockRegistry) Held(sessionFile string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[sessionFile]
	return ok
}
