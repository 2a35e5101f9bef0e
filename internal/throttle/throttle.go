// Package throttle tracks failed login attempts per username and applies
// a time-boxed lockout. A Tracker is an injected component with its own
// lifecycle, not ambient process state: construct it at startup and run
// Sweep periodically to evict expired entries.
package throttle

import (
	"sync"
	"time"
)

type entry struct {
	attempts int
	lockedAt time.Time
}

type Tracker struct {
	mu          sync.Mutex
	now         func() time.Time
	maxAttempts int
	lockout     time.Duration
	entries     map[string]*entry
}

// New builds a tracker that locks a username out for lockout after
// maxAttempts consecutive failures.
func New(maxAttempts int, lockout time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if lockout <= 0 {
		lockout = 10 * time.Minute
	}
	return &Tracker{
		now:         time.Now,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		entries:     make(map[string]*entry),
	}
}

// SetClock replaces the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Fail records a failed credential check for user. The maxAttempts-th
// failure engages the lockout immediately; there is no grace attempt
// between reaching the limit and being locked.
func (t *Tracker) Fail(user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[user]
	if !ok {
		e = &entry{}
		t.entries[user] = e
	}
	e.attempts++
	if e.attempts >= t.maxAttempts {
		e.lockedAt = t.now()
		e.attempts = 0
	}
}

// Locked reports whether user is currently locked out. An expired lockout
// clears itself on the way through.
func (t *Tracker) Locked(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[user]
	if !ok || e.lockedAt.IsZero() {
		return false
	}
	if t.now().Sub(e.lockedAt) > t.lockout {
		delete(t.entries, user)
		return false
	}
	return true
}

// Reset clears tracking for user, called after a successful login.
func (t *Tracker) Reset(user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, user)
}

// Sweep evicts entries whose lockout has expired. Meant to run on a
// ticker so abandoned usernames do not accumulate.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for user, e := range t.entries {
		if !e.lockedAt.IsZero() && now.Sub(e.lockedAt) > t.lockout {
			delete(t.entries, user)
		}
	}
}

// Len returns the number of tracked usernames.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
