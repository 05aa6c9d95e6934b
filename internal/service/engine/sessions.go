package engine

import (
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/core"
)

// sessionLocks hands out per-session exclusive locks so turns within one
// session serialize while sessions proceed fully in parallel. Handles are
// created lazily and reaped after an idle period.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
	idle    time.Duration
}

type sessionLock struct {
	mu         sync.Mutex
	lastActive time.Time // guarded by the registry mutex
}

func newSessionLocks(idle time.Duration) *sessionLocks {
	return &sessionLocks{
		entries: make(map[string]*sessionLock),
		idle:    idle,
	}
}

// acquire takes the session's lock without blocking. A turn already in
// flight yields ErrAlreadyProcessing; callers should retry later.
func (l *sessionLocks) acquire(sessionID string) (release func(), err error) {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.entries[sessionID] = entry
	}
	entry.lastActive = time.Now()
	l.mu.Unlock()

	if !entry.mu.TryLock() {
		return nil, core.ErrAlreadyProcessing
	}
	return entry.mu.Unlock, nil
}

func (l *sessionLocks) processing(sessionID string) bool {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	if entry.mu.TryLock() {
		entry.mu.Unlock()
		return false
	}
	return true
}

// reap drops handles idle past the cutoff. A locked handle is in use and
// survives regardless of age.
func (l *sessionLocks) reap() int {
	cutoff := time.Now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	reaped := 0
	for id, entry := range l.entries {
		if entry.lastActive.After(cutoff) {
			continue
		}
		if !entry.mu.TryLock() {
			continue
		}
		entry.mu.Unlock()
		delete(l.entries, id)
		reaped++
	}
	return reaped
}
