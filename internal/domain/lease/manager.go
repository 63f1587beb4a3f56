package lease

import (
	"context"
	"sync"
	"time"
)

// Manager is the process-wide map of per-(project, ref) mutexes. Entries are
// created lazily on first use and never removed by a live holder; Sweep
// reclaims entries nobody holds so the map does not grow without bound
// across the process lifetime.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager constructs an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*sync.Mutex)}
}

func key(projectID, refID string) string {
	return projectID + "/" + refID
}

func (m *Manager) lockFor(projectID, refID string) *sync.Mutex {
	k := key(projectID, refID)
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = &sync.Mutex{}
		m.locks[k] = l
	}
	return l
}

// TryLock attempts to acquire the (project, ref) mutex without blocking. It
// reports whether the lock was acquired; the caller must call Unlock if so.
func (m *Manager) TryLock(projectID, refID string) bool {
	return m.lockFor(projectID, refID).TryLock()
}

// Unlock releases the (project, ref) mutex previously acquired with TryLock.
func (m *Manager) Unlock(projectID, refID string) {
	m.lockFor(projectID, refID).Unlock()
}

// WithLock runs fn while holding the (project, ref) mutex, polling for up to
// waitBound before giving up with ErrRefLocked. This is the in-process half of
// the ref-lock contract: storage-mutating operations wrap their transaction in
// this call so concurrent in-process attempts serialize before ever
// reaching the storage-side row lock.
func (m *Manager) WithLock(ctx context.Context, projectID, refID string, waitBound time.Duration, fn func() error) error {
	deadline := time.Now().Add(waitBound)
	for {
		if m.TryLock(projectID, refID) {
			defer m.Unlock(projectID, refID)
			return fn()
		}
		if time.Now().After(deadline) {
			return ErrRefLocked
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Sweep removes mutex entries that are not currently held, bounding memory
// growth for projects with many refs that are no longer being written to.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, l := range m.locks {
		if l.TryLock() {
			l.Unlock()
			delete(m.locks, k)
		}
	}
}
