package engine

import "sync"

// projectLocks serializes mutations per project id. Task operations lock the
// owning project, since reconciliation reads and writes the project row.
// Operations on different projects proceed concurrently.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *projectLocks) lock(projectID string) func() {
	l.mu.Lock()
	m, ok := l.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[projectID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
