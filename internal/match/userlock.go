package match

import (
	"fmt"
	"sync"
)

// userLocks serializes concurrent assignments for the same (tenant, user)
// pair. Different users proceed without coordination.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *userLocks) lock(tenantID string, userID int64) func() {
	key := fmt.Sprintf("%s/%d", tenantID, userID)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
