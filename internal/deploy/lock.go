// File: internal/deploy/lock.go
package deploy

import (
	"sync"
)

// lockTable hands out one named mutex per target environment. Two
// deployments targeting the same environment are mutually exclusive; the
// lock scope is the whole deployment, backup through health check.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// acquire returns the mutex for the named environment, creating it on first
// use. Callers lock and unlock the returned mutex themselves.
func (lt *lockTable) acquire(env string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	l, ok := lt.locks[env]
	if !ok {
		l = &sync.Mutex{}
		lt.locks[env] = l
	}
	return l
}
