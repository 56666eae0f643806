package saga

import "sync"

// entityLocks is the per-entity advisory lock set enforcing the one-saga-per-
// entity ordering guarantee. Locks are advisory and in-process; the index's
// pending-record check backs them up across processes.
type entityLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newEntityLocks() *entityLocks {
	return &entityLocks{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for entityID without blocking. Sagas never queue
// behind each other; a busy entity is an immediate error to the caller.
func (l *entityLocks) TryAcquire(entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[entityID]; busy {
		return false
	}
	l.held[entityID] = struct{}{}
	return true
}

func (l *entityLocks) Release(entityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, entityID)
}
