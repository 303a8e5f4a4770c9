package reconcile

import (
	"sync"

	"github.com/google/uuid"
)

// locker tracks which bank accounts have a reconciliation in flight, so two
// sessions cannot both move to IN_PROGRESS for the same account. The store's
// unique index is the durable guard; this map catches concurrent starts
// before they reach the store.
type locker struct {
	mu         sync.Mutex
	inProgress map[uuid.UUID]uuid.UUID // bank account -> session holding it
}

func newLocker() *locker {
	return &locker{inProgress: make(map[uuid.UUID]uuid.UUID)}
}

// acquire claims the bank account for sessionID. It reports false and the
// holder when another session already has it.
func (l *locker) acquire(bankAccountID, sessionID uuid.UUID) (uuid.UUID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.inProgress[bankAccountID]; ok && holder != sessionID {
		return holder, false
	}
	l.inProgress[bankAccountID] = sessionID
	return sessionID, true
}

func (l *locker) release(bankAccountID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inProgress, bankAccountID)
}
