// Package memory provides a process-local lock.Locker.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/lock"
)

// Locker holds locks in a map. Expired entries are taken over by the next
// TryLock.
type Locker struct {
	mu    sync.Mutex
	held  map[string]lock.Token
	clock func() time.Time
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{
		held:  make(map[string]lock.Token),
		clock: time.Now,
	}
}

// TryLock takes the lock on resource if it is free or expired.
func (l *Locker) TryLock(_ context.Context, resource string, ttl time.Duration) (lock.Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if t, ok := l.held[resource]; ok && now.Before(t.Expires) {
		return lock.Token{}, lock.ErrHeld
	}

	t := lock.Token{
		Resource: resource,
		Value:    lock.NewTokenValue(),
		Expires:  now.Add(lock.TTLOrDefault(ttl)),
	}
	l.held[resource] = t
	return t, nil
}

// Unlock releases t if it still owns its resource.
func (l *Locker) Unlock(_ context.Context, t lock.Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.held[t.Resource]
	if !ok || cur.Value != t.Value {
		return lock.ErrNotHeld
	}
	delete(l.held, t.Resource)
	return nil
}
