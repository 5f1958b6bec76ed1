// Package lock defines advisory, per-resource exclusive locks. A lock is
// cooperative: it only excludes other holders that go through a Locker for
// the same resource.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL bounds how long a lock survives a holder that never releases it.
const DefaultTTL = 10 * time.Second

var (
	// ErrHeld is returned by TryLock when another holder owns the resource.
	ErrHeld = errors.New("lock is held")

	// ErrNotHeld is returned by Unlock when the token no longer owns the
	// resource, usually because it expired and was taken over.
	ErrNotHeld = errors.New("lock is not held by this token")
)

// Token identifies one acquisition of a resource lock.
type Token struct {
	Resource string
	Value    string
	Expires  time.Time
}

// Locker acquires and releases resource locks. TryLock never waits: it
// either takes the lock or returns ErrHeld.
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (Token, error)
	Unlock(ctx context.Context, t Token) error
}

// NewTokenValue returns a random token value.
func NewTokenValue() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// TTLOrDefault returns ttl, or DefaultTTL when ttl is not positive.
func TTLOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
