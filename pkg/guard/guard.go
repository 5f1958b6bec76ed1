// Package guard serializes mutations of a stored document. A mutation runs
// under an advisory resource lock against the latest persisted version, and
// every successful mutation leaves exactly one audit snapshot of the state it
// replaced, written before the new state becomes visible.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/papercomputeco/mnemo/pkg/lock"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/storage"
)

const (
	DefaultAttempts   = 5
	DefaultBackoff    = 50 * time.Millisecond
	DefaultMaxBackoff = time.Second
)

// Config configures a Guard.
type Config struct {
	Store  storage.Driver
	Locker lock.Locker
	Trail  *Trail

	// Attempts is how many times the lock is tried before giving up.
	Attempts int

	// Backoff is the first wait between lock attempts. It doubles up to
	// MaxBackoff, with jitter.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// LockTTL bounds how long a crashed holder blocks the resource.
	LockTTL time.Duration

	// Empty is the document a resource holds before its first write. It is
	// what the first mutation sees and what its snapshot records.
	Empty []byte

	Logger *slog.Logger
}

// Guard runs mutations under lock.
type Guard struct {
	store      storage.Driver
	locker     lock.Locker
	trail      *Trail
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	ttl        time.Duration
	empty      []byte
	logger     *slog.Logger
}

// New creates a Guard.
func New(c Config) (*Guard, error) {
	if c.Store == nil {
		return nil, errors.New("guard requires a store")
	}
	if c.Locker == nil {
		return nil, errors.New("guard requires a locker")
	}

	g := &Guard{
		store:      c.Store,
		locker:     c.Locker,
		trail:      c.Trail,
		attempts:   c.Attempts,
		backoff:    c.Backoff,
		maxBackoff: c.MaxBackoff,
		ttl:        lock.TTLOrDefault(c.LockTTL),
		empty:      c.Empty,
		logger:     logger.OrNop(c.Logger),
	}
	if g.trail == nil {
		g.trail = NewTrail(c.Store, nil)
	}
	if g.attempts <= 0 {
		g.attempts = DefaultAttempts
	}
	if g.backoff <= 0 {
		g.backoff = DefaultBackoff
	}
	if g.maxBackoff < g.backoff {
		g.maxBackoff = max(DefaultMaxBackoff, g.backoff)
	}
	return g, nil
}

// Trail returns the audit trail snapshots are written to.
func (g *Guard) Trail() *Trail {
	return g.trail
}

// Load returns the latest document for resource without locking. A resource
// that was never written reads as the empty document at version zero.
func (g *Guard) Load(ctx context.Context, resource string) (*storage.Versioned, error) {
	v, err := g.store.Load(ctx, resource)
	if err != nil {
		if storage.IsNotFound(err) {
			return &storage.Versioned{Data: g.empty}, nil
		}
		return nil, err
	}
	return v, nil
}

// Mutation computes the next document from the current one. Returning an
// error aborts the mutation with nothing written.
type Mutation func(current []byte) ([]byte, error)

// Outcome describes a committed mutation.
type Outcome struct {
	Snapshot storage.Snapshot
	Version  int64
	Data     []byte
	Attempts int
}

// WithLock applies fn to the latest version of resource. The sequence is:
// take the lock, load, run fn, snapshot the loaded state, compare-and-swap
// the result, release. A failing fn leaves no snapshot.
func (g *Guard) WithLock(ctx context.Context, resource, action string, fn Mutation) (*Outcome, error) {
	token, attempts, err := g.acquire(ctx, resource)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Unlock with a fresh context so a cancelled caller still releases.
		if err := g.locker.Unlock(context.WithoutCancel(ctx), token); err != nil {
			g.logger.Warn("releasing lock", "resource", resource, "error", err)
		}
	}()

	current, err := g.Load(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", resource, err)
	}

	next, err := fn(current.Data)
	if err != nil {
		return nil, err
	}

	snap, err := g.trail.Record(ctx, resource, action, current.Data)
	if err != nil {
		return nil, err
	}

	version, err := g.store.CompareAndSwap(ctx, resource, current.Version, next)
	if err != nil {
		// Only a writer that bypassed the lock can cause this. The
		// snapshot stays; it is still an accurate pre-image.
		g.logger.Error("persisting mutation",
			"resource", resource,
			"action", action,
			"snapshot", snap.Name(),
			"error", err,
		)
		return nil, fmt.Errorf("persisting %s: %w", resource, err)
	}

	g.logger.Debug("mutation committed",
		"resource", resource,
		"action", action,
		"version", version,
		"snapshot", snap.Name(),
		"lock_attempts", attempts,
	)

	return &Outcome{Snapshot: snap, Version: version, Data: next, Attempts: attempts}, nil
}

// acquire tries the lock up to the configured attempts, backing off between
// tries.
func (g *Guard) acquire(ctx context.Context, resource string) (lock.Token, int, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     g.backoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         g.maxBackoff,
	}
	b.Reset()

	for attempt := 1; ; attempt++ {
		token, err := g.locker.TryLock(ctx, resource, g.ttl)
		if err == nil {
			return token, attempt, nil
		}
		if !errors.Is(err, lock.ErrHeld) {
			return lock.Token{}, attempt, fmt.Errorf("locking %s: %w", resource, err)
		}
		if attempt >= g.attempts {
			g.logger.Warn("lock contention", "resource", resource, "attempts", attempt)
			return lock.Token{}, attempt, LockContentionError{Resource: resource, Attempts: attempt}
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return lock.Token{}, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
