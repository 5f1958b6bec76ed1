// Package redis provides a lock.Locker on Redis, for deployments where several
// hosts mutate the same fact store.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/papercomputeco/mnemo/pkg/lock"
)

const keyPrefix = "mnemo:lock:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker implements lock.Locker with SET NX PX.
type Locker struct {
	client goredis.UniversalClient
}

// NewLocker wraps an existing client.
func NewLocker(client goredis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*Locker, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewLocker(client), nil
}

// TryLock sets the resource key if absent.
func (l *Locker) TryLock(ctx context.Context, resource string, ttl time.Duration) (lock.Token, error) {
	ttl = lock.TTLOrDefault(ttl)
	t := lock.Token{
		Resource: resource,
		Value:    lock.NewTokenValue(),
		Expires:  time.Now().Add(ttl),
	}

	ok, err := l.client.SetNX(ctx, keyPrefix+resource, t.Value, ttl).Result()
	if err != nil {
		return lock.Token{}, fmt.Errorf("redis lock %s: %w", resource, err)
	}
	if !ok {
		return lock.Token{}, lock.ErrHeld
	}
	return t, nil
}

// Unlock deletes the resource key if it still holds t's value.
func (l *Locker) Unlock(ctx context.Context, t lock.Token) error {
	n, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + t.Resource}, t.Value).Int64()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", t.Resource, err)
	}
	if n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
