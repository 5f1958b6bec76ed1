// Package file provides a lock.Locker backed by lock files, usable across
// processes sharing a filesystem.
//
// A lock is a file created with O_EXCL holding the token value and expiry.
// A lock file older than its expiry is considered abandoned and removed by
// the next TryLock.
//
// Creation needs nothing beyond O_EXCL. Every removal, whether a stale
// takeover or an Unlock, happens under a second O_EXCL file (the guard), so a
// lock file that was read and judged removable cannot be swapped for a fresh
// one before it is removed.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/papercomputeco/mnemo/pkg/lock"
)

const (
	guardSuffix = ".break"

	// guardStaleAfter is the age at which a guard left by a crashed
	// process is removed. Guards are only held across a read and a remove.
	guardStaleAfter = lock.DefaultTTL

	unlockAttempts = 100
	unlockWait     = 2 * time.Millisecond
)

var errGuardBusy = errors.New("lock guard is busy")

type lockFile struct {
	Token   string    `json:"token"`
	PID     int       `json:"pid"`
	Expires time.Time `json:"expires"`
}

// Locker creates lock files under a directory.
type Locker struct {
	dir   string
	clock func() time.Time
}

// NewLocker returns a Locker writing to dir, creating it if needed.
func NewLocker(dir string) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Locker{dir: dir, clock: time.Now}, nil
}

func (l *Locker) path(resource string) (string, error) {
	if resource == "" || strings.ContainsAny(resource, `/\`) || strings.HasPrefix(resource, ".") {
		return "", fmt.Errorf("invalid lock resource %q", resource)
	}
	return filepath.Join(l.dir, resource+".lock"), nil
}

// TryLock creates the lock file for resource.
func (l *Locker) TryLock(_ context.Context, resource string, ttl time.Duration) (lock.Token, error) {
	path, err := l.path(resource)
	if err != nil {
		return lock.Token{}, err
	}

	now := l.clock()
	t := lock.Token{
		Resource: resource,
		Value:    lock.NewTokenValue(),
		Expires:  now.Add(lock.TTLOrDefault(ttl)),
	}
	body, err := json.Marshal(lockFile{Token: t.Value, PID: os.Getpid(), Expires: t.Expires})
	if err != nil {
		return lock.Token{}, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := createExclusive(path)
		if err == nil {
			_, werr := f.Write(body)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return lock.Token{}, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return t, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return lock.Token{}, fmt.Errorf("failed to create lock file: %w", err)
		}

		broken, err := l.breakStale(path, now)
		if err != nil {
			return lock.Token{}, err
		}
		if !broken {
			return lock.Token{}, lock.ErrHeld
		}
	}
	return lock.Token{}, lock.ErrHeld
}

// breakStale removes the lock file at path when it has expired. It reports
// whether the path is now free.
func (l *Locker) breakStale(path string, now time.Time) (bool, error) {
	broken := false
	err := l.guard(path, func() error {
		current, err := readLockFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			broken = true
			return nil
		case err != nil:
			// A file mid-write or garbled; fall back to its age.
			info, serr := os.Stat(path)
			if errors.Is(serr, fs.ErrNotExist) {
				broken = true
				return nil
			}
			if serr != nil || now.Sub(info.ModTime()) < lock.DefaultTTL {
				return nil
			}
		case now.Before(current.Expires):
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock file: %w", err)
		}
		broken = true
		return nil
	})
	if errors.Is(err, errGuardBusy) {
		return false, nil
	}
	return broken, err
}

// guard runs fn while holding the removal guard of path. It returns
// errGuardBusy when another process holds it.
func (l *Locker) guard(path string, fn func() error) error {
	gpath := path + guardSuffix

	f, err := createExclusive(gpath)
	if errors.Is(err, fs.ErrExist) {
		if !l.breakAbandonedGuard(gpath) {
			return errGuardBusy
		}
		f, err = createExclusive(gpath)
	}
	if errors.Is(err, fs.ErrExist) {
		return errGuardBusy
	}
	if err != nil {
		return fmt.Errorf("failed to create lock guard: %w", err)
	}
	_ = f.Close()
	defer os.Remove(gpath)

	return fn()
}

func (l *Locker) breakAbandonedGuard(gpath string) bool {
	info, err := os.Stat(gpath)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	if l.clock().Sub(info.ModTime()) < guardStaleAfter {
		return false
	}
	err = os.Remove(gpath)
	return err == nil || errors.Is(err, fs.ErrNotExist)
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
}

func readLockFile(path string) (*lockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lf := &lockFile{}
	if err := json.Unmarshal(data, lf); err != nil {
		return nil, err
	}
	return lf, nil
}

// Unlock removes the lock file if it still carries t's value.
func (l *Locker) Unlock(ctx context.Context, t lock.Token) error {
	path, err := l.path(t.Resource)
	if err != nil {
		return err
	}

	release := func() error {
		current, err := readLockFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return lock.ErrNotHeld
			}
			return fmt.Errorf("failed to read lock file: %w", err)
		}
		if current.Token != t.Value {
			return lock.ErrNotHeld
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}

	for range unlockAttempts {
		err = l.guard(path, release)
		if !errors.Is(err, errGuardBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(unlockWait):
		}
	}
	return fmt.Errorf("failed to release lock %s: %w", t.Resource, err)
}
