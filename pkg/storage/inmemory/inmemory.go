// Package inmemory provides a map backed storage driver for tests and
// single-process use.
package inmemory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/storage"
)

type document struct {
	data      []byte
	version   int64
	updatedAt time.Time
}

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu guards documents and snapshots
	mu sync.RWMutex

	documents map[string]document

	// snapshots is keyed by resource, each slice kept oldest first
	snapshots map[string][]storage.Snapshot

	now func() time.Time
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		documents: make(map[string]document),
		snapshots: make(map[string][]storage.Snapshot),
		now:       time.Now,
	}
}

// Load returns the document stored under key.
func (s *Driver) Load(_ context.Context, key string) (*storage.Versioned, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[key]
	if !ok {
		return nil, storage.NotFoundError{Key: key}
	}

	return &storage.Versioned{
		Data:      slices.Clone(doc.data),
		Version:   doc.version,
		UpdatedAt: doc.updatedAt,
	}, nil
}

// CompareAndSwap writes data if the stored version equals expected.
func (s *Driver) CompareAndSwap(_ context.Context, key string, expected int64, data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A missing key has version zero.
	current := s.documents[key].version
	if current != expected {
		return 0, storage.VersionConflictError{Key: key, Expected: expected}
	}

	next := current + 1
	s.documents[key] = document{
		data:      slices.Clone(data),
		version:   next,
		updatedAt: s.now().UTC(),
	}
	return next, nil
}

// PutSnapshot stores an audit snapshot.
func (s *Driver) PutSnapshot(_ context.Context, snap storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := snap.Name()
	for _, existing := range s.snapshots[snap.Resource] {
		if existing.Name() == name {
			return storage.ErrSnapshotExists
		}
	}

	snap.Data = slices.Clone(snap.Data)
	list := append(s.snapshots[snap.Resource], snap)
	slices.SortFunc(list, func(a, b storage.Snapshot) int {
		return strings.Compare(a.Name(), b.Name())
	})
	s.snapshots[snap.Resource] = list
	return nil
}

// ListSnapshots returns the snapshots of resource, newest first.
func (s *Driver) ListSnapshots(_ context.Context, resource string) ([]storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[resource]
	out := make([]storage.Snapshot, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		snap := list[i]
		snap.Data = slices.Clone(snap.Data)
		out = append(out, snap)
	}
	return out, nil
}

// ListSnapshotInfo returns the snapshot metadata of resource, newest first.
func (s *Driver) ListSnapshotInfo(_ context.Context, resource string) ([]storage.SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[resource]
	out := make([]storage.SnapshotInfo, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		snap := list[i]
		out = append(out, storage.SnapshotInfo{
			Resource: snap.Resource,
			TakenAt:  snap.TakenAt,
			Action:   snap.Action,
			Size:     int64(len(snap.Data)),
		})
	}
	return out, nil
}

// GetSnapshot returns one snapshot by name.
func (s *Driver) GetSnapshot(_ context.Context, resource, name string) (*storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots[resource] {
		if snap.Name() == name {
			snap.Data = slices.Clone(snap.Data)
			return &snap, nil
		}
	}
	return nil, storage.NotFoundError{Key: resource + "/" + name}
}

// Close is a no-op for the in-memory driver.
func (s *Driver) Close() error {
	return nil
}
