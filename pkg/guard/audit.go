package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/storage"
)

// maxNameCollisions bounds how often Record nudges a snapshot timestamp to
// find a free name.
const maxNameCollisions = 64

// Trail records pre-mutation snapshots. Snapshot names are strictly
// increasing per resource within one Trail.
//
// A snapshot is recorded before the mutation is persisted and is never
// removed. If persisting then fails, the trail keeps a snapshot for a
// mutation that did not commit; it still equals the stored state at that
// point.
type Trail struct {
	store storage.SnapshotStore
	clock func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewTrail creates a Trail writing to store. A nil clock uses time.Now.
func NewTrail(store storage.SnapshotStore, clock func() time.Time) *Trail {
	if clock == nil {
		clock = time.Now
	}
	return &Trail{
		store: store,
		clock: clock,
		last:  make(map[string]time.Time),
	}
}

// Record stores data as a snapshot of resource taken now.
func (t *Trail) Record(ctx context.Context, resource, action string, data []byte) (storage.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	taken := t.clock().UTC()
	if last, ok := t.last[resource]; ok && !taken.After(last) {
		taken = last.Add(time.Nanosecond)
	}

	snap := storage.Snapshot{Resource: resource, TakenAt: taken, Action: action, Data: data}
	for range maxNameCollisions {
		err := t.store.PutSnapshot(ctx, snap)
		if err == nil {
			t.last[resource] = snap.TakenAt
			return snap, nil
		}
		if !errors.Is(err, storage.ErrSnapshotExists) {
			return storage.Snapshot{}, fmt.Errorf("recording audit snapshot: %w", err)
		}
		snap.TakenAt = snap.TakenAt.Add(time.Nanosecond)
	}
	return storage.Snapshot{}, fmt.Errorf("recording audit snapshot: no free name near %s", taken.Format(storage.SnapshotTimeLayout))
}

// List returns the snapshots of resource, newest first.
func (t *Trail) List(ctx context.Context, resource string) ([]storage.Snapshot, error) {
	return t.store.ListSnapshots(ctx, resource)
}

// ListInfo returns the snapshot metadata of resource, newest first.
func (t *Trail) ListInfo(ctx context.Context, resource string) ([]storage.SnapshotInfo, error) {
	return t.store.ListSnapshotInfo(ctx, resource)
}

// Get returns one snapshot by name.
func (t *Trail) Get(ctx context.Context, resource, name string) (*storage.Snapshot, error) {
	return t.store.GetSnapshot(ctx, resource, name)
}
