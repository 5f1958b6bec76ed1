// Package storage defines the versioned document store the fact memory is
// persisted in, along with its append-only audit snapshots.
package storage

import (
	"context"
	"time"
)

// SnapshotTimeLayout names snapshots. It sorts lexically in time order.
const SnapshotTimeLayout = "20060102T150405.000000000Z"

// Versioned is a stored document and the version it was read at.
type Versioned struct {
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Snapshot is an immutable copy of a document taken before a mutation.
type Snapshot struct {
	Resource string
	TakenAt  time.Time
	Action   string
	Data     []byte
}

// Name is the timestamp the snapshot is addressed by.
func (s Snapshot) Name() string {
	return s.TakenAt.UTC().Format(SnapshotTimeLayout)
}

// SnapshotInfo describes a snapshot without its content.
type SnapshotInfo struct {
	Resource string
	TakenAt  time.Time
	Action   string
	Size     int64
}

// Name is the timestamp the snapshot is addressed by.
func (s SnapshotInfo) Name() string {
	return s.TakenAt.UTC().Format(SnapshotTimeLayout)
}

// Driver is a transactional key/value store: documents are read together with
// a version and only written back when that version is still current.
type Driver interface {
	// Load returns the document stored under key. A key that has never been
	// written returns NotFoundError.
	Load(ctx context.Context, key string) (*Versioned, error)

	// CompareAndSwap writes data under key if the stored version equals
	// expected, and returns the new version. An expected version of zero
	// means the key must not exist yet. A stale expected version returns
	// a VersionConflictError and writes nothing.
	CompareAndSwap(ctx context.Context, key string, expected int64, data []byte) (int64, error)

	SnapshotStore

	// Close closes the store and releases any resources.
	Close() error
}

// SnapshotStore holds the audit trail. Snapshots are never updated or
// deleted.
type SnapshotStore interface {
	// PutSnapshot stores s. A snapshot with the same resource and timestamp
	// returns ErrSnapshotExists.
	PutSnapshot(ctx context.Context, s Snapshot) error

	// ListSnapshots returns the snapshots of resource, newest first.
	ListSnapshots(ctx context.Context, resource string) ([]Snapshot, error)

	// ListSnapshotInfo returns the snapshots of resource, newest first,
	// without reading their content.
	ListSnapshotInfo(ctx context.Context, resource string) ([]SnapshotInfo, error)

	// GetSnapshot returns the snapshot of resource with the given name.
	GetSnapshot(ctx context.Context, resource, name string) (*Snapshot, error)
}
