package storage

import (
	"errors"
	"fmt"
)

// ErrSnapshotExists is returned when a snapshot name is already taken.
var ErrSnapshotExists = errors.New("snapshot already exists")

// NotFoundError is returned when a document or snapshot doesn't exist in the
// store.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return "not found"
	}

	return "not found: " + e.Key
}

// VersionConflictError is returned by CompareAndSwap when the stored version
// moved on since the caller loaded it.
type VersionConflictError struct {
	Key      string
	Expected int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected version %d is stale", e.Key, e.Expected)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsVersionConflict reports whether err is a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc VersionConflictError
	return errors.As(err, &vc)
}
