// Package file provides a storage driver on the local filesystem.
//
// Layout under the root directory:
//
//	<key>.json                      live document
//	.<key>.version                  version counter of the live document
//	audit/<resource>/<name>_<action>.json  one file per snapshot
//
// Compare-and-swap is atomic within one process. Across processes writers
// are expected to hold the resource lock, as the guard package does.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/storage"
)

const auditDir = "audit"

// Driver implements storage.Driver with plain files.
type Driver struct {
	dir string

	// mu serializes compare-and-swap within the process
	mu sync.Mutex
}

// NewDriver creates the root directory if needed and returns a driver on it.
func NewDriver(dir string) (*Driver, error) {
	if dir == "" {
		return nil, errors.New("storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Driver{dir: dir}, nil
}

// Dir returns the root directory.
func (d *Driver) Dir() string {
	return d.dir
}

// DocumentPath returns the file the document for key lives in.
func (d *Driver) DocumentPath(key string) (string, error) {
	if err := validName(key); err != nil {
		return "", err
	}
	return filepath.Join(d.dir, key+".json"), nil
}

func (d *Driver) versionPath(key string) string {
	return filepath.Join(d.dir, "."+key+".version")
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid storage key %q", name)
	}
	return nil
}

// Load returns the document stored under key.
func (d *Driver) Load(_ context.Context, key string) (*storage.Versioned, error) {
	path, err := d.DocumentPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.NotFoundError{Key: key}
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	version, err := d.readVersion(key)
	if err != nil {
		return nil, err
	}
	// A document written by hand has no counter yet.
	if version == 0 {
		version = 1
	}

	v := &storage.Versioned{Data: data, Version: version}
	if info, err := os.Stat(path); err == nil {
		v.UpdatedAt = info.ModTime().UTC()
	}
	return v, nil
}

func (d *Driver) readVersion(key string) (int64, error) {
	raw, err := os.ReadFile(d.versionPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read version of %s: %w", key, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt version file for %s: %w", key, err)
	}
	return v, nil
}

// CompareAndSwap writes data if the stored version equals expected.
func (d *Driver) CompareAndSwap(_ context.Context, key string, expected int64, data []byte) (int64, error) {
	path, err := d.DocumentPath(key)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.readVersion(key)
	if err != nil {
		return 0, err
	}
	if current == 0 {
		if _, err := os.Stat(path); err == nil {
			current = 1
		}
	}
	if current != expected {
		return 0, storage.VersionConflictError{Key: key, Expected: expected}
	}

	next := current + 1
	if err := writeAtomic(path, data); err != nil {
		return 0, err
	}
	if err := writeAtomic(d.versionPath(key), []byte(strconv.FormatInt(next, 10)+"\n")); err != nil {
		return 0, err
	}
	return next, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomic rename %s: %w", path, err)
	}
	return nil
}

func (d *Driver) snapshotDir(resource string) (string, error) {
	if err := validName(resource); err != nil {
		return "", err
	}
	return filepath.Join(d.dir, auditDir, resource), nil
}

// PutSnapshot writes a snapshot file. The file is linked into place so it
// either appears complete or not at all, and never replaces another.
func (d *Driver) PutSnapshot(_ context.Context, s storage.Snapshot) error {
	dir, err := d.snapshotDir(s.Resource)
	if err != nil {
		return err
	}
	if strings.ContainsAny(s.Action, `/\`) {
		return fmt.Errorf("invalid snapshot action %q", s.Action)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	name := s.Name()
	existing, err := findSnapshot(dir, name)
	if err != nil {
		return err
	}
	if existing != "" {
		return storage.ErrSnapshotExists
	}

	tmp, err := os.CreateTemp(dir, ".tmp-snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(s.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	target := filepath.Join(dir, snapshotFile(name, s.Action))
	if err := os.Link(tmpName, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.ErrSnapshotExists
		}
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

func snapshotFile(name, action string) string {
	if action == "" {
		return name + ".json"
	}
	return name + "_" + action + ".json"
}

// parseSnapshotFile splits a snapshot file name into its timestamp and action.
func parseSnapshotFile(file string) (time.Time, string, bool) {
	base, ok := strings.CutSuffix(file, ".json")
	if !ok || strings.HasPrefix(base, ".") {
		return time.Time{}, "", false
	}
	name, action, _ := strings.Cut(base, "_")
	t, err := time.Parse(storage.SnapshotTimeLayout, name)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, action, true
}

func findSnapshot(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read audit directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == name+".json" || strings.HasPrefix(e.Name(), name+"_") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// ListSnapshots returns the snapshots of resource, newest first. Files that
// do not follow the naming scheme are ignored.
func (d *Driver) ListSnapshots(_ context.Context, resource string) ([]storage.Snapshot, error) {
	dir, err := d.snapshotDir(resource)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var out []storage.Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		taken, action, ok := parseSnapshotFile(e.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot %s: %w", e.Name(), err)
		}
		out = append(out, storage.Snapshot{Resource: resource, TakenAt: taken, Action: action, Data: data})
	}

	slices.SortFunc(out, func(a, b storage.Snapshot) int {
		return strings.Compare(b.Name(), a.Name())
	})
	return out, nil
}

// ListSnapshotInfo returns the snapshot metadata of resource, newest first.
// Only the directory is read.
func (d *Driver) ListSnapshotInfo(_ context.Context, resource string) ([]storage.SnapshotInfo, error) {
	dir, err := d.snapshotDir(resource)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var out []storage.SnapshotInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		taken, action, ok := parseSnapshotFile(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat snapshot %s: %w", e.Name(), err)
		}
		out = append(out, storage.SnapshotInfo{Resource: resource, TakenAt: taken, Action: action, Size: info.Size()})
	}

	slices.SortFunc(out, func(a, b storage.SnapshotInfo) int {
		return strings.Compare(b.Name(), a.Name())
	})
	return out, nil
}

// GetSnapshot returns one snapshot by name.
func (d *Driver) GetSnapshot(_ context.Context, resource, name string) (*storage.Snapshot, error) {
	dir, err := d.snapshotDir(resource)
	if err != nil {
		return nil, err
	}

	path, err := findSnapshot(dir, name)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, storage.NotFoundError{Key: resource + "/" + name}
	}

	taken, action, ok := parseSnapshotFile(filepath.Base(path))
	if !ok {
		return nil, storage.NotFoundError{Key: resource + "/" + name}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return &storage.Snapshot{Resource: resource, TakenAt: taken, Action: action, Data: data}, nil
}

// Close is a no-op for the file driver.
func (d *Driver) Close() error {
	return nil
}
