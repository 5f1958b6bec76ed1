// Package sqldriver implements storage.Driver on top of database/sql. The
// sqlite and postgres packages open a connection and embed this driver.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/mnemo/pkg/storage"
)

// Dialect holds the few statements that differ between databases.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// BlobType is the column type for raw document bytes.
	BlobType string

	// Placeholder returns the bind parameter for position n, starting at 1.
	Placeholder func(n int) string
}

// SQLite is the dialect for github.com/mattn/go-sqlite3.
var SQLite = Dialect{
	Name:        "sqlite",
	BlobType:    "BLOB",
	Placeholder: func(int) string { return "?" },
}

// Postgres is the dialect for github.com/jackc/pgx/v5/stdlib.
var Postgres = Dialect{
	Name:        "postgres",
	BlobType:    "BYTEA",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// Driver implements storage.Driver using two tables: mnemo_documents holds
// the versioned documents, mnemo_snapshots the audit trail.
type Driver struct {
	DB      *sql.DB
	Dialect Dialect
}

// Migrate creates the tables if they do not exist.
func (d *Driver) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mnemo_documents (
			doc_key TEXT PRIMARY KEY,
			data %s NOT NULL,
			version BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, d.Dialect.BlobType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mnemo_snapshots (
			resource TEXT NOT NULL,
			name TEXT NOT NULL,
			taken_at BIGINT NOT NULL,
			action TEXT NOT NULL,
			data %s NOT NULL,
			PRIMARY KEY (resource, name)
		)`, d.Dialect.BlobType),
	}
	for _, stmt := range stmts {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", d.Dialect.Name, err)
		}
	}
	return nil
}

// bind rewrites each '?' in query into the dialect's placeholder.
func (d *Driver) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load returns the document stored under key.
func (d *Driver) Load(ctx context.Context, key string) (*storage.Versioned, error) {
	row := d.DB.QueryRowContext(ctx,
		d.bind(`SELECT data, version, updated_at FROM mnemo_documents WHERE doc_key = ?`), key)

	var (
		v       storage.Versioned
		updated int64
	)
	if err := row.Scan(&v.Data, &v.Version, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundError{Key: key}
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	v.UpdatedAt = time.Unix(0, updated).UTC()
	return &v, nil
}

// CompareAndSwap writes data if the stored version equals expected.
func (d *Driver) CompareAndSwap(ctx context.Context, key string, expected int64, data []byte) (int64, error) {
	now := time.Now().UnixNano()

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = d.DB.ExecContext(ctx,
			d.bind(`INSERT INTO mnemo_documents (doc_key, data, version, updated_at) VALUES (?, ?, 1, ?) ON CONFLICT (doc_key) DO NOTHING`),
			key, data, now)
	} else {
		res, err = d.DB.ExecContext(ctx,
			d.bind(`UPDATE mnemo_documents SET data = ?, version = version + 1, updated_at = ? WHERE doc_key = ? AND version = ?`),
			data, now, key, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if n == 0 {
		return 0, storage.VersionConflictError{Key: key, Expected: expected}
	}
	return expected + 1, nil
}

// PutSnapshot stores an audit snapshot.
func (d *Driver) PutSnapshot(ctx context.Context, s storage.Snapshot) error {
	res, err := d.DB.ExecContext(ctx,
		d.bind(`INSERT INTO mnemo_snapshots (resource, name, taken_at, action, data) VALUES (?, ?, ?, ?, ?) ON CONFLICT (resource, name) DO NOTHING`),
		s.Resource, s.Name(), s.TakenAt.UnixNano(), s.Action, s.Data)
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", s.Name(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", s.Name(), err)
	}
	if n == 0 {
		return storage.ErrSnapshotExists
	}
	return nil
}

// ListSnapshots returns the snapshots of resource, newest first.
func (d *Driver) ListSnapshots(ctx context.Context, resource string) ([]storage.Snapshot, error) {
	rows, err := d.DB.QueryContext(ctx,
		d.bind(`SELECT taken_at, action, data FROM mnemo_snapshots WHERE resource = ? ORDER BY name DESC`), resource)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []storage.Snapshot
	for rows.Next() {
		s := storage.Snapshot{Resource: resource}
		var taken int64
		if err := rows.Scan(&taken, &s.Action, &s.Data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.TakenAt = time.Unix(0, taken).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSnapshotInfo returns the snapshot metadata of resource, newest first.
func (d *Driver) ListSnapshotInfo(ctx context.Context, resource string) ([]storage.SnapshotInfo, error) {
	rows, err := d.DB.QueryContext(ctx,
		d.bind(`SELECT taken_at, action, length(data) FROM mnemo_snapshots WHERE resource = ? ORDER BY name DESC`), resource)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []storage.SnapshotInfo
	for rows.Next() {
		s := storage.SnapshotInfo{Resource: resource}
		var taken int64
		if err := rows.Scan(&taken, &s.Action, &s.Size); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.TakenAt = time.Unix(0, taken).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSnapshot returns one snapshot by name.
func (d *Driver) GetSnapshot(ctx context.Context, resource, name string) (*storage.Snapshot, error) {
	row := d.DB.QueryRowContext(ctx,
		d.bind(`SELECT taken_at, action, data FROM mnemo_snapshots WHERE resource = ? AND name = ?`), resource, name)

	s := storage.Snapshot{Resource: resource}
	var taken int64
	if err := row.Scan(&taken, &s.Action, &s.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundError{Key: resource + "/" + name}
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	s.TakenAt = time.Unix(0, taken).UTC()
	return &s, nil
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.DB.Close()
}
