// Package periodlog is an append-only, period-partitioned message log.
//
// Each period (a calendar month by default) is one JSON Lines file. Records are
// only ever appended with a single write, so readers never need a lock: a
// reader sees a prefix of the partition as it was when the read started.
package periodlog

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/tokens"
)

const partitionExt = ".jsonl"

// Config configures a Log.
type Config struct {
	// Dir holds one file per partition. It is created if missing.
	Dir string

	// Estimator sizes messages whose draft carries no size. Defaults to
	// tokens.NewChars().
	Estimator tokens.Estimator

	// Period derives partition keys. Defaults to Monthly.
	Period Period

	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time

	// OnMalformed is called for every skipped record.
	OnMalformed func(MalformedRecordError)

	// BlockSize is the reverse reader's read size in bytes.
	BlockSize int

	Logger *slog.Logger
}

// Log is a durable, append-only message store.
type Log struct {
	dir         string
	estimator   tokens.Estimator
	period      Period
	clock       func() time.Time
	onMalformed func(MalformedRecordError)
	blockSize   int
	logger      *slog.Logger

	// mu serializes appends from this process and guards entropy and last.
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    time.Time
}

// New creates a Log rooted at cfg.Dir.
func New(cfg Config) (*Log, error) {
	if cfg.Dir == "" {
		return nil, errors.New("period log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating period log directory %s: %w", cfg.Dir, err)
	}

	l := &Log{
		dir:         cfg.Dir,
		estimator:   cfg.Estimator,
		period:      cfg.Period,
		clock:       cfg.Clock,
		onMalformed: cfg.OnMalformed,
		blockSize:   cfg.BlockSize,
		logger:      logger.OrNop(cfg.Logger),
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	if l.estimator == nil {
		l.estimator = tokens.NewChars()
	}
	if l.period == nil {
		l.period = Monthly
	}
	if l.clock == nil {
		l.clock = time.Now
	}

	return l, nil
}

// Dir returns the directory holding the partitions.
func (l *Log) Dir() string {
	return l.dir
}

// PartitionFor returns the partition a message written at t lands in.
func (l *Log) PartitionFor(t time.Time) Partition {
	key := l.period.Key(t)
	return Partition{Key: key, Path: filepath.Join(l.dir, key+partitionExt)}
}

// Append assigns an id, timestamp and period key to d and writes it as one
// record to the current partition, creating the partition on first use.
func (l *Log) Append(_ context.Context, d Draft) (*Message, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	size := d.SizeEstimate
	if size == 0 {
		size = l.estimate(d)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock().UTC()
	if now.Before(l.last) {
		now = l.last
	}

	id, err := ulid.New(ulid.Timestamp(now), l.entropy)
	if err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	part := l.PartitionFor(now)
	msg := &Message{
		ID:           id.String(),
		Role:         d.Role,
		Content:      d.Content,
		Timestamp:    now,
		PeriodKey:    part.Key,
		SizeEstimate: size,
		Model:        d.Model,
		ToolCalls:    d.ToolCalls,
		Metadata:     d.Metadata,
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(part.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening partition %s: %w", part.Key, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return nil, fmt.Errorf("writing to partition %s: %w", part.Key, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing partition %s: %w", part.Key, err)
	}

	l.last = now
	return msg, nil
}

func (l *Log) estimate(d Draft) int {
	n := l.estimator.Estimate(d.Content)
	if len(d.ToolCalls) > 0 {
		if b, err := json.Marshal(d.ToolCalls); err == nil {
			n += l.estimator.Estimate(string(b))
		}
	}
	return n
}

// Partitions lists every partition, newest period first. A missing directory
// yields no partitions.
func (l *Log) Partitions(_ context.Context) ([]Partition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	var parts []Partition
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, partitionExt) {
			continue
		}
		key := strings.TrimSuffix(name, partitionExt)
		parts = append(parts, Partition{Key: key, Path: filepath.Join(l.dir, name)})
	}

	slices.SortFunc(parts, func(a, b Partition) int {
		return strings.Compare(b.Key, a.Key)
	})

	return parts, nil
}

// ReadReverse yields the messages of p newest first. Malformed records are
// logged and skipped; a missing partition yields nothing. Reading stops early
// when the consumer breaks or ctx is done.
func (l *Log) ReadReverse(ctx context.Context, p Partition) iter.Seq[*Message] {
	return func(yield func(*Message) bool) {
		f, err := os.Open(p.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				l.logger.Warn("failed to open partition", "period", p.Key, "error", err)
			}
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			l.logger.Warn("failed to stat partition", "period", p.Key, "error", err)
			return
		}

		lines := newReverseLines(f, info.Size(), l.blockSize)
		for {
			if ctx.Err() != nil {
				return
			}

			line, offset, err := lines.next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					l.logger.Warn("failed to read partition", "period", p.Key, "error", err)
				}
				return
			}

			msg, err := decodeRecord(line)
			if err != nil {
				l.skip(MalformedRecordError{Partition: p.Key, Offset: offset, Err: err})
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}

func (l *Log) skip(e MalformedRecordError) {
	l.logger.Warn("skipping malformed record",
		"period", e.Partition,
		"offset", e.Offset,
		"error", e.Err,
	)
	if l.onMalformed != nil {
		l.onMalformed(e)
	}
}

func decodeRecord(line []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
