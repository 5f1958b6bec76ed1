package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/dotdir"
	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/eventstream/async"
	"github.com/papercomputeco/mnemo/pkg/eventstream/kafka"
	"github.com/papercomputeco/mnemo/pkg/eventstream/nop"
	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/guard"
	"github.com/papercomputeco/mnemo/pkg/lock"
	lockfile "github.com/papercomputeco/mnemo/pkg/lock/file"
	lockmemory "github.com/papercomputeco/mnemo/pkg/lock/memory"
	lockredis "github.com/papercomputeco/mnemo/pkg/lock/redis"
	"github.com/papercomputeco/mnemo/pkg/metrics"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
	"github.com/papercomputeco/mnemo/pkg/storage"
	"github.com/papercomputeco/mnemo/pkg/storage/file"
	"github.com/papercomputeco/mnemo/pkg/storage/inmemory"
	"github.com/papercomputeco/mnemo/pkg/storage/postgres"
	"github.com/papercomputeco/mnemo/pkg/storage/sqlite"
	"github.com/papercomputeco/mnemo/pkg/tokens"
)

const (
	messagesDir = "messages"
	locksDir    = "locks"
	sqliteFile  = "mnemo.sqlite"
)

// Options carries the process-level dependencies of Open.
type Options struct {
	// ConfigDir overrides .mnemo/ resolution when storage.dir is unset.
	ConfigDir string

	Metrics  *metrics.Metrics
	Instance string
	Actor    string
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Open builds a Facade and its backends from cfg.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Facade, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	dataDir := cfg.Storage.Dir
	if dataDir == "" {
		dir, err := dotdir.NewManager().DataDir(opts.ConfigDir)
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}

	est, err := tokens.New(cfg.Tokenizer.Provider, cfg.Tokenizer.Encoding)
	if err != nil {
		return nil, err
	}

	period, err := periodlog.ParsePeriod(cfg.Storage.Period)
	if err != nil {
		return nil, fmt.Errorf("storage.period: %w", err)
	}

	plog, err := periodlog.New(periodlog.Config{
		Dir:       filepath.Join(dataDir, messagesDir),
		Estimator: est,
		Period:    period,
		Clock:     opts.Clock,
		OnMalformed: func(periodlog.MalformedRecordError) {
			opts.Metrics.ObserveMalformed()
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	fail := func(err error) (*Facade, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	store, err := NewStore(ctx, cfg.Storage, dataDir)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store)

	locker, err := NewLocker(ctx, cfg.Lock, dataDir)
	if err != nil {
		return fail(err)
	}
	if c, ok := locker.(io.Closer); ok {
		closers = append(closers, c)
	}

	backoff, maxBackoff, ttl, err := cfg.Lock.Durations()
	if err != nil {
		return fail(err)
	}

	empty, err := facts.Encode(facts.NewDocument())
	if err != nil {
		return fail(err)
	}

	g, err := guard.New(guard.Config{
		Store:      store,
		Locker:     locker,
		Trail:      guard.NewTrail(store, opts.Clock),
		Attempts:   cfg.Lock.Retries,
		Backoff:    backoff,
		MaxBackoff: maxBackoff,
		LockTTL:    ttl,
		Empty:      empty,
		Logger:     log,
	})
	if err != nil {
		return fail(err)
	}

	var mutatorOpts []facts.MutatorOption
	if opts.Clock != nil {
		mutatorOpts = append(mutatorOpts, facts.WithClock(opts.Clock))
	}
	mutator := facts.NewMutator(est, facts.Policy{
		TokenCeiling:        cfg.Facts.TokenCeiling,
		PruneDaysThreshold:  cfg.Facts.PruneDaysThreshold,
		PruneReferenceFloor: cfg.Facts.PruneReferenceFloor,
		MinContentLength:    cfg.Facts.MinContentLength,
		DefaultConfidence:   cfg.Facts.DefaultConfidence,
	}, mutatorOpts...)

	publisher, err := NewPublisher(cfg.Events, opts.Metrics, log)
	if err != nil {
		return fail(err)
	}

	log.Debug("memory opened",
		"data_dir", dataDir,
		"storage", cfg.Storage.Provider,
		"period", cfg.Storage.Period,
		"lock", cfg.Lock.Provider,
		"tokenizer", cfg.Tokenizer.Provider,
		"events", cfg.Events.Provider,
	)

	return New(Config{
		Log:       plog,
		Guard:     g,
		Mutator:   mutator,
		Cache:     facts.NewDocumentCache(0),
		Resource:  cfg.Facts.Resource,
		Budget:    cfg.Context.Budget,
		Reserve:   cfg.Context.Reserve,
		Publisher: publisher,
		Metrics:   opts.Metrics,
		Instance:  opts.Instance,
		Actor:     opts.Actor,
		Closers:   closers,
		Clock:     opts.Clock,
		Logger:    log,
	})
}

// NewStore opens the document store named by c.Provider.
func NewStore(ctx context.Context, c config.StorageConfig, dataDir string) (storage.Driver, error) {
	switch c.Provider {
	case "", "file":
		return file.NewDriver(dataDir)
	case "memory":
		return inmemory.NewDriver(), nil
	case "sqlite":
		path := c.SQLitePath
		if path == "" {
			path = filepath.Join(dataDir, sqliteFile)
		}
		return sqlite.NewDriver(ctx, path)
	case "postgres":
		if c.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is required for the postgres provider")
		}
		return postgres.NewDriver(ctx, c.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage provider %q (expected file, memory, sqlite or postgres)", c.Provider)
	}
}

// NewLocker opens the advisory lock backend named by c.Provider.
func NewLocker(ctx context.Context, c config.LockConfig, dataDir string) (lock.Locker, error) {
	switch c.Provider {
	case "", "file":
		return lockfile.NewLocker(filepath.Join(dataDir, locksDir))
	case "memory":
		return lockmemory.NewLocker(), nil
	case "redis":
		if c.RedisAddr == "" {
			return nil, errors.New("lock.redis_addr is required for the redis provider")
		}
		return lockredis.Dial(ctx, c.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown lock provider %q (expected file, memory or redis)", c.Provider)
	}
}

// NewPublisher creates the event publisher named by c.Provider. Network
// backends are wrapped in an async pool; failed deliveries are counted on m.
func NewPublisher(c config.EventsConfig, m *metrics.Metrics, l *slog.Logger) (eventstream.Publisher, error) {
	switch c.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		backend, err := kafka.NewPublisher(c.Brokers, c.Topic)
		if err != nil {
			return nil, err
		}
		return async.NewPool(async.Config{
			Publisher: backend,
			OnError: func(*eventstream.Event, error) {
				m.ObserveEventFailure()
			},
			Logger: l,
		})
	default:
		return nil, fmt.Errorf("unknown events provider %q (expected nop or kafka)", c.Provider)
	}
}
