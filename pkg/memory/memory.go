// Package memory is the surface the assistant layer talks to.
//
// A Facade combines the period log, the context assembler and the guarded fact
// document into four operations: Append, LoadContext, GetFacts and
// MutateFacts. Read paths recover from missing and malformed data locally.
// Write paths never drop a request silently: every mutation comes back as a
// Result that either committed or says why it did not.
//
// A Facade is configured from config.toml like so:
//
//	[context]
//	budget = 200000
//	reserve = 4000
//
//	[facts]
//	token_ceiling = 10000
//	resource = "facts"
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/papercomputeco/mnemo/pkg/contextwindow"
	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/eventstream/nop"
	"github.com/papercomputeco/mnemo/pkg/facts"
	"github.com/papercomputeco/mnemo/pkg/guard"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/metrics"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

const (
	DefaultBudget   = 200_000
	DefaultReserve  = 4_000
	DefaultResource = "facts"
	DefaultActor    = "mnemo"
)

// Config wires a Facade. Log, Guard and Mutator are required.
type Config struct {
	Log     *periodlog.Log
	Guard   *guard.Guard
	Mutator *facts.Mutator

	// Cache defaults to a fresh facts.DocumentCache owned by the Facade.
	Cache *facts.DocumentCache

	// Resource names the fact document. Defaults to DefaultResource.
	Resource string

	// Budget and Reserve are the context defaults used when a request
	// carries no override.
	Budget  int
	Reserve int

	// Publisher receives append and mutation events. Defaults to nop.
	Publisher eventstream.Publisher

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Instance identifies this process in emitted events.
	Instance string

	// Actor is stamped as updated_by when the context carries none.
	Actor string

	// Closers are closed, in order, by Close.
	Closers []io.Closer

	Clock  func() time.Time
	Logger *slog.Logger
}

// Facade is safe for concurrent use.
type Facade struct {
	log       *periodlog.Log
	assembler *contextwindow.Assembler
	guard     *guard.Guard
	mutator   *facts.Mutator
	cache     *facts.DocumentCache
	resource  string
	budget    int
	reserve   int
	publisher eventstream.Publisher
	metrics   *metrics.Metrics
	source    eventstream.EventSource
	actor     string
	closers   []io.Closer
	clock     func() time.Time
	logger    *slog.Logger
}

// New creates a Facade.
func New(c Config) (*Facade, error) {
	if c.Log == nil {
		return nil, errors.New("memory requires a period log")
	}
	if c.Guard == nil {
		return nil, errors.New("memory requires a guard")
	}
	if c.Mutator == nil {
		return nil, errors.New("memory requires a fact mutator")
	}

	f := &Facade{
		log:       c.Log,
		guard:     c.Guard,
		mutator:   c.Mutator,
		cache:     c.Cache,
		resource:  c.Resource,
		budget:    c.Budget,
		reserve:   c.Reserve,
		publisher: c.Publisher,
		metrics:   c.Metrics,
		source:    eventstream.EventSource{Instance: c.Instance},
		actor:     c.Actor,
		closers:   c.Closers,
		clock:     c.Clock,
		logger:    logger.OrNop(c.Logger),
	}
	if f.cache == nil {
		f.cache = facts.NewDocumentCache(0)
	}
	if f.resource == "" {
		f.resource = DefaultResource
	}
	if f.budget <= 0 {
		f.budget = DefaultBudget
	}
	if f.reserve < 0 {
		f.reserve = 0
	}
	if f.publisher == nil {
		f.publisher = nop.NewPublisher()
	}
	if f.actor == "" {
		f.actor = DefaultActor
	}
	if f.clock == nil {
		f.clock = time.Now
	}
	f.assembler = contextwindow.New(c.Log, f.logger)

	return f, nil
}

// Resource returns the name of the fact document.
func (f *Facade) Resource() string {
	return f.resource
}

// Log returns the underlying period log.
func (f *Facade) Log() *periodlog.Log {
	return f.log
}

// Close releases the publisher and every configured closer.
func (f *Facade) Close() error {
	var errs []error
	if err := f.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing publisher: %w", err))
	}
	for _, c := range f.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Facade) publish(ctx context.Context, event *eventstream.Event) {
	if err := f.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		f.metrics.ObserveEventFailure()
		f.logger.Warn("publishing event",
			"event_type", event.EventType,
			"event_id", event.EventID,
			"error", err,
		)
	}
}

type actorKey struct{}

// WithActor returns a context whose mutations are stamped with actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func (f *Facade) actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return f.actor
}
