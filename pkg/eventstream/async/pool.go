// Package async provides an eventstream.Publisher that hands events to a
// worker pool, so a slow backend never sits on the path of a committed write.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/logger"
)

var (
	defaultNumWorkers   uint = 2
	defaultJobQueueSize uint = 256
	defaultTimeout           = 5 * time.Second
)

// ErrQueueFull is returned by Publish when the event was dropped.
var ErrQueueFull = errors.New("event queue full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher is the backend events are delivered to.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered event channel (defaults to 256).
	QueueSize uint

	// Timeout bounds one delivery. Defaults to 5s.
	Timeout time.Duration

	// OnError is called for every event the backend rejected.
	OnError func(*eventstream.Event, error)

	Logger *slog.Logger
}

// Pool delivers events asynchronously via a worker pool.
type Pool struct {
	config Config
	queue  chan *eventstream.Event
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, errors.New("async publisher requires a backend publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan *eventstream.Event, c.QueueSize),
		logger: logger.OrNop(c.Logger),
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Publish queues event for delivery. It never blocks: a full queue drops the
// event and returns ErrQueueFull.
func (p *Pool) Publish(_ context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- event:
		p.logger.Debug("event queued",
			"event_type", event.EventType,
			"event_id", event.EventID,
		)
		return nil
	default:
		p.logger.Error("event not queued, queue full, event dropped",
			"event_type", event.EventType,
			"event_id", event.EventID,
		)
		return ErrQueueFull
	}
}

// Close stops accepting events, waits for queued events to drain and closes
// the backend.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.config.Publisher.Close()
}

// worker is the inner worker thread that continuously pulls events off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("event worker started", "worker_id", id)

	for event := range p.queue {
		p.deliver(event)
	}

	p.logger.Debug("event worker stopped", "worker_id", id)
}

func (p *Pool) deliver(event *eventstream.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	if err := p.config.Publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("event delivery failed",
			"event_type", event.EventType,
			"event_id", event.EventID,
			"error", err,
		)
		if p.config.OnError != nil {
			p.config.OnError(event, err)
		}
	}
}
