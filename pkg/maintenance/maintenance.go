// Package maintenance runs periodic upkeep of the fact document. Today that is
// a scheduled prune_stale, so stale facts leave the document even when no
// assistant asks for it.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

// Actor is stamped as updated_by on scheduled mutations.
const Actor = "maintenance"

// DefaultTimeout bounds one scheduled run.
const DefaultTimeout = time.Minute

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Pruner is the fact operation the scheduler drives.
type Pruner interface {
	PruneStale(ctx context.Context, in memory.PruneInput) *memory.Result
}

// Config configures a Scheduler.
type Config struct {
	// Schedule is a five field cron spec or a descriptor such as "@daily".
	Schedule string

	// DaysThreshold is passed to prune_stale. Zero uses the configured
	// threshold of the Pruner.
	DaysThreshold int

	// Timeout bounds one run. Defaults to DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Scheduler runs prune_stale on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	pruner   Pruner
	days     int
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last *memory.Result
}

// ParseSchedule validates a schedule spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s, nil
}

// New creates a Scheduler. It does nothing until Run.
func New(pruner Pruner, c Config) (*Scheduler, error) {
	if pruner == nil {
		return nil, errors.New("maintenance requires a pruner")
	}
	schedule, err := ParseSchedule(c.Schedule)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC), cron.WithParser(parser)),
		schedule: schedule,
		pruner:   pruner,
		days:     c.DaysThreshold,
		timeout:  c.Timeout,
		logger:   logger.OrNop(c.Logger),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s, nil
}

// Next returns the first run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Last returns the result of the most recent run, or nil.
func (s *Scheduler) Last() *memory.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce prunes immediately.
func (s *Scheduler) RunOnce(ctx context.Context) *memory.Result {
	ctx, cancel := context.WithTimeout(memory.WithActor(ctx, Actor), s.timeout)
	defer cancel()

	res := s.pruner.PruneStale(ctx, memory.PruneInput{DaysThreshold: s.days})
	if res.Success {
		s.logger.Info("scheduled prune", "removed", res.Details["removed"], "total_tokens", res.TokenUsage.Total)
	} else {
		s.logger.Warn("scheduled prune failed", "kind", res.Kind, "error", res.Error)
	}

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	return res
}

// Run schedules prune_stale and blocks until ctx is done. A run in progress
// is allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		s.RunOnce(ctx)
	}))

	s.logger.Info("maintenance scheduler started", "next_run", s.Next(time.Now().UTC()))
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.logger.Info("maintenance scheduler stopped")
	return nil
}
