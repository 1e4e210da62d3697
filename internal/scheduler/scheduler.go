// Package scheduler triggers allocation runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	service "github.com/aidenrawles/synergy/internal/app"
	"github.com/aidenrawles/synergy/pkg/logger"
	"github.com/aidenrawles/synergy/pkg/metrics"
)

const defaultRunTimeout = 5 * time.Minute

// Runner performs one allocation run.
type Runner interface {
	RunAllocation(ctx context.Context) (service.Run, error)
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRunTimeout bounds each scheduled run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Scheduler fires RunAllocation on a six-field (seconds first) cron spec.
type Scheduler struct {
	spec    string
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration
	log     logger.Logger

	mu      sync.Mutex
	started bool
	fired   int64
}

// New parses spec and returns a stopped Scheduler.
func New(spec string, r Runner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		spec:    spec,
		runner:  r,
		cron:    cron.New(cron.WithSeconds()),
		timeout: defaultRunTimeout,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, spec, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info(ctx, "allocation scheduler started", logger.String("schedule", s.spec))
}

// Stop prevents new runs and waits for an in-flight one, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info(ctx, "allocation scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fired returns how many times the schedule has triggered.
func (s *Scheduler) Fired() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.fired++
	s.mu.Unlock()
	metrics.RecordScheduledAllocation()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	run, err := s.runner.RunAllocation(ctx)
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		s.log.Info(ctx, "scheduled allocation skipped, run in progress")
	case err != nil:
		s.log.Error(ctx, "scheduled allocation failed", logger.Error(err))
	default:
		s.log.Info(ctx, "scheduled allocation complete",
			logger.String("run_id", run.Result.RunID),
			logger.Int("allocated", len(run.Result.Allocated)),
			logger.Int("unallocated", len(run.Result.Unallocated)),
		)
	}
}
