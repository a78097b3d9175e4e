// Package scheduler drives fetch cycles on a fixed delay. The next cycle is
// armed only after the previous one reports completion, so cycles never
// overlap and a slow fetch pushes the schedule back instead of piling up.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/observability"
)

// DefaultInterval is used when no positive interval is configured.
const DefaultInterval = 10 * time.Minute

// State is the scheduler's position in its cycle.
type State int32

const (
	// Idle means a timer is armed and no fetch is in flight.
	Idle State = iota
	// Fetching means one cycle is running and no timer is armed.
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Cycle runs one fetch. It must call done exactly once when the fetch has
// concluded; further calls are ignored. done may be called synchronously or
// from another goroutine.
type Cycle func(ctx context.Context, done func(domain.FetchResult))

// Scheduler re-arms a timer after every completed cycle.
type Scheduler struct {
	clock        clockwork.Clock
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
	state        atomic.Int32
}

// New creates a Scheduler. A nil clock uses real time.
func New(interval, initialDelay time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:        clock,
		interval:     interval,
		initialDelay: initialDelay,
		logger:       logger,
		metrics:      metrics,
	}
}

// State reports whether a cycle is currently in flight.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run starts cycles until ctx is cancelled. The first cycle starts after the
// initial delay, every later one after the interval measured from the
// previous cycle's completion.
func (s *Scheduler) Run(ctx context.Context, cycle Cycle) error {
	s.logger.Info("scheduler started", "interval", s.interval, "initial_delay", s.initialDelay)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	delay := s.initialDelay
	for {
		if !s.wait(ctx, delay) {
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		}
		if !s.runCycle(ctx, cycle) {
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		}
		delay = s.interval
	}
}

// runCycle starts one cycle and blocks until its completion callback fires.
// Returns false if ctx ended first.
func (s *Scheduler) runCycle(ctx context.Context, cycle Cycle) bool {
	s.state.Store(int32(Fetching))
	defer s.state.Store(int32(Idle))

	finished := make(chan domain.FetchResult, 1)
	var once sync.Once
	done := func(r domain.FetchResult) {
		once.Do(func() { finished <- r })
	}

	start := s.clock.Now()
	cycle(ctx, done)

	select {
	case <-ctx.Done():
		return false
	case r := <-finished:
		s.logger.Debug("fetch cycle complete",
			"alerts", r.Alerts,
			"ok", r.OK(),
			"elapsed", s.clock.Since(start),
			"next_in", s.interval,
		)
		return true
	}
}

// wait blocks for d on the scheduler clock. Returns false if ctx ended first.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}

	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
