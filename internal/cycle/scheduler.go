package cycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	sensors "spikealerts/internal/sensors/domain"
)

const (
	defaultMinSleep    = 5 * time.Second
	defaultBaseBackoff = 10 * time.Second
	defaultMaxBackoff  = 5 * time.Minute
)

// StateLister reads per-monitor-type poll state.
type StateLister interface {
	List(ctx context.Context) ([]sensors.MonitorState, error)
}

// Runner processes due monitor types.
type Runner interface {
	Run(ctx context.Context, configs []sensors.MonitorConfig, runtime time.Time)
}

// Scheduler drives the cycle loop: it sleeps until the earliest next-due
// time across all configured monitor types, runs the due ones, and repeats.
// State read failures back off exponentially up to a cap.
type Scheduler struct {
	configs []sensors.MonitorConfig
	states  StateLister
	runner  Runner
	clock   Clock
	logger  *zap.Logger

	minSleep    time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wait func(ctx context.Context, d time.Duration) bool
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock assigns a clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSchedulerLogger assigns a logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackoff bounds the retry delay after state read failures.
func WithBackoff(base, max time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if base > 0 {
			s.baseBackoff = base
		}
		if max > 0 {
			s.maxBackoff = max
		}
	}
}

// NewScheduler constructs a scheduler over the given monitor types.
func NewScheduler(configs []sensors.MonitorConfig, states StateLister, runner Runner, opts ...SchedulerOption) (*Scheduler, error) {
	if len(configs) == 0 {
		return nil, errors.New("cycle: no monitor types configured")
	}
	if states == nil || runner == nil {
		return nil, errors.New("cycle: nil dependency")
	}
	sched := &Scheduler{
		configs:     configs,
		states:      states,
		runner:      runner,
		clock:       systemClock{},
		logger:      zap.NewNop(),
		minSleep:    defaultMinSleep,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
	sched.wait = sched.sleep
	for _, opt := range opts {
		opt(sched)
	}
	return sched, nil
}

// Run loops until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	backoff := s.baseBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		states, err := s.states.List(ctx)
		if err != nil {
			s.logger.Error("reading monitor states failed",
				zap.Error(err),
				zap.Duration("retry_in", backoff))
			if !s.wait(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		backoff = s.baseBackoff

		due, next := s.plan(states, now)
		if len(due) > 0 {
			s.runner.Run(ctx, due, now)
			// Rescheduled from now; recompute against the run time.
			_, next = s.plan(nil, now)
		}

		delay := next.Sub(s.clock.Now().UTC())
		if delay < s.minSleep {
			delay = s.minSleep
		}
		if !s.wait(ctx, delay) {
			return ctx.Err()
		}
	}
}

// plan splits configs into those due at now and returns the earliest
// next-due instant among the rest. A monitor type without recorded state is
// due immediately; when states is nil every type is treated as just run.
func (s *Scheduler) plan(states []sensors.MonitorState, now time.Time) ([]sensors.MonitorConfig, time.Time) {
	lastByType := make(map[string]time.Time, len(states))
	for _, st := range states {
		lastByType[st.MonitorType] = st.LastUpdate
	}

	var due []sensors.MonitorConfig
	var next time.Time
	for _, cfg := range s.configs {
		last, known := lastByType[cfg.MonitorType]
		if states == nil {
			last, known = now, true
		}
		if !known {
			due = append(due, cfg)
			continue
		}
		nextDue := sensors.MonitorState{MonitorType: cfg.MonitorType, LastUpdate: last}.NextDue(cfg)
		if !nextDue.After(now) {
			due = append(due, cfg)
			continue
		}
		if next.IsZero() || nextDue.Before(next) {
			next = nextDue
		}
	}
	if next.IsZero() {
		next = now.Add(s.minSleep)
	}
	return due, next
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
