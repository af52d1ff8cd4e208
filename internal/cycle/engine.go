// Package cycle orchestrates the processing loop: poll, classify, apply the
// ledger, propagate to POIs, write due reports, and notify subscribers. Each
// monitor type is one unit of work; a failing type aborts only its own unit.
package cycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alertapp "spikealerts/internal/alerts/application"
	"spikealerts/internal/observability/metrics"
	pois "spikealerts/internal/pois/domain"
	sensors "spikealerts/internal/sensors/domain"
	"spikealerts/internal/spikes"
)

// Poller provides one monitor type's observations.
type Poller interface {
	Poll(ctx context.Context, cfg sensors.MonitorConfig, runtime time.Time) ([]sensors.Observation, error)
}

// Ledger applies tier classifications to the alert tables.
type Ledger interface {
	ActiveSensorIDs(ctx context.Context, sensitive bool, polled []int64) (spikes.IDSet, error)
	Apply(ctx context.Context, cls spikes.Classification, observations []sensors.Observation, runtime time.Time) (*alertapp.LedgerResult, error)
}

// Aggregator propagates ledger transitions onto POIs and writes reports.
type Aggregator interface {
	Propagate(ctx context.Context, sensitive bool, openedSensorIDs, closedAlertIDs []int64, radiusMeters float64) ([]int64, error)
	GenerateDueReports(ctx context.Context, sensitive bool, runtime time.Time) ([]pois.Report, error)
}

// Debouncer messages subscribers about alert transitions.
type Debouncer interface {
	StartPass(ctx context.Context, sensitive bool, runtime time.Time) error
	EndPass(ctx context.Context, sensitive bool, reports []pois.Report, runtime time.Time) error
	Sweep(ctx context.Context) error
}

// StateTracker records cycle completion per monitor type.
type StateTracker interface {
	Touch(ctx context.Context, monitorType string, lastUpdate time.Time) error
}

// Snapshotter publishes cycle results for external readers. Failures are
// logged, never fatal to the cycle.
type Snapshotter interface {
	PublishObservations(ctx context.Context, observations []sensors.Observation) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Engine runs the processing unit for monitor types.
type Engine struct {
	poller     Poller
	ledger     Ledger
	aggregator Aggregator
	debouncer  Debouncer
	states     StateTracker
	snapshot   Snapshotter
	clock      Clock
	logger     *zap.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSnapshotter assigns a status snapshot publisher.
func WithSnapshotter(snapshot Snapshotter) EngineOption {
	return func(e *Engine) {
		e.snapshot = snapshot
	}
}

// NewEngine constructs an engine.
func NewEngine(poller Poller, ledger Ledger, aggregator Aggregator, debouncer Debouncer, states StateTracker, opts ...EngineOption) (*Engine, error) {
	if poller == nil || ledger == nil || aggregator == nil || debouncer == nil {
		return nil, errors.New("cycle: nil dependency")
	}
	if states == nil {
		return nil, errors.New("cycle: nil state tracker")
	}
	engine := &Engine{
		poller:     poller,
		ledger:     ledger,
		aggregator: aggregator,
		debouncer:  debouncer,
		states:     states,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Run processes the given monitor types sequentially. A failing type is
// logged and counted; the others still run.
func (e *Engine) Run(ctx context.Context, configs []sensors.MonitorConfig, runtime time.Time) {
	if e == nil {
		return
	}
	if runtime.IsZero() {
		runtime = e.clock.Now().UTC()
	}
	for _, cfg := range configs {
		started := e.clock.Now()
		if err := e.runUnit(ctx, cfg, runtime); err != nil {
			metrics.ObserveCycle(cfg.MonitorType, metrics.ResultError, e.clock.Now().Sub(started))
			e.logger.Error("cycle unit failed",
				zap.String("monitor_type", cfg.MonitorType),
				zap.Error(err))
			continue
		}
		metrics.ObserveCycle(cfg.MonitorType, metrics.ResultSuccess, e.clock.Now().Sub(started))
	}
}

func (e *Engine) runUnit(ctx context.Context, cfg sensors.MonitorConfig, runtime time.Time) error {
	observations, err := e.poller.Poll(ctx, cfg, runtime)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		e.logger.Info("no observations this cycle", zap.String("monitor_type", cfg.MonitorType))
		return e.states.Touch(ctx, cfg.MonitorType, runtime)
	}

	polledIDs := make([]int64, 0, len(observations))
	for _, obs := range observations {
		polledIDs = append(polledIDs, obs.SensorID)
	}

	// Both tiers classify against the ledger as it stood at the start of
	// the unit, so one tier's mutations cannot leak into the other's view.
	alertedByTier := make(map[bool]spikes.IDSet, 2)
	for _, sensitive := range []bool{false, true} {
		alerted, err := e.ledger.ActiveSensorIDs(ctx, sensitive, polledIDs)
		if err != nil {
			return err
		}
		alertedByTier[sensitive] = alerted
	}

	for _, sensitive := range []bool{false, true} {
		cls := spikes.Classify(sensitive, observations, alertedByTier[sensitive])
		result, err := e.ledger.Apply(ctx, cls, observations, runtime)
		if err != nil {
			return err
		}

		openedSensorIDs := make([]int64, 0, len(result.Opened))
		for _, alert := range result.Opened {
			openedSensorIDs = append(openedSensorIDs, alert.SensorID)
		}
		closedAlertIDs := make([]int64, 0, len(result.Closed))
		for _, archived := range result.Closed {
			closedAlertIDs = append(closedAlertIDs, archived.ID)
		}

		newlyAlertedPOIs, err := e.aggregator.Propagate(ctx, sensitive, openedSensorIDs, closedAlertIDs, cfg.RadiusMeters)
		if err != nil {
			return err
		}
		if len(newlyAlertedPOIs) > 0 {
			e.logger.Info("pois newly alerted",
				zap.String("monitor_type", cfg.MonitorType),
				zap.Bool("sensitive", sensitive),
				zap.Int("count", len(newlyAlertedPOIs)))
		}

		// Propagation is complete before the report scan, so an alert
		// cached this cycle is already visible to the debounce query.
		reports, err := e.aggregator.GenerateDueReports(ctx, sensitive, runtime)
		if err != nil {
			return err
		}

		// The start pass scans every alerted POI, not just this cycle's,
		// so subscribers blocked by their window earlier are retried.
		if err := e.debouncer.StartPass(ctx, sensitive, runtime); err != nil {
			return err
		}
		if err := e.debouncer.EndPass(ctx, sensitive, reports, runtime); err != nil {
			return err
		}
	}

	if err := e.debouncer.Sweep(ctx); err != nil {
		return err
	}
	if e.snapshot != nil {
		if err := e.snapshot.PublishObservations(ctx, observations); err != nil {
			metrics.IncStatusCacheError()
			e.logger.Warn("status snapshot failed",
				zap.String("monitor_type", cfg.MonitorType),
				zap.Error(err))
		}
	}
	return e.states.Touch(ctx, cfg.MonitorType, runtime)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
