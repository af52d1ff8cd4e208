package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alerts "spikealerts/internal/alerts/domain"
	"spikealerts/internal/observability/metrics"
	"spikealerts/internal/sensors/domain"
	"spikealerts/internal/spikes"
)

// AlertStore persists active and archived alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *alerts.ActiveAlert) error
	ActiveSensorIDs(ctx context.Context, sensitive bool, sensorIDs []int64) ([]int64, error)
	Extend(ctx context.Context, sensorID int64, sensitive bool, reading float64, runtime time.Time) (*alerts.ActiveAlert, error)
	Close(ctx context.Context, sensorID int64, sensitive bool) (*alerts.ArchivedAlert, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// LedgerResult reports the ledger changes of one cycle for downstream
// propagation. Opened holds newly created alerts, Closed the archived
// records of alerts ended this cycle.
type LedgerResult struct {
	Opened []alerts.ActiveAlert
	Closed []alerts.ArchivedAlert
}

// Ledger applies tier classifications to the alert tables.
type Ledger struct {
	store  AlertStore
	clock  Clock
	logger *zap.Logger
}

// LedgerOption customizes the ledger.
type LedgerOption func(*Ledger)

// WithClock assigns a clock.
func WithClock(clock Clock) LedgerOption {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger constructs an alert ledger.
func NewLedger(store AlertStore, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("alerts: nil store")
	}
	ledger := &Ledger{
		store:  store,
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger, nil
}

// ActiveSensorIDs returns the subset of polled sensors holding an open
// alert on the given tier, as a set for the classifier.
func (l *Ledger) ActiveSensorIDs(ctx context.Context, sensitive bool, polled []int64) (spikes.IDSet, error) {
	if l == nil {
		return nil, errors.New("alerts: nil ledger")
	}
	if len(polled) == 0 {
		return spikes.IDSet{}, nil
	}
	ids, err := l.store.ActiveSensorIDs(ctx, sensitive, polled)
	if err != nil {
		return nil, err
	}
	return spikes.NewIDSet(ids...), nil
}

// Apply transitions the alert tables according to a classification.
// New sensors open alerts, ongoing ones extend, ended ones close and
// archive. Readings are looked up in the cycle's observations.
func (l *Ledger) Apply(ctx context.Context, cls spikes.Classification, observations []sensors.Observation, runtime time.Time) (*LedgerResult, error) {
	if l == nil {
		return nil, errors.New("alerts: nil ledger")
	}
	if runtime.IsZero() {
		runtime = l.clock.Now().UTC()
	}

	byID := make(map[int64]sensors.Observation, len(observations))
	for _, obs := range observations {
		byID[obs.SensorID] = obs
	}

	result := &LedgerResult{}

	for _, sensorID := range cls.New.Sorted() {
		obs, ok := byID[sensorID]
		if !ok {
			l.logger.Error("classified sensor missing observation",
				zap.Int64("sensor_id", sensorID),
				zap.Bool("sensitive", cls.Sensitive))
			metrics.IncInvariantViolation("missing_observation")
			continue
		}
		alert := alerts.NewActiveAlert(sensorID, cls.Sensitive, obs.Reading, obs.UpdateFrequency, runtime)
		if err := l.store.Create(ctx, &alert); err != nil {
			if errors.Is(err, alerts.ErrDuplicateAlert) {
				l.logger.Error("alert already open for new spike",
					zap.Int64("sensor_id", sensorID),
					zap.Bool("sensitive", cls.Sensitive))
				metrics.IncInvariantViolation("duplicate_alert")
				continue
			}
			return nil, err
		}
		metrics.IncAlertEvent(metrics.AlertEventOpened, cls.Sensitive)
		result.Opened = append(result.Opened, alert)
	}

	for _, sensorID := range cls.Ongoing.Sorted() {
		obs, ok := byID[sensorID]
		if !ok {
			l.logger.Error("classified sensor missing observation",
				zap.Int64("sensor_id", sensorID),
				zap.Bool("sensitive", cls.Sensitive))
			metrics.IncInvariantViolation("missing_observation")
			continue
		}
		if _, err := l.store.Extend(ctx, sensorID, cls.Sensitive, obs.Reading, runtime); err != nil {
			if errors.Is(err, alerts.ErrNotFound) {
				l.logger.Error("ongoing spike has no open alert",
					zap.Int64("sensor_id", sensorID),
					zap.Bool("sensitive", cls.Sensitive))
				metrics.IncInvariantViolation("extend_missing")
				continue
			}
			return nil, err
		}
		metrics.IncAlertEvent(metrics.AlertEventExtended, cls.Sensitive)
	}

	for _, sensorID := range cls.Ended.Sorted() {
		archived, err := l.store.Close(ctx, sensorID, cls.Sensitive)
		if err != nil {
			return nil, err
		}
		if archived == nil {
			continue
		}
		metrics.IncAlertEvent(metrics.AlertEventClosed, cls.Sensitive)
		result.Closed = append(result.Closed, *archived)
	}

	return result, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
