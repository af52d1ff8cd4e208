package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"spikealerts/internal/observability/metrics"
	pois "spikealerts/internal/pois/domain"
)

// POIStore persists the per-tier alert arrays and reports.
type POIStore interface {
	AttachNewAlerts(ctx context.Context, sensitive bool, sensorIDs []int64, radiusMeters float64) ([]int64, error)
	CacheEndedAlerts(ctx context.Context, sensitive bool, alertIDs []int64) error
	FindDue(ctx context.Context, sensitive bool, runtime time.Time, reportLag time.Duration) ([]int64, error)
	CreateReport(ctx context.Context, poiID int64, sensitive bool, runtime time.Time) (*pois.Report, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Aggregator propagates alert transitions onto places of interest and
// writes reports for POIs whose episode has settled past the lag.
type Aggregator struct {
	store     POIStore
	reportLag time.Duration
	clock     Clock
	logger    *zap.Logger
}

// AggregatorOption customizes the aggregator.
type AggregatorOption func(*Aggregator)

// WithClock assigns a clock.
func WithClock(clock Clock) AggregatorOption {
	return func(a *Aggregator) {
		a.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(store POIStore, reportLag time.Duration, opts ...AggregatorOption) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("pois: nil store")
	}
	if reportLag < 0 {
		return nil, errors.New("pois: negative report lag")
	}
	agg := &Aggregator{
		store:     store,
		reportLag: reportLag,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(agg)
	}
	return agg, nil
}

// Propagate pushes one cycle's ledger transitions onto the POI arrays.
// openedSensorIDs are the sensors whose alerts opened this cycle,
// closedAlertIDs the alert ids archived this cycle, radiusMeters the
// monitor type's propagation distance. Returns the POIs entering an
// alerted state for the first time, for notification.
func (a *Aggregator) Propagate(ctx context.Context, sensitive bool, openedSensorIDs, closedAlertIDs []int64, radiusMeters float64) ([]int64, error) {
	if a == nil {
		return nil, errors.New("pois: nil aggregator")
	}
	var newlyAlerted []int64
	if len(openedSensorIDs) > 0 {
		ids, err := a.store.AttachNewAlerts(ctx, sensitive, openedSensorIDs, radiusMeters)
		if err != nil {
			return nil, err
		}
		newlyAlerted = ids
	}
	if len(closedAlertIDs) > 0 {
		if err := a.store.CacheEndedAlerts(ctx, sensitive, closedAlertIDs); err != nil {
			return nil, err
		}
	}
	return newlyAlerted, nil
}

// GenerateDueReports writes a report for every settled POI in the tier.
// Each POI commits independently; a failing POI is logged and skipped so
// one bad row cannot hold up the rest of the scan.
func (a *Aggregator) GenerateDueReports(ctx context.Context, sensitive bool, runtime time.Time) ([]pois.Report, error) {
	if a == nil {
		return nil, errors.New("pois: nil aggregator")
	}
	if runtime.IsZero() {
		runtime = a.clock.Now().UTC()
	}
	due, err := a.store.FindDue(ctx, sensitive, runtime, a.reportLag)
	if err != nil {
		return nil, err
	}

	var reports []pois.Report
	for _, poiID := range due {
		report, err := a.store.CreateReport(ctx, poiID, sensitive, runtime)
		if err != nil {
			a.logger.Error("report generation failed",
				zap.Int64("poi_id", poiID),
				zap.Bool("sensitive", sensitive),
				zap.Error(err))
			continue
		}
		metrics.IncReport(sensitive)
		a.logger.Info("report written",
			zap.String("report_id", report.ReportID),
			zap.Int64("poi_id", poiID),
			zap.Bool("sensitive", sensitive))
		reports = append(reports, *report)
	}
	return reports, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
