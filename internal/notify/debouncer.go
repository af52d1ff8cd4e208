package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"spikealerts/internal/observability/metrics"
	pois "spikealerts/internal/pois/domain"
)

// SubscriberStore is the persistence the debouncer needs.
type SubscriberStore interface {
	ListUnalertedForAlertedPOIs(ctx context.Context, sensitive bool) ([]Candidate, error)
	ListAlertedForPOIs(ctx context.Context, sensitive bool, poiIDs []int64) ([]Candidate, error)
	MarkContacted(ctx context.Context, subscriberIDs []int64, alerted bool, at time.Time) error
	UnalertSettled(ctx context.Context, sensitive bool) (int64, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

const (
	eventStart = "start"
	eventEnd   = "end"
)

// Debouncer decides which subscribers get a message this cycle. State
// transitions and deliveries are per subscriber: one failing send never
// blocks the rest of the pass.
type Debouncer struct {
	store       SubscriberStore
	channel     Channel
	startTpl    *Template
	endTpl      *Template
	minInterval time.Duration
	location    *time.Location
	mapURL      string
	reportURL   string
	clock       Clock
	logger      *zap.Logger
}

// DebouncerOption customizes the debouncer.
type DebouncerOption func(*Debouncer)

// WithClock assigns a clock.
func WithClock(clock Clock) DebouncerOption {
	return func(d *Debouncer) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) DebouncerOption {
	return func(d *Debouncer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithLocation sets the timezone contact windows are evaluated in.
func WithLocation(loc *time.Location) DebouncerOption {
	return func(d *Debouncer) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithMapURL sets the public map link included in start messages.
func WithMapURL(url string) DebouncerOption {
	return func(d *Debouncer) {
		d.mapURL = url
	}
}

// WithReportURL sets the base link included in end messages.
func WithReportURL(url string) DebouncerOption {
	return func(d *Debouncer) {
		d.reportURL = url
	}
}

// WithTemplates overrides the default message templates.
func WithTemplates(start, end *Template) DebouncerOption {
	return func(d *Debouncer) {
		if start != nil {
			d.startTpl = start
		}
		if end != nil {
			d.endTpl = end
		}
	}
}

// NewDebouncer constructs a debouncer.
func NewDebouncer(store SubscriberStore, channel Channel, minInterval time.Duration, opts ...DebouncerOption) (*Debouncer, error) {
	if store == nil {
		return nil, errors.New("notify: nil store")
	}
	if channel == nil {
		return nil, errors.New("notify: nil channel")
	}
	if minInterval < 0 {
		return nil, errors.New("notify: negative min interval")
	}
	startTpl, err := NewTemplate("alert-start", DefaultStartTemplate)
	if err != nil {
		return nil, err
	}
	endTpl, err := NewTemplate("alert-end", DefaultEndTemplate)
	if err != nil {
		return nil, err
	}
	d := &Debouncer{
		store:       store,
		channel:     channel,
		startTpl:    startTpl,
		endTpl:      endTpl,
		minInterval: minInterval,
		location:    time.UTC,
		clock:       systemClock{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// StartPass messages the unalerted subscribers of every POI currently
// holding an active alert in the tier. The scan covers the whole tier each
// cycle, so a subscriber outside their contact window or messaged too
// recently when the POI first alerted is retried as long as the POI stays
// alerted.
func (d *Debouncer) StartPass(ctx context.Context, sensitive bool, runtime time.Time) error {
	if d == nil {
		return errors.New("notify: nil debouncer")
	}
	if runtime.IsZero() {
		runtime = d.clock.Now().UTC()
	}
	candidates, err := d.store.ListUnalertedForAlertedPOIs(ctx, sensitive)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	var messaged []int64
	for _, c := range candidates {
		if !c.InContactWindow(runtime, d.location) || !c.ContactAllowed(runtime, d.minInterval) {
			continue
		}
		content, err := d.startTpl.Render(TemplateData{POIName: c.POIName, MapURL: d.mapURL})
		if err != nil {
			return err
		}
		if err := d.channel.Send(ctx, c.ContactMethod, c.APIID, content); err != nil {
			metrics.IncNotification(eventStart, metrics.ResultError)
			d.logger.Error("start message delivery failed",
				zap.Int64("subscriber_id", c.ID),
				zap.Error(err))
			continue
		}
		metrics.IncNotification(eventStart, metrics.ResultSuccess)
		messaged = append(messaged, c.ID)
	}
	return d.store.MarkContacted(ctx, messaged, true, runtime)
}

// EndPass messages the alerted subscribers of POIs that got a report this
// cycle. Subscribers the pass cannot reach right now keep their alerted
// flag; the sweep clears it once their POI has fully settled.
func (d *Debouncer) EndPass(ctx context.Context, sensitive bool, reports []pois.Report, runtime time.Time) error {
	if d == nil {
		return errors.New("notify: nil debouncer")
	}
	if len(reports) == 0 {
		return nil
	}
	if runtime.IsZero() {
		runtime = d.clock.Now().UTC()
	}

	byPOI := make(map[int64]pois.Report, len(reports))
	poiIDs := make([]int64, 0, len(reports))
	for _, report := range reports {
		byPOI[report.POIID] = report
		poiIDs = append(poiIDs, report.POIID)
	}

	candidates, err := d.store.ListAlertedForPOIs(ctx, sensitive, poiIDs)
	if err != nil {
		return err
	}

	var messaged []int64
	for _, c := range candidates {
		if !c.InContactWindow(runtime, d.location) || !c.ContactAllowed(runtime, d.minInterval) {
			continue
		}
		report, ok := byPOI[c.POIID]
		if !ok {
			continue
		}
		content, err := d.endTpl.Render(TemplateData{
			ReportID:        report.ReportID,
			ReportURL:       d.reportURL,
			DurationMinutes: report.DurationMinutes,
		})
		if err != nil {
			return err
		}
		if err := d.channel.Send(ctx, c.ContactMethod, c.APIID, content); err != nil {
			metrics.IncNotification(eventEnd, metrics.ResultError)
			d.logger.Error("end message delivery failed",
				zap.Int64("subscriber_id", c.ID),
				zap.Error(err))
			continue
		}
		metrics.IncNotification(eventEnd, metrics.ResultSuccess)
		messaged = append(messaged, c.ID)
	}
	return d.store.MarkContacted(ctx, messaged, false, runtime)
}

// Sweep clears the alerted flag on subscribers whose POI has settled in
// both arrays of their tier, without sending a message. This catches
// reports written entirely outside a subscriber's contact hours.
func (d *Debouncer) Sweep(ctx context.Context) error {
	if d == nil {
		return errors.New("notify: nil debouncer")
	}
	for _, sensitive := range []bool{false, true} {
		count, err := d.store.UnalertSettled(ctx, sensitive)
		if err != nil {
			return err
		}
		if count > 0 {
			d.logger.Info("swept stale alerted subscribers",
				zap.Bool("sensitive", sensitive),
				zap.Int64("count", count))
		}
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
