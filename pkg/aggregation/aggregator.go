package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicktill/trafficwatch/pkg/audit"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/sideeffect"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

var (
	summariesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trafficwatch_daily_summaries_written_total",
		Help: "Daily summaries upserted by the aggregator.",
	})
	aggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trafficwatch_daily_aggregation_duration_seconds",
		Help:    "Duration of a daily aggregation run.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)

// Result describes one aggregation run.
type Result struct {
	Date             string `json:"date"`
	HourlyRows       int    `json:"hourly_rows"`
	SummariesCreated int    `json:"summaries_created"`
	Inserted         int    `json:"records_inserted"`
	Updated          int    `json:"records_updated"`
	RefreshWarning   string `json:"refresh_warning,omitempty"`
	ResponseTimeMS   int64  `json:"response_time_ms"`
}

// Aggregator turns stored hourly stats into daily summaries.
type Aggregator struct {
	store    storage.Store
	recorder *audit.Recorder
	l        *logger.Logger
	loc      *time.Location
	now      func() time.Time
}

// New creates an aggregator working in loc.
func New(store storage.Store, recorder *audit.Recorder, l *logger.Logger, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		store:    store,
		recorder: recorder,
		l:        l,
		loc:      loc,
		now:      time.Now,
	}
}

// Yesterday returns the default aggregation date relative to now.
func (a *Aggregator) Yesterday() time.Time {
	y, m, d := a.now().In(a.loc).AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.loc)
}

// ParseDate reads a YYYY-MM-DD date as midnight in the aggregator's location.
// An empty string means yesterday.
func (a *Aggregator) ParseDate(s string) (time.Time, error) {
	if s == "" {
		return a.Yesterday(), nil
	}
	t, err := time.ParseInLocation(traffic.DateLayout, s, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", traffic.ErrInvalidDate, s)
	}
	return t, nil
}

// AggregateDate parses a YYYY-MM-DD date (empty means yesterday) and
// aggregates it. A bad date is audited as a failed run like any other.
func (a *Aggregator) AggregateDate(ctx context.Context, date string) (Result, error) {
	day, err := a.ParseDate(date)
	if err != nil {
		run := a.recorder.Start(audit.EndpointDaily)
		res := Result{Date: date}
		res.ResponseTimeMS = run.Failure(ctx, audit.Counts{}, err).ResponseTimeMS
		a.l.Error(err, map[string]any{"date": date})
		return res, err
	}
	return a.AggregateDay(ctx, day)
}

// AggregateDay summarizes every camera's hourly stats for date and upserts
// the summaries. Exactly one fetch log entry is written per call.
func (a *Aggregator) AggregateDay(ctx context.Context, date time.Time) (Result, error) {
	start, end := DayBounds(date, a.loc)
	res := Result{Date: start.Format(traffic.DateLayout)}

	timer := prometheus.NewTimer(aggregationDuration)
	defer timer.ObserveDuration()

	run := a.recorder.Start(audit.EndpointDaily)

	a.l.Info("daily aggregation started", map[string]any{"date": res.Date})

	rows, err := a.store.QueryHourlyStats(ctx, storage.QueryRequest{Start: start, End: end})
	if err != nil {
		err = fmt.Errorf("failed to query hourly stats for %s: %w", res.Date, err)
		res.ResponseTimeMS = run.Failure(ctx, audit.Counts{}, err).ResponseTimeMS
		a.l.Error(err, map[string]any{"date": res.Date})
		return res, err
	}
	res.HourlyRows = len(rows)

	summaries := Summarize(start, rows, a.loc)
	if len(summaries) == 0 {
		entry := run.Success(ctx, audit.Counts{}, nil)
		res.ResponseTimeMS = entry.ResponseTimeMS
		a.l.Info("daily aggregation found no hourly data", map[string]any{"date": res.Date})
		return res, nil
	}

	written, err := a.store.UpsertDailySummaries(ctx, summaries, storage.Update)
	if err != nil {
		err = fmt.Errorf("failed to upsert daily summaries for %s: %w", res.Date, err)
		res.ResponseTimeMS = run.Failure(ctx, audit.Counts{Fetched: len(rows)}, err).ResponseTimeMS
		a.l.Error(err, map[string]any{"date": res.Date, "summaries": len(summaries)})
		return res, err
	}
	res.SummariesCreated = len(summaries)
	res.Inserted = written.Inserted
	res.Updated = written.Updated
	summariesWritten.Add(float64(len(summaries)))

	if err := sideeffect.Fire(ctx, a.l, "refresh_views", a.store.RefreshViews); err != nil {
		res.RefreshWarning = err.Error()
	}

	entry := run.Success(ctx, audit.Counts{
		Fetched:  len(rows),
		Inserted: written.Inserted,
		Updated:  written.Updated,
	}, nil)
	res.ResponseTimeMS = entry.ResponseTimeMS

	a.l.Info("daily aggregation finished", map[string]any{
		"date":      res.Date,
		"rows":      len(rows),
		"summaries": len(summaries),
		"inserted":  written.Inserted,
		"updated":   written.Updated,
		"took_ms":   entry.ResponseTimeMS,
	})
	return res, nil
}
