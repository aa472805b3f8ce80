// Package ingest runs the fetch-then-upsert jobs for live snapshots and
// hourly stats.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/trafficwatch/pkg/anomaly"
	"github.com/nicktill/trafficwatch/pkg/audit"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/notify"
	"github.com/nicktill/trafficwatch/pkg/sideeffect"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
	"github.com/nicktill/trafficwatch/pkg/upstream"
)

// Result describes one ingestion run.
type Result struct {
	Date              string   `json:"date,omitempty"`
	RecordsFetched    int      `json:"records_fetched"`
	RecordsInserted   int      `json:"records_inserted"`
	RecordsUpdated    int      `json:"records_updated"`
	RecordsFailed     int      `json:"records_failed"`
	AnomaliesDetected int      `json:"anomalies_detected,omitempty"`
	AnomaliesStored   int      `json:"anomalies_stored,omitempty"`
	Problems          []string `json:"problems,omitempty"`
	Warnings          []string `json:"warnings,omitempty"` // failed side effects
	ResponseTimeMS    int64    `json:"response_time_ms"`
}

func (r Result) counts() audit.Counts {
	return audit.Counts{
		Fetched:  r.RecordsFetched,
		Inserted: r.RecordsInserted,
		Updated:  r.RecordsUpdated,
		Failed:   r.RecordsFailed,
	}
}

func (r Result) details() map[string]any {
	details := make(map[string]any, 3)
	if len(r.Problems) > 0 {
		details["rejected"] = r.Problems
	}
	if len(r.Warnings) > 0 {
		details["warnings"] = r.Warnings
		details["anomalies_stored"] = r.AnomaliesStored
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// Ingester pulls records from the camera API into storage.
type Ingester struct {
	fetcher  upstream.Fetcher
	store    storage.Store
	recorder *audit.Recorder
	notifier notify.Notifier
	l        *logger.Logger
	now      func() time.Time
}

// New creates an ingester. A nil notifier disables anomaly fan-out.
func New(fetcher upstream.Fetcher, store storage.Store, recorder *audit.Recorder, notifier notify.Notifier, l *logger.Logger) *Ingester {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ingester{
		fetcher:  fetcher,
		store:    store,
		recorder: recorder,
		notifier: notifier,
		l:        l,
		now:      time.Now,
	}
}

// IngestLive fetches the current snapshots, upserts them, then detects,
// stores and publishes anomalies. Exactly one fetch log entry is written.
func (in *Ingester) IngestLive(ctx context.Context) (Result, error) {
	var res Result
	timer := prometheus.NewTimer(runDuration.WithLabelValues(audit.EndpointLive))
	defer timer.ObserveDuration()

	run := in.recorder.Start(audit.EndpointLive)

	fetched, err := in.fetcher.FetchLiveSnapshots(ctx)
	if err == nil {
		err = checkVolume(fetched.Fetched)
	}
	if err != nil {
		return in.fail(ctx, run, audit.EndpointLive, res, fmt.Errorf("failed to fetch live snapshots: %w", err))
	}
	res.RecordsFetched = fetched.Fetched
	res.RecordsFailed = fetched.Failed
	res.Problems = fetched.ProblemStrings()

	snaps := Dedupe(fetched.Records, traffic.LiveSnapshot.Key)

	written, err := in.store.UpsertSnapshots(ctx, snaps, storage.Update)
	if err != nil {
		return in.fail(ctx, run, audit.EndpointLive, res, fmt.Errorf("failed to upsert snapshots: %w", err))
	}
	res.RecordsInserted = written.Inserted
	res.RecordsUpdated = written.Updated

	anomalies := anomaly.DetectAll(snaps, in.now())
	res.AnomaliesDetected = len(anomalies)
	if len(anomalies) > 0 {
		observeAnomalies(anomalies)
		if err := sideeffect.Fire(ctx, in.l, "insert_anomalies", func(ctx context.Context) error {
			return in.store.InsertAnomalies(ctx, anomalies)
		}); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("anomalies not stored: %v", err))
		} else {
			res.AnomaliesStored = len(anomalies)
		}
		name := "notify_" + in.notifier.Name()
		if err := sideeffect.Fire(ctx, in.l, name, func(ctx context.Context) error {
			return in.notifier.Publish(ctx, anomalies)
		}); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s failed: %v", name, err))
		}
	}

	return in.succeed(ctx, run, audit.EndpointLive, res), nil
}

// IngestHourly fetches hourly stats, optionally for a YYYY-MM-DD backfill
// date, and upserts them. Exactly one fetch log entry is written.
func (in *Ingester) IngestHourly(ctx context.Context, date string) (Result, error) {
	res := Result{Date: date}
	timer := prometheus.NewTimer(runDuration.WithLabelValues(audit.EndpointHourly))
	defer timer.ObserveDuration()

	run := in.recorder.Start(audit.EndpointHourly)

	if err := ValidateDate(date); err != nil {
		return in.fail(ctx, run, audit.EndpointHourly, res, err)
	}

	fetched, err := in.fetcher.FetchHourlyStats(ctx, date)
	if err == nil {
		err = checkVolume(fetched.Fetched)
	}
	if err != nil {
		return in.fail(ctx, run, audit.EndpointHourly, res, fmt.Errorf("failed to fetch hourly stats: %w", err))
	}
	res.RecordsFetched = fetched.Fetched
	res.RecordsFailed = fetched.Failed
	res.Problems = fetched.ProblemStrings()

	stats := Dedupe(fetched.Records, traffic.HourlyStat.Key)

	written, err := in.store.UpsertHourlyStats(ctx, stats, storage.Update)
	if err != nil {
		return in.fail(ctx, run, audit.EndpointHourly, res, fmt.Errorf("failed to upsert hourly stats: %w", err))
	}
	res.RecordsInserted = written.Inserted
	res.RecordsUpdated = written.Updated

	return in.succeed(ctx, run, audit.EndpointHourly, res), nil
}

func (in *Ingester) succeed(ctx context.Context, run *audit.Run, endpoint string, res Result) Result {
	entry := run.Success(ctx, res.counts(), res.details())
	res.ResponseTimeMS = entry.ResponseTimeMS

	runsTotal.WithLabelValues(endpoint, string(traffic.StatusSuccess)).Inc()
	observeRecords(endpoint, res)

	in.l.Info("ingestion finished", map[string]any{
		"endpoint":  endpoint,
		"fetched":   res.RecordsFetched,
		"inserted":  res.RecordsInserted,
		"updated":   res.RecordsUpdated,
		"failed":    res.RecordsFailed,
		"anomalies": res.AnomaliesDetected,
		"took_ms":   res.ResponseTimeMS,
	})
	return res
}

func (in *Ingester) fail(ctx context.Context, run *audit.Run, endpoint string, res Result, err error) (Result, error) {
	entry := run.Failure(ctx, res.counts(), err)
	res.ResponseTimeMS = entry.ResponseTimeMS

	runsTotal.WithLabelValues(endpoint, string(traffic.StatusError)).Inc()
	in.l.Error(err, map[string]any{"endpoint": endpoint, "took_ms": res.ResponseTimeMS})
	return res, err
}
