// Package audit writes the fetch log: one row per ingestion or aggregation
// invocation, success or failure.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/sideeffect"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Endpoints recorded in the fetch log.
const (
	EndpointLive   = "live_snapshots"
	EndpointHourly = "hourly_stats"
	EndpointDaily  = "daily_aggregation"
)

// Counts are the record tallies of one invocation.
type Counts struct {
	Fetched  int
	Inserted int
	Updated  int
	Failed   int
}

// Recorder appends fetch log entries.
type Recorder struct {
	store storage.Store
	l     *logger.Logger
	now   func() time.Time
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store storage.Store, l *logger.Logger) *Recorder {
	return &Recorder{store: store, l: l, now: time.Now}
}

// Run measures one invocation from Start until Success or Failure.
type Run struct {
	r        *Recorder
	endpoint string
	started  time.Time
}

// Start begins timing an invocation against endpoint.
func (r *Recorder) Start(endpoint string) *Run {
	return &Run{r: r, endpoint: endpoint, started: r.now()}
}

// Success records a successful invocation. details may be nil.
func (run *Run) Success(ctx context.Context, c Counts, details map[string]any) traffic.FetchLogEntry {
	entry := run.entry(traffic.StatusSuccess, c)
	if len(details) > 0 {
		entry.ErrorDetails = details
	}
	run.r.append(ctx, entry)
	return entry
}

// Failure records a failed invocation with the error's message and details.
func (run *Run) Failure(ctx context.Context, c Counts, err error) traffic.FetchLogEntry {
	entry := run.entry(traffic.StatusError, c)
	entry.ErrorMessage = err.Error()
	entry.ErrorDetails = ErrorDetails(err)
	run.r.append(ctx, entry)
	return entry
}

func (run *Run) entry(status traffic.FetchStatus, c Counts) traffic.FetchLogEntry {
	now := run.r.now()
	return traffic.FetchLogEntry{
		FetchTime:       now,
		Endpoint:        run.endpoint,
		Status:          status,
		RecordsFetched:  c.Fetched,
		RecordsInserted: c.Inserted,
		RecordsUpdated:  c.Updated,
		RecordsFailed:   c.Failed,
		ResponseTimeMS:  now.Sub(run.started).Milliseconds(),
	}
}

// append writes the entry even if ctx was cancelled mid-invocation. A failed
// write is only logged.
func (r *Recorder) append(ctx context.Context, entry traffic.FetchLogEntry) {
	_ = sideeffect.Fire(context.WithoutCancel(ctx), r.l, "fetch_log", func(ctx context.Context) error {
		return r.store.AppendFetchLog(ctx, entry)
	})
}

// ErrorDetails classifies err for the error_details column.
func ErrorDetails(err error) map[string]any {
	var (
		upErr *traffic.UpstreamError
		stErr *traffic.StorageError
	)
	switch {
	case errors.As(err, &upErr):
		return map[string]any{
			"kind":        "upstream",
			"endpoint":    upErr.Endpoint,
			"status_code": upErr.StatusCode,
		}
	case errors.As(err, &stErr):
		return map[string]any{
			"kind": "storage",
			"op":   stErr.Op,
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return map[string]any{"kind": "cancelled"}
	default:
		return map[string]any{"kind": "internal"}
	}
}
