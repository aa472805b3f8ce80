package storage

import (
	"context"
	"time"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Store defines the persistence contract for traffic data.
// Implementations: memory (testing), badger (embedded), sqlite (single file), postgres (production)
type Store interface {
	// UpsertHourlyStats writes hourly stats keyed by (hour, camera, vehicle type, direction)
	UpsertHourlyStats(ctx context.Context, stats []traffic.HourlyStat, policy ConflictPolicy) (WriteResult, error)

	// UpsertSnapshots writes live snapshots keyed by (snapshot_time, camera)
	UpsertSnapshots(ctx context.Context, snaps []traffic.LiveSnapshot, policy ConflictPolicy) (WriteResult, error)

	// UpsertDailySummaries writes daily summaries keyed by (date, camera)
	UpsertDailySummaries(ctx context.Context, sums []traffic.DailySummary, policy ConflictPolicy) (WriteResult, error)

	// InsertAnomalies appends anomaly rows
	InsertAnomalies(ctx context.Context, anomalies []traffic.Anomaly) error

	// AppendFetchLog appends one audit row
	AppendFetchLog(ctx context.Context, entry traffic.FetchLogEntry) error

	// QueryHourlyStats returns hourly stats ordered by hour, camera
	QueryHourlyStats(ctx context.Context, req QueryRequest) ([]traffic.HourlyStat, error)

	// QuerySnapshots returns snapshots ordered by snapshot time, camera
	QuerySnapshots(ctx context.Context, req QueryRequest) ([]traffic.LiveSnapshot, error)

	// QueryDailySummaries returns summaries ordered by date, camera
	QueryDailySummaries(ctx context.Context, req QueryRequest) ([]traffic.DailySummary, error)

	// QueryAnomalies returns anomalies ordered by detection time
	QueryAnomalies(ctx context.Context, req QueryRequest) ([]traffic.Anomaly, error)

	// QueryFetchLogs returns audit rows ordered by fetch time
	QueryFetchLogs(ctx context.Context, req QueryRequest) ([]traffic.FetchLogEntry, error)

	// RefreshViews refreshes derived views. Backends without views return nil.
	RefreshViews(ctx context.Context) error

	// DeleteBefore removes rows older than opts.Before and reports how many were removed
	DeleteBefore(ctx context.Context, opts DeleteOptions) (int64, error)

	// Stats returns row counts per table
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// ConflictPolicy decides what an upsert does when the natural key already exists.
type ConflictPolicy int

const (
	// Update overwrites every non-key field of the existing row
	Update ConflictPolicy = iota
	// Ignore keeps the existing row untouched
	Ignore
)

func (p ConflictPolicy) String() string {
	if p == Ignore {
		return "ignore"
	}
	return "update"
}

// WriteResult reports how an upsert batch was applied.
// Rows skipped under Ignore are counted in neither field.
type WriteResult struct {
	Inserted int
	Updated  int
}

// Add accumulates another result into r.
func (r *WriteResult) Add(o WriteResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
}

// Table names a persisted record type.
type Table string

const (
	TableHourlyStats    Table = "hourly_stats"
	TableSnapshots      Table = "live_snapshots"
	TableDailySummaries Table = "daily_summaries"
	TableAnomalies      Table = "anomalies"
	TableFetchLogs      Table = "fetch_logs"
)

// Tables lists every table in a stable order.
var Tables = []Table{TableHourlyStats, TableSnapshots, TableDailySummaries, TableAnomalies, TableFetchLogs}

// QueryRequest specifies which rows to retrieve
type QueryRequest struct {
	// Time range, [Start, End). Zero values leave that side open.
	Start time.Time
	End   time.Time

	// Filter by camera (optional)
	CameraID string

	// Limit number of results (0 = no limit)
	Limit int
}

// Contains reports whether t falls inside the request's time range.
func (r QueryRequest) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// DateRange returns the calendar-date bounds of the request in each bound's own
// location. An empty string leaves that side open.
func (r QueryRequest) DateRange() (from, to string) {
	if !r.Start.IsZero() {
		from = r.Start.Format(traffic.DateLayout)
	}
	if !r.End.IsZero() {
		to = r.End.Format(traffic.DateLayout)
	}
	return from, to
}

// ContainsDate reports whether a calendar date (YYYY-MM-DD) falls inside the
// request's date range.
func (r QueryRequest) ContainsDate(date string) bool {
	from, to := r.DateRange()
	if from != "" && date < from {
		return false
	}
	if to != "" && date >= to {
		return false
	}
	return true
}

// MatchesCamera reports whether id passes the camera filter.
func (r QueryRequest) MatchesCamera(id string) bool {
	return r.CameraID == "" || r.CameraID == id
}

// DeleteOptions selects rows for retention cleanup.
type DeleteOptions struct {
	// Table to clean. Empty means every table.
	Table Table

	// Rows with a time strictly before this are removed
	Before time.Time
}

// Includes reports whether the options cover table t.
func (o DeleteOptions) Includes(t Table) bool {
	return o.Table == "" || o.Table == t
}

// Stats provides storage health and usage info
type Stats struct {
	// Backend name (memory, badger, sqlite, postgres)
	Backend string `json:"backend"`

	// Row count per table
	Rows map[Table]uint64 `json:"rows"`

	// Newest snapshot time, zero when empty
	NewestSnapshot time.Time `json:"newest_snapshot"`
}
