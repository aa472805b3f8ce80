package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Storage keeps every table in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu sync.RWMutex

	hourly    *keyed[traffic.HourlyKey, traffic.HourlyStat]
	snapshots *keyed[traffic.SnapshotKey, traffic.LiveSnapshot]
	summaries *keyed[traffic.SummaryKey, traffic.DailySummary]
	anomalies []traffic.Anomaly
	fetchLogs []traffic.FetchLogEntry
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		hourly:    newKeyed[traffic.HourlyKey, traffic.HourlyStat](),
		snapshots: newKeyed[traffic.SnapshotKey, traffic.LiveSnapshot](),
		summaries: newKeyed[traffic.SummaryKey, traffic.DailySummary](),
	}
}

// keyed is an insertion-ordered map from natural key to row.
type keyed[K comparable, V any] struct {
	index map[K]int
	rows  []V
}

func newKeyed[K comparable, V any]() *keyed[K, V] {
	return &keyed[K, V]{index: make(map[K]int)}
}

func (k *keyed[K, V]) upsert(key K, v V, policy storage.ConflictPolicy, res *storage.WriteResult) {
	if i, ok := k.index[key]; ok {
		if policy == storage.Update {
			k.rows[i] = v
			res.Updated++
		}
		return
	}
	k.index[key] = len(k.rows)
	k.rows = append(k.rows, v)
	res.Inserted++
}

// retain keeps rows for which keep returns true and rebuilds the index.
func (k *keyed[K, V]) retain(keyOf func(V) K, keep func(V) bool) int64 {
	var removed int64
	rows := make([]V, 0, len(k.rows))
	index := make(map[K]int, len(k.rows))
	for _, r := range k.rows {
		if !keep(r) {
			removed++
			continue
		}
		index[keyOf(r)] = len(rows)
		rows = append(rows, r)
	}
	k.rows = rows
	k.index = index
	return removed
}

// UpsertHourlyStats stores hourly stats by natural key
func (s *Storage) UpsertHourlyStats(ctx context.Context, stats []traffic.HourlyStat, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	var res storage.WriteResult
	if err := ctx.Err(); err != nil {
		return res, traffic.NewStorageError("upsert hourly stats", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range stats {
		st.Hour = st.Hour.UTC()
		s.hourly.upsert(st.Key(), st, policy, &res)
	}
	return res, nil
}

// UpsertSnapshots stores live snapshots by natural key
func (s *Storage) UpsertSnapshots(ctx context.Context, snaps []traffic.LiveSnapshot, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	var res storage.WriteResult
	if err := ctx.Err(); err != nil {
		return res, traffic.NewStorageError("upsert snapshots", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sn := range snaps {
		sn.SnapshotTime = sn.SnapshotTime.UTC()
		s.snapshots.upsert(sn.Key(), sn, policy, &res)
	}
	return res, nil
}

// UpsertDailySummaries stores daily summaries by natural key
func (s *Storage) UpsertDailySummaries(ctx context.Context, sums []traffic.DailySummary, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	var res storage.WriteResult
	if err := ctx.Err(); err != nil {
		return res, traffic.NewStorageError("upsert daily summaries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range sums {
		d.Date = traffic.CalendarDate(d.Date)
		s.summaries.upsert(d.Key(), d, policy, &res)
	}
	return res, nil
}

// InsertAnomalies appends anomaly rows
func (s *Storage) InsertAnomalies(ctx context.Context, anomalies []traffic.Anomaly) error {
	if err := ctx.Err(); err != nil {
		return traffic.NewStorageError("insert anomalies", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.anomalies = append(s.anomalies, anomalies...)
	return nil
}

// AppendFetchLog appends one audit row
func (s *Storage) AppendFetchLog(ctx context.Context, entry traffic.FetchLogEntry) error {
	if err := ctx.Err(); err != nil {
		return traffic.NewStorageError("append fetch log", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchLogs = append(s.fetchLogs, entry)
	return nil
}

// QueryHourlyStats retrieves hourly stats matching the request
func (s *Storage) QueryHourlyStats(ctx context.Context, req storage.QueryRequest) ([]traffic.HourlyStat, error) {
	s.mu.RLock()
	results := filter(s.hourly.rows, req, func(h traffic.HourlyStat) (time.Time, string) { return h.Hour, h.CameraID })
	s.mu.RUnlock()

	storage.SortHourlyStats(results)
	return storage.Limit(results, req.Limit), nil
}

// QuerySnapshots retrieves snapshots matching the request
func (s *Storage) QuerySnapshots(ctx context.Context, req storage.QueryRequest) ([]traffic.LiveSnapshot, error) {
	s.mu.RLock()
	results := filter(s.snapshots.rows, req, func(l traffic.LiveSnapshot) (time.Time, string) { return l.SnapshotTime, l.CameraID })
	s.mu.RUnlock()

	storage.SortSnapshots(results)
	return storage.Limit(results, req.Limit), nil
}

// QueryDailySummaries retrieves summaries matching the request
func (s *Storage) QueryDailySummaries(ctx context.Context, req storage.QueryRequest) ([]traffic.DailySummary, error) {
	s.mu.RLock()
	var results []traffic.DailySummary
	for _, d := range s.summaries.rows {
		if req.ContainsDate(d.Key().Date) && req.MatchesCamera(d.CameraID) {
			results = append(results, d)
		}
	}
	s.mu.RUnlock()

	storage.SortDailySummaries(results)
	return storage.Limit(results, req.Limit), nil
}

// QueryAnomalies retrieves anomalies matching the request
func (s *Storage) QueryAnomalies(ctx context.Context, req storage.QueryRequest) ([]traffic.Anomaly, error) {
	s.mu.RLock()
	results := filter(s.anomalies, req, func(a traffic.Anomaly) (time.Time, string) { return a.DetectedAt, a.CameraID })
	s.mu.RUnlock()

	storage.SortAnomalies(results)
	return storage.Limit(results, req.Limit), nil
}

// QueryFetchLogs retrieves audit rows matching the request. CameraID is ignored.
func (s *Storage) QueryFetchLogs(ctx context.Context, req storage.QueryRequest) ([]traffic.FetchLogEntry, error) {
	req.CameraID = ""

	s.mu.RLock()
	results := filter(s.fetchLogs, req, func(e traffic.FetchLogEntry) (time.Time, string) { return e.FetchTime, "" })
	s.mu.RUnlock()

	storage.SortFetchLogs(results)
	return storage.Limit(results, req.Limit), nil
}

// RefreshViews is a no-op for memory storage
func (s *Storage) RefreshViews(ctx context.Context) error {
	return nil
}

// DeleteBefore removes rows older than opts.Before
func (s *Storage) DeleteBefore(ctx context.Context, opts storage.DeleteOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, traffic.NewStorageError("delete before", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	if opts.Includes(storage.TableHourlyStats) {
		removed += s.hourly.retain(traffic.HourlyStat.Key, func(h traffic.HourlyStat) bool {
			return !h.Hour.Before(opts.Before)
		})
	}
	if opts.Includes(storage.TableSnapshots) {
		removed += s.snapshots.retain(traffic.LiveSnapshot.Key, func(l traffic.LiveSnapshot) bool {
			return !l.SnapshotTime.Before(opts.Before)
		})
	}
	if opts.Includes(storage.TableDailySummaries) {
		cutoff := opts.Before.Format(traffic.DateLayout)
		removed += s.summaries.retain(traffic.DailySummary.Key, func(d traffic.DailySummary) bool {
			return d.Key().Date >= cutoff
		})
	}
	if opts.Includes(storage.TableAnomalies) {
		kept := s.anomalies[:0]
		for _, a := range s.anomalies {
			if a.DetectedAt.Before(opts.Before) {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		s.anomalies = kept
	}
	if opts.Includes(storage.TableFetchLogs) {
		kept := s.fetchLogs[:0]
		for _, e := range s.fetchLogs {
			if e.FetchTime.Before(opts.Before) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		s.fetchLogs = kept
	}
	return removed, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		Backend: "memory",
		Rows: map[storage.Table]uint64{
			storage.TableHourlyStats:    uint64(len(s.hourly.rows)),
			storage.TableSnapshots:      uint64(len(s.snapshots.rows)),
			storage.TableDailySummaries: uint64(len(s.summaries.rows)),
			storage.TableAnomalies:      uint64(len(s.anomalies)),
			storage.TableFetchLogs:      uint64(len(s.fetchLogs)),
		},
	}
	for _, sn := range s.snapshots.rows {
		if sn.SnapshotTime.After(stats.NewestSnapshot) {
			stats.NewestSnapshot = sn.SnapshotTime
		}
	}
	return stats, nil
}

// filter copies rows that pass the time range and camera filters.
func filter[T any](rows []T, req storage.QueryRequest, fields func(T) (time.Time, string)) []T {
	var results []T
	for _, r := range rows {
		t, cam := fields(r)
		if !req.Contains(t) || !req.MatchesCamera(cam) {
			continue
		}
		results = append(results, r)
	}
	return results
}
