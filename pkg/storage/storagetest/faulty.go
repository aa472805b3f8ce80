package storagetest

import (
	"context"
	"sync"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Operations that Faulty can be told to fail.
const (
	OpUpsertHourly    = "upsert_hourly_stats"
	OpUpsertSnapshots = "upsert_snapshots"
	OpUpsertSummaries = "upsert_daily_summaries"
	OpInsertAnomalies = "insert_anomalies"
	OpAppendFetchLog  = "append_fetch_log"
	OpQueryHourly     = "query_hourly_stats"
	OpRefreshViews    = "refresh_views"
	OpDeleteBefore    = "delete_before"
)

// Faulty wraps a Store and returns a StorageError from the operations listed
// with Fail. Everything else is delegated.
type Faulty struct {
	storage.Store

	mu    sync.Mutex
	Err   error
	fails map[string]bool
}

// NewFaulty wraps store. err is the cause reported by failing operations.
func NewFaulty(store storage.Store, err error) *Faulty {
	return &Faulty{Store: store, Err: err, fails: make(map[string]bool)}
}

// Fail makes the named operations fail until Heal is called.
func (f *Faulty) Fail(ops ...string) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		f.fails[op] = true
	}
	return f
}

// Heal clears every injected failure.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = make(map[string]bool)
}

func (f *Faulty) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[op] {
		return traffic.NewStorageError(op, f.Err)
	}
	return nil
}

func (f *Faulty) UpsertHourlyStats(ctx context.Context, stats []traffic.HourlyStat, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	if err := f.check(OpUpsertHourly); err != nil {
		return storage.WriteResult{}, err
	}
	return f.Store.UpsertHourlyStats(ctx, stats, policy)
}

func (f *Faulty) UpsertSnapshots(ctx context.Context, snaps []traffic.LiveSnapshot, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	if err := f.check(OpUpsertSnapshots); err != nil {
		return storage.WriteResult{}, err
	}
	return f.Store.UpsertSnapshots(ctx, snaps, policy)
}

func (f *Faulty) UpsertDailySummaries(ctx context.Context, sums []traffic.DailySummary, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	if err := f.check(OpUpsertSummaries); err != nil {
		return storage.WriteResult{}, err
	}
	return f.Store.UpsertDailySummaries(ctx, sums, policy)
}

func (f *Faulty) InsertAnomalies(ctx context.Context, anomalies []traffic.Anomaly) error {
	if err := f.check(OpInsertAnomalies); err != nil {
		return err
	}
	return f.Store.InsertAnomalies(ctx, anomalies)
}

func (f *Faulty) AppendFetchLog(ctx context.Context, entry traffic.FetchLogEntry) error {
	if err := f.check(OpAppendFetchLog); err != nil {
		return err
	}
	return f.Store.AppendFetchLog(ctx, entry)
}

func (f *Faulty) QueryHourlyStats(ctx context.Context, req storage.QueryRequest) ([]traffic.HourlyStat, error) {
	if err := f.check(OpQueryHourly); err != nil {
		return nil, err
	}
	return f.Store.QueryHourlyStats(ctx, req)
}

func (f *Faulty) RefreshViews(ctx context.Context) error {
	if err := f.check(OpRefreshViews); err != nil {
		return err
	}
	return f.Store.RefreshViews(ctx)
}

func (f *Faulty) DeleteBefore(ctx context.Context, opts storage.DeleteOptions) (int64, error) {
	if err := f.check(OpDeleteBefore); err != nil {
		return 0, err
	}
	return f.Store.DeleteBefore(ctx, opts)
}
