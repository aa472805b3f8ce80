// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises a backend against the shared contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"HourlyUpsertIsIdempotent", testHourlyUpsertIsIdempotent},
		{"HourlyConflictPolicies", testHourlyConflictPolicies},
		{"HourlyNullConfidence", testHourlyNullConfidence},
		{"SnapshotRangeIsHalfOpen", testSnapshotRangeIsHalfOpen},
		{"SnapshotCameraFilterAndLimit", testSnapshotCameraFilterAndLimit},
		{"SnapshotIgnoreKeepsExisting", testSnapshotIgnoreKeepsExisting},
		{"DailySummaryUpsert", testDailySummaryUpsert},
		{"AnomaliesAppend", testAnomaliesAppend},
		{"FetchLogAppend", testFetchLogAppend},
		{"DeleteBefore", testDeleteBefore},
		{"StatsAndRefresh", testStatsAndRefresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

func hourlyBatch() []traffic.HourlyStat {
	return []traffic.HourlyStat{
		{Hour: base.Add(9 * time.Hour), CameraID: "cam-1", VehicleType: traffic.Car, Direction: traffic.In, Count: 40, AvgConfidence: ptr(0.9)},
		{Hour: base.Add(9 * time.Hour), CameraID: "cam-1", VehicleType: traffic.Car, Direction: traffic.Out, Count: 35, AvgConfidence: ptr(0.8)},
		{Hour: base.Add(10 * time.Hour), CameraID: "cam-2", VehicleType: traffic.Truck, Direction: traffic.In, Count: 3, AvgConfidence: ptr(0.7)},
	}
}

func testHourlyUpsertIsIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	batch := hourlyBatch()

	res, err := s.UpsertHourlyStats(ctx, batch, storage.Update)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Inserted: 3}, res)

	first, err := s.QueryHourlyStats(ctx, storage.QueryRequest{})
	require.NoError(t, err)

	res, err = s.UpsertHourlyStats(ctx, batch, storage.Update)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Updated: 3}, res)

	second, err := s.QueryHourlyStats(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, second, 3)

	for i := range first {
		assert.True(t, first[i].Hour.Equal(second[i].Hour))
		assert.Equal(t, first[i].Key(), second[i].Key())
		assert.Equal(t, first[i].Count, second[i].Count)
	}

	// ordered by hour, then camera
	assert.Equal(t, "cam-1", second[0].CameraID)
	assert.Equal(t, "cam-2", second[2].CameraID)
}

func testHourlyConflictPolicies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.UpsertHourlyStats(ctx, hourlyBatch(), storage.Update)
	require.NoError(t, err)

	changed := hourlyBatch()[:1]
	changed[0].Count = 99

	res, err := s.UpsertHourlyStats(ctx, changed, storage.Ignore)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{}, res)

	got, err := s.QueryHourlyStats(ctx, storage.QueryRequest{CameraID: "cam-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(40), got[0].Count)

	res, err = s.UpsertHourlyStats(ctx, changed, storage.Update)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Updated: 1}, res)

	got, err = s.QueryHourlyStats(ctx, storage.QueryRequest{CameraID: "cam-1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(99), got[0].Count)
}

func testHourlyNullConfidence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	stat := traffic.HourlyStat{Hour: base, CameraID: "cam-3", VehicleType: traffic.Bus, Direction: traffic.Out, Count: 1}

	_, err := s.UpsertHourlyStats(ctx, []traffic.HourlyStat{stat}, storage.Update)
	require.NoError(t, err)

	got, err := s.QueryHourlyStats(ctx, storage.QueryRequest{CameraID: "cam-3"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].AvgConfidence)
}

func snapshot(at time.Time, cam string, carIn, carOut int64) traffic.LiveSnapshot {
	s := traffic.NewLiveSnapshot(at, cam, carIn, carOut, 0, 0, 0, 0)
	s.AvgConfidence = 0.85
	return s
}

func testSnapshotRangeIsHalfOpen(t *testing.T, s storage.Store) {
	ctx := context.Background()
	snaps := []traffic.LiveSnapshot{
		snapshot(base, "cam-1", 5, 5),
		snapshot(base.Add(5*time.Minute), "cam-1", 6, 4),
		snapshot(base.Add(10*time.Minute), "cam-1", 7, 3),
	}
	_, err := s.UpsertSnapshots(ctx, snaps, storage.Update)
	require.NoError(t, err)

	got, err := s.QuerySnapshots(ctx, storage.QueryRequest{Start: base, End: base.Add(10 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].SnapshotTime.Equal(base))
	assert.Equal(t, int64(6), got[1].CarIn)
	assert.Equal(t, int64(6), got[1].TotalIn)
	assert.Equal(t, int64(4), got[1].TotalOut)
	assert.InDelta(t, 0.85, got[1].AvgConfidence, 1e-9)
}

func testSnapshotCameraFilterAndLimit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	snaps := []traffic.LiveSnapshot{
		snapshot(base, "cam-1", 1, 1),
		snapshot(base, "cam-2", 2, 2),
		snapshot(base.Add(5*time.Minute), "cam-2", 3, 3),
	}
	_, err := s.UpsertSnapshots(ctx, snaps, storage.Update)
	require.NoError(t, err)

	got, err := s.QuerySnapshots(ctx, storage.QueryRequest{CameraID: "cam-2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QuerySnapshots(ctx, storage.QueryRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cam-1", got[0].CameraID)
	assert.Equal(t, "cam-2", got[1].CameraID)
}

func testSnapshotIgnoreKeepsExisting(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.UpsertSnapshots(ctx, []traffic.LiveSnapshot{snapshot(base, "cam-1", 1, 1)}, storage.Ignore)
	require.NoError(t, err)

	res, err := s.UpsertSnapshots(ctx, []traffic.LiveSnapshot{
		snapshot(base, "cam-1", 50, 50),
		snapshot(base, "cam-9", 2, 2),
	}, storage.Ignore)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Inserted: 1}, res)

	got, err := s.QuerySnapshots(ctx, storage.QueryRequest{CameraID: "cam-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].CarIn)
}

func testDailySummaryUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sum := traffic.DailySummary{
		Date:             base,
		CameraID:         "cam-1",
		CarInTotal:       100,
		CarOutTotal:      80,
		TotalIn:          100,
		TotalOut:         80,
		PeakHourIn:       14,
		PeakHourOut:      18,
		PeakHourValue:    30,
		HoursWithData:    12,
		DataCompleteness: 50,
	}
	next := sum
	next.Date = base.AddDate(0, 0, 1)
	next.AvgConfidence = ptr(0.75)

	res, err := s.UpsertDailySummaries(ctx, []traffic.DailySummary{sum, next}, storage.Update)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Inserted: 2}, res)

	sum.HoursWithData = 24
	sum.DataCompleteness = 100
	res, err = s.UpsertDailySummaries(ctx, []traffic.DailySummary{sum}, storage.Update)
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Updated: 1}, res)

	got, err := s.QueryDailySummaries(ctx, storage.QueryRequest{Start: base, End: base.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-03-01", got[0].Date.Format(traffic.DateLayout))
	assert.Equal(t, 24, got[0].HoursWithData)
	assert.InDelta(t, 100.0, got[0].DataCompleteness, 1e-9)
	assert.Equal(t, 14, got[0].PeakHourIn)
	assert.Nil(t, got[0].AvgConfidence)

	all, err := s.QueryDailySummaries(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[1].AvgConfidence)
	assert.InDelta(t, 0.75, *all[1].AvgConfidence, 1e-9)
}

func testAnomaliesAppend(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := traffic.Anomaly{
		DetectedAt:          base.Add(time.Hour),
		CameraID:            "cam-1",
		AnomalyType:         traffic.Congestion,
		Severity:            traffic.SeverityMedium,
		ReferencePeriod:     "5min",
		MetricName:          "net_flow",
		MetricValue:         40,
		ThresholdValue:      30,
		DeviationPercentage: 33.33,
		Metadata:            map[string]any{"total_in": 50},
	}
	require.NoError(t, s.InsertAnomalies(ctx, []traffic.Anomaly{a}))
	require.NoError(t, s.InsertAnomalies(ctx, []traffic.Anomaly{a}))

	got, err := s.QueryAnomalies(ctx, storage.QueryRequest{CameraID: "cam-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, traffic.Congestion, got[0].AnomalyType)
	assert.Equal(t, traffic.SeverityMedium, got[0].Severity)
	assert.InDelta(t, 33.33, got[0].DeviationPercentage, 1e-9)
	assert.EqualValues(t, 50, got[0].Metadata["total_in"])
}

func testFetchLogAppend(t *testing.T, s storage.Store) {
	ctx := context.Background()
	entries := []traffic.FetchLogEntry{
		{FetchTime: base, Endpoint: "/snapshots/live", Status: traffic.StatusSuccess, RecordsFetched: 2, RecordsInserted: 2, ResponseTimeMS: 12},
		{FetchTime: base.Add(time.Minute), Endpoint: "/stats/hourly", Status: traffic.StatusError, ErrorMessage: "boom",
			ErrorDetails: map[string]any{"status_code": 503}},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendFetchLog(ctx, e))
	}

	got, err := s.QueryFetchLogs(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/snapshots/live", got[0].Endpoint)
	assert.Equal(t, 2, got[0].RecordsInserted)
	assert.Equal(t, int64(12), got[0].ResponseTimeMS)
	assert.Equal(t, traffic.StatusError, got[1].Status)
	assert.Equal(t, "boom", got[1].ErrorMessage)
	assert.EqualValues(t, 503, got[1].ErrorDetails["status_code"])
}

func testDeleteBefore(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.UpsertSnapshots(ctx, []traffic.LiveSnapshot{
		snapshot(base, "cam-1", 1, 1),
		snapshot(base.AddDate(0, 0, 2), "cam-1", 1, 1),
	}, storage.Update)
	require.NoError(t, err)
	_, err = s.UpsertHourlyStats(ctx, hourlyBatch(), storage.Update)
	require.NoError(t, err)

	cutoff := base.AddDate(0, 0, 1)
	n, err := s.DeleteBefore(ctx, storage.DeleteOptions{Table: storage.TableSnapshots, Before: cutoff})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	snaps, err := s.QuerySnapshots(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	// other tables untouched by a scoped delete
	hourly, err := s.QueryHourlyStats(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	assert.Len(t, hourly, 3)

	n, err = s.DeleteBefore(ctx, storage.DeleteOptions{Before: cutoff})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func testStatsAndRefresh(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.UpsertHourlyStats(ctx, hourlyBatch(), storage.Update)
	require.NoError(t, err)
	_, err = s.UpsertSnapshots(ctx, []traffic.LiveSnapshot{snapshot(base, "cam-1", 1, 1)}, storage.Update)
	require.NoError(t, err)

	require.NoError(t, s.RefreshViews(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.Backend)
	assert.Equal(t, uint64(3), stats.Rows[storage.TableHourlyStats])
	assert.Equal(t, uint64(1), stats.Rows[storage.TableSnapshots])
	assert.Equal(t, uint64(0), stats.Rows[storage.TableAnomalies])
	assert.True(t, stats.NewestSnapshot.Equal(base))
}
