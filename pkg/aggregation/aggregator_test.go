package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/trafficwatch/pkg/audit"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/storage/memory"
	"github.com/nicktill/trafficwatch/pkg/storage/storagetest"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func conf(v float64) *float64 { return &v }

func hourlyStat(hour time.Time, cam string, vt traffic.VehicleType, dir traffic.Direction, count int64, c *float64) traffic.HourlyStat {
	return traffic.HourlyStat{Hour: hour, CameraID: cam, VehicleType: vt, Direction: dir, Count: count, AvgConfidence: c}
}

func newAggregator(t *testing.T, store storage.Store, loc *time.Location) *Aggregator {
	t.Helper()
	l := logger.NewNop()
	return New(store, audit.NewRecorder(store, l), l, loc)
}

func seed(t *testing.T, store storage.Store, rows ...traffic.HourlyStat) {
	t.Helper()
	_, err := store.UpsertHourlyStats(context.Background(), rows, storage.Update)
	require.NoError(t, err)
}

func TestSummarize_FullDay(t *testing.T) {
	var rows []traffic.HourlyStat
	for h := 0; h < 24; h++ {
		hour := day.Add(time.Duration(h) * time.Hour)
		rows = append(rows,
			hourlyStat(hour, "cam_01", traffic.Car, traffic.In, 10, conf(0.8)),
			hourlyStat(hour, "cam_01", traffic.Truck, traffic.Out, 2, conf(0.9)),
		)
	}

	sums := Summarize(day, rows, time.UTC)
	require.Len(t, sums, 1)

	s := sums[0]
	assert.Equal(t, "2024-03-01", s.Date.Format(traffic.DateLayout))
	assert.Equal(t, int64(240), s.CarInTotal)
	assert.Equal(t, int64(48), s.TruckOutTotal)
	assert.Equal(t, int64(240), s.TotalIn)
	assert.Equal(t, int64(48), s.TotalOut)
	assert.Equal(t, 24, s.HoursWithData)
	assert.Equal(t, 100.0, s.DataCompleteness)
	require.NotNil(t, s.AvgConfidence)
	assert.InDelta(t, 0.85, *s.AvgConfidence, 1e-9)
}

func TestSummarize_PeakHour(t *testing.T) {
	rows := []traffic.HourlyStat{
		hourlyStat(day.Add(9*time.Hour), "cam_01", traffic.Car, traffic.In, 100, nil),
		hourlyStat(day.Add(14*time.Hour), "cam_01", traffic.Car, traffic.In, 200, nil),
		hourlyStat(day.Add(14*time.Hour), "cam_01", traffic.Bus, traffic.In, 50, nil),
		hourlyStat(day.Add(18*time.Hour), "cam_01", traffic.Car, traffic.In, 180, nil),
		hourlyStat(day.Add(7*time.Hour), "cam_01", traffic.Car, traffic.Out, 90, nil),
		hourlyStat(day.Add(17*time.Hour), "cam_01", traffic.Car, traffic.Out, 90, nil),
	}

	s := Summarize(day, rows, time.UTC)[0]
	assert.Equal(t, 14, s.PeakHourIn)
	assert.Equal(t, 7, s.PeakHourOut, "earliest hour wins a tie")
	assert.Equal(t, int64(250), s.PeakHourValue)
	assert.Nil(t, s.AvgConfidence, "no confidences means null")
	assert.Equal(t, 5, s.HoursWithData)
	assert.Equal(t, 20.83, s.DataCompleteness)
}

func TestSummarize_DirectionWithoutData(t *testing.T) {
	rows := []traffic.HourlyStat{
		hourlyStat(day.Add(5*time.Hour), "cam_01", traffic.Car, traffic.In, 7, conf(0.5)),
	}

	s := Summarize(day, rows, time.UTC)[0]
	assert.Equal(t, 5, s.PeakHourIn)
	assert.Equal(t, 0, s.PeakHourOut)
	assert.Equal(t, int64(7), s.PeakHourValue)
	assert.Zero(t, s.TotalOut)
}

func TestSummarize_CamerasSorted(t *testing.T) {
	rows := []traffic.HourlyStat{
		hourlyStat(day, "cam_03", traffic.Car, traffic.In, 1, nil),
		hourlyStat(day, "cam_01", traffic.Car, traffic.In, 1, nil),
		hourlyStat(day, "cam_02", traffic.Car, traffic.In, 1, nil),
	}

	sums := Summarize(day, rows, time.UTC)
	require.Len(t, sums, 3)
	assert.Equal(t, []string{"cam_01", "cam_02", "cam_03"},
		[]string{sums[0].CameraID, sums[1].CameraID, sums[2].CameraID})
}

func TestSummarize_LocalHoursAndLongDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2024-11-03 is 25 hours long in New York.
	start, end := DayBounds(time.Date(2024, 11, 3, 12, 0, 0, 0, ny), ny)
	assert.Equal(t, 25*time.Hour, end.Sub(start))

	var rows []traffic.HourlyStat
	for h := start; h.Before(end); h = h.Add(time.Hour) {
		rows = append(rows, hourlyStat(h, "cam_01", traffic.Car, traffic.In, 1, nil))
	}
	rows = append(rows, hourlyStat(start.Add(8*time.Hour), "cam_01", traffic.Car, traffic.In, 50, nil))

	s := Summarize(start, rows, ny)[0]
	assert.Equal(t, "2024-11-03", s.Date.Format(traffic.DateLayout))
	assert.Equal(t, 25, s.HoursWithData)
	assert.Equal(t, 100.0, s.DataCompleteness, "capped at 100")
	// start+8h lands on local 07:00 after the clocks fall back.
	assert.Equal(t, 7, s.PeakHourIn)
}

func TestCompleteness(t *testing.T) {
	tests := map[int]float64{0: 0, 1: 4.17, 12: 50, 23: 95.83, 24: 100, 25: 100}
	for hours, want := range tests {
		assert.Equal(t, want, Completeness(hours), "hours=%d", hours)
	}
}

func TestAggregateDay(t *testing.T) {
	store := memory.New()
	defer store.Close()

	seed(t, store,
		hourlyStat(day.Add(-time.Hour), "cam_01", traffic.Car, traffic.In, 999, nil),
		hourlyStat(day.Add(8*time.Hour), "cam_01", traffic.Car, traffic.In, 30, conf(0.7)),
		hourlyStat(day.Add(8*time.Hour), "cam_02", traffic.Bus, traffic.Out, 4, conf(0.9)),
		hourlyStat(day.Add(24*time.Hour), "cam_01", traffic.Car, traffic.In, 999, nil),
	)

	a := newAggregator(t, store, time.UTC)
	res, err := a.AggregateDay(context.Background(), day.Add(13*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "2024-03-01", res.Date)
	assert.Equal(t, 2, res.HourlyRows, "rows outside the day are excluded")
	assert.Equal(t, 2, res.SummariesCreated)
	assert.Equal(t, 2, res.Inserted)

	sums, err := store.QueryDailySummaries(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, int64(30), sums[0].CarInTotal)

	logs, err := store.QueryFetchLogs(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, audit.EndpointDaily, logs[0].Endpoint)
	assert.Equal(t, traffic.StatusSuccess, logs[0].Status)
	assert.Equal(t, 2, logs[0].RecordsFetched)

	// Re-running the day updates instead of duplicating.
	res, err = a.AggregateDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Updated)

	sums, err = store.QueryDailySummaries(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	assert.Len(t, sums, 2)
}

func TestAggregateDay_EmptyDay(t *testing.T) {
	store := memory.New()
	defer store.Close()

	a := newAggregator(t, store, time.UTC)
	res, err := a.AggregateDay(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, res.SummariesCreated)

	logs, err := store.QueryFetchLogs(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, traffic.StatusSuccess, logs[0].Status)
	assert.Zero(t, logs[0].RecordsFetched)
}

func TestAggregateDay_StorageFailure(t *testing.T) {
	mem := memory.New()
	defer mem.Close()
	seed(t, mem, hourlyStat(day.Add(8*time.Hour), "cam_01", traffic.Car, traffic.In, 30, nil))

	store := storagetest.NewFaulty(mem, errors.New("disk full")).Fail(storagetest.OpUpsertSummaries)
	a := newAggregator(t, store, time.UTC)

	_, err := a.AggregateDay(context.Background(), day)
	var stErr *traffic.StorageError
	require.ErrorAs(t, err, &stErr)
	assert.Contains(t, err.Error(), "disk full")

	logs, err := mem.QueryFetchLogs(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, traffic.StatusError, logs[0].Status)
	assert.Equal(t, "storage", logs[0].ErrorDetails["kind"])
}

func TestAggregateDay_RefreshWarning(t *testing.T) {
	mem := memory.New()
	defer mem.Close()
	seed(t, mem, hourlyStat(day.Add(8*time.Hour), "cam_01", traffic.Car, traffic.In, 30, nil))

	store := storagetest.NewFaulty(mem, errors.New("view locked")).Fail(storagetest.OpRefreshViews)
	a := newAggregator(t, store, time.UTC)

	res, err := a.AggregateDay(context.Background(), day)
	require.NoError(t, err, "a failed refresh never fails the run")
	assert.Equal(t, 1, res.SummariesCreated)
	assert.Contains(t, res.RefreshWarning, "view locked")
}

func TestAggregator_Dates(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	a := newAggregator(t, memory.New(), madrid)
	// 23:30 UTC on Mar 1 is already Mar 2 in Madrid.
	a.now = func() time.Time { return time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC) }

	y := a.Yesterday()
	assert.Equal(t, "2024-03-01", y.Format(traffic.DateLayout))
	assert.Equal(t, madrid, y.Location())

	d, err := a.ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.Equal(y))

	d, err = a.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, madrid), d)

	_, err = a.ParseDate("29/02/2024")
	assert.ErrorIs(t, err, traffic.ErrInvalidDate)
}

func TestAggregateDate_InvalidDateIsAudited(t *testing.T) {
	store := memory.New()
	defer store.Close()

	a := newAggregator(t, store, time.UTC)
	res, err := a.AggregateDate(context.Background(), "2024-13-45")
	require.ErrorIs(t, err, traffic.ErrInvalidDate)
	assert.Equal(t, "2024-13-45", res.Date)

	logs, err := store.QueryFetchLogs(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, traffic.StatusError, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "invalid date")
}

func TestAggregateDate_EmptyMeansYesterday(t *testing.T) {
	store := memory.New()
	defer store.Close()

	a := newAggregator(t, store, time.UTC)
	a.now = func() time.Time { return time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC) }

	res, err := a.AggregateDate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", res.Date)
}
