package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

func TestNormalizeSnapshots_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_01","car_in":5}]`, 1},
		{"data envelope", `{"data":[{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_01"},{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_02"}]}`, 2},
		{"empty array", `[]`, 0},
		{"empty body", ``, 0},
		{"null", `null`, 0},
		{"null data", `{"data":null}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NormalizeSnapshots([]byte(tt.body), time.UTC)
			require.NoError(t, err)
			assert.Len(t, res.Records, tt.want)
			assert.Equal(t, tt.want, res.Fetched)
			assert.Zero(t, res.Failed)
		})
	}
}

func TestNormalizeSnapshots_Malformed(t *testing.T) {
	for _, body := range []string{`"nope"`, `{"items":[]}`, `{"data":{"a":1}}`, `[1,2`} {
		_, err := NormalizeSnapshots([]byte(body), time.UTC)
		assert.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}

func TestNormalizeSnapshots_DefaultsAndTotals(t *testing.T) {
	body := `[{"timestamp":"2024-03-01T10:05:00Z","camera_id":"cam_01","car_in":10,"bus_in":2,"truck_out":4,"total_in":999}]`

	res, err := NormalizeSnapshots([]byte(body), time.UTC)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	s := res.Records[0]
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), s.SnapshotTime)
	assert.Equal(t, int64(12), s.TotalIn, "totals are derived, never read")
	assert.Equal(t, int64(4), s.TotalOut)
	assert.Zero(t, s.CarOut)
	assert.Zero(t, s.AvgConfidence)
}

func TestNormalizeSnapshots_InvalidRecordsAreCounted(t *testing.T) {
	body := `[
		{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_01","car_in":1},
		{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"","car_in":1},
		{"snapshot_time":"yesterday","camera_id":"cam_02"},
		{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_03","car_in":-4},
		{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_04","avg_confidence":1.5},
		{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_05","car_in":"many"}
	]`

	res, err := NormalizeSnapshots([]byte(body), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Fetched)
	assert.Equal(t, 5, res.Failed)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "cam_01", res.Records[0].CameraID)
	assert.Len(t, res.ProblemStrings(), 5)
	assert.ErrorIs(t, res.Problems[0], traffic.ErrCameraIDEmpty)
	assert.ErrorIs(t, res.Problems[1], ErrBadTimestamp)
}

func TestNormalizeSnapshots_ZonelessTimesUseLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	res, err := NormalizeSnapshots([]byte(`[{"snapshot_time":"2024-03-01 10:05:00","camera_id":"cam_01"}]`), loc)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 5, 0, 0, time.UTC), res.Records[0].SnapshotTime.UTC())
}

func TestNormalizeHourlyStats(t *testing.T) {
	body := `{"data":[
		{"hour":"2024-03-01T14:37:00Z","camera_id":"cam_01","vehicle_type":"car","direction":"in","count":42,"avg_confidence":0.91},
		{"hour":"2024-03-01T15:00:00Z","camera_id":"cam_01","vehicle_type":"bus","direction":"out"},
		{"hour":"2024-03-01T15:00:00Z","camera_id":"cam_01","vehicle_type":"tram","direction":"out","count":1},
		{"hour":"2024-03-01T15:00:00Z","camera_id":"cam_01","vehicle_type":"car","direction":"sideways","count":1}
	]}`

	res, err := NormalizeHourlyStats([]byte(body), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Records, 2)

	first := res.Records[0]
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), first.Hour, "hour is truncated")
	assert.Equal(t, int64(42), first.Count)
	require.NotNil(t, first.AvgConfidence)
	assert.InDelta(t, 0.91, *first.AvgConfidence, 1e-9)

	second := res.Records[1]
	assert.Equal(t, traffic.Bus, second.VehicleType)
	assert.Zero(t, second.Count)
	require.NotNil(t, second.AvgConfidence)
	assert.Zero(t, *second.AvgConfidence, "missing confidence defaults to 0")

	assert.ErrorIs(t, res.Problems[0], traffic.ErrUnknownVehicleType)
	assert.ErrorIs(t, res.Problems[1], traffic.ErrUnknownDirection)
}

func TestResult_ProblemsAreCapped(t *testing.T) {
	var r Result[traffic.HourlyStat]
	for i := 0; i < MaxReportedProblems+5; i++ {
		r.reject(i, traffic.ErrNegativeCount)
	}
	assert.Equal(t, MaxReportedProblems+5, r.Failed)
	assert.Len(t, r.Problems, MaxReportedProblems)
}
