package traffic

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLiveSnapshot_DerivesTotals(t *testing.T) {
	s := NewLiveSnapshot(time.Now(), "cam-1", 10, 4, 2, 1, 3, 5)

	assert.Equal(t, int64(15), s.TotalIn)
	assert.Equal(t, int64(10), s.TotalOut)
	assert.Equal(t, int64(5), s.NetFlow())
	assert.Equal(t, int64(25), s.Total())
}

func TestHourlyStatKey_NormalizesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	utc := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	a := HourlyStat{Hour: utc, CameraID: "cam-1", VehicleType: Car, Direction: In}
	b := HourlyStat{Hour: utc.In(loc), CameraID: "cam-1", VehicleType: Car, Direction: In}

	assert.Equal(t, a.Key(), b.Key())
}

func TestSummaryKey_UsesCalendarDate(t *testing.T) {
	d := DailySummary{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), CameraID: "cam-9"}
	assert.Equal(t, SummaryKey{Date: "2024-03-01", CameraID: "cam-9"}, d.Key())
}

func TestHourlyStatValidate(t *testing.T) {
	hour := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bad := 1.5

	tests := []struct {
		name    string
		stat    HourlyStat
		wantErr error
	}{
		{
			name: "valid",
			stat: HourlyStat{Hour: hour, CameraID: "cam-1", VehicleType: Bus, Direction: Out, Count: 4},
		},
		{
			name:    "empty camera",
			stat:    HourlyStat{Hour: hour, VehicleType: Bus, Direction: Out},
			wantErr: ErrCameraIDEmpty,
		},
		{
			name:    "missing hour",
			stat:    HourlyStat{CameraID: "cam-1", VehicleType: Bus, Direction: Out},
			wantErr: ErrMissingTimestamp,
		},
		{
			name:    "unknown vehicle",
			stat:    HourlyStat{Hour: hour, CameraID: "cam-1", VehicleType: "tram", Direction: Out},
			wantErr: ErrUnknownVehicleType,
		},
		{
			name:    "unknown direction",
			stat:    HourlyStat{Hour: hour, CameraID: "cam-1", VehicleType: Car, Direction: "up"},
			wantErr: ErrUnknownDirection,
		},
		{
			name:    "negative count",
			stat:    HourlyStat{Hour: hour, CameraID: "cam-1", VehicleType: Car, Direction: In, Count: -1},
			wantErr: ErrNegativeCount,
		},
		{
			name:    "confidence out of range",
			stat:    HourlyStat{Hour: hour, CameraID: "cam-1", VehicleType: Car, Direction: In, AvgConfidence: &bad},
			wantErr: ErrConfidenceRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stat.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLiveSnapshotValidate(t *testing.T) {
	s := NewLiveSnapshot(time.Now(), "cam-1", 1, 1, 1, 1, 1, 1)
	s.AvgConfidence = 0.8
	require.NoError(t, s.Validate())

	s.BusOut = -2
	assert.ErrorIs(t, s.Validate(), ErrNegativeCount)
}

func TestErrors_Unwrap(t *testing.T) {
	base := errors.New("boom")

	var ue error = &UpstreamError{StatusCode: 503, Endpoint: "/snapshots/live", Err: base}
	assert.ErrorIs(t, ue, base)
	assert.Contains(t, ue.Error(), "503")

	se := NewStorageError("upsert snapshots", base)
	var target *StorageError
	require.ErrorAs(t, se, &target)
	assert.Equal(t, "upsert snapshots", target.Op)
	assert.Nil(t, NewStorageError("noop", nil))
}
