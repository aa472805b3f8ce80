package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/storage/storagetest"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

func TestSQLiteStorage_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := New(MemoryPath)
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteStorage_FileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traffic.db")
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)

	store, err := New(path)
	require.NoError(t, err)
	_, err = store.UpsertHourlyStats(ctx, []traffic.HourlyStat{
		{Hour: hour, CameraID: "cam-1", VehicleType: traffic.Car, Direction: traffic.In, Count: 12},
	}, storage.Update)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.QueryHourlyStats(ctx, storage.QueryRequest{Start: hour, End: hour.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].Count)
	assert.Equal(t, path, store.Path())
}

func TestUpsertSpec_SQL(t *testing.T) {
	assert.Equal(t,
		"SELECT EXISTS(SELECT 1 FROM live_snapshots WHERE snapshot_time = ? AND camera_id = ?)",
		snapshotTable.existsSQL())

	q := hourlyTable.insertSQL(storage.Update)
	assert.Contains(t, q, "ON CONFLICT (hour, camera_id, vehicle_type, direction) DO UPDATE SET count = excluded.count")

	q = hourlyTable.insertSQL(storage.Ignore)
	assert.Contains(t, q, "DO NOTHING")
}
