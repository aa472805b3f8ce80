package storage

import (
	"sort"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// SortHourlyStats orders rows by hour, camera, vehicle type, direction.
func SortHourlyStats(rows []traffic.HourlyStat) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Hour.Equal(b.Hour) {
			return a.Hour.Before(b.Hour)
		}
		if a.CameraID != b.CameraID {
			return a.CameraID < b.CameraID
		}
		if a.VehicleType != b.VehicleType {
			return a.VehicleType < b.VehicleType
		}
		return a.Direction < b.Direction
	})
}

// SortSnapshots orders rows by snapshot time, camera.
func SortSnapshots(rows []traffic.LiveSnapshot) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.SnapshotTime.Equal(b.SnapshotTime) {
			return a.SnapshotTime.Before(b.SnapshotTime)
		}
		return a.CameraID < b.CameraID
	})
}

// SortDailySummaries orders rows by date, camera.
func SortDailySummaries(rows []traffic.DailySummary) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Key(), rows[j].Key()
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.CameraID < b.CameraID
	})
}

// SortAnomalies orders rows by detection time, keeping insertion order for ties.
func SortAnomalies(rows []traffic.Anomaly) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].DetectedAt.Before(rows[j].DetectedAt)
	})
}

// SortFetchLogs orders rows by fetch time, keeping insertion order for ties.
func SortFetchLogs(rows []traffic.FetchLogEntry) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].FetchTime.Before(rows[j].FetchTime)
	})
}

// Limit truncates rows to n when n > 0.
func Limit[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
