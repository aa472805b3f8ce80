package traffic

import (
	"time"
)

// VehicleType is the vehicle class reported by the camera system.
type VehicleType string

const (
	Car   VehicleType = "car"
	Bus   VehicleType = "bus"
	Truck VehicleType = "truck"
)

// VehicleTypes lists every vehicle class in reporting order.
var VehicleTypes = []VehicleType{Car, Bus, Truck}

// Direction is the crossing direction of a counted vehicle.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// AnomalyType classifies a detected anomaly.
type AnomalyType string

const (
	Congestion     AnomalyType = "congestion"
	UnusualPattern AnomalyType = "unusual_pattern"
	HighTraffic    AnomalyType = "high_traffic"
)

// Severity of a detected anomaly.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FetchStatus is the outcome recorded in the fetch audit log.
type FetchStatus string

const (
	StatusSuccess FetchStatus = "success"
	StatusError   FetchStatus = "error"
)

// HourlyStat is one (hour, camera, vehicle type, direction) count record.
type HourlyStat struct {
	Hour          time.Time   `json:"hour"`
	CameraID      string      `json:"camera_id"`
	VehicleType   VehicleType `json:"vehicle_type"`
	Direction     Direction   `json:"direction"`
	Count         int64       `json:"count"`
	AvgConfidence *float64    `json:"avg_confidence"`
}

// HourlyKey is the natural key of an HourlyStat.
type HourlyKey struct {
	Hour        time.Time
	CameraID    string
	VehicleType VehicleType
	Direction   Direction
}

// Key returns the natural key. The hour is normalized to UTC so that the same
// instant always produces an equal key regardless of its location.
func (s HourlyStat) Key() HourlyKey {
	return HourlyKey{
		Hour:        s.Hour.UTC().Truncate(time.Hour),
		CameraID:    s.CameraID,
		VehicleType: s.VehicleType,
		Direction:   s.Direction,
	}
}

// LiveSnapshot is a point-in-time 5-minute count window for one camera.
type LiveSnapshot struct {
	SnapshotTime  time.Time `json:"snapshot_time"`
	CameraID      string    `json:"camera_id"`
	CarIn         int64     `json:"car_in"`
	CarOut        int64     `json:"car_out"`
	BusIn         int64     `json:"bus_in"`
	BusOut        int64     `json:"bus_out"`
	TruckIn       int64     `json:"truck_in"`
	TruckOut      int64     `json:"truck_out"`
	TotalIn       int64     `json:"total_in"`
	TotalOut      int64     `json:"total_out"`
	AvgConfidence float64   `json:"avg_confidence"`
}

// SnapshotKey is the natural key of a LiveSnapshot.
type SnapshotKey struct {
	SnapshotTime time.Time
	CameraID     string
}

// Key returns the natural key of the snapshot.
func (s LiveSnapshot) Key() SnapshotKey {
	return SnapshotKey{SnapshotTime: s.SnapshotTime.UTC(), CameraID: s.CameraID}
}

// NewLiveSnapshot builds a snapshot and derives its totals from the per-type counts.
func NewLiveSnapshot(at time.Time, cameraID string, carIn, carOut, busIn, busOut, truckIn, truckOut int64) LiveSnapshot {
	s := LiveSnapshot{
		SnapshotTime: at,
		CameraID:     cameraID,
		CarIn:        carIn,
		CarOut:       carOut,
		BusIn:        busIn,
		BusOut:       busOut,
		TruckIn:      truckIn,
		TruckOut:     truckOut,
	}
	s.RecomputeTotals()
	return s
}

// RecomputeTotals sets TotalIn and TotalOut from the per-type counts.
func (s *LiveSnapshot) RecomputeTotals() {
	s.TotalIn = s.CarIn + s.BusIn + s.TruckIn
	s.TotalOut = s.CarOut + s.BusOut + s.TruckOut
}

// NetFlow is total_in - total_out. Positive means vehicles are accumulating.
func (s LiveSnapshot) NetFlow() int64 {
	return s.TotalIn - s.TotalOut
}

// Total is the combined volume in both directions.
func (s LiveSnapshot) Total() int64 {
	return s.TotalIn + s.TotalOut
}

// DailySummary compresses one camera-day of hourly stats.
type DailySummary struct {
	Date             time.Time `json:"date"`
	CameraID         string    `json:"camera_id"`
	CarInTotal       int64     `json:"car_in_total"`
	CarOutTotal      int64     `json:"car_out_total"`
	BusInTotal       int64     `json:"bus_in_total"`
	BusOutTotal      int64     `json:"bus_out_total"`
	TruckInTotal     int64     `json:"truck_in_total"`
	TruckOutTotal    int64     `json:"truck_out_total"`
	TotalIn          int64     `json:"total_in"`
	TotalOut         int64     `json:"total_out"`
	PeakHourIn       int       `json:"peak_hour_in"`
	PeakHourOut      int       `json:"peak_hour_out"`
	PeakHourValue    int64     `json:"peak_hour_value"`
	AvgConfidence    *float64  `json:"avg_confidence"`
	HoursWithData    int       `json:"hours_with_data"`
	DataCompleteness float64   `json:"data_completeness"`
}

// SummaryKey is the natural key of a DailySummary.
type SummaryKey struct {
	Date     string
	CameraID string
}

// Key returns the natural key; the date is reduced to its calendar day.
func (d DailySummary) Key() SummaryKey {
	return SummaryKey{Date: d.Date.Format(DateLayout), CameraID: d.CameraID}
}

// DateLayout is the calendar-date format used for summary keys and query params.
const DateLayout = "2006-01-02"

// CalendarDate reduces t to its calendar day in t's own location, expressed as
// midnight UTC. Stored summaries always carry dates in this form.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Anomaly is an append-only record of a threshold crossing.
type Anomaly struct {
	DetectedAt          time.Time      `json:"detected_at"`
	CameraID            string         `json:"camera_id"`
	AnomalyType         AnomalyType    `json:"anomaly_type"`
	Severity            Severity       `json:"severity"`
	ReferencePeriod     string         `json:"reference_period"`
	MetricName          string         `json:"metric_name"`
	MetricValue         float64        `json:"metric_value"`
	ThresholdValue      float64        `json:"threshold_value"`
	DeviationPercentage float64        `json:"deviation_percentage"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// FetchLogEntry is one row of the append-only fetch audit trail.
type FetchLogEntry struct {
	FetchTime       time.Time      `json:"fetch_time"`
	Endpoint        string         `json:"endpoint"`
	Status          FetchStatus    `json:"status"`
	RecordsFetched  int            `json:"records_fetched"`
	RecordsInserted int            `json:"records_inserted"`
	RecordsUpdated  int            `json:"records_updated"`
	RecordsFailed   int            `json:"records_failed"`
	ResponseTimeMS  int64          `json:"response_time_ms"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorDetails    map[string]any `json:"error_details,omitempty"`
}
