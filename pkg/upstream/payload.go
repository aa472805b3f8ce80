package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// MaxReportedProblems caps how many per-record failures a Result keeps.
const MaxReportedProblems = 10

var (
	// ErrMalformedPayload is returned when the body is neither an array nor an object with a data array
	ErrMalformedPayload = errors.New("malformed upstream payload")

	// ErrBadTimestamp is returned for a record whose timestamp cannot be parsed
	ErrBadTimestamp = errors.New("unparseable timestamp")
)

// Result is the outcome of normalizing one upstream payload.
type Result[T any] struct {
	Records  []T
	Fetched  int     // records present in the payload
	Failed   int     // records rejected by validation
	Problems []error // first MaxReportedProblems rejections
}

func (r *Result[T]) reject(i int, err error) {
	r.Failed++
	if len(r.Problems) < MaxReportedProblems {
		r.Problems = append(r.Problems, fmt.Errorf("record %d: %w", i, err))
	}
}

// ProblemStrings renders Problems for audit details.
func (r Result[T]) ProblemStrings() []string {
	out := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		out[i] = p.Error()
	}
	return out
}

// unwrap returns the record array of a payload that is either a bare array
// or an object carrying the array under "data". Null and empty bodies are
// empty arrays.
func unwrap(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return items, nil
	case '{':
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if len(envelope.Data) == 0 {
			return nil, fmt.Errorf("%w: object without data array", ErrMalformedPayload)
		}
		return unwrapArray(envelope.Data)
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedPayload, body[0])
	}
}

func unwrapArray(data json.RawMessage) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: data is not an array", ErrMalformedPayload)
	}
	return items, nil
}

// rawSnapshot is the upstream live snapshot shape. Every count is optional.
type rawSnapshot struct {
	SnapshotTime  string   `json:"snapshot_time"`
	Timestamp     string   `json:"timestamp"`
	CameraID      string   `json:"camera_id"`
	CarIn         *int64   `json:"car_in"`
	CarOut        *int64   `json:"car_out"`
	BusIn         *int64   `json:"bus_in"`
	BusOut        *int64   `json:"bus_out"`
	TruckIn       *int64   `json:"truck_in"`
	TruckOut      *int64   `json:"truck_out"`
	AvgConfidence *float64 `json:"avg_confidence"`
}

// rawHourlyStat is the upstream hourly stat shape.
type rawHourlyStat struct {
	Hour          string   `json:"hour"`
	CameraID      string   `json:"camera_id"`
	VehicleType   string   `json:"vehicle_type"`
	Direction     string   `json:"direction"`
	Count         *int64   `json:"count"`
	AvgConfidence *float64 `json:"avg_confidence"`
}

// NormalizeSnapshots turns a live payload into validated snapshots.
// Totals are always derived from the per-type counts.
func NormalizeSnapshots(body []byte, loc *time.Location) (Result[traffic.LiveSnapshot], error) {
	var res Result[traffic.LiveSnapshot]
	items, err := unwrap(body)
	if err != nil {
		return res, err
	}
	res.Fetched = len(items)

	for i, item := range items {
		var raw rawSnapshot
		if err := json.Unmarshal(item, &raw); err != nil {
			res.reject(i, err)
			continue
		}

		ts := raw.SnapshotTime
		if ts == "" {
			ts = raw.Timestamp
		}
		at, err := parseTime(ts, loc)
		if err != nil {
			res.reject(i, err)
			continue
		}

		snap := traffic.NewLiveSnapshot(at, raw.CameraID,
			orZero(raw.CarIn), orZero(raw.CarOut),
			orZero(raw.BusIn), orZero(raw.BusOut),
			orZero(raw.TruckIn), orZero(raw.TruckOut))
		if raw.AvgConfidence != nil {
			snap.AvgConfidence = *raw.AvgConfidence
		}

		if err := snap.Validate(); err != nil {
			res.reject(i, err)
			continue
		}
		res.Records = append(res.Records, snap)
	}
	return res, nil
}

// NormalizeHourlyStats turns an hourly payload into validated stats.
// Hours are truncated; a missing confidence becomes 0.
func NormalizeHourlyStats(body []byte, loc *time.Location) (Result[traffic.HourlyStat], error) {
	var res Result[traffic.HourlyStat]
	items, err := unwrap(body)
	if err != nil {
		return res, err
	}
	res.Fetched = len(items)

	for i, item := range items {
		var raw rawHourlyStat
		if err := json.Unmarshal(item, &raw); err != nil {
			res.reject(i, err)
			continue
		}

		hour, err := parseTime(raw.Hour, loc)
		if err != nil {
			res.reject(i, err)
			continue
		}

		conf := 0.0
		if raw.AvgConfidence != nil {
			conf = *raw.AvgConfidence
		}
		stat := traffic.HourlyStat{
			Hour:          hour.Truncate(time.Hour),
			CameraID:      raw.CameraID,
			VehicleType:   traffic.VehicleType(raw.VehicleType),
			Direction:     traffic.Direction(raw.Direction),
			Count:         orZero(raw.Count),
			AvgConfidence: &conf,
		}

		if err := stat.Validate(); err != nil {
			res.reject(i, err)
			continue
		}
		res.Records = append(res.Records, stat)
	}
	return res, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// parseTime accepts RFC3339 or zone-less timestamps; zone-less values are
// read in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, traffic.ErrMissingTimestamp
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

func orZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
