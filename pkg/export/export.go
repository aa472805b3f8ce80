package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Dataset names a table that can be exported.
type Dataset string

const (
	DatasetDaily  Dataset = "daily"
	DatasetHourly Dataset = "hourly"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// BackupVersion is written into every JSON export.
const BackupVersion = "1.0"

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrUnknownFormat  = errors.New("unknown format")
)

// ParseDataset validates a dataset name. Empty means daily.
func ParseDataset(s string) (Dataset, error) {
	switch d := Dataset(s); d {
	case "":
		return DatasetDaily, nil
	case DatasetDaily, DatasetHourly:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q (want daily or hourly)", ErrUnknownDataset, s)
}

// ParseFormat validates a format name. Empty means json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q (want json or csv)", ErrUnknownFormat, s)
}

// Exporter writes stored rows as JSON backups or flat CSV.
type Exporter struct {
	store storage.Store
	now   func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// Options configures the export operation
type Options struct {
	Dataset Dataset
	Format  Format

	// Time range, [Start, End). Daily summaries are selected by calendar date.
	Start time.Time
	End   time.Time

	// Filter by camera (optional)
	CameraID string
}

// Result contains stats about the export
type Result struct {
	RowsExported int       `json:"rows_exported"`
	Dataset      Dataset   `json:"dataset"`
	TimeRange    string    `json:"time_range"`
	Format       Format    `json:"format"`
	ExportedAt   time.Time `json:"exported_at"`
}

// Metadata describes a JSON backup.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Dataset    Dataset   `json:"dataset"`
	RowCount   int       `json:"row_count"`
	Format     Format    `json:"format"`
	Version    string    `json:"version"`
}

// Backup is the JSON export document. Exactly one of the row slices is set.
type Backup struct {
	Metadata       Metadata               `json:"metadata"`
	DailySummaries []traffic.DailySummary `json:"daily_summaries,omitempty"`
	HourlyStats    []traffic.HourlyStat   `json:"hourly_stats,omitempty"`
}

// Export writes the selected dataset to w in the selected format.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	req := storage.QueryRequest{
		Start:    opts.Start,
		End:      opts.End,
		CameraID: opts.CameraID,
	}

	var (
		daily  []traffic.DailySummary
		hourly []traffic.HourlyStat
		err    error
	)
	switch opts.Dataset {
	case DatasetDaily:
		daily, err = e.store.QueryDailySummaries(ctx, req)
	case DatasetHourly:
		hourly, err = e.store.QueryHourlyStats(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, opts.Dataset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s rows: %w", opts.Dataset, err)
	}

	result := &Result{
		RowsExported: len(daily) + len(hourly),
		Dataset:      opts.Dataset,
		TimeRange:    fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:       opts.Format,
		ExportedAt:   e.now(),
	}

	switch opts.Format {
	case FormatJSON:
		err = writeJSON(w, Backup{
			Metadata: Metadata{
				ExportedAt: result.ExportedAt,
				StartTime:  opts.Start,
				EndTime:    opts.End,
				Dataset:    opts.Dataset,
				RowCount:   result.RowsExported,
				Format:     FormatJSON,
				Version:    BackupVersion,
			},
			DailySummaries: daily,
			HourlyStats:    hourly,
		})
	case FormatCSV:
		if opts.Dataset == DatasetDaily {
			err = writeDailyCSV(w, daily)
		} else {
			err = writeHourlyCSV(w, hourly)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func writeJSON(w io.Writer, b Backup) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(b); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

var dailyHeader = []string{
	"date", "camera_id",
	"car_in_total", "car_out_total", "bus_in_total", "bus_out_total", "truck_in_total", "truck_out_total",
	"total_in", "total_out",
	"peak_hour_in", "peak_hour_out", "peak_hour_value",
	"avg_confidence", "hours_with_data", "data_completeness",
}

var hourlyHeader = []string{"hour", "camera_id", "vehicle_type", "direction", "count", "avg_confidence"}

func writeDailyCSV(w io.Writer, rows []traffic.DailySummary) error {
	return writeCSV(w, dailyHeader, len(rows), func(i int) []string {
		d := rows[i]
		return []string{
			d.Key().Date,
			d.CameraID,
			itoa(d.CarInTotal), itoa(d.CarOutTotal),
			itoa(d.BusInTotal), itoa(d.BusOutTotal),
			itoa(d.TruckInTotal), itoa(d.TruckOutTotal),
			itoa(d.TotalIn), itoa(d.TotalOut),
			strconv.Itoa(d.PeakHourIn), strconv.Itoa(d.PeakHourOut), itoa(d.PeakHourValue),
			optionalFloat(d.AvgConfidence),
			strconv.Itoa(d.HoursWithData),
			strconv.FormatFloat(d.DataCompleteness, 'f', -1, 64),
		}
	})
}

func writeHourlyCSV(w io.Writer, rows []traffic.HourlyStat) error {
	return writeCSV(w, hourlyHeader, len(rows), func(i int) []string {
		s := rows[i]
		return []string{
			s.Hour.UTC().Format(time.RFC3339),
			s.CameraID,
			string(s.VehicleType),
			string(s.Direction),
			itoa(s.Count),
			optionalFloat(s.AvgConfidence),
		}
	})
}

func writeCSV(w io.Writer, header []string, n int, row func(int) []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// Null confidences export as an empty cell.
func optionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
