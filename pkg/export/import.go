package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

const (
	// MaxImportBatchSize is the maximum number of rows written in one upsert
	MaxImportBatchSize = 5000

	// maxReportedErrors caps the validation messages returned to the caller
	maxReportedErrors = 100
)

// ErrEmptyDailySummary is returned for an imported summary with no date.
var ErrEmptyDailySummary = errors.New("summary date is required")

// Importer restores JSON backups produced by Exporter. Existing rows win:
// an import never overwrites data that is already stored.
type Importer struct {
	store storage.Store
	now   func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Store) *Importer {
	return &Importer{store: store, now: time.Now}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	Dataset        Dataset   `json:"dataset"`
	RowsImported   int       `json:"rows_imported"`
	RowsSkipped    int       `json:"rows_skipped"`
	RowsInvalid    int       `json:"rows_invalid"`
	BatchesWritten int       `json:"batches_written"`
	ImportedAt     time.Time `json:"imported_at"`
	Errors         []string  `json:"errors,omitempty"`
}

func (r *ImportResult) reject(i int, err error) {
	r.RowsInvalid++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("row %d: %v", i, err))
	}
}

// ImportFromJSON reads a Backup from r and upserts its rows with the Ignore policy.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	result := &ImportResult{Dataset: backup.Metadata.Dataset, ImportedAt: im.now()}

	switch {
	case len(backup.HourlyStats) > 0:
		result.Dataset = DatasetHourly
		valid := make([]traffic.HourlyStat, 0, len(backup.HourlyStats))
		for i, s := range backup.HourlyStats {
			if err := s.Validate(); err != nil {
				result.reject(i, err)
				continue
			}
			valid = append(valid, s)
		}
		err := writeBatches(ctx, valid, result, im.store.UpsertHourlyStats)
		if err != nil {
			return nil, err
		}
	case len(backup.DailySummaries) > 0:
		result.Dataset = DatasetDaily
		valid := make([]traffic.DailySummary, 0, len(backup.DailySummaries))
		for i, d := range backup.DailySummaries {
			if err := validateSummary(d); err != nil {
				result.reject(i, err)
				continue
			}
			d.Date = traffic.CalendarDate(d.Date)
			valid = append(valid, d)
		}
		err := writeBatches(ctx, valid, result, im.store.UpsertDailySummaries)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

type upsertFunc[T any] func(context.Context, []T, storage.ConflictPolicy) (storage.WriteResult, error)

// writeBatches writes rows in MaxImportBatchSize chunks to avoid overwhelming storage.
func writeBatches[T any](ctx context.Context, rows []T, result *ImportResult, upsert upsertFunc[T]) error {
	for i := 0; i < len(rows); i += MaxImportBatchSize {
		end := min(i+MaxImportBatchSize, len(rows))
		batch := rows[i:end]

		res, err := upsert(ctx, batch, storage.Ignore)
		if err != nil {
			return fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
		result.RowsImported += res.Inserted
		result.RowsSkipped += len(batch) - res.Inserted - res.Updated
	}
	return nil
}

func validateSummary(d traffic.DailySummary) error {
	if d.CameraID == "" {
		return traffic.ErrCameraIDEmpty
	}
	if d.Date.IsZero() {
		return fmt.Errorf("%w: camera %q", ErrEmptyDailySummary, d.CameraID)
	}
	for _, n := range []int64{d.CarInTotal, d.CarOutTotal, d.BusInTotal, d.BusOutTotal, d.TruckInTotal, d.TruckOutTotal, d.PeakHourValue} {
		if n < 0 {
			return fmt.Errorf("%w: camera %q has %d", traffic.ErrNegativeCount, d.CameraID, n)
		}
	}
	return nil
}
