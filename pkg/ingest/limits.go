package ingest

import (
	"fmt"
	"time"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Ingestion limits
const (
	MaxRecordsPerFetch = 50000 // Larger payloads are rejected as a whole
)

var (
	// ErrTooManyRecords is returned when one fetch exceeds MaxRecordsPerFetch
	ErrTooManyRecords = fmt.Errorf("too many records in upstream payload (max %d)", MaxRecordsPerFetch)

	// ErrInvalidDate is returned for a backfill date that is not YYYY-MM-DD
	ErrInvalidDate = traffic.ErrInvalidDate
)

// ValidateDate checks an optional backfill date.
func ValidateDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(traffic.DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

// checkVolume rejects oversized payloads before anything is written.
func checkVolume(fetched int) error {
	if fetched > MaxRecordsPerFetch {
		return fmt.Errorf("%w: got %d", ErrTooManyRecords, fetched)
	}
	return nil
}

// Dedupe keeps one row per key. The last occurrence wins and takes the
// position of the first.
func Dedupe[T any, K comparable](rows []T, key func(T) K) []T {
	index := make(map[K]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
