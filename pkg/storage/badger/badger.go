package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Key prefixes, one per table.
const (
	prefixHourly   byte = 'h'
	prefixSnapshot byte = 's'
	prefixSummary  byte = 'd'
	prefixAnomaly  byte = 'a'
	prefixFetchLog byte = 'f'

	keyLen            = 17
	sequenceBandwidth = 256
)

var prefixes = map[storage.Table]byte{
	storage.TableHourlyStats:    prefixHourly,
	storage.TableSnapshots:      prefixSnapshot,
	storage.TableDailySummaries: prefixSummary,
	storage.TableAnomalies:      prefixAnomaly,
	storage.TableFetchLogs:      prefixFetchLog,
}

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db         *badger.DB
	anomalySeq *badger.Sequence
	fetchSeq   *badger.Sequence
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// 16 MB memtable unless told otherwise; smaller causes excessive flushes
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	anomalySeq, err := db.GetSequence([]byte("!seq/anomalies"), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open anomaly sequence: %w", err)
	}
	fetchSeq, err := db.GetSequence([]byte("!seq/fetch_logs"), sequenceBandwidth)
	if err != nil {
		anomalySeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open fetch log sequence: %w", err)
	}

	return &Storage{db: db, anomalySeq: anomalySeq, fetchSeq: fetchSeq}, nil
}

// withContext runs fn in its own goroutine so a cancelled context returns
// promptly even while badger is blocked.
func withContext[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, traffic.NewStorageError(op, err)
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return zero, traffic.NewStorageError(op, res.err)
		}
		return res.v, nil
	case <-ctx.Done():
		return zero, traffic.NewStorageError(op, fmt.Errorf("operation cancelled: %w", ctx.Err()))
	}
}

// rollingTxn is a write transaction that commits and reopens itself when
// badger reports it has outgrown one request. Writes are atomic per chunk,
// not per batch.
type rollingTxn struct {
	db  *badger.DB
	txn *badger.Txn
}

func newRollingTxn(db *badger.DB) *rollingTxn {
	return &rollingTxn{db: db, txn: db.NewTransaction(true)}
}

func (r *rollingTxn) set(key, value []byte) error {
	err := r.txn.Set(key, value)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := r.txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk: %w", err)
	}
	r.txn = r.db.NewTransaction(true)
	return r.txn.Set(key, value)
}

func (r *rollingTxn) commit() error {
	return r.txn.Commit()
}

func (r *rollingTxn) discard() {
	r.txn.Discard()
}

// upsertRows writes rows by key, counting inserts and updates. Batches
// larger than one badger transaction are committed in chunks.
func upsertRows[T any](ctx context.Context, db *badger.DB, rows []T, policy storage.ConflictPolicy, keyOf func(T) []byte) (storage.WriteResult, error) {
	var res storage.WriteResult
	txn := newRollingTxn(db)
	defer txn.discard()

	for i, r := range rows {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return storage.WriteResult{}, err
			}
		}

		key := keyOf(r)
		_, err := txn.txn.Get(key)
		exists := err == nil
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return storage.WriteResult{}, fmt.Errorf("failed to read key: %w", err)
		}
		if exists && policy == storage.Ignore {
			continue
		}

		value, err := json.Marshal(r)
		if err != nil {
			return storage.WriteResult{}, fmt.Errorf("failed to encode row: %w", err)
		}
		if err := txn.set(key, value); err != nil {
			return storage.WriteResult{}, fmt.Errorf("failed to write row: %w", err)
		}

		if exists {
			res.Updated++
		} else {
			res.Inserted++
		}
	}

	if err := txn.commit(); err != nil {
		return storage.WriteResult{}, err
	}
	return res, nil
}

// UpsertHourlyStats stores hourly stats by natural key
func (s *Storage) UpsertHourlyStats(ctx context.Context, stats []traffic.HourlyStat, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	rows := make([]traffic.HourlyStat, len(stats))
	for i, h := range stats {
		h.Hour = h.Hour.UTC()
		rows[i] = h
	}
	return withContext(ctx, "upsert hourly stats", func() (storage.WriteResult, error) {
		return upsertRows(ctx, s.db, rows, policy, func(h traffic.HourlyStat) []byte {
			k := h.Key()
			return makeKey(prefixHourly, k.Hour, hashOf(k.CameraID, string(k.VehicleType), string(k.Direction)))
		})
	})
}

// UpsertSnapshots stores live snapshots by natural key
func (s *Storage) UpsertSnapshots(ctx context.Context, snaps []traffic.LiveSnapshot, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	rows := make([]traffic.LiveSnapshot, len(snaps))
	for i, l := range snaps {
		l.SnapshotTime = l.SnapshotTime.UTC()
		rows[i] = l
	}
	return withContext(ctx, "upsert snapshots", func() (storage.WriteResult, error) {
		return upsertRows(ctx, s.db, rows, policy, func(l traffic.LiveSnapshot) []byte {
			return makeKey(prefixSnapshot, l.SnapshotTime, hashOf(l.CameraID))
		})
	})
}

// UpsertDailySummaries stores daily summaries by natural key
func (s *Storage) UpsertDailySummaries(ctx context.Context, sums []traffic.DailySummary, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	rows := make([]traffic.DailySummary, len(sums))
	for i, d := range sums {
		d.Date = traffic.CalendarDate(d.Date)
		rows[i] = d
	}
	return withContext(ctx, "upsert daily summaries", func() (storage.WriteResult, error) {
		return upsertRows(ctx, s.db, rows, policy, func(d traffic.DailySummary) []byte {
			return makeKey(prefixSummary, d.Date, hashOf(d.CameraID))
		})
	})
}

// appendRows writes rows under fresh sequence numbers through a write batch.
// Sequence numbers are leased before the batch opens.
func appendRows[T any](db *badger.DB, seq *badger.Sequence, prefix byte, rows []T, tsOf func(T) time.Time) error {
	keys := make([][]byte, len(rows))
	for i, r := range rows {
		n, err := seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		keys[i] = makeKey(prefix, tsOf(r), n)
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()

	for i, r := range rows {
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
		if err := wb.Set(keys[i], value); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return wb.Flush()
}

// InsertAnomalies appends anomaly rows
func (s *Storage) InsertAnomalies(ctx context.Context, anomalies []traffic.Anomaly) error {
	_, err := withContext(ctx, "insert anomalies", func() (struct{}, error) {
		return struct{}{}, appendRows(s.db, s.anomalySeq, prefixAnomaly, anomalies, func(a traffic.Anomaly) time.Time {
			return a.DetectedAt
		})
	})
	return err
}

// AppendFetchLog appends one audit row
func (s *Storage) AppendFetchLog(ctx context.Context, entry traffic.FetchLogEntry) error {
	_, err := withContext(ctx, "append fetch log", func() (struct{}, error) {
		return struct{}{}, appendRows(s.db, s.fetchSeq, prefixFetchLog, []traffic.FetchLogEntry{entry}, func(e traffic.FetchLogEntry) time.Time {
			return e.FetchTime
		})
	})
	return err
}

// scan decodes every row under prefix whose key time is inside [from, to).
// Zero bounds leave that side open.
func scan[T any](ctx context.Context, db *badger.DB, prefix byte, from, to time.Time, keep func(T) bool) ([]T, error) {
	var results []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		opts.Prefix = []byte{prefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte{prefix}
		if !from.IsZero() {
			start = makeKey(prefix, from, 0)
		}

		var iterCount int
		for it.Seek(start); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			if !to.IsZero() && !keyTime(item.Key()).Before(to) {
				break
			}

			var row T
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("failed to decode row: %w", err)
			}
			if keep == nil || keep(row) {
				results = append(results, row)
			}
		}
		return nil
	})
	return results, err
}

// QueryHourlyStats retrieves hourly stats matching the request
func (s *Storage) QueryHourlyStats(ctx context.Context, req storage.QueryRequest) ([]traffic.HourlyStat, error) {
	return withContext(ctx, "query hourly stats", func() ([]traffic.HourlyStat, error) {
		rows, err := scan(ctx, s.db, prefixHourly, req.Start, req.End, func(h traffic.HourlyStat) bool {
			return req.MatchesCamera(h.CameraID)
		})
		if err != nil {
			return nil, err
		}
		storage.SortHourlyStats(rows)
		return storage.Limit(rows, req.Limit), nil
	})
}

// QuerySnapshots retrieves snapshots matching the request
func (s *Storage) QuerySnapshots(ctx context.Context, req storage.QueryRequest) ([]traffic.LiveSnapshot, error) {
	return withContext(ctx, "query snapshots", func() ([]traffic.LiveSnapshot, error) {
		rows, err := scan(ctx, s.db, prefixSnapshot, req.Start, req.End, func(l traffic.LiveSnapshot) bool {
			return req.MatchesCamera(l.CameraID)
		})
		if err != nil {
			return nil, err
		}
		storage.SortSnapshots(rows)
		return storage.Limit(rows, req.Limit), nil
	})
}

// QueryDailySummaries retrieves summaries matching the request by calendar date
func (s *Storage) QueryDailySummaries(ctx context.Context, req storage.QueryRequest) ([]traffic.DailySummary, error) {
	return withContext(ctx, "query daily summaries", func() ([]traffic.DailySummary, error) {
		rows, err := scan(ctx, s.db, prefixSummary, time.Time{}, time.Time{}, func(d traffic.DailySummary) bool {
			return req.ContainsDate(d.Key().Date) && req.MatchesCamera(d.CameraID)
		})
		if err != nil {
			return nil, err
		}
		storage.SortDailySummaries(rows)
		return storage.Limit(rows, req.Limit), nil
	})
}

// QueryAnomalies retrieves anomalies matching the request
func (s *Storage) QueryAnomalies(ctx context.Context, req storage.QueryRequest) ([]traffic.Anomaly, error) {
	return withContext(ctx, "query anomalies", func() ([]traffic.Anomaly, error) {
		rows, err := scan(ctx, s.db, prefixAnomaly, req.Start, req.End, func(a traffic.Anomaly) bool {
			return req.MatchesCamera(a.CameraID)
		})
		if err != nil {
			return nil, err
		}
		storage.SortAnomalies(rows)
		return storage.Limit(rows, req.Limit), nil
	})
}

// QueryFetchLogs retrieves audit rows matching the request. CameraID is ignored.
func (s *Storage) QueryFetchLogs(ctx context.Context, req storage.QueryRequest) ([]traffic.FetchLogEntry, error) {
	return withContext(ctx, "query fetch logs", func() ([]traffic.FetchLogEntry, error) {
		rows, err := scan[traffic.FetchLogEntry](ctx, s.db, prefixFetchLog, req.Start, req.End, nil)
		if err != nil {
			return nil, err
		}
		storage.SortFetchLogs(rows)
		return storage.Limit(rows, req.Limit), nil
	})
}

// RefreshViews is a no-op; badger has no derived views
func (s *Storage) RefreshViews(ctx context.Context) error {
	return nil
}

// DeleteBefore removes rows whose key time is before opts.Before.
// Daily summaries compare by calendar date. Expired keys are collected in a
// read transaction and removed through a write batch, so a sweep of any size
// fits; a failed sweep may leave part of the expired rows in place.
func (s *Storage) DeleteBefore(ctx context.Context, opts storage.DeleteOptions) (int64, error) {
	return withContext(ctx, "delete before", func() (int64, error) {
		var removed int64
		for _, table := range storage.Tables {
			if !opts.Includes(table) {
				continue
			}
			keys, err := s.expiredKeys(ctx, prefixes[table], opts.Before)
			if err != nil {
				return removed, err
			}
			if err := deleteKeys(s.db, keys); err != nil {
				return removed, err
			}
			removed += int64(len(keys))
		}
		return removed, nil
	})
}

// expiredKeys lists the keys under prefix that fall before the cutoff.
func (s *Storage) expiredKeys(ctx context.Context, prefix byte, before time.Time) ([][]byte, error) {
	cutoffDate := before.Format(traffic.DateLayout)
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte{prefix}
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts := keyTime(it.Item().Key())
			expired := ts.Before(before)
			if prefix == prefixSummary {
				expired = ts.UTC().Format(traffic.DateLayout) < cutoffDate
			} else if !expired {
				// Keys are time ordered within a prefix
				break
			}
			if expired {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	return keys, err
}

func deleteKeys(db *badger.DB, keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete row: %w", err)
		}
	}
	return wb.Flush()
}

// Close releases sequences and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return errors.Join(s.anomalySeq.Release(), s.fetchSeq.Release(), s.db.Close())
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns nil when GC was not needed.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns row counts per table
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	return withContext(ctx, "stats", func() (*storage.Stats, error) {
		stats := &storage.Stats{Backend: "badger", Rows: make(map[storage.Table]uint64, len(storage.Tables))}

		err := s.db.View(func(txn *badger.Txn) error {
			for _, table := range storage.Tables {
				prefix := prefixes[table]

				opts := badger.DefaultIteratorOptions
				opts.PrefetchValues = false
				opts.Prefix = []byte{prefix}
				it := txn.NewIterator(opts)

				var n uint64
				for it.Rewind(); it.Valid(); it.Next() {
					n++
					if prefix == prefixSnapshot {
						if ts := keyTime(it.Item().Key()); ts.After(stats.NewestSnapshot) {
							stats.NewestSnapshot = ts
						}
					}
				}
				it.Close()
				stats.Rows[table] = n
			}
			return nil
		})
		return stats, err
	})
}

// makeKey creates a sortable key: prefix + timestamp + suffix
// Format: [prefix (1 byte)][timestamp (8 bytes)][key hash or sequence (8 bytes)]
func makeKey(prefix byte, ts time.Time, suffix uint64) []byte {
	key := make([]byte, keyLen)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:9], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[9:17], suffix)
	return key
}

// keyTime extracts the timestamp from a storage key
func keyTime(key []byte) time.Time {
	if len(key) < keyLen {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[1:9]))).UTC()
}

// hashOf hashes the non-time parts of a natural key
func hashOf(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		d.WriteString(p)
		d.Write([]byte{0})
	}
	return d.Sum64()
}
