// Package sqlite implements storage.Store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Storage implements storage.Store using SQLite.
// Times are stored as unix nanoseconds so range filters stay numeric.
type Storage struct {
	db   *sql.DB
	path string
}

// New opens the database at path and creates the schema.
func New(path string) (*Storage, error) {
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps :memory: on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Storage{db: db, path: path}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *Storage) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hourly_stats (
		hour INTEGER NOT NULL,
		camera_id TEXT NOT NULL,
		vehicle_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		avg_confidence REAL,
		PRIMARY KEY (hour, camera_id, vehicle_type, direction)
	)`,
	`CREATE TABLE IF NOT EXISTS live_snapshots (
		snapshot_time INTEGER NOT NULL,
		camera_id TEXT NOT NULL,
		car_in INTEGER NOT NULL DEFAULT 0,
		car_out INTEGER NOT NULL DEFAULT 0,
		bus_in INTEGER NOT NULL DEFAULT 0,
		bus_out INTEGER NOT NULL DEFAULT 0,
		truck_in INTEGER NOT NULL DEFAULT 0,
		truck_out INTEGER NOT NULL DEFAULT 0,
		total_in INTEGER NOT NULL DEFAULT 0,
		total_out INTEGER NOT NULL DEFAULT 0,
		avg_confidence REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_time, camera_id)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_summaries (
		summary_date TEXT NOT NULL,
		camera_id TEXT NOT NULL,
		car_in_total INTEGER NOT NULL DEFAULT 0,
		car_out_total INTEGER NOT NULL DEFAULT 0,
		bus_in_total INTEGER NOT NULL DEFAULT 0,
		bus_out_total INTEGER NOT NULL DEFAULT 0,
		truck_in_total INTEGER NOT NULL DEFAULT 0,
		truck_out_total INTEGER NOT NULL DEFAULT 0,
		total_in INTEGER NOT NULL DEFAULT 0,
		total_out INTEGER NOT NULL DEFAULT 0,
		peak_hour_in INTEGER NOT NULL DEFAULT 0,
		peak_hour_out INTEGER NOT NULL DEFAULT 0,
		peak_hour_value INTEGER NOT NULL DEFAULT 0,
		avg_confidence REAL,
		hours_with_data INTEGER NOT NULL DEFAULT 0,
		data_completeness REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (summary_date, camera_id)
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		detected_at INTEGER NOT NULL,
		camera_id TEXT NOT NULL,
		anomaly_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		reference_period TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		metric_value REAL NOT NULL,
		threshold_value REAL NOT NULL,
		deviation_percentage REAL NOT NULL,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_detected_at ON anomalies(detected_at)`,
	`CREATE TABLE IF NOT EXISTS fetch_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fetch_time INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		status TEXT NOT NULL,
		records_fetched INTEGER NOT NULL DEFAULT 0,
		records_inserted INTEGER NOT NULL DEFAULT 0,
		records_updated INTEGER NOT NULL DEFAULT 0,
		records_failed INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		error_details TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_logs_fetch_time ON fetch_logs(fetch_time)`,
}

func (s *Storage) createSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.path
}

// upsertTable describes how one record type is written by natural key.
type upsertTable[T any] struct {
	table   string
	keyCols []string
	valCols []string
	args    func(T) []any // key columns first, then value columns
}

func (u upsertTable[T]) existsSQL() string {
	conds := make([]string, len(u.keyCols))
	for i, c := range u.keyCols {
		conds[i] = c + " = ?"
	}
	return fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s)", u.table, strings.Join(conds, " AND "))
}

func (u upsertTable[T]) insertSQL(policy storage.ConflictPolicy) string {
	cols := append(append([]string{}, u.keyCols...), u.valCols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	conflict := "DO NOTHING"
	if policy == storage.Update {
		sets := make([]string, len(u.valCols))
		for i, c := range u.valCols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		u.table, strings.Join(cols, ", "), placeholders, strings.Join(u.keyCols, ", "), conflict)
}

// upsert applies rows in one transaction, counting inserts and updates.
func upsert[T any](ctx context.Context, db *sql.DB, u upsertTable[T], rows []T, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	var res storage.WriteResult
	if len(rows) == 0 {
		return res, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()

	existsQ, insertQ := u.existsSQL(), u.insertSQL(policy)
	for _, r := range rows {
		args := u.args(r)

		var exists bool
		if err := tx.QueryRowContext(ctx, existsQ, args[:len(u.keyCols)]...).Scan(&exists); err != nil {
			return storage.WriteResult{}, err
		}
		if exists && policy == storage.Ignore {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertQ, args...); err != nil {
			return storage.WriteResult{}, err
		}
		if exists {
			res.Updated++
		} else {
			res.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.WriteResult{}, err
	}
	return res, nil
}

var hourlyTable = upsertTable[traffic.HourlyStat]{
	table:   "hourly_stats",
	keyCols: []string{"hour", "camera_id", "vehicle_type", "direction"},
	valCols: []string{"count", "avg_confidence"},
	args: func(h traffic.HourlyStat) []any {
		k := h.Key()
		return []any{k.Hour.UnixNano(), k.CameraID, string(k.VehicleType), string(k.Direction), h.Count, nullFloat(h.AvgConfidence)}
	},
}

var snapshotTable = upsertTable[traffic.LiveSnapshot]{
	table:   "live_snapshots",
	keyCols: []string{"snapshot_time", "camera_id"},
	valCols: []string{"car_in", "car_out", "bus_in", "bus_out", "truck_in", "truck_out", "total_in", "total_out", "avg_confidence"},
	args: func(l traffic.LiveSnapshot) []any {
		return []any{l.SnapshotTime.UnixNano(), l.CameraID, l.CarIn, l.CarOut, l.BusIn, l.BusOut, l.TruckIn, l.TruckOut,
			l.TotalIn, l.TotalOut, l.AvgConfidence}
	},
}

var summaryTable = upsertTable[traffic.DailySummary]{
	table:   "daily_summaries",
	keyCols: []string{"summary_date", "camera_id"},
	valCols: []string{"car_in_total", "car_out_total", "bus_in_total", "bus_out_total", "truck_in_total", "truck_out_total",
		"total_in", "total_out", "peak_hour_in", "peak_hour_out", "peak_hour_value", "avg_confidence",
		"hours_with_data", "data_completeness"},
	args: func(d traffic.DailySummary) []any {
		return []any{d.Key().Date, d.CameraID, d.CarInTotal, d.CarOutTotal, d.BusInTotal, d.BusOutTotal, d.TruckInTotal,
			d.TruckOutTotal, d.TotalIn, d.TotalOut, d.PeakHourIn, d.PeakHourOut, d.PeakHourValue,
			nullFloat(d.AvgConfidence), d.HoursWithData, d.DataCompleteness}
	},
}

// UpsertHourlyStats stores hourly stats by natural key
func (s *Storage) UpsertHourlyStats(ctx context.Context, stats []traffic.HourlyStat, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	res, err := upsert(ctx, s.db, hourlyTable, stats, policy)
	return res, traffic.NewStorageError("upsert hourly stats", err)
}

// UpsertSnapshots stores live snapshots by natural key
func (s *Storage) UpsertSnapshots(ctx context.Context, snaps []traffic.LiveSnapshot, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	res, err := upsert(ctx, s.db, snapshotTable, snaps, policy)
	return res, traffic.NewStorageError("upsert snapshots", err)
}

// UpsertDailySummaries stores daily summaries by natural key
func (s *Storage) UpsertDailySummaries(ctx context.Context, sums []traffic.DailySummary, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	res, err := upsert(ctx, s.db, summaryTable, sums, policy)
	return res, traffic.NewStorageError("upsert daily summaries", err)
}

// InsertAnomalies appends anomaly rows in one transaction
func (s *Storage) InsertAnomalies(ctx context.Context, anomalies []traffic.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	err := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, a := range anomalies {
			meta, err := marshalJSON(a.Metadata)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO anomalies (detected_at, camera_id, anomaly_type, severity, reference_period,
					metric_name, metric_value, threshold_value, deviation_percentage, metadata)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.DetectedAt.UnixNano(), a.CameraID, string(a.AnomalyType), string(a.Severity), a.ReferencePeriod,
				a.MetricName, a.MetricValue, a.ThresholdValue, a.DeviationPercentage, meta)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	}()
	return traffic.NewStorageError("insert anomalies", err)
}

// AppendFetchLog appends one audit row
func (s *Storage) AppendFetchLog(ctx context.Context, e traffic.FetchLogEntry) error {
	details, err := marshalJSON(e.ErrorDetails)
	if err != nil {
		return traffic.NewStorageError("append fetch log", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fetch_logs (fetch_time, endpoint, status, records_fetched, records_inserted,
			records_updated, records_failed, response_time_ms, error_message, error_details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FetchTime.UnixNano(), e.Endpoint, string(e.Status), e.RecordsFetched, e.RecordsInserted,
		e.RecordsUpdated, e.RecordsFailed, e.ResponseTimeMS, nullString(e.ErrorMessage), details)
	return traffic.NewStorageError("append fetch log", err)
}

// where builds a WHERE clause for a time column, optional camera column and limit.
func where(timeCol, cameraCol, orderBy string, req storage.QueryRequest) (string, []any) {
	var conds []string
	var args []any
	if !req.Start.IsZero() {
		conds = append(conds, timeCol+" >= ?")
		args = append(args, req.Start.UnixNano())
	}
	if !req.End.IsZero() {
		conds = append(conds, timeCol+" < ?")
		args = append(args, req.End.UnixNano())
	}
	if cameraCol != "" && req.CameraID != "" {
		conds = append(conds, cameraCol+" = ?")
		args = append(args, req.CameraID)
	}
	return finishClause(conds, args, orderBy, req.Limit)
}

func finishClause(conds []string, args []any, orderBy string, limit int) (string, []any) {
	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}

// QueryHourlyStats retrieves hourly stats matching the request
func (s *Storage) QueryHourlyStats(ctx context.Context, req storage.QueryRequest) ([]traffic.HourlyStat, error) {
	clause, args := where("hour", "camera_id", "hour, camera_id, vehicle_type, direction", req)
	rows, err := s.db.QueryContext(ctx,
		"SELECT hour, camera_id, vehicle_type, direction, count, avg_confidence FROM hourly_stats"+clause, args...)
	if err != nil {
		return nil, traffic.NewStorageError("query hourly stats", err)
	}
	defer rows.Close()

	var results []traffic.HourlyStat
	for rows.Next() {
		var h traffic.HourlyStat
		var hour int64
		var conf sql.NullFloat64
		if err := rows.Scan(&hour, &h.CameraID, &h.VehicleType, &h.Direction, &h.Count, &conf); err != nil {
			return nil, traffic.NewStorageError("query hourly stats", err)
		}
		h.Hour = fromNanos(hour)
		h.AvgConfidence = floatPtr(conf)
		results = append(results, h)
	}
	return results, traffic.NewStorageError("query hourly stats", rows.Err())
}

// QuerySnapshots retrieves snapshots matching the request
func (s *Storage) QuerySnapshots(ctx context.Context, req storage.QueryRequest) ([]traffic.LiveSnapshot, error) {
	clause, args := where("snapshot_time", "camera_id", "snapshot_time, camera_id", req)
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_time, camera_id, car_in, car_out, bus_in, bus_out, truck_in, truck_out,
			total_in, total_out, avg_confidence
		FROM live_snapshots`+clause, args...)
	if err != nil {
		return nil, traffic.NewStorageError("query snapshots", err)
	}
	defer rows.Close()

	var results []traffic.LiveSnapshot
	for rows.Next() {
		var l traffic.LiveSnapshot
		var at int64
		if err := rows.Scan(&at, &l.CameraID, &l.CarIn, &l.CarOut, &l.BusIn, &l.BusOut, &l.TruckIn, &l.TruckOut,
			&l.TotalIn, &l.TotalOut, &l.AvgConfidence); err != nil {
			return nil, traffic.NewStorageError("query snapshots", err)
		}
		l.SnapshotTime = fromNanos(at)
		results = append(results, l)
	}
	return results, traffic.NewStorageError("query snapshots", rows.Err())
}

// QueryDailySummaries retrieves summaries matching the request by calendar date
func (s *Storage) QueryDailySummaries(ctx context.Context, req storage.QueryRequest) ([]traffic.DailySummary, error) {
	var conds []string
	var args []any
	from, to := req.DateRange()
	if from != "" {
		conds = append(conds, "summary_date >= ?")
		args = append(args, from)
	}
	if to != "" {
		conds = append(conds, "summary_date < ?")
		args = append(args, to)
	}
	if req.CameraID != "" {
		conds = append(conds, "camera_id = ?")
		args = append(args, req.CameraID)
	}
	clause, args := finishClause(conds, args, "summary_date, camera_id", req.Limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT summary_date, camera_id, car_in_total, car_out_total, bus_in_total, bus_out_total,
			truck_in_total, truck_out_total, total_in, total_out, peak_hour_in, peak_hour_out,
			peak_hour_value, avg_confidence, hours_with_data, data_completeness
		FROM daily_summaries`+clause, args...)
	if err != nil {
		return nil, traffic.NewStorageError("query daily summaries", err)
	}
	defer rows.Close()

	var results []traffic.DailySummary
	for rows.Next() {
		var d traffic.DailySummary
		var date string
		var conf sql.NullFloat64
		if err := rows.Scan(&date, &d.CameraID, &d.CarInTotal, &d.CarOutTotal, &d.BusInTotal, &d.BusOutTotal,
			&d.TruckInTotal, &d.TruckOutTotal, &d.TotalIn, &d.TotalOut, &d.PeakHourIn, &d.PeakHourOut,
			&d.PeakHourValue, &conf, &d.HoursWithData, &d.DataCompleteness); err != nil {
			return nil, traffic.NewStorageError("query daily summaries", err)
		}
		if d.Date, err = time.Parse(traffic.DateLayout, date); err != nil {
			return nil, traffic.NewStorageError("query daily summaries", err)
		}
		d.AvgConfidence = floatPtr(conf)
		results = append(results, d)
	}
	return results, traffic.NewStorageError("query daily summaries", rows.Err())
}

// QueryAnomalies retrieves anomalies matching the request
func (s *Storage) QueryAnomalies(ctx context.Context, req storage.QueryRequest) ([]traffic.Anomaly, error) {
	clause, args := where("detected_at", "camera_id", "detected_at, id", req)
	rows, err := s.db.QueryContext(ctx, `
		SELECT detected_at, camera_id, anomaly_type, severity, reference_period, metric_name,
			metric_value, threshold_value, deviation_percentage, metadata
		FROM anomalies`+clause, args...)
	if err != nil {
		return nil, traffic.NewStorageError("query anomalies", err)
	}
	defer rows.Close()

	var results []traffic.Anomaly
	for rows.Next() {
		var a traffic.Anomaly
		var at int64
		var meta sql.NullString
		if err := rows.Scan(&at, &a.CameraID, &a.AnomalyType, &a.Severity, &a.ReferencePeriod, &a.MetricName,
			&a.MetricValue, &a.ThresholdValue, &a.DeviationPercentage, &meta); err != nil {
			return nil, traffic.NewStorageError("query anomalies", err)
		}
		a.DetectedAt = fromNanos(at)
		if a.Metadata, err = unmarshalJSON(meta); err != nil {
			return nil, traffic.NewStorageError("query anomalies", err)
		}
		results = append(results, a)
	}
	return results, traffic.NewStorageError("query anomalies", rows.Err())
}

// QueryFetchLogs retrieves audit rows matching the request. CameraID is ignored.
func (s *Storage) QueryFetchLogs(ctx context.Context, req storage.QueryRequest) ([]traffic.FetchLogEntry, error) {
	clause, args := where("fetch_time", "", "fetch_time, id", req)
	rows, err := s.db.QueryContext(ctx, `
		SELECT fetch_time, endpoint, status, records_fetched, records_inserted, records_updated,
			records_failed, response_time_ms, error_message, error_details
		FROM fetch_logs`+clause, args...)
	if err != nil {
		return nil, traffic.NewStorageError("query fetch logs", err)
	}
	defer rows.Close()

	var results []traffic.FetchLogEntry
	for rows.Next() {
		var e traffic.FetchLogEntry
		var at int64
		var msg, details sql.NullString
		if err := rows.Scan(&at, &e.Endpoint, &e.Status, &e.RecordsFetched, &e.RecordsInserted, &e.RecordsUpdated,
			&e.RecordsFailed, &e.ResponseTimeMS, &msg, &details); err != nil {
			return nil, traffic.NewStorageError("query fetch logs", err)
		}
		e.FetchTime = fromNanos(at)
		e.ErrorMessage = msg.String
		if e.ErrorDetails, err = unmarshalJSON(details); err != nil {
			return nil, traffic.NewStorageError("query fetch logs", err)
		}
		results = append(results, e)
	}
	return results, traffic.NewStorageError("query fetch logs", rows.Err())
}

// RefreshViews is a no-op; the sqlite schema has no materialized views
func (s *Storage) RefreshViews(ctx context.Context) error {
	return nil
}

var timeColumns = map[storage.Table]string{
	storage.TableHourlyStats: "hour",
	storage.TableSnapshots:   "snapshot_time",
	storage.TableAnomalies:   "detected_at",
	storage.TableFetchLogs:   "fetch_time",
}

// DeleteBefore removes rows older than opts.Before in one transaction.
// Daily summaries compare by calendar date.
func (s *Storage) DeleteBefore(ctx context.Context, opts storage.DeleteOptions) (int64, error) {
	var removed int64
	err := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, table := range storage.Tables {
			if !opts.Includes(table) {
				continue
			}

			var res sql.Result
			if table == storage.TableDailySummaries {
				res, err = tx.ExecContext(ctx, "DELETE FROM daily_summaries WHERE summary_date < ?",
					opts.Before.Format(traffic.DateLayout))
			} else {
				res, err = tx.ExecContext(ctx,
					fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, timeColumns[table]), opts.Before.UnixNano())
			}
			if err != nil {
				return err
			}
			n, rerr := res.RowsAffected()
			if rerr != nil {
				return rerr
			}
			removed += n
		}
		return tx.Commit()
	}()
	if err != nil {
		return 0, traffic.NewStorageError("delete before", err)
	}
	return removed, nil
}

// Stats returns row counts per table
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{Backend: "sqlite", Rows: make(map[storage.Table]uint64, len(storage.Tables))}
	for _, table := range storage.Tables {
		var n uint64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, traffic.NewStorageError("stats", err)
		}
		stats.Rows[table] = n
	}

	var newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(snapshot_time) FROM live_snapshots").Scan(&newest); err != nil {
		return nil, traffic.NewStorageError("stats", err)
	}
	if newest.Valid {
		stats.NewestSnapshot = fromNanos(newest.Int64)
	}
	return stats, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalJSON(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	return m, nil
}
