// Package postgres implements storage.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Config holds connection settings.
type Config struct {
	// DSN is a libpq-style connection string or postgres:// URL
	DSN string

	// MaxConns caps the pool size (0 = pgx default)
	MaxConns int32

	// SkipMigrate leaves the schema untouched on startup
	SkipMigrate bool
}

// Storage implements storage.Store using PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and creates the schema unless SkipMigrate is set.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Storage{pool: pool}
	if !cfg.SkipMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates tables, indexes and the camera_daily_trends view if missing.
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hourly_stats (
		hour TIMESTAMPTZ NOT NULL,
		camera_id TEXT NOT NULL,
		vehicle_type TEXT NOT NULL CHECK (vehicle_type IN ('car', 'bus', 'truck')),
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		count BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
		avg_confidence DOUBLE PRECISION,
		PRIMARY KEY (hour, camera_id, vehicle_type, direction)
	)`,
	`CREATE TABLE IF NOT EXISTS live_snapshots (
		snapshot_time TIMESTAMPTZ NOT NULL,
		camera_id TEXT NOT NULL,
		car_in BIGINT NOT NULL DEFAULT 0,
		car_out BIGINT NOT NULL DEFAULT 0,
		bus_in BIGINT NOT NULL DEFAULT 0,
		bus_out BIGINT NOT NULL DEFAULT 0,
		truck_in BIGINT NOT NULL DEFAULT 0,
		truck_out BIGINT NOT NULL DEFAULT 0,
		total_in BIGINT NOT NULL DEFAULT 0,
		total_out BIGINT NOT NULL DEFAULT 0,
		avg_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_time, camera_id)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_summaries (
		summary_date DATE NOT NULL,
		camera_id TEXT NOT NULL,
		car_in_total BIGINT NOT NULL DEFAULT 0,
		car_out_total BIGINT NOT NULL DEFAULT 0,
		bus_in_total BIGINT NOT NULL DEFAULT 0,
		bus_out_total BIGINT NOT NULL DEFAULT 0,
		truck_in_total BIGINT NOT NULL DEFAULT 0,
		truck_out_total BIGINT NOT NULL DEFAULT 0,
		total_in BIGINT NOT NULL DEFAULT 0,
		total_out BIGINT NOT NULL DEFAULT 0,
		peak_hour_in INTEGER NOT NULL DEFAULT 0,
		peak_hour_out INTEGER NOT NULL DEFAULT 0,
		peak_hour_value BIGINT NOT NULL DEFAULT 0,
		avg_confidence DOUBLE PRECISION,
		hours_with_data INTEGER NOT NULL DEFAULT 0,
		data_completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (summary_date, camera_id)
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id BIGSERIAL PRIMARY KEY,
		detected_at TIMESTAMPTZ NOT NULL,
		camera_id TEXT NOT NULL,
		anomaly_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		reference_period TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		metric_value DOUBLE PRECISION NOT NULL,
		threshold_value DOUBLE PRECISION NOT NULL,
		deviation_percentage DOUBLE PRECISION NOT NULL,
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_detected_at ON anomalies (detected_at)`,
	`CREATE TABLE IF NOT EXISTS fetch_logs (
		id BIGSERIAL PRIMARY KEY,
		fetch_time TIMESTAMPTZ NOT NULL,
		endpoint TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('success', 'error')),
		records_fetched INTEGER NOT NULL DEFAULT 0,
		records_inserted INTEGER NOT NULL DEFAULT 0,
		records_updated INTEGER NOT NULL DEFAULT 0,
		records_failed INTEGER NOT NULL DEFAULT 0,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT,
		error_details JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_logs_fetch_time ON fetch_logs (fetch_time)`,
	`CREATE MATERIALIZED VIEW IF NOT EXISTS camera_daily_trends AS
		SELECT camera_id,
			date_trunc('week', summary_date)::date AS week,
			SUM(total_in) AS total_in,
			SUM(total_out) AS total_out,
			AVG(data_completeness) AS avg_completeness,
			COUNT(*) AS days
		FROM daily_summaries
		GROUP BY camera_id, date_trunc('week', summary_date)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_camera_daily_trends ON camera_daily_trends (camera_id, week)`,
}

// upsertTable describes how one record type is written by natural key.
type upsertTable[T any] struct {
	table   string
	keyCols []string
	valCols []string
	casts   map[string]string // column -> SQL cast for its placeholder
	args    func(T) []any     // key columns first, then value columns
}

// insertSQL returns an INSERT ... ON CONFLICT statement. A returned row
// reports whether it was an insert (xmax = 0); no row means the key existed
// and the Ignore policy kept it.
func (u upsertTable[T]) insertSQL(policy storage.ConflictPolicy) string {
	cols := append(append([]string{}, u.keyCols...), u.valCols...)
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d%s", i+1, u.casts[c])
	}

	conflict := "DO NOTHING"
	if policy == storage.Update {
		sets := make([]string, len(u.valCols))
		for i, c := range u.valCols {
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING (xmax = 0) AS inserted",
		u.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(u.keyCols, ", "), conflict)
}

// upsertBatchSize is how many statements go to the server per round trip.
const upsertBatchSize = 1000

// upsert applies rows in one transaction, counting inserts and updates.
// Statements are pipelined in pgx batches of upsertBatchSize.
func upsert[T any](ctx context.Context, pool *pgxpool.Pool, u upsertTable[T], rows []T, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	var res storage.WriteResult
	if len(rows) == 0 {
		return res, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := u.insertSQL(policy)
	for _, c := range chunks(len(rows), upsertBatchSize) {
		batch := &pgx.Batch{}
		for _, r := range rows[c[0]:c[1]] {
			batch.Queue(q, u.args(r)...)
		}
		written, err := readUpserts(tx.SendBatch(ctx, batch), batch.Len())
		if err != nil {
			return storage.WriteResult{}, err
		}
		res.Add(written)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.WriteResult{}, err
	}
	return res, nil
}

// readUpserts scans one RETURNING row per queued statement and closes br.
func readUpserts(br pgx.BatchResults, n int) (storage.WriteResult, error) {
	var res storage.WriteResult
	for i := 0; i < n; i++ {
		var inserted bool
		err := br.QueryRow().Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case err != nil:
			_ = br.Close()
			return storage.WriteResult{}, err
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}
	return res, br.Close()
}

// chunks splits [0, n) into half-open ranges of at most size.
func chunks(n, size int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}

var hourlyTable = upsertTable[traffic.HourlyStat]{
	table:   "hourly_stats",
	keyCols: []string{"hour", "camera_id", "vehicle_type", "direction"},
	valCols: []string{"count", "avg_confidence"},
	args: func(h traffic.HourlyStat) []any {
		k := h.Key()
		return []any{k.Hour, k.CameraID, string(k.VehicleType), string(k.Direction), h.Count, h.AvgConfidence}
	},
}

var snapshotTable = upsertTable[traffic.LiveSnapshot]{
	table:   "live_snapshots",
	keyCols: []string{"snapshot_time", "camera_id"},
	valCols: []string{"car_in", "car_out", "bus_in", "bus_out", "truck_in", "truck_out", "total_in", "total_out", "avg_confidence"},
	args: func(l traffic.LiveSnapshot) []any {
		return []any{l.SnapshotTime.UTC(), l.CameraID, l.CarIn, l.CarOut, l.BusIn, l.BusOut, l.TruckIn, l.TruckOut,
			l.TotalIn, l.TotalOut, l.AvgConfidence}
	},
}

var summaryTable = upsertTable[traffic.DailySummary]{
	table:   "daily_summaries",
	keyCols: []string{"summary_date", "camera_id"},
	valCols: []string{"car_in_total", "car_out_total", "bus_in_total", "bus_out_total", "truck_in_total", "truck_out_total",
		"total_in", "total_out", "peak_hour_in", "peak_hour_out", "peak_hour_value", "avg_confidence",
		"hours_with_data", "data_completeness"},
	casts: map[string]string{"summary_date": "::date"},
	args: func(d traffic.DailySummary) []any {
		return []any{d.Key().Date, d.CameraID, d.CarInTotal, d.CarOutTotal, d.BusInTotal, d.BusOutTotal, d.TruckInTotal,
			d.TruckOutTotal, d.TotalIn, d.TotalOut, d.PeakHourIn, d.PeakHourOut, d.PeakHourValue,
			d.AvgConfidence, d.HoursWithData, d.DataCompleteness}
	},
}

// UpsertHourlyStats stores hourly stats by natural key
func (s *Storage) UpsertHourlyStats(ctx context.Context, stats []traffic.HourlyStat, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	res, err := upsert(ctx, s.pool, hourlyTable, stats, policy)
	return res, traffic.NewStorageError("upsert hourly stats", err)
}

// UpsertSnapshots stores live snapshots by natural key
func (s *Storage) UpsertSnapshots(ctx context.Context, snaps []traffic.LiveSnapshot, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	res, err := upsert(ctx, s.pool, snapshotTable, snaps, policy)
	return res, traffic.NewStorageError("upsert snapshots", err)
}

// UpsertDailySummaries stores daily summaries by natural key
func (s *Storage) UpsertDailySummaries(ctx context.Context, sums []traffic.DailySummary, policy storage.ConflictPolicy) (storage.WriteResult, error) {
	res, err := upsert(ctx, s.pool, summaryTable, sums, policy)
	return res, traffic.NewStorageError("upsert daily summaries", err)
}

// InsertAnomalies appends anomaly rows in one batch transaction
func (s *Storage) InsertAnomalies(ctx context.Context, anomalies []traffic.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range anomalies {
			batch.Queue(`
				INSERT INTO anomalies (detected_at, camera_id, anomaly_type, severity, reference_period,
					metric_name, metric_value, threshold_value, deviation_percentage, metadata)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				a.DetectedAt.UTC(), a.CameraID, string(a.AnomalyType), string(a.Severity), a.ReferencePeriod,
				a.MetricName, a.MetricValue, a.ThresholdValue, a.DeviationPercentage, jsonOrNil(a.Metadata))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return traffic.NewStorageError("insert anomalies", err)
}

// AppendFetchLog appends one audit row
func (s *Storage) AppendFetchLog(ctx context.Context, e traffic.FetchLogEntry) error {
	var msg *string
	if e.ErrorMessage != "" {
		msg = &e.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fetch_logs (fetch_time, endpoint, status, records_fetched, records_inserted,
			records_updated, records_failed, response_time_ms, error_message, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.FetchTime.UTC(), e.Endpoint, string(e.Status), e.RecordsFetched, e.RecordsInserted,
		e.RecordsUpdated, e.RecordsFailed, e.ResponseTimeMS, msg, jsonOrNil(e.ErrorDetails))
	return traffic.NewStorageError("append fetch log", err)
}

// clause accumulates WHERE conditions with numbered placeholders.
type clause struct {
	conds []string
	args  []any
}

func (c *clause) add(cond string, arg any) {
	c.args = append(c.args, arg)
	c.conds = append(c.conds, fmt.Sprintf(cond, len(c.args)))
}

func (c *clause) build(orderBy string, limit int) string {
	var b strings.Builder
	if len(c.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(c.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if limit > 0 {
		c.args = append(c.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(c.args))
	}
	return b.String()
}

func timeClause(timeCol, cameraCol string, req storage.QueryRequest) *clause {
	c := &clause{}
	if !req.Start.IsZero() {
		c.add(timeCol+" >= $%d", req.Start)
	}
	if !req.End.IsZero() {
		c.add(timeCol+" < $%d", req.End)
	}
	if cameraCol != "" && req.CameraID != "" {
		c.add(cameraCol+" = $%d", req.CameraID)
	}
	return c
}

// QueryHourlyStats retrieves hourly stats matching the request
func (s *Storage) QueryHourlyStats(ctx context.Context, req storage.QueryRequest) ([]traffic.HourlyStat, error) {
	c := timeClause("hour", "camera_id", req)
	q := "SELECT hour, camera_id, vehicle_type, direction, count, avg_confidence FROM hourly_stats" +
		c.build("hour, camera_id, vehicle_type, direction", req.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, traffic.NewStorageError("query hourly stats", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.HourlyStat, error) {
		var h traffic.HourlyStat
		var vt, dir string
		err := row.Scan(&h.Hour, &h.CameraID, &vt, &dir, &h.Count, &h.AvgConfidence)
		h.Hour = h.Hour.UTC()
		h.VehicleType, h.Direction = traffic.VehicleType(vt), traffic.Direction(dir)
		return h, err
	})
	return results, traffic.NewStorageError("query hourly stats", err)
}

// QuerySnapshots retrieves snapshots matching the request
func (s *Storage) QuerySnapshots(ctx context.Context, req storage.QueryRequest) ([]traffic.LiveSnapshot, error) {
	c := timeClause("snapshot_time", "camera_id", req)
	q := `SELECT snapshot_time, camera_id, car_in, car_out, bus_in, bus_out, truck_in, truck_out,
			total_in, total_out, avg_confidence
		FROM live_snapshots` + c.build("snapshot_time, camera_id", req.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, traffic.NewStorageError("query snapshots", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.LiveSnapshot, error) {
		var l traffic.LiveSnapshot
		err := row.Scan(&l.SnapshotTime, &l.CameraID, &l.CarIn, &l.CarOut, &l.BusIn, &l.BusOut, &l.TruckIn,
			&l.TruckOut, &l.TotalIn, &l.TotalOut, &l.AvgConfidence)
		l.SnapshotTime = l.SnapshotTime.UTC()
		return l, err
	})
	return results, traffic.NewStorageError("query snapshots", err)
}

// QueryDailySummaries retrieves summaries matching the request by calendar date
func (s *Storage) QueryDailySummaries(ctx context.Context, req storage.QueryRequest) ([]traffic.DailySummary, error) {
	c := &clause{}
	from, to := req.DateRange()
	if from != "" {
		c.add("summary_date >= $%d::date", from)
	}
	if to != "" {
		c.add("summary_date < $%d::date", to)
	}
	if req.CameraID != "" {
		c.add("camera_id = $%d", req.CameraID)
	}
	q := `SELECT to_char(summary_date, 'YYYY-MM-DD'), camera_id, car_in_total, car_out_total, bus_in_total,
			bus_out_total, truck_in_total, truck_out_total, total_in, total_out, peak_hour_in, peak_hour_out,
			peak_hour_value, avg_confidence, hours_with_data, data_completeness
		FROM daily_summaries` + c.build("summary_date, camera_id", req.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, traffic.NewStorageError("query daily summaries", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.DailySummary, error) {
		var d traffic.DailySummary
		var date string
		if err := row.Scan(&date, &d.CameraID, &d.CarInTotal, &d.CarOutTotal, &d.BusInTotal, &d.BusOutTotal,
			&d.TruckInTotal, &d.TruckOutTotal, &d.TotalIn, &d.TotalOut, &d.PeakHourIn, &d.PeakHourOut,
			&d.PeakHourValue, &d.AvgConfidence, &d.HoursWithData, &d.DataCompleteness); err != nil {
			return d, err
		}
		var err error
		d.Date, err = time.Parse(traffic.DateLayout, date)
		return d, err
	})
	return results, traffic.NewStorageError("query daily summaries", err)
}

// QueryAnomalies retrieves anomalies matching the request
func (s *Storage) QueryAnomalies(ctx context.Context, req storage.QueryRequest) ([]traffic.Anomaly, error) {
	c := timeClause("detected_at", "camera_id", req)
	q := `SELECT detected_at, camera_id, anomaly_type, severity, reference_period, metric_name,
			metric_value, threshold_value, deviation_percentage, metadata
		FROM anomalies` + c.build("detected_at, id", req.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, traffic.NewStorageError("query anomalies", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.Anomaly, error) {
		var a traffic.Anomaly
		var typ, sev string
		err := row.Scan(&a.DetectedAt, &a.CameraID, &typ, &sev, &a.ReferencePeriod, &a.MetricName,
			&a.MetricValue, &a.ThresholdValue, &a.DeviationPercentage, &a.Metadata)
		a.DetectedAt = a.DetectedAt.UTC()
		a.AnomalyType, a.Severity = traffic.AnomalyType(typ), traffic.Severity(sev)
		return a, err
	})
	return results, traffic.NewStorageError("query anomalies", err)
}

// QueryFetchLogs retrieves audit rows matching the request. CameraID is ignored.
func (s *Storage) QueryFetchLogs(ctx context.Context, req storage.QueryRequest) ([]traffic.FetchLogEntry, error) {
	c := timeClause("fetch_time", "", req)
	q := `SELECT fetch_time, endpoint, status, records_fetched, records_inserted, records_updated,
			records_failed, response_time_ms, COALESCE(error_message, ''), error_details
		FROM fetch_logs` + c.build("fetch_time, id", req.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, traffic.NewStorageError("query fetch logs", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.FetchLogEntry, error) {
		var e traffic.FetchLogEntry
		var status string
		err := row.Scan(&e.FetchTime, &e.Endpoint, &status, &e.RecordsFetched, &e.RecordsInserted,
			&e.RecordsUpdated, &e.RecordsFailed, &e.ResponseTimeMS, &e.ErrorMessage, &e.ErrorDetails)
		e.FetchTime = e.FetchTime.UTC()
		e.Status = traffic.FetchStatus(status)
		return e, err
	})
	return results, traffic.NewStorageError("query fetch logs", err)
}

// RefreshViews rebuilds the camera_daily_trends materialized view
func (s *Storage) RefreshViews(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY camera_daily_trends")
	return traffic.NewStorageError("refresh views", err)
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
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range storage.Tables {
			if !opts.Includes(table) {
				continue
			}

			var q string
			var arg any
			if table == storage.TableDailySummaries {
				q, arg = "DELETE FROM daily_summaries WHERE summary_date < $1::date", opts.Before.Format(traffic.DateLayout)
			} else {
				q, arg = fmt.Sprintf("DELETE FROM %s WHERE %s < $1", table, timeColumns[table]), opts.Before
			}

			tag, err := tx.Exec(ctx, q, arg)
			if err != nil {
				return err
			}
			removed += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, traffic.NewStorageError("delete before", err)
	}
	return removed, nil
}

// Stats returns row counts per table
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{Backend: "postgres", Rows: make(map[storage.Table]uint64, len(storage.Tables))}
	for _, table := range storage.Tables {
		var n int64
		if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, traffic.NewStorageError("stats", err)
		}
		stats.Rows[table] = uint64(n)
	}

	var newest *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(snapshot_time) FROM live_snapshots").Scan(&newest); err != nil {
		return nil, traffic.NewStorageError("stats", err)
	}
	if newest != nil {
		stats.NewestSnapshot = newest.UTC()
	}
	return stats, nil
}

// Close closes the connection pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// jsonOrNil keeps empty maps as SQL NULL instead of a JSON null literal.
func jsonOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
