package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/trafficwatch/pkg/aggregation"
	"github.com/nicktill/trafficwatch/pkg/audit"
	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/httpx"
	"github.com/nicktill/trafficwatch/pkg/ingest"
	"github.com/nicktill/trafficwatch/pkg/scheduler"
	"github.com/nicktill/trafficwatch/pkg/server/monitor"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// ingestResponse is the body of a successful live or hourly job.
type ingestResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	ingest.Result
	Timestamp time.Time `json:"timestamp"`
}

// aggregateResponse is the body of a successful daily job.
type aggregateResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	aggregation.Result
	Timestamp time.Time `json:"timestamp"`
}

// errorStatus maps a job error to its HTTP status.
func errorStatus(err error) int {
	var (
		upErr *traffic.UpstreamError
		stErr *traffic.StorageError
	)
	switch {
	case errors.Is(err, ingest.ErrInvalidDate), errors.Is(err, httpx.ErrBadParam):
		return http.StatusBadRequest
	case errors.As(err, &upErr), errors.Is(err, ingest.ErrTooManyRecords):
		return http.StatusBadGateway
	case errors.As(err, &stErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondJobError(w http.ResponseWriter, err error) {
	httpx.RespondError(w, errorStatus(err), err, audit.ErrorDetails(err))
}

func jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), config.JobTimeout)
}

// handleLive runs live snapshot ingestion.
func handleLive(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := jobContext(r)
		defer cancel()

		res, err := app.Ingester.IngestLive(ctx)
		if err != nil {
			app.Jobs.RecordFailure(scheduler.BranchLive, err)
			respondJobError(w, err)
			return
		}
		app.Jobs.RecordSuccess(scheduler.BranchLive)

		httpx.RespondJSON(w, http.StatusOK, ingestResponse{
			Message:   fmt.Sprintf("ingested %d live snapshots", res.RecordsInserted+res.RecordsUpdated),
			Success:   true,
			Result:    res,
			Timestamp: time.Now().In(app.Location),
		})
	}
}

// handleHourly runs hourly stats ingestion, optionally for ?date=YYYY-MM-DD.
func handleHourly(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := jobContext(r)
		defer cancel()

		res, err := app.Ingester.IngestHourly(ctx, r.URL.Query().Get("date"))
		if err != nil {
			app.Jobs.RecordFailure(scheduler.BranchHourly, err)
			respondJobError(w, err)
			return
		}
		app.Jobs.RecordSuccess(scheduler.BranchHourly)

		httpx.RespondJSON(w, http.StatusOK, ingestResponse{
			Message:   fmt.Sprintf("ingested %d hourly stats", res.RecordsInserted+res.RecordsUpdated),
			Success:   true,
			Result:    res,
			Timestamp: time.Now().In(app.Location),
		})
	}
}

// handleDaily aggregates ?date=YYYY-MM-DD, yesterday by default.
func handleDaily(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := jobContext(r)
		defer cancel()

		res, err := app.Aggregator.AggregateDate(ctx, r.URL.Query().Get("date"))
		if err != nil {
			app.Jobs.RecordFailure(scheduler.BranchDaily, err)
			respondJobError(w, err)
			return
		}
		app.Jobs.RecordSuccess(scheduler.BranchDaily)

		httpx.RespondJSON(w, http.StatusOK, aggregateResponse{
			Message:   fmt.Sprintf("created %d daily summaries for %s", res.SummariesCreated, res.Date),
			Success:   true,
			Result:    res,
			Timestamp: time.Now().In(app.Location),
		})
	}
}

// handleTick evaluates the scheduler gate once, as the external cron does.
func handleTick(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.TickTimeout)
		defer cancel()

		tick, err := app.Gate.Run(ctx)
		status := http.StatusOK
		if err != nil {
			status = errorStatus(err)
		}
		httpx.RespondJSON(w, status, tick)
	}
}

// listResponse is the body of every read endpoint.
type listResponse[T any] struct {
	Success   bool      `json:"success"`
	Count     int       `json:"count"`
	Data      []T       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// handleList serves a read endpoint. Without start and end it returns the
// trailing window ending now.
func handleList[T any](app *App, window time.Duration, query func(context.Context, storage.QueryRequest) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseQueryRequest(r, app.Location, window)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.ReadQueryTimeout)
		defer cancel()

		rows, err := query(ctx, req)
		if err != nil {
			app.Logger.Error(err, map[string]any{"path": r.URL.Path})
			respondJobError(w, err)
			return
		}
		if rows == nil {
			rows = []T{}
		}

		httpx.RespondJSON(w, http.StatusOK, listResponse[T]{
			Success:   true,
			Count:     len(rows),
			Data:      rows,
			Timestamp: time.Now().In(app.Location),
		})
	}
}

func parseQueryRequest(r *http.Request, loc *time.Location, window time.Duration) (storage.QueryRequest, error) {
	q := r.URL.Query()
	req := storage.QueryRequest{CameraID: q.Get("camera_id")}

	var err error
	if req.Start, err = httpx.ParseTime("start", q.Get("start"), loc); err != nil {
		return req, err
	}
	if req.End, err = httpx.ParseTime("end", q.Get("end"), loc); err != nil {
		return req, err
	}
	if req.Limit, err = httpx.ParseLimit(q.Get("limit"), config.DefaultReadLimit, config.MaxReadLimit); err != nil {
		return req, err
	}

	if req.Start.IsZero() && req.End.IsZero() {
		req.End = time.Now().In(loc)
		req.Start = req.End.Add(-window)
	}
	if !req.Start.IsZero() && !req.End.IsZero() && !req.Start.Before(req.End) {
		return req, fmt.Errorf("%w: start must be before end", httpx.ErrBadParam)
	}
	return req, nil
}

// retentionResponse is the body of a retention sweep.
type retentionResponse struct {
	Message   string    `json:"message"`
	Success   bool      `json:"success"`
	Deleted   int64     `json:"deleted"`
	Before    time.Time `json:"before"`
	Timestamp time.Time `json:"timestamp"`
}

// handleRetention deletes rows older than ?days=N, the configured retention by default.
func handleRetention(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := app.RetentionDays
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < config.MinRetentionDays {
				httpx.RespondErrorString(w, http.StatusBadRequest,
					fmt.Sprintf("days must be an integer >= %d", config.MinRetentionDays))
				return
			}
			days = n
		}

		deleted, before, err := app.SweepRetention(r.Context(), days)
		if err != nil {
			app.Logger.Error(err, map[string]any{"days": days})
			respondJobError(w, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, retentionResponse{
			Message:   fmt.Sprintf("deleted %d rows older than %d days", deleted, days),
			Success:   true,
			Deleted:   deleted,
			Before:    before,
			Timestamp: time.Now().In(app.Location),
		})
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string              `json:"status"`
	Version  string              `json:"version"`
	Uptime   string              `json:"uptime"`
	Notifier string              `json:"notifier"`
	Jobs     []monitor.JobStatus `json:"jobs"`
	Storage  *storage.Stats      `json:"storage,omitempty"`
	Disk     *monitor.DiskStatus `json:"disk,omitempty"`
	Errors   []string            `json:"errors,omitempty"`
}

// handleHealth returns service health status.
func handleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:   "healthy",
			Version:  config.Version,
			Uptime:   time.Since(app.StartedAt).Round(time.Second).String(),
			Notifier: app.Notifier.Name(),
			Jobs:     app.Jobs.Status(),
		}
		healthy := app.Jobs.IsHealthy()

		ctx, cancel := context.WithTimeout(r.Context(), config.HealthStatsTimeout)
		defer cancel()
		stats, err := app.Store.Stats(ctx)
		if err != nil {
			healthy = false
			response.Errors = append(response.Errors, err.Error())
		} else {
			response.Storage = stats
		}

		if app.Disk != nil {
			disk := app.Disk.Status()
			response.Disk = &disk
			if disk.OverLimit || disk.Error != "" {
				healthy = false
			}
		}

		statusCode := http.StatusOK
		if !healthy {
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		httpx.RespondJSON(w, statusCode, response)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, app *App) {
	// CORS middleware for dashboard access
	router.Use(corsMiddleware(app.Port))
	router.Use(httpx.Metrics)

	api := router.PathPrefix("/v1").Subrouter()

	// Jobs, triggered by cron or by hand
	api.HandleFunc("/jobs/live", handleLive(app)).Methods("GET")
	api.HandleFunc("/jobs/hourly", handleHourly(app)).Methods("GET")
	api.HandleFunc("/jobs/daily", handleDaily(app)).Methods("GET")
	api.HandleFunc("/jobs/tick", handleTick(app)).Methods("GET")

	// Reads for the dashboard
	api.HandleFunc("/snapshots", handleList(app, config.DefaultReadWindow, app.Store.QuerySnapshots)).Methods("GET")
	api.HandleFunc("/stats/hourly", handleList(app, config.DefaultReadWindow, app.Store.QueryHourlyStats)).Methods("GET")
	api.HandleFunc("/summaries/daily", handleList(app, config.DefaultExportWindow, app.Store.QueryDailySummaries)).Methods("GET")
	api.HandleFunc("/anomalies", handleList(app, config.DefaultReadWindow, app.Store.QueryAnomalies)).Methods("GET")
	api.HandleFunc("/fetch-logs", handleList(app, config.DefaultReadWindow, app.Store.QueryFetchLogs)).Methods("GET")

	// Export/import
	api.HandleFunc("/export", app.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", app.Export.HandleImport).Methods("POST")

	// Admin and health
	api.HandleFunc("/admin/retention", handleRetention(app)).Methods("POST")
	api.HandleFunc("/health", handleHealth(app)).Methods("GET")

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
