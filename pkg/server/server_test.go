package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/httpx"
	"github.com/nicktill/trafficwatch/pkg/ingest"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/storage/memory"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

const liveBody = `[{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_01","car_in":50,"car_out":10,"avg_confidence":0.9}]`

// fakeCameraAPI serves the two upstream endpoints. A non-zero status makes
// every request fail with it.
func fakeCameraAPI(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case config.UpstreamLivePath:
			fmt.Fprint(w, liveBody)
		case config.UpstreamHourlyPath:
			fmt.Fprint(w, `{"data":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, upstreamURL string) (*App, storage.Store, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Upstream.BaseURL = upstreamURL
	require.NoError(t, cfg.Validate())

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	app, err := NewApp(context.Background(), &cfg, store, logger.NewNop())
	require.NoError(t, err)

	router := mux.NewRouter()
	SetupRoutes(router, app)
	return app, store, router
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestJobsLive_Success(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	app, store, router := newTestApp(t, api.URL)

	rec, body := do(t, router, http.MethodGet, "/v1/jobs/live")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["records_fetched"])
	assert.Equal(t, float64(1), body["records_inserted"])
	assert.Equal(t, float64(1), body["anomalies_detected"])
	assert.Contains(t, body, "message")
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "response_time_ms")

	anomalies, err := store.QueryAnomalies(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, traffic.Congestion, anomalies[0].AnomalyType)

	assert.True(t, app.Jobs.IsHealthy())
}

func TestJobsLive_UpstreamFailure(t *testing.T) {
	api := fakeCameraAPI(t, http.StatusServiceUnavailable)
	_, store, router := newTestApp(t, api.URL)

	rec, body := do(t, router, http.MethodGet, "/v1/jobs/live")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	assert.NotEmpty(t, body["error"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok, "details should be an object: %v", body)
	assert.Equal(t, "upstream", details["kind"])
	assert.Equal(t, float64(http.StatusServiceUnavailable), details["status_code"])

	logs, err := store.QueryFetchLogs(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, traffic.StatusError, logs[0].Status)
}

func TestJobsHourly_InvalidDate(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	_, _, router := newTestApp(t, api.URL)

	rec, _ := do(t, router, http.MethodGet, "/v1/jobs/hourly?date=2024-13-45")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsDaily(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	_, store, router := newTestApp(t, api.URL)

	rec, _ := do(t, router, http.MethodGet, "/v1/jobs/daily?date=03/01/2024")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	logs, err := store.QueryFetchLogs(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1, "a rejected date is still audited")
	assert.Equal(t, traffic.StatusError, logs[0].Status)

	rec, body := do(t, router, http.MethodGet, "/v1/jobs/daily?date=2024-03-01")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-03-01", body["date"])
	assert.Equal(t, float64(0), body["summaries_created"])
}

func TestJobsTick(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	_, _, router := newTestApp(t, api.URL)

	rec, body := do(t, router, http.MethodGet, "/v1/jobs/tick")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "executedAt")
	results, ok := body["results"].(map[string]any)
	require.True(t, ok)
	for _, branch := range []string{"live", "hourly", "daily"} {
		assert.Contains(t, results, branch)
	}
	live := results["live"].(map[string]any)
	assert.Equal(t, true, live["success"])
}

func TestJobsTick_LiveFailureStops(t *testing.T) {
	api := fakeCameraAPI(t, http.StatusInternalServerError)
	_, _, router := newTestApp(t, api.URL)

	rec, body := do(t, router, http.MethodGet, "/v1/jobs/tick")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, body["success"])

	results := body["results"].(map[string]any)
	require.Len(t, results, 3)
	for _, branch := range []string{"hourly", "daily"} {
		res := results[branch].(map[string]any)
		assert.Equal(t, true, res["skipped"], branch)
		assert.NotEmpty(t, res["reason"], branch)
	}
}

func TestReadEndpoints(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	_, store, router := newTestApp(t, api.URL)

	at := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	_, err := store.UpsertSnapshots(context.Background(), []traffic.LiveSnapshot{
		traffic.NewLiveSnapshot(at, "cam_01", 1, 2, 0, 0, 0, 0),
		traffic.NewLiveSnapshot(at, "cam_02", 3, 4, 0, 0, 0, 0),
	}, storage.Update)
	require.NoError(t, err)

	rec, body := do(t, router, http.MethodGet, "/v1/snapshots?start=2024-03-01&end=2024-03-02")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), body["count"])

	_, body = do(t, router, http.MethodGet, "/v1/snapshots?start=2024-03-01&end=2024-03-02&camera_id=cam_02")
	assert.Equal(t, float64(1), body["count"])

	_, body = do(t, router, http.MethodGet, "/v1/snapshots?start=2024-03-01&end=2024-03-02&limit=1")
	assert.Equal(t, float64(1), body["count"])

	// The default window is the last 24 hours, which holds nothing here.
	_, body = do(t, router, http.MethodGet, "/v1/snapshots")
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["data"])

	for _, target := range []string{
		"/v1/snapshots?limit=zero",
		"/v1/anomalies?start=soon",
		"/v1/fetch-logs?start=2024-03-02&end=2024-03-01",
	} {
		rec, _ := do(t, router, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRetentionEndpoint(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	_, store, router := newTestApp(t, api.URL)

	_, err := store.UpsertSnapshots(context.Background(), []traffic.LiveSnapshot{
		traffic.NewLiveSnapshot(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "cam_01", 1, 0, 0, 0, 0, 0),
		traffic.NewLiveSnapshot(time.Now().Add(-time.Hour), "cam_01", 1, 0, 0, 0, 0, 0),
	}, storage.Update)
	require.NoError(t, err)

	rec, _ := do(t, router, http.MethodPost, "/v1/admin/retention?days=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, router, http.MethodPost, "/v1/admin/retention?days=30")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), body["deleted"])

	left, err := store.QuerySnapshots(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestHealth(t *testing.T) {
	api := fakeCameraAPI(t, http.StatusBadGateway)
	_, _, router := newTestApp(t, api.URL)

	rec, body := do(t, router, http.MethodGet, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "none", body["notifier"])
	storageStats := body["storage"].(map[string]any)
	assert.Equal(t, "memory", storageStats["backend"])

	for i := 0; i < config.MaxConsecutiveErr; i++ {
		do(t, router, http.MethodGet, "/v1/jobs/live")
	}

	rec, body = do(t, router, http.MethodGet, "/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := fakeCameraAPI(t, 0)
	_, _, router := newTestApp(t, api.URL)

	do(t, router, http.MethodGet, "/v1/health")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), `trafficwatch_http_requests_total{method="GET",path="/v1/health",status="200"}`)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream", fmt.Errorf("fetch: %w", &traffic.UpstreamError{StatusCode: 503, Endpoint: "/snapshots/live", Err: errors.New("boom")}), http.StatusBadGateway},
		{"storage", traffic.NewStorageError("upsert_snapshots", errors.New("disk")), http.StatusInternalServerError},
		{"invalid date", fmt.Errorf("%w: 2024-13-01", ingest.ErrInvalidDate), http.StatusBadRequest},
		{"bad param", fmt.Errorf("%w: limit", httpx.ErrBadParam), http.StatusBadRequest},
		{"too many records", ingest.ErrTooManyRecords, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func TestDataPath(t *testing.T) {
	assert.Equal(t, "/var/lib/tw", DataPath(config.StorageConfig{Backend: "badger", BadgerPath: "/var/lib/tw"}))
	assert.Equal(t, "/var/lib/tw.db", DataPath(config.StorageConfig{Backend: "sqlite", SQLitePath: "/var/lib/tw.db"}))
	assert.Equal(t, "", DataPath(config.StorageConfig{Backend: "sqlite", SQLitePath: ":memory:"}))
	assert.Equal(t, "", DataPath(config.StorageConfig{Backend: "postgres"}))
	assert.Equal(t, "", DataPath(config.StorageConfig{Backend: "memory"}))
}

type cancellingSweeper struct {
	cancel context.CancelFunc
	calls  int
	days   int
}

func (s *cancellingSweeper) SweepRetention(_ context.Context, days int) (int64, time.Time, error) {
	s.calls++
	s.days = days
	s.cancel()
	return 0, time.Time{}, nil
}

func TestRunRetention_SweepsAtStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &cancellingSweeper{cancel: cancel}

	var wg sync.WaitGroup
	wg.Add(1)
	RunRetention(ctx, s, 45, time.Hour, logger.NewNop(), &wg)

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 45, s.days)
}

func TestRunBadgerGC_SkipsOtherBackends(t *testing.T) {
	store := memory.New()
	defer store.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		RunBadgerGC(context.Background(), store, logger.NewNop(), &wg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunBadgerGC should return immediately for non-badger stores")
	}
}
