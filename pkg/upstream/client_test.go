package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.UpstreamConfig{BaseURL: srv.URL + "/", APIKey: "k3y", Timeout: 2 * time.Second}
	return NewClient(cfg, time.UTC, srv.Client(), logger.NewNop())
}

func TestClient_FetchLiveSnapshots(t *testing.T) {
	var gotPath, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(config.APIKeyHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"snapshot_time":"2024-03-01T10:05:00Z","camera_id":"cam_01","car_in":50,"car_out":10}]}`))
	})

	res, err := c.FetchLiveSnapshots(context.Background())
	require.NoError(t, err)

	assert.Equal(t, config.UpstreamLivePath, gotPath)
	assert.Equal(t, "k3y", gotKey)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(40), res.Records[0].NetFlow())
}

func TestClient_FetchHourlyStats_DateParam(t *testing.T) {
	var gotDate string
	hasDate := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotDate = r.URL.Query().Get("date")
		hasDate = r.URL.Query().Has("date")
		_, _ = w.Write([]byte(`[]`))
	})

	res, err := c.FetchHourlyStats(context.Background(), "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", gotDate)
	assert.Zero(t, res.Fetched)

	_, err = c.FetchHourlyStats(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, hasDate, "no date param without a date")
}

func TestClient_NonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	_, err := c.FetchLiveSnapshots(context.Background())
	require.Error(t, err)

	var upErr *traffic.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusServiceUnavailable, upErr.StatusCode)
	assert.Equal(t, config.UpstreamLivePath, upErr.Endpoint)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(config.UpstreamConfig{BaseURL: url}, time.UTC, nil, logger.NewNop())
	_, err := c.FetchHourlyStats(context.Background(), "")

	var upErr *traffic.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Zero(t, upErr.StatusCode)
}

func TestClient_MalformedPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"oops"}`))
	})

	_, err := c.FetchLiveSnapshots(context.Background())

	var upErr *traffic.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(config.UpstreamConfig{}, nil, nil, logger.NewNop())
	_, err := c.FetchLiveSnapshots(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(config.UpstreamConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, time.UTC, srv.Client(), logger.NewNop())
	_, err := c.FetchLiveSnapshots(context.Background())

	var upErr *traffic.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Zero(t, upErr.StatusCode)
}
