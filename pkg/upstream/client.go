// Package upstream fetches vehicle counts from the third-party camera API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 32 << 20

// ErrNotConfigured is returned when no base URL is set.
var ErrNotConfigured = errors.New("upstream base url not configured")

// HTTPClient is the subset of *http.Client the fetcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher is what ingestion jobs need from the camera API.
type Fetcher interface {
	FetchLiveSnapshots(ctx context.Context) (Result[traffic.LiveSnapshot], error)
	FetchHourlyStats(ctx context.Context, date string) (Result[traffic.HourlyStat], error)
}

// Client talks to the camera API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	location   *time.Location
	httpClient HTTPClient
	l          *logger.Logger
}

// NewClient builds a Client from upstream settings. A nil httpClient uses a
// plain *http.Client.
func NewClient(cfg config.UpstreamConfig, loc *time.Location, httpClient HTTPClient, l *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultUpstreamTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		location:   loc,
		httpClient: httpClient,
		l:          l,
	}
}

// FetchLiveSnapshots retrieves the current 5-minute window for every camera.
func (c *Client) FetchLiveSnapshots(ctx context.Context) (Result[traffic.LiveSnapshot], error) {
	body, err := c.get(ctx, config.UpstreamLivePath, nil)
	if err != nil {
		return Result[traffic.LiveSnapshot]{}, err
	}

	res, err := NormalizeSnapshots(body, c.location)
	if err != nil {
		return res, &traffic.UpstreamError{StatusCode: http.StatusOK, Endpoint: config.UpstreamLivePath, Err: err}
	}
	return res, nil
}

// FetchHourlyStats retrieves hourly stats, optionally for a specific
// YYYY-MM-DD date; an empty date lets the API pick its default.
func (c *Client) FetchHourlyStats(ctx context.Context, date string) (Result[traffic.HourlyStat], error) {
	var q url.Values
	if date != "" {
		q = url.Values{"date": []string{date}}
	}

	body, err := c.get(ctx, config.UpstreamHourlyPath, q)
	if err != nil {
		return Result[traffic.HourlyStat]{}, err
	}

	res, err := NormalizeHourlyStats(body, c.location)
	if err != nil {
		return res, &traffic.UpstreamError{StatusCode: http.StatusOK, Endpoint: config.UpstreamHourlyPath, Err: err}
	}
	return res, nil
}

// get performs one GET and returns the body of a 200 response. Every
// failure is an *traffic.UpstreamError.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.baseURL == "" {
		return nil, &traffic.UpstreamError{Endpoint: path, Err: ErrNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &traffic.UpstreamError{Endpoint: path, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(config.APIKeyHeader, c.apiKey)
	}

	c.l.Debug("making upstream request", map[string]any{"endpoint": path, "query": q.Encode()})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &traffic.UpstreamError{Endpoint: path, Err: fmt.Errorf("failed to do request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &traffic.UpstreamError{StatusCode: resp.StatusCode, Endpoint: path,
			Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.l.Debug("received upstream response", map[string]any{
		"endpoint": path,
		"status":   resp.StatusCode,
		"bytes":    len(body),
	})

	if resp.StatusCode != http.StatusOK {
		return nil, &traffic.UpstreamError{StatusCode: resp.StatusCode, Endpoint: path,
			Err: fmt.Errorf("unexpected response: %s", snippet(body))}
	}
	return body, nil
}

// snippet trims a body for error messages.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
