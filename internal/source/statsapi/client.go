// Package statsapi fetches tables from the NBA stats HTTP API and turns the
// first resultSet of each response into a dataset.Dataset.
package statsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"statsync/internal/dataset"
	"statsync/internal/metrics"
)

// DefaultBaseURL is the public stats endpoint root.
const DefaultBaseURL = "https://stats.nba.com/stats"

// metricsSource labels every request this package records.
const metricsSource = "statsapi"

// defaultHeaders are what the stats API expects from a browser; requests
// without them are often dropped or stalled.
var defaultHeaders = map[string]string{
	"Accept":             "application/json, text/plain, */*",
	"Accept-Language":    "en-US,en;q=0.9",
	"Origin":             "https://www.nba.com",
	"Referer":            "https://www.nba.com/",
	"User-Agent":         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"x-nba-stats-origin": "stats",
	"x-nba-stats-token":  "true",
}

// StatusError is returned when the API answers with a non-2xx status after
// all attempts.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("statsapi %s: http %d", e.Endpoint, e.StatusCode)
}

// Options configures a Client. Zero values take the defaults noted.
type Options struct {
	BaseURL string // DefaultBaseURL
	Timeout time.Duration

	// MaxAttempts per request, including the first (default 3).
	MaxAttempts int
	// BaseBackoff doubles per retry up to MaxBackoff (default 2s / 30s).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL     string
	http        *http.Client
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	// test seam
	sleep func(ctx context.Context, d time.Duration) bool
}

// New returns a Client for opts.
func New(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sleep:       sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.http = newHTTPClient(timeout)
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = 2 * time.Second
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 30 * time.Second
	}
	return c
}

// ResultSet GETs endpoint with params and returns its first resultSet.
func (c *Client) ResultSet(ctx context.Context, endpoint string, params url.Values) (dataset.Dataset, error) {
	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return dataset.Dataset{}, err
	}
	ds, err := DecodeFirst(body)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("statsapi %s: %w", endpoint, err)
	}
	return ds, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, status, retryAfter, err := c.attempt(ctx, u)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("statsapi %s: %w", endpoint, err)
		} else {
			lastErr = &StatusError{Endpoint: endpoint, StatusCode: status}
		}
		if ctx.Err() != nil || !retryable(status, err) || attempt == c.maxAttempts {
			break
		}
		if !c.sleep(ctx, c.nextDelay(status, retryAfter, attempt)) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, u string) (body []byte, status int, retryAfter time.Duration, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTP(metricsSource, status, err, time.Since(start), int64(len(body)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, parseRetryAfter(resp.Header), nil
	}
	body, err = io.ReadAll(resp.Body)
	return body, resp.StatusCode, 0, err
}

func retryable(status int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) nextDelay(status int, retryAfter time.Duration, attempt int) time.Duration {
	if status == http.StatusTooManyRequests && retryAfter > 0 {
		return retryAfter
	}
	d := c.baseBackoff << uint(attempt-1)
	if d > c.maxBackoff || d <= 0 {
		d = c.maxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
		},
	}
}
