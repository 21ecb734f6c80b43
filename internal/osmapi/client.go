// Package osmapi talks to an OSM API 0.6 endpoint: it serves as the
// engine's revision source and as the changeset API for uploads.
package osmapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIURL is the development instance. Production use must be
// configured explicitly.
const DefaultAPIURL = "https://master.apis.dev.openstreetmap.org/api/0.6"

// ErrUnauthorized is returned when the API rejects the credentials. It is
// fatal to a run: no later request can succeed either.
var ErrUnauthorized = errors.New("osm api: unauthorized")

// HTTPError is a non-success response that is not handled as a status.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: status=%d message=%s", e.Method, e.URL, e.StatusCode, body)
}

// Observer is told about every completed HTTP exchange.
type Observer func(method string, status int, elapsed time.Duration)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	User       string
	Password   string
	UserAgent  string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
	Observer   Observer
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	user       string
	password   string
	userAgent  string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
	observe    Observer
}

// New creates a Client.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "reparanda"
	}
	return &Client{
		baseURL:    baseURL,
		user:       opts.User,
		password:   opts.Password,
		userAgent:  userAgent,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger,
		observe:    opts.Observer,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	auth        bool
}

// do performs req with retries on transport errors, 429 and 5xx. The last
// response is returned as is once retries are exhausted; the error is set
// only when no response was obtained at all.
func (c *Client) do(ctx context.Context, req request) (int, []byte, error) {
	url := c.baseURL + req.path
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if req.body != nil {
			body = bytes.NewReader(req.body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, url, body)
		if err != nil {
			return 0, nil, err
		}
		httpReq.Header.Set("User-Agent", c.userAgent)
		if req.contentType != "" {
			httpReq.Header.Set("Content-Type", req.contentType)
		}
		if req.auth {
			httpReq.SetBasicAuth(c.user, c.password)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Debug("http request failed", "method", req.method, "url", url, "attempt", attempt, "error", err)
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return 0, nil, waitErr
				}
				continue
			}
			return 0, nil, fmt.Errorf("%s %s: %w", req.method, url, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if c.observe != nil {
			c.observe(req.method, resp.StatusCode, time.Since(start))
		}
		c.logger.Debug("http request", "method", req.method, "url", url, "status", resp.StatusCode)
		if readErr != nil {
			return 0, nil, fmt.Errorf("%s %s: read body: %w", req.method, url, readErr)
		}

		if retryable(resp.StatusCode) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return 0, nil, waitErr
			}
			continue
		}
		return resp.StatusCode, respBody, nil
	}
}

// write performs an authenticated request that must succeed.
func (c *Client) write(ctx context.Context, req request) ([]byte, error) {
	req.auth = true
	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return body, c.check(req, status, body)
}

// read performs an anonymous request that must succeed.
func (c *Client) read(ctx context.Context, path string) ([]byte, error) {
	req := request{method: http.MethodGet, path: path}
	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return body, c.check(req, status, body)
}

func (c *Client) check(req request, status int, body []byte) error {
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", req.method, c.baseURL+req.path, ErrUnauthorized)
	default:
		return &HTTPError{StatusCode: status, Method: req.method, URL: c.baseURL + req.path, Body: string(body)}
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
