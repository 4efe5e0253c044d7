package mocktarget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/pkg/retry"
)

// Client drives the target's admin API.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientName labels logs and metrics with the target alias
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientMetrics records observed call counts
func WithClientMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for the target reachable at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:       "target",
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateMapping registers a mapping and returns its handle.
func (c *Client) CreateMapping(ctx context.Context, m Mapping) (MappingHandle, error) {
	var created wireMapping
	if err := c.do(ctx, http.MethodPost, "/__admin/mappings", m.wire(), http.StatusCreated, &created); err != nil {
		return MappingHandle{}, errors.Wrap(err, "Client", "CreateMapping", "register mapping for "+m.Request.Path())
	}
	c.logger.Debug("Mapping created", "target", c.name, "id", created.ID,
		"url", m.Request.Path(), "status", m.Response.Status, "fault", m.Response.Fault)
	return MappingHandle{ID: created.ID, Request: m.Request}, nil
}

// DeleteMapping removes a mapping. The calls it received stay in the journal.
func (c *Client) DeleteMapping(ctx context.Context, h MappingHandle) error {
	if err := c.do(ctx, http.MethodDelete, "/__admin/mappings/"+h.ID, nil, http.StatusOK, nil); err != nil {
		return errors.Wrap(err, "Client", "DeleteMapping", "delete mapping "+h.ID)
	}
	return nil
}

// Reset removes every mapping and clears the request journal.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/__admin/reset", nil, http.StatusOK, nil); err != nil {
		return errors.Wrap(err, "Client", "Reset", "reset target")
	}
	return nil
}

// Ping checks the admin health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/__admin/health", nil, http.StatusOK, nil); err != nil {
		return errors.WrapTransient(err, "Client", "Ping", "check target health")
	}
	return nil
}

// Calls returns the requests matching m observed so far, oldest first.
func (c *Client) Calls(ctx context.Context, m RequestMatcher) ([]CallRecord, error) {
	var found struct {
		Requests []loggedRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodPost, "/__admin/requests/find", m.normalized(), http.StatusOK, &found); err != nil {
		return nil, errors.Wrap(err, "Client", "Calls", "find requests for "+m.Path())
	}

	calls := make([]CallRecord, 0, len(found.Requests))
	for _, r := range found.Requests {
		calls = append(calls, r.record())
	}
	sort.SliceStable(calls, func(i, j int) bool {
		return calls[i].Timestamp.Before(calls[j].Timestamp)
	})
	c.metrics.RecordCallsObserved(c.name, m.Path(), len(calls))
	return calls, nil
}

// WaitOption configures WaitForCalls
type WaitOption func(*waitConfig)

type waitConfig struct {
	minCalls int
	poll     retry.PollConfig
	settle   time.Duration
}

// WithMinCalls sets how many calls resolve the wait (default 1)
func WithMinCalls(n int) WaitOption {
	return func(w *waitConfig) {
		w.minCalls = n
	}
}

// WithPollInterval sets the delay between journal fetches (default 100ms)
func WithPollInterval(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		w.poll.Interval = d
	}
}

// WithWaitTimeout bounds the wait (default 10s)
func WithWaitTimeout(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		w.poll.Timeout = d
	}
}

// WithSettle keeps polling after the minimum is reached until the call count
// has not changed for d, so trailing calls are included.
func WithSettle(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		w.settle = d
	}
}

// WaitForCalls polls until at least the minimum number of calls matching the
// handle's request were observed. When the timeout elapses first it returns
// whatever accumulated, without an error; callers assert on the count.
func (c *Client) WaitForCalls(ctx context.Context, h MappingHandle, opts ...WaitOption) ([]CallRecord, error) {
	return c.WaitForMatching(ctx, h.Request, opts...)
}

// WaitForMatching is WaitForCalls for an arbitrary matcher.
func (c *Client) WaitForMatching(ctx context.Context, m RequestMatcher, opts ...WaitOption) ([]CallRecord, error) {
	cfg := waitConfig{
		minCalls: 1,
		poll:     retry.PollConfig{Interval: 100 * time.Millisecond, Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	var (
		calls       []CallRecord
		fetched     bool
		lastCount   = -1
		stableSince time.Time
	)
	err := retry.Poll(ctx, cfg.poll, func(ctx context.Context) (bool, error) {
		got, err := c.Calls(ctx, m)
		if err != nil {
			return false, err
		}
		calls, fetched = got, true
		if len(got) < cfg.minCalls {
			return false, nil
		}
		if cfg.settle <= 0 {
			return true, nil
		}
		if len(got) != lastCount {
			lastCount = len(got)
			stableSince = time.Now()
			return false, nil
		}
		return time.Since(stableSince) >= cfg.settle, nil
	})
	met := len(calls) >= cfg.minCalls
	c.metrics.RecordWait("WaitForCalls", met, time.Since(start))
	if err != nil {
		if !fetched {
			return nil, errors.Wrap(err, "Client", "WaitForCalls", "poll "+m.Path())
		}
		c.logger.Debug("Wait for calls ended before minimum", "target", c.name,
			"url", m.Path(), "calls", len(calls), "want", cfg.minCalls, "error", err)
	}
	return calls, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	// Older admin APIs answer 200 where newer ones answer 201.
	if resp.StatusCode != want && !(want == http.StatusCreated && resp.StatusCode == http.StatusOK) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
