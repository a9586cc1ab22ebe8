// Package transport calls worker endpoints over HTTP with a per-attempt
// timeout and a bounded, fixed-interval retry loop. It knows nothing about
// payload semantics and never returns an error to its caller: exhausted
// calls come back as an empty mapping.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mtzanidakis/realtymesh/internal/metrics"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second

	// maxReplySize limits a worker reply body.
	maxReplySize = 10 * 1024 * 1024
)

// Client posts JSON payloads to worker endpoints.
type Client struct {
	http    *http.Client
	backoff atomic.Int64 // time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Timeout should be zero or
// larger than any per-call timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithBackoff sets the fixed wait between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.SetBackoff(d)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{},
		logger: slog.Default(),
	}
	c.backoff.Store(int64(DefaultBackoff))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBackoff changes the wait between attempts for calls started afterwards.
func (c *Client) SetBackoff(d time.Duration) {
	if d >= 0 {
		c.backoff.Store(int64(d))
	}
}

// CallOptions bounds a single Call.
type CallOptions struct {
	// Timeout applies to each attempt separately.
	Timeout time.Duration
	// MaxRetries is the total number of attempts, not the number of retries
	// after the first one.
	MaxRetries int
	Headers    map[string]string
}

// Reply is the outcome of a Call. Body is whatever JSON the worker returned
// (an object, a string, ...). When every attempt failed Body is an empty
// map and Err holds the last failure.
type Reply struct {
	Body     any
	Attempts int
	Err      error
}

// Exhausted reports whether the reply is the empty sentinel produced after
// running out of attempts.
func (r Reply) Exhausted() bool {
	return r.Err != nil
}

// Call posts payload to endpoint, retrying timeouts and transport failures
// up to opts.MaxRetries attempts with a fixed wait in between.
func (c *Client) Call(ctx context.Context, endpoint string, payload any, opts CallOptions) Reply {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal worker payload", "endpoint", endpoint, "error", err)
		return Reply{Body: map[string]any{}, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	var reply Reply
	op := func() error {
		reply.Attempts++
		v, err := c.attempt(ctx, endpoint, body, opts)
		if err != nil {
			if isTimeout(err) {
				c.logger.Warn("worker call timed out", "endpoint", endpoint, "attempt", reply.Attempts, "max", opts.MaxRetries)
				c.metrics.TransportAttempt(endpoint, "timeout")
			} else {
				c.logger.Warn("worker call failed", "endpoint", endpoint, "attempt", reply.Attempts, "max", opts.MaxRetries, "error", err)
				c.metrics.TransportAttempt(endpoint, "error")
			}
			return err
		}
		c.metrics.TransportAttempt(endpoint, "ok")
		reply.Body = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Duration(c.backoff.Load())), uint64(opts.MaxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return Reply{Body: map[string]any{}, Attempts: reply.Attempts, Err: err}
	}
	return reply
}

func (c *Client) attempt(ctx context.Context, endpoint string, body []byte, opts CallOptions) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return v, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
