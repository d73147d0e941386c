// Package oracle talks to the external oracle network: attestation requests
// with bounded retry and subscriptions to ledger-emitted events.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"sync"
	"time"

	"attestra/internal/oracle/models"
	"attestra/pkg/platform/circuit"
)

const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 1000 * time.Millisecond
	DefaultMaxDelay       = 10000 * time.Millisecond
	DefaultAttemptTimeout = 30 * time.Second

	// maxJitter bounds the multiplicative jitter added to every backoff.
	maxJitter = 0.1
)

// Config controls the retry policy of a Client. Zero values take defaults.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// JobIDPattern, when set, must match every request id.
	JobIDPattern string
}

// Client issues oracle requests and manages event subscriptions. It is safe
// for concurrent use; backoff state is local to each Fetch call.
type Client struct {
	endpoint       Endpoint
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	jobIDPattern   *regexp.Regexp

	logger  *slog.Logger
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
	breaker *circuit.Breaker

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleep replaces the backoff wait. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithJitter replaces the jitter source; fn must return a value in [0, 0.1).
func WithJitter(fn func() float64) Option {
	return func(c *Client) {
		if fn != nil {
			c.jitter = fn
		}
	}
}

// WithBreaker fails fetches fast while b is open. Only exhausted fetches
// count as failures; a single failed attempt that is later retried does not.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// New creates a Client.
func New(endpoint Endpoint, cfg Config, opts ...Option) (*Client, error) {
	if endpoint == nil {
		return nil, errors.New("oracle endpoint is required")
	}
	c := &Client{
		endpoint:       endpoint,
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         slog.Default(),
		sleep:          sleepContext,
		jitter:         func() float64 { return rand.Float64() * maxJitter },
		subs:           make(map[*Subscription]struct{}),
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultMaxDelay
	}
	if c.maxDelay < c.baseDelay {
		return nil, fmt.Errorf("max delay %s is below base delay %s", c.maxDelay, c.baseDelay)
	}
	if c.attemptTimeout <= 0 {
		c.attemptTimeout = DefaultAttemptTimeout
	}
	if cfg.JobIDPattern != "" {
		re, err := regexp.Compile(cfg.JobIDPattern)
		if err != nil {
			return nil, fmt.Errorf("compile job id pattern: %w", err)
		}
		c.jobIDPattern = re
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch requests an attestation. A failed attempt (transport error, non-2xx,
// success:false, undecodable payload) is retried up to MaxRetries total
// attempts with exponential backoff. Invalid request ids fail immediately.
// Cancellation aborts between attempts with the context error.
func (c *Client) Fetch(ctx context.Context, requestID string, params models.Params) (*models.Response, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}
	if c.jobIDPattern != nil && !c.jobIDPattern.MatchString(requestID) {
		return nil, fmt.Errorf("%w: request id %q does not match %s", ErrInvalidRequest, requestID, c.jobIDPattern)
	}

	if c.breaker != nil && !c.breaker.Allow() {
		c.metrics.observeFetch(outcomeCircuitOpen, 0)
		return nil, fmt.Errorf("%w: circuit %s open", ErrOracleUnavailable, c.breaker.Name())
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, attempt, requestID, params)
		if err == nil {
			c.metrics.observeAttempt(outcomeSuccess)
			c.metrics.observeFetch(outcomeSuccess, time.Since(start))
			c.recordOutcome(ctx, true)
			if attempt > 1 {
				c.logger.InfoContext(ctx, "oracle request succeeded after retry",
					"request_id", requestID,
					"attempt", attempt,
				)
			}
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		c.metrics.observeAttempt(outcomeFailure)
		c.logger.WarnContext(ctx, "oracle attempt failed",
			"request_id", requestID,
			"attempt", attempt,
			"max_attempts", c.maxRetries,
			"error", err,
		)
	}

	c.metrics.observeFetch(outcomeExhausted, time.Since(start))
	c.recordOutcome(ctx, false)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrOracleUnavailable, c.maxRetries, lastErr)
}

func (c *Client) recordOutcome(ctx context.Context, ok bool) {
	if c.breaker == nil {
		return
	}
	if ok {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "oracle circuit closed", "circuit", c.breaker.Name())
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "oracle circuit opened", "circuit", c.breaker.Name())
	}
}

func (c *Client) attempt(ctx context.Context, attempt int, requestID string, params models.Params) (*models.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	out, err := c.endpoint.Request(attemptCtx, requestID, params)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, &AttemptError{Attempt: attempt, StatusCode: statusErr.StatusCode, Message: statusErr.Body, Err: err}
		}
		return nil, &AttemptError{Attempt: attempt, Message: "request failed", Err: err}
	}
	if out == nil {
		return nil, &AttemptError{Attempt: attempt, Message: "empty response"}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "oracle reported failure"
		}
		return nil, &AttemptError{Attempt: attempt, Message: msg}
	}
	if len(out.Data) == 0 {
		return nil, &AttemptError{Attempt: attempt, Message: "response has no data"}
	}

	var resp models.Response
	if err := json.Unmarshal(out.Data, &resp); err != nil {
		return nil, &AttemptError{Attempt: attempt, Message: "malformed response data", Err: err}
	}
	return &resp, nil
}

// backoff returns the wait before the given attempt (attempt >= 2):
// min(MaxDelay, BaseDelay*2^(attempt-2)) scaled by (1+jitter).
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay
	for i := 2; i < attempt && d < c.maxDelay; i++ {
		d *= 2
	}
	if d > c.maxDelay {
		d = c.maxDelay
	}
	j := c.jitter()
	if j < 0 || j >= maxJitter {
		j = 0
	}
	return time.Duration(float64(d) * (1 + j))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
