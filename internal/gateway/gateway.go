// Package gateway wraps every outbound call to the budgeting API in bounded
// exponential-backoff retry and classifies failures.
//
// Transient failures (HTTP 429, 5xx, transport errors) are retried up to
// the configured number of attempts with delays base, 2*base, 4*base, ...
// and no jitter. Every other failure returns after one attempt. Exhausted or
// permanent failures are returned as model.Error with code REMOTE.
//
// The gateway holds no persistent state.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/ynab"
)

const (
	// DefaultMaxAttempts is the total number of tries per call.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait before the first retry.
	DefaultBaseDelay = time.Second
)

// Remote is the subset of the API client the gateway drives.
// Implemented by *ynab.Client.
type Remote interface {
	GetTransactions(ctx context.Context, budgetID string, lastKnowledge uint64) (ynab.Delta, error)
	GetCategories(ctx context.Context, budgetID string, lastKnowledge uint64) (ynab.Delta, error)
	CreateTransaction(ctx context.Context, budgetID string, tx json.RawMessage) (json.RawMessage, error)
	UpdateTransaction(ctx context.Context, budgetID, txID string, tx json.RawMessage) (json.RawMessage, error)
	DeleteTransaction(ctx context.Context, budgetID, txID string) error
	UpdateMonthCategory(ctx context.Context, budgetID, month, categoryID string, budgeted int64) error
}

// Gateway is the retrying front of a Remote.
type Gateway struct {
	remote      Remote
	maxAttempts int
	baseDelay   time.Duration
	timer       backoff.Timer
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Registry
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxAttempts sets the total number of tries per call. Values below 1
// are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		g.maxAttempts = n
	}
}

// WithBaseDelay sets the wait before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(g *Gateway) {
		g.baseDelay = d
	}
}

// WithTimer replaces the timer used to wait between attempts.
// Tests use it to observe delays without sleeping.
func WithTimer(t backoff.Timer) Option {
	return func(g *Gateway) {
		g.timer = t
	}
}

// WithLogger sets the logger for attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics records attempts, retries, failures and latency.
func WithMetrics(m *metrics.Registry) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a gateway over remote.
func New(remote Remote, opts ...Option) *Gateway {
	g := &Gateway{
		remote:      remote,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxAttempts < 1 {
		g.maxAttempts = 1
	}
	return g
}

// call runs fn until it succeeds, fails permanently, exhausts the attempt
// budget, or ctx is done.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	lastErr := error(nil)

	operation := func() error {
		attempt++
		g.metrics.Inc(metrics.RemoteAttempts)

		start := g.now()
		err := fn(ctx)
		g.metrics.Observe(metrics.RemoteLatency, g.now().Sub(start))

		if err == nil {
			if attempt > 1 {
				g.logger.Info("remote call recovered", "op", op, "attempt", attempt)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		g.metrics.Inc(metrics.RemoteRetries)
		g.logger.Warn("retrying remote call",
			"op", op,
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"delay", next,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), uint64(g.maxAttempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, g.timer)
	if err == nil {
		return nil
	}

	g.metrics.Inc(metrics.RemoteFailures)
	if lastErr == nil {
		// ctx was done before the first attempt completed
		lastErr = err
	}
	retryable := IsTransient(lastErr) && ctx.Err() == nil
	g.logger.Error("remote call failed",
		"op", op,
		"attempts", attempt,
		"retryable", retryable,
		"error", lastErr,
	)
	return model.NewRemoteError(op, retryable, lastErr)
}

func (g *Gateway) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = g.baseDelay << uint(g.maxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// IsTransient reports whether err is a failure worth retrying: rate
// limiting, a server error, or a transport failure. Context cancellation
// and validation failures are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if model.IsValidation(err) {
		return false
	}

	var apiErr *ynab.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return isTransportError(err)
}
