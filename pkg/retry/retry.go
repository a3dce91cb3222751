// Package retry provides classified-failure retry with exponential backoff
// for calls to external data providers.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_retries_total",
		Help: "Total number of retry attempts by operation and error class",
	}, []string{"operation", "error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facility_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"operation", "error_class"})
)

// Common errors returned by the executor.
var (
	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = fmt.Errorf("context cancelled")
)

// Policy holds the configuration for retry logic. A Policy is immutable
// and safe to share across goroutines.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the initial call).
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff factor.
	Multiplier float64

	// Retryable is the set of failure classes that are retried.
	// Any class not present propagates on first occurrence.
	Retryable map[Class]bool
}

// DefaultPolicy returns the default retry policy: three attempts with
// 1s -> 2s backoff, retrying server errors and connection/timeout failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Retryable: map[Class]bool{
			ClassServer:  true,
			ClassNetwork: true,
		},
	}
}

// BackoffFor returns the delay between attempt n (1-indexed) and attempt n+1:
// min(InitialBackoff * Multiplier^(n-1), MaxBackoff).
func (p Policy) BackoffFor(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.Multiplier
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	return time.Duration(backoff)
}

// ShouldRetry reports whether a failure class is retryable under this policy.
func (p Policy) ShouldRetry(class Class) bool {
	return p.Retryable[class]
}

// Executor retries transient remote failures according to a Policy.
type Executor struct {
	policy   Policy
	classify func(error) Class
	logger   zerolog.Logger
}

// NewExecutor creates an executor with the given policy. The classifier maps
// failures to classes; pass nil to use the default Classify.
func NewExecutor(policy Policy, classify func(error) Class) *Executor {
	if classify == nil {
		classify = Classify
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Executor{
		policy:   policy,
		classify: classify,
		logger:   log.With().Str("component", "retry").Logger(),
	}
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do executes fn, retrying retryable-classified failures with exponential
// backoff. On exhaustion the last failure is returned unchanged so callers
// can inspect the original kind and message.
func (e *Executor) Do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				e.logger.Info().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return nil
		}

		lastErr = err
		class := e.classify(err)

		if !e.policy.ShouldRetry(class) {
			return lastErr
		}

		if attempt >= e.policy.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(operation, string(class)).Inc()

		backoff := e.policy.BackoffFor(attempt)
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(backoff.Seconds())

		e.logger.Debug().
			Str("operation", operation).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retrying call after backoff")

		select {
		case <-ctx.Done():
			e.logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(backoff):
		}
	}

	retryExhaustedTotal.WithLabelValues(operation, string(e.classify(lastErr))).Inc()
	e.logger.Warn().
		Str("operation", operation).
		Int("max_attempts", e.policy.MaxAttempts).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return lastErr
}
