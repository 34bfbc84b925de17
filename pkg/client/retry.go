package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retries_total",
		Help: "Total number of retry attempts by pipeline stage",
	}, []string{"stage"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retry_exhausted_total",
		Help: "Total number of times a bounded retry policy was exhausted by stage",
	}, []string{"stage"})
)

// Policy describes a retry policy with a fixed delay between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts. Zero means retry
	// indefinitely; the search and id-map stages rely on this so a subject
	// is never abandoned with a partial id set.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Jitter randomizes each wait by ±20% to avoid synchronized retries
	// across concurrent chunks.
	Jitter bool
}

// Unbounded returns a policy that retries forever with the given delay.
func Unbounded(delay time.Duration) Policy {
	return Policy{MaxAttempts: 0, Delay: delay}
}

// Bounded returns a policy with a fixed attempt budget.
func Bounded(maxAttempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Delay: delay}
}

// Retry executes fn under the policy. Each failed attempt is logged with the
// attempt number so an indefinite stall under an unbounded policy is visible
// to operators. The wait between attempts respects context cancellation.
func Retry(ctx context.Context, stage string, pol Policy, logger zerolog.Logger, fn func() error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("stage", stage).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if pol.MaxAttempts > 0 && attempt >= pol.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(stage).Inc()
			logger.Warn().
				Err(lastErr).
				Str("stage", stage).
				Int("max_attempts", pol.MaxAttempts).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, pol.MaxAttempts, lastErr)
		}

		retriesTotal.WithLabelValues(stage).Inc()

		wait := pol.Delay
		if pol.Jitter {
			wait = time.Duration(float64(wait) * (0.8 + rand.Float64()*0.4))
		}

		// Heartbeat: required for unbounded policies so stalls are diagnosable.
		logger.Warn().
			Err(err).
			Str("stage", stage).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Request failed, retrying after delay")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("stage", stage).
				Int("attempt", attempt).
				Msg("Context cancelled during retry wait")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
		}
	}
}
