package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sqaleshop/api/internal/repositories"
)

const (
	defaultTxAttempts  = 3
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 5 * time.Second
	defaultTxTimeout   = 60 * time.Second

	metricNamespace = "github.com/sqaleshop/api/internal/services"
)

var errRetriesExhausted = errors.New("transaction retries exhausted")

// RetryPolicy bounds the transactional builders.
type RetryPolicy struct {
	Attempts    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	TxTimeout   time.Duration
	// Sleep waits between attempts; defaults to gax.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	Meter metric.Meter
}

// txRetrier runs a unit of work with bounded retries on transient failures.
type txRetrier struct {
	uow      repositories.UnitOfWork
	attempts int
	base     time.Duration
	cap      time.Duration
	timeout  time.Duration
	sleep    func(context.Context, time.Duration) error
	logger   func(context.Context, string, map[string]any)

	attemptCount  metric.Int64Counter
	fallbackCount metric.Int64Counter
}

func newTxRetrier(uow repositories.UnitOfWork, policy RetryPolicy, logger func(context.Context, string, map[string]any)) *txRetrier {
	r := &txRetrier{
		uow:      uow,
		attempts: policy.Attempts,
		base:     policy.BackoffBase,
		cap:      policy.BackoffCap,
		timeout:  policy.TxTimeout,
		sleep:    policy.Sleep,
		logger:   logger,
	}
	if r.attempts <= 0 {
		r.attempts = defaultTxAttempts
	}
	if r.base <= 0 {
		r.base = defaultBackoffBase
	}
	if r.cap <= 0 {
		r.cap = defaultBackoffCap
	}
	if r.timeout <= 0 {
		r.timeout = defaultTxTimeout
	}
	if r.sleep == nil {
		r.sleep = gax.Sleep
	}
	if r.logger == nil {
		r.logger = noopLogger
	}

	meter := policy.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	// instrument errors leave nil counters, which record() skips
	r.attemptCount, _ = meter.Int64Counter("builder.tx.attempts",
		metric.WithDescription("Transactional build attempts by outcome"))
	r.fallbackCount, _ = meter.Int64Counter("builder.fallbacks",
		metric.WithDescription("Builds that fell back to sequential writes"))
	return r
}

// run executes fn in a transaction up to r.attempts times, each bounded by r.timeout. An
// attempt that hits its own deadline is retried. Once attempts are spent it returns an
// error wrapping errRetriesExhausted so the caller can fall back.
func (r *txRetrier) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := gax.Backoff{Initial: r.base, Max: r.cap, Multiplier: 2}
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.uow.RunInTx(attemptCtx, fn)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			r.record(ctx, r.attemptCount, op, "committed")
			return nil
		}
		if ctx.Err() != nil || !(timedOut || isTransient(err)) {
			r.record(ctx, r.attemptCount, op, "failed")
			return err
		}
		r.record(ctx, r.attemptCount, op, "retried")
		lastErr = err
		r.logger(ctx, op+".builder.retry", map[string]any{
			"attempt":  attempt,
			"timedOut": timedOut,
			"error":    err.Error(),
		})
		if attempt == r.attempts {
			break
		}
		if err := r.sleep(ctx, backoff.Pause()); err != nil {
			return err
		}
	}
	r.record(ctx, r.fallbackCount, op, "exhausted")
	r.logger(ctx, op+".builder.fallback", map[string]any{
		"attempts": r.attempts,
		"error":    lastErr.Error(),
	})
	return fmt.Errorf("%w: %w", errRetriesExhausted, lastErr)
}

func (r *txRetrier) record(ctx context.Context, counter metric.Int64Counter, op, outcome string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
