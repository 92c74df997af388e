package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

// RetryPolicy bounds every backend call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout applies to each attempt separately. Zero means no timeout.
	Timeout time.Duration
	// Clock drives backoff sleeps. Nil means real time.
	Clock clockwork.Clock
}

// DefaultRetryPolicy returns four attempts with 500ms..10s backoff and a
// 60s per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Timeout:        60 * time.Second,
	}
}

// call runs fn until it succeeds, returns a permanent error, the parent
// context ends, or attempts run out. Failures surface as ErrAggregation.
func (p *Pipeline) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	maxAttempts := max(p.retry.MaxAttempts, 1)
	backoff := p.retry.InitialBackoff

	for attempt := 1; ; attempt++ {
		err := p.attempt(ctx, operation, fn)
		if err == nil {
			p.metrics.BackendRequests.WithLabelValues(operation, "success").Inc()
			return nil
		}

		if ctx.Err() != nil {
			p.metrics.BackendRequests.WithLabelValues(operation, "error").Inc()
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
		if errors.Is(err, domain.ErrPermanent) || attempt >= maxAttempts {
			p.metrics.BackendRequests.WithLabelValues(operation, "error").Inc()
			return fmt.Errorf("%w: %s failed after %d attempt(s): %w", domain.ErrAggregation, operation, attempt, err)
		}

		p.metrics.BackendRequests.WithLabelValues(operation, "retry").Inc()
		p.logger.Warn("backend call failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !p.sleep(ctx, backoff) {
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
		backoff = sharedretry.NextBackoff(backoff, p.retry.MaxBackoff)
	}
}

// attempt runs fn once under the per-attempt timeout.
func (p *Pipeline) attempt(ctx context.Context, operation string, fn func(context.Context) error) error {
	attemptCtx := ctx
	if p.retry.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.retry.Timeout)
		defer cancel()
	}

	start := p.clock.Now()
	err := fn(attemptCtx)
	p.metrics.BackendDuration.WithLabelValues(operation).Observe(p.clock.Since(start).Seconds())
	return err
}

// sleep waits d on the pipeline clock. Returns false if ctx ends first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
