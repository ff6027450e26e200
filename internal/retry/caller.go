package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Observer is notified before each retry sleep. Implementations are advisory
// (progress display, logging) and must not block for long.
type Observer interface {
	OnRetry(attempt int, delay time.Duration, reason Reason, err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(attempt int, delay time.Duration, reason Reason, err error)

func (f ObserverFunc) OnRetry(attempt int, delay time.Duration, reason Reason, err error) {
	f(attempt, delay, reason, err)
}

// Caller wraps a single logical network call with a per-attempt timeout and
// the retry policy. Sleeping between attempts happens here, not in Policy.
type Caller struct {
	policy   Policy
	timeout  time.Duration
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller with the given policy and initial per-attempt
// request timeout. Pass a nil observer to disable retry notifications.
func NewCaller(policy Policy, timeout time.Duration, observer Observer) *Caller {
	return &Caller{
		policy:   policy,
		timeout:  timeout,
		observer: observer,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do invokes fn until it succeeds, the policy gives up, or ctx is cancelled.
// Each attempt runs under its own timeout; after a Timeout classification the
// timeout escalates and stays escalated for the remaining attempts.
func (c *Caller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := c.timeout
	var lastErr error

	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		d := c.policy.Classify(err, 0, attempt)
		if !d.Retry {
			return err
		}
		if d.Reason == ReasonTimeout {
			timeout = c.policy.EscalateTimeout(timeout)
		}

		if c.observer != nil {
			c.observer.OnRetry(attempt, d.Delay, d.Reason, err)
		}
		slog.Debug("retrying remote call",
			"attempt", attempt,
			"delay", d.Delay,
			"reason", d.Reason.String(),
			"error", err,
		)
		if sleepErr := c.sleep(ctx, d.Delay); sleepErr != nil {
			return fmt.Errorf("retry aborted: %w", lastErr)
		}
	}
}
