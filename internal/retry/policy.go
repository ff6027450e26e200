package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Reason classifies why an attempt failed and whether it is worth repeating.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNetwork
	ReasonTimeout
	ReasonRateLimited
	ReasonServerError
)

func (r Reason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonTimeout:
		return "timeout"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason Reason
}

// StatusError carries a non-2xx HTTP status through the retry machinery.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return http.StatusText(e.Code)
	}
	return e.Body
}

// Policy decides whether a failed remote call should be repeated and with
// what delay. It performs no I/O; the caller is responsible for sleeping.
type Policy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	TimeoutFactor float64
	MaxTimeout    time.Duration

	// jitter returns a value in [0, 1). Overridable in tests.
	jitter func() float64
}

// ShortPolicy is tuned for interactive calls where the user is waiting.
func ShortPolicy() Policy {
	return Policy{
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		MaxAttempts:   3,
		TimeoutFactor: 1.5,
		MaxTimeout:    2 * time.Minute,
		jitter:        rand.Float64,
	}
}

// LongPolicy is tuned for background extraction and report calls.
func LongPolicy() Policy {
	return Policy{
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   6,
		TimeoutFactor: 1.5,
		MaxTimeout:    5 * time.Minute,
		jitter:        rand.Float64,
	}
}

// OncePolicy performs exactly one attempt: the caller contributes only the
// per-request deadline. Status polls use it because their failure budget
// lives in the poller, not here.
func OncePolicy() Policy {
	return Policy{
		MaxAttempts: 1,
		jitter:      rand.Float64,
	}
}

// Classify inspects a failed attempt and returns a retry decision.
// attempt is 1-based: the delay grows exponentially with it.
// A zero status means the failure never produced an HTTP response.
func (p Policy) Classify(err error, status int, attempt int) Decision {
	reason, retryable := p.reason(err, status)
	if !retryable || attempt >= p.MaxAttempts {
		return Decision{Retry: false, Reason: reason}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempt), Reason: reason}
}

func (p Policy) reason(err error, status int) (Reason, bool) {
	// Explicit user cancellation is never retried.
	if errors.Is(err, context.Canceled) {
		return ReasonUnknown, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout, true
	}

	var se *StatusError
	if errors.As(err, &se) {
		status = se.Code
	}
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited, true
	case status >= 500:
		return ReasonServerError, true
	case status >= 400:
		return ReasonUnknown, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout, true
		}
		return ReasonNetwork, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ReasonNetwork, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonNetwork, true
	}

	return ReasonUnknown, false
}

// Backoff returns the delay before the given 1-based attempt is repeated:
// BaseDelay doubling per attempt with symmetric ±25% jitter, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	nominal := p.BaseDelay * time.Duration(1<<(attempt-1))
	if nominal > p.MaxDelay || nominal <= 0 {
		nominal = p.MaxDelay
	}
	jitter := p.jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	// Scale into [0.75, 1.25).
	scaled := time.Duration(float64(nominal) * (0.75 + 0.5*jitter()))
	if scaled > p.MaxDelay {
		scaled = p.MaxDelay
	}
	return scaled
}

// EscalateTimeout returns the request timeout to use after a Timeout failure.
// The escalated value persists for the remainder of the call's retry sequence.
func (p Policy) EscalateTimeout(current time.Duration) time.Duration {
	factor := p.TimeoutFactor
	if factor <= 1 {
		factor = 1.5
	}
	next := time.Duration(float64(current) * factor)
	if p.MaxTimeout > 0 && next > p.MaxTimeout {
		next = p.MaxTimeout
	}
	return next
}
