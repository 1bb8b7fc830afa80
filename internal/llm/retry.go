package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds retries of rate-limited calls. The wait before retry n
// (0-based) is InitialDelay + n*Step.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Step         time.Duration
}

// DefaultRetryPolicy returns 3 attempts with waits of 3s then 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 3 * time.Second, Step: 2 * time.Second}
}

// Delay returns the wait before the given retry.
func (p RetryPolicy) Delay(retry int) time.Duration {
	return p.InitialDelay + time.Duration(retry)*p.Step
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Step < 0 {
		p.Step = 0
	}
	return p
}

// linearBackOff implements backoff.BackOff with the policy's arithmetic
// schedule. Attempt limits are enforced by backoff.WithMaxRetries.
type linearBackOff struct {
	policy RetryPolicy
	n      int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.n)
	b.n++
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }

// BreakerSettings configures the circuit breaker in front of the provider.
// A zero ConsecutiveFailures disables the breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerSettings opens after 5 consecutive failures for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1}
}

// Resilient decorates a Service with the retry policy and a circuit breaker.
// Only ErrRateLimited is retried; every other failure returns immediately.
type Resilient struct {
	next     Service
	policy   RetryPolicy
	breaker  *gobreaker.CircuitBreaker[any]
	observer Observer
	logger   *slog.Logger
}

// ResilientOption configures a Resilient.
type ResilientOption func(*Resilient)

// WithObserver reports call outcomes to o.
func WithObserver(o Observer) ResilientOption {
	return func(r *Resilient) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(s BreakerSettings) ResilientOption {
	return func(r *Resilient) {
		r.breaker = newBreaker(s, r.logger)
	}
}

// NewResilient wraps next with policy.
func NewResilient(next Service, policy RetryPolicy, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:     next,
		policy:   policy.normalize(),
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	r.breaker = newBreaker(DefaultBreakerSettings(), r.logger)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newBreaker(s BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker[any] {
	if s.ConsecutiveFailures == 0 {
		return nil
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "model-service",
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// tripsBreaker reports whether err points at an unhealthy provider. Caller
// mistakes and cancellations do not count.
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	code := statusCode(err)
	return code == 0 || code >= http.StatusInternalServerError
}

// Query sends req, retrying while the provider rate-limits.
func (r *Resilient) Query(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := r.run(ctx, "query", func(ctx context.Context) error {
		var err error
		resp, err = r.next.Query(ctx, req)
		return err
	})
	if err != nil {
		return Response{}, err
	}
	r.observer.ObserveTokens(resp.InputTokens, resp.OutputTokens)
	return resp, nil
}

// Upload stores a file, retrying while the provider rate-limits.
func (r *Resilient) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var id string
	err := r.run(ctx, "upload", func(ctx context.Context) error {
		var err error
		id, err = r.next.Upload(ctx, name, data)
		return err
	})
	return id, err
}

// DeleteFile removes an uploaded file. Deletion is best-effort cleanup and
// is not retried.
func (r *Resilient) DeleteFile(ctx context.Context, fileID string) error {
	return r.next.DeleteFile(ctx, fileID)
}

func (r *Resilient) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	var err error
	if r.breaker == nil {
		err = r.retry(ctx, op, fn)
	} else {
		_, err = r.breaker.Execute(func() (any, error) {
			return nil, r.retry(ctx, op, fn)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
	}
	r.observer.ObserveCall(op, outcome(err), time.Since(start).Seconds())
	return err
}

func (r *Resilient) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil || errors.Is(err, ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{policy: r.policy}, uint64(r.policy.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		r.observer.ObserveRetry(op)
		r.logger.Warn("model rate limited, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && errors.Is(err, ErrRateLimited) {
		return fmt.Errorf("rate limited after %d attempts: %w", attempt, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
