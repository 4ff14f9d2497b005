package payments

import (
	"context"
	"errors"
	"time"

	"github.com/stylelink/stylelink/internal/circuitbreaker"
)

// ErrProviderUnavailable is returned when the circuit is open and the
// call never reached the processor. Safe to retry after the circuit
// recovers; no money moved.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// BreakerProvider wraps a Provider with a per-operation circuit breaker.
// Repeated transport failures against the processor trip the circuit so
// the platform stops hammering a degraded processor and fails fast.
//
// Only errored calls count as failures. A decline is a successful
// round-trip (OutcomeFailed with nil error) and never trips the circuit.
type BreakerProvider struct {
	inner   Provider
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps provider with a circuit breaker that opens after
// 5 consecutive transport failures and probes again after 30 seconds.
func WithBreaker(provider Provider) *BreakerProvider {
	return &BreakerProvider{
		inner:   provider,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (p *BreakerProvider) call(ctx context.Context, op string, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	if !p.breaker.Allow(op) {
		return &Result{Outcome: OutcomeUnknown}, ErrProviderUnavailable
	}
	res, err := fn(ctx)
	if err != nil && !errors.Is(err, ErrChargeNotFound) {
		p.breaker.RecordFailure(op)
	} else {
		p.breaker.RecordSuccess(op)
	}
	return res, err
}

func (p *BreakerProvider) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	return p.call(ctx, "capture", func(ctx context.Context) (*Result, error) {
		return p.inner.Capture(ctx, req)
	})
}

func (p *BreakerProvider) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	return p.call(ctx, "payout", func(ctx context.Context) (*Result, error) {
		return p.inner.Payout(ctx, req)
	})
}

func (p *BreakerProvider) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return p.call(ctx, "refund", func(ctx context.Context) (*Result, error) {
		return p.inner.Refund(ctx, req)
	})
}

func (p *BreakerProvider) CaptureStatus(ctx context.Context, reference string) (*Result, error) {
	return p.call(ctx, "capture_status", func(ctx context.Context) (*Result, error) {
		return p.inner.CaptureStatus(ctx, reference)
	})
}
