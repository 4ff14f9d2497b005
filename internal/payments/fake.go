package payments

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is an in-memory Provider for development and tests. It
// honors reference idempotency and can be scripted to decline or go dark
// on specific references.
type FakeProvider struct {
	mu       sync.Mutex
	results  map[string]*Result // By reference
	declines map[string]string  // Reference -> failure code
	unknowns map[string]int     // Reference -> remaining unknown responses
	seq      int
}

// NewFakeProvider creates a provider that approves everything.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		results:  make(map[string]*Result),
		declines: make(map[string]string),
		unknowns: make(map[string]int),
	}
}

// DeclineNext makes the given reference fail with a code.
func (p *FakeProvider) DeclineNext(reference, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declines[reference] = code
}

// GoDark makes the next n requests for the reference time out, while the
// operation itself succeeds processor-side. CaptureStatus sees the truth.
func (p *FakeProvider) GoDark(reference string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unknowns[reference] = n
}

func (p *FakeProvider) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	return p.execute(req.Reference, "pi")
}

func (p *FakeProvider) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	return p.execute(req.Reference, "tr")
}

func (p *FakeProvider) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return p.execute(req.Reference, "re")
}

func (p *FakeProvider) CaptureStatus(ctx context.Context, reference string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.results[reference]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *res
	return &cp, nil
}

func (p *FakeProvider) execute(reference, prefix string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res, ok := p.results[reference]; ok {
		if n := p.unknowns[reference]; n > 0 {
			p.unknowns[reference] = n - 1
			return &Result{Reference: reference, Outcome: OutcomeUnknown},
				fmt.Errorf("fake provider: simulated timeout")
		}
		cp := *res
		return &cp, nil
	}

	if code, ok := p.declines[reference]; ok {
		res := &Result{Reference: reference, Outcome: OutcomeFailed, FailureCode: code}
		p.results[reference] = res
		cp := *res
		return &cp, nil
	}

	p.seq++
	res := &Result{
		Reference:   reference,
		ProviderRef: fmt.Sprintf("%s_fake_%04d", prefix, p.seq),
		Outcome:     OutcomeSucceeded,
	}
	p.results[reference] = res

	if n := p.unknowns[reference]; n > 0 {
		p.unknowns[reference] = n - 1
		return &Result{Reference: reference, Outcome: OutcomeUnknown},
			fmt.Errorf("fake provider: simulated timeout")
	}
	cp := *res
	return &cp, nil
}
