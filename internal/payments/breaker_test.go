package payments

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureReq(booking string) CaptureRequest {
	return CaptureRequest{
		Reference: fmt.Sprintf("booking:%s:capture", booking),
		Amount:    decimal.NewFromInt(50),
		Currency:  "GHS",
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	p := WithBreaker(NewFakeProvider())

	res, err := p.Capture(context.Background(), captureReq("bk_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
}

func TestBreakerIgnoresDeclines(t *testing.T) {
	fake := NewFakeProvider()
	p := WithBreaker(fake)

	// Declines are successful round-trips and must never open the circuit.
	for i := 0; i < 10; i++ {
		ref := fmt.Sprintf("bk_decline_%d", i)
		fake.DeclineNext(fmt.Sprintf("booking:%s:capture", ref), "card_declined")
		res, err := p.Capture(context.Background(), captureReq(ref))
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
	}

	res, err := p.Capture(context.Background(), captureReq("bk_ok"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
}

func TestBreakerOpensAfterTransportFailures(t *testing.T) {
	fake := NewFakeProvider()
	p := WithBreaker(fake)

	for i := 0; i < 5; i++ {
		ref := fmt.Sprintf("bk_dark_%d", i)
		fake.GoDark(fmt.Sprintf("booking:%s:capture", ref), 1)
		_, err := p.Capture(context.Background(), captureReq(ref))
		require.Error(t, err)
	}

	// Circuit is open now. The call fails fast without reaching the fake.
	res, err := p.Capture(context.Background(), captureReq("bk_after"))
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, OutcomeUnknown, res.Outcome)

	// The fake never saw the rejected capture.
	_, err = fake.CaptureStatus(context.Background(), "booking:bk_after:capture")
	assert.ErrorIs(t, err, ErrChargeNotFound)
}
