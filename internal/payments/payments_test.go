package payments

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"100.00", 10000},
		{"0.01", 1},
		{"19.99", 1999},
		{"5", 500},
	}
	for _, tt := range tests {
		d, err := decimal.NewFromString(tt.amount)
		require.NoError(t, err)
		assert.Equal(t, tt.want, MinorUnits(d), "amount %s", tt.amount)
	}
}

func TestFakeProvider_CaptureIdempotency(t *testing.T) {
	p := NewFakeProvider()
	ctx := context.Background()
	req := CaptureRequest{Reference: "booking:bk_1:capture", Amount: decimal.NewFromInt(100), Currency: "GHS"}

	first, err := p.Capture(ctx, req)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, first.Outcome)

	second, err := p.Capture(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ProviderRef, second.ProviderRef)
}

func TestFakeProvider_Decline(t *testing.T) {
	p := NewFakeProvider()
	p.DeclineNext("booking:bk_1:capture", "card_declined")

	res, err := p.Capture(context.Background(), CaptureRequest{
		Reference: "booking:bk_1:capture", Amount: decimal.NewFromInt(50), Currency: "GHS",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "card_declined", res.FailureCode)
}

func TestFakeProvider_UnknownThenStatusResolves(t *testing.T) {
	p := NewFakeProvider()
	p.GoDark("booking:bk_1:capture", 1)
	ctx := context.Background()

	res, err := p.Capture(ctx, CaptureRequest{
		Reference: "booking:bk_1:capture", Amount: decimal.NewFromInt(50), Currency: "GHS",
	})
	require.Error(t, err)
	assert.Equal(t, OutcomeUnknown, res.Outcome)

	// The charge actually landed; a status probe sees it.
	status, err := p.CaptureStatus(ctx, "booking:bk_1:capture")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, status.Outcome)
	assert.NotEmpty(t, status.ProviderRef)
}

func TestFakeProvider_StatusUnknownCharge(t *testing.T) {
	p := NewFakeProvider()
	_, err := p.CaptureStatus(context.Background(), "booking:bk_404:capture")
	assert.ErrorIs(t, err, ErrChargeNotFound)
}
