// Package payments abstracts the card processor. The escrow controller
// talks to a Provider and never to Stripe directly, so development and
// tests run against the fake.
//
// Every operation carries a caller-chosen reference that doubles as the
// processor idempotency key: replaying a request with the same reference
// returns the original result instead of moving money twice. Outcomes are
// three-valued. Unknown means the processor's answer never arrived, and
// the caller must resolve the charge's real state before compensating.
package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrChargeNotFound = errors.New("charge not found")

// Outcome is the processor's answer for one operation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnknown   Outcome = "unknown" // Timeout or transport failure; real state unresolved
)

// Result is the processor's response to a money movement.
type Result struct {
	Reference   string  `json:"reference"`
	ProviderRef string  `json:"providerRef,omitempty"` // Processor object ID
	Outcome     Outcome `json:"outcome"`
	FailureCode string  `json:"failureCode,omitempty"`
}

// CaptureRequest charges a client's payment method.
type CaptureRequest struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string // Processor payment method token
	ClientID      string
}

// PayoutRequest transfers funds to a stylist's connected account.
type PayoutRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Account   string // Processor account ID for the stylist
	StylistID string
}

// RefundRequest returns a captured charge to the client.
type RefundRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	CaptureRef  string // ProviderRef of the original capture
	ClientID    string
	Description string
}

// Provider moves money through the processor.
//
// Implementations must be idempotent per reference. Declines come back as
// OutcomeFailed with a nil error; a non-nil error means the request never
// got a definitive answer and the result carries OutcomeUnknown.
type Provider interface {
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	Payout(ctx context.Context, req PayoutRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	// CaptureStatus resolves the true state of a capture whose outcome
	// was Unknown. ErrChargeNotFound means the charge never reached the
	// processor.
	CaptureStatus(ctx context.Context, reference string) (*Result, error)
}

// MinorUnits converts a two-decimal amount to processor minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
