package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeProvider implements Provider on the Stripe API. Captures are
// confirmed PaymentIntents, payouts are Connect transfers, refunds are
// Refund objects against the original intent. The operation reference is
// passed as the Stripe idempotency key and stamped into metadata so
// CaptureStatus can find charges later.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a provider using the given secret key.
func NewStripeProvider(apiKey string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(MinorUnits(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(req.Reference)
	params.AddMetadata("reference", req.Reference)
	params.AddMetadata("client_id", req.ClientID)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return stripeFailure(req.Reference, err)
	}
	return &Result{
		Reference:   req.Reference,
		ProviderRef: pi.ID,
		Outcome:     intentOutcome(pi.Status),
	}, nil
}

func (p *StripeProvider) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(MinorUnits(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Account),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(req.Reference)
	params.AddMetadata("reference", req.Reference)
	params.AddMetadata("stylist_id", req.StylistID)

	tr, err := p.api.Transfers.New(params)
	if err != nil {
		return stripeFailure(req.Reference, err)
	}
	return &Result{Reference: req.Reference, ProviderRef: tr.ID, Outcome: OutcomeSucceeded}, nil
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.CaptureRef),
		Amount:        stripe.Int64(MinorUnits(req.Amount)),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(req.Reference)
	params.AddMetadata("reference", req.Reference)

	ref, err := p.api.Refunds.New(params)
	if err != nil {
		return stripeFailure(req.Reference, err)
	}
	out := OutcomeSucceeded
	if ref.Status == stripe.RefundStatusFailed {
		out = OutcomeFailed
	}
	return &Result{Reference: req.Reference, ProviderRef: ref.ID, Outcome: out}, nil
}

func (p *StripeProvider) CaptureStatus(ctx context.Context, reference string) (*Result, error) {
	params := &stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['reference']:'%s'", reference),
			Context: ctx,
		},
	}
	iter := p.api.PaymentIntents.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		return &Result{
			Reference:   reference,
			ProviderRef: pi.ID,
			Outcome:     intentOutcome(pi.Status),
		}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("search payment intents: %w", err)
	}
	return nil, ErrChargeNotFound
}

// stripeFailure classifies a Stripe error. Card declines and rejected
// requests are definitive failures; anything transport-shaped leaves the
// outcome unknown.
func stripeFailure(reference string, err error) (*Result, error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return &Result{
				Reference:   reference,
				Outcome:     OutcomeFailed,
				FailureCode: string(stripeErr.Code),
			}, nil
		}
	}
	return &Result{Reference: reference, Outcome: OutcomeUnknown},
		fmt.Errorf("stripe request failed: %w", err)
}

func intentOutcome(status stripe.PaymentIntentStatus) Outcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		return OutcomeUnknown
	default:
		return OutcomeFailed
	}
}
