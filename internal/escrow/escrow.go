// Package escrow settles booking funds against the card processor.
//
// Flow:
//  1. Client confirms an approved booking → capture charges the card and
//     writes an escrow hold to the ledger
//  2. Booking completes → payout transfers the price minus the platform
//     fee to the stylist and the hold is released
//  3. Booking cancels → the hold is reversed; if the card was already
//     charged the client is refunded in full
//
// Every processor call is idempotent per booking, keyed by references of
// the form "booking:{id}:capture|payout|refund". Settlement methods may be
// retried freely; a replay observes the ledger and does nothing twice.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stylelink/stylelink/internal/idgen"
	"github.com/stylelink/stylelink/internal/ledger"
	"github.com/stylelink/stylelink/internal/metrics"
	"github.com/stylelink/stylelink/internal/payments"
	"github.com/stylelink/stylelink/internal/retry"
	"github.com/stylelink/stylelink/internal/traces"
)

var (
	ErrCaptureFailed  = errors.New("payment capture failed")
	ErrPayoutFailed   = errors.New("payout failed")
	ErrRefundFailed   = errors.New("refund failed")
	ErrAlreadySettled = errors.New("booking funds already settled")
	ErrUnknownOutcome = errors.New("payment outcome unknown, retry later")
	ErrNotCaptured    = errors.New("no captured funds for booking")
)

// CaptureRef returns the idempotency reference for a booking's capture.
func CaptureRef(bookingID string) string { return "booking:" + bookingID + ":capture" }

// PayoutRef returns the idempotency reference for a booking's payout.
func PayoutRef(bookingID string) string { return "booking:" + bookingID + ":payout" }

// RefundRef returns the idempotency reference for a booking's refund.
func RefundRef(bookingID string) string { return "booking:" + bookingID + ":refund" }

// BookingInfo is the slice of a booking the controller needs.
type BookingInfo struct {
	ID        string
	ClientID  string
	StylistID string
	Price     decimal.Decimal
	Currency  string
	Status    string
}

// BookingSource resolves booking details. The booking package stays
// unimported here; the server wires an adapter.
type BookingSource interface {
	Lookup(ctx context.Context, bookingID string) (BookingInfo, error)
}

// WalletLedger abstracts the ledger operations the controller needs.
type WalletLedger interface {
	Append(ctx context.Context, tx *ledger.Transaction) (*ledger.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*ledger.Transaction, error)
	AdvanceStatus(ctx context.Context, id string, to ledger.TxStatus, providerRef string) error
}

// AccountResolver maps platform parties to processor tokens.
type AccountResolver interface {
	StylistAccount(ctx context.Context, stylistID string) (string, error)
}

// StaticAccounts derives processor account IDs from party IDs. Development
// and the fake provider use it; production wires a directory-backed
// resolver.
type StaticAccounts struct{}

func (StaticAccounts) StylistAccount(_ context.Context, stylistID string) (string, error) {
	return "acct_" + stylistID, nil
}

// Controller implements booking fund settlement.
type Controller struct {
	ledger   WalletLedger
	provider payments.Provider
	bookings BookingSource
	accounts AccountResolver
	feeRate  decimal.Decimal
	logger   *slog.Logger
	now      func() time.Time
}

// NewController creates an escrow controller.
func NewController(wl WalletLedger, provider payments.Provider, src BookingSource, feeRate decimal.Decimal, logger *slog.Logger) *Controller {
	return &Controller{
		ledger:   wl,
		provider: provider,
		bookings: src,
		accounts: StaticAccounts{},
		feeRate:  feeRate,
		logger:   logger,
		now:      time.Now,
	}
}

// WithAccounts overrides the processor account resolver.
func (c *Controller) WithAccounts(r AccountResolver) *Controller {
	c.accounts = r
	return c
}

// WithClock overrides the time source for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// CaptureForBooking charges the client's card and records the escrow hold.
// Safe to retry: a replay after a successful capture is a no-op, and a
// replay after an unknown outcome resolves the charge's true state first.
func (c *Controller) CaptureForBooking(ctx context.Context, bookingID, paymentMethod string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.CaptureForBooking",
		traces.BookingID(bookingID),
		traces.Reference(CaptureRef(bookingID)),
	)
	defer span.End()

	b, err := c.bookings.Lookup(ctx, bookingID)
	if err != nil {
		return err
	}
	span.SetAttributes(traces.Amount(b.Price.StringFixed(2)))
	ref := CaptureRef(bookingID)

	tx, err := c.ledger.Append(ctx, &ledger.Transaction{
		ID:          idgen.WithPrefix("wt_"),
		PartyID:     b.ClientID,
		Type:        ledger.TypeEscrow,
		Amount:      b.Price,
		Currency:    b.Currency,
		Status:      ledger.TxPending,
		BookingID:   bookingID,
		Reference:   ref,
		Description: "escrow hold for booking " + bookingID,
		CreatedAt:   c.now().UTC(),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return fmt.Errorf("record escrow hold: %w", err)
	}
	switch tx.Status {
	case ledger.TxCompleted, ledger.TxReleased:
		return nil // Already captured
	case ledger.TxFailed:
		return fmt.Errorf("%w: card was declined", ErrCaptureFailed)
	}

	res, captureErr := c.provider.Capture(ctx, payments.CaptureRequest{
		Reference:     ref,
		Amount:        b.Price,
		Currency:      b.Currency,
		PaymentMethod: paymentMethod,
		ClientID:      b.ClientID,
	})
	if captureErr != nil || res.Outcome == payments.OutcomeUnknown {
		res, err = c.resolveCapture(ctx, ref)
		if err != nil {
			metrics.CapturesTotal.WithLabelValues("unknown").Inc()
			return err
		}
	}

	switch res.Outcome {
	case payments.OutcomeSucceeded:
		if err := c.ledger.AdvanceStatus(ctx, tx.ID, ledger.TxCompleted, res.ProviderRef); err != nil {
			return fmt.Errorf("mark escrow captured: %w", err)
		}
		metrics.CapturesTotal.WithLabelValues("succeeded").Inc()
		c.logger.Info("payment captured",
			"booking_id", bookingID, "amount", b.Price.StringFixed(2), "currency", b.Currency)
		return nil
	default:
		if err := c.ledger.AdvanceStatus(ctx, tx.ID, ledger.TxFailed, res.ProviderRef); err != nil {
			c.logger.Error("mark escrow failed", "booking_id", bookingID, "error", err)
		}
		metrics.CapturesTotal.WithLabelValues("failed").Inc()
		if res.FailureCode != "" {
			return fmt.Errorf("%w: %s", ErrCaptureFailed, res.FailureCode)
		}
		return ErrCaptureFailed
	}
}

// resolveCapture polls the processor for the true state of a capture whose
// outcome never arrived. Funds are only at risk if we guess, so nothing is
// recorded until the processor answers definitively.
func (c *Controller) resolveCapture(ctx context.Context, ref string) (*payments.Result, error) {
	var res *payments.Result
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		r, err := c.provider.CaptureStatus(ctx, ref)
		if errors.Is(err, payments.ErrChargeNotFound) {
			// The request never reached the processor. A later retry of
			// the capture is safe with the same reference.
			return retry.Permanent(ErrUnknownOutcome)
		}
		if err != nil {
			return err
		}
		if r.Outcome == payments.OutcomeUnknown {
			return fmt.Errorf("capture still unresolved")
		}
		res = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			return nil, ErrUnknownOutcome
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	return res, nil
}

// ReleaseOnCompletion pays the stylist the booking price minus the
// platform fee and releases the escrow hold. Idempotent per booking.
func (c *Controller) ReleaseOnCompletion(ctx context.Context, bookingID string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.ReleaseOnCompletion",
		traces.BookingID(bookingID),
		traces.Reference(PayoutRef(bookingID)),
	)
	defer span.End()

	b, err := c.bookings.Lookup(ctx, bookingID)
	if err != nil {
		return err
	}

	escrowTx, err := c.ledger.GetByReference(ctx, CaptureRef(bookingID))
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return ErrNotCaptured
		}
		return err
	}
	switch escrowTx.Status {
	case ledger.TxFailed:
		return fmt.Errorf("%w: funds were refunded", ErrAlreadySettled)
	case ledger.TxPending:
		return fmt.Errorf("%w: capture never confirmed", ErrNotCaptured)
	}

	fee := Fee(b.Price, c.feeRate)
	net := b.Price.Sub(fee)

	payoutTx, err := c.ledger.Append(ctx, &ledger.Transaction{
		ID:          idgen.WithPrefix("wt_"),
		PartyID:     b.StylistID,
		Type:        ledger.TypePayout,
		Amount:      net,
		Currency:    b.Currency,
		Status:      ledger.TxPending,
		BookingID:   bookingID,
		Reference:   PayoutRef(bookingID),
		Description: fmt.Sprintf("payout for booking %s (fee %s)", bookingID, fee.StringFixed(2)),
		CreatedAt:   c.now().UTC(),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return fmt.Errorf("record payout: %w", err)
	}
	if payoutTx.Status == ledger.TxCompleted {
		// Payout already went through; make sure the hold is closed.
		return c.releaseHold(ctx, escrowTx)
	}

	account, err := c.accounts.StylistAccount(ctx, b.StylistID)
	if err != nil {
		return fmt.Errorf("resolve stylist account: %w", err)
	}

	var res *payments.Result
	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		r, err := c.provider.Payout(ctx, payments.PayoutRequest{
			Reference: PayoutRef(bookingID),
			Amount:    net,
			Currency:  b.Currency,
			Account:   account,
			StylistID: b.StylistID,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("payout", "unknown").Inc()
		return fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	if res.Outcome != payments.OutcomeSucceeded {
		metrics.SettlementsTotal.WithLabelValues("payout", "failed").Inc()
		if err := c.ledger.AdvanceStatus(ctx, payoutTx.ID, ledger.TxFailed, res.ProviderRef); err != nil {
			c.logger.Error("mark payout failed", "booking_id", bookingID, "error", err)
		}
		return fmt.Errorf("%w: %s", ErrPayoutFailed, res.FailureCode)
	}

	if err := c.ledger.AdvanceStatus(ctx, payoutTx.ID, ledger.TxCompleted, res.ProviderRef); err != nil {
		return fmt.Errorf("mark payout completed: %w", err)
	}
	if err := c.releaseHold(ctx, escrowTx); err != nil {
		return err
	}
	metrics.SettlementsTotal.WithLabelValues("payout", "succeeded").Inc()
	c.logger.Info("payout released",
		"booking_id", bookingID, "stylist_id", b.StylistID,
		"net", net.StringFixed(2), "fee", fee.StringFixed(2))
	return nil
}

func (c *Controller) releaseHold(ctx context.Context, escrowTx *ledger.Transaction) error {
	if escrowTx.Status == ledger.TxReleased {
		return nil
	}
	if err := c.ledger.AdvanceStatus(ctx, escrowTx.ID, ledger.TxReleased, ""); err != nil {
		return fmt.Errorf("release escrow hold: %w", err)
	}
	return nil
}

// ReverseOnCancellation undoes the escrow hold for a cancelled booking.
// If the card was charged, the client is refunded in full. Idempotent per
// booking; cancelling before any capture is a no-op.
func (c *Controller) ReverseOnCancellation(ctx context.Context, bookingID string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.ReverseOnCancellation",
		traces.BookingID(bookingID),
		traces.Reference(RefundRef(bookingID)),
	)
	defer span.End()

	b, err := c.bookings.Lookup(ctx, bookingID)
	if err != nil {
		return err
	}

	escrowTx, err := c.ledger.GetByReference(ctx, CaptureRef(bookingID))
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil // Nothing was ever captured
		}
		return err
	}

	switch escrowTx.Status {
	case ledger.TxFailed:
		return nil // Already reversed or never captured
	case ledger.TxReleased:
		return fmt.Errorf("%w: payout already released", ErrAlreadySettled)
	case ledger.TxPending:
		// Charge never confirmed; close the hold without touching the card.
		if err := c.ledger.AdvanceStatus(ctx, escrowTx.ID, ledger.TxFailed, ""); err != nil {
			return fmt.Errorf("close escrow hold: %w", err)
		}
		metrics.SettlementsTotal.WithLabelValues("reversal", "succeeded").Inc()
		return nil
	}

	creditTx, err := c.ledger.Append(ctx, &ledger.Transaction{
		ID:          idgen.WithPrefix("wt_"),
		PartyID:     b.ClientID,
		Type:        ledger.TypeCredit,
		Amount:      escrowTx.Amount,
		Currency:    escrowTx.Currency,
		Status:      ledger.TxPending,
		BookingID:   bookingID,
		Reference:   RefundRef(bookingID),
		Description: "refund for cancelled booking " + bookingID,
		CreatedAt:   c.now().UTC(),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return fmt.Errorf("record refund: %w", err)
	}
	if creditTx.Status == ledger.TxCompleted {
		return c.failHold(ctx, escrowTx)
	}

	var res *payments.Result
	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		r, err := c.provider.Refund(ctx, payments.RefundRequest{
			Reference:  RefundRef(bookingID),
			Amount:     escrowTx.Amount,
			Currency:   escrowTx.Currency,
			CaptureRef: escrowTx.ProviderRef,
			ClientID:   b.ClientID,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("refund", "unknown").Inc()
		return fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	if res.Outcome != payments.OutcomeSucceeded {
		metrics.SettlementsTotal.WithLabelValues("refund", "failed").Inc()
		if err := c.ledger.AdvanceStatus(ctx, creditTx.ID, ledger.TxFailed, res.ProviderRef); err != nil {
			c.logger.Error("mark refund failed", "booking_id", bookingID, "error", err)
		}
		return fmt.Errorf("%w: %s", ErrRefundFailed, res.FailureCode)
	}

	if err := c.ledger.AdvanceStatus(ctx, creditTx.ID, ledger.TxCompleted, res.ProviderRef); err != nil {
		return fmt.Errorf("mark refund completed: %w", err)
	}
	if err := c.failHold(ctx, escrowTx); err != nil {
		return err
	}
	metrics.SettlementsTotal.WithLabelValues("refund", "succeeded").Inc()
	c.logger.Info("booking refunded",
		"booking_id", bookingID, "client_id", b.ClientID,
		"amount", escrowTx.Amount.StringFixed(2))
	return nil
}

func (c *Controller) failHold(ctx context.Context, escrowTx *ledger.Transaction) error {
	if escrowTx.Status == ledger.TxFailed {
		return nil
	}
	if err := c.ledger.AdvanceStatus(ctx, escrowTx.ID, ledger.TxFailed, ""); err != nil {
		return fmt.Errorf("close escrow hold: %w", err)
	}
	return nil
}

// RetrySettlement re-runs the settlement a terminal booking should have
// had. Used when the post-transition hook failed and the booking is stuck
// with unsettled funds.
func (c *Controller) RetrySettlement(ctx context.Context, bookingID string) error {
	b, err := c.bookings.Lookup(ctx, bookingID)
	if err != nil {
		return err
	}
	switch b.Status {
	case "completed":
		return c.ReleaseOnCompletion(ctx, bookingID)
	case "cancelled":
		return c.ReverseOnCancellation(ctx, bookingID)
	default:
		return fmt.Errorf("booking %s is %s, nothing to settle", bookingID, b.Status)
	}
}
