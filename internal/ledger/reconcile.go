package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// FinishedBooking is the slice of a booking the reconciler needs. The
// booking package stays unimported here; the server wires an adapter.
type FinishedBooking struct {
	ID       string
	Status   string
	Price    decimal.Decimal
	Currency string
}

// BookingSource supplies bookings that reached a terminal state.
type BookingSource interface {
	ListFinished(ctx context.Context, limit int) ([]FinishedBooking, error)
}

// Discrepancy is one mismatch between the booking record and the ledger.
type Discrepancy struct {
	BookingID string `json:"bookingId"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

// Report summarizes one reconciliation run.
type Report struct {
	RanAt         time.Time     `json:"ranAt"`
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Reconciler audits the ledger against finished bookings: every completed
// booking must have a released escrow and a completed payout, and every
// settled cancellation a failed escrow. It only reports; it never writes.
type Reconciler struct {
	ledger   *Ledger
	bookings BookingSource
	logger   *slog.Logger
	limit    int
}

// NewReconciler creates a reconciler over the given ledger and bookings.
func NewReconciler(l *Ledger, src BookingSource, logger *slog.Logger) *Reconciler {
	return &Reconciler{ledger: l, bookings: src, logger: logger, limit: 500}
}

// Run audits recent finished bookings and returns the report.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	finished, err := r.bookings.ListFinished(ctx, r.limit)
	if err != nil {
		return nil, fmt.Errorf("list finished bookings: %w", err)
	}

	report := &Report{RanAt: time.Now().UTC()}
	for _, b := range finished {
		report.Checked++
		report.Discrepancies = append(report.Discrepancies, r.audit(ctx, b)...)
	}

	if len(report.Discrepancies) > 0 {
		r.logger.Warn("reconciliation found discrepancies",
			"checked", report.Checked,
			"discrepancies", len(report.Discrepancies))
	} else {
		r.logger.Info("reconciliation clean", "checked", report.Checked)
	}
	return report, nil
}

func (r *Reconciler) audit(ctx context.Context, b FinishedBooking) []Discrepancy {
	txs, err := r.ledger.ListByBooking(ctx, b.ID)
	if err != nil {
		return []Discrepancy{{BookingID: b.ID, Kind: "ledger_error", Detail: err.Error()}}
	}

	var escrowTx, payoutTx *Transaction
	for _, tx := range txs {
		switch tx.Type {
		case TypeEscrow:
			escrowTx = tx
		case TypePayout:
			payoutTx = tx
		}
	}

	var out []Discrepancy
	switch b.Status {
	case "completed":
		if escrowTx == nil {
			out = append(out, Discrepancy{BookingID: b.ID, Kind: "missing_escrow",
				Detail: "completed booking has no escrow transaction"})
		} else if escrowTx.Status != TxReleased {
			out = append(out, Discrepancy{BookingID: b.ID, Kind: "escrow_not_released",
				Detail: fmt.Sprintf("escrow %s is %s", escrowTx.ID, escrowTx.Status)})
		}
		if payoutTx == nil {
			out = append(out, Discrepancy{BookingID: b.ID, Kind: "missing_payout",
				Detail: "completed booking has no payout transaction"})
		} else {
			if payoutTx.Status != TxCompleted {
				out = append(out, Discrepancy{BookingID: b.ID, Kind: "payout_not_completed",
					Detail: fmt.Sprintf("payout %s is %s", payoutTx.ID, payoutTx.Status)})
			}
			if escrowTx != nil && payoutTx.Amount.GreaterThan(escrowTx.Amount) {
				out = append(out, Discrepancy{BookingID: b.ID, Kind: "payout_exceeds_escrow",
					Detail: fmt.Sprintf("payout %s exceeds escrow %s",
						payoutTx.Amount.StringFixed(2), escrowTx.Amount.StringFixed(2))})
			}
		}
	case "cancelled":
		if escrowTx != nil && escrowTx.Status != TxFailed {
			out = append(out, Discrepancy{BookingID: b.ID, Kind: "escrow_not_reversed",
				Detail: fmt.Sprintf("escrow %s is %s after cancellation", escrowTx.ID, escrowTx.Status)})
		}
		if payoutTx != nil && payoutTx.Status == TxCompleted {
			out = append(out, Discrepancy{BookingID: b.ID, Kind: "unexpected_payout",
				Detail: "cancelled booking has a completed payout"})
		}
	}
	return out
}
