// Package ledger is the append-only log of monetary transactions.
//
// Every money movement on the platform is a WalletTransaction. Entries are
// never rewritten: an escrow hold advances through a fixed status
// progression (pending → completed → released|failed) and all other rows
// are immutable once written. Balances are computed by replaying the log,
// never stored.
//
// Duplicate protection is the reference key: one logical operation — the
// capture, payout, or refund of one booking — always carries the same
// reference, and the store refuses a second row with it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("reference already used")
	ErrInvalidStatusChange = errors.New("invalid transaction status change")
)

// Type classifies a wallet transaction.
type Type string

const (
	TypeCredit Type = "credit" // Funds in (refunds to clients)
	TypeDebit  Type = "debit"  // Funds out
	TypeEscrow Type = "escrow" // Funds held for a booking
	TypePayout Type = "payout" // Funds released to a stylist
)

// TxStatus is the state of a wallet transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"   // Created, external outcome not yet known
	TxCompleted TxStatus = "completed" // Money movement confirmed
	TxFailed    TxStatus = "failed"    // Declined or reversed before settlement
	TxReleased  TxStatus = "released"  // Escrow resolved in the stylist's favor
)

// statusSuccessors defines the only allowed status advancements. Terminal
// rows never move again.
var statusSuccessors = map[TxStatus][]TxStatus{
	TxPending:   {TxCompleted, TxFailed},
	TxCompleted: {TxReleased, TxFailed},
}

// Transaction represents one wallet ledger entry.
type Transaction struct {
	ID          string          `json:"id"`
	PartyID     string          `json:"partyId"`
	Type        Type            `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      TxStatus        `json:"status"`
	BookingID   string          `json:"bookingId,omitempty"`
	Reference   string          `json:"reference"`
	ProviderRef string          `json:"providerRef,omitempty"` // Processor-side object ID
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Balance is a party's position computed from the log.
type Balance struct {
	PartyID   string          `json:"partyId"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"` // Escrowed, not yet resolved
	TotalIn   decimal.Decimal `json:"totalIn"`
	TotalOut  decimal.Decimal `json:"totalOut"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists wallet transactions.
type Store interface {
	// Append writes a new transaction. A reference collision fails with
	// ErrDuplicateReference and leaves the log untouched.
	Append(ctx context.Context, tx *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	// AdvanceStatus moves a transaction along the allowed progression;
	// anything else fails with ErrInvalidStatusChange. A non-empty
	// providerRef records the processor-side object ID as it advances.
	AdvanceStatus(ctx context.Context, id string, to TxStatus, providerRef string) error
	ListByBooking(ctx context.Context, bookingID string) ([]*Transaction, error)
	ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error)
}

// Ledger manages the transaction log.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append writes a transaction, enforcing reference idempotency: if the
// reference has been used, the existing transaction is returned along with
// ErrDuplicateReference so callers can distinguish first-write from retry.
func (l *Ledger) Append(ctx context.Context, tx *Transaction) (*Transaction, error) {
	if tx.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("ledger: amount must be positive, got %s", tx.Amount)
	}
	if tx.Reference == "" {
		return nil, fmt.Errorf("ledger: reference is required")
	}

	if err := l.store.Append(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			existing, getErr := l.store.GetByReference(ctx, tx.Reference)
			if getErr != nil {
				return nil, getErr
			}
			return existing, ErrDuplicateReference
		}
		return nil, err
	}
	return tx, nil
}

// GetByReference returns the transaction carrying the idempotency key.
func (l *Ledger) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return l.store.GetByReference(ctx, reference)
}

// AdvanceStatus moves a transaction to the next status in its progression.
func (l *Ledger) AdvanceStatus(ctx context.Context, id string, to TxStatus, providerRef string) error {
	return l.store.AdvanceStatus(ctx, id, to, providerRef)
}

// ListByBooking returns every transaction referencing a booking.
func (l *Ledger) ListByBooking(ctx context.Context, bookingID string) ([]*Transaction, error) {
	return l.store.ListByBooking(ctx, bookingID)
}

// History returns a party's most recent transactions.
func (l *Ledger) History(ctx context.Context, partyID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListByParty(ctx, partyID, limit)
}

// GetBalance replays a party's transactions into a balance.
func (l *Ledger) GetBalance(ctx context.Context, partyID string) (*Balance, error) {
	txs, err := l.store.ListByParty(ctx, partyID, 0)
	if err != nil {
		return nil, err
	}
	return RebuildBalance(partyID, txs), nil
}

// RebuildBalance replays a sequence of transactions to reconstruct a
// party's balance. The same replay backs GetBalance and reconciliation, so
// the two can never drift apart.
func RebuildBalance(partyID string, txs []*Transaction) *Balance {
	bal := &Balance{
		PartyID:   partyID,
		Available: decimal.Zero,
		Held:      decimal.Zero,
		TotalIn:   decimal.Zero,
		TotalOut:  decimal.Zero,
	}

	for _, tx := range txs {
		if tx.PartyID != partyID {
			continue
		}
		switch tx.Type {
		case TypeCredit:
			if tx.Status == TxCompleted {
				bal.Available = bal.Available.Add(tx.Amount)
				bal.TotalIn = bal.TotalIn.Add(tx.Amount)
			}
		case TypeDebit:
			if tx.Status == TxCompleted {
				bal.Available = bal.Available.Sub(tx.Amount)
				bal.TotalOut = bal.TotalOut.Add(tx.Amount)
			}
		case TypePayout:
			if tx.Status == TxCompleted {
				bal.Available = bal.Available.Add(tx.Amount)
				bal.TotalIn = bal.TotalIn.Add(tx.Amount)
			}
		case TypeEscrow:
			switch tx.Status {
			case TxCompleted:
				bal.Held = bal.Held.Add(tx.Amount)
			case TxReleased:
				bal.TotalOut = bal.TotalOut.Add(tx.Amount)
			}
		}
		if tx.CreatedAt.After(bal.UpdatedAt) {
			bal.UpdatedAt = tx.CreatedAt
		}
	}
	return bal
}

// canAdvance reports whether a transaction may move from one status to
// another.
func canAdvance(from, to TxStatus) bool {
	for _, s := range statusSuccessors[from] {
		if s == to {
			return true
		}
	}
	return false
}
