// Package booking owns the authoritative lifecycle of a booking.
//
// Flow:
//  1. Client requests a booking → pending
//  2. Stylist approves or rejects
//  3. Payment capture succeeds → confirmed (system transition)
//  4. Client marks satisfied → stylist marks completed → payout
//  5. Either party may dispute from confirmed/satisfied → admin adjudicates
//  6. Client or admin cancels a confirmed booking → refund
//
// Every status change goes through RequestTransition; nothing else writes
// Booking.Status. Writes are conditional on the version the caller last read,
// so two parties acting on the same booking at once produce exactly one
// winner and one Conflict.
package booking

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrInvalidTransition = errors.New("transition not permitted in current state")
	ErrForbidden         = errors.New("actor not authorized for this transition")
	ErrConflict          = errors.New("booking was modified concurrently, re-read and retry")
	ErrBookingExists     = errors.New("booking already exists")
)

// Status represents the state of a booking.
type Status string

const (
	StatusPending   Status = "pending"   // Created by client, awaiting stylist decision
	StatusApproved  Status = "approved"  // Stylist accepted, awaiting payment capture
	StatusRejected  Status = "rejected"  // Stylist declined
	StatusConfirmed Status = "confirmed" // Funds captured into escrow
	StatusSatisfied Status = "satisfied" // Client confirmed the service happened
	StatusDisputed  Status = "disputed"  // Settlement frozen pending adjudication
	StatusCompleted Status = "completed" // Stylist paid out
	StatusCancelled Status = "cancelled" // Cancelled, client refunded
)

// Role identifies the kind of actor requesting a transition.
type Role string

const (
	RoleClient  Role = "client"
	RoleStylist Role = "stylist"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system" // Internal transitions (payment capture)
)

// Actor is the identity attached to a transition request.
type Actor struct {
	Role    Role   `json:"role"`
	PartyID string `json:"partyId"`
}

// Booking represents a service appointment between a client and a stylist.
type Booking struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"clientId"`
	StylistID     string          `json:"stylistId"`
	Service       string          `json:"service"`
	ScheduledAt   time.Time       `json:"scheduledAt"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	DisputeReason string          `json:"disputeReason,omitempty"`
	DisputedBy    string          `json:"disputedBy,omitempty"`
	Resolution    string          `json:"resolution,omitempty"`
	Version       int64           `json:"version"`
	Archived      bool            `json:"archived,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// IsTerminal returns true if the booking is in a final state.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// successors maps each status to the set of statuses directly reachable
// from it. Resolver-only edges (out of disputed) are listed here but
// additionally gated in the service.
var successors = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusSatisfied, StatusDisputed, StatusCancelled},
	StatusSatisfied: {StatusCompleted, StatusDisputed},
	StatusDisputed:  {StatusCompleted, StatusCancelled},
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsForbidden reports whether err is an authorization failure.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// CanTransition reports whether target is a direct successor of from.
func CanTransition(from, to Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Event is a lifecycle event emitted after a successful transition.
type Event struct {
	BookingID string    `json:"bookingId"`
	ClientID  string    `json:"clientId"`
	StylistID string    `json:"stylistId"`
	From      Status    `json:"fromStatus"`
	To        Status    `json:"toStatus"`
	ActorRole Role      `json:"actorRole"`
	Timestamp time.Time `json:"timestamp"`
}
