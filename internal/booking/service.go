package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stylelink/stylelink/internal/idgen"
	"github.com/stylelink/stylelink/internal/metrics"
	"github.com/stylelink/stylelink/internal/money"
)

// Store persists booking data. Status writes are conditional on the version
// the caller last read; a stale write fails with ErrConflict.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	UpdateVersioned(ctx context.Context, b *Booking, expectedVersion int64) error
	List(ctx context.Context, filter ListFilter) ([]*Booking, error)
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]*Booking, error)
	MarkArchived(ctx context.Context, id string) error
}

// ListFilter narrows List results. Results are ordered newest first;
// BeforeTime/BeforeID resume listing strictly before that position.
type ListFilter struct {
	ClientID   string
	StylistID  string
	Status     Status
	Limit      int
	BeforeTime time.Time
	BeforeID   string
}

// EventEmitter receives lifecycle events. Implementations must be
// fire-and-forget: the state machine never blocks on delivery.
type EventEmitter interface {
	EmitTransition(ctx context.Context, ev Event)
}

// Settler abstracts the escrow controller so booking doesn't import escrow.
// Both methods are idempotent; the service calls them after the transition
// has been committed and retries are safe.
type Settler interface {
	ReleaseOnCompletion(ctx context.Context, bookingID string) error
	ReverseOnCancellation(ctx context.Context, bookingID string) error
}

// ResolveOutcome is an adjudication decision for a disputed booking.
type ResolveOutcome string

const (
	OutcomeCompleteAndPay  ResolveOutcome = "completeAndPay"
	OutcomeCancelAndRefund ResolveOutcome = "cancelAndRefund"
)

// CreateRequest contains the parameters for creating a booking.
type CreateRequest struct {
	ClientID    string    `json:"clientId" binding:"required"`
	StylistID   string    `json:"stylistId" binding:"required"`
	Service     string    `json:"service" binding:"required"`
	ScheduledAt time.Time `json:"scheduledAt" binding:"required"`
	Price       string    `json:"price" binding:"required"`
	Currency    string    `json:"currency" binding:"required"`
}

// Service implements the booking state machine.
type Service struct {
	store   Store
	emitter EventEmitter
	settler Settler
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new booking service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithEmitter adds a lifecycle event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

// WithSettler adds the escrow settlement hook.
func (s *Service) WithSettler(st Settler) *Service {
	s.settler = st
	return s
}

// WithClock overrides the clock used by time-sensitive guards. The
// cancellation window is always judged against this clock, never against a
// caller-supplied timestamp.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create creates a new booking in pending state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	if req.ClientID == req.StylistID {
		return nil, fmt.Errorf("%w: client and stylist cannot be the same party", ErrForbidden)
	}

	price, err := money.Parse(req.Price)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(req.Currency)
	if !money.ValidCurrency(currency) {
		return nil, money.ErrInvalidCurrency
	}

	now := s.now()
	b := &Booking{
		ID:          idgen.WithPrefix("bk_"),
		ClientID:    req.ClientID,
		StylistID:   req.StylistID,
		Service:     req.Service,
		ScheduledAt: req.ScheduledAt,
		Price:       price,
		Currency:    currency,
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	return b, nil
}

// Get returns a booking by ID.
func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// List returns bookings matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Booking, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.store.List(ctx, filter)
}

// RequestTransition validates and applies an actor-requested transition.
//
// The write is conditional on the version read here: if another request
// lands in between, this one fails with ErrConflict and the caller must
// re-read and retry. Resolver-only edges (out of disputed) and the system
// confirmation edge are rejected for direct actors.
func (s *Service) RequestTransition(ctx context.Context, bookingID string, actor Actor, target Status) (*Booking, error) {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if err := s.guard(b, actor, target); err != nil {
		s.countTransition(target, err)
		return nil, err
	}

	return s.apply(ctx, b, actor, target)
}

// guard validates an actor-requested transition against the current state.
// Order matters: state validity is checked before authorization so that a
// stylist retrying "completed" on a now-disputed booking sees
// ErrInvalidTransition (a client bug), not ErrForbidden (an audit signal).
func (s *Service) guard(b *Booking, actor Actor, target Status) error {
	if b.Status == StatusDisputed {
		// Only the resolver moves a booking out of disputed.
		return fmt.Errorf("%w: booking is disputed, awaiting adjudication", ErrInvalidTransition)
	}
	if !CanTransition(b.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, target)
	}

	switch target {
	case StatusApproved, StatusRejected:
		if actor.Role != RoleStylist || actor.PartyID != b.StylistID {
			return fmt.Errorf("%w: only the stylist may approve or reject", ErrForbidden)
		}
	case StatusConfirmed:
		// Triggered by payment capture, never by a direct actor request.
		if actor.Role != RoleSystem {
			return fmt.Errorf("%w: confirmation follows payment capture", ErrForbidden)
		}
	case StatusSatisfied:
		if actor.Role != RoleClient || actor.PartyID != b.ClientID {
			return fmt.Errorf("%w: only the client may mark satisfied", ErrForbidden)
		}
	case StatusDisputed:
		if !isParty(b, actor) {
			return fmt.Errorf("%w: only the client or stylist may open a dispute", ErrForbidden)
		}
	case StatusCompleted:
		if actor.Role != RoleStylist || actor.PartyID != b.StylistID {
			return fmt.Errorf("%w: only the stylist may mark completed", ErrForbidden)
		}
	case StatusCancelled:
		switch {
		case actor.Role == RoleAdmin:
			// Admin cancellation has no time constraint.
		case actor.Role == RoleClient && actor.PartyID == b.ClientID:
			// Judged against the server clock, not a client-supplied time.
			if !b.ScheduledAt.After(s.now()) {
				return fmt.Errorf("%w: appointment time has passed", ErrInvalidTransition)
			}
		default:
			return fmt.Errorf("%w: only the client or an admin may cancel", ErrForbidden)
		}
	}

	return nil
}

// apply commits the transition, emits the lifecycle event, and fires the
// settlement hook for money-relevant targets. The caller has already
// validated the guard against the version held in b.
func (s *Service) apply(ctx context.Context, b *Booking, actor Actor, target Status) (*Booking, error) {
	from := b.Status
	expected := b.Version

	now := s.now()
	b.Status = target
	b.Version = expected + 1
	b.UpdatedAt = now

	if err := s.store.UpdateVersioned(ctx, b, expected); err != nil {
		s.countTransition(target, err)
		return nil, err
	}

	s.countTransition(target, nil)
	s.emit(ctx, Event{
		BookingID: b.ID,
		ClientID:  b.ClientID,
		StylistID: b.StylistID,
		From:      from,
		To:        target,
		ActorRole: actor.Role,
		Timestamp: now,
	})

	// Settlement reacts to the committed transition. The settler is
	// idempotent, so a failure here is retryable without risking a
	// duplicate payout or refund.
	if s.settler != nil {
		switch target {
		case StatusCompleted:
			if err := s.settler.ReleaseOnCompletion(ctx, b.ID); err != nil {
				s.logger.Error("payout release failed, will retry",
					"booking_id", b.ID, "error", err)
			}
		case StatusCancelled:
			if err := s.settler.ReverseOnCancellation(ctx, b.ID); err != nil {
				s.logger.Error("refund reversal failed, will retry",
					"booking_id", b.ID, "error", err)
			}
		}
	}

	return b, nil
}

// ConfirmPayment applies the system-triggered approved → confirmed
// transition after a successful escrow capture. No lock is held during the
// external capture call, so the booking is re-read and the write is
// version-checked here; one retry absorbs a benign concurrent update.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID string) (*Booking, error) {
	actor := Actor{Role: RoleSystem}

	for attempt := 0; attempt < 2; attempt++ {
		b, err := s.store.Get(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if b.Status != StatusApproved {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, StatusConfirmed)
		}

		updated, err := s.apply(ctx, b, actor, StatusConfirmed)
		if err == nil {
			return updated, nil
		}
		if !IsConflict(err) {
			return nil, err
		}
	}

	return nil, ErrConflict
}

// OpenDispute moves a confirmed or satisfied booking to disputed and
// records who raised it and why. Settlement stays frozen until an admin
// resolves it.
func (s *Service) OpenDispute(ctx context.Context, bookingID string, actor Actor, reason string) (*Booking, error) {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if err := s.guard(b, actor, StatusDisputed); err != nil {
		s.countTransition(StatusDisputed, err)
		return nil, err
	}

	b.DisputeReason = reason
	b.DisputedBy = actor.PartyID

	updated, err := s.apply(ctx, b, actor, StatusDisputed)
	if err != nil {
		return nil, err
	}
	metrics.DisputesOpenedTotal.Inc()
	return updated, nil
}

// ResolveDispute applies an admin adjudication to a disputed booking.
// completeAndPay releases the escrow to the stylist; cancelAndRefund
// reverses it to the client. Any non-admin actor fails with ErrForbidden.
func (s *Service) ResolveDispute(ctx context.Context, bookingID string, adjudicator Actor, outcome ResolveOutcome) (*Booking, error) {
	if adjudicator.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: only an admin may resolve a dispute", ErrForbidden)
	}

	var target Status
	switch outcome {
	case OutcomeCompleteAndPay:
		target = StatusCompleted
	case OutcomeCancelAndRefund:
		target = StatusCancelled
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, outcome)
	}

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: booking is not disputed", ErrInvalidTransition)
	}

	b.Resolution = string(outcome)

	updated, err := s.apply(ctx, b, adjudicator, target)
	if err != nil {
		return nil, err
	}
	metrics.DisputesResolvedTotal.WithLabelValues(string(outcome)).Inc()
	return updated, nil
}

// ArchiveExpired soft-deletes terminal bookings whose retention period has
// passed. Bookings are never physically removed; archived records drop out
// of default listings but remain referenced by their ledger transactions.
func (s *Service) ArchiveExpired(ctx context.Context, retention time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-retention)
	candidates, err := s.store.ListArchivable(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, b := range candidates {
		if err := s.store.MarkArchived(ctx, b.ID); err != nil {
			s.logger.Warn("failed to archive booking", "booking_id", b.ID, "error", err)
			continue
		}
		archived++
		metrics.BookingsArchivedTotal.Inc()
	}
	return archived, nil
}

// Price returns the booking's immutable price and currency, for settlement.
func (s *Service) Price(ctx context.Context, bookingID string) (decimal.Decimal, string, error) {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return decimal.Zero, "", err
	}
	return b.Price, b.Currency, nil
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.EmitTransition(ctx, ev)
}

func (s *Service) countTransition(target Status, err error) {
	result := "ok"
	switch {
	case err == nil:
	case IsConflict(err):
		result = "conflict"
		metrics.TransitionConflictsTotal.Inc()
	case IsForbidden(err):
		result = "forbidden"
		metrics.ForbiddenTransitionsTotal.Inc()
	default:
		result = "invalid"
	}
	metrics.TransitionsTotal.WithLabelValues(string(target), result).Inc()
}

func isParty(b *Booking, actor Actor) bool {
	switch actor.Role {
	case RoleClient:
		return actor.PartyID == b.ClientID
	case RoleStylist:
		return actor.PartyID == b.StylistID
	}
	return false
}
