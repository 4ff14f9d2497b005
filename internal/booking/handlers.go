package booking

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stylelink/stylelink/internal/escrow"
	"github.com/stylelink/stylelink/internal/logging"
	"github.com/stylelink/stylelink/internal/pagination"
)

// Capturer charges the client's card before payment confirmation. The
// escrow controller implements it; tests swap in a stub.
type Capturer interface {
	CaptureForBooking(ctx context.Context, bookingID, paymentMethod string) error
}

// Handler provides HTTP endpoints for booking operations.
type Handler struct {
	service  *Service
	capturer Capturer
}

// NewHandler creates a new booking handler.
func NewHandler(service *Service, capturer Capturer) *Handler {
	return &Handler{service: service, capturer: capturer}
}

// RegisterRoutes sets up booking routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
	r.GET("/bookings", h.ListBookings)
	r.GET("/bookings/:id", h.GetBooking)
	r.PATCH("/bookings/:id", h.Transition)
	r.POST("/bookings/:id/approve", h.Approve)
	r.POST("/bookings/:id/reject", h.Reject)
	r.POST("/bookings/:id/payment", h.ConfirmPayment)
	r.POST("/bookings/:id/satisfy", h.MarkSatisfied)
	r.POST("/bookings/:id/complete", h.Complete)
	r.POST("/bookings/:id/dispute", h.OpenDispute)
	r.DELETE("/bookings/:id", h.Cancel)
}

// RegisterAdminRoutes sets up adjudication routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/bookings/:id/resolve", h.ResolveDispute)
}

// actorFrom extracts the acting party from request headers. The gateway in
// front of this service authenticates and stamps them.
func actorFrom(c *gin.Context) (Actor, bool) {
	actor := Actor{
		Role:    Role(c.GetHeader("X-Actor-Role")),
		PartyID: c.GetHeader("X-Actor-Id"),
	}
	switch actor.Role {
	case RoleClient, RoleStylist, RoleAdmin:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_actor",
			"message": "X-Actor-Role must be client, stylist or admin",
		})
		return Actor{}, false
	}
	if actor.PartyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_actor",
			"message": "X-Actor-Id header is required",
		})
		return Actor{}, false
	}
	return actor, true
}

// CreateBooking handles POST /v1/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if actor.Role == RoleClient && req.ClientID != actor.PartyID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Clients may only book for themselves",
		})
		return
	}

	b, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"booking": b})
}

// GetBooking handles GET /v1/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// ListBookings handles GET /v1/bookings
func (h *Handler) ListBookings(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	filter := ListFilter{
		ClientID:  c.Query("clientId"),
		StylistID: c.Query("stylistId"),
		Status:    Status(c.Query("status")),
		Limit:     limit + 1, // One extra so we know whether a next page exists
	}
	if cur, err := pagination.Decode(c.Query("cursor")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid",
		})
		return
	} else if cur != nil {
		filter.BeforeTime = cur.CreatedAt
		filter.BeforeID = cur.ID
	}

	bookings, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	bookings, next, hasMore := pagination.ComputePage(bookings, limit, func(b *Booking) (time.Time, string) {
		return b.CreatedAt, b.ID
	})
	if bookings == nil {
		bookings = []*Booking{}
	}
	c.JSON(http.StatusOK, gin.H{
		"bookings":   bookings,
		"count":      len(bookings),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// Approve handles POST /v1/bookings/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, StatusApproved)
}

// Reject handles POST /v1/bookings/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.transition(c, StatusRejected)
}

// MarkSatisfied handles POST /v1/bookings/:id/satisfy
func (h *Handler) MarkSatisfied(c *gin.Context) {
	h.transition(c, StatusSatisfied)
}

// Complete handles POST /v1/bookings/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, StatusCompleted)
}

// Cancel handles DELETE /v1/bookings/:id
func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, StatusCancelled)
}

type transitionRequest struct {
	TargetStatus Status `json:"targetStatus" binding:"required"`
	Reason       string `json:"reason"`
}

// Transition handles PATCH /v1/bookings/:id, the generic transition
// request surface. The per-edge POST routes are conveniences over the
// same guards. Disputes go through here too, with reason carried in
// the body.
func (h *Handler) Transition(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "targetStatus is required",
		})
		return
	}

	var (
		b   *Booking
		err error
	)
	switch req.TargetStatus {
	case StatusDisputed:
		if req.Reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "reason is required to open a dispute",
			})
			return
		}
		b, err = h.service.OpenDispute(c.Request.Context(), c.Param("id"), actor, req.Reason)
	case StatusApproved, StatusRejected, StatusConfirmed, StatusSatisfied,
		StatusCompleted, StatusCancelled:
		b, err = h.service.RequestTransition(c.Request.Context(), c.Param("id"), actor, req.TargetStatus)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown target status",
		})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) transition(c *gin.Context, target Status) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	b, err := h.service.RequestTransition(c.Request.Context(), c.Param("id"), actor, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

type paymentRequest struct {
	PaymentMethod string `json:"paymentMethod" binding:"required"`
}

// ConfirmPayment handles POST /v1/bookings/:id/payment
//
// The card is charged first; only a successful capture moves the booking
// to confirmed. A capture with an unresolved outcome leaves the booking
// approved and the client retries, which is safe because captures are
// idempotent per booking.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paymentMethod is required",
		})
		return
	}

	ctx := c.Request.Context()
	b, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if actor.Role != RoleAdmin && !(actor.Role == RoleClient && actor.PartyID == b.ClientID) {
		h.respondError(c, ErrForbidden)
		return
	}
	if b.Status != StatusApproved {
		h.respondError(c, ErrInvalidTransition)
		return
	}

	if err := h.capturer.CaptureForBooking(ctx, b.ID, req.PaymentMethod); err != nil {
		switch {
		case errors.Is(err, escrow.ErrCaptureFailed):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "capture_failed",
				"message": err.Error(),
			})
		case errors.Is(err, escrow.ErrUnknownOutcome):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "capture_unresolved",
				"message": "Payment outcome unknown, retry shortly",
			})
		default:
			logging.L(ctx).Error("capture failed", "booking_id", b.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Payment processing failed",
			})
		}
		return
	}

	b, err = h.service.ConfirmPayment(ctx, b.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /v1/bookings/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	b, err := h.service.OpenDispute(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

type resolveRequest struct {
	Outcome ResolveOutcome `json:"outcome" binding:"required"`
}

// ResolveDispute handles POST /v1/admin/bookings/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required",
		})
		return
	}

	b, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), actor, req.Outcome)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Booking not found",
		})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Actor may not perform this transition",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Booking was modified concurrently, retry",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("booking request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal error",
		})
	}
}
