package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stylelink/stylelink/internal/logging"
)

// Handlers exposes settlement administration endpoints.
type Handlers struct {
	controller *Controller
}

// NewHandlers creates escrow HTTP handlers.
func NewHandlers(c *Controller) *Handlers {
	return &Handlers{controller: c}
}

// RegisterRoutes registers settlement routes on the admin group.
func (h *Handlers) RegisterRoutes(admin *gin.RouterGroup) {
	admin.POST("/bookings/:id/settle", h.RetrySettlement)
}

// RetrySettlement re-runs settlement for a stuck terminal booking.
func (h *Handlers) RetrySettlement(c *gin.Context) {
	bookingID := c.Param("id")

	err := h.controller.RetrySettlement(c.Request.Context(), bookingID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"bookingId": bookingID, "settled": true})
	case errors.Is(err, ErrAlreadySettled):
		c.JSON(http.StatusOK, gin.H{"bookingId": bookingID, "settled": true, "note": "already settled"})
	case errors.Is(err, ErrUnknownOutcome):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotCaptured), errors.Is(err, ErrPayoutFailed), errors.Is(err, ErrRefundFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("settlement retry failed", "booking_id", bookingID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement retry failed"})
	}
}
