package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stylelink/stylelink/internal/logging"
)

// Handlers exposes wallet read endpoints.
type Handlers struct {
	ledger     *Ledger
	reconciler *Reconciler
}

// NewHandlers creates wallet HTTP handlers.
func NewHandlers(l *Ledger, r *Reconciler) *Handlers {
	return &Handlers{ledger: l, reconciler: r}
}

// RegisterRoutes registers wallet routes on the given groups.
func (h *Handlers) RegisterRoutes(v1 *gin.RouterGroup, admin *gin.RouterGroup) {
	v1.GET("/wallets/:partyId/balance", h.GetBalance)
	v1.GET("/wallets/:partyId/transactions", h.ListTransactions)
	admin.POST("/reconcile", h.Reconcile)
}

// GetBalance returns a party's balance computed from the ledger.
func (h *Handlers) GetBalance(c *gin.Context) {
	partyID := c.Param("partyId")

	bal, err := h.ledger.GetBalance(c.Request.Context(), partyID)
	if err != nil {
		logging.L(c.Request.Context()).Error("balance lookup failed", "party_id", partyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute balance"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// ListTransactions returns a party's most recent wallet transactions.
func (h *Handlers) ListTransactions(c *gin.Context) {
	partyID := c.Param("partyId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txs, err := h.ledger.History(c.Request.Context(), partyID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("transaction list failed", "party_id", partyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"partyId": partyID, "transactions": txs})
}

// Reconcile runs a ledger audit and returns the report.
func (h *Handlers) Reconcile(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation not configured"})
		return
	}
	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}
