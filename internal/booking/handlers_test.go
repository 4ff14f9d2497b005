package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylelink/stylelink/internal/escrow"
	"github.com/stylelink/stylelink/internal/ledger"
	"github.com/stylelink/stylelink/internal/payments"
)

// bookingLookup adapts the service to the escrow controller's view.
type bookingLookup struct {
	svc *Service
}

func (a *bookingLookup) Lookup(ctx context.Context, id string) (escrow.BookingInfo, error) {
	b, err := a.svc.Get(ctx, id)
	if err != nil {
		return escrow.BookingInfo{}, err
	}
	return escrow.BookingInfo{
		ID:        b.ID,
		ClientID:  b.ClientID,
		StylistID: b.StylistID,
		Price:     b.Price,
		Currency:  b.Currency,
		Status:    string(b.Status),
	}, nil
}

type testAPI struct {
	router   *gin.Engine
	svc      *Service
	ledger   *ledger.Ledger
	provider *payments.FakeProvider
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.Default()
	svc := NewService(NewMemoryStore(), logger).
		WithClock(func() time.Time { return testNow })

	l := ledger.New(ledger.NewMemoryStore())
	provider := payments.NewFakeProvider()
	rate := decimal.RequireFromString("0.10")
	controller := escrow.NewController(l, provider, &bookingLookup{svc: svc}, rate, logger)
	svc.WithSettler(controller)

	handler := NewHandler(svc, controller)
	router := gin.New()
	v1 := router.Group("/v1")
	handler.RegisterRoutes(v1)
	admin := router.Group("/v1/admin")
	handler.RegisterAdminRoutes(admin)

	return &testAPI{router: router, svc: svc, ledger: l, provider: provider}
}

func (a *testAPI) do(t *testing.T, method, path string, actor *Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("X-Actor-Role", string(actor.Role))
		req.Header.Set("X-Actor-Id", actor.PartyID)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) createBooking(t *testing.T) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/bookings",
		&Actor{Role: RoleClient, PartyID: "client-1"},
		gin.H{
			"clientId":    "client-1",
			"stylistId":   "stylist-1",
			"service":     "knotless braids",
			"scheduledAt": testNow.Add(72 * time.Hour).Format(time.RFC3339),
			"price":       "100.00",
			"currency":    "GHS",
		})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Booking Booking `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Booking.ID
}

func bookingStatus(t *testing.T, a *testAPI, id string) Status {
	t.Helper()
	b, err := a.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func TestHandler_CreateBooking_RequiresActor(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/v1/bookings", nil, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateBooking_ForbidsBookingForOthers(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/v1/bookings",
		&Actor{Role: RoleClient, PartyID: "client-2"},
		gin.H{
			"clientId":    "client-1",
			"stylistId":   "stylist-1",
			"service":     "trim",
			"scheduledAt": testNow.Add(time.Hour).Format(time.RFC3339),
			"price":       "20.00",
			"currency":    "GHS",
		})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_GetBooking_NotFound(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/v1/bookings/bk_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_FullLifecycle(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	client := &Actor{Role: RoleClient, PartyID: "client-1"}
	stylist := &Actor{Role: RoleStylist, PartyID: "stylist-1"}

	// Stylist approves.
	w := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/approve", stylist, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Client pays; capture succeeds and the booking confirms.
	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/payment", client,
		gin.H{"paymentMethod": "pm_card"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StatusConfirmed, bookingStatus(t, a, id))

	// Client marks satisfied, stylist completes.
	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/satisfy", client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/complete", stylist, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Settlement: stylist got 90.00, hold released.
	payout, err := a.ledger.GetByReference(context.Background(), escrow.PayoutRef(id))
	require.NoError(t, err)
	assert.Equal(t, "90.00", payout.Amount.StringFixed(2))
	assert.Equal(t, ledger.TxCompleted, payout.Status)

	hold, err := a.ledger.GetByReference(context.Background(), escrow.CaptureRef(id))
	require.NoError(t, err)
	assert.Equal(t, ledger.TxReleased, hold.Status)
}

func TestHandler_PatchTransition(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	client := &Actor{Role: RoleClient, PartyID: "client-1"}
	stylist := &Actor{Role: RoleStylist, PartyID: "stylist-1"}

	// Stylist approves through the generic surface.
	w := a.do(t, http.MethodPatch, "/v1/bookings/"+id, stylist,
		gin.H{"targetStatus": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StatusApproved, bookingStatus(t, a, id))

	// Confirmation stays capture-driven, never a direct request.
	w = a.do(t, http.MethodPatch, "/v1/bookings/"+id, client,
		gin.H{"targetStatus": "confirmed"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/payment", client,
		gin.H{"paymentMethod": "pm_card"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Dispute via PATCH carries the reason in the body.
	w = a.do(t, http.MethodPatch, "/v1/bookings/"+id, client,
		gin.H{"targetStatus": "disputed"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is mandatory")

	w = a.do(t, http.MethodPatch, "/v1/bookings/"+id, client,
		gin.H{"targetStatus": "disputed", "reason": "stylist never showed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StatusDisputed, bookingStatus(t, a, id))

	b, err := a.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "stylist never showed", b.DisputeReason)
}

func TestHandler_PatchTransition_UnknownTarget(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)

	w := a.do(t, http.MethodPatch, "/v1/bookings/"+id,
		&Actor{Role: RoleStylist, PartyID: "stylist-1"},
		gin.H{"targetStatus": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPatch, "/v1/bookings/"+id,
		&Actor{Role: RoleStylist, PartyID: "stylist-1"}, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_PaymentDeclined(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	client := &Actor{Role: RoleClient, PartyID: "client-1"}
	stylist := &Actor{Role: RoleStylist, PartyID: "stylist-1"}

	w := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/approve", stylist, nil)
	require.Equal(t, http.StatusOK, w.Code)

	a.provider.DeclineNext(escrow.CaptureRef(id), "card_declined")
	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/payment", client,
		gin.H{"paymentMethod": "pm_card"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	// Booking stays approved; no money moved to the stylist.
	assert.Equal(t, StatusApproved, bookingStatus(t, a, id))
}

func TestHandler_PaymentByWrongParty(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	stylist := &Actor{Role: RoleStylist, PartyID: "stylist-1"}

	w := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/approve", stylist, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/payment",
		&Actor{Role: RoleClient, PartyID: "client-9"},
		gin.H{"paymentMethod": "pm_card"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ApproveByWrongActor(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)

	w := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/approve",
		&Actor{Role: RoleClient, PartyID: "client-1"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_InvalidTransition(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)

	// Completing a pending booking skips the whole flow.
	w := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/complete",
		&Actor{Role: RoleStylist, PartyID: "stylist-1"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_DisputeAndRefund(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	client := &Actor{Role: RoleClient, PartyID: "client-1"}
	stylist := &Actor{Role: RoleStylist, PartyID: "stylist-1"}
	admin := &Actor{Role: RoleAdmin, PartyID: "admin-1"}

	a.do(t, http.MethodPost, "/v1/bookings/"+id+"/approve", stylist, nil)
	w := a.do(t, http.MethodPost, "/v1/bookings/"+id+"/payment", client,
		gin.H{"paymentMethod": "pm_card"})
	require.Equal(t, http.StatusOK, w.Code)

	// Client disputes the confirmed booking.
	w = a.do(t, http.MethodPost, "/v1/bookings/"+id+"/dispute", client,
		gin.H{"reason": "stylist never showed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Non-admin resolution is refused.
	w = a.do(t, http.MethodPost, "/v1/admin/bookings/"+id+"/resolve", stylist,
		gin.H{"outcome": "completeAndPay"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin refunds the client.
	w = a.do(t, http.MethodPost, "/v1/admin/bookings/"+id+"/resolve", admin,
		gin.H{"outcome": "cancelAndRefund"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StatusCancelled, bookingStatus(t, a, id))

	credit, err := a.ledger.GetByReference(context.Background(), escrow.RefundRef(id))
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeCredit, credit.Type)
	assert.Equal(t, "100.00", credit.Amount.StringFixed(2))
	assert.Equal(t, ledger.TxCompleted, credit.Status)
}

func TestHandler_ListBookings(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	_ = a.createBooking(t)

	w := a.do(t, http.MethodGet, "/v1/bookings?clientId=client-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Bookings []*Booking `json:"bookings"`
		Count    int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/v1/bookings?status=%s", StatusPending), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	_ = id
}

func TestHandler_ListBookings_Pagination(t *testing.T) {
	a := newTestAPI(t)
	for i := 0; i < 3; i++ {
		_ = a.createBooking(t)
	}

	var resp struct {
		Bookings   []*Booking `json:"bookings"`
		Count      int        `json:"count"`
		NextCursor string     `json:"nextCursor"`
		HasMore    bool       `json:"hasMore"`
	}

	w := a.do(t, http.MethodGet, "/v1/bookings?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.True(t, resp.HasMore)
	require.NotEmpty(t, resp.NextCursor)
	seen := map[string]bool{}
	for _, b := range resp.Bookings {
		seen[b.ID] = true
	}

	w = a.do(t, http.MethodGet, "/v1/bookings?limit=2&cursor="+resp.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.False(t, resp.HasMore)
	assert.Empty(t, resp.NextCursor)
	for _, b := range resp.Bookings {
		assert.False(t, seen[b.ID], "page two repeated booking %s", b.ID)
	}

	// Garbage cursors are rejected, not silently ignored.
	w = a.do(t, http.MethodGet, "/v1/bookings?cursor=%21%21", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CancelBeforePayment_NoRefundRow(t *testing.T) {
	a := newTestAPI(t)
	id := a.createBooking(t)
	client := &Actor{Role: RoleClient, PartyID: "client-1"}

	w := a.do(t, http.MethodDelete, "/v1/bookings/"+id, client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StatusCancelled, bookingStatus(t, a, id))

	// Nothing was captured, so the ledger has no rows for this booking.
	txs, err := a.ledger.ListByBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
