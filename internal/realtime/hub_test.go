package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stylelink/stylelink/internal/booking"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func transitionEvent(bookingID, clientID, stylistID, to string) *Event {
	return &Event{
		Type:      EventTransition,
		Timestamp: time.Now(),
		Data: &TransitionPayload{
			BookingID: bookingID,
			ClientID:  clientID,
			StylistID: stylistID,
			From:      "pending",
			To:        to,
			ActorRole: "stylist",
		},
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := transitionEvent("bk_1", "client-1", "stylist-1", "approved")
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventDispute},
	}}

	transition := transitionEvent("bk_1", "client-1", "stylist-1", "approved")
	dispute := &Event{Type: EventDispute, Data: &TransitionPayload{BookingID: "bk_1", To: "disputed"}}

	if h.shouldSend(client, transition) {
		t.Error("Should NOT receive plain transitions")
	}
	if !h.shouldSend(client, dispute) {
		t.Error("Should receive dispute events")
	}
}

func TestShouldSend_BookingFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		BookingIDs: []string{"bk_1"},
	}}

	if !h.shouldSend(client, transitionEvent("bk_1", "client-1", "stylist-1", "approved")) {
		t.Error("Should match watched booking")
	}
	if h.shouldSend(client, transitionEvent("bk_2", "client-1", "stylist-1", "approved")) {
		t.Error("Should NOT match other bookings")
	}
}

func TestShouldSend_PartyFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		PartyIDs: []string{"stylist-1"},
	}}

	asStylist := transitionEvent("bk_1", "client-9", "stylist-1", "approved")
	asClient := transitionEvent("bk_2", "stylist-1", "stylist-9", "approved")
	unrelated := transitionEvent("bk_3", "client-9", "stylist-9", "approved")

	if !h.shouldSend(client, asStylist) {
		t.Error("Should match on stylist ID")
	}
	if !h.shouldSend(client, asClient) {
		t.Error("Should match on client ID")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated parties")
	}
}

func TestShouldSend_StatusFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Statuses: []string{"completed", "cancelled"},
	}}

	if !h.shouldSend(client, transitionEvent("bk_1", "c", "s", "completed")) {
		t.Error("Should receive completed transitions")
	}
	if h.shouldSend(client, transitionEvent("bk_1", "c", "s", "approved")) {
		t.Error("Should NOT receive approved transitions")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := transitionEvent("bk_1", "client-1", "stylist-1", "approved")
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NilData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		BookingIDs: []string{"bk_1"},
	}}

	// Event with no payload should not crash
	event := &Event{Type: EventTransition}
	if !h.shouldSend(client, event) {
		t.Error("Nil payload should pass through when filters can't apply")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(transitionEvent("bk_1", "client-1", "stylist-1", "approved"))
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(transitionEvent("bk_1", "client-1", "stylist-1", "confirmed"))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_EmitTransition(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventDispute}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// A transition into disputed is classified as a dispute event.
	h.EmitTransition(ctx, booking.Event{
		BookingID: "bk_1",
		ClientID:  "client-1",
		StylistID: "stylist-1",
		From:      booking.StatusConfirmed,
		To:        booking.StatusDisputed,
		ActorRole: booking.RoleClient,
		Timestamp: time.Now(),
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive dispute event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants disputes
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventDispute}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send an ordinary transition (should be filtered out)
	h.Broadcast(transitionEvent("bk_1", "client-1", "stylist-1", "approved"))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive ordinary transitions")
	default:
		// Good - filtered out
	}

	// Send a dispute event (should be received)
	h.Broadcast(&Event{
		Type:      EventDispute,
		Timestamp: time.Now(),
		Data:      &TransitionPayload{BookingID: "bk_1", To: "disputed"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive dispute event")
	}
}
