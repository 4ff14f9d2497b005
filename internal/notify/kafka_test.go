package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stylelink/stylelink/internal/booking"
)

// A broker outage must not stall the transition that emitted the event.
// 203.0.113.0/24 is TEST-NET-3, nothing listens there.
func TestKafkaSink_EmitDoesNotBlockOnUnreachableBroker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := NewKafkaSink([]string{"203.0.113.1:9092"}, "booking.lifecycle", logger)

	start := time.Now()
	sink.EmitTransition(context.Background(), booking.Event{
		BookingID: "bk_1",
		From:      booking.StatusPending,
		To:        booking.StatusApproved,
		ActorRole: booking.RoleStylist,
		Timestamp: time.Now().UTC(),
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond,
		"emit should enqueue and return, not wait for broker acks")
}
