package notify

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stylelink/stylelink/internal/booking"
)

type captureSink struct {
	mu     sync.Mutex
	events []booking.Event
}

func (s *captureSink) EmitTransition(ctx context.Context, ev booking.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	f := NewFanout(a, b)

	ev := booking.Event{
		BookingID: "bk_1",
		From:      booking.StatusSatisfied,
		To:        booking.StatusCompleted,
		ActorRole: booking.RoleStylist,
		Timestamp: time.Now().UTC(),
	}
	f.EmitTransition(context.Background(), ev)

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, "bk_1", a.events[0].BookingID)
}

func TestLogSink_DoesNotPanic(t *testing.T) {
	s := NewLogSink(slog.Default())
	s.EmitTransition(context.Background(), booking.Event{
		BookingID: "bk_1",
		From:      booking.StatusPending,
		To:        booking.StatusApproved,
		ActorRole: booking.RoleStylist,
	})
}
