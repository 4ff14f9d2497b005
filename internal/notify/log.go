package notify

import (
	"context"
	"log/slog"

	"github.com/stylelink/stylelink/internal/booking"
)

// LogSink writes lifecycle events to the structured log. Always wired; it
// doubles as the audit trail in development where Kafka is absent.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) EmitTransition(ctx context.Context, ev booking.Event) {
	s.logger.Info("booking transition",
		"booking_id", ev.BookingID,
		"from", ev.From,
		"to", ev.To,
		"actor_role", ev.ActorRole,
	)
	countEmit("log", nil)
}
