package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stylelink/stylelink/internal/booking"
	"github.com/stylelink/stylelink/internal/logging"
)

// KafkaSink publishes lifecycle events to a Kafka topic. Messages are
// keyed by booking ID and hash-balanced, so every event for one booking
// lands on the same partition in transition order. The writer runs in
// async mode: EmitTransition enqueues and returns, delivery happens in
// the background and failures surface through the completion callback.
// A degraded broker must never stall a booking transition.
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			for _, m := range messages {
				countEmit("kafka", err)
				if err != nil {
					logger.Error("publish booking event",
						"booking_id", string(m.Key), "error", err)
				}
			}
		},
		Logger: kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error("kafka writer error", "detail", msg)
		}),
	}
	return &KafkaSink{writer: writer, timeout: 5 * time.Second, logger: logger}
}

type transitionMessage struct {
	BookingID string    `json:"bookingId"`
	ClientID  string    `json:"clientId"`
	StylistID string    `json:"stylistId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorRole string    `json:"actorRole"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *KafkaSink) EmitTransition(ctx context.Context, ev booking.Event) {
	payload, err := json.Marshal(transitionMessage{
		BookingID: ev.BookingID,
		ClientID:  ev.ClientID,
		StylistID: ev.StylistID,
		From:      string(ev.From),
		To:        string(ev.To),
		ActorRole: string(ev.ActorRole),
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		countEmit("kafka", err)
		return
	}

	// Detach from the request context; a cancelled request must not drop
	// the event. In async mode this call only enqueues, so an error here
	// means the message never made it into the batch queue. Delivery
	// errors arrive later via the completion callback.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(ev.BookingID),
		Value: payload,
		Time:  ev.Timestamp,
	})
	if err != nil {
		logging.L(ctx).Error("enqueue booking event",
			"booking_id", ev.BookingID, "to", ev.To, "error", err)
		countEmit("kafka", err)
	}
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
