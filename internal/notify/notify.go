// Package notify fans booking lifecycle events out to interested sinks.
// Emission is fire and forget: a sink failure is counted and logged but
// never fails the transition that produced the event.
package notify

import (
	"context"

	"github.com/stylelink/stylelink/internal/booking"
	"github.com/stylelink/stylelink/internal/metrics"
)

// Sink receives lifecycle events.
type Sink interface {
	EmitTransition(ctx context.Context, ev booking.Event)
}

// Fanout delivers each event to every sink.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// EmitTransition delivers the event to all sinks.
func (f *Fanout) EmitTransition(ctx context.Context, ev booking.Event) {
	for _, s := range f.sinks {
		s.EmitTransition(ctx, ev)
	}
}

func countEmit(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventEmitsTotal.WithLabelValues(sink, result).Inc()
}
