package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically archives bookings that have sat in a terminal state
// past the retention window. Archived bookings drop out of listings but
// stay queryable by ID.
type Timer struct {
	service   *Service
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewTimer creates a new archival timer.
func NewTimer(service *Service, retention time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:   service,
		retention: retention,
		interval:  time.Hour,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the archival loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeArchive(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeArchive(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in archival timer", "panic", fmt.Sprint(r))
		}
	}()

	n, err := t.service.ArchiveExpired(ctx, t.retention, 500)
	if err != nil {
		t.logger.Warn("archival sweep failed", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("archived expired bookings", "count", n)
	}
}
