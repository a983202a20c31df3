// Package cleanup enforces the event log retention policy.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/botfabrik/botfabrik/pkg/config"
	"github.com/botfabrik/botfabrik/pkg/events"
)

// Service periodically deletes bot_events rows older than the configured
// retention window. Deletion is idempotent and safe to run from multiple
// pods. A retention of zero days disables the sweep.
type Service struct {
	config config.RetentionConfig
	events *events.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, logger *events.Logger) *Service {
	return &Service{
		config: cfg,
		events: logger,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.config.EventRetentionDays <= 0 {
		slog.Info("Event retention disabled, sweeper not started")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"event_retention_days", s.config.EventRetentionDays,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.EventRetentionDays)
	count, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old events", "count", count, "cutoff", cutoff)
	}
}
