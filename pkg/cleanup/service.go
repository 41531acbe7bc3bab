// Package cleanup enforces data retention: old audit rows, aged bus
// stream entries, and finished registry entries are swept on a timer.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyagents/polyagents/pkg/config"
)

// registryRetention keeps terminal conversations inspectable for a while
// before their ids can be reused.
const registryRetention = time.Hour

// AuditCleaner deletes audit rows older than the retention window.
// Implemented by audit.Store.
type AuditCleaner interface {
	Cleanup(ctx context.Context, days int) (conversations, messages int64, err error)
}

// StreamTrimmer drops conversation stream entries older than maxAge.
// Implemented by bus.Bus.
type StreamTrimmer interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// RegistryPruner evicts finished conversations from the in-memory
// registry. Implemented by orchestrator.Engine.
type RegistryPruner interface {
	PruneFinished(maxAge time.Duration) int
}

// Result is one sweep's deletion counts.
type Result struct {
	ConversationsDeleted int64 `json:"conversations_deleted"`
	MessagesDeleted      int64 `json:"messages_deleted"`
	StreamEntriesTrimmed int   `json:"stream_entries_trimmed"`
	RegistryPruned       int   `json:"registry_pruned"`
	RetentionDays        int   `json:"retention_days"`
}

// Service periodically enforces the retention policies. All sweeps are
// idempotent; the bus trimmer and registry pruner are optional.
type Service struct {
	interval      time.Duration
	retentionDays int
	streamMaxAge  time.Duration

	audit    AuditCleaner
	bus      StreamTrimmer
	registry RegistryPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. streamMaxAge bounds how long bus
// entries outlive their append.
func NewService(cfg config.CleanupConfig, streamMaxAge time.Duration, audit AuditCleaner, bus StreamTrimmer, registry RegistryPruner) *Service {
	return &Service{
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		streamMaxAge:  streamMaxAge,
		audit:         audit,
		bus:           bus,
		registry:      registry,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.retentionDays,
		"stream_max_age", s.streamMaxAge,
		"interval", s.interval)
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

	ticker := time.NewTicker(s.interval)
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
	if _, err := s.RunNow(ctx, s.retentionDays); err != nil {
		slog.Error("Cleanup sweep failed", "error", err)
	}
}

// RunNow sweeps immediately with an explicit retention, powering the
// admin cleanup endpoint. days <= 0 falls back to the configured value.
// An audit failure aborts the sweep; the stream and registry sweeps are
// best effort.
func (s *Service) RunNow(ctx context.Context, days int) (*Result, error) {
	if days <= 0 {
		days = s.retentionDays
	}
	res := &Result{RetentionDays: days}

	conversations, messages, err := s.audit.Cleanup(ctx, days)
	if err != nil {
		return nil, err
	}
	res.ConversationsDeleted = conversations
	res.MessagesDeleted = messages

	if s.bus != nil {
		trimmed, err := s.bus.Cleanup(ctx, s.streamMaxAge)
		if err != nil {
			slog.Error("Retention: stream trim failed", "error", err)
		} else {
			res.StreamEntriesTrimmed = trimmed
		}
	}

	if s.registry != nil {
		res.RegistryPruned = s.registry.PruneFinished(registryRetention)
	}

	if res.ConversationsDeleted > 0 || res.MessagesDeleted > 0 ||
		res.StreamEntriesTrimmed > 0 || res.RegistryPruned > 0 {
		slog.Info("Retention sweep completed",
			"conversations_deleted", res.ConversationsDeleted,
			"messages_deleted", res.MessagesDeleted,
			"stream_entries_trimmed", res.StreamEntriesTrimmed,
			"registry_pruned", res.RegistryPruned,
			"retention_days", days)
	}
	return res, nil
}
