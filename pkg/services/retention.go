package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
)

// RetentionConfig bounds a RetentionService's sweep. Session is the only
// entity this domain retains — there is no separate Event TTL since
// spec.md names no row type needing one.
type RetentionConfig struct {
	// SessionRetentionDays: terminal sessions older than this are deleted.
	SessionRetentionDays int
	// SweepInterval is how often the background loop runs.
	SweepInterval time.Duration
}

// DefaultRetentionConfig returns the production fallback values.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		SessionRetentionDays: 30,
		SweepInterval:        1 * time.Hour,
	}
}

const retentionPageSize = 200

// RetentionService periodically deletes terminal sessions past their
// retention window (spec §3's cascading DeleteSession ownership rule).
type RetentionService struct {
	cfg RetentionConfig
	st  store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService constructs a RetentionService over st.
func NewRetentionService(cfg RetentionConfig, st store.Store) *RetentionService {
	return &RetentionService{cfg: cfg, st: st}
}

// Start launches the background sweep loop. No-op if already started.
func (s *RetentionService) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.Info("retention service started",
		"session_retention_days", s.cfg.SessionRetentionDays,
		"sweep_interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *RetentionService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *RetentionService) run(ctx context.Context) {
	defer close(s.done)

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce pages through every session, deleting terminal ones whose
// CompletedAt is past the retention cutoff. The Store interface has no bulk
// "delete where completed_at < cutoff" operation, so this walks
// ListSessions pages and issues one DeleteSession per stale row — acceptable
// at this domain's session volume (spec.md names no SLA on sweep latency).
func (s *RetentionService) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.SessionRetentionDays) * 24 * time.Hour)
	deleted := 0

	for offset := 0; ; offset += retentionPageSize {
		sessions, total, err := s.st.ListSessions(ctx, store.SessionFilter{Limit: retentionPageSize, Offset: offset})
		if err != nil {
			slog.Error("retention: list sessions failed", "error", err)
			return
		}
		for _, sess := range sessions {
			if !sessionStale(sess, cutoff) {
				continue
			}
			if err := s.st.DeleteSession(ctx, sess.ID); err != nil {
				slog.Error("retention: delete session failed", "session_id", sess.ID, "error", err)
				continue
			}
			deleted++
		}
		if offset+len(sessions) >= total || len(sessions) == 0 {
			break
		}
	}

	if deleted > 0 {
		slog.Info("retention: deleted stale sessions", "count", deleted)
	}
}

func sessionStale(sess models.Session, cutoff time.Time) bool {
	return sess.IsTerminal() && sess.CompletedAt != nil && sess.CompletedAt.Before(cutoff)
}
