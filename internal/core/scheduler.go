package core

// scheduler.go runs background maintenance for import sessions.
//
// A server that stops mid-import leaves its sessions in "processing"
// forever. The reaper marks such sessions failed once they are older than
// the configured age and no longer tracked by this process. It runs once
// on start, then every CheckInterval, until ctx is cancelled. A failing
// pass is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ReaperConfig holds the stale session reaper settings. Zero values select
// the defaults.
type ReaperConfig struct {
	StaleAfter    time.Duration // default 1h
	CheckInterval time.Duration // default 15m
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 15 * time.Minute
	}
	return c
}

// StartSessionReaper blocks, periodically failing stale sessions.
func (s *Service) StartSessionReaper(ctx context.Context, cfg ReaperConfig) {
	cfg = cfg.withDefaults()
	slog.Info("session reaper started",
		"stale_after", cfg.StaleAfter.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.reapStaleSessions(ctx, cfg.StaleAfter)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session reaper stopped")
			return
		case <-ticker.C:
			s.reapStaleSessions(ctx, cfg.StaleAfter)
		}
	}
}

// reapStaleSessions runs one pass and returns how many sessions it failed.
func (s *Service) reapStaleSessions(ctx context.Context, staleAfter time.Duration) int64 {
	start := time.Now()

	n, err := s.store.FailStaleSessions(ctx, start.Add(-staleAfter), s.trackedSessions(),
		"interrupted: the server stopped before the import finished")
	if err != nil {
		slog.Error("reap stale sessions", "error", err)
		return 0
	}
	if n > 0 {
		slog.Warn("failed stale import sessions",
			"sessions", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return n
}

// trackedSessions lists the session ids this process is still running.
func (s *Service) trackedSessions() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.imports))
	for id, imp := range s.imports {
		select {
		case <-imp.Done:
			continue
		default:
		}
		if u, err := uuid.Parse(id); err == nil {
			ids = append(ids, u)
		}
	}
	return ids
}
