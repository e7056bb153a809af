package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour

	// Attempt counters outlive their code's TTL by a wide margin.
	codeAttemptRetention = 1 * time.Hour
)

// CleanupService periodically prunes dead sessions and stale attempt counters.
type CleanupService struct {
	sessions     *SessionRepository
	codeAttempts *CodeAttemptRepository
	interval     time.Duration
}

func NewCleanupService(sessions *SessionRepository, codeAttempts *CodeAttemptRepository, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupService{
		sessions:     sessions,
		codeAttempts: codeAttempts,
		interval:     interval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting cleanup service", "component", "cleanup", "interval", s.interval)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *CleanupService) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	sessionsDeleted, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("error deleting expired sessions", "component", "cleanup", "error", err)
	} else if sessionsDeleted > 0 {
		slog.Info("deleted expired sessions", "component", "cleanup", "count", sessionsDeleted)
	}

	attemptsDeleted, err := s.codeAttempts.DeleteBefore(ctx, now.Add(-codeAttemptRetention))
	if err != nil {
		slog.Error("error deleting code attempts", "component", "cleanup", "error", err)
	} else if attemptsDeleted > 0 {
		slog.Info("deleted code attempts", "component", "cleanup", "count", attemptsDeleted)
	}
}
