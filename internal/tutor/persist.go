package tutor

import (
	"context"
	"log/slog"
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/store"
)

const persistTimeout = 5 * time.Second

// Recorder writes session history to the repository as events happen.
// Storage failures are logged and never affect the live session.
type Recorder struct {
	repo   store.Repository
	logger *slog.Logger
}

// NewRecorder creates a history recorder.
func NewRecorder(repo store.Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Track records a new session and subscribes to its events. It is meant to be
// used as a Manager OnCreate hook.
func (r *Recorder) Track(s *Session) {
	snap := s.Snapshot()
	record := domain.SessionRecord{
		SessionID: s.ID(),
		AccountID: s.AccountID(),
		Subject:   snap.Subject,
		Topic:     snap.Topic,
		Phase:     string(snap.Phase),
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.CreatedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.repo.CreateSession(ctx, &record); err != nil {
		r.logger.Warn("failed to record session", "session_id", record.SessionID, "error", err)
		return
	}

	// Events are delivered one at a time, so record needs no lock.
	s.Subscribe(func(e Event) { r.handle(&record, e) })
}

func (r *Recorder) handle(record *domain.SessionRecord, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch e.Kind {
	case EventSubject:
		record.Subject, record.Topic = e.Subject, e.Topic
		err = r.repo.UpdateSession(ctx, record)
	case EventStarted:
		record.Subject, record.Topic = e.Subject, e.Topic
		record.Phase = string(PhaseActive)
		err = r.repo.UpdateSession(ctx, record)
	case EventClosed:
		record.Phase = string(PhaseClosed)
		err = r.repo.UpdateSession(ctx, record)
	case EventAttachment:
		err = r.repo.AppendAttachment(ctx, e.SessionID, e.Position, *e.Attachment)
	case EventMessage:
		err = r.repo.AppendMessage(ctx, e.SessionID, *e.Message)
	default:
		return
	}
	if err != nil {
		r.logger.Warn("failed to record session event", "session_id", e.SessionID, "event", e.Kind, "error", err)
	}
}

// StartRetention periodically deletes recorded sessions older than retention
// until ctx is done. A non-positive retention disables it.
func (r *Recorder) StartRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("history retention worker started", "retention", retention, "interval", interval)

		for {
			select {
			case <-ticker.C:
				r.purge(ctx, retention)
			case <-ctx.Done():
				r.logger.Info("history retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Recorder) purge(ctx context.Context, retention time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	n, err := r.repo.CleanupExpiredSessions(ctx, retention)
	if err != nil {
		r.logger.Warn("failed to purge expired session history", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("purged expired session history", "count", n)
	}
}
