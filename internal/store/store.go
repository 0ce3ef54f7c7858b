// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
)

// Repository defines the interface for persisting accounts, profiles and
// tutoring session history.
type Repository interface {
	// GetAccount retrieves an account by ID. Returns nil, nil when absent.
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// UpsertAccount creates or updates an account record.
	UpsertAccount(ctx context.Context, account *domain.Account) error

	// UpdateLastSeen updates the last_seen_at timestamp for an account.
	UpdateLastSeen(ctx context.Context, accountID string, lastSeen time.Time) error

	// GetProfile retrieves the learner profile for an account. Returns nil, nil when absent.
	GetProfile(ctx context.Context, accountID string) (*domain.LearnerProfile, error)

	// UpsertProfile creates or replaces the learner profile and marks
	// onboarding complete for the owning account.
	UpsertProfile(ctx context.Context, profile *domain.LearnerProfile) error

	// CreateSession records a new tutoring session.
	CreateSession(ctx context.Context, record *domain.SessionRecord) error

	// UpdateSession updates subject, topic and phase of a recorded session.
	UpdateSession(ctx context.Context, record *domain.SessionRecord) error

	// AppendMessage persists one transcript message.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// AppendAttachment persists one attachment at the given position.
	AppendAttachment(ctx context.Context, sessionID string, position int, att domain.Attachment) error

	// ListSessions returns the most recent sessions for an account, newest first.
	ListSessions(ctx context.Context, accountID string, limit int) ([]*domain.SessionRecord, error)

	// GetSessionHistory returns a session with its transcript and attachments.
	// Returns nil, nil when the session does not exist.
	GetSessionHistory(ctx context.Context, sessionID string) (*domain.SessionHistory, error)

	// CleanupExpiredSessions removes recorded sessions not updated within the retention window.
	CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
