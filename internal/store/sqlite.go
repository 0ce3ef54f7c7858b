package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes transcript writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		account_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		onboarding_completed INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		account_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grade TEXT NOT NULL,
		age INTEGER NOT NULL,
		language TEXT NOT NULL,
		teaching_style TEXT NOT NULL,
		strengths TEXT NOT NULL,
		weaknesses TEXT NOT NULL,
		goals TEXT NOT NULL,
		subjects_json TEXT NOT NULL,
		daily_study_time TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tutoring_sessions (
		session_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		topic TEXT NOT NULL,
		phase TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_account ON tutoring_sessions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON tutoring_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS session_messages (
		session_id TEXT NOT NULL REFERENCES tutoring_sessions(session_id) ON DELETE CASCADE,
		message_id INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		PRIMARY KEY (session_id, message_id)
	);

	CREATE TABLE IF NOT EXISTS session_attachments (
		session_id TEXT NOT NULL REFERENCES tutoring_sessions(session_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		display_name TEXT NOT NULL,
		media_type TEXT NOT NULL,
		byte_size INTEGER NOT NULL,
		location TEXT NOT NULL,
		PRIMARY KEY (session_id, position)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by its ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `
		SELECT account_id, display_name, onboarding_completed,
		       last_seen_at, created_at, updated_at
		FROM accounts WHERE account_id = ?`

	var account domain.Account
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&account.AccountID, &account.DisplayName, &account.OnboardingCompleted,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}

	account.LastSeenAt = time.Unix(lastSeen, 0)
	account.CreatedAt = time.Unix(createdAt, 0)
	account.UpdatedAt = time.Unix(updatedAt, 0)
	return &account, nil
}

// UpsertAccount creates or updates an account record.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, account *domain.Account) error {
	query := `
	INSERT INTO accounts (account_id, display_name, onboarding_completed, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id) DO UPDATE SET
		display_name = excluded.display_name,
		onboarding_completed = MAX(accounts.onboarding_completed, excluded.onboarding_completed),
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		account.AccountID, account.DisplayName, account.OnboardingCompleted,
		account.LastSeenAt.Unix(), account.CreatedAt.Unix(), account.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for an account.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, accountID string, lastSeen time.Time) error {
	query := `UPDATE accounts SET last_seen_at = ?, updated_at = ? WHERE account_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), accountID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "account_id", accountID)
	}
	return nil
}

// GetProfile retrieves the learner profile for an account.
func (s *SQLiteStore) GetProfile(ctx context.Context, accountID string) (*domain.LearnerProfile, error) {
	query := `
		SELECT account_id, name, grade, age, language, teaching_style,
		       strengths, weaknesses, goals, subjects_json, daily_study_time,
		       created_at, updated_at
		FROM profiles WHERE account_id = ?`

	var p domain.LearnerProfile
	var style, subjectsJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&p.AccountID, &p.Name, &p.Grade, &p.Age, &p.PreferredLanguage, &style,
		&p.Strengths, &p.Weaknesses, &p.Goals, &subjectsJSON, &p.DailyStudyTime,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	if err := json.Unmarshal([]byte(subjectsJSON), &p.Subjects); err != nil {
		return nil, fmt.Errorf("decode profile subjects: %w", err)
	}
	p.TeachingStyle = domain.TeachingStyle(style)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// UpsertProfile creates or replaces a learner profile and marks onboarding complete.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.LearnerProfile) error {
	subjects := p.Subjects
	if subjects == nil {
		subjects = []string{}
	}
	subjectsJSON, err := json.Marshal(subjects)
	if err != nil {
		return fmt.Errorf("encode profile subjects: %w", err)
	}

	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return shared.RetryOnConflict(ctx, "upsert_profile", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin profile tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (
			account_id, name, grade, age, language, teaching_style,
			strengths, weaknesses, goals, subjects_json, daily_study_time,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			name = excluded.name,
			grade = excluded.grade,
			age = excluded.age,
			language = excluded.language,
			teaching_style = excluded.teaching_style,
			strengths = excluded.strengths,
			weaknesses = excluded.weaknesses,
			goals = excluded.goals,
			subjects_json = excluded.subjects_json,
			daily_study_time = excluded.daily_study_time,
			updated_at = excluded.updated_at`,
			p.AccountID, p.Name, p.Grade, p.Age, p.PreferredLanguage, string(p.TeachingStyle),
			p.Strengths, p.Weaknesses, p.Goals, string(subjectsJSON), p.DailyStudyTime,
			createdAt.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET onboarding_completed = 1, display_name = ?, updated_at = ? WHERE account_id = ?`,
			p.Name, now.Unix(), p.AccountID,
		)
		if err != nil {
			return fmt.Errorf("mark onboarding complete: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit profile tx: %w", err)
		}
		return nil
	})
}

// CreateSession records a new tutoring session.
func (s *SQLiteStore) CreateSession(ctx context.Context, record *domain.SessionRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, "create_session", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO tutoring_sessions (session_id, account_id, subject, topic, phase, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.SessionID, record.AccountID, record.Subject, record.Topic, record.Phase,
			record.CreatedAt.Unix(), record.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// UpdateSession updates subject, topic and phase of a recorded session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, record *domain.SessionRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, "update_session", writeRetries, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE tutoring_sessions SET subject = ?, topic = ?, phase = ?, updated_at = ? WHERE session_id = ?`,
			record.Subject, record.Topic, record.Phase, time.Now().Unix(), record.SessionID,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("session %s not found", record.SessionID)
		}
		return nil
	})
}

// AppendMessage persists one transcript message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, "append_message", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin message tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, message_id, speaker, body, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
			sessionID, msg.ID, string(msg.Speaker), msg.Body, msg.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tutoring_sessions SET updated_at = ? WHERE session_id = ?`,
			time.Now().Unix(), sessionID,
		); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit message tx: %w", err)
		}
		return nil
	})
}

// AppendAttachment persists one attachment at the given position.
func (s *SQLiteStore) AppendAttachment(ctx context.Context, sessionID string, position int, att domain.Attachment) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, "append_attachment", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_attachments (session_id, position, display_name, media_type, byte_size, location)
		VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, position, att.DisplayName, att.MediaType, att.ByteSize, att.RetrievalLocation,
		)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		return nil
	})
}

// ListSessions returns the most recent sessions for an account, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, accountID string, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT s.session_id, s.account_id, s.subject, s.topic, s.phase,
		       (SELECT COUNT(*) FROM session_messages m WHERE m.session_id = s.session_id),
		       s.created_at, s.updated_at
		FROM tutoring_sessions s
		WHERE s.account_id = ?
		ORDER BY s.created_at DESC, s.rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var records []*domain.SessionRecord
	for rows.Next() {
		record, err := scanSessionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRecord(row rowScanner) (*domain.SessionRecord, error) {
	var record domain.SessionRecord
	var createdAt, updatedAt int64
	if err := row.Scan(
		&record.SessionID, &record.AccountID, &record.Subject, &record.Topic, &record.Phase,
		&record.MessageCount, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0)
	record.UpdatedAt = time.Unix(updatedAt, 0)
	return &record, nil
}

// GetSessionHistory returns a session with its transcript and attachments.
func (s *SQLiteStore) GetSessionHistory(ctx context.Context, sessionID string) (*domain.SessionHistory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.session_id, s.account_id, s.subject, s.topic, s.phase,
		       (SELECT COUNT(*) FROM session_messages m WHERE m.session_id = s.session_id),
		       s.created_at, s.updated_at
		FROM tutoring_sessions s WHERE s.session_id = ?`, sessionID)

	record, err := scanSessionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	history := &domain.SessionHistory{
		SessionRecord: *record,
		Attachments:   []domain.Attachment{},
		Messages:      []domain.Message{},
	}

	attRows, err := s.db.QueryContext(ctx, `
		SELECT display_name, media_type, byte_size, location
		FROM session_attachments WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	for attRows.Next() {
		var att domain.Attachment
		if err := attRows.Scan(&att.DisplayName, &att.MediaType, &att.ByteSize, &att.RetrievalLocation); err != nil {
			_ = attRows.Close()
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}
		history.Attachments = append(history.Attachments, att)
	}
	if err := attRows.Close(); err != nil {
		slog.Warn("failed to close attachment rows", "error", err)
	}

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT message_id, speaker, body, created_at_ms
		FROM session_messages WHERE session_id = ? ORDER BY message_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := msgRows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()
	for msgRows.Next() {
		var msg domain.Message
		var speaker string
		var createdAtMs int64
		if err := msgRows.Scan(&msg.ID, &speaker, &msg.Body, &createdAtMs); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Speaker = domain.Speaker(speaker)
		msg.CreatedAt = time.UnixMilli(createdAtMs)
		history.Messages = append(history.Messages, msg)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return history, nil
}

// CleanupExpiredSessions removes recorded sessions not updated within the retention window.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM tutoring_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}
