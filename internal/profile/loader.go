// Package profile reads and validates learner onboarding profiles.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/store"
)

var (
	// ErrNotFound is returned when the account never completed onboarding.
	ErrNotFound = errors.New("profile not found")
	// ErrProfileUnavailable is returned when the profile store cannot be read.
	ErrProfileUnavailable = errors.New("profile store unavailable")
)

// Loader reads learner profiles from the repository.
type Loader struct {
	repo    store.Repository
	choices Choices
	logger  *slog.Logger
}

// NewLoader creates a profile loader. When choices is nil, Save skips the
// catalog check.
func NewLoader(repo store.Repository, choices Choices, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{repo: repo, choices: choices, logger: logger}
}

// Load returns the stored profile for an account.
func (l *Loader) Load(ctx context.Context, accountID string) (domain.LearnerProfile, error) {
	p, err := l.repo.GetProfile(ctx, accountID)
	if err != nil {
		return domain.LearnerProfile{}, fmt.Errorf("%w: %w", ErrProfileUnavailable, err)
	}
	if p == nil {
		return domain.LearnerProfile{}, ErrNotFound
	}
	return *p, nil
}

// LoadOrDefault returns the stored profile or, when it cannot be read, the
// default profile. degraded reports whether the default was used.
func (l *Loader) LoadOrDefault(ctx context.Context, accountID string) (p domain.LearnerProfile, degraded bool) {
	p, err := l.Load(ctx, accountID)
	if err == nil {
		return p, false
	}
	if errors.Is(err, ErrNotFound) {
		l.logger.Info("no profile for account, using defaults", "account_id", accountID)
	} else {
		l.logger.Warn("failed to load profile, using defaults", "account_id", accountID, "error", err)
	}
	return domain.DefaultProfile(accountID), true
}

// Save normalizes, validates and stores a profile. Field problems, including
// picks missing from the catalog, come back together as FieldErrors.
func (l *Loader) Save(ctx context.Context, p *domain.LearnerProfile) error {
	Normalize(p)
	fe := FieldErrors{}
	if l.choices != nil {
		maps.Copy(fe, CheckChoices(*p, l.choices))
	}
	if err := Validate(*p); err != nil {
		var verr FieldErrors
		if !errors.As(err, &verr) {
			return err
		}
		maps.Copy(fe, verr)
	}
	if len(fe) > 0 {
		return fe
	}
	if err := l.repo.UpsertProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
