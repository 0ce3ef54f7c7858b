package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/identity"
	"github.com/gyaanguru/tutor/internal/profile"
)

const recentSessionsLimit = 10

// GetProfile returns the learner profile. Accounts that never onboarded get 404.
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())

	p, err := h.profiles.Load(r.Context(), accountID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		Error(w, http.StatusNotFound, "profile not found")
		return
	case err != nil:
		slog.Error("failed to load profile", "account_id", accountID, "error", err)
		Error(w, http.StatusServiceUnavailable, "profile unavailable")
		return
	}
	JSON(w, http.StatusOK, p)
}

// PutProfile validates and stores the onboarding profile.
func (h *AccountHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())

	var p domain.LearnerProfile
	if err := DecodeJSON(w, r, &p); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p.AccountID = accountID
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := h.profiles.Save(r.Context(), &p); err != nil {
		var fe profile.FieldErrors
		if errors.As(err, &fe) {
			JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  "invalid profile",
				"fields": fe,
			})
			return
		}
		slog.Error("failed to save profile", "account_id", accountID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	JSON(w, http.StatusOK, p)
}

// GetCatalog returns the subjects, topics, grades and languages on offer.
func (h *AccountHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"catalog":         h.catalog,
		"teaching_styles": domain.TeachingStyles,
	})
}

// GetDashboard returns what the learner sees after onboarding: their name,
// subjects to pick from and recent sessions.
func (h *AccountHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())

	p, degraded := h.profiles.LoadOrDefault(r.Context(), accountID)
	sessions, err := h.repo.ListSessions(r.Context(), accountID, recentSessionsLimit)
	if err != nil {
		slog.Warn("failed to list recent sessions", "account_id", accountID, "error", err)
		sessions = nil
	}
	if sessions == nil {
		sessions = []*domain.SessionRecord{}
	}
	messages := 0
	for _, s := range sessions {
		messages += s.MessageCount
	}
	onboarded := false
	if account, err := h.repo.GetAccount(r.Context(), accountID); err == nil && account != nil {
		onboarded = account.OnboardingCompleted
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"name":                 p.Name,
		"onboarding_completed": onboarded,
		"total_sessions":       len(sessions),
		"total_messages":       messages,
		"grade":                p.Grade,
		"language":             p.Language(),
		"subjects":             h.catalog.SubjectsFor(p),
		"recent_sessions":      sessions,
		"profile_degraded":     degraded,
	})
}

// ListHistory returns the account's recorded sessions, newest first.
func (h *AccountHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())

	sessions, err := h.repo.ListSessions(r.Context(), accountID, 50)
	if err != nil {
		slog.Error("failed to list sessions", "account_id", accountID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.SessionRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetHistory returns one recorded session with its transcript.
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	hist, err := h.repo.GetSessionHistory(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load session history", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if hist == nil || hist.AccountID != accountID {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, hist)
}
