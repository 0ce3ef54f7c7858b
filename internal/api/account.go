package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gyaanguru/tutor/internal/identity"
)

const healthCheckTimeout = 5 * time.Second

// AccountHandler serves account, config and onboarding endpoints.
type AccountHandler struct {
	*Handler
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(base *Handler) *AccountHandler {
	return &AccountHandler{Handler: base}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.PutProfile)
		r.Get("/catalog", h.GetCatalog)
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/history", h.ListHistory)
		r.Get("/history/{sessionID}", h.GetHistory)
	})
}

// GetMe returns the current account.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())
	if accountID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	account, err := h.repo.GetAccount(r.Context(), accountID)
	if err != nil || account == nil {
		Error(w, http.StatusUnauthorized, "account not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"account_id":           account.AccountID,
		"display_name":         account.DisplayName,
		"onboarding_completed": account.OnboardingCompleted,
		"tab_id":               identity.TabIDFromContext(r.Context()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *AccountHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"ai_enabled": false,
	}
	if h.cfg != nil {
		resp["ai_enabled"] = h.cfg.AIEnabled()
		resp["provider"] = h.cfg.Reasoning.Provider
		resp["max_upload_bytes"] = h.cfg.Upload.MaxBytes
		resp["session_idle_ttl_seconds"] = int64(h.cfg.SessionIdleTTL.Seconds())
	}
	JSON(w, http.StatusOK, resp)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pinger interface {
		Ping(ctx context.Context) error
	}
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{pinger: base.repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.pinger.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
