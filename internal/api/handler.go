// Package api provides HTTP handlers for the GyaanGuru API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gyaanguru/tutor/internal/catalog"
	"github.com/gyaanguru/tutor/internal/config"
	"github.com/gyaanguru/tutor/internal/profile"
	"github.com/gyaanguru/tutor/internal/store"
)

// defaultMaxRequestBodySize bounds JSON request bodies (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	profiles *profile.Loader
	catalog  *catalog.Catalog
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, profiles *profile.Loader, cat *catalog.Catalog, cfg *config.Config) *Handler {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Handler{
		repo:     repo,
		profiles: profiles,
		catalog:  cat,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
