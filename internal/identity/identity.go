// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/store"
)

const (
	AnonCookieName     = "gyaan_anon_id"
	TabHeaderName      = "X-Gyaan-Tab-ID"
	DefaultTabIDValue  = "default"
	anonCookieMaxAge   = 365 * 24 * time.Hour
	lastSeenResolution = time.Minute
)

type contextKey int

const (
	accountIDKey contextKey = iota
	displayNameKey
	tabIDKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// AccountIDFromContext extracts the account ID from the request context.
func AccountIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(accountIDKey).(string); ok {
		return v
	}
	return ""
}

// DisplayNameFromContext extracts the account display name from the request context.
func DisplayNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(displayNameKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabIDValue
}

// WithAccount returns a context carrying the given account identity.
// Used by non-HTTP drivers such as the terminal client.
func WithAccount(ctx context.Context, accountID, displayName string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	return context.WithValue(ctx, displayNameKey, displayName)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func deriveDisplayName(accountID string) string {
	if len(accountID) > 13 {
		return "learner-" + accountID[len(accountID)-8:]
	}
	return "learner"
}

// ensureAccount creates the account on first sight and returns its display name.
// Returning visitors only have their last-seen time refreshed.
func ensureAccount(ctx context.Context, repo store.Repository, accountID string) (string, error) {
	account, err := repo.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if account != nil {
		if now.Sub(account.LastSeenAt) > lastSeenResolution {
			if err := repo.UpdateLastSeen(ctx, accountID, now); err != nil {
				return "", err
			}
		}
		return account.DisplayName, nil
	}

	name := deriveDisplayName(accountID)
	err = repo.UpsertAccount(ctx, &domain.Account{
		AccountID:   accountID,
		DisplayName: name,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// getOrCreateAnonID returns the account ID from the cookie, minting a new one
// when absent or malformed. The cookie expiry slides on every request.
func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		minted, err := generateAnonID()
		if err != nil {
			return "", err
		}
		id = minted
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(TabHeaderName)
	if tid == "" {
		tid = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tid)
}

// Middleware injects anonymous per-device identity and per-request tab ID.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			displayName, err := ensureAccount(r.Context(), repo, accountID)
			if err != nil {
				slog.Error("Failed to initialize anonymous account", "account_id", accountID, "error", err)
				http.Error(w, `{"error":"failed to initialize anonymous account"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithAccount(r.Context(), accountID, displayName)
			ctx = context.WithValue(ctx, tabIDKey, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
