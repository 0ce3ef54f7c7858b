package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gyaanguru/tutor/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareMintsAccountAndPersistsIt(t *testing.T) {
	repo := newRepo(t)

	var gotAccount, gotTab string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = AccountIDFromContext(r.Context())
		gotTab = TabIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(TabHeaderName, "tab-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(gotAccount) {
		t.Fatalf("expected minted anon id, got %q", gotAccount)
	}
	if gotTab != "tab-7" {
		t.Fatalf("expected tab-7, got %q", gotTab)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != gotAccount {
		t.Fatalf("expected anon cookie carrying %q, got %+v", gotAccount, cookies)
	}

	account, err := repo.GetAccount(context.Background(), gotAccount)
	if err != nil || account == nil {
		t.Fatalf("expected persisted account, err=%v", err)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	repo := newRepo(t)
	const id = "anon_0123456789abcdef0123456789abcdef"

	var gotAccount string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = AccountIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotAccount != id {
		t.Fatalf("expected %q, got %q", id, gotAccount)
	}
}

func TestSanitizeTabID(t *testing.T) {
	if got := sanitizeTabID("  "); got != DefaultTabIDValue {
		t.Errorf("expected default for blank, got %q", got)
	}
	if got := sanitizeTabID("../../etc"); got != DefaultTabIDValue {
		t.Errorf("expected default for invalid id, got %q", got)
	}
	if got := sanitizeTabID("tab:1"); got != "tab:1" {
		t.Errorf("expected tab:1, got %q", got)
	}
}
