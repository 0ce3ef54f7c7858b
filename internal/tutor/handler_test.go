package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gyaanguru/tutor/internal/attachment"
	"github.com/gyaanguru/tutor/internal/identity"
	"github.com/gyaanguru/tutor/internal/reasoning"
)

const testAccountHeader = "X-Test-Account"

type handlerFixture struct {
	mgr    *Manager
	router http.Handler
}

func newHandlerFixture(t *testing.T, c reasoning.Completer, limiter *RateLimiter) *handlerFixture {
	t.Helper()
	fs, err := attachment.NewFileStore(t.TempDir(), "/files/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	mgr := NewManager(ManagerConfig{Profiles: staticProfiles{profile: testProfile}, Completer: c})
	t.Cleanup(mgr.CloseAll)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := identity.WithAccount(r.Context(), r.Header.Get(testAccountHeader), "tester")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(mgr, attachment.NewAdapter(fs, 1<<20, 2, nil), limiter, 1<<20).RegisterRoutes(r)
	return &handlerFixture{mgr: mgr, router: r}
}

func (f *handlerFixture) do(t *testing.T, method, path, account, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(testAccountHeader, account)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *handlerFixture) doJSON(t *testing.T, method, path, account, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, path, account, "application/json", []byte(body))
}

func (f *handlerFixture) create(t *testing.T, account string) string {
	t.Helper()
	rr := f.doJSON(t, http.MethodPost, "/api/sessions", account, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var snap Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Phase != PhaseSetup {
		t.Fatalf("new session should be in setup, got %s", snap.Phase)
	}
	return snap.SessionID
}

func (f *handlerFixture) waitIdle(t *testing.T, account, id string) {
	t.Helper()
	s, err := f.mgr.Get(account, id)
	if err != nil {
		t.Fatal(err)
	}
	waitIdle(t, s)
}

func multipartBody(t *testing.T, files map[string][]byte, order []string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(files[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestHandlerSessionLifecycle(t *testing.T) {
	f := newHandlerFixture(t, echoCompleter(), nil)
	const acct = "anon_owner"
	id := f.create(t, acct)
	base := "/api/sessions/" + id

	if rr := f.doJSON(t, http.MethodPost, base+"/start", acct, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("start without subject: expected 400, got %d", rr.Code)
	}
	if rr := f.doJSON(t, http.MethodPost, base+"/subject", acct, `{"subject":"Science","topic":"Plants"}`); rr.Code != http.StatusOK {
		t.Fatalf("subject: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body, ct := multipartBody(t, map[string][]byte{
		"notes.txt": []byte("leaves make food from sunlight"),
		"tool.exe":  {0x00, 0x01, 0x02, 0xff},
	}, []string{"notes.txt", "tool.exe"})
	rr := f.do(t, http.MethodPost, base+"/attachments", acct, ct, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("attachments: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var upload struct {
		Results []uploadResult `json:"results"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&upload); err != nil {
		t.Fatal(err)
	}
	if len(upload.Results) != 2 || !upload.Results[0].OK || upload.Results[1].OK {
		t.Fatalf("expected partial success, got %+v", upload.Results)
	}
	if upload.Results[0].Attachment.MediaType != "text/plain" {
		t.Fatalf("unexpected media type %q", upload.Results[0].Attachment.MediaType)
	}

	rr = f.doJSON(t, http.MethodPost, base+"/start", acct, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "uploaded some materials") {
		t.Fatalf("welcome should mention the upload: %s", rr.Body.String())
	}

	if rr := f.doJSON(t, http.MethodPost, base+"/subject", acct, `{"subject":"English"}`); rr.Code != http.StatusConflict {
		t.Fatalf("subject after start: expected 409, got %d", rr.Code)
	}
	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"   "}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("blank message: expected 400, got %d", rr.Code)
	}
	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"why are leaves green?"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("message: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	f.waitIdle(t, acct, id)

	rr = f.doJSON(t, http.MethodGet, base, acct, "")
	var snap Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Transcript) != 3 || snap.Pending || len(snap.Attachments) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if rr := f.doJSON(t, http.MethodGet, base, "anon_intruder", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign account: expected 404, got %d", rr.Code)
	}
	if rr := f.doJSON(t, http.MethodDelete, base, acct, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}
	if rr := f.doJSON(t, http.MethodGet, base, acct, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", rr.Code)
	}
}

func TestHandlerRejectsMessageWhileReplyInFlight(t *testing.T) {
	c := newBlockingCompleter()
	f := newHandlerFixture(t, c, nil)
	const acct = "anon_busy"
	id := f.create(t, acct)
	base := "/api/sessions/" + id

	f.doJSON(t, http.MethodPost, base+"/subject", acct, `{"subject":"Mathematics"}`)
	f.doJSON(t, http.MethodPost, base+"/start", acct, "")

	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"one"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("first message: expected 202, got %d", rr.Code)
	}
	<-c.started
	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"two"}`); rr.Code != http.StatusConflict {
		t.Fatalf("second message: expected 409, got %d", rr.Code)
	}
	close(c.release)
	f.waitIdle(t, acct, id)
}

func TestHandlerRateLimitsMessages(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Stop)
	f := newHandlerFixture(t, echoCompleter(), limiter)
	const acct = "anon_chatty"
	id := f.create(t, acct)
	base := "/api/sessions/" + id

	f.doJSON(t, http.MethodPost, base+"/subject", acct, `{"subject":"English"}`)
	f.doJSON(t, http.MethodPost, base+"/start", acct, "")

	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"hi"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("first message: expected 202, got %d", rr.Code)
	}
	f.waitIdle(t, acct, id)
	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"hi again"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second message: expected 429, got %d", rr.Code)
	}
}

func TestHandlerRejectedSendsKeepQuota(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	t.Cleanup(limiter.Stop)
	c := newBlockingCompleter()
	f := newHandlerFixture(t, c, limiter)
	const acct = "anon_retry"
	id := f.create(t, acct)
	base := "/api/sessions/" + id

	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"too early"}`); rr.Code != http.StatusConflict {
		t.Fatalf("message before start: expected 409, got %d", rr.Code)
	}
	f.doJSON(t, http.MethodPost, base+"/subject", acct, `{"subject":"Science"}`)
	f.doJSON(t, http.MethodPost, base+"/start", acct, "")

	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"  "}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("blank message: expected 400, got %d", rr.Code)
	}
	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"one"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("first message: expected 202, got %d", rr.Code)
	}
	<-c.started
	for i := 0; i < 3; i++ {
		if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"again"}`); rr.Code != http.StatusConflict {
			t.Fatalf("retry while in flight: expected 409, got %d", rr.Code)
		}
	}
	close(c.release)
	f.waitIdle(t, acct, id)

	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"two"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("rejected sends must not use quota: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	f.waitIdle(t, acct, id)
	if rr := f.doJSON(t, http.MethodPost, base+"/messages", acct, `{"body":"three"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third accepted send: expected 429, got %d", rr.Code)
	}
}

// gatedStore holds uploads until released so a session can change phase mid-batch.
type gatedStore struct {
	*attachment.FileStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Upload(ctx context.Context, key string, body io.Reader) (string, error) {
	loc, err := g.FileStore.Upload(ctx, key, body)
	g.entered <- struct{}{}
	<-g.release
	return loc, err
}

func TestHandlerDiscardsUploadsWhenSessionStartsMidBatch(t *testing.T) {
	root := t.TempDir()
	files, err := attachment.NewFileStore(root, "/files/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := &gatedStore{FileStore: files, entered: make(chan struct{}, 1), release: make(chan struct{})}

	mgr := NewManager(ManagerConfig{Profiles: staticProfiles{profile: testProfile}, Completer: echoCompleter()})
	t.Cleanup(mgr.CloseAll)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithAccount(r.Context(), "anon_race", "tester")))
		})
	})
	NewHandler(mgr, attachment.NewAdapter(store, 1<<20, 1, nil), nil, 1<<20).RegisterRoutes(r)

	s := mgr.Create(context.Background(), "anon_race")
	if err := s.SelectSubject("Science"); err != nil {
		t.Fatal(err)
	}

	body, ct := multipartBody(t, map[string][]byte{"notes.txt": []byte("leaves")}, []string{"notes.txt"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+s.ID()+"/attachments", bytes.NewReader(body))
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(rr, req)
	}()

	<-store.entered
	if _, err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(store.release)
	<-done

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 once the session started, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := len(s.Snapshot().Attachments); n != 0 {
		t.Fatalf("started session must not gain attachments, got %d", n)
	}
	var leftover []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			leftover = append(leftover, path)
		}
		return nil
	})
	if len(leftover) != 0 {
		t.Fatalf("expected stored objects to be discarded, found %v", leftover)
	}
}

func TestHandlerListsOnlyOwnSessions(t *testing.T) {
	f := newHandlerFixture(t, echoCompleter(), nil)
	f.create(t, "anon_a")
	f.create(t, "anon_a")
	f.create(t, "anon_b")

	rr := f.doJSON(t, http.MethodGet, "/api/sessions", "anon_a", "")
	var out struct {
		Sessions []Snapshot `json:"sessions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(out.Sessions))
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request inside the window should be rejected")
	}
	if !rl.Allow("b") {
		t.Fatal("limits are per key")
	}
	now = now.Add(2 * time.Minute)
	if !rl.Allow("a") {
		t.Fatal("requests should pass once the window has moved")
	}
	rl.evict()
	if _, ok := rl.requests["b"]; ok {
		t.Fatal("expired keys should be evicted")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	defer rl.Stop()
	for i := 0; i < 5; i++ {
		if !rl.Allow("a") {
			t.Fatal("a zero limit should allow everything")
		}
	}
}
