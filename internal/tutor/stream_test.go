package tutor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/identity"
)

func newStreamServer(t *testing.T, mgr *Manager, account string) (*httptest.Server, *StreamHub) {
	t.Helper()
	hub := NewStreamHub(mgr, "*", false)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithAccount(r.Context(), account, "tester")))
		})
	})
	hub.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func readFrame(ctx context.Context, t *testing.T, c *websocket.Conn) streamFrame {
	t.Helper()
	var f streamFrame
	if err := wsjson.Read(ctx, c, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestStreamDeliversSnapshotAndEvents(t *testing.T) {
	t.Parallel()

	mgr := NewManager(ManagerConfig{Profiles: staticProfiles{profile: testProfile}, Completer: echoCompleter()})
	defer mgr.CloseAll()
	s := mgr.Create(context.Background(), "anon_stream")
	srv, hub := newStreamServer(t, mgr, "anon_stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + s.ID()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()

	first := readFrame(ctx, t, c)
	if first.Type != "snapshot" || first.Session == nil || first.Session.Phase != PhaseSetup {
		t.Fatalf("expected setup snapshot first, got %+v", first)
	}
	if hub.Connections(s.ID()) != 1 {
		t.Fatalf("expected one registered stream, got %d", hub.Connections(s.ID()))
	}

	if err := wsjson.Write(ctx, c, clientFrame{Type: "ping"}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if f := readFrame(ctx, t, c); f.Type != "pong" {
		t.Fatalf("expected pong, got %+v", f)
	}

	_ = s.SelectSubject("Science")
	if _, err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var tutorBodies []string
	for {
		f := readFrame(ctx, t, c)
		if f.Type != "event" {
			t.Fatalf("unexpected frame %+v", f)
		}
		e := f.Event
		if e.Kind == EventMessage && e.Message.Speaker == domain.SpeakerTutor {
			tutorBodies = append(tutorBodies, e.Message.Body)
		}
		if e.Kind == EventPending && !e.Pending {
			break
		}
	}
	if len(tutorBodies) != 2 || tutorBodies[1] != "re: hello" {
		t.Fatalf("expected welcome and reply, got %q", tutorBodies)
	}

	if err := mgr.Close("anon_stream", s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f := readFrame(ctx, t, c); f.Event == nil || f.Event.Kind != EventClosed {
		t.Fatalf("expected closed event, got %+v", f)
	}
	if _, _, err := c.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestStreamRejectsForeignSession(t *testing.T) {
	t.Parallel()

	mgr := NewManager(ManagerConfig{})
	defer mgr.CloseAll()
	s := mgr.Create(context.Background(), "anon_owner")
	srv, _ := newStreamServer(t, mgr, "anon_other")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + s.ID()
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for a foreign session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestStreamOriginCheck(t *testing.T) {
	t.Parallel()

	hub := NewStreamHub(nil, "https://gyaanguru.example", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	if hub.checkOrigin(req) {
		t.Fatal("foreign origin should be rejected")
	}
	req.Header.Set("Origin", "https://gyaanguru.example")
	if !hub.checkOrigin(req) {
		t.Fatal("configured origin should be accepted")
	}
}
