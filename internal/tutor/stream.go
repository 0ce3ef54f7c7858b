package tutor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/gyaanguru/tutor/internal/api"
	"github.com/gyaanguru/tutor/internal/identity"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// streamFrame is one server-to-client WebSocket message.
type streamFrame struct {
	Type    string    `json:"type"`
	Session *Snapshot `json:"session,omitempty"`
	Event   *Event    `json:"event,omitempty"`
}

// clientFrame is one client-to-server WebSocket message.
type clientFrame struct {
	Type string `json:"type"`
}

// StreamHub serves live session events over WebSocket and tracks the open
// connections so they can be closed on shutdown.
type StreamHub struct {
	mgr           *Manager
	allowedOrigin string
	isDev         bool

	mu     sync.Mutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewStreamHub creates a hub for the sessions owned by mgr.
func NewStreamHub(mgr *Manager, allowedOrigin string, isDev bool) *StreamHub {
	return &StreamHub{
		mgr:           mgr,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		active:        make(map[string]map[*websocket.Conn]struct{}),
	}
}

// RegisterRoutes registers the stream route (requires identity).
func (h *StreamHub) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{id}", h.ServeHTTP)
}

// ServeHTTP upgrades the request and streams the session's events until the
// session closes or the client goes away. The first frame is a snapshot;
// events that raced with it may repeat state the snapshot already holds, and
// clients dedupe messages by id.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())
	s, err := h.mgr.Get(accountID, chi.URLParam(r, "id"))
	if err != nil {
		api.Error(w, http.StatusNotFound, err.Error())
		return
	}
	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "account_id", accountID)
		return
	}
	h.register(s.ID(), ws)
	defer h.unregister(s.ID(), ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan Event, streamBuffer)
	var overflow sync.Once
	unsubscribe := s.Subscribe(func(e Event) {
		select {
		case events <- e:
		default:
			overflow.Do(func() {
				slog.Warn("session stream fell behind, disconnecting", "session_id", s.ID(), "account_id", accountID)
				cancel()
			})
		}
	})
	defer unsubscribe()

	snap := s.Snapshot()
	if err := h.write(ctx, ws, streamFrame{Type: "snapshot", Session: &snap}); err != nil {
		slog.Debug("failed to send session snapshot", "error", err)
		return
	}
	if snap.Phase == PhaseClosed {
		_ = ws.Close(websocket.StatusNormalClosure, "session closed")
		return
	}

	go h.readLoop(ctx, cancel, ws, s.ID())

	for {
		select {
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusGoingAway, "stream ended")
			return
		case e := <-events:
			if err := h.write(ctx, ws, streamFrame{Type: "event", Event: &e}); err != nil {
				slog.Debug("session stream write failed", "session_id", s.ID(), "error", err)
				return
			}
			if e.Kind == EventClosed {
				_ = ws.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
		}
	}
}

// readLoop answers pings and notices when the client disconnects.
func (h *StreamHub) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sessionID string) {
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			}
			return
		}
		var msg clientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.write(ctx, ws, streamFrame{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *StreamHub) write(ctx context.Context, ws *websocket.Conn, f streamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}

func (h *StreamHub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *StreamHub) register(sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[sessionID]; !ok {
		h.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.active[sessionID][ws] = struct{}{}
}

func (h *StreamHub) unregister(sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.active[sessionID]; ok {
		delete(conns, ws)
		if len(conns) == 0 {
			delete(h.active, sessionID)
		}
	}
}

// Connections returns the number of open streams for a session.
func (h *StreamHub) Connections(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active[sessionID])
}

// CloseAll closes every open stream.
func (h *StreamHub) CloseAll() {
	h.mu.Lock()
	var conns []*websocket.Conn
	for _, set := range h.active {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
