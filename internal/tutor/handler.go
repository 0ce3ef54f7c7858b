package tutor

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gyaanguru/tutor/internal/api"
	"github.com/gyaanguru/tutor/internal/attachment"
	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/identity"
)

const (
	// maxFilesPerUpload caps the number of parts accepted by one attachments request.
	maxFilesPerUpload = 10
	multipartMemory   = 8 << 20
)

// Handler serves the tutoring session endpoints.
type Handler struct {
	mgr      *Manager
	uploads  *attachment.Adapter
	limiter  *RateLimiter
	maxBytes int64
}

// NewHandler creates a session handler. limiter may be nil to disable rate limiting.
func NewHandler(mgr *Manager, uploads *attachment.Adapter, limiter *RateLimiter, maxUploadBytes int64) *Handler {
	return &Handler{
		mgr:      mgr,
		uploads:  uploads,
		limiter:  limiter,
		maxBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers session routes (requires identity).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/subject", h.SelectSubject)
			r.Post("/attachments", h.Attach)
			r.Post("/start", h.Start)
			r.Post("/messages", h.Send)
		})
	})
}

// Create opens a new session in setup.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())
	s := h.mgr.Create(r.Context(), accountID)
	slog.Debug("session created over http",
		"session_id", s.ID(),
		"tab_id", identity.TabIDFromContext(r.Context()),
		"remote_ip", identity.IPFromRequest(r),
	)
	api.JSON(w, http.StatusCreated, s.Snapshot())
}

// List returns the account's live sessions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())
	sessions := h.mgr.List(accountID)
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// Get returns a snapshot of one session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, s.Snapshot())
}

// Delete closes and forgets a session.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID := identity.AccountIDFromContext(r.Context())
	if err := h.mgr.Close(accountID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subjectRequest struct {
	Subject string  `json:"subject"`
	Topic   *string `json:"topic,omitempty"`
}

// SelectSubject sets the subject and, when given, the topic.
func (h *Handler) SelectSubject(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req subjectRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.SelectSubject(req.Subject); err != nil {
		writeError(w, err)
		return
	}
	if req.Topic != nil {
		if err := s.SelectTopic(*req.Topic); err != nil {
			writeError(w, err)
			return
		}
	}
	api.JSON(w, http.StatusOK, s.Snapshot())
}

type uploadResult struct {
	Name       string             `json:"name"`
	OK         bool               `json:"ok"`
	Error      string             `json:"error,omitempty"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// Attach stores the multipart "files" and attaches those that succeeded, in
// request order. Failed files are reported alongside without failing the batch.
func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if s.Phase() != PhaseSetup {
		writeError(w, ErrNotInSetup)
		return
	}
	if h.uploads == nil {
		api.Error(w, http.StatusServiceUnavailable, "uploads are disabled")
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*maxFilesPerUpload+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("failed to remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File["files"]
	switch {
	case len(headers) == 0:
		api.Error(w, http.StatusBadRequest, "no files provided")
		return
	case len(headers) > maxFilesPerUpload:
		api.Error(w, http.StatusBadRequest, "too many files")
		return
	}

	files, closeAll, err := openParts(headers)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	defer closeAll()

	results := h.uploads.StoreBatch(r.Context(), s.ID(), files)
	if err := s.Attach(attachment.Succeeded(results)...); err != nil {
		// The session started while the batch was uploading.
		h.uploads.Discard(context.WithoutCancel(r.Context()), results)
		writeError(w, err)
		return
	}

	out := make([]uploadResult, len(results))
	stored := 0
	for i, res := range results {
		out[i] = uploadResult{Name: files[i].Name, OK: res.Err == nil}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		out[i].Attachment = &results[i].Attachment
		stored++
	}

	status := http.StatusOK
	if stored == 0 {
		status = http.StatusUnprocessableEntity
	}
	api.JSON(w, status, map[string]interface{}{
		"results":     out,
		"attachments": s.Snapshot().Attachments,
	})
}

func openParts(headers []*multipart.FileHeader) ([]attachment.RawFile, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]attachment.RawFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, f)
		files = append(files, attachment.RawFile{
			Name:      fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Body:      f,
		})
	}
	return files, closeAll, nil
}

// Start moves the session to active and returns the welcome message.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	welcome, err := s.Start()
	if err != nil {
		writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{
		"welcome": welcome,
		"session": s.Snapshot(),
	})
}

type sendRequest struct {
	Body string `json:"body"`
}

// Send appends a learner message. The tutor reply arrives on the event
// stream, or by polling the session.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	admit := func() bool { return h.limiter == nil || h.limiter.Allow(s.AccountID()) }
	msg, err := s.SendAdmitted(req.Body, admit)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("learner message accepted",
		"session_id", s.ID(),
		"account_id", s.AccountID(),
		"message_length", len(msg.Body),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	api.JSON(w, http.StatusAccepted, msg)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	accountID := identity.AccountIDFromContext(r.Context())
	s, err := h.mgr.Get(accountID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingSubject), errors.Is(err, ErrEmptyMessage):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrReplyInFlight), errors.Is(err, ErrNotActive), errors.Is(err, ErrNotInSetup):
		api.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrRateLimited):
		api.Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		api.Error(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("session request failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}
