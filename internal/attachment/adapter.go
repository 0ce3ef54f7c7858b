// Package attachment stores study materials uploaded during session setup.
package attachment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaanguru/tutor/internal/domain"
)

var (
	// ErrUploadFailed wraps every per-file upload failure.
	ErrUploadFailed = errors.New("attachment upload failed")
	// ErrTooLarge is returned when a file exceeds the configured limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrUnsupportedMediaType is returned for files outside the allowlist.
	ErrUnsupportedMediaType = errors.New("unsupported attachment type")
)

const (
	mediaPDF  = "application/pdf"
	mediaDoc  = "application/msword"
	mediaDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mediaJPEG = "image/jpeg"
	mediaPNG  = "image/png"
	mediaText = "text/plain"
)

var allowedMediaTypes = map[string]bool{
	mediaPDF:  true,
	mediaDoc:  true,
	mediaDocx: true,
	mediaJPEG: true,
	mediaPNG:  true,
	mediaText: true,
}

var extensionMediaTypes = map[string]string{
	".pdf":  mediaPDF,
	".doc":  mediaDoc,
	".docx": mediaDocx,
	".jpg":  mediaJPEG,
	".jpeg": mediaJPEG,
	".png":  mediaPNG,
	".txt":  mediaText,
}

const maxSafeNameLen = 100

// RawFile is one file as received from the learner.
type RawFile struct {
	Name      string
	MediaType string
	Body      io.Reader
}

// Result is the outcome of one file in a batch.
type Result struct {
	Attachment domain.Attachment
	Key        string // object key of a stored file, used by Discard
	Err        error
}

// Adapter turns raw uploads into attachments held by an ObjectStore.
type Adapter struct {
	store       ObjectStore
	maxBytes    int64
	concurrency int
	logger      *slog.Logger
	seq         atomic.Uint64
	now         func() time.Time
}

// NewAdapter creates an adapter. A maxBytes of zero disables the size limit.
func NewAdapter(store ObjectStore, maxBytes int64, concurrency int, logger *slog.Logger) *Adapter {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:       store,
		maxBytes:    maxBytes,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Store uploads one file and describes it as an attachment.
func (a *Adapter) Store(ctx context.Context, sessionID string, f RawFile) (domain.Attachment, error) {
	res := a.storeResult(ctx, sessionID, f)
	return res.Attachment, res.Err
}

func (a *Adapter) storeResult(ctx context.Context, sessionID string, f RawFile) Result {
	att, key, err := a.store1(ctx, sessionID, f)
	if err != nil {
		a.logger.Warn("attachment upload failed", "session_id", sessionID, "file", f.Name, "error", err)
		return Result{Err: fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Name, err)}
	}
	return Result{Attachment: att, Key: key}
}

func (a *Adapter) store1(ctx context.Context, sessionID string, f RawFile) (domain.Attachment, string, error) {
	if f.Body == nil {
		return domain.Attachment{}, "", errors.New("empty body")
	}
	br := bufio.NewReaderSize(f.Body, 512)
	mediaType := resolveMediaType(f.Name, f.MediaType, br)
	if !allowedMediaTypes[mediaType] {
		return domain.Attachment{}, "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	seq := a.seq.Add(1)
	key := fmt.Sprintf("sessions/%s/%d_%d_%s", safeName(sessionID), seq, a.now().UnixNano(), safeName(f.Name))

	body := &countingReader{r: br, limit: a.maxBytes}
	location, err := a.store.Upload(ctx, key, body)
	if err != nil {
		if body.exceeded {
			return domain.Attachment{}, "", ErrTooLarge
		}
		return domain.Attachment{}, "", err
	}

	return domain.Attachment{
		DisplayName:       displayName(f.Name),
		MediaType:         mediaType,
		ByteSize:          body.n,
		RetrievalLocation: location,
	}, key, nil
}

// StoreBatch uploads files concurrently. Results are in request order and a
// failed file never affects the others.
func (a *Adapter) StoreBatch(ctx context.Context, sessionID string, files []RawFile) []Result {
	results := make([]Result, len(files))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, f := range files {
		g.Go(func() error {
			results[i] = a.storeResult(ctx, sessionID, f)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Discard removes the stored objects of successful results. It is used when
// the owning session can no longer take the attachments.
func (a *Adapter) Discard(ctx context.Context, results []Result) {
	for _, r := range results {
		if r.Err != nil || r.Key == "" {
			continue
		}
		if err := a.store.Delete(ctx, r.Key); err != nil {
			a.logger.Warn("failed to discard stored attachment", "key", r.Key, "error", err)
		}
	}
}

// Succeeded returns the attachments of the successful results, in order.
func Succeeded(results []Result) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Attachment)
		}
	}
	return out
}

func resolveMediaType(name, declared string, br *bufio.Reader) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if mt, ok := extensionMediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	head, _ := br.Peek(512)
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	return mt
}

func displayName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func safeName(name string) string {
	name = displayName(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > maxSafeNameLen {
		out = out[len(out)-maxSafeNameLen:]
	}
	out = strings.TrimLeft(out, ".")
	if out == "" {
		return "file"
	}
	return out
}

type countingReader struct {
	r        io.Reader
	limit    int64
	n        int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		c.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}
