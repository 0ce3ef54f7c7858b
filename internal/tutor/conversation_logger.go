package tutor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaanguru/tutor/internal/config"
	"github.com/gyaanguru/tutor/internal/domain"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig = config.ConversationLogConfig

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events for later review.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NoopConversationLogger returns a logger that discards everything.
func NoopConversationLogger() ConversationLogger { return noopConversationLogger{} }

const (
	defaultConversationQueueSize = 1024
	// maxOpenConversationFiles bounds per-session file handles kept between writes.
	maxOpenConversationFiles = 256
)

type logFile struct {
	f       *os.File
	lastUse uint64
}

type ndjsonConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger

	queue chan ConversationLogEvent
	done  chan struct{}

	closeMu sync.RWMutex
	closed  bool

	filesMu  sync.Mutex
	files    map[string]*logFile
	uses     uint64
	maxFiles int
	dropped  atomic.Int64
}

// NewConversationLogger creates an asynchronous NDJSON logger writing one file
// per user and session under cfg.Dir, plus an optional global file. A disabled
// config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultConversationQueueSize
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &ndjsonConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*logFile),

		maxFiles: maxOpenConversationFiles,
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. It never blocks; events are dropped when the queue is full.
func (l *ndjsonConversationLogger) Log(event ConversationLogEvent) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = stripControlChars(event.ContentRaw)
	}
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("conversation log queue full, dropping events", "dropped_total", n)
		}
	}
}

// Close flushes queued events and closes all files.
func (l *ndjsonConversationLogger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.closeMu.Unlock()

	<-l.done

	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	var firstErr error
	for path, lf := range l.files {
		if err := lf.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
		delete(l.files, path)
	}
	return firstErr
}

// openFiles reports how many log files are currently held open.
func (l *ndjsonConversationLogger) openFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return len(l.files)
}

func (l *ndjsonConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			path := filepath.Join(l.cfg.Dir, safePathPart(event.UserID), safePathPart(event.SessionID)+".ndjson")
			l.write(path, line)
			if event.EventType == eventTypeSessionClosed {
				l.release(path)
			}
		}
		if l.cfg.GlobalEnabled {
			l.write(l.cfg.GlobalPath, line)
		}
	}
}

func (l *ndjsonConversationLogger) write(path string, line []byte) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	lf, ok := l.files[path]
	if !ok {
		if len(l.files) >= l.maxFiles {
			l.evictLocked()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			l.logger.Warn("failed to create conversation log dir", "path", path, "error", err)
			return
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.logger.Warn("failed to open conversation log", "path", path, "error", err)
			return
		}
		lf = &logFile{f: f}
		l.files[path] = lf
	}
	l.uses++
	lf.lastUse = l.uses
	if _, err := lf.f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
}

// release closes the file for a finished session.
func (l *ndjsonConversationLogger) release(path string) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	l.closeLocked(path)
}

// evictLocked closes the least recently written file. Files are opened in
// append mode, so an evicted session simply reopens on its next event.
func (l *ndjsonConversationLogger) evictLocked() {
	var oldest string
	var oldestUse uint64
	for path, lf := range l.files {
		if path == l.cfg.GlobalPath {
			continue
		}
		if oldest == "" || lf.lastUse < oldestUse {
			oldest, oldestUse = path, lf.lastUse
		}
	}
	if oldest != "" {
		l.closeLocked(oldest)
	}
}

func (l *ndjsonConversationLogger) closeLocked(path string) {
	lf, ok := l.files[path]
	if !ok {
		return
	}
	delete(l.files, path)
	if err := lf.f.Close(); err != nil {
		l.logger.Warn("failed to close conversation log", "path", path, "error", err)
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_.:-]`)

func safePathPart(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

// stripControlChars drops control characters other than newlines and tabs.
func stripControlChars(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

const eventTypeSessionClosed = "session_closed"

// ConversationTap returns a Manager OnCreate hook that mirrors transcript
// messages and lifecycle events into the conversation log.
func ConversationTap(cl ConversationLogger, channel string) func(*Session) {
	return func(s *Session) {
		s.Subscribe(func(e Event) {
			ev := ConversationLogEvent{
				Timestamp: e.At.UTC().Format(time.RFC3339Nano),
				UserID:    e.AccountID,
				SessionID: e.SessionID,
				Channel:   channel,
			}
			switch e.Kind {
			case EventMessage:
				ev.ContentRaw = e.Message.Body
				ev.Meta = map[string]any{"message_id": e.Message.ID}
				if e.Message.Speaker == domain.SpeakerLearner {
					ev.Direction, ev.EventType = "outbound", "learner_message"
				} else {
					ev.Direction, ev.EventType = "inbound", "tutor_message"
					ev.Meta["fallback"] = e.Fallback
				}
			case EventStarted:
				ev.Direction, ev.EventType = "internal", "session_started"
				ev.Meta = map[string]any{"subject": e.Subject, "topic": e.Topic}
			case EventClosed:
				ev.Direction, ev.EventType = "internal", eventTypeSessionClosed
			default:
				return
			}
			cl.Log(ev)
		})
	}
}
