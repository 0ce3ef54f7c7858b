// Package tutor implements the tutoring session state machine and its
// HTTP and WebSocket surfaces.
package tutor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/prompt"
	"github.com/gyaanguru/tutor/internal/reasoning"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseSetup  Phase = "setup"
	PhaseActive Phase = "active"
	PhaseClosed Phase = "closed"
)

// SessionConfig holds everything a session needs at construction.
type SessionConfig struct {
	ID        string
	AccountID string
	Profile   domain.LearnerProfile
	Degraded  bool
	Completer reasoning.Completer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	SessionID    string              `json:"session_id"`
	Phase        Phase               `json:"phase"`
	Subject      string              `json:"subject"`
	Topic        string              `json:"topic,omitempty"`
	Attachments  []domain.Attachment `json:"attachments"`
	Transcript   []domain.Message    `json:"transcript"`
	Pending      bool                `json:"pending"`
	Degraded     bool                `json:"profile_degraded"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
}

type listenerEntry struct {
	id int
	fn Listener
}

// Session is one tutoring interaction owned by a single account.
//
// Setup operations (SelectSubject, SelectTopic, Attach) are only accepted
// before Start. After Start the session accepts Send until Close. At most one
// tutor reply is outstanding at any time.
type Session struct {
	id        string
	accountID string
	profile   domain.LearnerProfile
	degraded  bool
	completer reasoning.Completer
	logger    *slog.Logger
	now       func() time.Time
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	phase        Phase
	subject      string
	topic        string
	attachments  []domain.Attachment
	instruction  string
	transcript   []domain.Message
	nextID       int64
	pending      bool
	idle         chan struct{}
	generation   uint64
	lastActivity time.Time
	listeners    []listenerEntry
	nextListener int
	outbox       []Event

	// emitMu serializes listener dispatch.
	emitMu sync.Mutex
}

// NewSession creates a session in the setup phase.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Completer == nil {
		cfg.Completer = reasoning.Disabled{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := cfg.Now()
	return &Session{
		id:           cfg.ID,
		accountID:    cfg.AccountID,
		profile:      cfg.Profile,
		degraded:     cfg.Degraded,
		completer:    cfg.Completer,
		logger:       cfg.Logger.With("session_id", cfg.ID, "account_id", cfg.AccountID),
		now:          cfg.Now,
		createdAt:    now,
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseSetup,
		nextID:       1,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// AccountID returns the owning account.
func (s *Session) AccountID() string { return s.accountID }

// Profile returns the learner profile the session was created with.
func (s *Session) Profile() domain.LearnerProfile { return s.profile }

// Subscribe registers a listener and returns a function that removes it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// SelectSubject sets the subject. Changing to a different subject clears the topic.
func (s *Session) SelectSubject(subject string) error {
	subject = strings.TrimSpace(subject)
	s.mu.Lock()
	if s.phase != PhaseSetup {
		s.mu.Unlock()
		return ErrNotInSetup
	}
	if !strings.EqualFold(s.subject, subject) {
		s.topic = ""
	}
	s.subject = subject
	s.touchLocked()
	s.queueLocked(Event{Kind: EventSubject, Subject: s.subject, Topic: s.topic})
	s.mu.Unlock()
	s.flush()
	return nil
}

// SelectTopic sets the optional topic. An empty topic clears it.
func (s *Session) SelectTopic(topic string) error {
	topic = strings.TrimSpace(topic)
	s.mu.Lock()
	if s.phase != PhaseSetup {
		s.mu.Unlock()
		return ErrNotInSetup
	}
	s.topic = topic
	s.touchLocked()
	s.queueLocked(Event{Kind: EventSubject, Subject: s.subject, Topic: s.topic})
	s.mu.Unlock()
	s.flush()
	return nil
}

// Attach appends attachments in the given order.
func (s *Session) Attach(atts ...domain.Attachment) error {
	s.mu.Lock()
	if s.phase != PhaseSetup {
		s.mu.Unlock()
		return ErrNotInSetup
	}
	for _, a := range atts {
		s.attachments = append(s.attachments, a)
		s.queueLocked(Event{Kind: EventAttachment, Position: len(s.attachments) - 1, Attachment: &a})
	}
	s.touchLocked()
	s.mu.Unlock()
	s.flush()
	return nil
}

// Start freezes the system instruction and seeds the transcript with the
// welcome message, which it returns.
func (s *Session) Start() (domain.Message, error) {
	s.mu.Lock()
	if s.phase != PhaseSetup {
		s.mu.Unlock()
		return domain.Message{}, ErrNotInSetup
	}
	if s.subject == "" {
		s.mu.Unlock()
		return domain.Message{}, ErrMissingSubject
	}

	s.instruction = prompt.Compose(s.profile, s.subject, s.topic, s.attachments)
	s.phase = PhaseActive
	s.queueLocked(Event{Kind: EventStarted, Subject: s.subject, Topic: s.topic})
	welcome := s.appendLocked(domain.SpeakerTutor, prompt.Welcome(s.profile, s.subject, s.topic, len(s.attachments) > 0))
	subject, attachments := s.subject, len(s.attachments)
	s.mu.Unlock()

	s.flush()
	s.logger.Info("tutoring session started", "subject", subject, "attachments", attachments)
	return welcome, nil
}

// Send appends a learner message and requests the tutor's reply in the
// background. It returns the appended learner message.
func (s *Session) Send(body string) (domain.Message, error) {
	return s.SendAdmitted(body, nil)
}

// SendAdmitted is Send with an admission check, such as a rate limiter. admit
// runs under the session lock only once the message would otherwise be
// accepted, so rejected messages never consume it. A false result returns
// ErrRateLimited.
func (s *Session) SendAdmitted(body string, admit func() bool) (domain.Message, error) {
	body = strings.TrimSpace(body)

	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return domain.Message{}, ErrNotActive
	}
	if body == "" {
		s.mu.Unlock()
		return domain.Message{}, ErrEmptyMessage
	}
	if s.pending {
		s.mu.Unlock()
		return domain.Message{}, ErrReplyInFlight
	}
	if admit != nil && !admit() {
		s.mu.Unlock()
		return domain.Message{}, ErrRateLimited
	}

	msg := s.appendLocked(domain.SpeakerLearner, body)
	s.pending = true
	s.idle = make(chan struct{})
	s.queueLocked(Event{Kind: EventPending, Pending: true})

	gen := s.generation
	instruction := s.instruction
	transcript := append([]domain.Message(nil), s.transcript...)
	s.wg.Add(1)
	s.mu.Unlock()

	s.flush()
	go s.reply(gen, instruction, transcript)
	return msg, nil
}

func (s *Session) reply(gen uint64, instruction string, transcript []domain.Message) {
	defer s.wg.Done()

	text, err := s.completer.Complete(s.ctx, instruction, transcript)
	fallback := err != nil
	if fallback {
		s.logger.Warn("reasoning service failed, sending fallback reply", "error", err)
		text = FallbackReply
	}

	s.mu.Lock()
	if s.phase != PhaseActive || s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale tutor reply")
		return
	}
	msg := s.appendLocked(domain.SpeakerTutor, text)
	s.outbox[len(s.outbox)-1].Fallback = fallback
	s.pending = false
	idle := s.idle
	s.queueLocked(Event{Kind: EventPending, Pending: false})
	s.mu.Unlock()

	s.flush()
	close(idle)
	s.logger.Debug("tutor reply delivered", "message_id", msg.ID, "fallback", fallback)
}

// Close ends the session. Any reply still in flight is cancelled and its
// result discarded. Close waits for the reply task to exit and is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseClosed
	s.generation++
	if s.pending {
		s.pending = false
		close(s.idle)
	}
	s.queueLocked(Event{Kind: EventClosed})
	s.mu.Unlock()

	s.cancel()
	s.flush()
	s.wg.Wait()
	s.logger.Info("tutoring session closed")
}

// WaitIdle blocks until no reply is pending or ctx is done.
func (s *Session) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:    s.id,
		Phase:        s.phase,
		Subject:      s.subject,
		Topic:        s.topic,
		Attachments:  append([]domain.Attachment{}, s.attachments...),
		Transcript:   append([]domain.Message{}, s.transcript...),
		Pending:      s.pending,
		Degraded:     s.degraded,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message{}, s.transcript...)
}

// Pending reports whether a tutor reply is outstanding.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SystemInstruction returns the instruction frozen by Start, or "" before it.
func (s *Session) SystemInstruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruction
}

// IdleSince returns the time of the last state change.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) appendLocked(speaker domain.Speaker, body string) domain.Message {
	msg := domain.Message{
		ID:        s.nextID,
		Speaker:   speaker,
		Body:      body,
		CreatedAt: s.now(),
	}
	s.nextID++
	s.transcript = append(s.transcript, msg)
	s.touchLocked()
	m := msg
	s.queueLocked(Event{Kind: EventMessage, Message: &m})
	return msg
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
}

func (s *Session) queueLocked(e Event) {
	e.SessionID = s.id
	e.AccountID = s.accountID
	e.At = s.now()
	s.outbox = append(s.outbox, e)
}

// flush delivers queued events in order. Whoever holds emitMu drains the
// outbox, so events queued concurrently are still delivered in queue order.
func (s *Session) flush() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for {
		s.mu.Lock()
		events := s.outbox
		s.outbox = nil
		listeners := append([]listenerEntry(nil), s.listeners...)
		s.mu.Unlock()

		if len(events) == 0 {
			return
		}
		for _, e := range events {
			for _, l := range listeners {
				l.fn(e)
			}
		}
	}
}
