package tutor

import (
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
)

// EventKind names a session state change.
type EventKind string

const (
	EventSubject    EventKind = "subject"
	EventAttachment EventKind = "attachment"
	EventStarted    EventKind = "started"
	EventMessage    EventKind = "message"
	EventPending    EventKind = "pending"
	EventClosed     EventKind = "closed"
)

// Event describes one change to a session. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind       EventKind          `json:"kind"`
	SessionID  string             `json:"session_id"`
	AccountID  string             `json:"-"`
	Subject    string             `json:"subject,omitempty"`
	Topic      string             `json:"topic,omitempty"`
	Position   int                `json:"position,omitempty"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
	Message    *domain.Message    `json:"message,omitempty"`
	Pending    bool               `json:"pending"`
	Fallback   bool               `json:"-"`
	At         time.Time          `json:"at"`
}

// Listener observes session events. Events are delivered one at a time, in the
// order the changes were made, without the session lock held. A listener must
// not call mutating Session methods synchronously.
type Listener func(Event)
