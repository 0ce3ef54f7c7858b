package tutor

import "errors"

var (
	// ErrMissingSubject is returned by Start when no subject was selected.
	ErrMissingSubject = errors.New("a subject must be selected before starting")
	// ErrNotInSetup is returned by setup operations once the session has started.
	ErrNotInSetup = errors.New("session is not in setup")
	// ErrEmptyMessage is returned by Send for blank messages.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrReplyInFlight is returned by Send while the previous reply is pending.
	ErrReplyInFlight = errors.New("tutor reply already in flight")
	// ErrNotActive is returned by Send before Start or after Close.
	ErrNotActive = errors.New("session is not active")
	// ErrRateLimited is returned by SendAdmitted when the admission check refuses a valid message.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrSessionNotFound is returned by the manager for unknown or foreign sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// FallbackReply is the tutor message used when the reasoning service fails.
const FallbackReply = "I'm sorry, I'm having trouble connecting right now. Please try again in a moment."
