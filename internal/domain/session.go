package domain

import (
	"time"
)

// SessionRecord is the persisted summary of one tutoring session.
type SessionRecord struct {
	SessionID    string    `json:"session_id"`
	AccountID    string    `json:"account_id"`
	Subject      string    `json:"subject"`
	Topic        string    `json:"topic,omitempty"`
	Phase        string    `json:"phase"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionHistory is a persisted session with its transcript and attachments.
type SessionHistory struct {
	SessionRecord
	Attachments []Attachment `json:"attachments"`
	Messages    []Message    `json:"messages"`
}
