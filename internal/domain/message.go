package domain

import (
	"strings"
	"time"
)

// Speaker identifies who authored a transcript message.
type Speaker string

const (
	SpeakerLearner Speaker = "learner"
	SpeakerTutor   Speaker = "tutor"
)

// Message is a single transcript entry. IDs are strictly increasing within a session.
type Message struct {
	ID        int64     `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is an uploaded study material. It is immutable once created.
type Attachment struct {
	DisplayName       string `json:"display_name"`
	MediaType         string `json:"media_type"`
	ByteSize          int64  `json:"byte_size"`
	RetrievalLocation string `json:"retrieval_location"`
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType, "image/")
}
