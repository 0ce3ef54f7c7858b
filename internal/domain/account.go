// Package domain contains core domain types for the GyaanGuru tutor.
package domain

import (
	"time"
)

// Account represents an anonymous per-device learner account.
type Account struct {
	AccountID           string    `json:"account_id"`
	DisplayName         string    `json:"display_name"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	LastSeenAt          time.Time `json:"last_seen_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
