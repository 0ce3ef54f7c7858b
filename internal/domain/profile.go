package domain

import (
	"strings"
	"time"
)

// TeachingStyle is the learner's preferred way of being taught.
// The zero value means no preference was recorded.
type TeachingStyle string

const (
	StyleFriendlyEncouraging TeachingStyle = "Friendly & Encouraging"
	StyleStrictFocused       TeachingStyle = "Strict & Focused"
	StylePatientSlow         TeachingStyle = "Patient & Slow"
	StyleFastChallenging     TeachingStyle = "Fast & Challenging"
)

// TeachingStyles lists every known style in display order.
var TeachingStyles = []TeachingStyle{
	StyleFriendlyEncouraging,
	StyleStrictFocused,
	StylePatientSlow,
	StyleFastChallenging,
}

// DefaultLanguage is used whenever a profile has no preferred language.
const DefaultLanguage = "English"

// ParseTeachingStyle maps free-form input such as "patient and slow" onto a
// known style. Unknown input yields the zero value and false.
func ParseTeachingStyle(s string) (TeachingStyle, bool) {
	key := normalizeStyle(s)
	if key == "" {
		return "", false
	}
	for _, style := range TeachingStyles {
		if normalizeStyle(string(style)) == key {
			return style, true
		}
	}
	return "", false
}

func normalizeStyle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "&", " and ")
	return strings.Join(strings.Fields(s), " ")
}

// Valid reports whether the style is one of the known styles.
func (s TeachingStyle) Valid() bool {
	for _, style := range TeachingStyles {
		if s == style {
			return true
		}
	}
	return false
}

// LearnerProfile is the onboarding record for one account.
// The tutoring session only ever reads it.
type LearnerProfile struct {
	AccountID         string        `json:"account_id"`
	Name              string        `json:"name" validate:"required,notblank,max=80"`
	Grade             string        `json:"grade" validate:"required,grade"`
	Age               int           `json:"age" validate:"required,min=3,max=25"`
	PreferredLanguage string        `json:"preferred_language" validate:"omitempty,max=40"`
	TeachingStyle     TeachingStyle `json:"teaching_style" validate:"omitempty,teaching_style"`
	Strengths         string        `json:"strengths" validate:"max=1000"`
	Weaknesses        string        `json:"weaknesses" validate:"max=1000"`
	Goals             string        `json:"goals" validate:"max=1000"`
	Subjects          []string      `json:"subjects" validate:"required,min=1,dive,notblank"`
	DailyStudyTime    string        `json:"daily_study_time" validate:"max=40"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// DefaultProfile is the degraded profile used when the real one cannot be read.
func DefaultProfile(accountID string) LearnerProfile {
	return LearnerProfile{
		AccountID:         accountID,
		PreferredLanguage: DefaultLanguage,
	}
}

// Language returns the preferred language, defaulting to English.
func (p LearnerProfile) Language() string {
	if lang := strings.TrimSpace(p.PreferredLanguage); lang != "" {
		return lang
	}
	return DefaultLanguage
}

// HasSubject reports whether the learner chose the subject during onboarding.
func (p LearnerProfile) HasSubject(subject string) bool {
	for _, s := range p.Subjects {
		if strings.EqualFold(s, subject) {
			return true
		}
	}
	return false
}
