// Package prompt renders the tutor's system instruction and welcome message.
//
// Both functions are pure: identical inputs always produce identical output.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gyaanguru/tutor/internal/domain"
)

const (
	defaultGrade = "5"
	defaultAge   = "10"
)

var styleDirectives = map[domain.TeachingStyle]string{
	domain.StyleFriendlyEncouraging: "Use a friendly and encouraging teaching approach. Celebrate progress and keep the tone warm.",
	domain.StyleStrictFocused:       "Use a strict and focused teaching approach. Stay on task, be precise and expect complete answers.",
	domain.StylePatientSlow:         "Use a patient and slow teaching approach. Go one small step at a time and repeat key ideas.",
	domain.StyleFastChallenging:     "Use a fast and challenging teaching approach. Move briskly and stretch the student with harder problems.",
}

var tutoringRules = []string{
	"Be patient, supportive, and encouraging",
	"Break down complex concepts into simple steps",
	"Ask questions to check understanding",
	"Provide practice problems when appropriate",
	"Use emojis to make learning fun 🎯📚✨",
}

// StyleDirective returns the instruction phrase for a teaching style. Unknown
// or missing styles fall back to the friendly style.
func StyleDirective(style domain.TeachingStyle) string {
	if d, ok := styleDirectives[style]; ok {
		return d
	}
	return styleDirectives[domain.StyleFriendlyEncouraging]
}

// Compose renders the system instruction fixed for a whole session.
func Compose(p domain.LearnerProfile, subject, topic string, attachments []domain.Attachment) string {
	name := orDefault(p.Name, "the student")
	grade := orDefault(p.Grade, defaultGrade)
	age := defaultAge
	if p.Age > 0 {
		age = strconv.Itoa(p.Age)
	}
	style := p.TeachingStyle
	if !style.Valid() {
		style = domain.StyleFriendlyEncouraging
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s's personal AI teacher for %s", name, subject)
	if topic = strings.TrimSpace(topic); topic != "" {
		fmt.Fprintf(&b, " focusing on %s", topic)
	}
	b.WriteString(".\n\n")

	b.WriteString("Student Profile:\n")
	fmt.Fprintf(&b, "- Name: %s\n", orDefault(p.Name, "Student"))
	fmt.Fprintf(&b, "- Class: %s\n", orDefault(p.Grade, "Not specified"))
	if p.Age > 0 {
		fmt.Fprintf(&b, "- Age: %d\n", p.Age)
	} else {
		b.WriteString("- Age: Not specified\n")
	}
	fmt.Fprintf(&b, "- Preferred Language: %s\n", p.Language())
	fmt.Fprintf(&b, "- Teaching Style: %s\n", style)
	fmt.Fprintf(&b, "- Strengths: %s\n", orDefault(p.Strengths, "None specified"))
	fmt.Fprintf(&b, "- Areas for Improvement: %s\n", orDefault(p.Weaknesses, "None specified"))
	fmt.Fprintf(&b, "- Learning Goals: %s\n\n", orDefault(p.Goals, "General learning"))

	b.WriteString("Important Instructions:\n")
	n := 1
	rule := func(format string, args ...any) {
		fmt.Fprintf(&b, "%d. "+format+"\n", append([]any{n}, args...)...)
		n++
	}
	rule("Always respond in %s", p.Language())
	rule("%s", StyleDirective(style))
	rule("Adapt explanations to Class %s level", grade)
	rule("Use examples and analogies that a %s-year-old can understand", age)
	for _, r := range tutoringRules {
		rule("%s", r)
	}

	if len(attachments) > 0 {
		names := make([]string, len(attachments))
		for i, a := range attachments {
			names[i] = a.DisplayName
		}
		fmt.Fprintf(&b, "\nThe student has uploaded %d file(s): %s. Reference these materials in your teaching when relevant.\n",
			len(attachments), strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, "\nRemember: you are a caring teacher who wants to help %s succeed and build confidence in %s!",
		orDefault(p.Name, "this student"), subject)
	return b.String()
}

// Welcome renders the first tutor message of a session.
func Welcome(p domain.LearnerProfile, subject, topic string, hasAttachments bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s! 🌟 I'm your AI teacher and I'm excited to help you learn %s", orDefault(p.Name, "there"), subject)
	if topic = strings.TrimSpace(topic); topic != "" {
		fmt.Fprintf(&b, " - %s", topic)
	}
	b.WriteString("!\n\n")

	if hasAttachments {
		b.WriteString("I can see you've uploaded some materials. I'll use them to make our lesson more personalized.\n\n")
	}
	if p.TeachingStyle.Valid() {
		fmt.Fprintf(&b, "I'll teach in a %s way, just like you prefer.\n\n", strings.ToLower(string(p.TeachingStyle)))
	}

	b.WriteString("What would you like to start with? You can:\n")
	b.WriteString("📚 Ask me to explain a concept\n")
	b.WriteString("❓ Ask questions about anything you're confused about\n")
	b.WriteString("📝 Get help with homework\n")
	b.WriteString("🔍 Explore new topics\n\n")
	b.WriteString("What's on your mind today?")
	return b.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
