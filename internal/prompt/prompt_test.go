package prompt

import (
	"strings"
	"testing"

	"github.com/gyaanguru/tutor/internal/domain"
)

func asha() domain.LearnerProfile {
	return domain.LearnerProfile{
		Name:              "Asha",
		Grade:             "7",
		Age:               12,
		PreferredLanguage: "Hindi",
		TeachingStyle:     domain.StylePatientSlow,
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	t.Parallel()
	atts := []domain.Attachment{{DisplayName: "notes.pdf"}, {DisplayName: "leaf.png"}}

	first := Compose(asha(), "Science", "Photosynthesis", atts)
	for i := 0; i < 10; i++ {
		if got := Compose(asha(), "Science", "Photosynthesis", atts); got != first {
			t.Fatalf("compose output changed on call %d", i)
		}
	}
}

func TestComposeDirectives(t *testing.T) {
	t.Parallel()
	got := Compose(asha(), "Science", "", nil)

	for _, want := range []string{
		"Always respond in Hindi",
		"patient and slow teaching approach",
		"Class 7 level",
		"12-year-old",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in instruction:\n%s", want, got)
		}
	}
	if strings.Contains(got, "uploaded") {
		t.Errorf("instruction must not mention uploads without attachments:\n%s", got)
	}
}

func TestComposeDefaults(t *testing.T) {
	t.Parallel()
	got := Compose(domain.DefaultProfile("a"), "Mathematics", "", nil)

	for _, want := range []string{"Always respond in English", "Class 5 level", "10-year-old", "friendly and encouraging"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in instruction:\n%s", want, got)
		}
	}
}

func TestComposeNamesAttachments(t *testing.T) {
	t.Parallel()
	got := Compose(asha(), "Science", "", []domain.Attachment{{DisplayName: "notes.pdf"}})

	if !strings.Contains(got, "uploaded 1 file(s): notes.pdf") || !strings.Contains(got, "Reference these materials") {
		t.Fatalf("expected attachment instruction:\n%s", got)
	}
}

func TestWelcome(t *testing.T) {
	t.Parallel()

	got := Welcome(asha(), "Science", "", false)
	if !strings.Contains(got, "Asha") || !strings.Contains(got, "Science") {
		t.Fatalf("welcome must greet Asha about Science:\n%s", got)
	}
	if strings.Contains(got, "uploaded") {
		t.Fatalf("welcome must not mention materials:\n%s", got)
	}
	if !strings.Contains(got, "patient & slow way") {
		t.Fatalf("expected teaching style sentence:\n%s", got)
	}

	got = Welcome(domain.LearnerProfile{}, "Mathematics", "Algebra", true)
	if !strings.HasPrefix(got, "Hello there!") || !strings.Contains(got, "Mathematics - Algebra") {
		t.Fatalf("unexpected anonymous welcome:\n%s", got)
	}
	if !strings.Contains(got, "uploaded some materials") {
		t.Fatalf("expected materials sentence:\n%s", got)
	}
}
