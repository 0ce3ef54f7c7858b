package domain

import "testing"

func TestParseTeachingStyle(t *testing.T) {
	tests := []struct {
		in   string
		want TeachingStyle
		ok   bool
	}{
		{"Patient & Slow", StylePatientSlow, true},
		{"patient and slow", StylePatientSlow, true},
		{"  FAST  &  challenging ", StyleFastChallenging, true},
		{"Strict&Focused", StyleStrictFocused, true},
		{"", "", false},
		{"chaotic", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTeachingStyle(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseTeachingStyle(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDefaultProfileLanguage(t *testing.T) {
	p := DefaultProfile("anon_1")
	if p.Language() != "English" {
		t.Fatalf("expected English, got %q", p.Language())
	}
	if p.TeachingStyle.Valid() {
		t.Fatalf("default profile should have a generic teaching style, got %q", p.TeachingStyle)
	}

	p.PreferredLanguage = "  "
	if p.Language() != "English" {
		t.Fatalf("blank language should default to English, got %q", p.Language())
	}
}

func TestHasSubject(t *testing.T) {
	p := LearnerProfile{Subjects: []string{"Mathematics", "Science"}}
	if !p.HasSubject("science") {
		t.Error("expected case-insensitive subject match")
	}
	if p.HasSubject("History") {
		t.Error("unexpected subject match")
	}
}
