// Package catalog describes the subjects, topics, grades and languages a
// learner can pick from.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/gyaanguru/tutor/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Subject is one teachable subject with its suggested topics.
type Subject struct {
	Name    string   `yaml:"name" json:"name"`
	Topics  []string `yaml:"topics" json:"topics"`
	Default bool     `yaml:"default" json:"-"`
}

// Catalog is the set of choices offered during onboarding and session setup.
type Catalog struct {
	Subjects   []Subject `yaml:"subjects" json:"subjects"`
	Grades     []string  `yaml:"grades" json:"grades"`
	Languages  []string  `yaml:"languages" json:"languages"`
	StudyTimes []string  `yaml:"study_times" json:"study_times"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic("catalog: invalid built-in catalog: " + err.Error())
	}
	return c
}

// Load reads a catalog from path, or returns the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Subjects) == 0 {
		return nil, fmt.Errorf("catalog has no subjects")
	}
	seen := make(map[string]bool, len(c.Subjects))
	for _, s := range c.Subjects {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if key == "" {
			return nil, fmt.Errorf("catalog subject without a name")
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate catalog subject %q", s.Name)
		}
		seen[key] = true
	}
	return &c, nil
}

// TopicsFor returns the suggested topics for a subject, matched case-insensitively.
func (c *Catalog) TopicsFor(subject string) []string {
	for _, s := range c.Subjects {
		if strings.EqualFold(s.Name, subject) {
			return s.Topics
		}
	}
	return nil
}

// DefaultSubjects returns the subjects offered to learners who picked none.
func (c *Catalog) DefaultSubjects() []string {
	var out []string
	for _, s := range c.Subjects {
		if s.Default {
			out = append(out, s.Name)
		}
	}
	return out
}

// SubjectsFor returns the subjects to offer a learner: the ones chosen during
// onboarding, or the catalog defaults.
func (c *Catalog) SubjectsFor(p domain.LearnerProfile) []string {
	if len(p.Subjects) > 0 {
		return p.Subjects
	}
	return c.DefaultSubjects()
}

// HasGrade reports whether grade is a known class level.
func (c *Catalog) HasGrade(grade string) bool {
	for _, g := range c.Grades {
		if g == strings.TrimSpace(grade) {
			return true
		}
	}
	return false
}

// HasLanguage reports whether lang is an offered language.
func (c *Catalog) HasLanguage(lang string) bool {
	for _, l := range c.Languages {
		if strings.EqualFold(l, strings.TrimSpace(lang)) {
			return true
		}
	}
	return false
}

// HasStudyTime reports whether t is an offered daily study time.
func (c *Catalog) HasStudyTime(t string) bool {
	for _, st := range c.StudyTimes {
		if strings.EqualFold(st, strings.TrimSpace(t)) {
			return true
		}
	}
	return false
}

// HasSubject reports whether subject is in the catalog, matched case-insensitively.
func (c *Catalog) HasSubject(subject string) bool {
	for _, s := range c.Subjects {
		if strings.EqualFold(s.Name, strings.TrimSpace(subject)) {
			return true
		}
	}
	return false
}
