package distribution

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"auditchain/internal/audit/models"
)

// Effect decides what a matching filter rule does.
type Effect string

const (
	Include Effect = "include"
	Exclude Effect = "exclude"
)

// FilterRule matches entries on every non-empty condition. Events ending in
// "*" match by prefix.
type FilterRule struct {
	Name        string            `yaml:"name" json:"name"`
	Effect      Effect            `yaml:"effect" json:"effect"`
	Categories  []models.Category `yaml:"categories,omitempty" json:"categories,omitempty"`
	Events      []string          `yaml:"events,omitempty" json:"events,omitempty"`
	MinSeverity models.Severity   `yaml:"minSeverity,omitempty" json:"minSeverity,omitempty"`
	Actors      []string          `yaml:"actors,omitempty" json:"actors,omitempty"`
}

// Validate rejects rules with an unknown effect.
func (r FilterRule) Validate() error {
	switch r.Effect {
	case Include, Exclude:
		return nil
	}
	return fmt.Errorf("filter rule %q: effect must be include or exclude", r.Name)
}

func (r FilterRule) matches(e models.Entry) bool {
	if len(r.Categories) > 0 && !containsCategory(r.Categories, e.Category) {
		return false
	}
	if len(r.Events) > 0 && !matchesEvent(r.Events, e.Event) {
		return false
	}
	if r.MinSeverity != 0 && !e.Severity.AtLeast(r.MinSeverity) {
		return false
	}
	if len(r.Actors) > 0 && !containsString(r.Actors, e.Actor.ID) {
		return false
	}
	return true
}

// Allowed applies rules in order; the first match decides. No match includes.
func Allowed(rules []FilterRule, e models.Entry) bool {
	for _, r := range rules {
		if r.matches(e) {
			return r.Effect != Exclude
		}
	}
	return true
}

// ParseFilters decodes a YAML document with a top-level "filters" list.
func ParseFilters(data []byte) ([]FilterRule, error) {
	var doc struct {
		Filters []FilterRule `yaml:"filters"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sink filters: %w", err)
	}
	for _, r := range doc.Filters {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Filters, nil
}

// LoadFilters reads filter rules from a YAML file.
func LoadFilters(path string) ([]FilterRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sink filters: %w", err)
	}
	return ParseFilters(data)
}

func matchesEvent(patterns []string, event string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(event, prefix) {
				return true
			}
			continue
		}
		if p == event {
			return true
		}
	}
	return false
}

func containsCategory(list []models.Category, c models.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
