package monitor

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"auditchain/internal/audit/models"
)

// MatchType selects how a rule's pattern is compared with an entry's event.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
	MatchExact    MatchType = "exact"
)

// Action is what happens when a rule matches.
type Action string

const (
	ActionLog   Action = "log"
	ActionAlert Action = "alert"
	ActionBlock Action = "block"
)

// Rule is one ordered monitoring rule.
type Rule struct {
	Name     string          `yaml:"name" json:"name"`
	Match    MatchType       `yaml:"match" json:"match"`
	Pattern  string          `yaml:"pattern" json:"pattern"`
	Action   Action          `yaml:"action" json:"action"`
	Severity models.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML document with a top-level "rules" list.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse monitor rules: %w", err)
	}
	return file.Rules, nil
}

// LoadRules reads rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitor rules: %w", err)
	}
	return ParseRules(data)
}

// DefaultRules is the built-in rule set used when no file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "audit-log-tampering", Match: MatchRegex, Pattern: `^audit\.(delete|purge|truncate)`, Action: ActionBlock, Severity: models.SeverityCritical},
		{Name: "privilege-escalation", Match: MatchContains, Pattern: "privilege.escalat", Action: ActionAlert, Severity: models.SeverityCritical},
		{Name: "bulk-export", Match: MatchRegex, Pattern: `\.(export|download)\.bulk$`, Action: ActionAlert, Severity: models.SeverityError},
		{Name: "repeated-login-failure", Match: MatchExact, Pattern: "auth.login.failed", Action: ActionLog, Severity: models.SeverityWarning},
	}
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

func compile(r Rule) (compiledRule, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return compiledRule{}, fmt.Errorf("rule name is required")
	}
	if r.Pattern == "" {
		return compiledRule{}, fmt.Errorf("rule %q: pattern is required", name)
	}
	if r.Match == "" {
		r.Match = MatchContains
	}
	if r.Action == "" {
		r.Action = ActionLog
	}
	if r.Severity == 0 {
		r.Severity = models.SeverityWarning
	}
	switch r.Action {
	case ActionLog, ActionAlert, ActionBlock:
	default:
		return compiledRule{}, fmt.Errorf("rule %q: unknown action %q", name, r.Action)
	}
	if !r.Severity.IsValid() {
		return compiledRule{}, fmt.Errorf("rule %q: invalid severity", name)
	}
	c := compiledRule{Rule: r}
	c.Name = name
	switch r.Match {
	case MatchContains, MatchExact:
	case MatchRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("rule %q: %w", name, err)
		}
		c.re = re
	default:
		return compiledRule{}, fmt.Errorf("rule %q: unknown match type %q", name, r.Match)
	}
	return c, nil
}

func (c compiledRule) matches(event string) bool {
	switch c.Match {
	case MatchExact:
		return event == c.Pattern
	case MatchRegex:
		return c.re.MatchString(event)
	default:
		return strings.Contains(event, c.Pattern)
	}
}
