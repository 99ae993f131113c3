// Package monitor scans each new entry's event against an ordered rule list
// and raises alerts or block verdicts. It keeps no state across entries.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
)

// Verdict is the outcome of evaluating one entry. The zero value means no
// rule matched.
type Verdict struct {
	Matched  bool            `json:"matched"`
	Rule     string          `json:"rule,omitempty"`
	Action   Action          `json:"action,omitempty"`
	Severity models.Severity `json:"severity,omitempty"`
}

// Blocked reports whether the caller should reject the triggering request.
func (v Verdict) Blocked() bool {
	return v.Matched && v.Action == ActionBlock
}

// Alert is emitted to an AlertSink for alert and block verdicts.
type Alert struct {
	Rule     string          `json:"rule"`
	Action   Action          `json:"action"`
	Severity models.Severity `json:"severity"`
	EntryID  string          `json:"entryId"`
	Sequence uint64          `json:"sequence"`
	Category models.Category `json:"category"`
	Event    string          `json:"event"`
	ActorID  string          `json:"actorId"`
	RaisedAt time.Time       `json:"raisedAt"`
}

// AlertSink receives alerts.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}

// AlertFunc adapts a function to AlertSink.
type AlertFunc func(ctx context.Context, alert Alert) error

func (f AlertFunc) Alert(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// SlogAlertSink writes alerts as structured log records.
type SlogAlertSink struct {
	Logger *slog.Logger
}

func (s SlogAlertSink) Alert(ctx context.Context, a Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "audit pattern alert",
		"rule", a.Rule,
		"action", a.Action,
		"severity", a.Severity.String(),
		"entry_id", a.EntryID,
		"sequence", a.Sequence,
		"event", a.Event,
		"actor_id", a.ActorID,
	)
	return nil
}

// Monitor evaluates entries against compiled rules.
type Monitor struct {
	rules   []compiledRule
	alerts  AlertSink
	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Monitor)

func WithAlertSink(sink AlertSink) Option {
	return func(m *Monitor) {
		m.alerts = sink
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// New compiles rules once. Any invalid rule fails construction.
func New(rules []Rule, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.alerts == nil {
		m.alerts = SlogAlertSink{Logger: m.logger}
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		c, err := compile(r)
		if err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", c.Name)
		}
		seen[c.Name] = true
		m.rules = append(m.rules, c)
	}
	return m, nil
}

// Rules returns the compiled rules in evaluation order.
func (m *Monitor) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Rule
	}
	return out
}

// Evaluate returns the verdict of the first rule matching entry's event.
func (m *Monitor) Evaluate(entry models.Entry) Verdict {
	for _, r := range m.rules {
		if r.matches(entry.Event) {
			return Verdict{Matched: true, Rule: r.Name, Action: r.Action, Severity: r.Severity}
		}
	}
	return Verdict{}
}

// Dispatch carries out verdict's action for entry.
func (m *Monitor) Dispatch(ctx context.Context, entry models.Entry, verdict Verdict) error {
	if !verdict.Matched {
		return nil
	}
	m.metrics.IncPatternMatch(verdict.Rule, string(verdict.Action))
	if verdict.Action == ActionLog {
		m.logger.InfoContext(ctx, "audit pattern matched",
			"rule", verdict.Rule,
			"entry_id", entry.ID,
			"sequence", entry.Sequence,
		)
		return nil
	}
	alert := Alert{
		Rule:     verdict.Rule,
		Action:   verdict.Action,
		Severity: verdict.Severity,
		EntryID:  entry.ID,
		Sequence: entry.Sequence,
		Category: entry.Category,
		Event:    entry.Event,
		ActorID:  entry.Actor.ID,
		RaisedAt: m.clock().UTC(),
	}
	if err := m.alerts.Alert(ctx, alert); err != nil {
		m.logger.ErrorContext(ctx, "failed to emit pattern alert",
			"rule", verdict.Rule,
			"entry_id", entry.ID,
			"error", err,
		)
		return fmt.Errorf("emit alert for rule %s: %w", verdict.Rule, err)
	}
	return nil
}

// Notify evaluates and dispatches in one step. It is the asynchronous
// subscriber entry point used by the logger.
func (m *Monitor) Notify(ctx context.Context, entry models.Entry) {
	_ = m.Dispatch(ctx, entry, m.Evaluate(entry))
}
