package models

import (
	"strings"
	"time"

	dErrors "auditchain/pkg/domain-errors"
)

const (
	maxEventLength    = 256
	maxCategoryLength = 64
	maxTags           = 64
)

// EventSpec is a submission to the logger. Sequence, hashes, signature, ID
// and timestamp are assigned by the logger, never by the caller.
type EventSpec struct {
	Category Category `json:"category"`
	Event    string   `json:"event"`
	Severity Severity `json:"severity,omitempty"`
	Actor    Actor    `json:"actor"`
	Resource Resource `json:"resource"`
	Context  Context  `json:"context"`
	Result   Result   `json:"result"`
	Metadata Metadata `json:"metadata"`
}

// Validate normalizes the spec and rejects submissions missing required
// actor/event fields. It runs before any append state is touched.
func (s *EventSpec) Validate() error {
	if s == nil {
		return dErrors.New(dErrors.CodeValidation, "event spec is required")
	}
	s.Event = strings.TrimSpace(s.Event)
	s.Category = Category(strings.TrimSpace(string(s.Category)))
	s.Actor.ID = strings.TrimSpace(s.Actor.ID)

	if s.Event == "" {
		return dErrors.New(dErrors.CodeValidation, "event is required")
	}
	if len(s.Event) > maxEventLength {
		return dErrors.New(dErrors.CodeValidation, "event must be at most 256 characters")
	}
	if s.Category == "" {
		return dErrors.New(dErrors.CodeValidation, "category is required")
	}
	if len(s.Category) > maxCategoryLength {
		return dErrors.New(dErrors.CodeValidation, "category must be at most 64 characters")
	}
	if s.Actor.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "actor.type is required")
	}
	if !s.Actor.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "actor.type must be one of user, system, service, anonymous")
	}
	if s.Actor.ID == "" && s.Actor.Type != ActorAnonymous {
		return dErrors.New(dErrors.CodeValidation, "actor.id is required")
	}
	if s.Severity == 0 {
		s.Severity = SeverityInfo
	}
	if !s.Severity.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "severity is invalid")
	}
	if s.Result.Status == "" {
		s.Result.Status = ResultSuccess
	}
	if !s.Result.Status.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "result.status must be one of success, failure, partial, error")
	}
	if s.Metadata.RetentionDays < 0 {
		return dErrors.New(dErrors.CodeValidation, "metadata.retentionDays cannot be negative")
	}
	if len(s.Metadata.Tags) > maxTags {
		return dErrors.New(dErrors.CodeValidation, "metadata.tags exceeds 64 entries")
	}
	return nil
}

// NewEntry builds an unsealed entry from a validated spec. Chain fields are
// left for the append step.
func NewEntry(id string, at time.Time, spec EventSpec) Entry {
	md := spec.Metadata
	md.SchemaVersion = MetadataSchemaVersion
	return Entry{
		ID:        id,
		Timestamp: at.UTC().Truncate(time.Microsecond),
		Category:  spec.Category,
		Event:     spec.Event,
		Severity:  spec.Severity,
		Actor:     spec.Actor,
		Resource:  spec.Resource,
		Context:   spec.Context,
		Result:    spec.Result,
		Metadata:  md,
	}
}
