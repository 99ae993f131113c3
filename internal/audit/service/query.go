package service

import (
	"context"

	"auditchain/internal/audit/models"
	"auditchain/internal/audit/verifier"
	dErrors "auditchain/pkg/domain-errors"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// RangeVerifier replays a sequence range.
type RangeVerifier interface {
	VerifyRange(ctx context.Context, start, end uint64) (*verifier.Report, error)
}

// QueryResult is one page of entries. Integrity is set when the filter asked
// for verification of the returned span.
type QueryResult struct {
	Entries    []models.Entry   `json:"entries"`
	TotalCount int              `json:"totalCount"`
	HasMore    bool             `json:"hasMore"`
	Integrity  *verifier.Report `json:"integrity,omitempty"`
}

// Query returns committed entries matching filter, in sequence order.
func (s *Service) Query(ctx context.Context, filter models.Filter) (*QueryResult, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "limit and offset cannot be negative")
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		return nil, dErrors.New(dErrors.CodeValidation, "endTime must not be before startTime")
	}
	for _, sev := range filter.Severities {
		if !sev.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "severity filter is invalid")
		}
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}
	if filter.VerifyIntegrity && s.verifier == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "integrity verification is not configured")
	}

	entries, total, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to query entries")
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	result := &QueryResult{
		Entries:    entries,
		TotalCount: total,
		HasMore:    filter.Offset+len(entries) < total,
	}

	if filter.VerifyIntegrity && len(entries) > 0 {
		lo, hi := entries[0].Sequence, entries[0].Sequence
		for _, e := range entries[1:] {
			lo = min(lo, e.Sequence)
			hi = max(hi, e.Sequence)
		}
		report, err := s.verifier.VerifyRange(ctx, lo, hi)
		if err != nil {
			return nil, err
		}
		result.Integrity = report
	}
	return result, nil
}
