// Package memory is an in-process entry store for tests and single-node
// development. It satisfies the same contracts as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// InMemoryStore keeps entries indexed by sequence.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []models.Entry // ordered by sequence
	bySeq   map[uint64]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{bySeq: make(map[uint64]int)}
}

// Clear removes all entries.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.bySeq = make(map[uint64]int)
}

// Persist appends entry if it extends the stored tail.
func (s *InMemoryStore) Persist(_ context.Context, entry models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.tailLocked()
	if entry.Sequence != tail.Sequence+1 {
		return fmt.Errorf("%w: tail at %d, entry %d", sentinel.ErrConflict, tail.Sequence, entry.Sequence)
	}
	if entry.PreviousHash != tail.PreviousHash() {
		return fmt.Errorf("%w: previous hash does not match tail", sentinel.ErrConflict)
	}
	s.bySeq[entry.Sequence] = len(s.entries)
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

// LoadRange returns entries with start <= sequence <= end, ordered by sequence.
func (s *InMemoryStore) LoadRange(_ context.Context, start, end uint64) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Sequence >= start })
	var out []models.Entry
	for i := lo; i < len(s.entries) && s.entries[i].Sequence <= end; i++ {
		out = append(out, cloneEntry(s.entries[i]))
	}
	return out, nil
}

// LoadTail returns the last committed sequence and contentHash.
func (s *InMemoryStore) LoadTail(_ context.Context) (models.Tail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tailLocked(), nil
}

// Query returns one page of matching entries and the total match count.
func (s *InMemoryStore) Query(_ context.Context, filter models.Filter) ([]models.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Entry
	for _, e := range s.entries {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	if filter.Offset >= total {
		return []models.Entry{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	page := make([]models.Entry, 0, end-filter.Offset)
	for _, e := range matched[filter.Offset:end] {
		page = append(page, cloneEntry(e))
	}
	return page, total, nil
}

// Categories lists distinct categories with unredacted entries.
func (s *InMemoryStore) Categories(_ context.Context) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[models.Category]bool)
	var out []models.Category
	for _, e := range s.entries {
		if e.IsRedacted() || seen[e.Category] {
			continue
		}
		seen[e.Category] = true
		out = append(out, e.Category)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ListExpired returns unredacted entries of category older than before with
// a sequence greater than after.
func (s *InMemoryStore) ListExpired(_ context.Context, category models.Category, before time.Time, after uint64, limit int) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Sequence > after })
	var out []models.Entry
	for _, e := range s.entries[lo:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e.Category == category && !e.IsRedacted() && e.Timestamp.Before(before) {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

// Redact replaces the payload of the given entries with tombstones.
func (s *InMemoryStore) Redact(_ context.Context, seqs []uint64, redaction models.Redaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, seq := range seqs {
		idx, ok := s.bySeq[seq]
		if !ok || s.entries[idx].IsRedacted() {
			continue
		}
		s.entries[idx] = s.entries[idx].Redacted(redaction)
		n++
	}
	return n, nil
}

// Mutate rewrites a stored entry in place, bypassing write-once rules.
// Tests use it to simulate tampering at the storage layer.
func (s *InMemoryStore) Mutate(seq uint64, fn func(*models.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.bySeq[seq]
	if !ok {
		return sentinel.ErrNotFound
	}
	fn(&s.entries[idx])
	return nil
}

// Remove drops an entry entirely, leaving a sequence gap.
func (s *InMemoryStore) Remove(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.bySeq[seq]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.bySeq = make(map[uint64]int, len(s.entries))
	for i, e := range s.entries {
		s.bySeq[e.Sequence] = i
	}
	return nil
}

func (s *InMemoryStore) tailLocked() models.Tail {
	if len(s.entries) == 0 {
		return models.Tail{}
	}
	last := s.entries[len(s.entries)-1]
	return models.Tail{Sequence: last.Sequence, Hash: last.ContentHash}
}

func matches(e models.Entry, f models.Filter) bool {
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.Actors) > 0 && !containsString(f.Actors, e.Actor.ID) {
		return false
	}
	return true
}

func containsCategory(list []models.Category, c models.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsSeverity(list []models.Severity, sev models.Severity) bool {
	for _, v := range list {
		if v == sev {
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

// cloneEntry copies the slices and maps an entry shares, so callers cannot
// mutate stored state.
func cloneEntry(e models.Entry) models.Entry {
	out := e
	out.Actor.Roles = append([]string(nil), e.Actor.Roles...)
	out.Result.Changes = append([]models.Change(nil), e.Result.Changes...)
	out.Result.Errors = append([]string(nil), e.Result.Errors...)
	out.Metadata.Compliance = append([]string(nil), e.Metadata.Compliance...)
	if e.Metadata.Tags != nil {
		out.Metadata.Tags = make(map[string]string, len(e.Metadata.Tags))
		for k, v := range e.Metadata.Tags {
			out.Metadata.Tags[k] = v
		}
	}
	if e.Redaction != nil {
		r := *e.Redaction
		out.Redaction = &r
	}
	return out
}
