// Package clock provides the injected time source and the sequence allocator
// used by the append path.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// System is the wall clock in UTC.
func System() time.Time {
	return time.Now().UTC()
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// ErrOutOfOrder is returned when a commit does not extend the sequence by one.
var ErrOutOfOrder = errors.New("sequence commit out of order")

// Sequencer hands out sequence numbers for a single log instance. A number is
// only consumed once Commit succeeds, so an aborted append leaves no gap.
// Callers serialize Next/Commit pairs under the append lock.
type Sequencer struct {
	mu   sync.Mutex
	last uint64
}

// NewSequencer resumes after last, the highest committed sequence (0 for an
// empty log).
func NewSequencer(last uint64) *Sequencer {
	return &Sequencer{last: last}
}

// Next returns the sequence the next committed entry will carry.
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last + 1
}

// Commit records seq as used. seq must equal Last()+1.
func (s *Sequencer) Commit(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.last+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrOutOfOrder, s.last, seq)
	}
	s.last = seq
	return nil
}

// Last returns the highest committed sequence.
func (s *Sequencer) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
