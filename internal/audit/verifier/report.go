package verifier

import (
	"fmt"
	"time"
)

// Kind names a class of integrity violation.
type Kind string

const (
	KindHashMismatch      Kind = "hash_mismatch"
	KindInvalidSignature  Kind = "invalid_signature"
	KindChainBroken       Kind = "chain_broken"
	KindSequenceGap       Kind = "sequence_gap"
	KindBatchRootMismatch Kind = "batch_root_mismatch"
	KindInvalidCheckpoint Kind = "invalid_checkpoint"
)

// Level ranks how severe a violation is.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
)

func levelFor(kind Kind) Level {
	if kind == KindSequenceGap {
		return LevelHigh
	}
	return LevelCritical
}

// Violation is one finding. For batch findings Sequence is the batch start.
type Violation struct {
	Sequence uint64 `json:"sequence"`
	Kind     Kind   `json:"kind"`
	Level    Level  `json:"level"`
	Detail   string `json:"detail"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	BatchID  string `json:"batchId,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at %d: %s", v.Kind, v.Sequence, v.Detail)
}

// Report is the outcome of one verification run. Violations are ordered by
// sequence then discovery.
type Report struct {
	Start       uint64      `json:"start"`
	End         uint64      `json:"end"`
	Checked     int         `json:"checked"`
	Redacted    int         `json:"redacted"`
	Batches     int         `json:"batches"`
	Valid       bool        `json:"valid"`
	Aborted     bool        `json:"aborted,omitempty"`
	Violations  []Violation `json:"violations"`
	StartedAt   time.Time   `json:"startedAt"`
	CompletedAt time.Time   `json:"completedAt"`
}

// IsEntryValid reports whether seq was checked and has no entry-level violation.
func (r *Report) IsEntryValid(seq uint64) bool {
	if r == nil || seq < r.Start || seq > r.End {
		return false
	}
	for _, v := range r.Violations {
		if v.Sequence == seq && v.BatchID == "" {
			return false
		}
	}
	return true
}

// ByKind returns the violations of kind.
func (r *Report) ByKind(kind Kind) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

func (r *Report) add(v Violation) {
	v.Level = levelFor(v.Kind)
	r.Violations = append(r.Violations, v)
}
