package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EntryState is an entry's position in the retention lifecycle.
type EntryState string

const (
	EntryActive              EntryState = "active"
	EntryEligibleForDeletion EntryState = "eligible_for_deletion"
	EntryPendingConfirmation EntryState = "pending_confirmation"
	EntryDeleted             EntryState = "deleted"
	EntryArchived            EntryState = "archived"
)

// DeletionState is the state of a deletion request.
type DeletionState string

const (
	DeletionPending   DeletionState = "pending_confirmation"
	DeletionExecuted  DeletionState = "executed"
	DeletionCancelled DeletionState = "cancelled"
)

// IsTerminal reports whether the request can no longer change.
func (s DeletionState) IsTerminal() bool {
	return s == DeletionExecuted || s == DeletionCancelled
}

// DeletionRequest groups expired entries of one category awaiting
// independent confirmations before their payload is removed.
type DeletionRequest struct {
	ID        string        `json:"id"`
	Category  Category      `json:"category"`
	Sequences []uint64      `json:"sequences"`
	Cutoff    time.Time     `json:"cutoff"`
	State     DeletionState `json:"state"`
	Archived  bool          `json:"archived"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`

	// Signature is set when the request executes. It covers Digest, so a
	// redaction can only be attributed to a request the log itself signed.
	Signature Signature `json:"signature,omitempty"`
}

// Covers reports whether the request names seq.
func (r DeletionRequest) Covers(seq uint64) bool {
	for _, s := range r.Sequences {
		if s == seq {
			return true
		}
	}
	return false
}

// Digest is the hex SHA-256 over the request's identity, category, sorted
// sequences and state.
func (r DeletionRequest) Digest() string {
	seqs := append([]uint64(nil), r.Sequences...)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	parts := make([]string, len(seqs))
	for i, seq := range seqs {
		parts[i] = strconv.FormatUint(seq, 10)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		"deletion-request",
		r.ID,
		string(r.Category),
		strings.Join(parts, ","),
		string(r.State),
	}, "\x00")))
	return hex.EncodeToString(sum[:])
}
