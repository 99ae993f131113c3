// Package hashchain computes canonical entry digests and links entries into a
// single linear chain per log instance.
package hashchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"auditchain/internal/audit/models"
)

// Algorithm names a 256-bit hash function.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Builder is stateless beyond its algorithm choice and safe for concurrent use.
type Builder struct {
	alg     Algorithm
	newHash func() hash.Hash
}

// New returns a builder for alg. An empty alg selects SHA256.
func New(alg Algorithm) (*Builder, error) {
	switch alg {
	case "", SHA256:
		return &Builder{alg: SHA256, newHash: sha256.New}, nil
	case SHA3_256:
		return &Builder{alg: SHA3_256, newHash: sha3.New256}, nil
	case BLAKE2b256:
		return &Builder{alg: BLAKE2b256, newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil) // only fails for oversized keys
			return h
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// Default returns a SHA-256 builder.
func Default() *Builder {
	b, _ := New(SHA256)
	return b
}

// Algorithm returns the configured algorithm.
func (b *Builder) Algorithm() Algorithm {
	return b.alg
}

// hashedEntry is every entry field except contentHash, previousHash and
// signature. Timestamps are rendered in UTC with nanosecond precision.
type hashedEntry struct {
	ID        string          `json:"id"`
	Sequence  uint64          `json:"sequence"`
	Timestamp string          `json:"timestamp"`
	Category  models.Category `json:"category"`
	Event     string          `json:"event"`
	Severity  models.Severity `json:"severity"`
	Actor     models.Actor    `json:"actor"`
	Resource  models.Resource `json:"resource"`
	Context   models.Context  `json:"context"`
	Result    models.Result   `json:"result"`
	Metadata  models.Metadata `json:"metadata"`
}

// Canonicalize renders the hashed fields of e as UTF-8 JSON with object keys
// sorted at every level.
func (b *Builder) Canonicalize(e models.Entry) ([]byte, error) {
	raw, err := json.Marshal(hashedEntry{
		ID:        e.ID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Category:  e.Category,
		Event:     e.Event,
		Severity:  e.Severity,
		Actor:     e.Actor,
		Resource:  e.Resource,
		Context:   e.Context,
		Result:    e.Result,
		Metadata:  e.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}

	// Round-trip through a generic value: encoding/json writes map keys in
	// sorted order, and UseNumber keeps integers exact.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize entry: %w", err)
	}
	return canonical, nil
}

// ComputeHash returns the hex digest of e's canonical form. Recomputing it
// from the same field values always yields the same digest.
func (b *Builder) ComputeHash(e models.Entry) (string, error) {
	canonical, err := b.Canonicalize(e)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b.Sum(canonical)), nil
}

// Link sets e's previousHash. An empty previous digest links to the genesis
// sentinel.
func (b *Builder) Link(e models.Entry, previous string) models.Entry {
	if previous == "" {
		previous = models.GenesisHash
	}
	e.PreviousHash = previous
	return e
}

// Seal links e to previous and stamps its contentHash.
func (b *Builder) Seal(e models.Entry, previous string) (models.Entry, error) {
	e = b.Link(e, previous)
	digest, err := b.ComputeHash(e)
	if err != nil {
		return models.Entry{}, err
	}
	e.ContentHash = digest
	return e, nil
}

// Sum hashes data with the configured algorithm.
func (b *Builder) Sum(data []byte) []byte {
	h := b.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// SumPair hashes the concatenation of two raw digests.
func (b *Builder) SumPair(left, right []byte) []byte {
	h := b.newHash()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// VerifyChain walks entries in order and reports the index of the first entry
// whose previousHash or contentHash is inconsistent, or -1 when intact.
// previous is the expected previousHash of entries[0].
func (b *Builder) VerifyChain(entries []models.Entry, previous string) (int, error) {
	if previous == "" {
		previous = models.GenesisHash
	}
	for i := range entries {
		if entries[i].PreviousHash != previous {
			return i, nil
		}
		digest, err := b.ComputeHash(entries[i])
		if err != nil {
			return i, err
		}
		if digest != entries[i].ContentHash {
			return i, nil
		}
		previous = digest
	}
	return -1, nil
}
