// Package models holds the audit log's record types. An Entry is write-once:
// once persisted, none of its fields, hashes or signature change.
package models

import (
	"crypto/ed25519"
	"time"
)

// GenesisHash is the previousHash of the first entry in a log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// MetadataSchemaVersion is stamped on every entry's metadata block.
const MetadataSchemaVersion = 1

// Category groups entries for retention, filtering and routing.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryConfiguration  Category = "configuration"
	CategorySecurity       Category = "security"
	CategoryCompliance     Category = "compliance"
	CategorySystem         Category = "system"
)

// ActorType identifies who performed the action.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorSystem    ActorType = "system"
	ActorService   ActorType = "service"
	ActorAnonymous ActorType = "anonymous"
)

// IsValid reports whether t is a known actor type.
func (t ActorType) IsValid() bool {
	switch t {
	case ActorUser, ActorSystem, ActorService, ActorAnonymous:
		return true
	}
	return false
}

// ResultStatus is the outcome of the audited action.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultPartial ResultStatus = "partial"
	ResultError   ResultStatus = "error"
)

// IsValid reports whether s is a known result status.
func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultSuccess, ResultFailure, ResultPartial, ResultError:
		return true
	}
	return false
}

type Actor struct {
	Type      ActorType `json:"type"`
	ID        string    `json:"id"`
	IP        string    `json:"ip,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
}

type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

type Context struct {
	Environment   string `json:"environment"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	TraceID       string `json:"traceId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Change records a single field modification made by the audited action.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new,omitempty"`
}

type Result struct {
	Status     ResultStatus `json:"status"`
	DurationMS int64        `json:"durationMs,omitempty"`
	Changes    []Change     `json:"changes,omitempty"`
	Errors     []string     `json:"errors,omitempty"`
}

// Metadata is a closed, versioned block. Tags is the only free-form field.
type Metadata struct {
	SchemaVersion int               `json:"schemaVersion"`
	Compliance    []string          `json:"compliance,omitempty"`
	RetentionDays int               `json:"retentionDays,omitempty"`
	Encrypted     bool              `json:"encrypted,omitempty"`
	Compressed    bool              `json:"compressed,omitempty"`
	Replicated    bool              `json:"replicated,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Signature is produced over an entry's contentHash by the key epoch KeyID.
type Signature struct {
	KeyID string `json:"keyId"`
	Value string `json:"value"`
}

// IsZero reports whether no signature is present.
func (s Signature) IsZero() bool {
	return s.KeyID == "" && s.Value == ""
}

// Entry is the immutable unit of record.
type Entry struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Event     string    `json:"event"`
	Severity  Severity  `json:"severity"`
	Actor     Actor     `json:"actor"`
	Resource  Resource  `json:"resource"`
	Context   Context   `json:"context"`
	Result    Result    `json:"result"`
	Metadata  Metadata  `json:"metadata"`

	ContentHash  string    `json:"contentHash"`
	PreviousHash string    `json:"previousHash"`
	Signature    Signature `json:"signature"`

	// Redaction is set once retention removed the entry's payload. The
	// sequence, hashes and signature stay so the chain remains verifiable.
	Redaction *Redaction `json:"redaction,omitempty"`
}

// IsRedacted reports whether the entry's payload was removed by retention.
func (e Entry) IsRedacted() bool {
	return e.Redaction != nil
}

// Redaction records the confirmed deletion request that removed a payload.
type Redaction struct {
	RequestID string    `json:"requestId"`
	At        time.Time `json:"at"`
	Archived  bool      `json:"archived"`
}

// Redacted returns the tombstone kept in place of e after deletion.
func (e Entry) Redacted(r Redaction) Entry {
	return Entry{
		ID:           e.ID,
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		Category:     e.Category,
		Severity:     e.Severity,
		ContentHash:  e.ContentHash,
		PreviousHash: e.PreviousHash,
		Signature:    e.Signature,
		Redaction:    &r,
	}
}

// IsTombstone reports whether e carries nothing beyond what Redacted keeps.
func (e Entry) IsTombstone() bool {
	if e.Redaction == nil || e.Redaction.RequestID == "" {
		return false
	}
	return e.Event == "" &&
		e.Actor.Type == "" && e.Actor.ID == "" && e.Actor.IP == "" && e.Actor.SessionID == "" && len(e.Actor.Roles) == 0 &&
		e.Resource == Resource{} &&
		e.Context == Context{} &&
		e.Result.Status == "" && e.Result.DurationMS == 0 && len(e.Result.Changes) == 0 && len(e.Result.Errors) == 0 &&
		e.Metadata.SchemaVersion == 0 && len(e.Metadata.Compliance) == 0 && e.Metadata.RetentionDays == 0 &&
		!e.Metadata.Encrypted && !e.Metadata.Compressed && !e.Metadata.Replicated && len(e.Metadata.Tags) == 0
}

// Tail is the last committed position of the chain.
type Tail struct {
	Sequence uint64
	Hash     string
}

// IsEmpty reports whether the chain has no entries yet.
func (t Tail) IsEmpty() bool {
	return t.Sequence == 0
}

// PreviousHash returns the hash the next entry must link to.
func (t Tail) PreviousHash() string {
	if t.IsEmpty() || t.Hash == "" {
		return GenesisHash
	}
	return t.Hash
}

// SigningKeyEpoch is the public half of one signing keypair's validity period.
// Private key material never leaves the signing package.
type SigningKeyEpoch struct {
	KeyID     string            `json:"keyId"`
	PublicKey ed25519.PublicKey `json:"publicKey"`
	CreatedAt time.Time         `json:"createdAt"`
	RetiredAt *time.Time        `json:"retiredAt,omitempty"`
}

// IsRetired reports whether the epoch may only verify.
func (e SigningKeyEpoch) IsRetired() bool {
	return e.RetiredAt != nil
}

// MerkleBatch is a sealed group of consecutive entries with a signed root.
type MerkleBatch struct {
	ID         string    `json:"batchId"`
	StartSeq   uint64    `json:"startSeq"`
	EndSeq     uint64    `json:"endSeq"`
	LeafHashes []string  `json:"leafHashes"`
	Root       string    `json:"root"`
	Checkpoint string    `json:"checkpoint"`
	KeyID      string    `json:"keyId"`
	SealedAt   time.Time `json:"sealedAt"`
}

// Contains reports whether seq falls inside the batch.
func (b MerkleBatch) Contains(seq uint64) bool {
	return seq >= b.StartSeq && seq <= b.EndSeq
}

// RetentionPolicy is administrative configuration for one category.
type RetentionPolicy struct {
	Category      Category  `json:"category"`
	RetentionDays int       `json:"retentionDays"`
	LegalHold     bool      `json:"legalHold"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Filter selects entries for the query surface and retention sweeps.
type Filter struct {
	StartTime  time.Time
	EndTime    time.Time
	Categories []Category
	Severities []Severity
	Actors     []string
	Limit      int
	Offset     int

	VerifyIntegrity bool
}
