package merkle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"auditchain/internal/audit/hashchain"
	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Minute
)

var (
	// ErrBatchOpen is returned when proving an entry whose batch is not sealed yet.
	ErrBatchOpen = errors.New("entry batch not sealed yet")
	// ErrOutOfOrder is returned when a leaf does not extend the open batch.
	ErrOutOfOrder = errors.New("leaf out of sequence order")
)

// BatchStore persists sealed batches.
type BatchStore interface {
	SaveBatch(ctx context.Context, batch models.MerkleBatch) error
	GetBatchBySequence(ctx context.Context, seq uint64) (*models.MerkleBatch, error)
	ListBatches(ctx context.Context, startSeq, endSeq uint64) ([]models.MerkleBatch, error)
	LastBatch(ctx context.Context) (*models.MerkleBatch, error)
}

// EntryLoader reads committed entries, used to rebuild the open batch on start.
type EntryLoader interface {
	LoadRange(ctx context.Context, start, end uint64) ([]models.Entry, error)
}

// BatchStatus reports where an added leaf landed.
type BatchStatus struct {
	BatchID   string
	LeafIndex int
	Leaves    int
	Sealed    bool
	Root      string
}

// InclusionProof lets a verifier recompute a sealed batch root from one entry.
type InclusionProof struct {
	Sequence   uint64 `json:"sequence"`
	BatchID    string `json:"batchId"`
	LeafIndex  int    `json:"leafIndex"`
	LeafCount  int    `json:"leafCount"`
	LeafHash   string `json:"leafHash"`
	Path       []Step `json:"path"`
	Root       string `json:"root"`
	Checkpoint string `json:"checkpoint,omitempty"`
	KeyID      string `json:"keyId,omitempty"`
}

type openBatch struct {
	id       string
	start    uint64
	leaves   []string
	openedAt time.Time
}

func (b *openBatch) next() uint64 {
	return b.start + uint64(len(b.leaves))
}

// Accumulator feeds leaves from the append path into the open batch and seals
// it on size or age. Sealing computes the root immediately; signing and
// persisting the checkpoint happen off the append path in Flush/Run and are
// retried until they succeed.
type Accumulator struct {
	hasher        *hashchain.Builder
	signer        Checkpointer
	store         BatchStore
	size          int
	flushInterval time.Duration
	clock         func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu      sync.Mutex
	open    *openBatch
	pending []models.MerkleBatch

	persistMu sync.Mutex
	sealed    chan struct{}
}

// Option configures an Accumulator.
type Option func(*Accumulator)

func WithBatchSize(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.size = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(a *Accumulator) {
		if d > 0 {
			a.flushInterval = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(a *Accumulator) {
		a.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Accumulator) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Accumulator) {
		a.metrics = m
	}
}

// New creates an accumulator whose next leaf is sequence 1. Call Recover to
// resume an existing log.
func New(hasher *hashchain.Builder, signer Checkpointer, store BatchStore, opts ...Option) *Accumulator {
	a := &Accumulator{
		hasher:        hasher,
		signer:        signer,
		store:         store,
		size:          DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		clock:         time.Now,
		logger:        slog.Default(),
		sealed:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add appends entry's contentHash as the next leaf. Leaves must arrive in
// sequence order, which the single append path guarantees.
func (a *Accumulator) Add(_ context.Context, entry models.Entry) (BatchStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open == nil {
		a.open = a.newOpen(entry.Sequence)
	}
	if entry.Sequence != a.open.next() {
		return BatchStatus{}, fmt.Errorf("%w: expected %d, got %d", ErrOutOfOrder, a.open.next(), entry.Sequence)
	}
	a.open.leaves = append(a.open.leaves, entry.ContentHash)

	status := BatchStatus{
		BatchID:   a.open.id,
		LeafIndex: len(a.open.leaves) - 1,
		Leaves:    len(a.open.leaves),
	}
	if len(a.open.leaves) >= a.size {
		batch, err := a.sealLocked()
		if err != nil {
			return status, err
		}
		status.Sealed = true
		status.Root = batch.Root
	}
	return status, nil
}

// Flush seals the open batch if its flush interval elapsed and persists any
// sealed batches still waiting for a signed checkpoint.
func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.open != nil && len(a.open.leaves) > 0 && a.clock().Sub(a.open.openedAt) >= a.flushInterval {
		if _, err := a.sealLocked(); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.mu.Unlock()
	return a.persistPending(ctx)
}

// SealNow seals the open batch regardless of size or age, then persists.
// Used on shutdown.
func (a *Accumulator) SealNow(ctx context.Context) error {
	a.mu.Lock()
	if a.open != nil && len(a.open.leaves) > 0 {
		if _, err := a.sealLocked(); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.mu.Unlock()
	return a.persistPending(ctx)
}

// Run persists sealed batches as they appear and applies the flush interval
// until ctx is cancelled.
func (a *Accumulator) Run(ctx context.Context) error {
	tick := a.flushInterval / 4
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.sealed:
		case <-ticker.C:
		}
		if err := a.Flush(ctx); err != nil {
			a.logger.ErrorContext(ctx, "merkle flush failed; will retry", "error", err)
		}
	}
}

// Pending returns how many sealed batches still await persistence.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// OpenLeaves returns the leaf count of the open batch.
func (a *Accumulator) OpenLeaves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return 0
	}
	return len(a.open.leaves)
}

// ProveInclusion returns the sibling path from entry seq to its batch root.
func (a *Accumulator) ProveInclusion(ctx context.Context, seq uint64) (*InclusionProof, error) {
	a.mu.Lock()
	if a.open != nil && seq >= a.open.start && seq < a.open.next() {
		a.mu.Unlock()
		return nil, ErrBatchOpen
	}
	for _, b := range a.pending {
		if b.Contains(seq) {
			a.mu.Unlock()
			return a.prove(b, seq)
		}
	}
	a.mu.Unlock()

	batch, err := a.store.GetBatchBySequence(ctx, seq)
	if err != nil {
		return nil, err
	}
	return a.prove(*batch, seq)
}

// VerifyInclusion recomputes the root from a proof.
func (a *Accumulator) VerifyInclusion(proof *InclusionProof) bool {
	if proof == nil {
		return false
	}
	return VerifyPath(a.hasher, proof.LeafHash, proof.Path, proof.Root)
}

// Recover rebuilds the open batch from committed entries after the last
// sealed batch, up to tailSeq.
func (a *Accumulator) Recover(ctx context.Context, loader EntryLoader, tailSeq uint64) error {
	start := uint64(1)
	last, err := a.store.LastBatch(ctx)
	switch {
	case err == nil:
		start = last.EndSeq + 1
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return fmt.Errorf("load last batch: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = a.newOpen(start)
	if tailSeq < start {
		return nil
	}
	entries, err := loader.LoadRange(ctx, start, tailSeq)
	if err != nil {
		return fmt.Errorf("load unsealed entries: %w", err)
	}
	for _, e := range entries {
		if e.Sequence != a.open.next() {
			return fmt.Errorf("%w: recovering at %d, got %d", ErrOutOfOrder, a.open.next(), e.Sequence)
		}
		a.open.leaves = append(a.open.leaves, e.ContentHash)
		if len(a.open.leaves) >= a.size {
			if _, err := a.sealLocked(); err != nil {
				return err
			}
		}
	}
	if len(entries) > 0 {
		a.logger.InfoContext(ctx, "merkle accumulator recovered",
			"open_start", a.open.start,
			"open_leaves", len(a.open.leaves),
			"pending", len(a.pending),
		)
	}
	return nil
}

// VerifyBatch recomputes a stored batch's root from its leaves and checks
// the checkpoint signature.
func (a *Accumulator) VerifyBatch(ctx context.Context, batch models.MerkleBatch) error {
	root, err := RootHex(a.hasher, batch.LeafHashes)
	if err != nil {
		return err
	}
	if root != batch.Root {
		return fmt.Errorf("batch %s root mismatch", batch.ID)
	}
	return VerifyCheckpoint(ctx, a.signer, batch)
}

func (a *Accumulator) newOpen(start uint64) *openBatch {
	return &openBatch{
		id:       uuid.NewString(),
		start:    start,
		openedAt: a.clock(),
	}
}

// sealLocked moves the open batch to pending with its root computed.
func (a *Accumulator) sealLocked() (models.MerkleBatch, error) {
	root, err := RootHex(a.hasher, a.open.leaves)
	if err != nil {
		return models.MerkleBatch{}, err
	}
	batch := models.MerkleBatch{
		ID:         a.open.id,
		StartSeq:   a.open.start,
		EndSeq:     a.open.next() - 1,
		LeafHashes: a.open.leaves,
		Root:       root,
		SealedAt:   a.clock().UTC().Truncate(time.Microsecond),
	}
	a.pending = append(a.pending, batch)
	a.open = a.newOpen(batch.EndSeq + 1)

	select {
	case a.sealed <- struct{}{}:
	default:
	}
	return batch, nil
}

// persistPending signs and stores sealed batches in order. A failure stops
// at that batch so checkpoints are stored in sequence.
func (a *Accumulator) persistPending(ctx context.Context) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	for {
		a.mu.Lock()
		if len(a.pending) == 0 {
			a.mu.Unlock()
			return nil
		}
		batch := a.pending[0]
		a.mu.Unlock()

		if batch.Checkpoint == "" {
			token, keyID, err := a.signer.IssueToken(ctx, claimsFor(batch, string(a.hasher.Algorithm())))
			if err != nil {
				a.metrics.IncSealFailures()
				return fmt.Errorf("sign checkpoint for batch %s: %w", batch.ID, err)
			}
			batch.Checkpoint = token
			batch.KeyID = keyID
			a.mu.Lock()
			a.pending[0] = batch
			a.mu.Unlock()
		}

		if err := a.store.SaveBatch(ctx, batch); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			a.metrics.IncSealFailures()
			return fmt.Errorf("save batch %s: %w", batch.ID, err)
		}

		a.mu.Lock()
		a.pending = a.pending[1:]
		a.mu.Unlock()
		a.metrics.IncBatchesSealed()
		a.logger.InfoContext(ctx, "merkle batch sealed",
			"batch_id", batch.ID,
			"start_seq", batch.StartSeq,
			"end_seq", batch.EndSeq,
			"root", batch.Root,
			"key_id", batch.KeyID,
		)
	}
}

func (a *Accumulator) prove(batch models.MerkleBatch, seq uint64) (*InclusionProof, error) {
	leaves, err := DecodeLeaves(batch.LeafHashes)
	if err != nil {
		return nil, err
	}
	idx := int(seq - batch.StartSeq)
	path, err := Path(a.hasher, leaves, idx)
	if err != nil {
		return nil, err
	}
	return &InclusionProof{
		Sequence:   seq,
		BatchID:    batch.ID,
		LeafIndex:  idx,
		LeafCount:  len(leaves),
		LeafHash:   batch.LeafHashes[idx],
		Path:       path,
		Root:       batch.Root,
		Checkpoint: batch.Checkpoint,
		KeyID:      batch.KeyID,
	}, nil
}
