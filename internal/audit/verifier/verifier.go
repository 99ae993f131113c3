// Package verifier replays stored entries and reports every integrity
// violation it finds. It never repairs anything.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"auditchain/internal/audit/hashchain"
	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/signing"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/sentinel"
)

const (
	defaultPageSize    = 500
	defaultConcurrency = 8
)

var tracer = otel.Tracer("auditchain/verifier")

// Reader exposes committed entries only.
type Reader interface {
	LoadRange(ctx context.Context, start, end uint64) ([]models.Entry, error)
	LoadTail(ctx context.Context) (models.Tail, error)
}

// SignatureVerifier checks a signature against the key epoch it names.
type SignatureVerifier interface {
	Verify(ctx context.Context, digest string, sig models.Signature) (bool, error)
}

// BatchSource lists sealed Merkle batches overlapping a range.
type BatchSource interface {
	ListBatches(ctx context.Context, startSeq, endSeq uint64) ([]models.MerkleBatch, error)
}

// RedactionSource resolves the deletion request a tombstone names.
type RedactionSource interface {
	GetRequest(ctx context.Context, id string) (*models.DeletionRequest, error)
}

// Verifier replays a sequence range. Safe for concurrent use; each run
// keeps its own state.
type Verifier struct {
	reader      Reader
	signatures  SignatureVerifier
	hasher      *hashchain.Builder
	batches     BatchSource
	checkpoints merkle.Checkpointer
	redactions  RedactionSource
	pageSize    int
	concurrency int
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Verifier)

// WithBatches also checks sealed batches that lie fully inside the range.
func WithBatches(source BatchSource, checkpoints merkle.Checkpointer) Option {
	return func(v *Verifier) {
		v.batches = source
		v.checkpoints = checkpoints
	}
}

// WithRedactions authenticates tombstones against executed, signed deletion
// requests. Without it every tombstone is reported as a HashMismatch.
func WithRedactions(source RedactionSource) Option {
	return func(v *Verifier) {
		v.redactions = source
	}
}

func WithPageSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// WithConcurrency bounds parallel hash and signature checks within a page.
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(v *Verifier) {
		v.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func New(reader Reader, signatures SignatureVerifier, hasher *hashchain.Builder, opts ...Option) *Verifier {
	v := &Verifier{
		reader:      reader,
		signatures:  signatures,
		hasher:      hasher,
		pageSize:    defaultPageSize,
		concurrency: defaultConcurrency,
		clock:       time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// checked is the per-entry result of the parallel phase.
type checked struct {
	entry    models.Entry
	hash     string
	hashErr  error
	sigValid bool
	sigErr   error

	// redaction is non-empty when a tombstone cannot be authenticated.
	redaction string
}

// run carries the sequential state of one VerifyRange call.
type run struct {
	report   *Report
	expected uint64
	prevHash string
	havePrev bool
	leaves   map[uint64]string
}

// VerifyRange checks entries start..end inclusive. end 0 means the current
// tail. A cancelled ctx stops between pages and returns the partial report
// with Aborted set.
func (v *Verifier) VerifyRange(ctx context.Context, start, end uint64) (*Report, error) {
	ctx, span := tracer.Start(ctx, "audit.VerifyRange")
	defer span.End()

	report := &Report{StartedAt: v.clock().UTC(), Violations: []Violation{}}
	tail, err := v.reader.LoadTail(ctx)
	if err != nil {
		v.metrics.IncVerificationRun("error")
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load chain tail")
	}
	if start == 0 {
		start = 1
	}
	if end == 0 || end > tail.Sequence {
		end = tail.Sequence
	}
	report.Start, report.End = start, end
	span.SetAttributes(attribute.Int64("audit.start", int64(start)), attribute.Int64("audit.end", int64(end)))

	if start > end {
		report.Valid = true
		report.CompletedAt = v.clock().UTC()
		v.metrics.IncVerificationRun("valid")
		return report, nil
	}

	r := &run{report: report, expected: start}
	if v.batches != nil {
		r.leaves = make(map[uint64]string)
	}
	if err := v.loadPredecessor(ctx, r, start); err != nil {
		v.metrics.IncVerificationRun("error")
		return nil, err
	}

	for pageStart := start; pageStart <= end; {
		if err := ctx.Err(); err != nil {
			return v.abort(ctx, report, err)
		}
		pageEnd := pageStart + uint64(v.pageSize) - 1
		if pageEnd > end || pageEnd < pageStart {
			pageEnd = end
		}
		entries, err := v.reader.LoadRange(ctx, pageStart, pageEnd)
		if err != nil {
			v.metrics.IncVerificationRun("error")
			span.RecordError(err)
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load entries")
		}
		results, err := v.checkPage(ctx, entries)
		if err != nil {
			if ctx.Err() != nil {
				return v.abort(ctx, report, ctx.Err())
			}
			v.metrics.IncVerificationRun("error")
			span.RecordError(err)
			return nil, err
		}
		for _, c := range results {
			v.evaluate(r, c)
		}
		if pageEnd == end {
			break
		}
		pageStart = pageEnd + 1
	}

	if r.expected <= end {
		report.add(Violation{
			Sequence: r.expected,
			Kind:     KindSequenceGap,
			Detail:   fmt.Sprintf("entries %d..%d missing", r.expected, end),
		})
	}

	if v.batches != nil {
		if err := v.verifyBatches(ctx, r, start, end); err != nil {
			v.metrics.IncVerificationRun("error")
			return nil, err
		}
	}

	report.Valid = len(report.Violations) == 0
	report.CompletedAt = v.clock().UTC()
	v.finish(ctx, report)
	if !report.Valid {
		span.SetStatus(codes.Error, "integrity violations found")
	}
	return report, nil
}

func (v *Verifier) loadPredecessor(ctx context.Context, r *run, start uint64) error {
	if start == 1 {
		r.prevHash = models.GenesisHash
		r.havePrev = true
		return nil
	}
	prev, err := v.reader.LoadRange(ctx, start-1, start-1)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load predecessor entry")
	}
	if len(prev) == 0 {
		// No anchor; the first entry's link cannot be checked.
		return nil
	}
	hash, err := v.entryHash(prev[0])
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash predecessor entry")
	}
	r.prevHash = hash
	r.havePrev = true
	return nil
}

// checkPage recomputes hashes and verifies signatures in parallel.
func (v *Verifier) checkPage(ctx context.Context, entries []models.Entry) ([]checked, error) {
	results := make([]checked, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i := range entries {
		g.Go(func() error {
			e := entries[i]
			c := checked{entry: e}
			c.hash, c.hashErr = v.entryHash(e)
			c.sigValid, c.sigErr = v.signatures.Verify(gctx, e.ContentHash, e.Signature)
			if c.sigErr != nil && !errors.Is(c.sigErr, signing.ErrUnknownKey) {
				return dErrors.Wrap(c.sigErr, dErrors.CodeSigning,
					fmt.Sprintf("failed to verify signature of entry %d", e.Sequence))
			}
			if e.IsRedacted() {
				detail, err := v.checkRedaction(gctx, e)
				if err != nil {
					return err
				}
				c.redaction = detail
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluate applies the ordered per-entry checks.
func (v *Verifier) evaluate(r *run, c checked) {
	e := c.entry
	report := r.report
	report.Checked++
	if e.IsRedacted() {
		report.Redacted++
	}

	linked := r.havePrev
	switch {
	case e.Sequence < r.expected:
		report.add(Violation{
			Sequence: e.Sequence,
			Kind:     KindSequenceGap,
			Detail:   fmt.Sprintf("entry %d is out of order or duplicated, expected %d", e.Sequence, r.expected),
		})
		linked = false
	case e.Sequence > r.expected:
		report.add(Violation{
			Sequence: r.expected,
			Kind:     KindSequenceGap,
			Detail:   fmt.Sprintf("entries %d..%d missing", r.expected, e.Sequence-1),
		})
		linked = false
	}

	if c.hashErr != nil {
		report.add(Violation{
			Sequence: e.Sequence,
			Kind:     KindHashMismatch,
			Detail:   fmt.Sprintf("entry cannot be canonicalized: %v", c.hashErr),
			Expected: e.ContentHash,
		})
	} else if c.hash != e.ContentHash {
		report.add(Violation{
			Sequence: e.Sequence,
			Kind:     KindHashMismatch,
			Detail:   "recomputed hash differs from stored contentHash",
			Expected: e.ContentHash,
			Actual:   c.hash,
		})
	}

	if c.redaction != "" {
		report.add(Violation{
			Sequence: e.Sequence,
			Kind:     KindHashMismatch,
			Detail:   c.redaction,
			Expected: e.ContentHash,
			Actual:   e.Redaction.RequestID,
		})
	}

	if !c.sigValid {
		detail := "signature does not verify against its key epoch"
		if c.sigErr != nil {
			detail = c.sigErr.Error()
		}
		report.add(Violation{
			Sequence: e.Sequence,
			Kind:     KindInvalidSignature,
			Detail:   detail,
			Actual:   e.Signature.KeyID,
		})
	}

	if linked && e.PreviousHash != r.prevHash {
		report.add(Violation{
			Sequence: e.Sequence,
			Kind:     KindChainBroken,
			Detail:   "previousHash does not match the prior entry's recomputed hash",
			Expected: r.prevHash,
			Actual:   e.PreviousHash,
		})
	}

	if c.hashErr == nil {
		r.prevHash = c.hash
	} else {
		r.prevHash = e.ContentHash
	}
	r.havePrev = true
	if e.Sequence >= r.expected {
		r.expected = e.Sequence + 1
	}
	if r.leaves != nil {
		r.leaves[e.Sequence] = e.ContentHash
	}
}

// verifyBatches recomputes roots from the stored entry hashes for batches
// fully inside start..end and checks their checkpoint tokens.
func (v *Verifier) verifyBatches(ctx context.Context, r *run, start, end uint64) error {
	batches, err := v.batches.ListBatches(ctx, start, end)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to list merkle batches")
	}
	for _, b := range batches {
		if b.StartSeq < start || b.EndSeq > end {
			continue
		}
		r.report.Batches++
		leaves := make([]string, 0, b.EndSeq-b.StartSeq+1)
		complete := true
		for seq := b.StartSeq; seq <= b.EndSeq; seq++ {
			h, ok := r.leaves[seq]
			if !ok {
				complete = false
				break
			}
			leaves = append(leaves, h)
		}
		if complete {
			root, err := merkle.RootHex(v.hasher, leaves)
			if err != nil || root != b.Root {
				r.report.add(Violation{
					Sequence: b.StartSeq,
					Kind:     KindBatchRootMismatch,
					Detail:   "root recomputed from stored entries differs from sealed root",
					Expected: b.Root,
					Actual:   root,
					BatchID:  b.ID,
				})
			}
		}
		if v.checkpoints != nil {
			if err := merkle.VerifyCheckpoint(ctx, v.checkpoints, b); err != nil {
				r.report.add(Violation{
					Sequence: b.StartSeq,
					Kind:     KindInvalidCheckpoint,
					Detail:   err.Error(),
					Actual:   b.KeyID,
					BatchID:  b.ID,
				})
			}
		}
	}
	return nil
}

func (v *Verifier) entryHash(e models.Entry) (string, error) {
	// A tombstone keeps its original hash; the payload that produced it is gone.
	if e.IsRedacted() {
		return e.ContentHash, nil
	}
	return v.hasher.ComputeHash(e)
}

// checkRedaction returns a violation detail when e is not a tombstone left by
// an executed deletion request signed by the log. The returned error is
// reserved for storage and signing failures.
func (v *Verifier) checkRedaction(ctx context.Context, e models.Entry) (string, error) {
	if !e.IsTombstone() {
		return "redacted entry still carries payload fields", nil
	}
	if v.redactions == nil {
		return "redaction cannot be authenticated", nil
	}
	req, err := v.redactions.GetRequest(ctx, e.Redaction.RequestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Sprintf("deletion request %q does not exist", e.Redaction.RequestID), nil
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodePersistence,
			fmt.Sprintf("failed to load deletion request of entry %d", e.Sequence))
	}
	switch {
	case req.State != models.DeletionExecuted:
		return fmt.Sprintf("deletion request %s is %s", req.ID, req.State), nil
	case req.Category != e.Category || !req.Covers(e.Sequence):
		return fmt.Sprintf("deletion request %s does not cover this entry", req.ID), nil
	case req.Signature.IsZero():
		return fmt.Sprintf("deletion request %s is not signed", req.ID), nil
	}
	ok, err := v.signatures.Verify(ctx, req.Digest(), req.Signature)
	if err != nil && !errors.Is(err, signing.ErrUnknownKey) {
		return "", dErrors.Wrap(err, dErrors.CodeSigning,
			fmt.Sprintf("failed to verify deletion request %s", req.ID))
	}
	if !ok {
		return fmt.Sprintf("deletion request %s signature does not verify", req.ID), nil
	}
	return "", nil
}

func (v *Verifier) abort(ctx context.Context, report *Report, cause error) (*Report, error) {
	report.Aborted = true
	report.Valid = false
	report.CompletedAt = v.clock().UTC()
	v.metrics.IncVerificationRun("aborted")
	v.logger.WarnContext(ctx, "integrity verification aborted",
		"start", report.Start,
		"end", report.End,
		"checked", report.Checked,
		"error", cause,
	)
	return report, dErrors.Wrap(cause, dErrors.CodeTimeout, "verification cancelled")
}

func (v *Verifier) finish(ctx context.Context, report *Report) {
	if report.Valid {
		v.metrics.IncVerificationRun("valid")
		v.logger.InfoContext(ctx, "integrity verification passed",
			"start", report.Start,
			"end", report.End,
			"checked", report.Checked,
			"redacted", report.Redacted,
		)
		return
	}
	v.metrics.IncVerificationRun("violations")
	for _, viol := range report.Violations {
		v.metrics.IncViolation(string(viol.Kind))
		v.logger.ErrorContext(ctx, "CRITICAL: integrity violation",
			"sequence", viol.Sequence,
			"kind", viol.Kind,
			"level", viol.Level,
			"detail", viol.Detail,
		)
	}
}
