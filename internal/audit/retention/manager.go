// Package retention applies category retention policies and legal holds.
// Expired entries are grouped into deletion requests that only execute after
// a minimum number of independent confirmations.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/sentinel"
)

const (
	DefaultRetentionDays    = 365
	DefaultMinConfirmations = 2
	DefaultSweepInterval    = time.Hour
	DefaultSweepLimit       = 1000

	// maxRequestGenerations bounds how many closed requests may already hold
	// the ID derived for one entry set.
	maxRequestGenerations = 64

	day = 24 * time.Hour
)

var tracer = otel.Tracer("auditchain/retention")

// requestNamespace seeds deterministic deletion request IDs.
var requestNamespace = uuid.MustParse("8a4f2c51-7d0e-4b8e-9c35-2e61d0f4a9b7")

// Signer signs executed deletion requests so verification can tell a
// retention tombstone from a forged one.
type Signer interface {
	Sign(ctx context.Context, digest string) (models.Signature, error)
}

// Manager owns retention policy lookups, sweeps and confirmed deletions.
type Manager struct {
	policies      PolicyStore
	entries       EntryStore
	requests      RequestStore
	confirmations ConfirmationStore
	archiver      Archiver
	signer        Signer

	defaultDays      int
	minConfirmations int
	sweepInterval    time.Duration
	sweepLimit       int

	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Manager)

func WithArchiver(a Archiver) Option {
	return func(m *Manager) {
		m.archiver = a
	}
}

// WithSigner enables execution. Without a signer confirmed requests fail
// with CodeUnavailable and nothing is redacted.
func WithSigner(signer Signer) Option {
	return func(m *Manager) {
		m.signer = signer
	}
}

func WithConfirmationStore(s ConfirmationStore) Option {
	return func(m *Manager) {
		m.confirmations = s
	}
}

func WithDefaultDays(days int) Option {
	return func(m *Manager) {
		if days > 0 {
			m.defaultDays = days
		}
	}
}

func WithMinConfirmations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.minConfirmations = n
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithSweepLimit caps how many entries one sweep gathers per category.
func WithSweepLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sweepLimit = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func New(policies PolicyStore, entries EntryStore, requests RequestStore, opts ...Option) *Manager {
	m := &Manager{
		policies:         policies,
		entries:          entries,
		requests:         requests,
		defaultDays:      DefaultRetentionDays,
		minConfirmations: DefaultMinConfirmations,
		sweepInterval:    DefaultSweepInterval,
		sweepLimit:       DefaultSweepLimit,
		clock:            time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.confirmations == nil {
		m.confirmations = NewMemoryConfirmationStore()
	}
	return m
}

// MinConfirmations returns how many distinct confirmers a deletion needs.
func (m *Manager) MinConfirmations() int {
	return m.minConfirmations
}

// =============================================================================
// Policies
// =============================================================================

// SetPolicy replaces category's policy. Turning a legal hold on cancels
// pending deletion requests for the category.
func (m *Manager) SetPolicy(ctx context.Context, category models.Category, days int, legalHold bool) (*models.RetentionPolicy, error) {
	category = models.Category(strings.TrimSpace(string(category)))
	if category == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "category is required")
	}
	if days <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "retentionDays must be positive")
	}
	policy := models.RetentionPolicy{
		Category:      category,
		RetentionDays: days,
		LegalHold:     legalHold,
		UpdatedAt:     m.clock().UTC().Truncate(time.Microsecond),
	}
	if err := m.policies.SetPolicy(ctx, policy); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to save retention policy")
	}
	m.logger.InfoContext(ctx, "retention policy updated",
		"category", category,
		"retention_days", days,
		"legal_hold", legalHold,
	)
	if legalHold {
		if err := m.cancelPending(ctx, category); err != nil {
			return nil, err
		}
	}
	return &policy, nil
}

// Policy returns category's policy, or the default when none is stored.
func (m *Manager) Policy(ctx context.Context, category models.Category) (models.RetentionPolicy, error) {
	p, err := m.policies.GetPolicy(ctx, category)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.RetentionPolicy{Category: category, RetentionDays: m.defaultDays}, nil
	}
	if err != nil {
		return models.RetentionPolicy{}, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load retention policy")
	}
	return *p, nil
}

// Policies lists stored policies.
func (m *Manager) Policies(ctx context.Context) ([]models.RetentionPolicy, error) {
	out, err := m.policies.ListPolicies(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list retention policies")
	}
	return out, nil
}

// EffectiveDays is the longer of the policy period and the entry's own
// metadata retention.
func EffectiveDays(policy models.RetentionPolicy, entry models.Entry) int {
	if entry.Metadata.RetentionDays > policy.RetentionDays {
		return entry.Metadata.RetentionDays
	}
	return policy.RetentionDays
}

// ExpiresAt returns the instant after which entry may be deleted.
func ExpiresAt(policy models.RetentionPolicy, entry models.Entry) time.Time {
	return entry.Timestamp.Add(time.Duration(EffectiveDays(policy, entry)) * day)
}

// IsEligible reports whether entry may be deleted at now. A legal hold
// keeps every entry of the category ineligible.
func IsEligible(policy models.RetentionPolicy, entry models.Entry, now time.Time) bool {
	if policy.LegalHold || entry.IsRedacted() {
		return false
	}
	return now.After(ExpiresAt(policy, entry))
}

// State returns entry's position in the retention lifecycle at now.
func (m *Manager) State(ctx context.Context, entry models.Entry, now time.Time) (models.EntryState, error) {
	if entry.IsRedacted() {
		if entry.Redaction.Archived {
			return models.EntryArchived, nil
		}
		return models.EntryDeleted, nil
	}
	policy, err := m.Policy(ctx, entry.Category)
	if err != nil {
		return "", err
	}
	if !IsEligible(policy, entry, now) {
		return models.EntryActive, nil
	}
	pending, err := m.pendingSequences(ctx, entry.Category)
	if err != nil {
		return "", err
	}
	if pending[entry.Sequence] {
		return models.EntryPendingConfirmation, nil
	}
	return models.EntryEligibleForDeletion, nil
}

// Notify is the asynchronous subscriber hook. It only records the entry's
// retention horizon; deletion happens in sweeps.
func (m *Manager) Notify(ctx context.Context, entry models.Entry) {
	policy, err := m.Policy(ctx, entry.Category)
	if err != nil {
		m.logger.WarnContext(ctx, "retention policy lookup failed", "sequence", entry.Sequence, "error", err)
		return
	}
	m.logger.DebugContext(ctx, "retention tagged",
		"sequence", entry.Sequence,
		"category", entry.Category,
		"expires_at", ExpiresAt(policy, entry),
		"legal_hold", policy.LegalHold,
	)
}

// =============================================================================
// Sweeps
// =============================================================================

// Sweep opens a pending deletion request per category holding expired
// entries not already pending. Legal-hold categories are skipped.
func (m *Manager) Sweep(ctx context.Context) ([]models.DeletionRequest, error) {
	ctx, span := tracer.Start(ctx, "audit.RetentionSweep")
	defer span.End()

	now := m.clock().UTC()
	categories, err := m.entries.Categories(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list categories")
	}
	m.metrics.IncRetentionSweeps()

	var opened []models.DeletionRequest
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return opened, err
		}
		req, err := m.sweepCategory(ctx, category, now)
		if err != nil {
			return opened, err
		}
		if req != nil {
			opened = append(opened, *req)
		}
	}
	span.SetAttributes(attribute.Int("audit.requests_opened", len(opened)))
	return opened, nil
}

func (m *Manager) sweepCategory(ctx context.Context, category models.Category, now time.Time) (*models.DeletionRequest, error) {
	policy, err := m.Policy(ctx, category)
	if err != nil {
		return nil, err
	}
	if policy.LegalHold {
		m.metrics.IncLegalHoldSkips()
		m.logger.InfoContext(ctx, "retention sweep skipped category under legal hold", "category", category)
		return nil, nil
	}
	cutoff := now.Add(-time.Duration(policy.RetentionDays) * day)
	pending, err := m.pendingSequences(ctx, category)
	if err != nil {
		return nil, err
	}
	seqs, err := m.collectEligible(ctx, policy, cutoff, now, pending)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}

	req := models.DeletionRequest{
		Category:  category,
		Sequences: seqs,
		Cutoff:    cutoff,
		State:     models.DeletionPending,
		CreatedAt: now.Truncate(time.Microsecond),
		UpdatedAt: now.Truncate(time.Microsecond),
	}
	if err := m.openRequest(ctx, &req); err != nil {
		return nil, err
	}
	m.metrics.IncDeletionRequest(string(models.DeletionPending))
	m.logger.InfoContext(ctx, "deletion request opened",
		"request_id", req.ID,
		"category", category,
		"entries", len(seqs),
		"confirmations_required", m.minConfirmations,
	)
	return &req, nil
}

// collectEligible pages through expired candidates until sweepLimit entries
// are gathered. Entries kept longer by their own metadata, or already
// pending, are skipped without counting against the limit.
func (m *Manager) collectEligible(ctx context.Context, policy models.RetentionPolicy, cutoff, now time.Time, pending map[uint64]bool) ([]uint64, error) {
	var seqs []uint64
	var after uint64
	for len(seqs) < m.sweepLimit {
		page, err := m.entries.ListExpired(ctx, policy.Category, cutoff, after, m.sweepLimit)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list expired entries")
		}
		for _, e := range page {
			after = e.Sequence
			if pending[e.Sequence] || !IsEligible(policy, e, now) {
				continue
			}
			seqs = append(seqs, e.Sequence)
			if len(seqs) == m.sweepLimit {
				break
			}
		}
		if len(page) < m.sweepLimit {
			break
		}
	}
	return seqs, nil
}

// openRequest saves req under the first generation of its derived ID that no
// closed request holds. A cancelled request is never reopened; its entries get
// a fresh request with its own confirmations.
func (m *Manager) openRequest(ctx context.Context, req *models.DeletionRequest) error {
	for gen := 0; gen < maxRequestGenerations; gen++ {
		req.ID = requestID(req.Category, req.Sequences, gen)
		err := m.requests.SaveRequest(ctx, *req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to save deletion request")
		}
		m.logger.DebugContext(ctx, "deletion request id held by a closed request",
			"request_id", req.ID,
			"generation", gen,
		)
	}
	return dErrors.New(dErrors.CodeConflict,
		fmt.Sprintf("no free deletion request id for %d entries of %s", len(req.Sequences), req.Category))
}

// Run sweeps on the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}

// =============================================================================
// Confirmation and execution
// =============================================================================

// Confirm records confirmer's approval. The request executes once the
// distinct confirmer count reaches the configured minimum.
func (m *Manager) Confirm(ctx context.Context, requestID, confirmer string) (*models.DeletionRequest, error) {
	confirmer = strings.TrimSpace(confirmer)
	if confirmer == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "confirmer is required")
	}
	req, err := m.requests.GetRequest(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "deletion request not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load deletion request")
	}
	if req.State.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("deletion request is %s", req.State))
	}

	count, err := m.confirmations.AddConfirmation(ctx, req.ID, confirmer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to record confirmation")
	}
	m.logger.InfoContext(ctx, "deletion request confirmed",
		"request_id", req.ID,
		"confirmer", confirmer,
		"confirmations", count,
		"required", m.minConfirmations,
	)
	if count < m.minConfirmations {
		return req, nil
	}
	return m.execute(ctx, *req)
}

// Confirmations returns the distinct confirmer count for a request.
func (m *Manager) Confirmations(ctx context.Context, requestID string) (int, error) {
	n, err := m.confirmations.Count(ctx, requestID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "failed to count confirmations")
	}
	return n, nil
}

// Requests lists deletion requests in state, or all when state is empty.
func (m *Manager) Requests(ctx context.Context, state models.DeletionState) ([]models.DeletionRequest, error) {
	out, err := m.requests.ListRequests(ctx, state)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list deletion requests")
	}
	return out, nil
}

func (m *Manager) execute(ctx context.Context, req models.DeletionRequest) (*models.DeletionRequest, error) {
	if m.signer == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "deletion signing is not configured")
	}
	now := m.clock().UTC().Truncate(time.Microsecond)
	policy, err := m.Policy(ctx, req.Category)
	if err != nil {
		return nil, err
	}
	if policy.LegalHold {
		req.State = models.DeletionCancelled
		req.UpdatedAt = now
		if err := m.requests.SaveRequest(ctx, req); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to cancel deletion request")
		}
		m.metrics.IncDeletionRequest(string(models.DeletionCancelled))
		m.logger.WarnContext(ctx, "deletion request cancelled by legal hold",
			"request_id", req.ID,
			"category", req.Category,
		)
		return &req, nil
	}

	entries, err := m.loadRequested(ctx, req)
	if err != nil {
		return nil, err
	}

	req.State = models.DeletionExecuted
	sig, err := m.signer.Sign(ctx, req.Digest())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "failed to sign deletion request")
	}
	req.Signature = sig

	if m.archiver != nil && len(entries) > 0 {
		if err := m.archiver.Archive(ctx, req, entries); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to archive entries")
		}
		req.Archived = true
	}

	seqs := make([]uint64, len(entries))
	for i, e := range entries {
		seqs[i] = e.Sequence
	}
	n, err := m.entries.Redact(ctx, seqs, models.Redaction{RequestID: req.ID, At: now, Archived: req.Archived})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to delete entries")
	}

	req.UpdatedAt = now
	if err := m.requests.SaveRequest(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to save deletion request")
	}
	m.metrics.IncDeletionRequest(string(models.DeletionExecuted))
	m.metrics.AddEntriesDeleted(n)
	m.logger.InfoContext(ctx, "deletion request executed",
		"request_id", req.ID,
		"category", req.Category,
		"deleted", n,
		"archived", req.Archived,
	)
	return &req, nil
}

// loadRequested returns the request's entries that are still unredacted.
func (m *Manager) loadRequested(ctx context.Context, req models.DeletionRequest) ([]models.Entry, error) {
	if len(req.Sequences) == 0 {
		return nil, nil
	}
	want := make(map[uint64]bool, len(req.Sequences))
	lo, hi := req.Sequences[0], req.Sequences[0]
	for _, seq := range req.Sequences {
		want[seq] = true
		if seq < lo {
			lo = seq
		}
		if seq > hi {
			hi = seq
		}
	}
	loaded, err := m.entries.LoadRange(ctx, lo, hi)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load entries for deletion")
	}
	var out []models.Entry
	for _, e := range loaded {
		if want[e.Sequence] && !e.IsRedacted() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Manager) cancelPending(ctx context.Context, category models.Category) error {
	pending, err := m.requests.ListRequests(ctx, models.DeletionPending)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to list deletion requests")
	}
	now := m.clock().UTC().Truncate(time.Microsecond)
	for _, req := range pending {
		if req.Category != category {
			continue
		}
		req.State = models.DeletionCancelled
		req.UpdatedAt = now
		if err := m.requests.SaveRequest(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to cancel deletion request")
		}
		m.metrics.IncDeletionRequest(string(models.DeletionCancelled))
		m.logger.InfoContext(ctx, "deletion request cancelled by legal hold", "request_id", req.ID)
	}
	return nil
}

func (m *Manager) pendingSequences(ctx context.Context, category models.Category) (map[uint64]bool, error) {
	pending, err := m.requests.ListRequests(ctx, models.DeletionPending)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list deletion requests")
	}
	out := make(map[uint64]bool)
	for _, req := range pending {
		if req.Category != category {
			continue
		}
		for _, seq := range req.Sequences {
			out[seq] = true
		}
	}
	return out, nil
}

// requestID derives a stable ID from the category, the exact entry set and
// a generation, so a retried sweep reuses the pending request while entries
// whose request was cancelled get a new one.
func requestID(category models.Category, seqs []uint64, generation int) string {
	sorted := append([]uint64(nil), seqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	b.WriteString(string(category))
	for _, seq := range sorted {
		fmt.Fprintf(&b, ":%d", seq)
	}
	if generation > 0 {
		fmt.Fprintf(&b, "#%d", generation)
	}
	return uuid.NewSHA1(requestNamespace, []byte(b.String())).String()
}
