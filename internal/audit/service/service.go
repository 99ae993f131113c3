// Package service is the append path of the audit log. Log validates an
// event, links it to the chain tail, signs and persists it under a single
// lock, then hands the committed entry to the Merkle accumulator, the
// pattern monitor and the asynchronous subscribers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"auditchain/internal/audit/clock"
	"auditchain/internal/audit/hashchain"
	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/monitor"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/sentinel"
)

const (
	defaultNotifyBuffer   = 1024
	defaultPersistTimeout = 10 * time.Second
)

var tracer = otel.Tracer("auditchain/service")

// Store is the durable storage collaborator. Persist must reject an entry
// whose sequence or previousHash does not extend the stored tail.
type Store interface {
	Persist(ctx context.Context, entry models.Entry) error
	LoadRange(ctx context.Context, start, end uint64) ([]models.Entry, error)
	LoadTail(ctx context.Context) (models.Tail, error)
	Query(ctx context.Context, filter models.Filter) ([]models.Entry, int, error)
}

// Signer signs a hex contentHash with the current key epoch.
type Signer interface {
	Sign(ctx context.Context, digest string) (models.Signature, error)
}

// Accumulator receives every committed entry in sequence order.
type Accumulator interface {
	Add(ctx context.Context, entry models.Entry) (merkle.BatchStatus, error)
}

// Evaluator decides a pattern verdict synchronously and carries it out later.
type Evaluator interface {
	Evaluate(entry models.Entry) monitor.Verdict
	Dispatch(ctx context.Context, entry models.Entry, verdict monitor.Verdict) error
}

// PolicyResolver supplies the retention period stamped on new entries that
// do not carry one.
type PolicyResolver interface {
	Policy(ctx context.Context, category models.Category) (models.RetentionPolicy, error)
}

// Subscriber is notified of committed entries off the append path. Notify
// must not block for long; slow work belongs behind the subscriber's own queue.
type Subscriber interface {
	Notify(ctx context.Context, entry models.Entry)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, entry models.Entry)

func (f SubscriberFunc) Notify(ctx context.Context, entry models.Entry) {
	f(ctx, entry)
}

// Receipt is returned for every committed entry.
type Receipt struct {
	EntryID     string          `json:"entryId"`
	Sequence    uint64          `json:"sequence"`
	ContentHash string          `json:"contentHash"`
	KeyID       string          `json:"keyId"`
	Verdict     monitor.Verdict `json:"verdict"`
	Blocked     bool            `json:"blocked"`
}

// Service is the audit logger.
type Service struct {
	store       Store
	signer      Signer
	hasher      *hashchain.Builder
	accumulator Accumulator
	monitor     Evaluator
	policies    PolicyResolver
	verifier    RangeVerifier
	subscribers []Subscriber

	notifyBuffer   int
	persistTimeout time.Duration
	clock          func() time.Time
	newID          func() string
	logger         *slog.Logger
	metrics        *metrics.Metrics

	appendMu sync.Mutex
	tail     models.Tail
	seq      *clock.Sequencer
	closed   bool

	notifier *notifier
}

type Option func(*Service)

func WithHasher(h *hashchain.Builder) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

func WithAccumulator(a Accumulator) Option {
	return func(s *Service) {
		s.accumulator = a
	}
}

func WithMonitor(m Evaluator) Option {
	return func(s *Service) {
		s.monitor = m
	}
}

func WithRetentionPolicies(p PolicyResolver) Option {
	return func(s *Service) {
		s.policies = p
	}
}

// WithVerifier enables integrity checks on query results.
func WithVerifier(v RangeVerifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

// WithSubscribers registers asynchronous subscribers, notified in order.
func WithSubscribers(subs ...Subscriber) Option {
	return func(s *Service) {
		s.subscribers = append(s.subscribers, subs...)
	}
}

// WithNotifyBuffer bounds the number of entries waiting for subscribers.
func WithNotifyBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.notifyBuffer = n
		}
	}
}

// WithPersistTimeout bounds a single storage write. The write is detached
// from the caller's context so a disconnecting client cannot abandon it
// halfway.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func WithClock(c func() time.Time) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New recovers the chain tail from store and starts the subscriber notifier.
func New(ctx context.Context, store Store, signer Signer, opts ...Option) (*Service, error) {
	if store == nil || signer == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "store and signer are required")
	}
	s := &Service{
		store:          store,
		signer:         signer,
		hasher:         hashchain.Default(),
		notifyBuffer:   defaultNotifyBuffer,
		persistTimeout: defaultPersistTimeout,
		clock:          clock.System,
		newID:          func() string { return uuid.NewString() },
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	tail, err := store.LoadTail(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load chain tail")
	}
	s.tail = tail
	s.seq = clock.NewSequencer(tail.Sequence)
	s.notifier = newNotifier(s.notifyBuffer, s.dispatch, s.logger, s.metrics)

	s.logger.InfoContext(ctx, "audit log opened",
		"tail_sequence", tail.Sequence,
		"hash_algorithm", string(s.hasher.Algorithm()),
	)
	return s, nil
}

// Tail returns the last committed chain position.
func (s *Service) Tail() models.Tail {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	return s.tail
}

// Log appends one event. On error nothing was committed and the tail is
// unchanged. Monitor alerts and subscriber notifications never fail a call.
func (s *Service) Log(ctx context.Context, spec models.EventSpec) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "audit.Log")
	defer span.End()
	start := time.Now()

	if err := spec.Validate(); err != nil {
		s.metrics.IncAppendFailure("validation")
		span.SetStatus(codes.Error, "invalid event")
		return nil, err
	}
	s.resolveRetention(ctx, &spec)
	span.SetAttributes(
		attribute.String("audit.category", string(spec.Category)),
		attribute.String("audit.event", spec.Event),
	)

	entry, err := s.append(ctx, s.newID(), spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("audit.sequence", int64(entry.Sequence)))

	var verdict monitor.Verdict
	if s.monitor != nil {
		verdict = s.monitor.Evaluate(entry)
	}
	s.notifier.publish(notification{entry: entry, verdict: verdict})

	s.metrics.IncEntriesAppended()
	s.metrics.ObserveAppendLatency(time.Since(start))

	return &Receipt{
		EntryID:     entry.ID,
		Sequence:    entry.Sequence,
		ContentHash: entry.ContentHash,
		KeyID:       entry.Signature.KeyID,
		Verdict:     verdict,
		Blocked:     verdict.Blocked(),
	}, nil
}

// append is the critical section. Sequence assignment, hashing, signing and
// persistence happen under appendMu so the chain never forks.
func (s *Service) append(ctx context.Context, id string, spec models.EventSpec) (models.Entry, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.closed {
		return models.Entry{}, dErrors.New(dErrors.CodeUnavailable, "audit log is closed")
	}

	entry := models.NewEntry(id, s.clock(), spec)
	entry.Sequence = s.seq.Next()
	entry, err := s.hasher.Seal(entry, s.tail.PreviousHash())
	if err != nil {
		s.metrics.IncAppendFailure("hashing")
		return models.Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash entry")
	}

	sig, err := s.signer.Sign(ctx, entry.ContentHash)
	if err != nil {
		s.metrics.IncAppendFailure("signing")
		s.logger.ErrorContext(ctx, "CRITICAL: audit entry signing failed",
			"sequence", entry.Sequence,
			"entry_id", entry.ID,
			"error", err,
		)
		return models.Entry{}, dErrors.Wrap(err, dErrors.CodeSigning, "failed to sign entry")
	}
	entry.Signature = sig

	if err := s.persist(ctx, entry); err != nil {
		s.metrics.IncAppendFailure("persistence")
		s.logger.ErrorContext(ctx, "CRITICAL: audit entry persistence failed",
			"sequence", entry.Sequence,
			"entry_id", entry.ID,
			"error", err,
		)
		if errors.Is(err, sentinel.ErrConflict) {
			s.resyncLocked(ctx)
		}
		return models.Entry{}, dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist entry")
	}

	if err := s.seq.Commit(entry.Sequence); err != nil {
		// Persisted but the in-memory sequencer disagrees; reload from storage.
		s.logger.ErrorContext(ctx, "sequencer out of step with storage", "error", err)
		s.resyncLocked(ctx)
	} else {
		s.tail = models.Tail{Sequence: entry.Sequence, Hash: entry.ContentHash}
	}

	if s.accumulator != nil {
		if _, err := s.accumulator.Add(ctx, entry); err != nil {
			s.logger.ErrorContext(ctx, "failed to add entry to merkle batch",
				"sequence", entry.Sequence,
				"error", err,
			)
		}
	}
	return entry, nil
}

// persist writes entry outside the caller's cancellation. When the store
// reports an error that is not a conflict, the write may still have
// committed, so the stored tail decides.
func (s *Service) persist(ctx context.Context, entry models.Entry) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	err := s.store.Persist(pctx, entry)
	if err == nil || errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	tail, terr := s.store.LoadTail(pctx)
	if terr != nil {
		s.logger.ErrorContext(ctx, "failed to read back chain tail", "error", terr)
		return err
	}
	if tail.Sequence == entry.Sequence && tail.Hash == entry.ContentHash {
		s.logger.WarnContext(ctx, "store reported a failed write that committed",
			"sequence", entry.Sequence,
			"error", err,
		)
		return nil
	}
	return err
}

// resyncLocked reloads the tail after storage rejected an append, typically
// because another writer extended the chain.
func (s *Service) resyncLocked(ctx context.Context) {
	tail, err := s.store.LoadTail(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reload chain tail", "error", err)
		return
	}
	if tail != s.tail {
		s.logger.WarnContext(ctx, "chain tail moved underneath the logger",
			"had_sequence", s.tail.Sequence,
			"stored_sequence", tail.Sequence,
		)
	}
	s.tail = tail
	s.seq = clock.NewSequencer(tail.Sequence)
}

func (s *Service) resolveRetention(ctx context.Context, spec *models.EventSpec) {
	if spec.Metadata.RetentionDays > 0 || s.policies == nil {
		return
	}
	policy, err := s.policies.Policy(ctx, spec.Category)
	if err != nil {
		s.logger.WarnContext(ctx, "retention policy lookup failed",
			"category", string(spec.Category),
			"error", err,
		)
		return
	}
	spec.Metadata.RetentionDays = policy.RetentionDays
}

// dispatch runs on the notifier goroutine.
func (s *Service) dispatch(ctx context.Context, n notification) {
	if s.monitor != nil && n.verdict.Matched {
		if err := s.monitor.Dispatch(ctx, n.entry, n.verdict); err != nil {
			s.logger.WarnContext(ctx, "pattern alert dispatch failed",
				"sequence", n.entry.Sequence,
				"error", err,
			)
		}
	}
	for _, sub := range s.subscribers {
		sub.Notify(ctx, n.entry)
	}
}

// Close rejects further appends and waits for queued notifications to be
// delivered, or for ctx to expire.
func (s *Service) Close(ctx context.Context) error {
	s.appendMu.Lock()
	if s.closed {
		s.appendMu.Unlock()
		return nil
	}
	s.closed = true
	s.appendMu.Unlock()

	if err := s.notifier.close(ctx); err != nil {
		return fmt.Errorf("drain notifications: %w", err)
	}
	return nil
}
