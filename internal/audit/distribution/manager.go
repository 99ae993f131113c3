// Package distribution forwards committed entries to external sinks on a
// best-effort basis. A slow or failing sink never blocks the append path:
// batches queue per sink, overflow drops the oldest batch and every loss is
// counted.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/circuit"
)

var tracer = otel.Tracer("auditchain/distribution")

// Drop reasons used for the dropped-batches counter.
const (
	DropOverflow         = "overflow"
	DropRetriesExhausted = "retries_exhausted"
	DropPermanent        = "permanent"
	DropClosed           = "closed"
)

const defaultTick = 100 * time.Millisecond

// SinkConfig tunes batching and delivery for one sink.
type SinkConfig struct {
	BatchSize        int
	BatchTimeout     time.Duration
	QueueCapacity    int
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	SendTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Rules            []FilterRule
}

// DefaultSinkConfig returns the settings used for zero-valued fields.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		BatchSize:        100,
		BatchTimeout:     5 * time.Second,
		QueueCapacity:    defaultQueueCapacity,
		MaxRetries:       5,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		SendTimeout:      10 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

func (c SinkConfig) withDefaults() SinkConfig {
	d := DefaultSinkConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	return c
}

// Stats is a point-in-time snapshot of one sink's counters.
type Stats struct {
	Sink           string        `json:"sink"`
	Enqueued       int64         `json:"enqueued"`
	Filtered       int64         `json:"filtered"`
	Delivered      int64         `json:"delivered"`
	Retries        int64         `json:"retries"`
	DroppedBatches int64         `json:"dropped_batches"`
	DroppedEntries int64         `json:"dropped_entries"`
	Queued         int           `json:"queued_batches"`
	Pending        int           `json:"pending_entries"`
	BreakerState   circuit.State `json:"breaker_state"`
}

type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithTick sets how often workers check for timed-out batches.
func WithTick(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.tick = d
		}
	}
}

// Manager fans entries out to registered sinks.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*worker
	order   []string
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tick    time.Duration
	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(opts ...Option) *Manager {
	m := &Manager{
		workers: make(map[string]*worker),
		tick:    defaultTick,
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSink registers a sink. Sinks cannot be added after Start.
func (m *Manager) AddSink(sink Sink, cfg SinkConfig) error {
	if sink == nil || sink.Name() == "" {
		return dErrors.New(dErrors.CodeValidation, "sink must have a name")
	}
	for _, r := range cfg.Rules {
		if err := r.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("sink %s filter", sink.Name()))
		}
	}
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.closed {
		return dErrors.New(dErrors.CodeConflict, "distribution manager already started")
	}
	if _, ok := m.workers[sink.Name()]; ok {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("sink %s already registered", sink.Name()))
	}
	m.workers[sink.Name()] = &worker{
		sink: sink,
		cfg:  cfg,
		ring: newBatchRing(cfg.QueueCapacity),
		breaker: circuit.New(sink.Name(),
			circuit.WithFailureThreshold(cfg.BreakerThreshold),
			circuit.WithCooldown(cfg.BreakerCooldown),
			circuit.WithClock(m.clock),
		),
		wake: make(chan struct{}, 1),
		m:    m,
	}
	m.order = append(m.order, sink.Name())
	return nil
}

// Sinks returns registered sink names in registration order.
func (m *Manager) Sinks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Start launches one delivery worker per sink. Workers stop when ctx is
// cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.closed {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	for _, name := range m.order {
		w := m.workers[name]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.run(ctx, m.tick)
		}()
	}
}

// Enqueue routes entry to every sink whose filters admit it. It never
// blocks on delivery and never fails.
func (m *Manager) Enqueue(entry models.Entry) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	now := m.clock()
	for _, name := range m.order {
		m.workers[name].accept(entry, now)
	}
}

// Notify adapts Enqueue to the logger's subscriber signature.
func (m *Manager) Notify(_ context.Context, entry models.Entry) {
	m.Enqueue(entry)
}

// Stats returns the counters for one sink.
func (m *Manager) Stats(name string) (Stats, error) {
	m.mu.RLock()
	w, ok := m.workers[name]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("sink %s not registered", name))
	}
	return w.stats(), nil
}

// AllStats returns counters for every sink, sorted by name.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.stats())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Sink < out[j].Sink })
	return out
}

// Close stops the workers and makes a single delivery attempt for whatever
// is still pending. Batches that fail this attempt are dropped and counted.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()

	var errs []error
	for _, name := range m.order {
		if err := m.workers[name].flushOnce(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return dErrors.Wrap(errors.Join(errs...), dErrors.CodeDistribution, "final flush incomplete")
	}
	return nil
}

// =============================================================================
// Per-sink worker
// =============================================================================

type worker struct {
	sink    Sink
	cfg     SinkConfig
	ring    *batchRing
	breaker *circuit.Breaker
	wake    chan struct{}
	m       *Manager

	mu           sync.Mutex
	pending      []models.Entry
	pendingSince time.Time

	enqueued  atomic.Int64
	filtered  atomic.Int64
	delivered atomic.Int64
	retries   atomic.Int64
	failed    atomic.Int64 // batches dropped after delivery gave up
	failedN   atomic.Int64
}

func (w *worker) accept(e models.Entry, now time.Time) {
	name := w.sink.Name()
	if !Allowed(w.cfg.Rules, e) {
		w.filtered.Add(1)
		w.m.metrics.IncSinkFiltered(name)
		return
	}
	w.enqueued.Add(1)
	w.m.metrics.IncSinkEnqueued(name)

	w.mu.Lock()
	if len(w.pending) == 0 {
		w.pendingSince = now
	}
	w.pending = append(w.pending, e)
	var full []models.Entry
	if len(w.pending) >= w.cfg.BatchSize {
		full = w.pending
		w.pending = nil
	}
	w.mu.Unlock()

	if full != nil {
		w.push(full)
		w.signal()
	}
}

// push queues a sealed batch, recording any batch evicted by overflow.
func (w *worker) push(batch []models.Entry) {
	if evicted := w.ring.Push(batch); evicted != nil {
		w.m.metrics.IncSinkDroppedBatches(w.sink.Name(), DropOverflow)
		w.m.logger.Warn("distribution queue overflow, oldest batch dropped",
			"sink", w.sink.Name(),
			"dropped_entries", len(evicted),
			"first_sequence", evicted[0].Sequence,
		)
	}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// sealDue moves the pending batch to the queue once it has waited long enough.
func (w *worker) sealDue(now time.Time, force bool) {
	w.mu.Lock()
	var batch []models.Entry
	if len(w.pending) > 0 && (force || now.Sub(w.pendingSince) >= w.cfg.BatchTimeout) {
		batch = w.pending
		w.pending = nil
	}
	w.mu.Unlock()
	if batch != nil {
		w.push(batch)
	}
}

func (w *worker) run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
		w.sealDue(w.m.clock(), false)
		w.drain(ctx)
	}
}

func (w *worker) drain(ctx context.Context) {
	for ctx.Err() == nil && w.ring.Len() > 0 {
		if !w.breaker.Allow() {
			return
		}
		batch, ok := w.ring.Pop()
		if !ok {
			return
		}
		w.deliver(ctx, batch)
	}
}

// deliver sends one batch with bounded exponential backoff and updates the
// breaker with the outcome.
func (w *worker) deliver(ctx context.Context, batch []models.Entry) {
	name := w.sink.Name()
	ctx, span := tracer.Start(ctx, "audit.SinkFlush")
	defer span.End()
	span.SetAttributes(
		attribute.String("sink", name),
		attribute.Int("batch.size", len(batch)),
	)

	err := backoff.RetryNotify(
		func() error { return w.attempt(ctx, batch) },
		w.policy(ctx),
		func(err error, wait time.Duration) {
			w.retries.Add(1)
			w.m.metrics.IncSinkRetries(name)
			w.m.logger.Debug("sink send failed, retrying", "sink", name, "wait", wait, "error", err)
		},
	)
	if err == nil {
		w.delivered.Add(int64(len(batch)))
		w.m.metrics.AddSinkDelivered(name, len(batch))
		if _, change := w.breaker.RecordSuccess(); change.Closed {
			w.m.logger.Info("sink recovered", "sink", name)
		}
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "delivery failed")
	reason := DropRetriesExhausted
	var perm *PermanentError
	if errors.As(err, &perm) {
		reason = DropPermanent
	}
	w.dropped(batch, reason, err)
	if _, change := w.breaker.RecordFailure(); change.Opened {
		w.m.logger.Warn("sink circuit opened", "sink", name)
	}
}

func (w *worker) attempt(ctx context.Context, batch []models.Entry) error {
	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()
	err := w.sink.Send(sendCtx, batch)
	var perm *PermanentError
	if errors.As(err, &perm) {
		return backoff.Permanent(err)
	}
	return err
}

func (w *worker) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.InitialBackoff
	eb.MaxInterval = w.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(w.cfg.MaxRetries)), ctx)
}

func (w *worker) dropped(batch []models.Entry, reason string, err error) {
	w.failed.Add(1)
	w.failedN.Add(int64(len(batch)))
	w.m.metrics.IncSinkDroppedBatches(w.sink.Name(), reason)
	attrs := []any{"sink", w.sink.Name(), "reason", reason, "dropped_entries", len(batch)}
	if len(batch) > 0 {
		attrs = append(attrs, "first_sequence", batch[0].Sequence)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	w.m.logger.Warn("distribution batch dropped", attrs...)
}

// flushOnce seals the pending batch and tries each queued batch exactly once.
func (w *worker) flushOnce(ctx context.Context) error {
	w.sealDue(w.m.clock(), true)
	var failures int
	for _, batch := range w.ring.Drain() {
		if ctx.Err() != nil {
			w.dropped(batch, DropClosed, ctx.Err())
			failures++
			continue
		}
		if err := w.attempt(ctx, batch); err != nil {
			w.dropped(batch, DropClosed, err)
			failures++
			continue
		}
		w.delivered.Add(int64(len(batch)))
		w.m.metrics.AddSinkDelivered(w.sink.Name(), len(batch))
	}
	if failures > 0 {
		return fmt.Errorf("sink %s: %d batches undelivered", w.sink.Name(), failures)
	}
	return nil
}

func (w *worker) stats() Stats {
	overflowBatches, overflowEntries := w.ring.Dropped()
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()
	return Stats{
		Sink:           w.sink.Name(),
		Enqueued:       w.enqueued.Load(),
		Filtered:       w.filtered.Load(),
		Delivered:      w.delivered.Load(),
		Retries:        w.retries.Load(),
		DroppedBatches: overflowBatches + w.failed.Load(),
		DroppedEntries: overflowEntries + w.failedN.Load(),
		Queued:         w.ring.Len(),
		Pending:        pending,
		BreakerState:   w.breaker.State(),
	}
}
