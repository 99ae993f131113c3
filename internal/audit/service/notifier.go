package service

import (
	"context"
	"log/slog"
	"sync"

	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/monitor"
)

type notification struct {
	entry   models.Entry
	verdict monitor.Verdict
}

// notifier fans committed entries out to subscribers on one goroutine. A
// full buffer drops the notification rather than stalling the append path.
type notifier struct {
	inbox    chan notification
	dispatch func(context.Context, notification)
	done     chan struct{}
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

func newNotifier(capacity int, dispatch func(context.Context, notification), logger *slog.Logger, m *metrics.Metrics) *notifier {
	n := &notifier{
		inbox:    make(chan notification, capacity),
		dispatch: dispatch,
		done:     make(chan struct{}),
		logger:   logger,
		metrics:  m,
	}
	go n.run()
	return n
}

func (n *notifier) run() {
	defer close(n.done)
	ctx := context.Background()
	for item := range n.inbox {
		n.dispatch(ctx, item)
	}
}

// publish never blocks. It reports whether the notification was queued.
func (n *notifier) publish(item notification) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.inbox <- item:
		return true
	default:
		n.metrics.IncNotificationsDropped()
		n.logger.Warn("subscriber queue full, notification dropped",
			"sequence", item.entry.Sequence,
			"entry_id", item.entry.ID,
		)
		return false
	}
}

func (n *notifier) close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.inbox)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
