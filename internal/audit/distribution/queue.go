package distribution

import (
	"sync"

	"auditchain/internal/audit/models"
)

const defaultQueueCapacity = 64

// batchRing is a bounded FIFO of unsent batches. When full, the oldest
// batch is dropped to make room for the newest.
type batchRing struct {
	mu       sync.Mutex
	batches  [][]models.Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped        int64
	droppedEntries int64
}

func newBatchRing(capacity int) *batchRing {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &batchRing{
		batches:  make([][]models.Entry, capacity),
		capacity: capacity,
	}
}

// Push appends batch, returning the batch it evicted, if any.
func (r *batchRing) Push(batch []models.Entry) (evicted []models.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= r.capacity {
		evicted = r.batches[r.tail]
		r.batches[r.tail] = nil
		r.tail = (r.tail + 1) % r.capacity
		r.count--
		r.dropped++
		r.droppedEntries += int64(len(evicted))
	}

	r.batches[r.head] = batch
	r.head = (r.head + 1) % r.capacity
	r.count++
	return evicted
}

// Pop removes the oldest batch. Returns false if the ring is empty.
func (r *batchRing) Pop() ([]models.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, false
	}
	batch := r.batches[r.tail]
	r.batches[r.tail] = nil
	r.tail = (r.tail + 1) % r.capacity
	r.count--
	return batch, true
}

// Drain removes and returns every queued batch, oldest first.
func (r *batchRing) Drain() [][]models.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]models.Entry, 0, r.count)
	for r.count > 0 {
		out = append(out, r.batches[r.tail])
		r.batches[r.tail] = nil
		r.tail = (r.tail + 1) % r.capacity
		r.count--
	}
	return out
}

func (r *batchRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Dropped returns the number of batches and entries evicted by overflow.
func (r *batchRing) Dropped() (batches, entries int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped, r.droppedEntries
}
