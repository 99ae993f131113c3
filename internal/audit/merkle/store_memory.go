package merkle

import (
	"context"
	"sort"
	"sync"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// MemoryBatchStore keeps sealed batches ordered by start sequence.
type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches []models.MerkleBatch
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{}
}

func (s *MemoryBatchStore) SaveBatch(_ context.Context, batch models.MerkleBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.ID == batch.ID {
			return sentinel.ErrConflict
		}
	}
	stored := batch
	stored.LeafHashes = append([]string(nil), batch.LeafHashes...)
	s.batches = append(s.batches, stored)
	sort.Slice(s.batches, func(i, j int) bool { return s.batches[i].StartSeq < s.batches[j].StartSeq })
	return nil
}

func (s *MemoryBatchStore) GetBatchBySequence(_ context.Context, seq uint64) (*models.MerkleBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches {
		if b.Contains(seq) {
			out := b
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryBatchStore) ListBatches(_ context.Context, startSeq, endSeq uint64) ([]models.MerkleBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MerkleBatch
	for _, b := range s.batches {
		if b.EndSeq >= startSeq && b.StartSeq <= endSeq {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryBatchStore) LastBatch(_ context.Context) (*models.MerkleBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.batches) == 0 {
		return nil, sentinel.ErrNotFound
	}
	out := s.batches[len(s.batches)-1]
	return &out, nil
}
