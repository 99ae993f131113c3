package signing

import (
	"context"
	"sort"
	"sync"
	"time"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// MemoryEpochStore keeps public epochs in memory.
type MemoryEpochStore struct {
	mu     sync.RWMutex
	epochs map[string]models.SigningKeyEpoch
}

func NewMemoryEpochStore() *MemoryEpochStore {
	return &MemoryEpochStore{epochs: make(map[string]models.SigningKeyEpoch)}
}

func (s *MemoryEpochStore) SaveEpoch(_ context.Context, epoch models.SigningKeyEpoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.epochs[epoch.KeyID]; ok {
		return sentinel.ErrConflict
	}
	s.epochs[epoch.KeyID] = epoch
	return nil
}

func (s *MemoryEpochStore) RetireEpoch(_ context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	epoch, ok := s.epochs[keyID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if epoch.RetiredAt == nil {
		epoch.RetiredAt = &at
		s.epochs[keyID] = epoch
	}
	return nil
}

func (s *MemoryEpochStore) GetEpoch(_ context.Context, keyID string) (*models.SigningKeyEpoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	epoch, ok := s.epochs[keyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &epoch, nil
}

func (s *MemoryEpochStore) ListEpochs(_ context.Context) ([]models.SigningKeyEpoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SigningKeyEpoch, 0, len(s.epochs))
	for _, e := range s.epochs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KeyID < out[j].KeyID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
