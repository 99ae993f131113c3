package retention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// PolicyStore persists per-category policies.
type PolicyStore interface {
	SetPolicy(ctx context.Context, policy models.RetentionPolicy) error
	GetPolicy(ctx context.Context, category models.Category) (*models.RetentionPolicy, error)
	ListPolicies(ctx context.Context) ([]models.RetentionPolicy, error)
}

// EntryStore is the slice of primary storage retention needs.
type EntryStore interface {
	Categories(ctx context.Context) ([]models.Category, error)
	// ListExpired pages through unredacted entries of category older than
	// before whose sequence is greater than after.
	ListExpired(ctx context.Context, category models.Category, before time.Time, after uint64, limit int) ([]models.Entry, error)
	LoadRange(ctx context.Context, start, end uint64) ([]models.Entry, error)
	Redact(ctx context.Context, seqs []uint64, redaction models.Redaction) (int, error)
}

// RequestStore persists deletion requests. SaveRequest returns
// sentinel.ErrConflict instead of changing a closed request.
type RequestStore interface {
	SaveRequest(ctx context.Context, req models.DeletionRequest) error
	GetRequest(ctx context.Context, id string) (*models.DeletionRequest, error)
	ListRequests(ctx context.Context, state models.DeletionState) ([]models.DeletionRequest, error)
}

// ConfirmationStore records distinct confirmers per request.
type ConfirmationStore interface {
	// AddConfirmation records confirmer and returns the distinct count.
	AddConfirmation(ctx context.Context, requestID, confirmer string) (int, error)
	Count(ctx context.Context, requestID string) (int, error)
}

// MemoryPolicyStore keeps policies in memory.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[models.Category]models.RetentionPolicy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[models.Category]models.RetentionPolicy)}
}

func (s *MemoryPolicyStore) SetPolicy(_ context.Context, policy models.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.Category] = policy
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(_ context.Context, category models.Category) (*models.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[category]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *MemoryPolicyStore) ListPolicies(_ context.Context) ([]models.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// MemoryRequestStore keeps deletion requests in memory.
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]models.DeletionRequest
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]models.DeletionRequest)}
}

// SaveRequest inserts or updates req. Terminal requests are never reopened.
func (s *MemoryRequestStore) SaveRequest(_ context.Context, req models.DeletionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.requests[req.ID]; ok && existing.State.IsTerminal() {
		return fmt.Errorf("%w: deletion request %s is %s", sentinel.ErrConflict, req.ID, existing.State)
	}
	req.Sequences = append([]uint64(nil), req.Sequences...)
	s.requests[req.ID] = req
	return nil
}

// Replace overwrites a stored request, bypassing the state rules.
// Tests use it to simulate tampering at the storage layer.
func (s *MemoryRequestStore) Replace(req models.DeletionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	req.Sequences = append([]uint64(nil), req.Sequences...)
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryRequestStore) GetRequest(_ context.Context, id string) (*models.DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	req.Sequences = append([]uint64(nil), req.Sequences...)
	return &req, nil
}

func (s *MemoryRequestStore) ListRequests(_ context.Context, state models.DeletionState) ([]models.DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DeletionRequest
	for _, req := range s.requests {
		if state == "" || req.State == state {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryConfirmationStore keeps confirmer sets in memory.
type MemoryConfirmationStore struct {
	mu  sync.Mutex
	set map[string]map[string]struct{}
}

func NewMemoryConfirmationStore() *MemoryConfirmationStore {
	return &MemoryConfirmationStore{set: make(map[string]map[string]struct{})}
}

func (s *MemoryConfirmationStore) AddConfirmation(_ context.Context, requestID, confirmer string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	confirmers, ok := s.set[requestID]
	if !ok {
		confirmers = make(map[string]struct{})
		s.set[requestID] = confirmers
	}
	confirmers[confirmer] = struct{}{}
	return len(confirmers), nil
}

func (s *MemoryConfirmationStore) Count(_ context.Context, requestID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set[requestID]), nil
}

const confirmationKeyPrefix = "auditchain:deletion:confirmations:"

// RedisConfirmationStore shares confirmer sets across replicas so two
// operators confirming through different instances are both counted.
type RedisConfirmationStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisConfirmationStore creates a store whose sets expire after ttl of
// inactivity. A zero ttl keeps sets forever.
func NewRedisConfirmationStore(client redis.UniversalClient, ttl time.Duration) *RedisConfirmationStore {
	return &RedisConfirmationStore{client: client, ttl: ttl}
}

func (s *RedisConfirmationStore) AddConfirmation(ctx context.Context, requestID, confirmer string) (int, error) {
	key := confirmationKeyPrefix + requestID
	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, confirmer)
		card = pipe.SCard(ctx, key)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record confirmation: %w", err)
	}
	return int(card.Val()), nil
}

func (s *RedisConfirmationStore) Count(ctx context.Context, requestID string) (int, error) {
	n, err := s.client.SCard(ctx, confirmationKeyPrefix+requestID).Result()
	if err != nil {
		return 0, fmt.Errorf("count confirmations: %w", err)
	}
	return int(n), nil
}
