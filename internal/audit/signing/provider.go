package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// KeyPair is one epoch's key material. The private half never leaves this
// package's callers on the write side.
type KeyPair struct {
	KeyID     string
	Private   ed25519.PrivateKey
	Public    ed25519.PublicKey
	CreatedAt time.Time
}

// Epoch returns the public view of the keypair.
func (k *KeyPair) Epoch() models.SigningKeyEpoch {
	return models.SigningKeyEpoch{KeyID: k.KeyID, PublicKey: k.Public, CreatedAt: k.CreatedAt}
}

// KeyProvider owns key material. It may be a local generator or a KMS/HSM
// adapter; the service relies only on these semantics.
type KeyProvider interface {
	// GetOrCreateKeypair returns the active keypair, creating one if none is active.
	GetOrCreateKeypair(ctx context.Context) (*KeyPair, error)
	// RetireKey marks keyID verify-only. Retired keys are never deleted.
	RetireKey(ctx context.Context, keyID string) error
	// PublicKey returns the epoch for keyID, active or retired.
	PublicKey(ctx context.Context, keyID string) (*models.SigningKeyEpoch, error)
	// Epochs lists every known epoch, oldest first.
	Epochs(ctx context.Context) ([]models.SigningKeyEpoch, error)
}

// EpochStore persists the public half of every epoch so signatures made by
// keys from earlier process lifetimes stay verifiable.
type EpochStore interface {
	SaveEpoch(ctx context.Context, epoch models.SigningKeyEpoch) error
	RetireEpoch(ctx context.Context, keyID string, at time.Time) error
	GetEpoch(ctx context.Context, keyID string) (*models.SigningKeyEpoch, error)
	ListEpochs(ctx context.Context) ([]models.SigningKeyEpoch, error)
}

// KeyIDFor derives a stable key ID from a public key.
func KeyIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519-" + hex.EncodeToString(sum[:8])
}

// LocalProvider generates ed25519 keypairs in process. Private keys live in
// memory only; public epochs go to the EpochStore.
type LocalProvider struct {
	mu      sync.Mutex
	store   EpochStore
	clock   func() time.Time
	rand    io.Reader
	seed    []byte
	private map[string]*KeyPair
	active  string
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithEpochStore persists public epochs.
func WithEpochStore(store EpochStore) LocalOption {
	return func(p *LocalProvider) {
		p.store = store
	}
}

// WithProviderClock injects the time source for epoch timestamps.
func WithProviderClock(clock func() time.Time) LocalOption {
	return func(p *LocalProvider) {
		p.clock = clock
	}
}

// WithRandom injects the entropy source. Tests use it for reproducible keys.
func WithRandom(r io.Reader) LocalOption {
	return func(p *LocalProvider) {
		p.rand = r
	}
}

// WithSeed makes the first keypair derive from a 32-byte ed25519 seed, so a
// restarted process resumes the same epoch instead of opening a new one.
func WithSeed(seed []byte) LocalOption {
	return func(p *LocalProvider) {
		p.seed = seed
	}
}

// NewLocalProvider creates a provider. Without an EpochStore an in-memory one is used.
func NewLocalProvider(opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		clock:   time.Now,
		rand:    rand.Reader,
		private: make(map[string]*KeyPair),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = NewMemoryEpochStore()
	}
	return p
}

func (p *LocalProvider) GetOrCreateKeypair(ctx context.Context) (*KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kp, ok := p.private[p.active]; ok {
		return kp, nil
	}

	kp, err := p.generate()
	if err != nil {
		return nil, err
	}

	existing, err := p.store.GetEpoch(ctx, kp.KeyID)
	switch {
	case err == nil && existing.IsRetired():
		// The seeded key was retired by an earlier rotation; fall back to a fresh key.
		p.seed = nil
		if kp, err = p.generate(); err != nil {
			return nil, err
		}
		if err := p.store.SaveEpoch(ctx, kp.Epoch()); err != nil {
			return nil, fmt.Errorf("save epoch: %w", err)
		}
	case err == nil:
		kp.CreatedAt = existing.CreatedAt
	case isNotFound(err):
		if err := p.store.SaveEpoch(ctx, kp.Epoch()); err != nil {
			return nil, fmt.Errorf("save epoch: %w", err)
		}
	default:
		return nil, fmt.Errorf("load epoch: %w", err)
	}

	if err := p.retireStale(ctx, kp.KeyID); err != nil {
		return nil, err
	}

	p.private[kp.KeyID] = kp
	p.active = kp.KeyID
	return kp, nil
}

func (p *LocalProvider) RetireKey(ctx context.Context, keyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.RetireEpoch(ctx, keyID, p.clock().UTC()); err != nil {
		return fmt.Errorf("retire epoch %s: %w", keyID, err)
	}
	if p.active == keyID {
		p.active = ""
		p.seed = nil
	}
	// Drop private material: a retired key must not sign again.
	delete(p.private, keyID)
	return nil
}

func (p *LocalProvider) PublicKey(ctx context.Context, keyID string) (*models.SigningKeyEpoch, error) {
	return p.store.GetEpoch(ctx, keyID)
}

func (p *LocalProvider) Epochs(ctx context.Context) ([]models.SigningKeyEpoch, error) {
	return p.store.ListEpochs(ctx)
}

func (p *LocalProvider) generate() (*KeyPair, error) {
	var (
		pub  ed25519.PublicKey
		priv ed25519.PrivateKey
	)
	if len(p.seed) > 0 {
		if len(p.seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing seed must be %d bytes", ed25519.SeedSize)
		}
		priv = ed25519.NewKeyFromSeed(p.seed)
		pub = priv.Public().(ed25519.PublicKey)
	} else {
		var err error
		pub, priv, err = ed25519.GenerateKey(p.rand)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
	}
	return &KeyPair{
		KeyID:     KeyIDFor(pub),
		Private:   priv,
		Public:    pub,
		CreatedAt: p.clock().UTC().Truncate(time.Microsecond),
	}, nil
}

// retireStale retires epochs left active by an earlier process whose private
// keys are gone. Exactly one epoch stays current.
func (p *LocalProvider) retireStale(ctx context.Context, keep string) error {
	epochs, err := p.store.ListEpochs(ctx)
	if err != nil {
		return fmt.Errorf("list epochs: %w", err)
	}
	now := p.clock().UTC()
	for _, e := range epochs {
		if e.KeyID == keep || e.IsRetired() {
			continue
		}
		if err := p.store.RetireEpoch(ctx, e.KeyID, now); err != nil {
			return fmt.Errorf("retire stale epoch %s: %w", e.KeyID, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
