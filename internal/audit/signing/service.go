// Package signing owns the active signing epoch, signs entry digests, verifies
// them against the epoch recorded on each signature, and rotates keys without
// invalidating anything signed earlier.
package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/sentinel"
)

// ErrUnknownKey is returned when a signature names a key no epoch matches.
var ErrUnknownKey = errors.New("unknown signing key")

// Service signs and verifies digests. Safe for concurrent use.
type Service struct {
	provider KeyProvider
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time

	// mu guards current. Sign holds it shared only long enough to capture the
	// epoch pointer; Rotate holds it exclusively for the swap.
	mu      sync.RWMutex
	current *KeyPair

	pubMu sync.RWMutex
	pubs  map[string]ed25519.PublicKey
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService creates a signing service. The first epoch is created lazily
// on the first Sign, or eagerly by Init.
func NewService(provider KeyProvider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		logger:   slog.Default(),
		clock:    time.Now,
		pubs:     make(map[string]ed25519.PublicKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads (or creates) the current epoch.
func (s *Service) Init(ctx context.Context) (*models.SigningKeyEpoch, error) {
	kp, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	epoch := kp.Epoch()
	return &epoch, nil
}

// Sign signs a hex digest with the epoch current at call start. A rotation
// that lands mid-call does not affect this signature.
func (s *Service) Sign(ctx context.Context, digest string) (models.Signature, error) {
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return models.Signature{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "digest must be hex encoded")
	}
	kp, err := s.active(ctx)
	if err != nil {
		s.metrics.IncSigningOp("sign", "error")
		return models.Signature{}, err
	}
	sig := ed25519.Sign(kp.Private, raw)
	s.metrics.IncSigningOp("sign", "ok")
	return models.Signature{
		KeyID: kp.KeyID,
		Value: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks sig over a hex digest using the epoch named by sig.KeyID,
// never the current one. Unknown keys verify false with ErrUnknownKey.
func (s *Service) Verify(ctx context.Context, digest string, sig models.Signature) (bool, error) {
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return false, nil
	}
	value, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		s.metrics.IncSigningOp("verify", "invalid")
		return false, nil
	}
	pub, err := s.publicKey(ctx, sig.KeyID)
	if err != nil {
		s.metrics.IncSigningOp("verify", "error")
		return false, err
	}
	ok := ed25519.Verify(pub, raw, value)
	if ok {
		s.metrics.IncSigningOp("verify", "ok")
	} else {
		s.metrics.IncSigningOp("verify", "invalid")
	}
	return ok, nil
}

// Rotate retires the current epoch and swaps in a new one. Past signatures
// remain verifiable through their recorded key IDs.
func (s *Service) Rotate(ctx context.Context) (*models.SigningKeyEpoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current
	if previous == nil {
		kp, err := s.provider.GetOrCreateKeypair(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeSigning, "key provider unavailable")
		}
		previous = kp
	}

	if err := s.provider.RetireKey(ctx, previous.KeyID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "failed to retire signing key")
	}
	// From here the old key cannot sign; a failed create leaves no current
	// epoch and the next Sign retries creation.
	s.current = nil

	next, err := s.provider.GetOrCreateKeypair(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "failed to create signing key")
	}
	s.current = next
	s.cachePublic(next.KeyID, next.Public)
	s.metrics.IncKeyRotations()
	s.metrics.SetKeyAge(0)

	s.logger.InfoContext(ctx, "signing key rotated",
		"retired_key_id", previous.KeyID,
		"key_id", next.KeyID,
	)
	epoch := next.Epoch()
	return &epoch, nil
}

// CurrentEpoch returns the public view of the current epoch.
func (s *Service) CurrentEpoch(ctx context.Context) (*models.SigningKeyEpoch, error) {
	return s.Init(ctx)
}

// KeyAge returns how long the current epoch has been active.
func (s *Service) KeyAge(ctx context.Context) (time.Duration, error) {
	kp, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	age := s.clock().Sub(kp.CreatedAt)
	s.metrics.SetKeyAge(age)
	return age, nil
}

// Epochs lists all known epochs, current and retired.
func (s *Service) Epochs(ctx context.Context) ([]models.SigningKeyEpoch, error) {
	return s.provider.Epochs(ctx)
}

// PublicKey resolves the verification key for keyID.
func (s *Service) PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	return s.publicKey(ctx, keyID)
}

// active captures the current keypair, creating one on first use.
func (s *Service) active(ctx context.Context) (*KeyPair, error) {
	s.mu.RLock()
	kp := s.current
	s.mu.RUnlock()
	if kp != nil {
		return kp, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current, nil
	}
	kp, err := s.provider.GetOrCreateKeypair(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "key provider unavailable")
	}
	s.current = kp
	s.cachePublic(kp.KeyID, kp.Public)
	return kp, nil
}

func (s *Service) publicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	s.pubMu.RLock()
	pub, ok := s.pubs[keyID]
	s.pubMu.RUnlock()
	if ok {
		return pub, nil
	}

	epoch, err := s.provider.PublicKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
		}
		return nil, fmt.Errorf("lookup public key %s: %w", keyID, err)
	}
	if len(epoch.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s has malformed public key", ErrUnknownKey, keyID)
	}
	s.cachePublic(keyID, epoch.PublicKey)
	return epoch.PublicKey, nil
}

func (s *Service) cachePublic(keyID string, pub ed25519.PublicKey) {
	s.pubMu.Lock()
	s.pubs[keyID] = pub
	s.pubMu.Unlock()
}
