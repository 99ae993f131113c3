package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	dErrors "auditchain/pkg/domain-errors"
)

// IssueToken signs claims as a compact EdDSA JWS with the current epoch. The
// kid header names the epoch so the token stays verifiable after rotation.
func (s *Service) IssueToken(ctx context.Context, claims jwt.Claims) (token string, keyID string, err error) {
	kp, err := s.active(ctx)
	if err != nil {
		return "", "", err
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = kp.KeyID
	signed, err := t.SignedString(kp.Private)
	if err != nil {
		s.metrics.IncSigningOp("token", "error")
		return "", "", dErrors.Wrap(err, dErrors.CodeSigning, "failed to sign token")
	}
	s.metrics.IncSigningOp("token", "ok")
	return signed, kp.KeyID, nil
}

// VerifyToken parses token into claims, resolving the key from its kid header.
func (s *Service) VerifyToken(ctx context.Context, token string, claims jwt.Claims) (keyID string, err error) {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token has no kid header")
		}
		keyID = kid
		return s.publicKey(ctx, kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return keyID, fmt.Errorf("verify token: %w", err)
	}
	if !parsed.Valid {
		return keyID, errors.New("verify token: invalid")
	}
	return keyID, nil
}
