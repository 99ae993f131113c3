package merkle

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"auditchain/internal/audit/models"
)

// Checkpointer signs and verifies compact checkpoint tokens.
type Checkpointer interface {
	IssueToken(ctx context.Context, claims jwt.Claims) (token string, keyID string, err error)
	VerifyToken(ctx context.Context, token string, claims jwt.Claims) (keyID string, err error)
}

// CheckpointClaims binds a batch's sequence range to its root.
type CheckpointClaims struct {
	jwt.RegisteredClaims
	Root      string `json:"root"`
	StartSeq  uint64 `json:"startSeq"`
	EndSeq    uint64 `json:"endSeq"`
	LeafCount int    `json:"leafCount"`
	Algorithm string `json:"alg256"`
}

func claimsFor(batch models.MerkleBatch, algorithm string) *CheckpointClaims {
	return &CheckpointClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       batch.ID,
			Issuer:   "auditchain",
			Subject:  "merkle-batch",
			IssuedAt: jwt.NewNumericDate(batch.SealedAt),
		},
		Root:      batch.Root,
		StartSeq:  batch.StartSeq,
		EndSeq:    batch.EndSeq,
		LeafCount: len(batch.LeafHashes),
		Algorithm: algorithm,
	}
}

// VerifyCheckpoint checks the batch's checkpoint signature and that the
// signed claims match the batch's range and root.
func VerifyCheckpoint(ctx context.Context, signer Checkpointer, batch models.MerkleBatch) error {
	if batch.Checkpoint == "" {
		return fmt.Errorf("batch %s has no checkpoint", batch.ID)
	}
	claims := &CheckpointClaims{}
	keyID, err := signer.VerifyToken(ctx, batch.Checkpoint, claims)
	if err != nil {
		return err
	}
	switch {
	case keyID != batch.KeyID:
		return fmt.Errorf("checkpoint key %s does not match batch key %s", keyID, batch.KeyID)
	case claims.ID != batch.ID:
		return fmt.Errorf("checkpoint batch id %s does not match %s", claims.ID, batch.ID)
	case claims.Root != batch.Root:
		return fmt.Errorf("checkpoint root does not match batch root")
	case claims.StartSeq != batch.StartSeq || claims.EndSeq != batch.EndSeq:
		return fmt.Errorf("checkpoint range [%d,%d] does not match batch [%d,%d]",
			claims.StartSeq, claims.EndSeq, batch.StartSeq, batch.EndSeq)
	case claims.LeafCount != len(batch.LeafHashes):
		return fmt.Errorf("checkpoint leaf count %d does not match %d", claims.LeafCount, len(batch.LeafHashes))
	}
	return nil
}
