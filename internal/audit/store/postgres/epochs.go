package postgres

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// EpochStore persists the public half of signing key epochs so retired keys
// keep verifying after restarts.
type EpochStore struct {
	db *sql.DB
}

func NewEpochStore(db *sql.DB) *EpochStore {
	return &EpochStore{db: db}
}

func (s *EpochStore) SaveEpoch(ctx context.Context, epoch models.SigningKeyEpoch) error {
	query := `
		INSERT INTO key_epochs (key_id, public_key, created_at, retired_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := querierFor(ctx, s.db).ExecContext(ctx, query,
		epoch.KeyID, []byte(epoch.PublicKey), epoch.CreatedAt, epoch.RetiredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save epoch %s: %w", epoch.KeyID, sentinel.ErrConflict)
		}
		return fmt.Errorf("save epoch: %w", err)
	}
	return nil
}

// RetireEpoch stamps retired_at once; later calls keep the first timestamp.
func (s *EpochStore) RetireEpoch(ctx context.Context, keyID string, at time.Time) error {
	res, err := querierFor(ctx, s.db).ExecContext(ctx,
		`UPDATE key_epochs SET retired_at = COALESCE(retired_at, $2) WHERE key_id = $1`, keyID, at)
	if err != nil {
		return fmt.Errorf("retire epoch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retire epoch: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *EpochStore) GetEpoch(ctx context.Context, keyID string) (*models.SigningKeyEpoch, error) {
	row := querierFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT key_id, public_key, created_at, retired_at FROM key_epochs WHERE key_id = $1`, keyID)
	epoch, err := scanEpoch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get epoch: %w", err)
	}
	return epoch, nil
}

func (s *EpochStore) ListEpochs(ctx context.Context) ([]models.SigningKeyEpoch, error) {
	rows, err := querierFor(ctx, s.db).QueryContext(ctx,
		`SELECT key_id, public_key, created_at, retired_at FROM key_epochs ORDER BY created_at, key_id`)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer rows.Close()
	var out []models.SigningKeyEpoch
	for rows.Next() {
		epoch, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		out = append(out, *epoch)
	}
	return out, rows.Err()
}

func scanEpoch(row scanner) (*models.SigningKeyEpoch, error) {
	var epoch models.SigningKeyEpoch
	var pub []byte
	var retired sql.NullTime
	if err := row.Scan(&epoch.KeyID, &pub, &epoch.CreatedAt, &retired); err != nil {
		return nil, err
	}
	epoch.PublicKey = ed25519.PublicKey(pub)
	epoch.CreatedAt = epoch.CreatedAt.UTC()
	if retired.Valid {
		at := retired.Time.UTC()
		epoch.RetiredAt = &at
	}
	return &epoch, nil
}
