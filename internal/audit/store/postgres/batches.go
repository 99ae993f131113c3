package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
)

// BatchStore persists sealed Merkle batches.
type BatchStore struct {
	db *sql.DB
}

func NewBatchStore(db *sql.DB) *BatchStore {
	return &BatchStore{db: db}
}

const batchColumns = `id, start_seq, end_seq, leaf_hashes, root, checkpoint, key_id, sealed_at`

func (s *BatchStore) SaveBatch(ctx context.Context, batch models.MerkleBatch) error {
	leaves, err := json.Marshal(batch.LeafHashes)
	if err != nil {
		return fmt.Errorf("marshal leaf hashes: %w", err)
	}
	query := `
		INSERT INTO merkle_batches (` + batchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = querierFor(ctx, s.db).ExecContext(ctx, query,
		batch.ID,
		int64(batch.StartSeq),
		int64(batch.EndSeq),
		leaves,
		batch.Root,
		batch.Checkpoint,
		batch.KeyID,
		batch.SealedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save batch %s: %w", batch.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

func (s *BatchStore) GetBatchBySequence(ctx context.Context, seq uint64) (*models.MerkleBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM merkle_batches WHERE start_seq <= $1 AND end_seq >= $1`
	batch, err := scanBatch(querierFor(ctx, s.db).QueryRowContext(ctx, query, clampInt64(seq)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch by sequence: %w", err)
	}
	return batch, nil
}

func (s *BatchStore) ListBatches(ctx context.Context, startSeq, endSeq uint64) ([]models.MerkleBatch, error) {
	query := `
		SELECT ` + batchColumns + ` FROM merkle_batches
		WHERE end_seq >= $1 AND start_seq <= $2
		ORDER BY start_seq
	`
	rows, err := querierFor(ctx, s.db).QueryContext(ctx, query, clampInt64(startSeq), clampInt64(endSeq))
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	var out []models.MerkleBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *BatchStore) LastBatch(ctx context.Context) (*models.MerkleBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM merkle_batches ORDER BY start_seq DESC LIMIT 1`
	batch, err := scanBatch(querierFor(ctx, s.db).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last batch: %w", err)
	}
	return batch, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*models.MerkleBatch, error) {
	var b models.MerkleBatch
	var start, end int64
	var leaves []byte
	if err := row.Scan(&b.ID, &start, &end, &leaves, &b.Root, &b.Checkpoint, &b.KeyID, &b.SealedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(leaves, &b.LeafHashes); err != nil {
		return nil, fmt.Errorf("decode leaf hashes: %w", err)
	}
	b.StartSeq, b.EndSeq = uint64(start), uint64(end)
	b.SealedAt = b.SealedAt.UTC()
	return &b, nil
}
