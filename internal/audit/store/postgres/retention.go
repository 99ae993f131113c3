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

// PolicyStore persists per-category retention policies.
type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func (s *PolicyStore) SetPolicy(ctx context.Context, policy models.RetentionPolicy) error {
	query := `
		INSERT INTO retention_policies (category, retention_days, legal_hold, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (category) DO UPDATE SET
			retention_days = EXCLUDED.retention_days,
			legal_hold = EXCLUDED.legal_hold,
			updated_at = EXCLUDED.updated_at
	`
	_, err := querierFor(ctx, s.db).ExecContext(ctx, query,
		string(policy.Category), policy.RetentionDays, policy.LegalHold, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set retention policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) GetPolicy(ctx context.Context, category models.Category) (*models.RetentionPolicy, error) {
	row := querierFor(ctx, s.db).QueryRowContext(ctx, `
		SELECT category, retention_days, legal_hold, updated_at
		FROM retention_policies WHERE category = $1
	`, string(category))
	policy, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retention policy: %w", err)
	}
	return policy, nil
}

func (s *PolicyStore) ListPolicies(ctx context.Context) ([]models.RetentionPolicy, error) {
	rows, err := querierFor(ctx, s.db).QueryContext(ctx, `
		SELECT category, retention_days, legal_hold, updated_at
		FROM retention_policies ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()
	var out []models.RetentionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPolicy(row scanner) (*models.RetentionPolicy, error) {
	var p models.RetentionPolicy
	var category string
	if err := row.Scan(&category, &p.RetentionDays, &p.LegalHold, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Category = models.Category(category)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// RequestStore persists deletion requests.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

const requestColumns = `id, category, sequences, cutoff, state, archived, created_at, updated_at, signature_key_id, signature`

// SaveRequest inserts or updates a request. A closed request is left as is
// and sentinel.ErrConflict is returned.
func (s *RequestStore) SaveRequest(ctx context.Context, req models.DeletionRequest) error {
	seqs, err := json.Marshal(req.Sequences)
	if err != nil {
		return fmt.Errorf("marshal sequences: %w", err)
	}
	query := `
		INSERT INTO deletion_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			sequences = EXCLUDED.sequences,
			state = EXCLUDED.state,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at,
			signature_key_id = EXCLUDED.signature_key_id,
			signature = EXCLUDED.signature
		WHERE deletion_requests.state = 'pending_confirmation'
	`
	res, err := querierFor(ctx, s.db).ExecContext(ctx, query,
		req.ID,
		string(req.Category),
		seqs,
		req.Cutoff,
		string(req.State),
		req.Archived,
		req.CreatedAt,
		req.UpdatedAt,
		req.Signature.KeyID,
		req.Signature.Value,
	)
	if err != nil {
		return fmt.Errorf("save deletion request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save deletion request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: deletion request %s is closed", sentinel.ErrConflict, req.ID)
	}
	return nil
}

func (s *RequestStore) GetRequest(ctx context.Context, id string) (*models.DeletionRequest, error) {
	row := querierFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM deletion_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deletion request: %w", err)
	}
	return req, nil
}

// ListRequests returns requests in state, or all requests when state is empty.
func (s *RequestStore) ListRequests(ctx context.Context, state models.DeletionState) ([]models.DeletionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM deletion_requests`
	var args []any
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at, id`
	rows, err := querierFor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deletion requests: %w", err)
	}
	defer rows.Close()
	var out []models.DeletionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deletion request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row scanner) (*models.DeletionRequest, error) {
	var req models.DeletionRequest
	var category, state string
	var seqs []byte
	if err := row.Scan(&req.ID, &category, &seqs, &req.Cutoff, &state, &req.Archived, &req.CreatedAt, &req.UpdatedAt,
		&req.Signature.KeyID, &req.Signature.Value); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(seqs, &req.Sequences); err != nil {
		return nil, fmt.Errorf("decode sequences: %w", err)
	}
	req.Category = models.Category(category)
	req.State = models.DeletionState(state)
	req.Cutoff = req.Cutoff.UTC()
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}
