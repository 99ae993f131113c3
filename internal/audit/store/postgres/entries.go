// Package postgres persists audit entries, Merkle batches, key epochs and
// retention state in PostgreSQL. Stores are pure I/O; chain, signing and
// retention rules live in the services that call them.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"auditchain/internal/audit/models"
	"auditchain/pkg/platform/sentinel"
	"auditchain/pkg/platform/tx"
)

// appendLockKey serializes appends across processes sharing the database.
const appendLockKey = 0x61756469

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func querierFor(ctx context.Context, db *sql.DB) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return db
}

// EntryStore persists audit entries.
type EntryStore struct {
	db *sql.DB
}

func NewEntryStore(db *sql.DB) *EntryStore {
	return &EntryStore{db: db}
}

// Persist inserts entry inside a transaction that holds the append lock and
// rejects it unless it extends the stored tail. The entry is durable once
// Persist returns nil.
func (s *EntryStore) Persist(ctx context.Context, entry models.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	err = tx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		q := querierFor(ctx, s.db)
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("acquire append lock: %w", err)
		}
		tail, err := loadTail(ctx, q)
		if err != nil {
			return err
		}
		if entry.Sequence != tail.Sequence+1 || entry.PreviousHash != tail.PreviousHash() {
			return fmt.Errorf("%w: tail at %d", sentinel.ErrConflict, tail.Sequence)
		}
		query := `
			INSERT INTO audit_entries (sequence, id, ts, category, event, severity, actor_id, payload,
				content_hash, previous_hash, key_id, signature)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err = q.ExecContext(ctx, query,
			int64(entry.Sequence),
			entry.ID,
			entry.Timestamp,
			string(entry.Category),
			entry.Event,
			int(entry.Severity),
			entry.Actor.ID,
			payload,
			entry.ContentHash,
			entry.PreviousHash,
			entry.Signature.KeyID,
			entry.Signature.Value,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: sequence %d already stored", sentinel.ErrConflict, entry.Sequence)
			}
			return fmt.Errorf("insert entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist entry %d: %w", entry.Sequence, err)
	}
	return nil
}

// LoadTail returns the last committed sequence and contentHash.
func (s *EntryStore) LoadTail(ctx context.Context) (models.Tail, error) {
	return loadTail(ctx, querierFor(ctx, s.db))
}

func loadTail(ctx context.Context, q querier) (models.Tail, error) {
	var seq int64
	var hash string
	err := q.QueryRowContext(ctx, `SELECT sequence, content_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tail{}, nil
	}
	if err != nil {
		return models.Tail{}, fmt.Errorf("load tail: %w", err)
	}
	return models.Tail{Sequence: uint64(seq), Hash: hash}, nil
}

// LoadRange returns entries with start <= sequence <= end, ordered by sequence.
func (s *EntryStore) LoadRange(ctx context.Context, start, end uint64) ([]models.Entry, error) {
	query := `SELECT payload FROM audit_entries WHERE sequence BETWEEN $1 AND $2 ORDER BY sequence`
	rows, err := querierFor(ctx, s.db).QueryContext(ctx, query, clampInt64(start), clampInt64(end))
	if err != nil {
		return nil, fmt.Errorf("load range: %w", err)
	}
	return scanEntries(rows)
}

// Query returns one page of matching entries and the total match count.
func (s *EntryStore) Query(ctx context.Context, filter models.Filter) ([]models.Entry, int, error) {
	where, args := filterClause(filter)
	q := querierFor(ctx, s.db)

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	page := `SELECT payload FROM audit_entries` + where + ` ORDER BY sequence`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		page += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		page += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := q.QueryContext(ctx, page, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query entries: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Categories lists distinct categories with unredacted entries.
func (s *EntryStore) Categories(ctx context.Context) ([]models.Category, error) {
	rows, err := querierFor(ctx, s.db).QueryContext(ctx,
		`SELECT DISTINCT category FROM audit_entries WHERE redacted_by IS NULL ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	var out []models.Category
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, models.Category(c))
	}
	return out, rows.Err()
}

// ListExpired returns unredacted entries of category older than before with
// a sequence greater than after.
func (s *EntryStore) ListExpired(ctx context.Context, category models.Category, before time.Time, after uint64, limit int) ([]models.Entry, error) {
	query := `
		SELECT payload FROM audit_entries
		WHERE category = $1 AND ts < $2 AND sequence > $3 AND redacted_by IS NULL
		ORDER BY sequence
	`
	args := []any{string(category), before, clampInt64(after)}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	rows, err := querierFor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return scanEntries(rows)
}

// Redact replaces the payload of the given entries with tombstones. Chain
// columns are left untouched.
func (s *EntryStore) Redact(ctx context.Context, seqs []uint64, redaction models.Redaction) (int, error) {
	if len(seqs) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(seqs))
	for i, seq := range seqs {
		ids[i] = clampInt64(seq)
	}
	var redacted int
	err := tx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		q := querierFor(ctx, s.db)
		rows, err := q.QueryContext(ctx, `
			SELECT payload FROM audit_entries
			WHERE sequence = ANY($1) AND redacted_by IS NULL
			ORDER BY sequence
			FOR UPDATE
		`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("select entries for redaction: %w", err)
		}
		entries, err := scanEntries(rows)
		if err != nil {
			return err
		}
		for _, e := range entries {
			payload, err := json.Marshal(e.Redacted(redaction))
			if err != nil {
				return fmt.Errorf("marshal tombstone: %w", err)
			}
			_, err = q.ExecContext(ctx, `
				UPDATE audit_entries
				SET payload = $2, event = '', actor_id = '', redacted_by = $3, redacted_at = $4, archived = $5
				WHERE sequence = $1
			`, int64(e.Sequence), payload, redaction.RequestID, redaction.At, redaction.Archived)
			if err != nil {
				return fmt.Errorf("redact entry %d: %w", e.Sequence, err)
			}
			redacted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return redacted, nil
}

func filterClause(f models.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.StartTime.IsZero() {
		add("ts >= $%d", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		add("ts <= $%d", f.EndTime)
	}
	if len(f.Categories) > 0 {
		cats := make([]string, len(f.Categories))
		for i, c := range f.Categories {
			cats[i] = string(c)
		}
		add("category = ANY($%d)", pq.Array(cats))
	}
	if len(f.Severities) > 0 {
		sevs := make([]int64, len(f.Severities))
		for i, sev := range f.Severities {
			sevs[i] = int64(sev)
		}
		add("severity = ANY($%d)", pq.Array(sevs))
	}
	if len(f.Actors) > 0 {
		add("actor_id = ANY($%d)", pq.Array(f.Actors))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	defer rows.Close()
	var out []models.Entry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var e models.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
