package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/domain/repositories"
)

// Ensure RecordRepo implements RecordRepository
var _ repositories.RecordRepository = (*RecordRepo)(nil)

// RecordRepo implements RecordRepository on the relational store. Refs are
// first-writer-wins per (account, record_id); bodies are last-writer-wins
// per record_id, since a body fetch is deterministic and replace is safe.
type RecordRepo struct {
	db *sqlx.DB
}

// NewRecordRepo creates a new record repository
func NewRecordRepo(db *sqlx.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// refRow maps one record_refs row; times are unix seconds
type refRow struct {
	Account      string  `db:"account"`
	RecordID     string  `db:"record_id"`
	SequenceHint int64   `db:"sequence_hint"`
	ObservedTime *int64  `db:"observed_time"`
	ErrorMarker  *string `db:"error_marker"`
}

func (r refRow) toEntity() entities.RecordRef {
	return entities.RecordRef{
		Account:      r.Account,
		RecordID:     r.RecordID,
		SequenceHint: r.SequenceHint,
		ObservedTime: fromUnixPtr(r.ObservedTime),
		ErrorMarker:  r.ErrorMarker,
	}
}

// bodyRow maps one record_bodies row
type bodyRow struct {
	RecordID     string  `db:"record_id"`
	SequenceHint int64   `db:"sequence_hint"`
	ObservedTime *int64  `db:"observed_time"`
	ErrorMarker  *string `db:"error_marker"`
	Payload      []byte  `db:"payload"`
}

func (r bodyRow) toEntity() entities.RecordBody {
	return entities.RecordBody{
		RecordID:     r.RecordID,
		SequenceHint: r.SequenceHint,
		ObservedTime: fromUnixPtr(r.ObservedTime),
		ErrorMarker:  r.ErrorMarker,
		Payload:      r.Payload,
	}
}

// UpsertRefs inserts refs for an account, silently ignoring duplicates
func (r *RecordRepo) UpsertRefs(ctx context.Context, account string, refs []entities.RecordRef) error {
	if len(refs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := r.db.Rebind(`
		INSERT INTO record_refs (account, record_id, sequence_hint, observed_time, error_marker, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, record_id) DO NOTHING
	`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, ref := range refs {
		_, err := stmt.ExecContext(ctx,
			account,
			ref.RecordID,
			ref.SequenceHint,
			toUnixPtr(ref.ObservedTime),
			ref.ErrorMarker,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ref %s: %w", ref.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetRefs retrieves cached refs ordered by sequence hint descending
func (r *RecordRepo) GetRefs(ctx context.Context, account string, limit int) ([]entities.RecordRef, error) {
	query := `
		SELECT account, record_id, sequence_hint, observed_time, error_marker
		FROM record_refs
		WHERE account = ?
		ORDER BY sequence_hint DESC
	`
	args := []interface{}{account}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []refRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get refs: %w", err)
	}

	refs := make([]entities.RecordRef, len(rows))
	for i, row := range rows {
		refs[i] = row.toEntity()
	}

	return refs, nil
}

// UpsertBody inserts or replaces one record body
func (r *RecordRepo) UpsertBody(ctx context.Context, body *entities.RecordBody) error {
	query := r.db.Rebind(`
		INSERT INTO record_bodies (record_id, sequence_hint, observed_time, error_marker, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO UPDATE SET
			sequence_hint = excluded.sequence_hint,
			observed_time = excluded.observed_time,
			error_marker  = excluded.error_marker,
			payload       = excluded.payload,
			fetched_at    = excluded.fetched_at
	`)

	payload := body.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx, query,
		body.RecordID,
		body.SequenceHint,
		toUnixPtr(body.ObservedTime),
		body.ErrorMarker,
		[]byte(payload),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert body %s: %w", body.RecordID, err)
	}

	return nil
}

// GetBody retrieves one record body, or nil when absent
func (r *RecordRepo) GetBody(ctx context.Context, recordID string) (*entities.RecordBody, error) {
	query := r.db.Rebind(`
		SELECT record_id, sequence_hint, observed_time, error_marker, payload
		FROM record_bodies
		WHERE record_id = ?
	`)

	var row bodyRow
	if err := r.db.GetContext(ctx, &row, query, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get body: %w", err)
	}

	body := row.toEntity()
	return &body, nil
}

// GetBodies retrieves the bodies referenced by an account, joined through
// its refs, ordered by sequence hint descending
func (r *RecordRepo) GetBodies(ctx context.Context, account string, limit int) ([]entities.RecordBody, error) {
	query := `
		SELECT b.record_id, b.sequence_hint, b.observed_time, b.error_marker, b.payload
		FROM record_bodies b
		JOIN record_refs r ON r.record_id = b.record_id
		WHERE r.account = ?
		ORDER BY b.sequence_hint DESC
	`
	args := []interface{}{account}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []bodyRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get bodies: %w", err)
	}

	bodies := make([]entities.RecordBody, len(rows))
	for i, row := range rows {
		bodies[i] = row.toEntity()
	}

	return bodies, nil
}

// CountRefs returns the number of cached refs for an account
func (r *RecordRepo) CountRefs(ctx context.Context, account string) (int64, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM record_refs WHERE account = ?`)

	var count int64
	if err := r.db.GetContext(ctx, &count, query, account); err != nil {
		return 0, fmt.Errorf("failed to count refs: %w", err)
	}

	return count, nil
}

// CountBodies returns the number of cached bodies referenced by an account
func (r *RecordRepo) CountBodies(ctx context.Context, account string) (int64, error) {
	query := r.db.Rebind(`
		SELECT COUNT(*)
		FROM record_bodies b
		JOIN record_refs r ON r.record_id = b.record_id
		WHERE r.account = ?
	`)

	var count int64
	if err := r.db.GetContext(ctx, &count, query, account); err != nil {
		return 0, fmt.Errorf("failed to count bodies: %w", err)
	}

	return count, nil
}

// toUnixPtr converts a nullable time to nullable unix seconds
func toUnixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

// fromUnixPtr converts nullable unix seconds back to a UTC time
func fromUnixPtr(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0).UTC()
	return &t
}
