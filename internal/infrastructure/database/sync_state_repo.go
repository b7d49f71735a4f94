package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/domain/repositories"
)

// Ensure SyncStateRepo implements SyncStateRepository
var _ repositories.SyncStateRepository = (*SyncStateRepo)(nil)

// SyncStateRepo implements SyncStateRepository on the relational store.
// Snapshots persist as JSON text with decimal string values.
type SyncStateRepo struct {
	db *sqlx.DB
}

// NewSyncStateRepo creates a new sync state repository
func NewSyncStateRepo(db *sqlx.DB) *SyncStateRepo {
	return &SyncStateRepo{db: db}
}

// stateRow maps one account_sync_state row
type stateRow struct {
	Account               string  `db:"account"`
	TotalKnownRecordCount int64   `db:"total_known_record_count"`
	MostRecentRecordID    *string `db:"most_recent_record_id"`
	LastSnapshot          *string `db:"last_snapshot"`
	LastSyncTime          int64   `db:"last_sync_time"`
}

// Get retrieves the sync state for an account, or nil when absent
func (r *SyncStateRepo) Get(ctx context.Context, account string) (*entities.AccountSyncState, error) {
	query := r.db.Rebind(`
		SELECT account, total_known_record_count, most_recent_record_id, last_snapshot, last_sync_time
		FROM account_sync_state
		WHERE account = ?
	`)

	var row stateRow
	if err := r.db.GetContext(ctx, &row, query, account); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	state := &entities.AccountSyncState{
		Account:               row.Account,
		TotalKnownRecordCount: row.TotalKnownRecordCount,
		MostRecentRecordID:    row.MostRecentRecordID,
		LastSyncTime:          time.Unix(row.LastSyncTime, 0).UTC(),
	}

	if row.LastSnapshot != nil && *row.LastSnapshot != "" {
		var snapshot map[string]decimal.Decimal
		if err := json.Unmarshal([]byte(*row.LastSnapshot), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		state.LastSnapshot = snapshot
	}

	return state, nil
}

// Upsert creates or replaces the sync state for an account
func (r *SyncStateRepo) Upsert(ctx context.Context, state *entities.AccountSyncState) error {
	var snapshot *string
	if state.LastSnapshot != nil {
		raw, err := json.Marshal(state.LastSnapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		s := string(raw)
		snapshot = &s
	}

	query := r.db.Rebind(`
		INSERT INTO account_sync_state (account, total_known_record_count, most_recent_record_id, last_snapshot, last_sync_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET
			total_known_record_count = excluded.total_known_record_count,
			most_recent_record_id    = excluded.most_recent_record_id,
			last_snapshot            = excluded.last_snapshot,
			last_sync_time           = excluded.last_sync_time
	`)

	_, err := r.db.ExecContext(ctx, query,
		state.Account,
		state.TotalKnownRecordCount,
		state.MostRecentRecordID,
		snapshot,
		state.LastSyncTime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}

	return nil
}
