package repositories

import (
	"context"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// SyncStateRepository defines the interface for per-account sync metadata
type SyncStateRepository interface {
	// Get retrieves the sync state for an account, or nil when the account
	// has never been synced.
	Get(ctx context.Context, account string) (*entities.AccountSyncState, error)

	// Upsert creates or replaces the sync state for an account
	Upsert(ctx context.Context, state *entities.AccountSyncState) error
}
