package repositories

import (
	"context"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// RecordRepository defines the interface for cached ledger record operations.
// Refs are scoped per account and deduplicated on (account, record_id);
// bodies are keyed solely by record_id and shared across accounts.
type RecordRepository interface {
	// UpsertRefs inserts refs for an account, silently ignoring ones already
	// cached. Safe to call repeatedly with overlapping input.
	UpsertRefs(ctx context.Context, account string, refs []entities.RecordRef) error

	// GetRefs retrieves cached refs for an account ordered by sequence hint
	// descending (most recent first). A non-positive limit returns all.
	GetRefs(ctx context.Context, account string, limit int) ([]entities.RecordRef, error)

	// UpsertBody inserts or replaces one record body.
	UpsertBody(ctx context.Context, body *entities.RecordBody) error

	// GetBody retrieves one record body regardless of which account cached
	// it, or nil when absent.
	GetBody(ctx context.Context, recordID string) (*entities.RecordBody, error)

	// GetBodies retrieves cached bodies referenced by an account, ordered by
	// sequence hint descending. A non-positive limit returns all.
	GetBodies(ctx context.Context, account string, limit int) ([]entities.RecordBody, error)

	// CountRefs returns the number of cached refs for an account.
	CountRefs(ctx context.Context, account string) (int64, error)

	// CountBodies returns the number of cached bodies referenced by an account.
	CountBodies(ctx context.Context, account string) (int64, error)
}
