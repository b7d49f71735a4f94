package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSyncState tracks sync progress for one account.
//
// TotalKnownRecordCount and MostRecentRecordID reflect the most recent
// fetch batch, not a recount of the full cache; treat the count as an
// approximation and use the store's ref count for an authoritative number.
type AccountSyncState struct {
	Account               string                     `json:"account"`
	TotalKnownRecordCount int64                      `json:"total_known_record_count"`
	MostRecentRecordID    *string                    `json:"most_recent_record_id,omitempty"`
	LastSnapshot          map[string]decimal.Decimal `json:"last_snapshot,omitempty"`
	LastSyncTime          time.Time                  `json:"last_sync_time"`
}
