package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountAnalysis bundles everything derived for one account in a
// single pass: activity summary, per-asset flows and balance series,
// daily rollups, and the snapshot the series are anchored to.
type AccountAnalysis struct {
	Account       string                     `json:"account"`
	Summary       *ActivitySummary           `json:"summary"`
	Flows         map[string]FlowTotals      `json:"flows"`
	DailyFlows    map[string]FlowTotals      `json:"daily_flows"`
	Balances      map[string][]BalancePoint  `json:"balances"`
	DailyBalances map[string][]DailyBalance  `json:"daily_balances"`
	Snapshot      map[string]decimal.Decimal `json:"snapshot,omitempty"`
	GeneratedAt   time.Time                  `json:"generated_at"`
}

// StoreStats reports how much of an account's activity is cached
// locally.
type StoreStats struct {
	Account      string            `json:"account"`
	CachedRefs   int64             `json:"cached_refs"`
	CachedBodies int64             `json:"cached_bodies"`
	State        *AccountSyncState `json:"state,omitempty"`
}
