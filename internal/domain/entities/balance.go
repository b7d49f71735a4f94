package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetDelta is the signed change in holdings for one asset, for one
// account, caused by one record. Positive means received, negative sent.
type AssetDelta struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// DecodedRecord is the decoder output for one record body as seen by one
// account: when the record was observed, whether it failed on chain, and
// the per-asset deltas it caused for that account.
type DecodedRecord struct {
	RecordID     string       `json:"record_id"`
	ObservedTime *time.Time   `json:"observed_time,omitempty"`
	Failed       bool         `json:"failed"`
	Deltas       []AssetDelta `json:"deltas"`
}

// BalancePoint is one entry of a reconstructed balance series: the balance
// of one asset immediately after the record identified by RecordID.
type BalancePoint struct {
	Asset        string          `json:"asset"`
	Timestamp    time.Time       `json:"timestamp"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Delta        decimal.Decimal `json:"delta"`
	RecordID     string          `json:"record_id"`
}

// DailyBalance is the end-of-day balance of one asset for one calendar day
// (UTC).
type DailyBalance struct {
	Date    string          `json:"date"` // YYYY-MM-DD
	Balance decimal.Decimal `json:"balance"`
}
