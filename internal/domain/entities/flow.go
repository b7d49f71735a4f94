package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// FlowTotals accumulates received/sent volume for one asset (or one time
// bucket). Net is always Received minus Sent; RecordCount counts records,
// not sub-entries.
type FlowTotals struct {
	Received    decimal.Decimal `json:"received"`
	Sent        decimal.Decimal `json:"sent"`
	Net         decimal.Decimal `json:"net"`
	RecordCount int64           `json:"record_count"`
}

// ActivitySummary summarizes the cached activity of one account.
type ActivitySummary struct {
	Account       string     `json:"account"`
	TotalRecords  int64      `json:"total_records"`
	Successful    int64      `json:"successful"`
	Failed        int64      `json:"failed"`
	FirstObserved *time.Time `json:"first_observed,omitempty"`
	LastObserved  *time.Time `json:"last_observed,omitempty"`
}
