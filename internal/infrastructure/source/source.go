package source

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// ErrExhausted indicates every endpoint failed within the shared retry
// budget. The calling sync keeps whatever it persisted before the failure.
var ErrExhausted = errors.New("all source endpoints failed")

// Client is the boundary a remote ledger source endpoint must expose.
//
// ListRecords pages backward through an account's activity, newest first;
// an empty before cursor starts at the newest record. GetRecord returns
// (nil, nil) when the record is unknown to the source, which is a
// successful call, not a failure.
type Client interface {
	ListRecords(ctx context.Context, account string, limit int, before string) ([]entities.RecordRef, error)
	GetRecord(ctx context.Context, recordID string) (*entities.RecordBody, error)
	GetSnapshot(ctx context.Context, account string) (map[string]decimal.Decimal, error)
}
