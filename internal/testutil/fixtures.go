package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// Common test accounts and assets
const (
	AccountAlpha = "A1phaWa11et11111111111111111111111111111111"
	AccountBravo = "Brav0Wa11et11111111111111111111111111111111"
	AssetSOL     = "SOL"
	AssetUSDC    = "USDC"
)

// BaseTime is the observed time fixtures start from
var BaseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// NumberedRecordID returns a deterministic record id for an index
func NumberedRecordID(n int) string {
	return fmt.Sprintf("rec-%04d", n)
}

// PayloadChange is one before/after sub-balance entry in a record
// payload.
type PayloadChange struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Pre     string `json:"pre"`
	Post    string `json:"post"`
}

// Change builds a PayloadChange from decimal strings
func Change(account, asset, pre, post string) PayloadChange {
	return PayloadChange{Account: account, Asset: asset, Pre: pre, Post: post}
}

// CreateTestPayload builds a normalized record payload from changes
func CreateTestPayload(changes ...PayloadChange) json.RawMessage {
	payload := struct {
		Changes []PayloadChange `json:"changes"`
	}{Changes: changes}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return data
}

// CreateFailedPayload builds a payload carrying an execution error
func CreateFailedPayload(errMsg string, changes ...PayloadChange) json.RawMessage {
	payload := struct {
		Error   string          `json:"error"`
		Changes []PayloadChange `json:"changes"`
	}{Error: errMsg, Changes: changes}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return data
}

// CreateTestRef creates a test record ref with default values
func CreateTestRef(opts ...RefOption) entities.RecordRef {
	observed := BaseTime
	r := entities.RecordRef{
		Account:      AccountAlpha,
		RecordID:     NumberedRecordID(1),
		SequenceHint: 10,
		ObservedTime: &observed,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return r
}

type RefOption func(*entities.RecordRef)

func RefWithAccount(account string) RefOption {
	return func(r *entities.RecordRef) {
		r.Account = account
	}
}

func RefWithRecordID(id string) RefOption {
	return func(r *entities.RecordRef) {
		r.RecordID = id
	}
}

func RefWithSequenceHint(seq int64) RefOption {
	return func(r *entities.RecordRef) {
		r.SequenceHint = seq
	}
}

func RefWithObservedTime(ts time.Time) RefOption {
	return func(r *entities.RecordRef) {
		r.ObservedTime = &ts
	}
}

func RefWithoutObservedTime() RefOption {
	return func(r *entities.RecordRef) {
		r.ObservedTime = nil
	}
}

func RefWithErrorMarker(marker string) RefOption {
	return func(r *entities.RecordRef) {
		r.ErrorMarker = &marker
	}
}

// CreateTestBody creates a test record body with default values. The
// default payload moves AccountAlpha's SOL balance from 10 to 11.
func CreateTestBody(opts ...BodyOption) entities.RecordBody {
	observed := BaseTime
	b := entities.RecordBody{
		RecordID:     NumberedRecordID(1),
		SequenceHint: 10,
		ObservedTime: &observed,
		Payload:      CreateTestPayload(Change(AccountAlpha, AssetSOL, "10", "11")),
	}

	for _, opt := range opts {
		opt(&b)
	}

	return b
}

type BodyOption func(*entities.RecordBody)

func BodyWithRecordID(id string) BodyOption {
	return func(b *entities.RecordBody) {
		b.RecordID = id
	}
}

func BodyWithSequenceHint(seq int64) BodyOption {
	return func(b *entities.RecordBody) {
		b.SequenceHint = seq
	}
}

func BodyWithObservedTime(ts time.Time) BodyOption {
	return func(b *entities.RecordBody) {
		b.ObservedTime = &ts
	}
}

func BodyWithoutObservedTime() BodyOption {
	return func(b *entities.RecordBody) {
		b.ObservedTime = nil
	}
}

func BodyWithErrorMarker(marker string) BodyOption {
	return func(b *entities.RecordBody) {
		b.ErrorMarker = &marker
	}
}

func BodyWithPayload(payload json.RawMessage) BodyOption {
	return func(b *entities.RecordBody) {
		b.Payload = payload
	}
}

func BodyWithChanges(changes ...PayloadChange) BodyOption {
	return func(b *entities.RecordBody) {
		b.Payload = CreateTestPayload(changes...)
	}
}

// BodyForRef creates a body whose identity matches a ref
func BodyForRef(ref entities.RecordRef, opts ...BodyOption) entities.RecordBody {
	base := []BodyOption{
		BodyWithRecordID(ref.RecordID),
		BodyWithSequenceHint(ref.SequenceHint),
	}
	if ref.ObservedTime != nil {
		base = append(base, BodyWithObservedTime(*ref.ObservedTime))
	} else {
		base = append(base, BodyWithoutObservedTime())
	}
	if ref.ErrorMarker != nil {
		base = append(base, BodyWithErrorMarker(*ref.ErrorMarker))
	}
	return CreateTestBody(append(base, opts...)...)
}

// CreateRefSequence creates count refs for an account, returned newest
// first the way a source listing would. Record n carries sequence hint
// 10n and an observed time n minutes after BaseTime.
func CreateRefSequence(account string, count int) []entities.RecordRef {
	refs := make([]entities.RecordRef, count)
	for i := 0; i < count; i++ {
		n := count - i
		refs[i] = CreateTestRef(
			RefWithAccount(account),
			RefWithRecordID(NumberedRecordID(n)),
			RefWithSequenceHint(int64(n*10)),
			RefWithObservedTime(BaseTime.Add(time.Duration(n)*time.Minute)),
		)
	}
	return refs
}

// CreateTestSyncState creates a test sync state with default values
func CreateTestSyncState(opts ...SyncStateOption) *entities.AccountSyncState {
	s := &entities.AccountSyncState{
		Account:               AccountAlpha,
		TotalKnownRecordCount: 3,
		MostRecentRecordID:    PointerTo(NumberedRecordID(3)),
		LastSnapshot: map[string]decimal.Decimal{
			AssetSOL: decimal.RequireFromString("11"),
		},
		LastSyncTime: BaseTime,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type SyncStateOption func(*entities.AccountSyncState)

func StateWithAccount(account string) SyncStateOption {
	return func(s *entities.AccountSyncState) {
		s.Account = account
	}
}

func StateWithSnapshot(snapshot map[string]decimal.Decimal) SyncStateOption {
	return func(s *entities.AccountSyncState) {
		s.LastSnapshot = snapshot
	}
}

func StateWithMostRecent(recordID string) SyncStateOption {
	return func(s *entities.AccountSyncState) {
		s.MostRecentRecordID = &recordID
	}
}

// PointerTo returns a pointer to the given value
func PointerTo[T any](v T) *T {
	return &v
}
