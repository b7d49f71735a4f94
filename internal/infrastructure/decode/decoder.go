package decode

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// ErrMalformedPayload indicates a record payload that could not be decoded.
// Callers skip the record and count the failure; one bad record never
// aborts a batch.
var ErrMalformedPayload = errors.New("malformed record payload")

// dustThreshold absorbs float quantization from upstream normalizers.
// Deltas with a smaller magnitude are discarded.
var dustThreshold = decimal.New(1, -9)

// balanceChange is one embedded before/after sub-balance entry
type balanceChange struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Pre     decimal.Decimal `json:"pre"`
	Post    decimal.Decimal `json:"post"`
}

// recordPayload is the normalized payload schema: per-account, per-asset
// balances before and after the record, plus an optional error marker
type recordPayload struct {
	Error   *string         `json:"error,omitempty"`
	Changes []balanceChange `json:"changes"`
}

// Record decodes one body into the per-asset deltas it caused for one
// account. Sub-entries for the same asset are summed into a single delta;
// entries below the dust threshold are dropped. Failed records decode with
// Failed set and no deltas, since a reverted operation moves no balance.
func Record(body *entities.RecordBody, account string) (*entities.DecodedRecord, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: nil body", ErrMalformedPayload)
	}

	decoded := &entities.DecodedRecord{
		RecordID:     body.RecordID,
		ObservedTime: body.ObservedTime,
		Failed:       body.Failed(),
	}

	if len(body.Payload) == 0 {
		return decoded, nil
	}

	var payload recordPayload
	if err := json.Unmarshal(body.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", ErrMalformedPayload, body.RecordID, err)
	}

	if payload.Error != nil && *payload.Error != "" {
		decoded.Failed = true
	}
	if decoded.Failed {
		return decoded, nil
	}

	// Sum per asset in first-touch order so output is deterministic
	sums := make(map[string]decimal.Decimal)
	var order []string

	for _, change := range payload.Changes {
		if change.Account != account || change.Asset == "" {
			continue
		}
		if _, seen := sums[change.Asset]; !seen {
			order = append(order, change.Asset)
		}
		sums[change.Asset] = sums[change.Asset].Add(change.Post.Sub(change.Pre))
	}

	for _, asset := range order {
		delta := sums[asset]
		if delta.Abs().LessThan(dustThreshold) {
			continue
		}
		decoded.Deltas = append(decoded.Deltas, entities.AssetDelta{
			Asset:  asset,
			Amount: delta,
		})
	}

	return decoded, nil
}

// Records decodes multiple bodies for one account, preserving input order.
// Returns the decoded records and the indices of bodies that failed to
// decode.
func Records(bodies []entities.RecordBody, account string) ([]entities.DecodedRecord, []int) {
	decoded := make([]entities.DecodedRecord, 0, len(bodies))
	failedIndices := make([]int, 0)

	for i := range bodies {
		rec, err := Record(&bodies[i], account)
		if err != nil {
			failedIndices = append(failedIndices, i)
			continue
		}
		decoded = append(decoded, *rec)
	}

	return decoded, failedIndices
}
