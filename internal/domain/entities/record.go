package entities

import (
	"encoding/json"
	"sort"
	"time"
)

// RecordRef is a compact reference to one ledger record as seen by one
// account. RecordID is globally unique and stable; SequenceHint is the
// monotonic ordering key (slot or block height) used to order records
// deterministically when timestamps are absent or tie.
type RecordRef struct {
	Account      string     `json:"account"`
	RecordID     string     `json:"record_id"`
	SequenceHint int64      `json:"sequence_hint"`
	ObservedTime *time.Time `json:"observed_time,omitempty"`
	ErrorMarker  *string    `json:"error_marker,omitempty"`
}

// Failed reports whether the referenced record represents a failed or
// reverted operation.
func (r *RecordRef) Failed() bool {
	return r.ErrorMarker != nil && *r.ErrorMarker != ""
}

// RecordBody is the full payload for one record. One physical record can
// touch several accounts' balances, so bodies are keyed solely by RecordID
// and cached at most once regardless of which account triggered the fetch.
type RecordBody struct {
	RecordID     string          `json:"record_id"`
	SequenceHint int64           `json:"sequence_hint"`
	ObservedTime *time.Time      `json:"observed_time,omitempty"`
	ErrorMarker  *string         `json:"error_marker,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// Failed reports whether the record represents a failed or reverted
// operation.
func (b *RecordBody) Failed() bool {
	return b.ErrorMarker != nil && *b.ErrorMarker != ""
}

// SortBodiesAscending orders bodies in place by sequence hint, oldest
// first. Balance reconstruction and flow aggregation require ascending
// input and do not sort on their own.
func SortBodiesAscending(bodies []RecordBody) {
	sort.Slice(bodies, func(i, j int) bool {
		return bodies[i].SequenceHint < bodies[j].SequenceHint
	})
}
