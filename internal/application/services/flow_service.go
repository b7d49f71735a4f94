package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/infrastructure/decode"
)

// DayBucket maps a timestamp to its UTC calendar day, the usual
// bucketing function for AggregateByPeriod.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FlowService computes directional flow totals from cached record
// bodies.
type FlowService struct {
	logger *zap.Logger
}

// NewFlowService creates a new flow service.
func NewFlowService(logger *zap.Logger) *FlowService {
	return &FlowService{logger: logger}
}

// Aggregate totals the account's flows per asset: positive deltas add
// to Received, negative ones to Sent (as a positive magnitude), and
// Net accumulates the signed sum. RecordCount increments once per
// record per asset. Failed and undecodable records contribute nothing.
func (s *FlowService) Aggregate(account string, bodies []entities.RecordBody) (map[string]entities.FlowTotals, error) {
	if account == "" {
		return nil, fmt.Errorf("failed to aggregate flows: %w", ErrAccountRequired)
	}

	totals := make(map[string]entities.FlowTotals)
	skipped := 0
	for i := range bodies {
		rec, err := decode.Record(&bodies[i], account)
		if err != nil {
			skipped++
			continue
		}
		for _, delta := range rec.Deltas {
			t := totals[delta.Asset]
			applyFlow(&t, delta)
			t.RecordCount++
			totals[delta.Asset] = t
		}
	}
	s.logSkipped(account, skipped)

	return totals, nil
}

// AggregateByPeriod totals flows per time bucket across all assets.
// bucketFn assigns each record's observed time to a bucket label and
// defaults to DayBucket. Records without an observed time have no
// bucket and are skipped. RecordCount increments once per record per
// bucket.
func (s *FlowService) AggregateByPeriod(account string, bodies []entities.RecordBody, bucketFn func(time.Time) string) (map[string]entities.FlowTotals, error) {
	if account == "" {
		return nil, fmt.Errorf("failed to aggregate flows by period: %w", ErrAccountRequired)
	}
	if bucketFn == nil {
		bucketFn = DayBucket
	}

	totals := make(map[string]entities.FlowTotals)
	skipped := 0
	for i := range bodies {
		rec, err := decode.Record(&bodies[i], account)
		if err != nil {
			skipped++
			continue
		}
		if rec.ObservedTime == nil || len(rec.Deltas) == 0 {
			continue
		}

		bucket := bucketFn(*rec.ObservedTime)
		t := totals[bucket]
		for _, delta := range rec.Deltas {
			applyFlow(&t, delta)
		}
		t.RecordCount++
		totals[bucket] = t
	}
	s.logSkipped(account, skipped)

	return totals, nil
}

// Summarize reports record counts and the observed time span of the
// account's cached activity.
func (s *FlowService) Summarize(account string, bodies []entities.RecordBody) (*entities.ActivitySummary, error) {
	if account == "" {
		return nil, fmt.Errorf("failed to summarize activity: %w", ErrAccountRequired)
	}

	summary := &entities.ActivitySummary{
		Account:      account,
		TotalRecords: int64(len(bodies)),
	}

	var first, last time.Time
	var seen bool
	for i := range bodies {
		if bodies[i].Failed() {
			summary.Failed++
		} else {
			summary.Successful++
		}

		ts := bodies[i].ObservedTime
		if ts == nil {
			continue
		}
		if !seen {
			first, last = *ts, *ts
			seen = true
			continue
		}
		if ts.Before(first) {
			first = *ts
		}
		if ts.After(last) {
			last = *ts
		}
	}
	if seen {
		f, l := first, last
		summary.FirstObserved = &f
		summary.LastObserved = &l
	}

	return summary, nil
}

func applyFlow(t *entities.FlowTotals, delta entities.AssetDelta) {
	switch delta.Amount.Sign() {
	case 1:
		t.Received = t.Received.Add(delta.Amount)
	case -1:
		t.Sent = t.Sent.Add(delta.Amount.Neg())
	}
	t.Net = t.Net.Add(delta.Amount)
}

func (s *FlowService) logSkipped(account string, skipped int) {
	if skipped == 0 {
		return
	}
	s.logger.Warn("Skipped undecodable records",
		zap.String("account", account),
		zap.Int("skipped", skipped),
	)
}
