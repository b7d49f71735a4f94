package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/infrastructure/decode"
)

// BalanceService reconstructs per-asset balance histories from cached
// record bodies, anchored to a known-current snapshot.
type BalanceService struct {
	logger *zap.Logger
}

// NewBalanceService creates a new balance service.
func NewBalanceService(logger *zap.Logger) *BalanceService {
	return &BalanceService{logger: logger}
}

// Reconstruct replays the account's decoded deltas into one balance
// series per asset. bodies must be sorted ascending by sequence hint;
// unsorted input produces wrong series. snapshot holds the current
// balances the series must end at; assets missing from it start at 0,
// so their absolute levels are best-effort while the movement shape
// stays exact.
//
// The replay runs in two passes: a backward pass subtracts every delta
// from the snapshot to find the balances just before the oldest cached
// record, then a forward pass re-applies the deltas from that anchor,
// emitting one point per touched asset per record. Records that fail
// to decode are skipped and counted; failed records carry no deltas
// and move nothing. Records without an observed time advance the
// working balances but emit no points.
func (s *BalanceService) Reconstruct(account string, bodies []entities.RecordBody, snapshot map[string]decimal.Decimal) (map[string][]entities.BalancePoint, error) {
	if account == "" {
		return nil, fmt.Errorf("failed to reconstruct balances: %w", ErrAccountRequired)
	}

	decoded := s.decodeAll(account, bodies)
	anchor := anchorBalances(decoded, snapshot)

	// The forward pass works on its own copy so the anchor stays
	// untouched for replay verification.
	working := make(map[string]decimal.Decimal, len(anchor))
	for asset, balance := range anchor {
		working[asset] = balance
	}

	series := make(map[string][]entities.BalancePoint)
	for _, rec := range decoded {
		for _, delta := range rec.Deltas {
			balance := working[delta.Asset].Add(delta.Amount)
			working[delta.Asset] = balance

			if rec.ObservedTime == nil {
				continue
			}
			series[delta.Asset] = append(series[delta.Asset], entities.BalancePoint{
				Asset:        delta.Asset,
				Timestamp:    *rec.ObservedTime,
				BalanceAfter: balance,
				Delta:        delta.Amount,
				RecordID:     rec.RecordID,
			})
		}
	}

	return series, nil
}

// BalanceAt returns the balance as of t: the BalanceAfter of the last
// point at or before t, or 0 when t precedes the first point. points
// must be ascending by timestamp, as produced by Reconstruct.
func (s *BalanceService) BalanceAt(points []entities.BalancePoint, t time.Time) decimal.Decimal {
	balance := decimal.Zero
	for _, p := range points {
		if p.Timestamp.After(t) {
			break
		}
		balance = p.BalanceAfter
	}
	return balance
}

// DailySeries rolls sparse balance points up into dense end-of-day
// balances, one entry per UTC calendar day from the first to the last
// observed day across all assets. Days without activity carry the
// previous day's balance forward.
func (s *BalanceService) DailySeries(series map[string][]entities.BalancePoint) map[string][]entities.DailyBalance {
	var first, last time.Time
	var found bool
	for _, points := range series {
		if len(points) == 0 {
			continue
		}
		f, l := points[0].Timestamp, points[len(points)-1].Timestamp
		if !found {
			first, last = f, l
			found = true
			continue
		}
		if f.Before(first) {
			first = f
		}
		if l.After(last) {
			last = l
		}
	}

	daily := make(map[string][]entities.DailyBalance, len(series))
	if !found {
		return daily
	}

	firstDay := first.UTC().Truncate(24 * time.Hour)
	lastDay := last.UTC().Truncate(24 * time.Hour)

	for asset, points := range series {
		if len(points) == 0 {
			continue
		}

		// Balance held before the asset's first point
		balance := points[0].BalanceAfter.Sub(points[0].Delta)

		var out []entities.DailyBalance
		idx := 0
		for day := firstDay; !day.After(lastDay); day = day.Add(24 * time.Hour) {
			dayEnd := day.Add(24 * time.Hour)
			for idx < len(points) && points[idx].Timestamp.Before(dayEnd) {
				balance = points[idx].BalanceAfter
				idx++
			}
			out = append(out, entities.DailyBalance{
				Date:    day.Format("2006-01-02"),
				Balance: balance,
			})
		}
		daily[asset] = out
	}

	return daily
}

func (s *BalanceService) decodeAll(account string, bodies []entities.RecordBody) []*entities.DecodedRecord {
	decoded := make([]*entities.DecodedRecord, 0, len(bodies))
	skipped := 0
	for i := range bodies {
		rec, err := decode.Record(&bodies[i], account)
		if err != nil {
			skipped++
			s.logger.Debug("Skipping undecodable record",
				zap.String("record_id", bodies[i].RecordID),
				zap.Error(err),
			)
			continue
		}
		decoded = append(decoded, rec)
	}
	if skipped > 0 {
		s.logger.Warn("Skipped undecodable records",
			zap.String("account", account),
			zap.Int("skipped", skipped),
		)
	}
	return decoded
}

// anchorBalances walks the decoded records newest to oldest, undoing
// each delta from the snapshot, and returns the balances in effect
// just before the oldest record.
func anchorBalances(decoded []*entities.DecodedRecord, snapshot map[string]decimal.Decimal) map[string]decimal.Decimal {
	working := make(map[string]decimal.Decimal, len(snapshot))
	for asset, balance := range snapshot {
		working[asset] = balance
	}
	for i := len(decoded) - 1; i >= 0; i-- {
		for _, delta := range decoded[i].Deltas {
			working[delta.Asset] = working[delta.Asset].Sub(delta.Amount)
		}
	}
	return working
}
