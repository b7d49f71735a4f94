package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/domain/repositories"
	"github.com/trailstack/ledgertrail/internal/infrastructure/cache"
)

// AnalyzerService composes sync, balance reconstruction and flow
// aggregation into one cached analysis per account.
type AnalyzerService struct {
	sync    *SyncService
	balance *BalanceService
	flow    *FlowService
	records repositories.RecordRepository
	cache   *cache.RedisCache
	logger  *zap.Logger
}

// NewAnalyzerService creates a new analyzer service. cache may be nil,
// in which case every analysis is computed fresh.
func NewAnalyzerService(
	syncSvc *SyncService,
	balance *BalanceService,
	flow *FlowService,
	records repositories.RecordRepository,
	redisCache *cache.RedisCache,
	logger *zap.Logger,
) *AnalyzerService {
	return &AnalyzerService{
		sync:    syncSvc,
		balance: balance,
		flow:    flow,
		records: records,
		cache:   redisCache,
		logger:  logger,
	}
}

// Analyze syncs the account's most recent limit records and derives
// the full analysis from the cached activity. Results are cached in
// Redis per (account, limit) until the TTL expires or the account is
// invalidated.
func (s *AnalyzerService) Analyze(ctx context.Context, account string, limit int) (*entities.AccountAnalysis, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}
	if limit <= 0 {
		limit = s.sync.config.TargetCount
	}

	cacheKey := fmt.Sprintf("analysis:%s:%d", account, limit)
	if s.cache != nil {
		var cached entities.AccountAnalysis
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			s.logger.Debug("Analysis cache hit", zap.String("account", account))
			return &cached, nil
		}
	}

	refs, err := s.sync.SyncRefs(ctx, account, limit, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sync refs: %w", err)
	}

	bodies, err := s.sync.SyncBodies(ctx, account, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to sync bodies: %w", err)
	}

	snapshot, err := s.sync.FetchSnapshot(ctx, account)
	if err != nil {
		s.logger.Warn("Snapshot unavailable, balance levels are relative",
			zap.String("account", account),
			zap.Error(err),
		)
		snapshot = nil
	}

	entities.SortBodiesAscending(bodies)

	balances, err := s.balance.Reconstruct(account, bodies, snapshot)
	if err != nil {
		return nil, err
	}
	flows, err := s.flow.Aggregate(account, bodies)
	if err != nil {
		return nil, err
	}
	dailyFlows, err := s.flow.AggregateByPeriod(account, bodies, DayBucket)
	if err != nil {
		return nil, err
	}
	summary, err := s.flow.Summarize(account, bodies)
	if err != nil {
		return nil, err
	}

	analysis := &entities.AccountAnalysis{
		Account:       account,
		Summary:       summary,
		Flows:         flows,
		DailyFlows:    dailyFlows,
		Balances:      balances,
		DailyBalances: s.balance.DailySeries(balances),
		Snapshot:      snapshot,
		GeneratedAt:   time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, analysis); err != nil {
			s.logger.Warn("Failed to cache analysis",
				zap.String("account", account),
				zap.Error(err),
			)
		}
	}

	return analysis, nil
}

// InvalidateAccount drops every cached analysis for the account, for
// any limit.
func (s *AnalyzerService) InvalidateAccount(ctx context.Context, account string) error {
	if account == "" {
		return ErrAccountRequired
	}
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePattern(ctx, fmt.Sprintf("analysis:%s:*", account))
}

// StoreStats reports cached ref and body counts plus the persisted
// sync state for the account.
func (s *AnalyzerService) StoreStats(ctx context.Context, account string) (*entities.StoreStats, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}

	refs, err := s.records.CountRefs(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to count refs: %w", err)
	}
	bodies, err := s.records.CountBodies(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to count bodies: %w", err)
	}
	state, err := s.sync.SyncState(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	return &entities.StoreStats{
		Account:      account,
		CachedRefs:   refs,
		CachedBodies: bodies,
		State:        state,
	}, nil
}
