package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trailstack/ledgertrail/internal/config"
	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/domain/repositories"
	"github.com/trailstack/ledgertrail/internal/infrastructure/source"
)

// SyncResult summarizes one full sync pass over an account.
type SyncResult struct {
	Account      string        `json:"account"`
	RefsTotal    int           `json:"refs_total"`
	BodiesTotal  int           `json:"bodies_total"`
	SnapshotSize int           `json:"snapshot_size"`
	Duration     time.Duration `json:"duration"`
}

// SyncService keeps the local record store caught up with the remote
// source. Ref listings and bodies are fetched through the source pool
// and persisted before they are returned, so every result is
// reconstructible from the store alone.
type SyncService struct {
	source  source.Client
	records repositories.RecordRepository
	states  repositories.SyncStateRepository
	config  config.SyncConfig
	metrics *SyncMetrics
	logger  *zap.Logger

	// One mutex per account serializes concurrent syncs of the same
	// account while leaving distinct accounts fully parallel.
	locks *xsync.MapOf[string, *sync.Mutex]

	onSynced func(ctx context.Context, account string)

	scheduler pond.Pool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewSyncService creates a new sync service. metrics may be nil.
func NewSyncService(
	src source.Client,
	records repositories.RecordRepository,
	states repositories.SyncStateRepository,
	cfg config.SyncConfig,
	metrics *SyncMetrics,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		source:  src,
		records: records,
		states:  states,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		locks:   xsync.NewMap[string, *sync.Mutex](),
		stopCh:  make(chan struct{}),
	}
}

// OnAccountSynced registers fn to run after each successful daemon
// sync of an account, before the next account is picked up. Used to
// drop cached analyses the fresh data just staled. Must be called
// before Start.
func (s *SyncService) OnAccountSynced(fn func(ctx context.Context, account string)) {
	s.onSynced = fn
}

// Start launches the background sync loop over the configured accounts.
func (s *SyncService) Start(ctx context.Context) error {
	if len(s.config.Accounts) == 0 {
		return errors.New("no accounts configured for sync")
	}

	s.scheduler = pond.NewPool(s.config.SchedulerWorkers, pond.WithQueueSize(len(s.config.Accounts)))

	s.logger.Info("Starting sync service",
		zap.Strings("accounts", s.config.Accounts),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("scheduler_workers", s.config.SchedulerWorkers),
	)

	s.wg.Add(1)
	go s.runSyncLoop(ctx)

	return nil
}

// Stop signals the sync loop to stop and waits for in-flight syncs to
// finish.
func (s *SyncService) Stop() {
	s.logger.Info("Stopping sync service")
	close(s.stopCh)
	s.wg.Wait()
	if s.scheduler != nil {
		s.scheduler.StopAndWait()
	}
	s.logger.Info("Sync service stopped")
}

func (s *SyncService) runSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run once immediately instead of waiting a full interval
	s.syncAllAccounts(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync loop stopped due to context cancellation")
			return
		case <-s.stopCh:
			s.logger.Info("Sync loop stopped")
			return
		case <-ticker.C:
			s.syncAllAccounts(ctx)
		}
	}
}

func (s *SyncService) syncAllAccounts(ctx context.Context) {
	group := s.scheduler.NewGroupContext(ctx)

	for _, account := range s.config.Accounts {
		account := account // capture
		group.Submit(func() {
			result, err := s.SyncAccount(ctx, account)
			if err != nil {
				s.logger.Error("Account sync failed",
					zap.String("account", account),
					zap.Error(err),
				)
				if s.metrics != nil {
					s.metrics.SyncErrors.Inc()
				}
				return
			}
			s.logger.Info("Account synced",
				zap.String("account", account),
				zap.Int("refs", result.RefsTotal),
				zap.Int("bodies", result.BodiesTotal),
				zap.Duration("took", result.Duration),
			)
			if s.onSynced != nil {
				s.onSynced(ctx, account)
			}
		})
	}

	_ = group.Wait()
}

// SyncAccount runs a full pass for one account: refs, bodies, then a
// fresh balance snapshot. A snapshot failure degrades to the previous
// snapshot instead of failing the pass.
func (s *SyncService) SyncAccount(ctx context.Context, account string) (*SyncResult, error) {
	start := time.Now()

	refs, err := s.SyncRefs(ctx, account, s.config.TargetCount, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sync refs for %s: %w", account, err)
	}

	bodies, err := s.SyncBodies(ctx, account, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to sync bodies for %s: %w", account, err)
	}

	snapshot, err := s.FetchSnapshot(ctx, account)
	if err != nil {
		s.logger.Warn("Snapshot fetch failed, keeping previous snapshot",
			zap.String("account", account),
			zap.Error(err),
		)
	}

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.SyncRuns.Inc()
		s.metrics.SyncDuration.Observe(duration.Seconds())
		s.metrics.LastSyncUnix.SetToCurrentTime()
	}

	return &SyncResult{
		Account:      account,
		RefsTotal:    len(refs),
		BodiesTotal:  len(bodies),
		SnapshotSize: len(snapshot),
		Duration:     duration,
	}, nil
}

// SyncRefs brings the ref cache for account up to date and returns up
// to targetCount refs, newest first. The remote source is always
// consulted for at least one page so newly arrived records are seen
// even when the cache already holds targetCount entries. force skips
// the cache probe that otherwise reports the pre-sync state.
func (s *SyncService) SyncRefs(ctx context.Context, account string, targetCount int, force bool) ([]entities.RecordRef, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}
	if targetCount <= 0 {
		targetCount = s.config.TargetCount
	}

	lock := s.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	if !force {
		cached, err := s.records.GetRefs(ctx, account, targetCount)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached refs: %w", err)
		}
		if len(cached) > 0 {
			s.logger.Debug("Ref cache state before sync",
				zap.String("account", account),
				zap.Int("cached_refs", len(cached)),
				zap.String("most_recent", cached[0].RecordID),
			)
		}
	}

	newRefs, err := s.fetchRefPages(ctx, account, targetCount)
	if err != nil {
		return nil, err
	}

	if len(newRefs) > 0 {
		if err := s.records.UpsertRefs(ctx, account, newRefs); err != nil {
			return nil, fmt.Errorf("failed to persist refs: %w", err)
		}
		if s.metrics != nil {
			s.metrics.RefsSynced.Add(float64(len(newRefs)))
		}
	}

	if err := s.updateSyncState(ctx, account, newRefs); err != nil {
		s.logger.Warn("Failed to update sync state",
			zap.String("account", account),
			zap.Error(err),
		)
	}

	return s.records.GetRefs(ctx, account, targetCount)
}

// fetchRefPages pages backwards through the remote listing, newest
// first, until targetCount refs are accumulated or the source runs out.
func (s *SyncService) fetchRefPages(ctx context.Context, account string, targetCount int) ([]entities.RecordRef, error) {
	var refs []entities.RecordRef
	before := ""

	for len(refs) < targetCount {
		remaining := targetCount - len(refs)
		pageSize := s.config.PageSize
		if pageSize <= 0 || pageSize > remaining {
			pageSize = remaining
		}

		page, err := s.source.ListRecords(ctx, account, pageSize, before)
		if err != nil {
			return nil, fmt.Errorf("failed to list records for %s: %w", account, err)
		}
		if len(page) == 0 {
			break
		}

		refs = append(refs, page...)
		before = page[len(page)-1].RecordID

		s.logger.Debug("Fetched ref page",
			zap.String("account", account),
			zap.Int("page_size", len(page)),
			zap.Int("total", len(refs)),
		)

		// A short page means the source has no older records
		if len(page) < pageSize {
			break
		}
	}

	return refs, nil
}

// updateSyncState records the outcome of a ref sync. When no new refs
// arrived only the sync timestamp moves; the previous count, head
// record and snapshot stay intact.
func (s *SyncService) updateSyncState(ctx context.Context, account string, newRefs []entities.RecordRef) error {
	state, err := s.states.Get(ctx, account)
	if err != nil {
		return err
	}
	if state == nil {
		state = &entities.AccountSyncState{Account: account}
	}

	if len(newRefs) > 0 {
		state.TotalKnownRecordCount = int64(len(newRefs))
		head := newRefs[0].RecordID
		state.MostRecentRecordID = &head
	}
	state.LastSyncTime = time.Now().UTC()

	return s.states.Upsert(ctx, state)
}

// SyncBodies ensures a body is cached for every ref and returns them:
// already-cached bodies first, then freshly fetched ones, each group
// in ref order. Records whose body cannot be fetched are dropped from
// the result rather than failing the call.
func (s *SyncService) SyncBodies(ctx context.Context, account string, refs []entities.RecordRef) ([]entities.RecordBody, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}

	bodies := make([]entities.RecordBody, 0, len(refs))
	var missing []entities.RecordRef

	for _, ref := range refs {
		cached, err := s.records.GetBody(ctx, ref.RecordID)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached body: %w", err)
		}
		if cached != nil {
			bodies = append(bodies, *cached)
			continue
		}
		missing = append(missing, ref)
	}

	s.logger.Info("Body cache probed",
		zap.String("account", account),
		zap.Int("cached", len(bodies)),
		zap.Int("missing", len(missing)),
	)

	if len(missing) == 0 {
		return bodies, nil
	}

	fetched, err := s.fetchMissingBodies(ctx, missing)
	if err != nil {
		return nil, err
	}

	return append(bodies, fetched...), nil
}

// fetchMissingBodies pulls bodies in small sequential batches with a
// bounded number of concurrent source calls per batch, pausing between
// batches to stay polite toward the source.
func (s *SyncService) fetchMissingBodies(ctx context.Context, missing []entities.RecordRef) ([]entities.RecordBody, error) {
	batchSize := s.config.BodyBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	concurrency := s.config.BodyConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	fetched := make([]entities.RecordBody, 0, len(missing))

	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		// Indexed slots keep worker writes disjoint and preserve order
		results := make([]*entities.RecordBody, len(batch))

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for i, ref := range batch {
			i, ref := i, ref // capture
			g.Go(func() error {
				body, err := s.fetchAndPersistBody(gCtx, ref)
				if err != nil {
					// One bad record never aborts the batch
					s.logger.Warn("Dropping record body",
						zap.String("record_id", ref.RecordID),
						zap.Error(err),
					)
					if s.metrics != nil {
						s.metrics.BodyFetchFailures.Inc()
					}
					return nil
				}
				results[i] = body
				return nil
			})
		}

		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, body := range results {
			if body != nil {
				fetched = append(fetched, *body)
			}
		}

		if end < len(missing) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.config.BatchPause):
			}
		}
	}

	return fetched, nil
}

// fetchAndPersistBody fetches one body and writes it to the store
// before returning it. A (nil, nil) return means the source does not
// know the record.
func (s *SyncService) fetchAndPersistBody(ctx context.Context, ref entities.RecordRef) (*entities.RecordBody, error) {
	body, err := s.source.GetRecord(ctx, ref.RecordID)
	if err != nil {
		return nil, err
	}
	if body == nil {
		s.logger.Debug("Record absent at source", zap.String("record_id", ref.RecordID))
		return nil, nil
	}

	if err := s.records.UpsertBody(ctx, body); err != nil {
		return nil, fmt.Errorf("failed to persist body: %w", err)
	}
	if s.metrics != nil {
		s.metrics.BodiesFetched.Inc()
	}

	return body, nil
}

// FetchSnapshot pulls the current balance snapshot for account from
// the source and persists it into the account's sync state.
func (s *SyncService) FetchSnapshot(ctx context.Context, account string) (map[string]decimal.Decimal, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}

	snapshot, err := s.source.GetSnapshot(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot for %s: %w", account, err)
	}

	lock := s.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.states.Get(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	if state == nil {
		state = &entities.AccountSyncState{Account: account, LastSyncTime: time.Now().UTC()}
	}
	state.LastSnapshot = snapshot

	if err := s.states.Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	return snapshot, nil
}

// SyncState returns the persisted sync state for account, or nil when
// the account has never been synced.
func (s *SyncService) SyncState(ctx context.Context, account string) (*entities.AccountSyncState, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}
	return s.states.Get(ctx, account)
}

func (s *SyncService) accountLock(account string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(account, &sync.Mutex{})
	return lock
}
