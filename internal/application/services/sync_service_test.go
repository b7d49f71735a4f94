package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trailstack/ledgertrail/internal/config"
	"github.com/trailstack/ledgertrail/internal/domain/entities"
	"github.com/trailstack/ledgertrail/internal/infrastructure/source"
	"github.com/trailstack/ledgertrail/internal/testutil"
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		PageSize:         2,
		TargetCount:      10,
		BodyBatchSize:    2,
		BodyConcurrency:  2,
		BatchPause:       time.Millisecond,
		PollInterval:     time.Hour,
		SchedulerWorkers: 2,
	}
}

func newTestSyncService(src source.Client, records *testutil.MockRecordRepository, states *testutil.MockSyncStateRepository, cfg config.SyncConfig) *SyncService {
	return NewSyncService(src, records, states, cfg, nil, zap.NewNop())
}

func TestSyncService_SyncRefs(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches and caches refs from the source", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		src.AddRecords(testutil.AccountAlpha, testutil.CreateRefSequence(testutil.AccountAlpha, 5)...)

		service := newTestSyncService(src, records, states, testSyncConfig())

		refs, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(refs) != 5 {
			t.Fatalf("expected 5 refs, got %d", len(refs))
		}
		if refs[0].RecordID != testutil.NumberedRecordID(5) {
			t.Errorf("expected newest ref first, got %s", refs[0].RecordID)
		}

		cached, err := records.GetRefs(ctx, testutil.AccountAlpha, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cached) != 5 {
			t.Errorf("expected 5 cached refs, got %d", len(cached))
		}
	})

	t.Run("is idempotent across repeated syncs", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		src.AddRecords(testutil.AccountAlpha, testutil.CreateRefSequence(testutil.AccountAlpha, 5)...)

		service := newTestSyncService(src, records, states, testSyncConfig())

		for i := 0; i < 2; i++ {
			if _, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false); err != nil {
				t.Fatalf("sync %d failed: %v", i+1, err)
			}
		}

		cached, err := records.GetRefs(ctx, testutil.AccountAlpha, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cached) != 5 {
			t.Fatalf("expected 5 cached refs after two syncs, got %d", len(cached))
		}

		seen := make(map[string]bool)
		for _, ref := range cached {
			if seen[ref.RecordID] {
				t.Errorf("duplicate record id in cache: %s", ref.RecordID)
			}
			seen[ref.RecordID] = true
		}
	})

	t.Run("stops once the target count is accumulated", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		src.AddRecords(testutil.AccountAlpha, testutil.CreateRefSequence(testutil.AccountAlpha, 10)...)

		service := newTestSyncService(src, records, states, testSyncConfig())

		refs, err := service.SyncRefs(ctx, testutil.AccountAlpha, 4, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(refs) != 4 {
			t.Errorf("expected 4 refs, got %d", len(refs))
		}
		// PageSize 2, target 4: exactly two pages
		if calls := src.CallCount("ListRecords"); calls != 2 {
			t.Errorf("expected 2 list calls, got %d", calls)
		}
	})

	t.Run("pages with the before cursor until the source runs out", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		src.AddRecords(testutil.AccountAlpha, testutil.CreateRefSequence(testutil.AccountAlpha, 5)...)

		service := newTestSyncService(src, records, states, testSyncConfig())

		refs, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(refs) != 5 {
			t.Errorf("expected 5 refs, got %d", len(refs))
		}
		// Pages of 2, 2 and a short 1
		if calls := src.CallCount("ListRecords"); calls != 3 {
			t.Errorf("expected 3 list calls, got %d", calls)
		}

		// Third page resumed after the oldest ref of the second
		third := src.Calls[len(src.Calls)-1]
		if before := third.Args[2].(string); before != testutil.NumberedRecordID(2) {
			t.Errorf("expected cursor %s, got %s", testutil.NumberedRecordID(2), before)
		}
	})

	t.Run("merges new refs with the existing cache", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		all := testutil.CreateRefSequence(testutil.AccountAlpha, 5)
		src.AddRecords(testutil.AccountAlpha, all...)
		// Cache already holds the three oldest
		records.AddRefs(testutil.AccountAlpha, all[2:]...)

		service := newTestSyncService(src, records, states, testSyncConfig())

		refs, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(refs) != 5 {
			t.Errorf("expected 5 merged refs, got %d", len(refs))
		}
	})

	t.Run("updates sync state from the fetched batch", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		src.AddRecords(testutil.AccountAlpha, testutil.CreateRefSequence(testutil.AccountAlpha, 5)...)

		service := newTestSyncService(src, records, states, testSyncConfig())

		if _, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		state, err := states.Get(ctx, testutil.AccountAlpha)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state == nil {
			t.Fatal("expected state, got nil")
		}
		if state.TotalKnownRecordCount != 5 {
			t.Errorf("expected count 5, got %d", state.TotalKnownRecordCount)
		}
		if state.MostRecentRecordID == nil || *state.MostRecentRecordID != testutil.NumberedRecordID(5) {
			t.Errorf("expected most recent %s, got %v", testutil.NumberedRecordID(5), state.MostRecentRecordID)
		}
		if state.LastSyncTime.IsZero() {
			t.Error("expected last sync time to be set")
		}
	})

	t.Run("moves only the sync time when nothing new arrives", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		states.AddState(testutil.CreateTestSyncState())

		service := newTestSyncService(src, records, states, testSyncConfig())

		if _, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		state, _ := states.Get(ctx, testutil.AccountAlpha)
		if state.TotalKnownRecordCount != 3 {
			t.Errorf("expected count to stay 3, got %d", state.TotalKnownRecordCount)
		}
		if state.MostRecentRecordID == nil || *state.MostRecentRecordID != testutil.NumberedRecordID(3) {
			t.Errorf("expected head to stay %s, got %v", testutil.NumberedRecordID(3), state.MostRecentRecordID)
		}
		if !state.LastSyncTime.After(testutil.BaseTime) {
			t.Error("expected last sync time to advance")
		}
	})

	t.Run("requires an account", func(t *testing.T) {
		service := newTestSyncService(testutil.NewMockSourceClient(), testutil.NewMockRecordRepository(), testutil.NewMockSyncStateRepository(), testSyncConfig())

		_, err := service.SyncRefs(ctx, "", 10, false)
		if !errors.Is(err, ErrAccountRequired) {
			t.Errorf("expected ErrAccountRequired, got %v", err)
		}
	})

	t.Run("propagates source exhaustion and keeps the cache", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		records.AddRefs(testutil.AccountAlpha, testutil.CreateRefSequence(testutil.AccountAlpha, 3)...)
		src.ListRecordsFunc = func(ctx context.Context, account string, limit int, before string) ([]entities.RecordRef, error) {
			return nil, fmt.Errorf("listing records: %w", source.ErrExhausted)
		}

		service := newTestSyncService(src, records, states, testSyncConfig())

		_, err := service.SyncRefs(ctx, testutil.AccountAlpha, 10, false)
		if !errors.Is(err, source.ErrExhausted) {
			t.Fatalf("expected ErrExhausted, got %v", err)
		}

		cached, _ := records.GetRefs(ctx, testutil.AccountAlpha, 0)
		if len(cached) != 3 {
			t.Errorf("expected cache to retain 3 refs, got %d", len(cached))
		}
	})
}

func TestSyncService_SyncBodies(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches missing bodies and persists them", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refs := testutil.CreateRefSequence(testutil.AccountAlpha, 5)
		for _, ref := range refs {
			src.SetBody(testutil.BodyForRef(ref))
		}

		service := newTestSyncService(src, records, states, testSyncConfig())

		bodies, err := service.SyncBodies(ctx, testutil.AccountAlpha, refs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bodies) != 5 {
			t.Fatalf("expected 5 bodies, got %d", len(bodies))
		}

		// Fetched order follows ref order
		for i, ref := range refs {
			if bodies[i].RecordID != ref.RecordID {
				t.Errorf("expected body %s at index %d, got %s", ref.RecordID, i, bodies[i].RecordID)
			}
		}

		for _, ref := range refs {
			body, err := records.GetBody(ctx, ref.RecordID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body == nil {
				t.Errorf("expected body %s to be persisted", ref.RecordID)
			}
		}
	})

	t.Run("serves cached bodies without source calls", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refs := testutil.CreateRefSequence(testutil.AccountAlpha, 4)
		for _, ref := range refs {
			records.AddBody(testutil.BodyForRef(ref))
		}

		service := newTestSyncService(src, records, states, testSyncConfig())

		bodies, err := service.SyncBodies(ctx, testutil.AccountAlpha, refs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bodies) != 4 {
			t.Errorf("expected 4 bodies, got %d", len(bodies))
		}
		if calls := src.CallCount("GetRecord"); calls != 0 {
			t.Errorf("expected no source calls, got %d", calls)
		}
	})

	t.Run("never refetches a body cached by another account", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refsA := testutil.CreateRefSequence(testutil.AccountAlpha, 3)
		for _, ref := range refsA {
			src.SetBody(testutil.BodyForRef(ref))
		}

		service := newTestSyncService(src, records, states, testSyncConfig())

		if _, err := service.SyncBodies(ctx, testutil.AccountAlpha, refsA); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fetchedDuringA := src.CallCount("GetRecord")

		// Bravo references the same records
		refsB := make([]entities.RecordRef, len(refsA))
		copy(refsB, refsA)
		for i := range refsB {
			refsB[i].Account = testutil.AccountBravo
		}

		bodies, err := service.SyncBodies(ctx, testutil.AccountBravo, refsB)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bodies) != 3 {
			t.Errorf("expected 3 bodies, got %d", len(bodies))
		}
		if calls := src.CallCount("GetRecord"); calls != fetchedDuringA {
			t.Errorf("expected no refetches, got %d extra calls", calls-fetchedDuringA)
		}
	})

	t.Run("drops failed fetches and returns the rest", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refs := testutil.CreateRefSequence(testutil.AccountAlpha, 10)

		failing := map[string]bool{
			testutil.NumberedRecordID(3): true,
			testutil.NumberedRecordID(7): true,
		}
		bodiesByID := make(map[string]entities.RecordBody)
		for _, ref := range refs {
			bodiesByID[ref.RecordID] = testutil.BodyForRef(ref)
		}
		src.GetRecordFunc = func(ctx context.Context, recordID string) (*entities.RecordBody, error) {
			if failing[recordID] {
				return nil, errors.New("endpoint unavailable")
			}
			body := bodiesByID[recordID]
			return &body, nil
		}

		service := newTestSyncService(src, records, states, testSyncConfig())

		bodies, err := service.SyncBodies(ctx, testutil.AccountAlpha, refs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bodies) != 8 {
			t.Fatalf("expected 8 bodies, got %d", len(bodies))
		}

		for _, ref := range refs {
			body, _ := records.GetBody(ctx, ref.RecordID)
			if failing[ref.RecordID] {
				if body != nil {
					t.Errorf("expected %s to stay absent", ref.RecordID)
				}
				continue
			}
			if body == nil {
				t.Errorf("expected %s to be persisted", ref.RecordID)
			}
		}
	})

	t.Run("requires an account", func(t *testing.T) {
		service := newTestSyncService(testutil.NewMockSourceClient(), testutil.NewMockRecordRepository(), testutil.NewMockSyncStateRepository(), testSyncConfig())

		_, err := service.SyncBodies(ctx, "", nil)
		if !errors.Is(err, ErrAccountRequired) {
			t.Errorf("expected ErrAccountRequired, got %v", err)
		}
	})
}

func TestSyncService_SyncAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("runs a full pass and stores the snapshot", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refs := testutil.CreateRefSequence(testutil.AccountAlpha, 3)
		src.AddRecords(testutil.AccountAlpha, refs...)
		for _, ref := range refs {
			src.SetBody(testutil.BodyForRef(ref))
		}
		src.SetSnapshot(testutil.AccountAlpha, map[string]decimal.Decimal{
			testutil.AssetSOL: decimal.RequireFromString("13"),
		})

		service := newTestSyncService(src, records, states, testSyncConfig())

		result, err := service.SyncAccount(ctx, testutil.AccountAlpha)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.RefsTotal != 3 {
			t.Errorf("expected 3 refs, got %d", result.RefsTotal)
		}
		if result.BodiesTotal != 3 {
			t.Errorf("expected 3 bodies, got %d", result.BodiesTotal)
		}
		if result.SnapshotSize != 1 {
			t.Errorf("expected snapshot of 1 asset, got %d", result.SnapshotSize)
		}

		state, _ := states.Get(ctx, testutil.AccountAlpha)
		if state == nil {
			t.Fatal("expected state, got nil")
		}
		if !state.LastSnapshot[testutil.AssetSOL].Equal(decimal.RequireFromString("13")) {
			t.Errorf("expected stored snapshot 13, got %s", state.LastSnapshot[testutil.AssetSOL])
		}
	})

	t.Run("degrades when the snapshot fetch fails", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refs := testutil.CreateRefSequence(testutil.AccountAlpha, 2)
		src.AddRecords(testutil.AccountAlpha, refs...)
		for _, ref := range refs {
			src.SetBody(testutil.BodyForRef(ref))
		}
		src.GetSnapshotFunc = func(ctx context.Context, account string) (map[string]decimal.Decimal, error) {
			return nil, errors.New("snapshot endpoint down")
		}

		service := newTestSyncService(src, records, states, testSyncConfig())

		result, err := service.SyncAccount(ctx, testutil.AccountAlpha)
		if err != nil {
			t.Fatalf("expected degraded pass to succeed, got %v", err)
		}
		if result.SnapshotSize != 0 {
			t.Errorf("expected empty snapshot, got %d assets", result.SnapshotSize)
		}
		if result.BodiesTotal != 2 {
			t.Errorf("expected 2 bodies, got %d", result.BodiesTotal)
		}
	})
}

func TestSyncService_FetchSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the fetched snapshot", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		src.SetSnapshot(testutil.AccountAlpha, map[string]decimal.Decimal{
			testutil.AssetSOL:  decimal.RequireFromString("5.5"),
			testutil.AssetUSDC: decimal.RequireFromString("120"),
		})

		service := newTestSyncService(src, records, states, testSyncConfig())

		snapshot, err := service.FetchSnapshot(ctx, testutil.AccountAlpha)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(snapshot) != 2 {
			t.Errorf("expected 2 assets, got %d", len(snapshot))
		}

		state, _ := states.Get(ctx, testutil.AccountAlpha)
		if state == nil {
			t.Fatal("expected state, got nil")
		}
		if !state.LastSnapshot[testutil.AssetUSDC].Equal(decimal.RequireFromString("120")) {
			t.Errorf("expected persisted USDC balance 120, got %s", state.LastSnapshot[testutil.AssetUSDC])
		}
	})

	t.Run("requires an account", func(t *testing.T) {
		service := newTestSyncService(testutil.NewMockSourceClient(), testutil.NewMockRecordRepository(), testutil.NewMockSyncStateRepository(), testSyncConfig())

		_, err := service.FetchSnapshot(ctx, "")
		if !errors.Is(err, ErrAccountRequired) {
			t.Errorf("expected ErrAccountRequired, got %v", err)
		}
	})
}

func TestSyncService_StartStop(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an empty account list", func(t *testing.T) {
		service := newTestSyncService(testutil.NewMockSourceClient(), testutil.NewMockRecordRepository(), testutil.NewMockSyncStateRepository(), testSyncConfig())

		if err := service.Start(ctx); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("runs a first pass immediately and stops cleanly", func(t *testing.T) {
		src := testutil.NewMockSourceClient()
		records := testutil.NewMockRecordRepository()
		states := testutil.NewMockSyncStateRepository()
		refs := testutil.CreateRefSequence(testutil.AccountAlpha, 3)
		src.AddRecords(testutil.AccountAlpha, refs...)
		for _, ref := range refs {
			src.SetBody(testutil.BodyForRef(ref))
		}

		cfg := testSyncConfig()
		cfg.Accounts = []string{testutil.AccountAlpha}

		service := newTestSyncService(src, records, states, cfg)

		var mu sync.Mutex
		var synced []string
		service.OnAccountSynced(func(ctx context.Context, account string) {
			mu.Lock()
			synced = append(synced, account)
			mu.Unlock()
		})

		if err := service.Start(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			count, _ := records.CountRefs(ctx, testutil.AccountAlpha)
			if count == 3 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("first sync pass never completed")
			}
			time.Sleep(10 * time.Millisecond)
		}

		service.Stop()

		mu.Lock()
		defer mu.Unlock()
		if len(synced) == 0 || synced[0] != testutil.AccountAlpha {
			t.Errorf("expected post-sync hook for %s, got %v", testutil.AccountAlpha, synced)
		}
	})
}
