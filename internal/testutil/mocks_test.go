package testutil

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMockRecordRepository_Refs(t *testing.T) {
	repo := NewMockRecordRepository()
	ctx := context.Background()

	refs := CreateRefSequence(AccountAlpha, 3)
	if err := repo.UpsertRefs(ctx, AccountAlpha, refs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-upserting the same refs must not duplicate
	if err := repo.UpsertRefs(ctx, AccountAlpha, refs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetRefs(ctx, AccountAlpha, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 refs, got %d", len(got))
	}

	// Newest first
	if got[0].RecordID != NumberedRecordID(3) {
		t.Errorf("expected %s first, got %s", NumberedRecordID(3), got[0].RecordID)
	}

	// Limit applies
	got, err = repo.GetRefs(ctx, AccountAlpha, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 refs, got %d", len(got))
	}

	// Call tracking
	if len(repo.Calls) != 4 {
		t.Errorf("expected 4 calls, got %d", len(repo.Calls))
	}
}

func TestMockRecordRepository_Bodies(t *testing.T) {
	repo := NewMockRecordRepository()
	ctx := context.Background()

	refs := CreateRefSequence(AccountAlpha, 2)
	repo.AddRefs(AccountAlpha, refs...)

	body := CreateTestBody(BodyWithRecordID(refs[0].RecordID))
	if err := repo.UpsertBody(ctx, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetBody(ctx, refs[0].RecordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected body, got nil")
	}

	// Absent body is (nil, nil)
	got, err = repo.GetBody(ctx, "rec-9999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil body, got %+v", got)
	}

	// GetBodies joins through refs
	bodies, err := repo.GetBodies(ctx, AccountAlpha, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bodies) != 1 {
		t.Errorf("expected 1 body, got %d", len(bodies))
	}

	count, err := repo.CountBodies(ctx, AccountAlpha)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 cached body, got %d", count)
	}
}

func TestMockSyncStateRepository(t *testing.T) {
	repo := NewMockSyncStateRepository()
	ctx := context.Background()

	// Absent state is (nil, nil)
	state, err := repo.Get(ctx, AccountAlpha)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state, got %+v", state)
	}

	seeded := CreateTestSyncState()
	if err := repo.Upsert(ctx, seeded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err = repo.Get(ctx, AccountAlpha)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil {
		t.Fatal("expected state, got nil")
	}
	if state.TotalKnownRecordCount != seeded.TotalKnownRecordCount {
		t.Errorf("expected count %d, got %d", seeded.TotalKnownRecordCount, state.TotalKnownRecordCount)
	}
}

func TestMockSourceClient_Pagination(t *testing.T) {
	src := NewMockSourceClient()
	ctx := context.Background()

	src.AddRecords(AccountAlpha, CreateRefSequence(AccountAlpha, 5)...)

	// First page, newest first
	page, err := src.ListRecords(ctx, AccountAlpha, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(page))
	}
	if page[0].RecordID != NumberedRecordID(5) {
		t.Errorf("expected %s first, got %s", NumberedRecordID(5), page[0].RecordID)
	}

	// Next page resumes after the cursor
	page, err = src.ListRecords(ctx, AccountAlpha, 2, page[len(page)-1].RecordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(page))
	}
	if page[0].RecordID != NumberedRecordID(3) {
		t.Errorf("expected %s first, got %s", NumberedRecordID(3), page[0].RecordID)
	}

	// Past the end
	page, err = src.ListRecords(ctx, AccountAlpha, 2, NumberedRecordID(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected empty page, got %d refs", len(page))
	}
}

func TestMockSourceClient_BodiesAndSnapshot(t *testing.T) {
	src := NewMockSourceClient()
	ctx := context.Background()

	body := CreateTestBody()
	src.SetBody(body)
	src.SetSnapshot(AccountAlpha, map[string]decimal.Decimal{
		AssetSOL: decimal.RequireFromString("11"),
	})

	got, err := src.GetRecord(ctx, body.RecordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected body, got nil")
	}

	// Unknown record is (nil, nil)
	got, err = src.GetRecord(ctx, "rec-9999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil body, got %+v", got)
	}

	snapshot, err := src.GetSnapshot(ctx, AccountAlpha)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot[AssetSOL].Equal(decimal.RequireFromString("11")) {
		t.Errorf("expected SOL balance 11, got %s", snapshot[AssetSOL])
	}

	if src.CallCount("GetRecord") != 2 {
		t.Errorf("expected 2 GetRecord calls, got %d", src.CallCount("GetRecord"))
	}
}

func TestCreateRefSequence(t *testing.T) {
	refs := CreateRefSequence(AccountBravo, 10)
	if len(refs) != 10 {
		t.Fatalf("expected 10 refs, got %d", len(refs))
	}

	// Newest first with unique ids
	ids := make(map[string]bool)
	for i, ref := range refs {
		if ref.Account != AccountBravo {
			t.Errorf("expected account %s, got %s", AccountBravo, ref.Account)
		}
		if ids[ref.RecordID] {
			t.Errorf("duplicate record id: %s", ref.RecordID)
		}
		ids[ref.RecordID] = true
		if i > 0 && refs[i-1].SequenceHint <= ref.SequenceHint {
			t.Errorf("refs not descending at index %d", i)
		}
	}
}

func TestPointerTo(t *testing.T) {
	intVal := 42
	ptr := PointerTo(intVal)
	if *ptr != 42 {
		t.Errorf("expected 42, got %d", *ptr)
	}

	strVal := "hello"
	strPtr := PointerTo(strVal)
	if *strPtr != "hello" {
		t.Errorf("expected hello, got %s", *strPtr)
	}
}
