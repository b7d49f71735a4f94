package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

type MockCall struct {
	Method string
	Args   []interface{}
}

// MockRecordRepository is an in-memory implementation of
// RecordRepository
type MockRecordRepository struct {
	mu     sync.RWMutex
	refs   map[string]map[string]entities.RecordRef
	bodies map[string]entities.RecordBody

	// Function hooks for custom behavior
	UpsertRefsFunc  func(ctx context.Context, account string, refs []entities.RecordRef) error
	GetRefsFunc     func(ctx context.Context, account string, limit int) ([]entities.RecordRef, error)
	UpsertBodyFunc  func(ctx context.Context, body *entities.RecordBody) error
	GetBodyFunc     func(ctx context.Context, recordID string) (*entities.RecordBody, error)
	GetBodiesFunc   func(ctx context.Context, account string, limit int) ([]entities.RecordBody, error)
	CountRefsFunc   func(ctx context.Context, account string) (int64, error)
	CountBodiesFunc func(ctx context.Context, account string) (int64, error)

	// Call tracking
	Calls []MockCall
}

func NewMockRecordRepository() *MockRecordRepository {
	return &MockRecordRepository{
		refs:   make(map[string]map[string]entities.RecordRef),
		bodies: make(map[string]entities.RecordBody),
		Calls:  make([]MockCall, 0),
	}
}

func (m *MockRecordRepository) UpsertRefs(ctx context.Context, account string, refs []entities.RecordRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "UpsertRefs", Args: []interface{}{account, refs}})

	if m.UpsertRefsFunc != nil {
		return m.UpsertRefsFunc(ctx, account, refs)
	}

	if m.refs[account] == nil {
		m.refs[account] = make(map[string]entities.RecordRef)
	}
	for _, ref := range refs {
		// First writer wins, matching the store's insert-if-absent
		if _, exists := m.refs[account][ref.RecordID]; exists {
			continue
		}
		ref.Account = account
		m.refs[account][ref.RecordID] = ref
	}
	return nil
}

func (m *MockRecordRepository) GetRefs(ctx context.Context, account string, limit int) ([]entities.RecordRef, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetRefs", Args: []interface{}{account, limit}})
	m.mu.Unlock()

	if m.GetRefsFunc != nil {
		return m.GetRefsFunc(ctx, account, limit)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.sortedRefs(account)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockRecordRepository) UpsertBody(ctx context.Context, body *entities.RecordBody) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "UpsertBody", Args: []interface{}{body}})

	if m.UpsertBodyFunc != nil {
		return m.UpsertBodyFunc(ctx, body)
	}

	m.bodies[body.RecordID] = *body
	return nil
}

func (m *MockRecordRepository) GetBody(ctx context.Context, recordID string) (*entities.RecordBody, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetBody", Args: []interface{}{recordID}})
	m.mu.Unlock()

	if m.GetBodyFunc != nil {
		return m.GetBodyFunc(ctx, recordID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if body, ok := m.bodies[recordID]; ok {
		return &body, nil
	}
	return nil, nil
}

func (m *MockRecordRepository) GetBodies(ctx context.Context, account string, limit int) ([]entities.RecordBody, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetBodies", Args: []interface{}{account, limit}})
	m.mu.Unlock()

	if m.GetBodiesFunc != nil {
		return m.GetBodiesFunc(ctx, account, limit)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Bodies join through the account's refs
	result := make([]entities.RecordBody, 0)
	for _, ref := range m.sortedRefs(account) {
		if body, ok := m.bodies[ref.RecordID]; ok {
			result = append(result, body)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockRecordRepository) CountRefs(ctx context.Context, account string) (int64, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "CountRefs", Args: []interface{}{account}})
	m.mu.Unlock()

	if m.CountRefsFunc != nil {
		return m.CountRefsFunc(ctx, account)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.refs[account])), nil
}

func (m *MockRecordRepository) CountBodies(ctx context.Context, account string) (int64, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "CountBodies", Args: []interface{}{account}})
	m.mu.Unlock()

	if m.CountBodiesFunc != nil {
		return m.CountBodiesFunc(ctx, account)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for recordID := range m.refs[account] {
		if _, ok := m.bodies[recordID]; ok {
			count++
		}
	}
	return count, nil
}

// sortedRefs returns the account's refs ordered by sequence hint
// descending. Callers must hold at least a read lock.
func (m *MockRecordRepository) sortedRefs(account string) []entities.RecordRef {
	result := make([]entities.RecordRef, 0, len(m.refs[account]))
	for _, ref := range m.refs[account] {
		result = append(result, ref)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SequenceHint > result[j].SequenceHint
	})
	return result
}

// AddRefs seeds refs without recording calls
func (m *MockRecordRepository) AddRefs(account string, refs ...entities.RecordRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[account] == nil {
		m.refs[account] = make(map[string]entities.RecordRef)
	}
	for _, ref := range refs {
		ref.Account = account
		m.refs[account][ref.RecordID] = ref
	}
}

// AddBody seeds a body without recording calls
func (m *MockRecordRepository) AddBody(body entities.RecordBody) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[body.RecordID] = body
}

// Reset clears all stored data and calls
func (m *MockRecordRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs = make(map[string]map[string]entities.RecordRef)
	m.bodies = make(map[string]entities.RecordBody)
	m.Calls = make([]MockCall, 0)
}

// MockSyncStateRepository is an in-memory implementation of
// SyncStateRepository
type MockSyncStateRepository struct {
	mu     sync.RWMutex
	states map[string]*entities.AccountSyncState

	// Function hooks
	GetFunc    func(ctx context.Context, account string) (*entities.AccountSyncState, error)
	UpsertFunc func(ctx context.Context, state *entities.AccountSyncState) error

	Calls []MockCall
}

func NewMockSyncStateRepository() *MockSyncStateRepository {
	return &MockSyncStateRepository{
		states: make(map[string]*entities.AccountSyncState),
		Calls:  make([]MockCall, 0),
	}
}

func (m *MockSyncStateRepository) Get(ctx context.Context, account string) (*entities.AccountSyncState, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Get", Args: []interface{}{account}})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, account)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.states[account]; ok {
		return state, nil
	}
	return nil, nil
}

func (m *MockSyncStateRepository) Upsert(ctx context.Context, state *entities.AccountSyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "Upsert", Args: []interface{}{state}})

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, state)
	}

	m.states[state.Account] = state
	return nil
}

// AddState seeds a state without recording calls
func (m *MockSyncStateRepository) AddState(state *entities.AccountSyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Account] = state
}

// Reset clears all stored data and calls
func (m *MockSyncStateRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*entities.AccountSyncState)
	m.Calls = make([]MockCall, 0)
}

// MockSourceClient is an in-memory implementation of the source
// Client. Its default ListRecords serves newest-first pages with
// before-cursor pagination, the same contract a live endpoint honors.
type MockSourceClient struct {
	mu        sync.RWMutex
	refs      map[string][]entities.RecordRef
	bodies    map[string]entities.RecordBody
	snapshots map[string]map[string]decimal.Decimal

	// Function hooks
	ListRecordsFunc func(ctx context.Context, account string, limit int, before string) ([]entities.RecordRef, error)
	GetRecordFunc   func(ctx context.Context, recordID string) (*entities.RecordBody, error)
	GetSnapshotFunc func(ctx context.Context, account string) (map[string]decimal.Decimal, error)

	Calls []MockCall
}

func NewMockSourceClient() *MockSourceClient {
	return &MockSourceClient{
		refs:      make(map[string][]entities.RecordRef),
		bodies:    make(map[string]entities.RecordBody),
		snapshots: make(map[string]map[string]decimal.Decimal),
		Calls:     make([]MockCall, 0),
	}
}

func (m *MockSourceClient) ListRecords(ctx context.Context, account string, limit int, before string) ([]entities.RecordRef, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "ListRecords", Args: []interface{}{account, limit, before}})
	m.mu.Unlock()

	if m.ListRecordsFunc != nil {
		return m.ListRecordsFunc(ctx, account, limit, before)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]entities.RecordRef, len(m.refs[account]))
	copy(refs, m.refs[account])
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].SequenceHint > refs[j].SequenceHint
	})

	start := 0
	if before != "" {
		start = len(refs)
		for i, ref := range refs {
			if ref.RecordID == before {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(refs) {
		end = len(refs)
	}
	if start >= len(refs) {
		return []entities.RecordRef{}, nil
	}
	return refs[start:end], nil
}

func (m *MockSourceClient) GetRecord(ctx context.Context, recordID string) (*entities.RecordBody, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetRecord", Args: []interface{}{recordID}})
	m.mu.Unlock()

	if m.GetRecordFunc != nil {
		return m.GetRecordFunc(ctx, recordID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if body, ok := m.bodies[recordID]; ok {
		return &body, nil
	}
	return nil, nil
}

func (m *MockSourceClient) GetSnapshot(ctx context.Context, account string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetSnapshot", Args: []interface{}{account}})
	m.mu.Unlock()

	if m.GetSnapshotFunc != nil {
		return m.GetSnapshotFunc(ctx, account)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]decimal.Decimal, len(m.snapshots[account]))
	for asset, balance := range m.snapshots[account] {
		snapshot[asset] = balance
	}
	return snapshot, nil
}

// AddRecords seeds remote refs for an account
func (m *MockSourceClient) AddRecords(account string, refs ...entities.RecordRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[account] = append(m.refs[account], refs...)
}

// SetBody seeds a remote body
func (m *MockSourceClient) SetBody(body entities.RecordBody) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[body.RecordID] = body
}

// SetSnapshot seeds the remote snapshot for an account
func (m *MockSourceClient) SetSnapshot(account string, snapshot map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[account] = snapshot
}

// CallCount returns the number of recorded calls for a method
func (m *MockSourceClient) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all stored data and calls
func (m *MockSourceClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs = make(map[string][]entities.RecordRef)
	m.bodies = make(map[string]entities.RecordBody)
	m.snapshots = make(map[string]map[string]decimal.Decimal)
	m.Calls = make([]MockCall, 0)
}
