package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// Ensure Pool implements Client
var _ Client = (*Pool)(nil)

// endpoint pairs one client with its cumulative counters
type endpoint struct {
	addr     string
	client   Client
	requests atomic.Int64
	failures atomic.Int64
}

// EndpointStats is a point-in-time snapshot of one endpoint's counters
type EndpointStats struct {
	Address  string `json:"address"`
	Requests int64  `json:"requests"`
	Failures int64  `json:"failures"`
}

// NamedClient binds one endpoint address to its client implementation
type NamedClient struct {
	Address string
	Client  Client
}

// Pool fans calls out over equivalent source endpoints in strict
// round-robin order and fails over on error. Selection ignores failure
// history: a failing endpoint gets retried on its next turn. The retry
// budget is shared across endpoints, not per endpoint, and the rotation
// continues across calls.
type Pool struct {
	endpoints   []*endpoint
	next        atomic.Uint64
	maxRetries  int
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewPool creates a pool over the given endpoints. maxRetries is the total
// attempt budget per call; backoffBase scales the sleep between attempts
// proportionally to the attempt number.
func NewPool(clients []NamedClient, maxRetries int, backoffBase time.Duration, logger *zap.Logger) (*Pool, error) {
	if len(clients) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	endpoints := make([]*endpoint, len(clients))
	for i, c := range clients {
		endpoints[i] = &endpoint{addr: c.Address, client: c.Client}
	}

	return &Pool{
		endpoints:   endpoints,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		logger:      logger,
	}, nil
}

// nextEndpoint advances the round-robin rotation by one
func (p *Pool) nextEndpoint() *endpoint {
	idx := p.next.Add(1) - 1
	return p.endpoints[idx%uint64(len(p.endpoints))]
}

// call runs fn against successive endpoints until it succeeds or the
// shared retry budget is exhausted. The returned error matches both
// ErrExhausted and the last underlying cause under errors.Is. Context
// cancellation aborts immediately with the context's error.
func (p *Pool) call(ctx context.Context, op string, fn func(Client) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		ep := p.nextEndpoint()
		ep.requests.Add(1)
		sourceRequestsTotal.WithLabelValues(ep.addr).Inc()

		err := fn(ep.client)
		if err == nil {
			return nil
		}

		ep.failures.Add(1)
		sourceFailuresTotal.WithLabelValues(ep.addr).Inc()
		lastErr = err

		p.logger.Warn("Source call failed, rotating endpoint",
			zap.String("op", op),
			zap.String("endpoint", ep.addr),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < p.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * p.backoffBase):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.maxRetries, lastErr)
}

// ListRecords lists an account's record refs through the pool
func (p *Pool) ListRecords(ctx context.Context, account string, limit int, before string) ([]entities.RecordRef, error) {
	var refs []entities.RecordRef
	err := p.call(ctx, "list_records", func(c Client) error {
		var callErr error
		refs, callErr = c.ListRecords(ctx, account, limit, before)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// GetRecord fetches one record body through the pool
func (p *Pool) GetRecord(ctx context.Context, recordID string) (*entities.RecordBody, error) {
	var body *entities.RecordBody
	err := p.call(ctx, "get_record", func(c Client) error {
		var callErr error
		body, callErr = c.GetRecord(ctx, recordID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetSnapshot fetches an account's current holdings through the pool
func (p *Pool) GetSnapshot(ctx context.Context, account string) (map[string]decimal.Decimal, error) {
	var snapshot map[string]decimal.Decimal
	err := p.call(ctx, "get_snapshot", func(c Client) error {
		var callErr error
		snapshot, callErr = c.GetSnapshot(ctx, account)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Stats returns per-endpoint cumulative request and failure counts
func (p *Pool) Stats() []EndpointStats {
	stats := make([]EndpointStats, len(p.endpoints))
	for i, ep := range p.endpoints {
		stats[i] = EndpointStats{
			Address:  ep.addr,
			Requests: ep.requests.Load(),
			Failures: ep.failures.Load(),
		}
	}
	return stats
}

// LogStats logs the per-endpoint counters
func (p *Pool) LogStats() {
	for _, s := range p.Stats() {
		p.logger.Info("Source endpoint stats",
			zap.String("endpoint", s.Address),
			zap.Int64("requests", s.Requests),
			zap.Int64("failures", s.Failures),
		)
	}
}
