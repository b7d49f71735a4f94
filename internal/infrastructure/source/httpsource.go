package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trailstack/ledgertrail/internal/domain/entities"
)

// Ensure HTTPSource implements Client
var _ Client = (*HTTPSource)(nil)

// HTTPSource talks to one ledger source endpoint over its JSON HTTP API.
// Amounts arrive as decimal strings, chain clocks as unix seconds.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a client for one endpoint base URL
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// refPayload is the wire form of one record ref
type refPayload struct {
	RecordID     string  `json:"record_id"`
	SequenceHint int64   `json:"sequence_hint"`
	ObservedTime *int64  `json:"observed_time,omitempty"`
	ErrorMarker  *string `json:"error_marker,omitempty"`
}

// bodyPayload is the wire form of one record body
type bodyPayload struct {
	RecordID     string          `json:"record_id"`
	SequenceHint int64           `json:"sequence_hint"`
	ObservedTime *int64          `json:"observed_time,omitempty"`
	ErrorMarker  *string         `json:"error_marker,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// ListRecords pages through an account's activity, newest first
func (s *HTTPSource) ListRecords(ctx context.Context, account string, limit int, before string) ([]entities.RecordRef, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		query.Set("before", before)
	}

	endpoint := s.baseURL + "/v1/accounts/" + url.PathEscape(account) + "/records"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payloads []refPayload
	if err := s.getJSON(ctx, endpoint, &payloads); err != nil {
		return nil, err
	}

	refs := make([]entities.RecordRef, len(payloads))
	for i, p := range payloads {
		refs[i] = entities.RecordRef{
			Account:      account,
			RecordID:     p.RecordID,
			SequenceHint: p.SequenceHint,
			ObservedTime: unixToTime(p.ObservedTime),
			ErrorMarker:  p.ErrorMarker,
		}
	}

	return refs, nil
}

// GetRecord fetches one record body, or (nil, nil) when the source does
// not know the record
func (s *HTTPSource) GetRecord(ctx context.Context, recordID string) (*entities.RecordBody, error) {
	endpoint := s.baseURL + "/v1/records/" + url.PathEscape(recordID)

	var payload bodyPayload
	err := s.getJSON(ctx, endpoint, &payload)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return &entities.RecordBody{
		RecordID:     payload.RecordID,
		SequenceHint: payload.SequenceHint,
		ObservedTime: unixToTime(payload.ObservedTime),
		ErrorMarker:  payload.ErrorMarker,
		Payload:      payload.Payload,
	}, nil
}

// GetSnapshot fetches the account's current holdings
func (s *HTTPSource) GetSnapshot(ctx context.Context, account string) (map[string]decimal.Decimal, error) {
	endpoint := s.baseURL + "/v1/accounts/" + url.PathEscape(account) + "/snapshot"

	var snapshot map[string]decimal.Decimal
	if err := s.getJSON(ctx, endpoint, &snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// statusError carries a non-2xx response status
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("source status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

// getJSON performs one GET request and decodes the JSON response into out
func (s *HTTPSource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// unixToTime converts nullable unix seconds to a UTC time
func unixToTime(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0).UTC()
	return &t
}
