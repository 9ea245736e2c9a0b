package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
)

type stubKey struct {
	query  string
	window int
}

type stubResponse struct {
	rows []domain.WindowMetrics
	// failures are returned, one per call, before rows are served
	failures []error
	err      error
	delay    time.Duration
}

// StubClient is an in-memory MetricsClient serving canned responses.
// Pairs without a canned response return zero rows.
type StubClient struct {
	mu        sync.Mutex
	responses map[stubKey]*stubResponse
	calls     map[stubKey]int
}

// NewStubClient creates an empty stub
func NewStubClient() *StubClient {
	return &StubClient{
		responses: make(map[stubKey]*stubResponse),
		calls:     make(map[stubKey]int),
	}
}

func (s *StubClient) response(query string, window int) *stubResponse {
	key := stubKey{query: query, window: window}
	r, ok := s.responses[key]
	if !ok {
		r = &stubResponse{}
		s.responses[key] = r
	}
	return r
}

// SetRows serves rows for (query, window).
func (s *StubClient) SetRows(query string, window int, rows ...domain.WindowMetrics) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response(query, window).rows = rows
	return s
}

// SetError makes every call for (query, window) fail with err.
func (s *StubClient) SetError(query string, window int, err error) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response(query, window).err = err
	return s
}

// FailTimes makes the next n calls for (query, window) fail with err.
func (s *StubClient) FailTimes(query string, window int, err error, n int) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.response(query, window)
	for i := 0; i < n; i++ {
		r.failures = append(r.failures, err)
	}
	return s
}

// SetDelay delays every call for (query, window), honouring ctx.
func (s *StubClient) SetDelay(query string, window int, d time.Duration) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response(query, window).delay = d
	return s
}

// Calls returns how many times (query, window) was queried.
func (s *StubClient) Calls(query string, window int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stubKey{query: query, window: window}]
}

// TotalCalls returns the number of queries served.
func (s *StubClient) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Query implements MetricsClient
func (s *StubClient) Query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error) {
	key := stubKey{query: query, window: windowDays}

	s.mu.Lock()
	s.calls[key]++
	r, ok := s.responses[key]
	var (
		delay time.Duration
		err   error
		rows  []domain.WindowMetrics
	)
	if ok {
		delay = r.delay
		switch {
		case len(r.failures) > 0:
			err = r.failures[0]
			r.failures = r.failures[1:]
		case r.err != nil:
			err = r.err
		default:
			rows = append([]domain.WindowMetrics(nil), r.rows...)
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, apperrors.NewBackendError("query timed out", ctx.Err())
		case <-timer.C:
		}
	}

	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Fixture is the JSON document LoadFixture reads
type Fixture struct {
	Responses []FixtureResponse `json:"responses"`
}

// FixtureResponse is one canned (query, window) answer. Error, when set,
// is one of "unauthorized", "rate_limited" or "backend".
type FixtureResponse struct {
	Query      string                 `json:"query"`
	WindowDays int                    `json:"window_days"`
	Rows       []domain.WindowMetrics `json:"rows"`
	Error      string                 `json:"error,omitempty"`
}

// LoadFixture builds a StubClient from a JSON fixture file.
func LoadFixture(path string) (*StubClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	stub := NewStubClient()
	for _, r := range fixture.Responses {
		if r.Error != "" {
			stub.SetError(r.Query, r.WindowDays, fixtureError(r.Error))
			continue
		}
		rows := make([]domain.WindowMetrics, len(r.Rows))
		for i, row := range r.Rows {
			rows[i] = domain.NewWindowMetrics(row.URL, row.Impressions, row.Clicks, row.Position)
		}
		stub.SetRows(r.Query, r.WindowDays, rows...)
	}
	return stub, nil
}

func fixtureError(kind string) error {
	switch kind {
	case "unauthorized":
		return apperrors.NewAuthError("fixture: unauthorized", nil)
	case "rate_limited":
		return apperrors.NewRateLimitedError("fixture: rate limited", 0)
	default:
		return apperrors.NewBackendError("fixture: "+kind, nil)
	}
}
