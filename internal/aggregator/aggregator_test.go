package aggregator

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/search-conflict-checker/internal/collector"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
)

const keyword = "Xiaomi Robot Vacuum E5"

var windows = []int{1, 7, 28}

func row(url string, impressions, clicks int64, position float64) domain.WindowMetrics {
	return domain.NewWindowMetrics(url, impressions, clicks, position)
}

func testOptions() Options {
	return Options{
		Workers:          4,
		QueryTimeout:     time.Second,
		Deadline:         5 * time.Second,
		RateLimitRetries: 2,
		RetryBackoff:     time.Millisecond,
	}
}

func TestAggregateMergesByURL(t *testing.T) {
	stub := collector.NewStubClient().
		SetRows("xiaomi robot vacuum e5", 28,
			row("https://example.com/xiaomi-e5", 820, 15, 3.2),
			row("https://example.com/robots", 40, 0, 22)).
		SetRows("xiaomi robot", 28,
			row("https://example.com/xiaomi-e5", 500, 30, 2.1)).
		SetRows("vacuum e5", 7,
			row("https://example.com/xiaomi-e5", 90, 2, 4))

	report, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), keyword, windows)
	require.NoError(t, err)

	assert.Equal(t, keyword, report.Keyword)
	assert.Equal(t, []string{"xiaomi robot vacuum e5", "xiaomi robot", "vacuum e5"}, report.Variations)
	assert.Equal(t, windows, report.Windows)
	assert.Empty(t, report.FailedQueries)
	assert.Equal(t, 9, stub.TotalCalls())

	require.Len(t, report.URLs, 2)
	e5 := report.URLs["https://example.com/xiaomi-e5"]
	require.NotNil(t, e5)

	// highest impressions wins, never the sum
	m28, ok := e5.Window(28)
	require.True(t, ok)
	assert.Equal(t, int64(820), m28.Impressions)
	assert.Equal(t, int64(15), m28.Clicks)

	m7, ok := e5.Window(7)
	require.True(t, ok)
	assert.Equal(t, int64(90), m7.Impressions)

	_, ok = e5.Window(1)
	assert.False(t, ok)

	assert.Equal(t, []string{"xiaomi robot vacuum e5", "xiaomi robot", "vacuum e5"}, e5.Variations)

	ordered := report.OrderedURLs()
	assert.Equal(t, "https://example.com/xiaomi-e5", ordered[0].URL)
	assert.Equal(t, "https://example.com/robots", ordered[1].URL)
}

func TestAggregateSortsRowsItself(t *testing.T) {
	stub := collector.NewStubClient().
		SetRows("robot vacuum", 28,
			row("https://example.com/low", 5, 0, 40),
			row("https://example.com/high", 500, 3, 8))

	report, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), "robot vacuum", []int{28})
	require.NoError(t, err)

	assert.Equal(t, 0, report.URLs["https://example.com/high"].DiscoveryRank)
	assert.Equal(t, 1, report.URLs["https://example.com/low"].DiscoveryRank)
}

func TestAggregatePartialFailure(t *testing.T) {
	stub := collector.NewStubClient().
		SetRows("robot vacuum", 1, row("https://example.com/a", 30, 1, 5)).
		SetRows("robot vacuum", 28, row("https://example.com/a", 820, 15, 3.2)).
		SetError("robot vacuum", 7, apperrors.NewBackendError("backend unavailable", nil))

	report, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), "robot vacuum", windows)
	require.Error(t, err)

	pf, ok := apperrors.AsPartialFailure(err)
	require.True(t, ok)
	assert.Same(t, report, pf.Report)
	assert.False(t, pf.AllFailed())

	require.Len(t, pf.Failed, 1)
	assert.Equal(t, "robot vacuum", pf.Failed[0].Variation)
	assert.Equal(t, 7, pf.Failed[0].WindowDays)
	assert.Equal(t, string(apperrors.ErrCodeBackend), pf.Failed[0].Code)

	a := report.URLs["https://example.com/a"]
	require.NotNil(t, a)
	assert.Len(t, a.Windows, 2)
}

func TestAggregateAllQueriesFailed(t *testing.T) {
	stub := collector.NewStubClient()
	for _, w := range windows {
		stub.SetError("robot vacuum", w, apperrors.NewAuthError("token expired", nil))
	}

	report, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), "robot vacuum", windows)
	pf, ok := apperrors.AsPartialFailure(err)
	require.True(t, ok)
	assert.True(t, pf.AllFailed())
	assert.Empty(t, report.URLs)

	// auth errors are never retried
	assert.Equal(t, 3, stub.TotalCalls())
	for _, f := range pf.Failed {
		assert.Equal(t, string(apperrors.ErrCodeUnauthorized), f.Code)
	}
}

func TestAggregateRetriesRateLimited(t *testing.T) {
	stub := collector.NewStubClient().
		SetRows("robot vacuum", 28, row("https://example.com/a", 100, 1, 6)).
		FailTimes("robot vacuum", 28, apperrors.NewRateLimitedError("quota", 0), 2)

	report, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), "robot vacuum", []int{28})
	require.NoError(t, err)
	assert.Equal(t, 3, stub.Calls("robot vacuum", 28))
	assert.Contains(t, report.URLs, "https://example.com/a")
}

func TestAggregateRateLimitRetriesExhausted(t *testing.T) {
	stub := collector.NewStubClient().
		SetError("robot vacuum", 28, apperrors.NewRateLimitedError("quota", 0))

	_, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), "robot vacuum", []int{28})
	pf, ok := apperrors.AsPartialFailure(err)
	require.True(t, ok)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, string(apperrors.ErrCodeRateLimited), pf.Failed[0].Code)
	assert.Equal(t, 3, stub.Calls("robot vacuum", 28))
}

func TestAggregatePerQueryTimeout(t *testing.T) {
	stub := collector.NewStubClient().
		SetDelay("robot vacuum", 7, time.Second).
		SetRows("robot vacuum", 28, row("https://example.com/a", 100, 1, 6))

	opts := testOptions()
	opts.QueryTimeout = 30 * time.Millisecond

	report, err := NewAggregator(stub, opts, nil, nil).Aggregate(context.Background(), "robot vacuum", []int{7, 28})
	pf, ok := apperrors.AsPartialFailure(err)
	require.True(t, ok)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, 7, pf.Failed[0].WindowDays)
	assert.Contains(t, report.URLs, "https://example.com/a")
}

// hangingClient ignores its context for the 7-day window
type hangingClient struct {
	release chan struct{}
}

func (c *hangingClient) Query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error) {
	if windowDays == 7 {
		<-c.release
		return nil, nil
	}
	return []domain.WindowMetrics{row("https://example.com/a", 100, 1, 6)}, nil
}

func TestAggregateOverallDeadline(t *testing.T) {
	client := &hangingClient{release: make(chan struct{})}
	t.Cleanup(func() { close(client.release) })

	opts := testOptions()
	opts.QueryTimeout = time.Minute
	opts.Deadline = 50 * time.Millisecond

	start := time.Now()
	report, err := NewAggregator(client, opts, nil, nil).Aggregate(context.Background(), "robot vacuum", windows)
	assert.Less(t, time.Since(start), 2*time.Second)

	pf, ok := apperrors.AsPartialFailure(err)
	require.True(t, ok)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, 7, pf.Failed[0].WindowDays)
	assert.Len(t, report.URLs["https://example.com/a"].Windows, 2)
}

func TestAggregateInvalidInput(t *testing.T) {
	stub := collector.NewStubClient()
	agg := NewAggregator(stub, testOptions(), nil, nil)

	_, err := agg.Aggregate(context.Background(), "   ", windows)
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = agg.Aggregate(context.Background(), "robot vacuum", nil)
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = agg.Aggregate(context.Background(), "robot vacuum", []int{7, 0})
	assert.True(t, apperrors.IsInvalidInput(err))

	assert.Equal(t, 0, stub.TotalCalls())
}

func TestAggregateDeduplicatesWindows(t *testing.T) {
	stub := collector.NewStubClient()

	report, err := NewAggregator(stub, testOptions(), nil, nil).Aggregate(context.Background(), "robot vacuum", []int{28, 7, 28})
	require.NoError(t, err)
	assert.Equal(t, []int{28, 7}, report.Windows)
	assert.Equal(t, 2, stub.TotalCalls())
}

// concurrencyClient records the peak number of in-flight queries
type concurrencyClient struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *concurrencyClient) Query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return nil, nil
}

func TestAggregateBoundedParallelism(t *testing.T) {
	client := &concurrencyClient{}
	opts := testOptions()
	opts.Workers = 2

	_, err := NewAggregator(client, opts, nil, nil).Aggregate(context.Background(), keyword, windows)
	require.NoError(t, err)
	assert.LessOrEqual(t, client.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, client.peak.Load(), int32(1))
}

// shuffledClient answers with a random delay so completion order varies
type shuffledClient struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rows map[string]map[int][]domain.WindowMetrics
}

func (c *shuffledClient) Query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error) {
	c.mu.Lock()
	delay := time.Duration(c.rng.Intn(5)) * time.Millisecond
	c.mu.Unlock()
	time.Sleep(delay)
	return c.rows[query][windowDays], nil
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	rows := map[string]map[int][]domain.WindowMetrics{
		"xiaomi robot vacuum e5": {
			28: {row("https://example.com/a", 820, 15, 3.2), row("https://example.com/b", 60, 0, 18)},
			7:  {row("https://example.com/a", 200, 4, 3.5)},
		},
		"xiaomi robot": {
			28: {row("https://example.com/a", 820, 20, 3.0), row("https://example.com/c", 30, 0, 45)},
			1:  {row("https://example.com/b", 5, 0, 12)},
		},
		"vacuum e5": {
			28: {row("https://example.com/b", 75, 1, 16)},
			7:  {row("https://example.com/c", 12, 0, 50), row("https://example.com/a", 200, 4, 3.5)},
		},
	}

	var baseline map[string]*domain.AggregatedURL
	for i := 0; i < 20; i++ {
		client := &shuffledClient{rng: rand.New(rand.NewSource(int64(i))), rows: rows}
		report, err := NewAggregator(client, testOptions(), nil, nil).Aggregate(context.Background(), keyword, windows)
		require.NoError(t, err)

		if baseline == nil {
			baseline = report.URLs
			continue
		}
		require.Equal(t, baseline, report.URLs, "run %d", i)
	}

	// equal impressions: more clicks wins
	a28 := baseline["https://example.com/a"].Windows[28]
	assert.Equal(t, int64(20), a28.Clicks)
	assert.Equal(t, int64(75), baseline["https://example.com/b"].Windows[28].Impressions)
}
