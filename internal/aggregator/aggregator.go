package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kurihiro0119/search-conflict-checker/internal/collector"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/internal/metrics"
	"github.com/kurihiro0119/search-conflict-checker/internal/variation"
)

// Aggregator defines the interface for aggregating search metrics
type Aggregator interface {
	// Aggregate queries every (variation, window) pair of keyword and merges
	// the rows per URL. When some queries fail it returns the partial report
	// together with an *apperrors.PartialFailure wrapping the same report.
	// Only an invalid keyword or window list fails the whole call.
	Aggregate(ctx context.Context, keyword string, windows []int) (*domain.ConflictReport, error)
}

// Options tunes concurrency, timeouts and retries
type Options struct {
	// Workers bounds the number of concurrent queries
	Workers int
	// QueryTimeout bounds each individual query
	QueryTimeout time.Duration
	// Deadline bounds the whole aggregation; zero disables it
	Deadline time.Duration
	// RateLimitRetries is how many times a RATE_LIMITED query is retried
	RateLimitRetries int
	// RetryBackoff is the base delay between retries, doubled per attempt
	RetryBackoff time.Duration
}

// DefaultOptions returns 4 workers, 20s per query, a 2m deadline and two
// rate-limit retries starting at 1s.
func DefaultOptions() Options {
	return Options{
		Workers:          4,
		QueryTimeout:     20 * time.Second,
		Deadline:         2 * time.Minute,
		RateLimitRetries: 2,
		RetryBackoff:     time.Second,
	}
}

type job struct {
	index          int
	variationIndex int
	variation      string
	window         int
}

type result struct {
	job  job
	rows []domain.WindowMetrics
	err  error
}

// aggregator implements the Aggregator interface
type aggregator struct {
	client  collector.MetricsClient
	opts    Options
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAggregator creates a new aggregator
func NewAggregator(client collector.MetricsClient, opts Options, log *logger.Logger, m *metrics.Metrics) Aggregator {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaults.QueryTimeout
	}
	if opts.RateLimitRetries < 0 {
		opts.RateLimitRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaults.RetryBackoff
	}
	if log == nil {
		log = logger.Discard()
	}

	return &aggregator{
		client:  client,
		opts:    opts,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

// Aggregate implements Aggregator
func (a *aggregator) Aggregate(ctx context.Context, keyword string, windows []int) (*domain.ConflictReport, error) {
	variations, err := variation.Generate(keyword)
	if err != nil {
		return nil, err
	}

	windows, err = normalizeWindows(windows)
	if err != nil {
		return nil, err
	}

	if a.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Deadline)
		defer cancel()
	}

	jobs := make([]job, 0, len(variations)*len(windows))
	for vi, v := range variations {
		for _, w := range windows {
			jobs = append(jobs, job{
				index:          len(jobs),
				variationIndex: vi,
				variation:      v,
				window:         w,
			})
		}
	}

	log := a.logger.WithContext(ctx).WithField("keyword", keyword)
	log.WithFields(map[string]interface{}{
		"variations": len(variations),
		"windows":    windows,
		"queries":    len(jobs),
	}).Info("Aggregating search metrics")

	// Buffered so workers never block on a caller that gave up at the deadline.
	results := make(chan result, len(jobs))
	queue := make(chan job)

	workers := a.opts.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for j := range queue {
				results <- a.run(ctx, j)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, j := range jobs {
			select {
			case queue <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	merged := newMerger()
	completed := make([]bool, len(jobs))
	var failed []failure

collect:
	for received := 0; received < len(jobs); {
		select {
		case r := <-results:
			received++
			completed[r.job.index] = true
			if r.err != nil {
				failed = append(failed, failure{job: r.job, err: r.err})
				log.WithFields(map[string]interface{}{
					"variation":   r.job.variation,
					"window_days": r.job.window,
					"error_code":  apperrors.CodeOf(r.err),
				}).WithError(r.err).Warn("Metrics query failed")
				continue
			}
			merged.add(r.job, r.rows)
		case <-ctx.Done():
			break collect
		}
	}

	for i, done := range completed {
		if !done {
			failed = append(failed, failure{
				job: jobs[i],
				err: apperrors.NewBackendError("aggregation deadline exceeded", ctx.Err()),
			})
		}
	}

	report := &domain.ConflictReport{
		Keyword:       strings.TrimSpace(keyword),
		Variations:    variations,
		Windows:       windows,
		URLs:          merged.build(variations),
		FailedQueries: failedQueries(failed),
		CheckedAt:     a.now().UTC(),
	}

	log.WithFields(map[string]interface{}{
		"urls":   len(report.URLs),
		"failed": len(report.FailedQueries),
	}).Info("Aggregation finished")

	if len(report.FailedQueries) > 0 {
		return report, &apperrors.PartialFailure{Report: report, Failed: report.FailedQueries}
	}
	return report, nil
}

// run executes one query, retrying RATE_LIMITED answers with backoff.
func (a *aggregator) run(ctx context.Context, j job) result {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.opts.QueryTimeout)
		rows, err := a.client.Query(callCtx, j.variation, j.window)
		timedOut := callCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			return result{job: j, rows: rows}
		}
		err = normalizeError(err, timedOut)

		if !apperrors.IsRateLimited(err) || attempt >= a.opts.RateLimitRetries {
			return result{job: j, err: err}
		}

		wait := a.opts.RetryBackoff << attempt
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.RetryAfter > wait {
			wait = appErr.RetryAfter
		}
		if a.metrics != nil {
			a.metrics.RecordRetry()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result{job: j, err: err}
		case <-timer.C:
		}
	}
}

func normalizeError(err error, timedOut bool) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if timedOut {
		return apperrors.NewBackendError("query timed out", err)
	}
	return apperrors.NewBackendError("query failed", err)
}

func normalizeWindows(windows []int) ([]int, error) {
	if len(windows) == 0 {
		return nil, apperrors.NewInvalidInputError("at least one time window is required")
	}

	seen := make(map[int]struct{}, len(windows))
	out := make([]int, 0, len(windows))
	for _, w := range windows {
		if w <= 0 {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("time window must be a positive day count, got %d", w))
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

type failure struct {
	job job
	err error
}

func failedQueries(failed []failure) []domain.FailedQuery {
	if len(failed) == 0 {
		return nil
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].job.index < failed[j].job.index
	})

	out := make([]domain.FailedQuery, len(failed))
	for i, f := range failed {
		out[i] = domain.FailedQuery{
			Variation:  f.job.variation,
			WindowDays: f.job.window,
			Code:       string(apperrors.CodeOf(f.err)),
			Message:    f.err.Error(),
		}
	}
	return out
}
