package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/search-conflict-checker/internal/aggregator"
	"github.com/kurihiro0119/search-conflict-checker/internal/classifier"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/internal/metrics"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage"
)

// DefaultWindows are the day counts checked when the caller names none
var DefaultWindows = []int{1, 7, 28}

// CheckOptions are the per-check knobs. Zero values fall back to the
// checker's defaults.
type CheckOptions struct {
	Windows    []int
	Thresholds domain.Thresholds
}

// Checker runs a full conflict check and keeps the report history
type Checker struct {
	aggregator aggregator.Aggregator
	store      storage.Storage
	defaults   CheckOptions
	logger     *logger.Logger
	metrics    *metrics.Metrics
	newID      func() string
}

// NewChecker creates a checker. store and m may be nil.
func NewChecker(agg aggregator.Aggregator, store storage.Storage, defaults CheckOptions, log *logger.Logger, m *metrics.Metrics) *Checker {
	if len(defaults.Windows) == 0 {
		defaults.Windows = DefaultWindows
	}
	if defaults.Thresholds == (domain.Thresholds{}) {
		defaults.Thresholds = domain.DefaultThresholds()
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Checker{
		aggregator: agg,
		store:      store,
		defaults:   defaults,
		logger:     log,
		metrics:    m,
		newID:      func() string { return uuid.New().String() },
	}
}

// HistoryEnabled reports whether reports are persisted.
func (c *Checker) HistoryEnabled() bool {
	return c.store != nil
}

// Check aggregates, classifies and stores a report for keyword.
//
// When some metrics queries failed the classified report is returned
// together with an *apperrors.PartialFailure carrying the same report.
func (c *Checker) Check(ctx context.Context, keyword string, opts CheckOptions) (*domain.ConflictReport, error) {
	start := time.Now()
	opts, err := c.resolve(opts)
	if err != nil {
		c.recordCheck("invalid", start)
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.IncChecksInProgress()
		defer c.metrics.DecChecksInProgress()
	}

	log := c.logger.WithContext(ctx).WithField("keyword", keyword)

	report, err := c.aggregator.Aggregate(ctx, keyword, opts.Windows)
	partial, isPartial := apperrors.AsPartialFailure(err)
	if err != nil && !isPartial {
		if apperrors.IsInvalidInput(err) {
			c.recordCheck("invalid", start)
		} else {
			c.recordCheck("failed", start)
		}
		return nil, err
	}

	report.ID = c.newID()
	classifier.Assemble(report, opts.Thresholds)

	if c.metrics != nil {
		for _, a := range report.Alerts {
			c.metrics.RecordAlert(string(a.Tier))
		}
	}

	if c.store != nil {
		if err := c.store.SaveReport(ctx, report); err != nil {
			log.WithError(err).WithField("report_id", report.ID).Error("Failed to save report")
		}
	}

	counts := report.CountByTier()
	entry := log.WithFields(map[string]interface{}{
		"report_id": report.ID,
		"urls":      len(report.URLs),
		"critical":  counts[domain.TierCritical],
		"warning":   counts[domain.TierWarning],
		"info":      counts[domain.TierInfo],
		"duration":  time.Since(start).String(),
	})

	if isPartial {
		c.recordCheck("partial", start)
		entry.WithField("failed_queries", len(partial.Failed)).Warn("Conflict check finished with missing data")
		return report, partial
	}

	c.recordCheck("complete", start)
	entry.Info("Conflict check finished")
	return report, nil
}

// GetReport returns a stored report
func (c *Checker) GetReport(ctx context.Context, id string) (*domain.ConflictReport, error) {
	if c.store == nil {
		return nil, apperrors.NewBadRequestError("report history is disabled")
	}
	return c.store.GetReport(ctx, id)
}

// ListReports returns stored report summaries, newest first
func (c *Checker) ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error) {
	if c.store == nil {
		return nil, apperrors.NewBadRequestError("report history is disabled")
	}
	return c.store.ListReports(ctx, keyword, limit)
}

// URLHistory returns the past alerts raised for url
func (c *Checker) URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error) {
	if c.store == nil {
		return nil, apperrors.NewBadRequestError("report history is disabled")
	}
	if url == "" {
		return nil, apperrors.NewInvalidInputError("url is required")
	}
	return c.store.URLHistory(ctx, url, limit)
}

func (c *Checker) resolve(opts CheckOptions) (CheckOptions, error) {
	if len(opts.Windows) == 0 {
		opts.Windows = c.defaults.Windows
	}
	if opts.Thresholds.Position == 0 {
		opts.Thresholds.Position = c.defaults.Thresholds.Position
	}
	if opts.Thresholds.Impressions == 0 {
		opts.Thresholds.Impressions = c.defaults.Thresholds.Impressions
	}

	if opts.Thresholds.Position < 1 {
		return opts, apperrors.NewInvalidInputError(fmt.Sprintf("position threshold must be at least 1, got %g", opts.Thresholds.Position))
	}
	if opts.Thresholds.Impressions < 0 {
		return opts, apperrors.NewInvalidInputError(fmt.Sprintf("impressions threshold must not be negative, got %g", opts.Thresholds.Impressions))
	}
	return opts, nil
}

func (c *Checker) recordCheck(outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordCheck(outcome, time.Since(start))
	}
}
