package app

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/search-conflict-checker/internal/aggregator"
	"github.com/kurihiro0119/search-conflict-checker/internal/checker"
	"github.com/kurihiro0119/search-conflict-checker/internal/collector"
	"github.com/kurihiro0119/search-conflict-checker/internal/config"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/internal/metrics"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage/postgres"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage/sqlite"
)

// OpenStorage opens the configured report store. It returns nil when
// STORAGE_TYPE is "none".
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "none":
		return nil, nil
	case "postgres":
		store, err := postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL storage: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		return store, nil
	}
}

// NewMetricsClient builds the Search Console client, or a fixture-backed
// stub when fixturePath is set.
func NewMetricsClient(ctx context.Context, cfg *config.Config, fixturePath string, log *logger.Logger, m *metrics.Metrics) (collector.MetricsClient, error) {
	if fixturePath != "" {
		stub, err := collector.LoadFixture(fixturePath)
		if err != nil {
			return nil, err
		}
		return stub, nil
	}
	if err := cfg.ValidateSearchConsole(); err != nil {
		return nil, err
	}

	sc := cfg.SearchConsole
	return collector.NewSearchConsoleClient(ctx,
		collector.Credentials{
			AccessToken:  sc.AccessToken,
			RefreshToken: sc.RefreshToken,
			TokenURI:     sc.TokenURI,
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
		},
		collector.SearchConsoleOptions{
			SiteURL:           sc.SiteURL,
			BaseURL:           sc.APIBaseURL,
			RowLimit:          sc.RowLimit,
			RequestsPerSecond: sc.RequestsPerSecond,
		},
		log, m)
}

// AggregatorOptions maps the check settings onto the aggregator.
func AggregatorOptions(cfg *config.Config) aggregator.Options {
	return aggregator.Options{
		Workers:          cfg.Check.Workers,
		QueryTimeout:     cfg.Check.QueryTimeout,
		Deadline:         cfg.Check.Deadline,
		RateLimitRetries: cfg.Check.RateLimitRetries,
		RetryBackoff:     cfg.Check.RetryBackoff,
	}
}

// CheckDefaults maps the check settings onto per-check defaults.
func CheckDefaults(cfg *config.Config) checker.CheckOptions {
	return checker.CheckOptions{
		Windows: cfg.Check.Windows,
		Thresholds: domain.Thresholds{
			Position:    cfg.Check.PositionThreshold,
			Impressions: cfg.Check.ImpressionsThreshold,
		},
	}
}

// NewChecker wires client, store and the configured defaults into a Checker.
func NewChecker(cfg *config.Config, client collector.MetricsClient, store storage.Storage, log *logger.Logger, m *metrics.Metrics) *checker.Checker {
	agg := aggregator.NewAggregator(client, AggregatorOptions(cfg), log, m)
	return checker.NewChecker(agg, store, CheckDefaults(cfg), log, m)
}
