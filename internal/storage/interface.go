package storage

import (
	"context"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
)

// DefaultListLimit caps listings when the caller passes no limit
const DefaultListLimit = 20

// Storage is the abstract interface for the report history
type Storage interface {
	// SaveReport persists a report and its alerts, replacing any report with the same ID
	SaveReport(ctx context.Context, report *domain.ConflictReport) error

	// GetReport returns a stored report or a NOT_FOUND error
	GetReport(ctx context.Context, id string) (*domain.ConflictReport, error)

	// ListReports returns summaries newest first, optionally filtered by keyword
	ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error)

	// URLHistory returns past alerts raised for a URL, newest first
	URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// NormalizeLimit applies DefaultListLimit to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
