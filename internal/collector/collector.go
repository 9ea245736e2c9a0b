package collector

import (
	"context"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
)

// MetricsClient queries a search-performance backend
type MetricsClient interface {
	// Query returns the per-URL rows for an exact-match query over the
	// window [today-windowDays, today). No traffic yields zero rows and a
	// nil error. Failures are AppErrors coded UNAUTHORIZED, RATE_LIMITED
	// or BACKEND_ERROR.
	Query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error)
}

// MaxRows is the row limit requested per query.
const MaxRows = 100
