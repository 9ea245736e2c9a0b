package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func report(id, keyword string, checkedAt time.Time, alerts ...domain.Alert) *domain.ConflictReport {
	urls := make(map[string]*domain.AggregatedURL, len(alerts))
	for _, a := range alerts {
		urls[a.URL] = &domain.AggregatedURL{
			URL:        a.URL,
			Windows:    map[int]domain.WindowMetrics{a.WindowDays: a.Metrics},
			Variations: a.Variations,
		}
	}
	return &domain.ConflictReport{
		ID:         id,
		Keyword:    keyword,
		Variations: []string{keyword},
		Windows:    []int{7, 28},
		Thresholds: domain.DefaultThresholds(),
		URLs:       urls,
		Alerts:     alerts,
		CheckedAt:  checkedAt,
	}
}

func alert(url string, tier domain.Tier, impressions, clicks int64, position float64) domain.Alert {
	return domain.Alert{
		URL:            url,
		Tier:           tier,
		WindowDays:     28,
		Metrics:        domain.NewWindowMetrics(url, impressions, clicks, position),
		Variations:     []string{"robot vacuum"},
		Recommendation: "recommendation",
	}
}

func TestSaveAndGetReport(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	checkedAt := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	saved := report("r1", "robot vacuum", checkedAt,
		alert("https://example.com/a", domain.TierCritical, 820, 15, 3.2),
		alert("https://example.com/b", domain.TierWarning, 60, 0, 18),
	)
	saved.FailedQueries = []domain.FailedQuery{{Variation: "robot vacuum", WindowDays: 7, Code: "BACKEND_ERROR", Message: "boom"}}
	require.NoError(t, store.SaveReport(ctx, saved))

	got, err := store.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, saved.Keyword, got.Keyword)
	assert.Equal(t, saved.Alerts, got.Alerts)
	assert.Equal(t, saved.FailedQueries, got.FailedQueries)
	assert.True(t, got.CheckedAt.Equal(checkedAt))
	assert.Len(t, got.URLs, 2)
}

func TestGetReportNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetReport(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSaveReportRequiresID(t *testing.T) {
	store := newStore(t)

	err := store.SaveReport(context.Background(), report("", "robot vacuum", time.Now()))
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestSaveReportReplacesAlerts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	checkedAt := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveReport(ctx, report("r1", "robot vacuum", checkedAt,
		alert("https://example.com/a", domain.TierCritical, 820, 15, 3.2),
		alert("https://example.com/b", domain.TierWarning, 60, 0, 18),
	)))
	require.NoError(t, store.SaveReport(ctx, report("r1", "robot vacuum", checkedAt,
		alert("https://example.com/a", domain.TierInfo, 30, 0, 45),
	)))

	history, err := store.URLHistory(ctx, "https://example.com/b", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	summaries, err := store.ListReports(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Info)
	assert.Equal(t, 0, summaries[0].Critical)
}

func TestListReports(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveReport(ctx, report("r1", "robot vacuum", base.Add(-2*time.Hour),
		alert("https://example.com/a", domain.TierWarning, 60, 0, 18))))
	require.NoError(t, store.SaveReport(ctx, report("r2", "Robot Vacuum", base,
		alert("https://example.com/a", domain.TierCritical, 820, 15, 3.2))))
	require.NoError(t, store.SaveReport(ctx, report("r3", "air purifier", base.Add(-time.Hour))))

	all, err := store.ListReports(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r2", "r3", "r1"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, 1, all[0].Critical)
	assert.True(t, all[0].CheckedAt.Equal(base))

	filtered, err := store.ListReports(ctx, " robot VACUUM ", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "r2", filtered[0].ID)

	limited, err := store.ListReports(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestURLHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveReport(ctx, report("r1", "robot vacuum", base.Add(-24*time.Hour),
		alert("https://example.com/a", domain.TierWarning, 60, 0, 18))))
	require.NoError(t, store.SaveReport(ctx, report("r2", "robot vacuum e5", base,
		alert("https://example.com/a", domain.TierCritical, 820, 15, 3.2),
		alert("https://example.com/b", domain.TierInfo, 30, 0, 45))))

	history, err := store.URLHistory(ctx, "https://example.com/a", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r2", history[0].ReportID)
	assert.Equal(t, domain.TierCritical, history[0].Tier)
	assert.Equal(t, 3.2, history[0].Position)
	assert.Equal(t, "robot vacuum", history[1].Keyword)
	assert.Equal(t, domain.TierWarning, history[1].Tier)
}
