package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *ConflictReport {
	return &ConflictReport{
		ID:         "f3f0a0f4-6a53-4bb8-9bd5-3a1f3f5f6a10",
		Keyword:    "xiaomi robot vacuum e5",
		Variations: []string{"xiaomi robot vacuum e5", "xiaomi robot", "vacuum e5"},
		Windows:    []int{1, 7, 28},
		Thresholds: DefaultThresholds(),
		URLs: map[string]*AggregatedURL{
			"https://example.com/b": {
				URL:           "https://example.com/b",
				Windows:       map[int]WindowMetrics{28: NewWindowMetrics("https://example.com/b", 60, 0, 18)},
				Variations:    []string{"vacuum e5"},
				DiscoveryRank: 4,
			},
			"https://example.com/a": {
				URL: "https://example.com/a",
				Windows: map[int]WindowMetrics{
					7:  NewWindowMetrics("https://example.com/a", 200, 4, 3.5),
					28: NewWindowMetrics("https://example.com/a", 820, 15, 3.2),
				},
				Variations:    []string{"xiaomi robot vacuum e5", "xiaomi robot"},
				DiscoveryRank: 1,
			},
		},
		Alerts: []Alert{
			{URL: "https://example.com/a", Tier: TierCritical, WindowDays: 28, Metrics: NewWindowMetrics("https://example.com/a", 820, 15, 3.2)},
			{URL: "https://example.com/b", Tier: TierWarning, WindowDays: 28, Metrics: NewWindowMetrics("https://example.com/b", 60, 0, 18)},
		},
		FailedQueries: []FailedQuery{{Variation: "vacuum e5", WindowDays: 7, Code: "BACKEND_ERROR", Message: "boom"}},
		CheckedAt:     time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
}

func TestComputeCTR(t *testing.T) {
	assert.Equal(t, 0.0, ComputeCTR(5, 0))
	assert.Equal(t, 1.83, ComputeCTR(15, 820))
	assert.Equal(t, 100.0, ComputeCTR(3, 3))
}

func TestWindowRangeIsRightOpen(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)

	r := WindowRange(now, 7)
	assert.Equal(t, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), r.End)
}

func TestWindowLabel(t *testing.T) {
	assert.Equal(t, "24h", WindowLabel(1))
	assert.Equal(t, "7d", WindowLabel(7))
	assert.Equal(t, "28d", WindowLabel(28))
}

func TestLongestWindow(t *testing.T) {
	assert.Equal(t, 28, LongestWindow([]int{1, 28, 7}))
	assert.Equal(t, 0, LongestWindow(nil))
}

func TestTierSeverityOrder(t *testing.T) {
	assert.Less(t, TierCritical.Severity(), TierWarning.Severity())
	assert.Less(t, TierWarning.Severity(), TierInfo.Severity())
	assert.Less(t, TierInfo.Severity(), TierNone.Severity())
}

func TestReportHelpers(t *testing.T) {
	report := sampleReport()

	ordered := report.OrderedURLs()
	require.Len(t, ordered, 2)
	assert.Equal(t, "https://example.com/a", ordered[0].URL)

	assert.True(t, report.Partial())
	assert.True(t, report.HasConflict())

	url, ok := report.UpdateCandidate()
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a", url)

	summary := report.Summary()
	assert.Equal(t, 1, summary.Critical)
	assert.Equal(t, 1, summary.Warning)
	assert.Equal(t, 0, summary.Info)
	assert.True(t, summary.Partial)
}

func TestReportWithoutAlertsHasNoConflict(t *testing.T) {
	report := &ConflictReport{Keyword: "robot vacuum"}

	assert.False(t, report.HasConflict())
	_, ok := report.UpdateCandidate()
	assert.False(t, ok)
}

func TestReportJSONRoundTripKeepsAlerts(t *testing.T) {
	report := sampleReport()

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded ConflictReport
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, report.Alerts, decoded.Alerts)
	assert.Equal(t, report.URLs["https://example.com/a"].Windows, decoded.URLs["https://example.com/a"].Windows)
	assert.True(t, report.CheckedAt.Equal(decoded.CheckedAt))
}
