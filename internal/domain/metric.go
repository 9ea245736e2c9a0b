package domain

import (
	"fmt"
	"math"
	"time"
)

// WindowMetrics is one per-URL row returned by a metrics query for a
// single query string and time window.
type WindowMetrics struct {
	URL         string  `json:"url"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// NewWindowMetrics builds a row and derives CTR as a percentage.
func NewWindowMetrics(url string, impressions, clicks int64, position float64) WindowMetrics {
	return WindowMetrics{
		URL:         url,
		Impressions: impressions,
		Clicks:      clicks,
		CTR:         ComputeCTR(clicks, impressions),
		Position:    position,
	}
}

// ComputeCTR returns clicks/impressions*100 rounded to two decimals, or 0
// when there were no impressions.
func ComputeCTR(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return math.Round(float64(clicks)/float64(impressions)*100*100) / 100
}

// TimeRange represents a right-open [Start, End) day range
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// WindowRange returns [today-days, today) for the given reference time,
// truncated to calendar days in now's location.
func WindowRange(now time.Time, days int) TimeRange {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return TimeRange{
		Start: today.AddDate(0, 0, -days),
		End:   today,
	}
}

// WindowLabel names a window the way reports display it: 24h, 7d, 28d...
func WindowLabel(days int) string {
	if days == 1 {
		return "24h"
	}
	return fmt.Sprintf("%dd", days)
}

// LongestWindow returns the largest day count, or 0 for an empty list.
func LongestWindow(windows []int) int {
	longest := 0
	for _, w := range windows {
		if w > longest {
			longest = w
		}
	}
	return longest
}

// AggregatedURL is the merged view of one URL across variations and windows.
// Windows keeps, per window, the row with the most impressions among the
// variations that surfaced the URL.
type AggregatedURL struct {
	URL        string                `json:"url"`
	Windows    map[int]WindowMetrics `json:"windows"`
	Variations []string              `json:"variations_found"`

	// DiscoveryRank orders URLs by where they first appeared in the
	// (variation, window, row) sequence. Lower is earlier.
	DiscoveryRank int `json:"discovery_rank"`
}

// Window returns the metrics for the given window if present.
func (a *AggregatedURL) Window(days int) (WindowMetrics, bool) {
	m, ok := a.Windows[days]
	return m, ok
}
