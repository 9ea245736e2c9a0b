package domain

import (
	"sort"
	"time"
)

// FailedQuery identifies a (variation, window) pair whose query failed
type FailedQuery struct {
	Variation  string `json:"variation"`
	WindowDays int    `json:"window_days"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// ConflictReport is the result of one conflict check
type ConflictReport struct {
	ID            string                    `json:"id"`
	Keyword       string                    `json:"keyword"`
	Variations    []string                  `json:"variations"`
	Windows       []int                     `json:"windows"`
	Thresholds    Thresholds                `json:"thresholds"`
	URLs          map[string]*AggregatedURL `json:"urls"`
	Alerts        []Alert                   `json:"alerts"`
	FailedQueries []FailedQuery             `json:"failed_queries,omitempty"`
	CheckedAt     time.Time                 `json:"checked_at"`
}

// OrderedURLs returns the aggregated URLs in discovery order.
func (r *ConflictReport) OrderedURLs() []*AggregatedURL {
	urls := make([]*AggregatedURL, 0, len(r.URLs))
	for _, u := range r.URLs {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		if urls[i].DiscoveryRank != urls[j].DiscoveryRank {
			return urls[i].DiscoveryRank < urls[j].DiscoveryRank
		}
		return urls[i].URL < urls[j].URL
	})
	return urls
}

// Partial reports whether any query failed.
func (r *ConflictReport) Partial() bool {
	return len(r.FailedQueries) > 0
}

// CountByTier counts alerts per tier.
func (r *ConflictReport) CountByTier() map[Tier]int {
	counts := map[Tier]int{
		TierCritical: 0,
		TierWarning:  0,
		TierInfo:     0,
	}
	for _, a := range r.Alerts {
		counts[a.Tier]++
	}
	return counts
}

// HasConflict reports whether creating new content should be blocked or
// at least confirmed: any critical or warning alert.
func (r *ConflictReport) HasConflict() bool {
	for _, a := range r.Alerts {
		if a.Tier == TierCritical || a.Tier == TierWarning {
			return true
		}
	}
	return false
}

// UpdateCandidate returns the URL that should be updated instead of
// creating new content: the first critical alert, if any.
func (r *ConflictReport) UpdateCandidate() (string, bool) {
	for _, a := range r.Alerts {
		if a.Tier == TierCritical {
			return a.URL, true
		}
	}
	return "", false
}

// ReportSummary is the stored listing view of a report
type ReportSummary struct {
	ID        string    `json:"id"`
	Keyword   string    `json:"keyword"`
	Critical  int       `json:"critical"`
	Warning   int       `json:"warning"`
	Info      int       `json:"info"`
	Partial   bool      `json:"partial"`
	CheckedAt time.Time `json:"checked_at"`
}

// Summary builds the listing view of the report.
func (r *ConflictReport) Summary() ReportSummary {
	counts := r.CountByTier()
	return ReportSummary{
		ID:        r.ID,
		Keyword:   r.Keyword,
		Critical:  counts[TierCritical],
		Warning:   counts[TierWarning],
		Info:      counts[TierInfo],
		Partial:   r.Partial(),
		CheckedAt: r.CheckedAt,
	}
}

// URLHistoryEntry is one past classification of a URL
type URLHistoryEntry struct {
	ReportID    string    `json:"report_id"`
	Keyword     string    `json:"keyword"`
	Tier        Tier      `json:"tier"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Position    float64   `json:"position"`
	CheckedAt   time.Time `json:"checked_at"`
}
