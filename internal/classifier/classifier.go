package classifier

import (
	"sort"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
)

// FirstPage is the last position that still renders on the first result page.
const FirstPage = 10

// TopFive separates the two critical recommendations.
const TopFive = 5

// Recommendations per tier and ranking depth
const (
	RecommendCriticalTopFive   = "Existing URL ranks top-5 with real traffic: update it instead of creating new content"
	RecommendCriticalFirstPage = "URL on page 1 is already converting traffic: prefer updating it over creating new content"
	RecommendWarningFirstPage  = "URL on page 1 with low traffic: optimize it before creating new content"
	RecommendWarningDeeper     = "URL ranks deeper with moderate traffic: decide between updating it or creating complementary content"
	RecommendInfo              = "Low-visibility URL: safe to create new content or improve this URL"
)

type rule struct {
	name  string
	tier  domain.Tier
	match func(m domain.WindowMetrics, t domain.Thresholds) bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name:  "first page with strong impressions",
		tier:  domain.TierCritical,
		match: func(m domain.WindowMetrics, t domain.Thresholds) bool {
			return m.Position <= FirstPage && float64(m.Impressions) >= 2*t.Impressions
		},
	},
	{
		name:  "first page with clicks",
		tier:  domain.TierCritical,
		match: func(m domain.WindowMetrics, t domain.Thresholds) bool {
			return m.Position <= FirstPage && m.Clicks > 0
		},
	},
	{
		name:  "within position threshold with impressions",
		tier:  domain.TierWarning,
		match: func(m domain.WindowMetrics, t domain.Thresholds) bool {
			return m.Position <= t.Position && float64(m.Impressions) >= t.Impressions
		},
	},
	{
		name:  "first page with low impressions",
		tier:  domain.TierWarning,
		match: func(m domain.WindowMetrics, t domain.Thresholds) bool {
			return m.Position <= FirstPage && float64(m.Impressions) < t.Impressions
		},
	},
	{
		// keeps severity monotonic in position at the threshold boundary
		name:  "within position threshold with some impressions",
		tier:  domain.TierInfo,
		match: func(m domain.WindowMetrics, t domain.Thresholds) bool {
			return m.Position <= t.Position && float64(m.Impressions) >= t.Impressions/2
		},
	},
	{
		name:  "deep ranking with some impressions",
		tier:  domain.TierInfo,
		match: func(m domain.WindowMetrics, t domain.Thresholds) bool {
			return m.Position > t.Position && float64(m.Impressions) >= t.Impressions/2
		},
	},
}

// Classify assigns a tier and recommendation to rec using only the metrics
// of longestWindow. A URL with no row for that window is TierNone.
func Classify(rec *domain.AggregatedURL, longestWindow int, thresholds domain.Thresholds) (domain.Tier, string) {
	if rec == nil {
		return domain.TierNone, ""
	}
	m, ok := rec.Window(longestWindow)
	if !ok {
		return domain.TierNone, ""
	}

	for _, r := range rules {
		if r.match(m, thresholds) {
			return r.tier, Recommend(r.tier, m.Position)
		}
	}
	return domain.TierNone, ""
}

// Recommend returns the recommendation text for a tier at a position.
func Recommend(tier domain.Tier, position float64) string {
	switch tier {
	case domain.TierCritical:
		if position <= TopFive {
			return RecommendCriticalTopFive
		}
		return RecommendCriticalFirstPage
	case domain.TierWarning:
		if position <= FirstPage {
			return RecommendWarningFirstPage
		}
		return RecommendWarningDeeper
	case domain.TierInfo:
		return RecommendInfo
	default:
		return ""
	}
}

// BuildAlerts classifies every URL of report and returns the alerts sorted
// by severity then descending impressions. Ties keep discovery order.
// URLs classified as none are omitted.
func BuildAlerts(report *domain.ConflictReport, thresholds domain.Thresholds) []domain.Alert {
	longest := domain.LongestWindow(report.Windows)

	alerts := make([]domain.Alert, 0, len(report.URLs))
	for _, rec := range report.OrderedURLs() {
		tier, recommendation := Classify(rec, longest, thresholds)
		if tier == domain.TierNone {
			continue
		}

		m, _ := rec.Window(longest)
		alerts = append(alerts, domain.Alert{
			URL:            rec.URL,
			Tier:           tier,
			WindowDays:     longest,
			Metrics:        m,
			ShorterWindows: shorterWindows(rec, report.Windows, longest),
			Variations:     append([]string(nil), rec.Variations...),
			Recommendation: recommendation,
		})
	}

	SortAlerts(alerts)
	return alerts
}

// SortAlerts orders alerts by severity, then by descending impressions,
// preserving input order between equal alerts.
func SortAlerts(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		si, sj := alerts[i].Tier.Severity(), alerts[j].Tier.Severity()
		if si != sj {
			return si < sj
		}
		return alerts[i].Metrics.Impressions > alerts[j].Metrics.Impressions
	})
}

// Assemble stamps thresholds on report and fills its alerts.
func Assemble(report *domain.ConflictReport, thresholds domain.Thresholds) {
	report.Thresholds = thresholds
	report.Alerts = BuildAlerts(report, thresholds)
}

func shorterWindows(rec *domain.AggregatedURL, windows []int, longest int) map[int]domain.WindowMetrics {
	var out map[int]domain.WindowMetrics
	for _, w := range windows {
		if w >= longest {
			continue
		}
		m, ok := rec.Window(w)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[int]domain.WindowMetrics)
		}
		out[w] = m
	}
	return out
}
