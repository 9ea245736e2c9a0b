package aggregator

import (
	"sort"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
)

// position of a row in the (variation, window, row) query sequence
type discovery struct {
	pair int
	row  int
}

func (d discovery) before(o discovery) bool {
	if d.pair != o.pair {
		return d.pair < o.pair
	}
	return d.row < o.row
}

type sourcedMetrics struct {
	metrics   domain.WindowMetrics
	variation int
}

// better reports whether s should replace o for the same (url, window).
// Most impressions wins; the remaining keys only make ties deterministic.
func (s sourcedMetrics) better(o sourcedMetrics) bool {
	switch {
	case s.metrics.Impressions != o.metrics.Impressions:
		return s.metrics.Impressions > o.metrics.Impressions
	case s.metrics.Clicks != o.metrics.Clicks:
		return s.metrics.Clicks > o.metrics.Clicks
	case s.metrics.Position != o.metrics.Position:
		return s.metrics.Position < o.metrics.Position
	default:
		return s.variation < o.variation
	}
}

type urlEntry struct {
	url        string
	windows    map[int]sourcedMetrics
	variations map[int]struct{}
	first      discovery
}

// merger folds per-query rows into one record per URL. Every operation is
// commutative, so the result does not depend on completion order.
type merger struct {
	urls map[string]*urlEntry
}

func newMerger() *merger {
	return &merger{urls: make(map[string]*urlEntry)}
}

func (m *merger) add(j job, rows []domain.WindowMetrics) {
	ordered := make([]domain.WindowMetrics, 0, len(rows))
	for _, r := range rows {
		if r.URL != "" {
			ordered = append(ordered, r)
		}
	}
	// the backend does not guarantee any ordering
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].Impressions != ordered[b].Impressions {
			return ordered[a].Impressions > ordered[b].Impressions
		}
		return ordered[a].URL < ordered[b].URL
	})

	for i, row := range ordered {
		seen := discovery{pair: j.index, row: i}

		entry, ok := m.urls[row.URL]
		if !ok {
			entry = &urlEntry{
				url:        row.URL,
				windows:    make(map[int]sourcedMetrics),
				variations: make(map[int]struct{}),
				first:      seen,
			}
			m.urls[row.URL] = entry
		} else if seen.before(entry.first) {
			entry.first = seen
		}

		candidate := sourcedMetrics{metrics: row, variation: j.variationIndex}
		if current, ok := entry.windows[j.window]; !ok || candidate.better(current) {
			entry.windows[j.window] = candidate
		}
		entry.variations[j.variationIndex] = struct{}{}
	}
}

// build freezes the merged state into AggregatedURL records.
func (m *merger) build(variations []string) map[string]*domain.AggregatedURL {
	entries := make([]*urlEntry, 0, len(m.urls))
	for _, e := range m.urls {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].first != entries[j].first {
			return entries[i].first.before(entries[j].first)
		}
		return entries[i].url < entries[j].url
	})

	out := make(map[string]*domain.AggregatedURL, len(entries))
	for rank, e := range entries {
		windows := make(map[int]domain.WindowMetrics, len(e.windows))
		for w, sm := range e.windows {
			windows[w] = sm.metrics
		}

		indexes := make([]int, 0, len(e.variations))
		for vi := range e.variations {
			indexes = append(indexes, vi)
		}
		sort.Ints(indexes)
		found := make([]string, len(indexes))
		for i, vi := range indexes {
			found[i] = variations[vi]
		}

		out[e.url] = &domain.AggregatedURL{
			URL:           e.url,
			Windows:       windows,
			Variations:    found,
			DiscoveryRank: rank,
		}
	}
	return out
}
