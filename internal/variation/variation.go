// Package variation derives the query strings used to probe the metrics
// backend for a keyword.
package variation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
)

// MaxVariations is the upper bound on Generate's result length.
const MaxVariations = 4

// Generate expands a keyword into at most MaxVariations query strings.
// The lower-cased, trimmed keyword is always first; the rest are
// deduplicated case-insensitively in first-seen order.
func Generate(keyword string) ([]string, error) {
	normalized := strings.ToLower(strings.TrimSpace(keyword))
	if normalized == "" {
		return nil, apperrors.NewInvalidInputError("keyword must not be empty")
	}

	variations := []string{normalized}
	terms := strings.Fields(normalized)

	if len(terms) >= 3 {
		variations = append(variations,
			strings.Join(terms[:2], " "),
			strings.Join(terms[len(terms)-2:], " "),
		)

		// brands, models and numbers
		relevant := relevantTerms(terms)
		if len(relevant) >= 2 {
			variations = append(variations, strings.Join(relevant[:2], " "))
		}
	}

	return dedupe(variations), nil
}

func relevantTerms(terms []string) []string {
	var relevant []string
	for _, t := range terms {
		if utf8.RuneCountInString(t) > 3 || strings.IndexFunc(t, unicode.IsDigit) >= 0 {
			relevant = append(relevant, t)
		}
	}
	return relevant
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
