package errors

import (
	"errors"
	"fmt"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
)

// PartialFailure is returned when some metrics queries of a check failed.
// Report holds everything that was merged from the successful queries.
type PartialFailure struct {
	Report *domain.ConflictReport
	Failed []domain.FailedQuery
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%d of %d metrics queries failed for keyword %q",
		len(e.Failed), e.total(), e.Report.Keyword)
}

func (e *PartialFailure) total() int {
	return len(e.Report.Variations) * len(e.Report.Windows)
}

// AllFailed reports whether no query succeeded at all.
func (e *PartialFailure) AllFailed() bool {
	return len(e.Failed) >= e.total()
}

// AsPartialFailure extracts a PartialFailure from err's chain.
func AsPartialFailure(err error) (*PartialFailure, bool) {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf, true
	}
	return nil, false
}
