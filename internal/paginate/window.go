// internal/paginate/window.go
package paginate

import (
	"time"

	"scm-graph-fetcher/internal/model"
)

// MonthWindow returns a StopAfter predicate that is true once a page holds a
// commit dated before months ago. months <= 0 disables the window.
func MonthWindow(months int, now func() time.Time) func(Page[model.CommitRecord]) bool {
	if months <= 0 {
		return nil
	}
	return func(page Page[model.CommitRecord]) bool {
		cutoff := now().AddDate(0, -months, 0)
		for _, rec := range page.Values {
			if rec.Commit.Date.Before(cutoff) {
				return true
			}
		}
		return false
	}
}
