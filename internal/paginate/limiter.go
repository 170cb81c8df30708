// internal/paginate/limiter.go
package paginate

import (
	"golang.org/x/time/rate"
)

// NewLimiter returns a token bucket allowing rps requests per second with a
// burst of one. rps <= 0 disables pacing.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
