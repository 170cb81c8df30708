// internal/paginate/backoff.go
package paginate

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is the delay schedule for consecutive rate-limited responses:
// base, 2*base, 4*base, ... with no jitter and no ceiling.
type Backoff struct {
	exp *backoff.ExponentialBackOff
}

// NewBackoff returns a schedule starting at base.
func NewBackoff(base time.Duration) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(1<<63 - 1)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &Backoff{exp: exp}
}

// Next returns the delay before the next retry and advances the schedule.
func (b *Backoff) Next() time.Duration {
	return b.exp.NextBackOff()
}

// Reset restarts the schedule at base. Called after every successful fetch.
func (b *Backoff) Reset() {
	b.exp.Reset()
}
