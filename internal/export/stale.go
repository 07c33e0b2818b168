package export

import "time"

// DefaultStalenessThreshold is the age after which a failed capture is dropped
// instead of retried.
const DefaultStalenessThreshold = 10 * time.Second

// IsStale reports whether an event observed at ts is older than max at now.
// A zero timestamp is never stale.
func IsStale(ts, now time.Time, max time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) > max
}
