// internal/syncer/staleness.go
package syncer

import "time"

// shouldRefreshReadme decides whether a README is stale enough to re-fetch.
//
// A never-fetched README is always stale, as is one older than maxAge.
// In between, staleness probability ramps linearly with age (0 at a fresh
// fetch, 1 at maxAge), decided by one draw in [0,1). This amortizes the
// expensive fetches: fresh READMEs are almost never re-fetched while
// long-stale ones converge to certainty, without a fetch storm at a fixed
// interval.
//
// The draw must come from the run's persisted random source so a replayed
// run reuses the original decision.
func shouldRefreshReadme(lastUpdatedAt *time.Time, now time.Time, maxAge time.Duration, draw float64) bool {
	if lastUpdatedAt == nil {
		return true
	}

	age := now.Sub(*lastUpdatedAt)
	if age >= maxAge {
		return true
	}
	if age <= 0 {
		return false
	}

	return draw < float64(age)/float64(maxAge)
}
