// Package metrics publishes engine counters through expvar.
package metrics

import "expvar"

var (
	RunsAdmitted   = expvar.NewInt("runs_admitted")
	RunsSuperseded = expvar.NewInt("runs_superseded")
	RunsPassed     = expvar.NewInt("runs_passed")
	RunsFailed     = expvar.NewInt("runs_failed")
	RunsCancelled  = expvar.NewInt("runs_cancelled")
	CacheHits      = expvar.NewInt("cache_hits")
	CacheMisses    = expvar.NewInt("cache_misses")
	CacheErrors    = expvar.NewInt("cache_errors")
)
