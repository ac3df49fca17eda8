// Package rwlstats is the ambient counter/gauge plumbing consumed by
// rwlog's Cache: a running average and a set of named counters, queried
// by package cmd/rwl-admin's stat subcommand. rwlog records only counters
// (writes_completed, reads_completed); the Avg and Gauge kinds are
// available but nothing in this module records them.
//
// Grounded on common/stats.go, generalized from a single Avg metric kind
// to separate Count/Avg/Gauge kinds, since call counts, running averages
// and point-in-time gauges do not share a shape.
package rwlstats

import "sync"

// Stats accumulates named metrics. The zero value is ready to use.
type Stats struct {
	mu      sync.Mutex
	counts  map[string]int64
	avgSum  map[string]float64
	avgN    map[string]int64
	gauges  map[string]float64
}

// New returns an empty Stats.
func New() *Stats {
	return &Stats{
		counts: map[string]int64{},
		avgSum: map[string]float64{},
		avgN:   map[string]int64{},
		gauges: map[string]float64{},
	}
}

// Incr adds delta to the named counter.
func (s *Stats) Incr(key string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key] += delta
}

// Avg folds val into the named running average.
func (s *Stats) Avg(key string, val float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avgSum[key] += val
	s.avgN[key]++
}

// Gauge sets the named point-in-time value, overwriting whatever was there.
func (s *Stats) Gauge(key string, val float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[key] = val
}

// Snapshot returns a point-in-time copy of every metric, with averages
// already divided down, for cmd/rwl-admin's stat subcommand to render.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Counts: make(map[string]int64, len(s.counts)),
		Avgs:   make(map[string]float64, len(s.avgSum)),
		Gauges: make(map[string]float64, len(s.gauges)),
	}
	for k, v := range s.counts {
		snap.Counts[k] = v
	}
	for k, sum := range s.avgSum {
		n := s.avgN[k]
		if n > 0 {
			snap.Avgs[k] = sum / float64(n)
		}
	}
	for k, v := range s.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

// Snapshot is an immutable point-in-time view of a Stats.
type Snapshot struct {
	Counts map[string]int64
	Avgs   map[string]float64
	Gauges map[string]float64
}
