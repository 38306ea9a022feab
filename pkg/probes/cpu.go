package probes

import (
	"math"
	"sync"
)

// CPUTimes is an aggregate tick snapshot across all cores
type CPUTimes struct {
	Idle  float64 // idle + iowait
	Total float64
}

// CPUTracker turns consecutive tick snapshots into a utilization percentage
type CPUTracker struct {
	mu   sync.Mutex
	prev *CPUTimes
}

// Update replaces the stored snapshot with cur and returns usage over the interval.
// The first call has nothing to compare against and returns (0, false).
func (t *CPUTracker) Update(cur CPUTimes) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.prev
	t.prev = &cur
	if prev == nil {
		return 0, false
	}
	return usageBetween(*prev, cur), true
}

// Reset forgets the stored snapshot, e.g. after a counter wrap
func (t *CPUTracker) Reset() {
	t.mu.Lock()
	t.prev = nil
	t.mu.Unlock()
}

func usageBetween(prev, cur CPUTimes) float64 {
	deltaTotal := cur.Total - prev.Total
	deltaIdle := cur.Idle - prev.Idle
	if deltaTotal <= 0 {
		return 0
	}
	if deltaIdle < 0 {
		deltaIdle = 0
	}

	usage := (1 - deltaIdle/deltaTotal) * 100
	if math.IsNaN(usage) {
		return 0
	}
	return round(clamp(usage, 0, 100), 2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	shift := math.Pow(10, float64(decimals))
	return math.Round(val*shift) / shift
}
