// Package probes provides interfaces and implementations for collecting host counters.
package probes

import (
	"context"
	"fmt"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// SystemProbe pulls raw counters from the host.
// Implementations remember the previous CPU tick snapshot and nothing else.
type SystemProbe interface {
	Probe(ctx context.Context) (*RawCounters, error)
	Host(ctx context.Context) (*types.HostInfo, error)
}

// CPUUnknown marks a reading where CPU usage could not be computed
const CPUUnknown = -1.0

// RawCounters is the normalized result of one probe, all sizes in bytes
type RawCounters struct {
	CPUPercent float64 // 0-100, CPUUnknown on failure
	CPUPrimed  bool    // false on the first probe, before a delta exists

	MemoryTotal uint64
	MemoryUsed  uint64

	DiskTotal   uint64
	DiskUsed    uint64
	DiskPercent float64

	SwapTotal uint64
	SwapUsed  uint64

	Temperature       *float64
	TemperatureSource types.TemperatureSource
	FrequencyGHz      *float64
}

// Valid reports whether the counters can be turned into a sample
func (r *RawCounters) Valid() bool {
	return r != nil && r.CPUPrimed && r.CPUPercent >= 0 && r.CPUPercent <= 100 && r.DiskPercent >= 0
}

// ProbeError is returned when an OS query is unavailable or its output is malformed
type ProbeError struct {
	Op  string // "cpu", "memory", "disk", "swap", ...
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func probeErr(op string, err error) error {
	return &ProbeError{Op: op, Err: err}
}
