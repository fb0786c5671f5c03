//go:build !linux

package hotsort

import "errors"

// PerfMonitor is unavailable off Linux; Start always fails.
type PerfMonitor struct{}

// NewPerfMonitor creates a monitor that reports no counters.
func NewPerfMonitor() *PerfMonitor {
	return &PerfMonitor{}
}

// Start reports that hardware counters are unavailable.
func (pm *PerfMonitor) Start() error {
	return errors.New("hardware counters are only supported on Linux")
}

// Stop returns empty counters.
func (pm *PerfMonitor) Stop() *PerfCounters {
	return &PerfCounters{}
}
