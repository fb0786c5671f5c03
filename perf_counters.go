// Package hotsort performance counter integration for sort benchmarks
package hotsort

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// PerfCounters holds hardware counters collected around a sort.
type PerfCounters struct {
	Duration time.Duration

	Cycles       uint64
	Instructions uint64
	BranchMisses uint64
	CacheMisses  uint64

	// Derived metrics
	IPC         float64 // Instructions per cycle
	MKeysPerSec float64
}

// CalculateMetrics derives rates for a run that sorted keys keys.
func (pc *PerfCounters) CalculateMetrics(keys int) {
	if pc.Cycles > 0 {
		pc.IPC = float64(pc.Instructions) / float64(pc.Cycles)
	}
	if pc.Duration > 0 {
		pc.MKeysPerSec = float64(keys) / pc.Duration.Seconds() / 1e6
	}
}

// String formats performance counters for display
func (pc *PerfCounters) String() string {
	var sb strings.Builder
	sb.WriteString("Performance Counters:\n")
	fmt.Fprintf(&sb, "  Duration:          %v\n", pc.Duration)
	if pc.MKeysPerSec > 0 {
		fmt.Fprintf(&sb, "  Throughput:        %.2f Mkeys/s\n", pc.MKeysPerSec)
	}
	if pc.Cycles > 0 {
		fmt.Fprintf(&sb, "  CPU Cycles:        %d\n", pc.Cycles)
		fmt.Fprintf(&sb, "  Instructions:      %d\n", pc.Instructions)
		fmt.Fprintf(&sb, "  IPC:               %.2f\n", pc.IPC)
	}
	if pc.BranchMisses > 0 {
		fmt.Fprintf(&sb, "  Branch Misses:     %d\n", pc.BranchMisses)
	}
	if pc.CacheMisses > 0 {
		fmt.Fprintf(&sb, "  Cache Misses:      %d\n", pc.CacheMisses)
	}
	return sb.String()
}

// MeasureSort runs fn, which sorts keys keys, and returns its counters.
// Where hardware counters are unavailable only the duration is reported.
func MeasureSort(keys int, fn func() error) (*PerfCounters, error) {
	monitor := NewPerfMonitor()
	hw := monitor.Start() == nil

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	counters := &PerfCounters{}
	if hw {
		counters = monitor.Stop()
	}
	if err != nil {
		return nil, err
	}
	counters.Duration = elapsed
	counters.CalculateMetrics(keys)
	return counters, nil
}

// ReportPerfCounters runs fn b.N times and reports hardware counters per
// sort alongside the benchmark's own timing.
func ReportPerfCounters(b *testing.B, fn func()) {
	monitor := NewPerfMonitor()
	hw := monitor.Start() == nil
	for i := 0; i < b.N; i++ {
		fn()
	}
	if !hw {
		return
	}
	counters := monitor.Stop()
	counters.CalculateMetrics(0)
	if counters.IPC > 0 {
		b.ReportMetric(counters.IPC, "IPC")
	}
	if counters.BranchMisses > 0 {
		b.ReportMetric(float64(counters.BranchMisses)/float64(b.N), "branch-misses/op")
	}
	if counters.CacheMisses > 0 {
		b.ReportMetric(float64(counters.CacheMisses)/float64(b.N), "cache-misses/op")
	}
}
