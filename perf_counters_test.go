package hotsort

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMeasureSort(t *testing.T) {
	dev := NewDeviceOrFail(t, 2)
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 0)
	s := NewSorterOrFail[uint32, uint32](t, dev, target)
	count := 10000
	_, out, _ := s.Pad(count)
	buf := NewBufferOrFail[uint32, uint32](t, dev, out, false)
	for i := 0; i < count; i++ {
		buf.Keys[i] = uint32(count - i)
	}

	counters, err := MeasureSort(count, func() error {
		return s.Sort(buf, buf, count, true)
	})
	if err != nil {
		t.Fatal(err)
	}
	if counters.Duration <= 0 || counters.MKeysPerSec <= 0 {
		t.Errorf("no timing collected: %+v", counters)
	}
	if counters.Cycles > 0 {
		t.Logf("IPC %.2f over %d cycles", counters.IPC, counters.Cycles)
	}
	if !IsSorted(buf.Keys[:count]) {
		t.Error("measured sort did not sort")
	}
}

func TestMeasureSortPropagatesError(t *testing.T) {
	want := errors.New("sort failed")
	if _, err := MeasureSort(1, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestPerfCounterFormatting(t *testing.T) {
	pc := &PerfCounters{
		Duration:     time.Second,
		Cycles:       4000000000,
		Instructions: 8000000000,
		BranchMisses: 1000000,
		CacheMisses:  5000000,
	}
	pc.CalculateMetrics(50000000)
	if pc.IPC != 2.0 || pc.MKeysPerSec != 50 {
		t.Errorf("derived IPC %.2f, throughput %.2f", pc.IPC, pc.MKeysPerSec)
	}

	str := pc.String()
	for _, want := range []string{"IPC:               2.00", "50.00 Mkeys/s", "Branch Misses"} {
		if !strings.Contains(str, want) {
			t.Errorf("String() missing %q:\n%s", want, str)
		}
	}
}
