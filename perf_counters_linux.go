//go:build linux

package hotsort

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type perfEvent struct {
	name   string
	config uint64
	dst    func(*PerfCounters) *uint64
}

var perfEvents = []perfEvent{
	{"cycles", unix.PERF_COUNT_HW_CPU_CYCLES, func(pc *PerfCounters) *uint64 { return &pc.Cycles }},
	{"instructions", unix.PERF_COUNT_HW_INSTRUCTIONS, func(pc *PerfCounters) *uint64 { return &pc.Instructions }},
	{"branch-misses", unix.PERF_COUNT_HW_BRANCH_MISSES, func(pc *PerfCounters) *uint64 { return &pc.BranchMisses }},
	{"cache-misses", unix.PERF_COUNT_HW_CACHE_MISSES, func(pc *PerfCounters) *uint64 { return &pc.CacheMisses }},
}

// PerfMonitor reads hardware counters through perf_event_open. Counters
// follow the whole process, inherited by threads the runtime starts after
// Start.
type PerfMonitor struct {
	fds []int
}

// NewPerfMonitor creates a stopped monitor.
func NewPerfMonitor() *PerfMonitor {
	return &PerfMonitor{}
}

// Start opens and enables every counter. It fails when the kernel refuses
// perf events, for example under perf_event_paranoid or in a container.
func (pm *PerfMonitor) Start() error {
	pm.Stop()

	for _, ev := range perfEvents {
		attr := &unix.PerfEventAttr{
			Type:   unix.PERF_TYPE_HARDWARE,
			Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
			Config: ev.config,
			Bits:   unix.PerfBitDisabled | unix.PerfBitInherit | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
		}
		fd, err := unix.PerfEventOpen(attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			pm.Stop()
			return fmt.Errorf("failed to open perf event %s: %w", ev.name, err)
		}
		pm.fds = append(pm.fds, fd)
	}
	if err := enableCounters(pm.fds, unix.IoctlSetInt); err != nil {
		pm.Stop()
		return err
	}
	return nil
}

// enableCounters resets and enables the counter behind each fd, stopping
// at the first ioctl that fails.
func enableCounters(fds []int, ioctl func(fd int, req uint, value int) error) error {
	for i, fd := range fds {
		if err := ioctl(fd, unix.PERF_EVENT_IOC_RESET, 0); err != nil {
			return fmt.Errorf("failed to reset perf event %s: %w", perfEvents[i].name, err)
		}
		if err := ioctl(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			return fmt.Errorf("failed to enable perf event %s: %w", perfEvents[i].name, err)
		}
	}
	return nil
}

// Stop disables the counters and returns their values.
func (pm *PerfMonitor) Stop() *PerfCounters {
	counters := &PerfCounters{}
	for i, fd := range pm.fds {
		unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
		var buf [8]byte
		if n, err := unix.Read(fd, buf[:]); err == nil && n == len(buf) {
			*perfEvents[i].dst(counters) = *(*uint64)(unsafe.Pointer(&buf[0]))
		}
		unix.Close(fd)
	}
	pm.fds = nil
	return counters
}
