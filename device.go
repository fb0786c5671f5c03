package hotsort

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
)

// DeviceConfig describes the emulated device. A zero field takes its
// default from DefaultDeviceConfig.
type DeviceConfig struct {
	Name     string      // Human-readable device name
	Workers  int         // Workgroups executing concurrently
	MemLimit uint64      // Device memory in bytes
	Logger   *log.Logger // Nil discards
	Verbose  bool        // Log dispatch plans

	// FaultHook, when set, is consulted before every launch; a non-nil
	// return fails the launch with a device error wrapping it.
	FaultHook func(kernel string) error
}

// DefaultDeviceConfig returns a configuration sized to the host, honouring
// HOTSORT_WORKERS, HOTSORT_MEM_LIMIT_MB and HOTSORT_VERBOSE.
func DefaultDeviceConfig() DeviceConfig {
	memLimit := getSystemMemory() / 2
	if mb := envInt(EnvMemLimitMB, 0); mb > 0 {
		memLimit = uint64(mb) << 20
	}
	return DeviceConfig{
		Name:     "CPU (" + hostFeatureString() + ")",
		Workers:  envInt(EnvWorkers, runtime.NumCPU()),
		MemLimit: memLimit,
		Verbose:  envBool(EnvVerbose),
	}
}

// Device represents a compute device. It owns device memory accounting and
// the streams kernels are launched on.
type Device struct {
	Name     string
	TotalMem uint64
	Workers  int

	memory    *MemoryPool
	logger    *log.Logger
	verbose   bool
	faultHook func(kernel string) error

	mu       sync.Mutex
	streams  map[int]*Stream
	streamID int32
	closed   atomic.Bool
}

// Stream represents an ordered sequence of launches. A launch starts only
// after every earlier launch on the same stream has finished and its writes
// are visible. Launches on different streams may run concurrently.
//
// Errors are sticky: once a launch fails, later launches are skipped and
// Synchronize reports the first failure.
type Stream struct {
	id    int
	dev   *Device
	tasks chan func()
	wg    sync.WaitGroup

	mu  sync.Mutex
	err error

	// sendMu orders sends on tasks with closing it.
	sendMu sync.Mutex
	closed bool
}

// Dim3 represents 3D dimensions for grid and block configurations.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements. Zero Y and Z count as one.
func (d Dim3) Size() int {
	return d.X * max(d.Y, 1) * max(d.Z, 1)
}

// Launch describes one kernel dispatch.
type Launch struct {
	Name string

	// Grid counts workgroups. Block.X is the lanes per subgroup and
	// Block.Y the subgroups per workgroup.
	Grid  Dim3
	Block Dim3

	// Shared allocates one workgroup's shared memory; nil for none.
	Shared func() any

	// Kernel runs once per subgroup.
	Kernel func(sg *Subgroup)
}

// NewDevice creates a device from cfg.
func NewDevice(cfg DeviceConfig) *Device {
	def := DefaultDeviceConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MemLimit == 0 {
		cfg.MemLimit = def.MemLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Device{
		Name:      cfg.Name,
		TotalMem:  cfg.MemLimit,
		Workers:   cfg.Workers,
		memory:    NewMemoryPool(cfg.MemLimit),
		logger:    logger,
		verbose:   cfg.Verbose,
		faultHook: cfg.FaultHook,
		streams:   make(map[int]*Stream),
	}
}

// NewStream creates a new execution stream
func (d *Device) NewStream() *Stream {
	id := int(atomic.AddInt32(&d.streamID, 1))
	stream := &Stream{
		id:    id,
		dev:   d,
		tasks: make(chan func(), 64),
	}

	go stream.worker()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		stream.close()
		return stream
	}
	d.streams[id] = stream
	return stream
}

// Synchronize waits for all streams and returns the first sticky error.
func (d *Device) Synchronize() error {
	d.mu.Lock()
	streams := make([]*Stream, 0, len(d.streams))
	for _, s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	var first error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close waits for outstanding work and releases all streams. Launches
// after Close fail with ErrDeviceClosed, including launches racing with it.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	streams := d.streams
	d.streams = make(map[int]*Stream)
	d.mu.Unlock()

	// A closed stream takes no new work but drains what is queued.
	var first error
	for _, s := range streams {
		s.close()
		if err := s.Synchronize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryStats returns the bytes currently allocated and the peak.
func (d *Device) MemoryStats() (allocated, peak int64) {
	return d.memory.GetStats()
}

func (d *Device) logf(format string, args ...any) {
	d.logger.Printf(format, args...)
}

// Stream methods

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
}

// enqueue hands task to the worker unless the stream is closed.
func (s *Stream) enqueue(task func()) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		if s.dev.closed.Load() {
			return ErrDeviceClosed
		}
		return NewUsageError("Launch", fmt.Sprintf("stream %d was destroyed", s.id))
	}
	s.wg.Add(1)
	s.tasks <- task
	return nil
}

// submit adds a task to the stream
func (s *Stream) submit(task func() error) error {
	return s.enqueue(func() {
		if s.Err() != nil {
			return
		}
		if err := task(); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	})
}

// Launch enqueues l behind every earlier launch on the stream.
func (s *Stream) Launch(l Launch) error {
	if s.dev.closed.Load() {
		return ErrDeviceClosed
	}
	if l.Kernel == nil {
		return NewUsageError("Launch", fmt.Sprintf("kernel %q has no body", l.Name))
	}
	return s.submit(func() error {
		return s.dev.execute(l)
	})
}

// Fence returns a channel that is closed once every launch enqueued
// before the call has completed. On a closed stream it is closed at once.
func (s *Stream) Fence() <-chan struct{} {
	done := make(chan struct{})
	if err := s.enqueue(func() { close(done) }); err != nil {
		close(done)
	}
	return done
}

// Err returns the stream's sticky error without waiting.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Synchronize waits for all tasks in the stream to complete
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	return s.Err()
}

// Destroy stops the stream taking work, waits for what is queued and
// releases it.
func (s *Stream) Destroy() error {
	s.close()
	err := s.Synchronize()
	s.dev.mu.Lock()
	delete(s.dev.streams, s.id)
	s.dev.mu.Unlock()
	return err
}

func (s *Stream) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
}
