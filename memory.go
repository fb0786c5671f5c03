package hotsort

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Word is the set of key and value widths the sorter handles.
type Word interface {
	~uint32 | ~uint64
}

// MemoryPool accounts device memory against the device limit.
type MemoryPool struct {
	mu         sync.Mutex
	limit      int64
	totalAlloc int64
	peakAlloc  int64
}

// NewMemoryPool creates a pool that refuses allocations beyond limit bytes.
func NewMemoryPool(limit uint64) *MemoryPool {
	return &MemoryPool{limit: int64(limit)}
}

// reserve claims size bytes or fails with ErrOutOfMemory.
func (mp *MemoryPool) reserve(size int64) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.totalAlloc+size > mp.limit {
		return wrapError(ErrOutOfMemory,
			fmt.Errorf("requested %d bytes with %d of %d in use", size, mp.totalAlloc, mp.limit))
	}
	mp.totalAlloc += size
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}
	return nil
}

func (mp *MemoryPool) release(size int64) {
	mp.mu.Lock()
	mp.totalAlloc -= size
	mp.mu.Unlock()
}

// GetStats returns memory pool statistics
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// Buffer is a device-resident array of keys with an optional parallel
// array of values. Kernels read and write Keys and Vals directly; the host
// may access them whenever no sort using the buffer is in flight.
type Buffer[K, V Word] struct {
	Keys []K
	Vals []V // nil for key-only buffers

	dev   *Device
	bytes int64
	freed atomic.Bool
}

// NewBuffer allocates room for n keys, and n values when withVals is set.
//
// Example:
//
//	buf, err := hotsort.NewBuffer[uint64, uint64](dev, n, true)
//	if err != nil {
//		return err
//	}
//	defer buf.Free()
func NewBuffer[K, V Word](dev *Device, n int, withVals bool) (*Buffer[K, V], error) {
	if n <= 0 {
		return nil, NewUsageError("Malloc", fmt.Sprintf("size must be positive, got %d", n))
	}
	if dev.closed.Load() {
		return nil, ErrDeviceClosed
	}

	bytes := int64(n) * int64(wordBytes[K]())
	if withVals {
		bytes += int64(n) * int64(wordBytes[V]())
	}
	if err := dev.memory.reserve(bytes); err != nil {
		dev.logf("allocation of %d keys failed: %v", n, err)
		return nil, err
	}

	b := &Buffer[K, V]{
		Keys:  make([]K, n),
		dev:   dev,
		bytes: bytes,
	}
	if withVals {
		b.Vals = make([]V, n)
	}
	return b, nil
}

// Len returns the number of keys the buffer holds.
func (b *Buffer[K, V]) Len() int {
	return len(b.Keys)
}

// Free releases the buffer's device memory.
func (b *Buffer[K, V]) Free() error {
	if !b.freed.CompareAndSwap(false, true) {
		return NewUsageError("Free", "double free detected")
	}
	b.dev.memory.release(b.bytes)
	b.Keys = nil
	b.Vals = nil
	return nil
}

func wordBytes[W Word]() int {
	var w W
	return int(unsafe.Sizeof(w))
}

func wordCount[W Word]() int {
	return wordBytes[W]() / 4
}

func sentinel[K Word]() K {
	return ^K(0)
}
