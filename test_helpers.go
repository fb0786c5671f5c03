package hotsort

import (
	"math/rand"
	"testing"
)

// NewDeviceOrFail creates a device with workers workers and closes it when
// the test ends.
func NewDeviceOrFail(t testing.TB, workers int) *Device {
	t.Helper()
	dev := NewDevice(DeviceConfig{Name: t.Name(), Workers: workers, MemLimit: 1 << 30})
	t.Cleanup(func() {
		if err := dev.Close(); err != nil {
			t.Errorf("Device close failed: %v", err)
		}
	})
	return dev
}

// LookupTargetOrFail resolves a built-in target, with valWords value words
// when valWords is non-zero.
func LookupTargetOrFail(t testing.TB, name string, valWords uint32) *Target {
	t.Helper()
	target, err := LookupTarget(name)
	if err != nil {
		t.Fatalf("LookupTarget(%q) failed: %v", name, err)
	}
	if valWords == 0 {
		return target
	}
	target, err = target.WithValues(valWords)
	if err != nil {
		t.Fatalf("WithValues(%d) on %s failed: %v", valWords, name, err)
	}
	return target
}

// NewSorterOrFail builds a sorter and fails the test if unsuccessful
func NewSorterOrFail[K, V Word](t testing.TB, dev *Device, target *Target, opts ...Option) *Sorter[K, V] {
	t.Helper()
	s, err := NewSorter[K, V](dev, target, opts...)
	if err != nil {
		t.Fatalf("NewSorter(%s) failed: %v", target.Name, err)
	}
	return s
}

// NewBufferOrFail allocates a buffer freed when the test ends
func NewBufferOrFail[K, V Word](t testing.TB, dev *Device, n int, withVals bool) *Buffer[K, V] {
	t.Helper()
	buf, err := NewBuffer[K, V](dev, n, withVals)
	if err != nil {
		t.Fatalf("Failed to allocate %d keys: %v", n, err)
	}
	t.Cleanup(func() { buf.Free() })
	return buf
}

// SortOrFail sorts and fails the test if unsuccessful
func SortOrFail[K, V Word](t testing.TB, s *Sorter[K, V], vin, vout *Buffer[K, V], count int, linearize bool) {
	t.Helper()
	if err := s.Sort(vin, vout, count, linearize); err != nil {
		t.Fatalf("Sort of %d keys on %s failed: %v", count, s.target.Name, err)
	}
}

// RandomKeys returns n keys drawn from rng. With spread > 0 keys fall in
// [0, spread), which forces duplicates.
func RandomKeys[K Word](rng *rand.Rand, n int, spread uint64) []K {
	keys := make([]K, n)
	for i := range keys {
		v := rng.Uint64()
		if spread > 0 {
			v %= spread
		}
		keys[i] = K(v)
	}
	return keys
}

// SequenceVals returns the values 0..n-1, which identify each key's input
// position.
func SequenceVals[V Word](n int) []V {
	vals := make([]V, n)
	for i := range vals {
		vals[i] = V(i)
	}
	return vals
}
