package hotsort

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

// sortCase sorts keys (and vals when non-nil) on target and returns the
// first count results in sorted order.
func sortCase[K, V Word](t *testing.T, dev *Device, target *Target, keys []K, vals []V, linearize bool, opts ...Option) ([]K, []V) {
	t.Helper()
	s := NewSorterOrFail[K, V](t, dev, target, opts...)
	count := len(keys)
	_, out, err := s.Pad(count)
	if err != nil {
		t.Fatal(err)
	}
	buf := NewBufferOrFail[K, V](t, dev, out, vals != nil)
	copy(buf.Keys, keys)
	copy(buf.Vals, vals)
	SortOrFail(t, s, buf, buf, count, linearize)

	gotKeys := make([]K, count)
	var gotVals []V
	if vals != nil {
		gotVals = make([]V, count)
	}
	for i := range gotKeys {
		j := i
		if !linearize {
			j = target.Stripe(i)
		}
		gotKeys[i] = buf.Keys[j]
		if vals != nil {
			gotVals[i] = buf.Vals[j]
		}
	}
	return gotKeys, gotVals
}

func testCounts(target *Target) []int {
	s, b := target.slabKeys(), target.blockKeys()
	return []int{1, 2, s - 1, s, s + 1, b - 1, b, b + 1, 2*b + s + 3, 3 * b, 5*b - 7}
}

func TestSortMatchesReference(t *testing.T) {
	dev := NewDeviceOrFail(t, 4)
	for _, name := range TargetNames() {
		base := LookupTargetOrFail(t, name, 0)
		for _, withVals := range []bool{false, true} {
			target := base
			if withVals {
				target = LookupTargetOrFail(t, name, base.Words.Key)
			}
			t.Run(target.Name, func(t *testing.T) {
				rng := rand.New(rand.NewSource(int64(len(target.Name))))
				for _, count := range testCounts(target) {
					var err error
					switch target.KeyWidth() {
					case KeyWidth64:
						err = checkSort[uint64, uint64](t, dev, target, rng, count, withVals)
					default:
						err = checkSort[uint32, uint32](t, dev, target, rng, count, withVals)
					}
					if err != nil {
						t.Fatalf("count %d: %v", count, err)
					}
				}
			})
		}
	}
}

func checkSort[K, V Word](t *testing.T, dev *Device, target *Target, rng *rand.Rand, count int, withVals bool) error {
	t.Helper()
	// Half the counts use a narrow key range so equal keys are common.
	spread := uint64(0)
	if count%2 == 0 {
		spread = 97
	}
	keys := RandomKeys[K](rng, count, spread)
	var vals []V
	if withVals {
		vals = SequenceVals[V](count)
	}
	for _, linearize := range []bool{true, false} {
		gotKeys, gotVals := sortCase(t, dev, target, keys, vals, linearize)
		if err := Verify(keys, vals, gotKeys, gotVals); err != nil {
			return fmt.Errorf("linearize=%v: %w", linearize, err)
		}
	}
	return nil
}

func TestSortSingleLane(t *testing.T) {
	dev := NewDeviceOrFail(t, 1)
	target := LookupTargetOrFail(t, "scalar-u32", 0)
	keys := []uint32{5, 3, 1, 4, 2, 9, 8, 7, 6, 0, 15, 14, 13, 12, 11, 10}
	got, _ := sortCase[uint32, uint32](t, dev, target, keys, nil, true)
	for i, k := range got {
		if k != uint32(i) {
			t.Fatalf("got %v, want 0..15", got)
		}
	}
}

func TestSortCarriesValues(t *testing.T) {
	dev := NewDeviceOrFail(t, 2)
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 1)
	const a, b = 'A', 'B'
	keys, vals := sortCase(t, dev, target, []uint32{5, 3}, []uint32{b, a}, true)
	if keys[0] != 3 || vals[0] != a || keys[1] != 5 || vals[1] != b {
		t.Errorf("got keys %v vals %v", keys, vals)
	}
}

func TestSortMaxKeysKeepValues(t *testing.T) {
	dev := NewDeviceOrFail(t, 2)
	target := LookupTargetOrFail(t, "intel-gen8-u64", 2)
	count := 3*target.blockKeys() + 11
	keys := make([]uint64, count)
	vals := SequenceVals[uint64](count)
	for i := range keys {
		if i%3 == 0 {
			keys[i] = ^uint64(0)
		} else {
			keys[i] = uint64(i)
		}
	}
	gotKeys, gotVals := sortCase(t, dev, target, keys, vals, true)
	if err := Verify(keys, vals, gotKeys, gotVals); err != nil {
		t.Fatal(err)
	}
}

func TestSortIdempotent(t *testing.T) {
	dev := NewDeviceOrFail(t, 4)
	target := LookupTargetOrFail(t, "amd-gcn-u32", 1)
	rng := rand.New(rand.NewSource(3))
	count := 2*target.blockKeys() + 100
	keys := RandomKeys[uint32](rng, count, 0)
	vals := SequenceVals[uint32](count)

	once, onceVals := sortCase(t, dev, target, keys, vals, true)
	twice, twiceVals := sortCase(t, dev, target, once, onceVals, true)
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("key %d changed from %d to %d", i, once[i], twice[i])
		}
	}
	if !SameMultiset(Pairs(once, onceVals), Pairs(twice, twiceVals)) {
		t.Error("second sort detached values")
	}
}

func TestSortSeparateBuffers(t *testing.T) {
	dev := NewDeviceOrFail(t, 2)
	target := LookupTargetOrFail(t, "nvidia-sm35-u64", 0)
	s := NewSorterOrFail[uint64, uint64](t, dev, target)
	rng := rand.New(rand.NewSource(11))
	count := 1000
	keys := RandomKeys[uint64](rng, count, 0)

	_, out, _ := s.Pad(count)
	vin := NewBufferOrFail[uint64, uint64](t, dev, count, false)
	vout := NewBufferOrFail[uint64, uint64](t, dev, out, false)
	copy(vin.Keys, keys)
	SortOrFail(t, s, vin, vout, count, true)

	for i := range keys {
		if vin.Keys[i] != keys[i] {
			t.Fatal("Sort modified its input buffer")
		}
	}
	if err := Verify[uint64, uint64](keys, nil, vout.Keys[:count], nil); err != nil {
		t.Fatal(err)
	}
}

func TestSortUsageErrors(t *testing.T) {
	dev := NewDeviceOrFail(t, 1)
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 1)
	s := NewSorterOrFail[uint32, uint32](t, dev, target)
	buf := NewBufferOrFail[uint32, uint32](t, dev, 4096, true)
	short := NewBufferOrFail[uint32, uint32](t, dev, 1000, true)
	keysOnly := NewBufferOrFail[uint32, uint32](t, dev, 4096, false)

	tests := []struct {
		name     string
		vin, out *Buffer[uint32, uint32]
		count    int
		want     error
	}{
		{"zero count", buf, buf, 0, ErrZeroCount},
		{"negative count", buf, buf, -1, ErrZeroCount},
		{"output below padded count", short, short, 1000, ErrBufferTooSmall},
		{"input below count", short, buf, 2000, ErrBufferTooSmall},
		{"missing values", keysOnly, keysOnly, 10, ErrMissingValues},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Sort(tt.vin, tt.out, tt.count, true)
			if !errors.Is(err, tt.want) || !IsUsageError(err) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if err := s.Sort(nil, buf, 1, true); !IsUsageError(err) {
		t.Errorf("nil input = %v, want usage error", err)
	}
}

func TestNewSorterConfigurationErrors(t *testing.T) {
	dev := NewDeviceOrFail(t, 1)
	u32 := LookupTargetOrFail(t, "nvidia-sm35-u32", 0)
	u32kv := LookupTargetOrFail(t, "nvidia-sm35-u32", 1)
	broken := *u32
	broken.Slab.Height = 24

	if _, err := NewSorter[uint64, uint64](dev, u32); !IsConfigurationError(err) {
		t.Errorf("64-bit keys on a 32-bit target = %v", err)
	}
	if _, err := NewSorter[uint32, uint64](dev, u32kv); !IsConfigurationError(err) {
		t.Errorf("64-bit values on a 32-bit value target = %v", err)
	}
	if _, err := NewSorter[uint32, uint64](dev, u32); err != nil {
		t.Errorf("key-only target rejected an unused value type: %v", err)
	}
	if _, err := NewSorter[uint32, uint32](dev, &broken); !IsConfigurationError(err) {
		t.Errorf("invalid target = %v", err)
	}
	if _, err := NewSorter[uint32, uint32](dev, nil); !IsConfigurationError(err) {
		t.Errorf("nil target = %v", err)
	}
}

func TestSortSingleKeyTrace(t *testing.T) {
	dev := NewDeviceOrFail(t, 1)
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 0)
	var trace []Dispatch
	keys, _ := sortCase[uint32, uint32](t, dev, target, []uint32{42}, nil, true,
		WithTrace(func(d Dispatch) { trace = append(trace, d) }))
	if keys[0] != 42 {
		t.Errorf("got %d, want 42", keys[0])
	}
	for _, d := range trace {
		switch d.Kernel {
		case KernelFlipMerge, KernelHalfMerge, KernelBlockClean:
			t.Errorf("single key dispatched %s", d)
		}
	}
	if len(trace) == 0 || trace[0].Kernel != KernelSlabSort {
		t.Errorf("trace = %v", trace)
	}
}

func TestSortHostFenceMatches(t *testing.T) {
	dev := NewDeviceOrFail(t, 4)
	target := LookupTargetOrFail(t, "intel-gen8-u32", 1)
	rng := rand.New(rand.NewSource(5))
	count := 9*target.blockKeys() - 3
	keys := RandomKeys[uint32](rng, count, 1000)
	vals := SequenceVals[uint32](count)

	plainKeys, _ := sortCase(t, dev, target, keys, vals, true)
	fencedKeys, fencedVals := sortCase(t, dev, target, keys, vals, true, WithHostFence())
	for i := range plainKeys {
		if plainKeys[i] != fencedKeys[i] {
			t.Fatalf("key %d differs with host fence", i)
		}
	}
	if err := Verify(keys, vals, fencedKeys, fencedVals); err != nil {
		t.Fatal(err)
	}
}

func TestSortDeviceFault(t *testing.T) {
	injected := errors.New("injected")
	dev := NewDevice(DeviceConfig{
		Workers:  2,
		MemLimit: 1 << 26,
		FaultHook: func(kernel string) error {
			if kernel == KernelHalfMerge {
				return injected
			}
			return nil
		},
	})
	defer dev.Close()

	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 0)
	s := NewSorterOrFail[uint32, uint32](t, dev, target, WithHostFence())
	count := 8 * target.blockKeys()
	buf := NewBufferOrFail[uint32, uint32](t, dev, count, false)
	err := s.Sort(buf, buf, count, true)
	if !IsDeviceError(err) || !errors.Is(err, ErrDeviceLost) || !errors.Is(err, injected) {
		t.Fatalf("got %v, want device lost wrapping the fault", err)
	}
}

func TestConcurrentSorts(t *testing.T) {
	dev := NewDeviceOrFail(t, 4)
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 1)
	s := NewSorterOrFail[uint32, uint32](t, dev, target)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for g := range errs {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(g)))
			count := 1 + rng.Intn(5*target.blockKeys())
			keys := RandomKeys[uint32](rng, count, 0)
			vals := SequenceVals[uint32](count)

			_, out, _ := s.Pad(count)
			buf, err := NewBuffer[uint32, uint32](dev, out, true)
			if err != nil {
				errs[g] = err
				return
			}
			defer buf.Free()
			copy(buf.Keys, keys)
			copy(buf.Vals, vals)
			if err := s.Sort(buf, buf, count, true); err != nil {
				errs[g] = err
				return
			}
			errs[g] = Verify(keys, vals, buf.Keys[:count], buf.Vals[:count])
		}()
	}
	wg.Wait()
	for g, err := range errs {
		if err != nil {
			t.Errorf("sort %d: %v", g, err)
		}
	}
}

func TestSorterPlanAndInfo(t *testing.T) {
	dev := NewDeviceOrFail(t, 1)
	target := LookupTargetOrFail(t, "amd-gcn-u64", 2)
	s := NewSorterOrFail[uint64, uint64](t, dev, target)

	if s.Info() != target.Info() {
		t.Errorf("Info = %+v", s.Info())
	}
	if s.Target().Name != target.Name {
		t.Errorf("Target = %s", s.Target().Name)
	}
	if _, err := s.Plan(0, true); !errors.Is(err, ErrZeroCount) {
		t.Errorf("Plan(0) = %v", err)
	}
	plan, err := s.Plan(100000, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range plan {
		if d.Kernel == KernelTranspose {
			t.Error("plan without linearization transposes")
		}
	}
}

func BenchmarkSort(b *testing.B) {
	dev := NewDeviceOrFail(b, 0)
	for _, name := range []string{"nvidia-sm35-u32", "amd-gcn-u64", "host"} {
		target := LookupTargetOrFail(b, name, 0)
		for _, count := range []int{1 << 12, 1 << 16, 1 << 20} {
			b.Run(fmt.Sprintf("%s/%d", target.Name, count), func(b *testing.B) {
				switch target.KeyWidth() {
				case KeyWidth64:
					benchmarkSort[uint64, uint64](b, dev, target, count)
				default:
					benchmarkSort[uint32, uint32](b, dev, target, count)
				}
			})
		}
	}
}

func benchmarkSort[K, V Word](b *testing.B, dev *Device, target *Target, count int) {
	s := NewSorterOrFail[K, V](b, dev, target)
	_, out, _ := s.Pad(count)
	buf := NewBufferOrFail[K, V](b, dev, out, false)
	keys := RandomKeys[K](rand.New(rand.NewSource(1)), count, 0)

	b.SetBytes(int64(count * wordBytes[K]()))
	b.ResetTimer()
	ReportPerfCounters(b, func() {
		copy(buf.Keys, keys)
		SortOrFail(b, s, buf, buf, count, true)
	})
}
