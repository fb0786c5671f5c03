package hotsort

import (
	"errors"
	"strings"
	"testing"
)

func TestBuiltinTargetsValidate(t *testing.T) {
	for _, name := range TargetNames() {
		t.Run(name, func(t *testing.T) {
			target := LookupTargetOrFail(t, name, 0)
			if target.Name != name {
				t.Errorf("Name = %q, want %q", target.Name, name)
			}
			if strings.HasSuffix(name, "-u64") && target.KeyWidth() != KeyWidth64 {
				t.Errorf("KeyWidth = %v, want u64", target.KeyWidth())
			}
			if _, err := target.WithValues(target.Words.Key); err != nil {
				t.Errorf("WithValues(%d): %v", target.Words.Key, err)
			}
			if !compileNetwork(target).checkSchedule() {
				t.Error("compiled schedule does not match geometry")
			}
		})
	}
}

func TestLookupTargetUnknown(t *testing.T) {
	_, err := LookupTarget("voodoo-3dfx")
	if !IsConfigurationError(err) {
		t.Fatalf("got %v, want configuration error", err)
	}
}

func TestLookupTargetReturnsCopy(t *testing.T) {
	a := LookupTargetOrFail(t, "amd-gcn-u32", 0)
	a.Slab.Height = 3
	b := LookupTargetOrFail(t, "amd-gcn-u32", 0)
	if b.Slab.Height != 16 {
		t.Errorf("built-in target mutated through a lookup: height %d", b.Slab.Height)
	}
}

func TestTargetValidate(t *testing.T) {
	valid := func() Target {
		return Target{
			Name:  "test",
			Slab:  SlabConfig{ThreadsLog2: 5, WidthLog2: 5, Height: 16},
			Words: WordsConfig{Key: 1},
			Block: BlockConfig{Slabs: 8},
			Merge: MergeConfig{FM: ScaleRange{0, 1}, HM: ScaleRange{0, 1}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Target)
		ok     bool
	}{
		{"valid", func(*Target) {}, true},
		{"height not power of two", func(t *Target) { t.Slab.Height = 12 }, false},
		{"height zero", func(t *Target) { t.Slab.Height = 0 }, false},
		{"height too large", func(t *Target) { t.Slab.Height = 512 }, false},
		{"width exceeds threads", func(t *Target) { t.Slab.WidthLog2 = 6 }, false},
		{"subgroup too wide", func(t *Target) { t.Slab.ThreadsLog2 = 7 }, false},
		{"three key words", func(t *Target) { t.Words.Key = 3 }, false},
		{"three value words", func(t *Target) { t.Words.Val = 3 }, false},
		{"block not power of two", func(t *Target) { t.Block.Slabs = 6 }, false},
		{"scale min above max", func(t *Target) { t.Merge.HM = ScaleRange{2, 1} }, false},
		{"scale too large", func(t *Target) { t.Merge.FM = ScaleRange{0, MaxMergeScale + 1} }, false},
		{"shared memory exceeded", func(t *Target) { t.Block.Slabs = 32; t.Words.Val = 1 }, false},
		{"narrow width in wide subgroup", func(t *Target) { t.Slab.ThreadsLog2 = 6; t.Slab.WidthLog2 = 4 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := valid()
			tt.mutate(&target)
			err := target.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !IsConfigurationError(err) {
				t.Fatalf("Validate = %v, want configuration error", err)
			}
		})
	}
}

func TestPad(t *testing.T) {
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 0)
	const s, b = 512, 4096

	tests := []struct {
		count   int
		in, out int
	}{
		{1, s, b},
		{s, s, b},
		{s + 1, 2 * s, b},
		{b, b, b},
		{b + 1, b + s, 2 * b},
		{10000, 10240, 12288},
	}
	for _, tt := range tests {
		in, out, err := target.Pad(tt.count)
		if err != nil {
			t.Fatalf("Pad(%d): %v", tt.count, err)
		}
		if in != tt.in || out != tt.out {
			t.Errorf("Pad(%d) = (%d, %d), want (%d, %d)", tt.count, in, out, tt.in, tt.out)
		}
	}

	for _, count := range []int{0, -5} {
		if _, _, err := target.Pad(count); !errors.Is(err, ErrZeroCount) {
			t.Errorf("Pad(%d) = %v, want ErrZeroCount", count, err)
		}
	}
}

func TestPadProperties(t *testing.T) {
	for _, name := range TargetNames() {
		target := LookupTargetOrFail(t, name, 0)
		s, b := target.slabKeys(), target.blockKeys()
		for count := 1; count < 3*b; count += 37 {
			in, out, err := target.Pad(count)
			if err != nil {
				t.Fatalf("%s Pad(%d): %v", name, count, err)
			}
			if in < count || in%s != 0 || in-count >= s {
				t.Fatalf("%s Pad(%d): in=%d is not the next slab multiple", name, count, in)
			}
			if out < in || out%b != 0 || out-in >= b {
				t.Fatalf("%s Pad(%d): out=%d is not the next block multiple", name, count, out)
			}
		}
	}
}

func TestInfo(t *testing.T) {
	target := LookupTargetOrFail(t, "amd-gcn-u64", 2)
	got := target.Info()
	want := Info{KeyWords: 2, ValWords: 2, SlabHeight: 8, SlabWidthLog2: 4}
	if got != want {
		t.Errorf("Info = %+v, want %+v", got, want)
	}
}

func TestStripeIsPermutation(t *testing.T) {
	for _, name := range []string{"nvidia-sm35-u32", "amd-gcn-u64", "scalar-u32"} {
		target := LookupTargetOrFail(t, name, 0)
		n := compileNetwork(target)
		size := 3 * target.slabKeys()
		seen := make([]bool, size)
		for x := 0; x < size; x++ {
			j := target.Stripe(x)
			if j < 0 || j >= size || seen[j] {
				t.Fatalf("%s: Stripe(%d) = %d collides or is out of range", name, x, j)
			}
			seen[j] = true
			if k := n.stripe(x); k != j {
				t.Fatalf("%s: network stripe(%d) = %d, Target.Stripe = %d", name, x, k, j)
			}
		}
	}

	// Lane l, row r of slab 0 holds logical l*H + r at memory r*W + l.
	target := LookupTargetOrFail(t, "nvidia-sm35-u32", 0)
	if got := target.Stripe(1); got != 32 {
		t.Errorf("Stripe(1) = %d, want 32", got)
	}
	if got := target.Stripe(16); got != 1 {
		t.Errorf("Stripe(16) = %d, want 1", got)
	}
}

func TestWithValuesNamesAndValidates(t *testing.T) {
	target := LookupTargetOrFail(t, "nvidia-sm35-u64", 0)
	kv, err := target.WithValues(2)
	if err != nil {
		t.Fatal(err)
	}
	if kv.Name != "nvidia-sm35-u64-v64" || kv.Words.Val != 2 {
		t.Errorf("WithValues = %s with %d value words", kv.Name, kv.Words.Val)
	}
	if target.Words.Val != 0 {
		t.Error("WithValues modified the receiver")
	}
	if _, err := target.WithValues(3); !IsConfigurationError(err) {
		t.Errorf("WithValues(3) = %v, want configuration error", err)
	}
}

func TestHostTarget(t *testing.T) {
	for _, words := range []uint32{1, 2} {
		target, err := HostTarget(words)
		if err != nil {
			t.Fatalf("HostTarget(%d): %v", words, err)
		}
		if target.Words.Key != words {
			t.Errorf("HostTarget(%d) has %d key words", words, target.Words.Key)
		}
		if !strings.HasPrefix(target.Name, "host-") {
			t.Errorf("HostTarget name %q", target.Name)
		}
	}
	if _, err := HostTarget(3); !IsConfigurationError(err) {
		t.Errorf("HostTarget(3) = %v, want configuration error", err)
	}
	if got, err := LookupTarget("host"); err != nil || got.Words.Key != 1 {
		t.Errorf("LookupTarget(host) = %v, %v", got, err)
	}
}

func TestDefaultTargetFromEnv(t *testing.T) {
	t.Setenv(EnvTarget, "intel-gen8-u64")
	target, err := DefaultTarget(1)
	if err != nil {
		t.Fatal(err)
	}
	if target.Name != "intel-gen8-u64" {
		t.Errorf("DefaultTarget = %s, want intel-gen8-u64", target.Name)
	}

	t.Setenv(EnvTarget, "")
	target, err = DefaultTarget(2)
	if err != nil {
		t.Fatal(err)
	}
	if target.KeyWidth() != KeyWidth64 {
		t.Errorf("DefaultTarget(2) key width %v", target.KeyWidth())
	}
}
