package hotsort

import (
	"fmt"
	"math/bits"
	"os"
	"slices"
)

// SlabConfig is the register tile one subgroup sorts.
type SlabConfig struct {
	ThreadsLog2 uint32 // Subgroup size
	WidthLog2   uint32 // Lanes holding keys; lanes beyond are idle
	Height      uint32 // Registers (rows) per lane
}

// WordsConfig counts 32-bit words per key and per value.
type WordsConfig struct {
	Key uint32 // 1 or 2
	Val uint32 // 0, 1 or 2
}

// BlockConfig is the number of slabs merged in one workgroup.
type BlockConfig struct {
	Slabs uint32
}

// ScaleRange bounds how many merge steps one dispatch fuses. A scale of s
// fuses s+1 steps.
type ScaleRange struct {
	Min, Max uint32
}

// MergeConfig holds the flip merge and half merge scale ranges. They are
// tuned by benchmarking each family, not derived.
type MergeConfig struct {
	FM ScaleRange
	HM ScaleRange
}

// Target is the tuning data of one GPU family. A validated Target is
// read-only and may be shared by any number of concurrent sorts.
type Target struct {
	Name  string
	Slab  SlabConfig
	Words WordsConfig
	Block BlockConfig
	Merge MergeConfig
}

// Info describes a target's buffer geometry.
type Info struct {
	KeyWords      int
	ValWords      int
	SlabHeight    int
	SlabWidthLog2 int
}

// KeyWidth selects the compare-exchange strategy.
type KeyWidth int

const (
	KeyWidth32 KeyWidth = 1
	KeyWidth64 KeyWidth = 2
)

func (w KeyWidth) String() string {
	switch w {
	case KeyWidth32:
		return "u32"
	case KeyWidth64:
		return "u64"
	default:
		return fmt.Sprintf("KeyWidth(%d)", int(w))
	}
}

// Validate checks the target's internal consistency.
func (t *Target) Validate() error {
	op := "Target " + t.Name
	h := t.Slab.Height
	switch {
	case h == 0 || h > MaxSlabHeight || h&(h-1) != 0:
		return NewConfigurationError(op, fmt.Sprintf("slab height %d must be a power of two in [1, %d]", h, MaxSlabHeight))
	case t.Slab.ThreadsLog2 > MaxSubgroupLog2:
		return NewConfigurationError(op, fmt.Sprintf("subgroup of 2^%d lanes exceeds 2^%d", t.Slab.ThreadsLog2, MaxSubgroupLog2))
	case t.Slab.WidthLog2 > t.Slab.ThreadsLog2:
		return NewConfigurationError(op, fmt.Sprintf("slab width 2^%d exceeds subgroup size 2^%d", t.Slab.WidthLog2, t.Slab.ThreadsLog2))
	case t.Words.Key != 1 && t.Words.Key != 2:
		return NewConfigurationError(op, fmt.Sprintf("key words %d must be 1 or 2", t.Words.Key))
	case t.Words.Val > 2:
		return NewConfigurationError(op, fmt.Sprintf("value words %d must be 0, 1 or 2", t.Words.Val))
	case t.Block.Slabs == 0 || t.Block.Slabs&(t.Block.Slabs-1) != 0:
		return NewConfigurationError(op, fmt.Sprintf("block of %d slabs must be a power of two", t.Block.Slabs))
	}
	for _, r := range []struct {
		name string
		s    ScaleRange
	}{{"flip merge", t.Merge.FM}, {"half merge", t.Merge.HM}} {
		if r.s.Min > r.s.Max || r.s.Max > MaxMergeScale {
			return NewConfigurationError(op, fmt.Sprintf("%s scale [%d, %d] must satisfy min <= max <= %d", r.name, r.s.Min, r.s.Max, MaxMergeScale))
		}
	}
	if n := t.sharedBytes(); n > MaxSharedMemoryBytes {
		return NewConfigurationError(op, fmt.Sprintf("block needs %d bytes of shared memory, limit is %d", n, MaxSharedMemoryBytes))
	}
	return nil
}

// sharedBytes is the double-buffered shared memory of one block merge.
func (t *Target) sharedBytes() int {
	words := int(t.Words.Key + t.Words.Val)
	return 2 * t.blockKeys() * words * 4
}

func (t *Target) slabKeys() int {
	return int(t.Slab.Height) << t.Slab.WidthLog2
}

func (t *Target) blockKeys() int {
	return t.slabKeys() * int(t.Block.Slabs)
}

// KeyWidth returns the key width tag.
func (t *Target) KeyWidth() KeyWidth {
	return KeyWidth(t.Words.Key)
}

// Pad returns the key counts a sort of count keys works on: count rounded
// up to a whole slab, and that rounded up to a whole block. The output
// buffer of a sort must hold countPaddedOut keys.
func (t *Target) Pad(count int) (countPaddedIn, countPaddedOut int, err error) {
	if count <= 0 {
		return 0, 0, ErrZeroCount
	}
	countPaddedIn = roundUp(count, t.slabKeys())
	countPaddedOut = roundUp(countPaddedIn, t.blockKeys())
	return countPaddedIn, countPaddedOut, nil
}

// Info returns the geometry callers need to size buffers.
func (t *Target) Info() Info {
	return Info{
		KeyWords:      int(t.Words.Key),
		ValWords:      int(t.Words.Val),
		SlabHeight:    int(t.Slab.Height),
		SlabWidthLog2: int(t.Slab.WidthLog2),
	}
}

// Stripe maps a position in sorted order to its index in a buffer left in
// slab-striped layout, as produced by a sort without linearization.
func (t *Target) Stripe(x int) int {
	s := t.slabKeys()
	p := x % s
	hLog := bits.TrailingZeros32(t.Slab.Height)
	lane := p >> hLog
	row := p & int(t.Slab.Height-1)
	return x - p + row<<t.Slab.WidthLog2 + lane
}

// WithValues returns a validated copy of t carrying valWords value words.
func (t *Target) WithValues(valWords uint32) (*Target, error) {
	c := *t
	c.Words.Val = valWords
	if valWords > 0 {
		c.Name = fmt.Sprintf("%s-v%d", t.Name, valWords*32)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

var targets = map[string]Target{
	"nvidia-sm35-u32": {
		Slab:  SlabConfig{ThreadsLog2: 5, WidthLog2: 5, Height: 16},
		Words: WordsConfig{Key: 1},
		Block: BlockConfig{Slabs: 8},
		Merge: MergeConfig{FM: ScaleRange{Min: 0, Max: 1}, HM: ScaleRange{Min: 0, Max: 1}},
	},
	"nvidia-sm35-u64": {
		Slab:  SlabConfig{ThreadsLog2: 5, WidthLog2: 5, Height: 8},
		Words: WordsConfig{Key: 2},
		Block: BlockConfig{Slabs: 8},
		Merge: MergeConfig{FM: ScaleRange{Min: 0, Max: 1}, HM: ScaleRange{Min: 0, Max: 1}},
	},
	"amd-gcn-u32": {
		Slab:  SlabConfig{ThreadsLog2: 6, WidthLog2: 4, Height: 16},
		Words: WordsConfig{Key: 1},
		Block: BlockConfig{Slabs: 16},
		Merge: MergeConfig{FM: ScaleRange{Min: 1, Max: 2}, HM: ScaleRange{Min: 1, Max: 2}},
	},
	"amd-gcn-u64": {
		Slab:  SlabConfig{ThreadsLog2: 6, WidthLog2: 4, Height: 8},
		Words: WordsConfig{Key: 2},
		Block: BlockConfig{Slabs: 16},
		Merge: MergeConfig{FM: ScaleRange{Min: 1, Max: 2}, HM: ScaleRange{Min: 1, Max: 2}},
	},
	"intel-gen8-u32": {
		Slab:  SlabConfig{ThreadsLog2: 3, WidthLog2: 3, Height: 16},
		Words: WordsConfig{Key: 1},
		Block: BlockConfig{Slabs: 16},
		Merge: MergeConfig{FM: ScaleRange{Min: 0, Max: 2}, HM: ScaleRange{Min: 1, Max: 2}},
	},
	"intel-gen8-u64": {
		Slab:  SlabConfig{ThreadsLog2: 3, WidthLog2: 3, Height: 8},
		Words: WordsConfig{Key: 2},
		Block: BlockConfig{Slabs: 16},
		Merge: MergeConfig{FM: ScaleRange{Min: 0, Max: 2}, HM: ScaleRange{Min: 1, Max: 2}},
	},
	"scalar-u32": {
		Slab:  SlabConfig{Height: 16},
		Words: WordsConfig{Key: 1},
		Block: BlockConfig{Slabs: 1},
		Merge: MergeConfig{FM: ScaleRange{Min: 0, Max: 0}, HM: ScaleRange{Min: 0, Max: 0}},
	},
}

// TargetNames lists the built-in targets in sorted order.
func TargetNames() []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LookupTarget returns a copy of a built-in target. The name "host"
// returns HostTarget(1).
func LookupTarget(name string) (*Target, error) {
	if name == "host" {
		return HostTarget(1)
	}
	t, ok := targets[name]
	if !ok {
		return nil, NewConfigurationError("LookupTarget", fmt.Sprintf("unknown target %q", name))
	}
	t.Name = name
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultTarget returns the target named by HOTSORT_TARGET, or the host
// target for keyWords-wide keys.
func DefaultTarget(keyWords uint32) (*Target, error) {
	if name := os.Getenv(EnvTarget); name != "" {
		return LookupTarget(name)
	}
	return HostTarget(keyWords)
}
