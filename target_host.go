package hotsort

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// HostFeatures tracks the vector extensions that decide a host target's
// subgroup width.
type HostFeatures struct {
	HasAVX2    bool
	HasAVX512F bool
	HasASIMD   bool // ARM64 NEON
	HasSVE     bool
}

// Global host feature detection
var hostFeatures HostFeatures

func init() {
	detectHostFeatures()
}

func detectHostFeatures() {
	hostFeatures = HostFeatures{
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasASIMD:   cpu.ARM64.HasASIMD,
		HasSVE:     cpu.ARM64.HasSVE,
	}
}

// hostLanesLog2 returns the number of 32-bit lanes in the widest vector
// register of the host.
func hostLanesLog2() uint32 {
	switch {
	case hostFeatures.HasAVX512F:
		return 4
	case hostFeatures.HasAVX2:
		return 3
	default:
		// NEON, SSE and anything narrower: 128-bit registers.
		return 2
	}
}

// HostTarget returns a target shaped after the host's vector unit: one
// subgroup lane per 32-bit vector element for 32-bit keys, half as many
// for 64-bit keys.
func HostTarget(keyWords uint32) (*Target, error) {
	if keyWords != 1 && keyWords != 2 {
		return nil, NewConfigurationError("HostTarget", fmt.Sprintf("key words %d must be 1 or 2", keyWords))
	}
	lanes := hostLanesLog2()
	height := uint32(HostSlabHeight32)
	if keyWords == 2 {
		lanes--
		height = HostSlabHeight64
	}
	t := &Target{
		Name:  fmt.Sprintf("host-%s-%s", runtime.GOARCH, KeyWidth(keyWords)),
		Slab:  SlabConfig{ThreadsLog2: lanes, WidthLog2: lanes, Height: height},
		Words: WordsConfig{Key: keyWords},
		Block: BlockConfig{Slabs: HostBlockSlabs},
		Merge: MergeConfig{FM: ScaleRange{Min: 0, Max: 1}, HM: ScaleRange{Min: 0, Max: 2}},
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// hostFeatureString returns a string describing the detected features
func hostFeatureString() string {
	features := []string{}
	if hostFeatures.HasAVX2 {
		features = append(features, "AVX2")
	}
	if hostFeatures.HasAVX512F {
		features = append(features, "AVX512F")
	}
	if hostFeatures.HasASIMD {
		features = append(features, "ASIMD")
	}
	if hostFeatures.HasSVE {
		features = append(features, "SVE")
	}
	if len(features) == 0 {
		return "scalar"
	}
	return strings.Join(features, ", ")
}
