// Package hotsort configuration constants
package hotsort

import (
	"os"
	"strconv"
	"strings"
)

// Target geometry limits checked when a target is validated
const (
	// Maximum rows of registers per lane in one slab
	MaxSlabHeight = 256

	// Maximum subgroup size (log2); 64 lanes covers every known family
	MaxSubgroupLog2 = 6

	// Maximum fused steps for one flip or half merge dispatch
	MaxMergeScale = 4

	// Shared memory available to one workgroup. Block merge double
	// buffers keys and values so a block needs twice its footprint.
	MaxSharedMemoryBytes = 64 * 1024
)

// Launch shapes for kernels that do not operate on whole slabs
const (
	// Subgroups per workgroup for flip and half merge dispatches
	MergeSubgroupsPerGroup = 4

	// Default slab height for host-derived targets
	HostSlabHeight32 = 16
	HostSlabHeight64 = 8

	// Default slabs per block for host-derived targets
	HostBlockSlabs = 8
)

// Environment overrides
const (
	EnvWorkers    = "HOTSORT_WORKERS"
	EnvMemLimitMB = "HOTSORT_MEM_LIMIT_MB"
	EnvTarget     = "HOTSORT_TARGET"
	EnvVerbose    = "HOTSORT_VERBOSE"
)

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Memory assumed when the host cannot report it
const defaultSystemMemory = 16 * 1024 * 1024 * 1024
