//go:build !linux

package hotsort

// getSystemMemory returns total system memory in bytes
func getSystemMemory() uint64 {
	return defaultSystemMemory
}
