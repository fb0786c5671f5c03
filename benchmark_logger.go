package hotsort

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// BenchmarkResult captures one timed sort.
type BenchmarkResult struct {
	Name        string        `json:"name"`
	Status      string        `json:"status"` // "pass" or "fail"
	Target      string        `json:"target"`
	Keys        int           `json:"keys"`
	WithValues  bool          `json:"with_values,omitempty"`
	Linearize   bool          `json:"linearize,omitempty"`
	Iterations  int           `json:"iterations,omitempty"`
	NsPerOp     float64       `json:"ns_per_op,omitempty"`
	MKeysPerSec float64       `json:"mkeys_per_sec,omitempty"`
	Dispatches  int           `json:"dispatches,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// BenchmarkLogger records benchmark results to a JSON session file. The
// file is rewritten after every result so a crash loses nothing.
type BenchmarkLogger struct {
	mu          sync.Mutex
	results     []BenchmarkResult
	sessionFile string
}

// NewBenchmarkLogger starts a session file named after session in dir.
func NewBenchmarkLogger(dir, session string) (*BenchmarkLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	timestamp := time.Now().Format("20060102_150405")
	bl := &BenchmarkLogger{
		sessionFile: filepath.Join(dir, fmt.Sprintf("%s_%s.json", session, timestamp)),
	}
	return bl, bl.flush()
}

// SessionFile returns the path results are written to.
func (bl *BenchmarkLogger) SessionFile() string {
	return bl.sessionFile
}

// Log records a result.
func (bl *BenchmarkLogger) Log(result BenchmarkResult) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	bl.results = append(bl.results, result)
	return bl.flush()
}

// LogPass records a successful run of iters sorts taking d in total. An
// iters below one counts as one run.
func (bl *BenchmarkLogger) LogPass(name, target string, keys, iters int, d time.Duration) error {
	iters = max(iters, 1)
	ns := float64(d.Nanoseconds()) / float64(iters)
	return bl.Log(BenchmarkResult{
		Name:        name,
		Status:      "pass",
		Target:      target,
		Keys:        keys,
		Iterations:  iters,
		NsPerOp:     ns,
		MKeysPerSec: float64(keys) * 1e3 / ns,
		Duration:    d,
	})
}

// LogFail records a failed run.
func (bl *BenchmarkLogger) LogFail(name, target string, keys int, err error) error {
	return bl.Log(BenchmarkResult{
		Name:   name,
		Status: "fail",
		Target: target,
		Keys:   keys,
		Error:  err.Error(),
	})
}

// Results returns a copy of the results logged so far.
func (bl *BenchmarkLogger) Results() []BenchmarkResult {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return append([]BenchmarkResult(nil), bl.results...)
}

// flush writes results to disk
func (bl *BenchmarkLogger) flush() error {
	data, err := json.MarshalIndent(bl.results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	return os.WriteFile(bl.sessionFile, data, 0644)
}

// ReadBenchmarkLog loads a session file.
func ReadBenchmarkLog(path string) ([]BenchmarkResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results []BenchmarkResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return results, nil
}

// PrintBenchmarkSummary writes a table of results to w.
func PrintBenchmarkSummary(w io.Writer, results []BenchmarkResult) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	passed, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case "pass":
			passed++
			fmt.Fprintf(w, "✓ %-28s %-20s %10d keys %9.2f Mkeys/s\n", r.Name, r.Target, r.Keys, r.MKeysPerSec)
		case "fail":
			failed++
			fmt.Fprintf(w, "✗ %-28s %-20s %10d keys FAILED: %s\n", r.Name, r.Target, r.Keys, r.Error)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "Total: %d | Passed: %d | Failed: %d\n", len(results), passed, failed)
}
