// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsbench sorts random keys on a target, verifies the result
// against a CPU reference and records timings to a JSON session log.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/LynnColeArt/hotsort"
)

func main() {
	var (
		targetName = flag.String("target", "", "Target name (default: $HOTSORT_TARGET or host)")
		counts     = flag.String("n", "1000,100000,1000000", "Comma-separated key counts")
		withVals   = flag.Bool("vals", false, "Sort key-value pairs")
		linearize  = flag.Bool("linear", true, "Linearize the output")
		iters      = flag.Int("iters", 5, "Timed sorts per count")
		session    = flag.String("session", "", "Write results to benchmark_logs/<session>_<time>.json")
		seed       = flag.Int64("seed", 1, "Random seed")
		list       = flag.Bool("list", false, "List targets and exit")
		verbose    = flag.Bool("v", false, "Log every dispatch")
		counters   = flag.Bool("counters", false, "Report hardware counters for the last sort of each count")
	)
	flag.Parse()

	if *list {
		for _, name := range hotsort.TargetNames() {
			fmt.Println(name)
		}
		return
	}

	cfg := hotsort.DefaultDeviceConfig()
	if *verbose {
		cfg.Logger = log.New(os.Stderr, "hotsort: ", log.Lmicroseconds)
		cfg.Verbose = true
	}
	dev := hotsort.NewDevice(cfg)
	defer dev.Close()

	version, _ := hotsort.Version()
	fmt.Println("=== HotSort Benchmark ===")
	fmt.Printf("Version: %s\n", orDevel(version))
	fmt.Printf("Device: %s, %d workers\n", dev.Name, dev.Workers)
	fmt.Printf("Go Version: %s, GOARCH: %s\n", runtime.Version(), runtime.GOARCH)

	var logger *hotsort.BenchmarkLogger
	if *session != "" {
		var err error
		logger, err = hotsort.NewBenchmarkLogger("benchmark_logs", *session)
		if err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
	}

	ns, err := parseCounts(*counts)
	if err != nil {
		log.Fatalf("Bad -n: %v", err)
	}

	target, err := resolveTarget(*targetName, *withVals)
	if err != nil {
		log.Fatalf("Failed to resolve target: %v", err)
	}
	fmt.Printf("Target: %s (%s keys)\n\n", target.Name, target.KeyWidth())

	rng := rand.New(rand.NewSource(*seed))
	var results []hotsort.BenchmarkResult
	for _, n := range ns {
		var r hotsort.BenchmarkResult
		switch target.KeyWidth() {
		case hotsort.KeyWidth64:
			r = run[uint64, uint64](dev, target, rng, n, *iters, *withVals, *linearize, *counters)
		default:
			r = run[uint32, uint32](dev, target, rng, n, *iters, *withVals, *linearize, *counters)
		}
		results = append(results, r)
		if logger != nil {
			if err := logger.Log(r); err != nil {
				log.Fatalf("Failed to write session: %v", err)
			}
		}
	}

	hotsort.PrintBenchmarkSummary(os.Stdout, results)
	if logger != nil {
		fmt.Printf("Results written to %s\n", logger.SessionFile())
	}
	for _, r := range results {
		if r.Status != "pass" {
			os.Exit(1)
		}
	}
}

func resolveTarget(name string, withVals bool) (*hotsort.Target, error) {
	var (
		target *hotsort.Target
		err    error
	)
	if name == "" {
		target, err = hotsort.DefaultTarget(1)
	} else {
		target, err = hotsort.LookupTarget(name)
	}
	if err != nil || !withVals {
		return target, err
	}
	return target.WithValues(target.Words.Key)
}

func run[K, V hotsort.Word](dev *hotsort.Device, target *hotsort.Target, rng *rand.Rand, n, iters int, withVals, linearize, counters bool) hotsort.BenchmarkResult {
	name := fmt.Sprintf("Sort/%d", n)
	result := hotsort.BenchmarkResult{
		Name:       name,
		Status:     "fail",
		Target:     target.Name,
		Keys:       n,
		WithValues: withVals,
		Linearize:  linearize,
	}
	fail := func(err error) hotsort.BenchmarkResult {
		result.Error = err.Error()
		return result
	}

	sorter, err := hotsort.NewSorter[K, V](dev, target)
	if err != nil {
		return fail(err)
	}
	_, out, err := sorter.Pad(n)
	if err != nil {
		return fail(err)
	}
	plan, err := sorter.Plan(n, linearize)
	if err != nil {
		return fail(err)
	}
	result.Dispatches = len(plan)

	buf, err := hotsort.NewBuffer[K, V](dev, out, withVals)
	if err != nil {
		return fail(err)
	}
	defer buf.Free()

	keys := hotsort.RandomKeys[K](rng, n, 0)
	var vals []V
	if withVals {
		vals = hotsort.SequenceVals[V](n)
	}

	var total time.Duration
	for i := 0; i < max(iters, 1); i++ {
		copy(buf.Keys, keys)
		copy(buf.Vals, vals)
		pc, err := hotsort.MeasureSort(n, func() error {
			return sorter.Sort(buf, buf, n, linearize)
		})
		if err != nil {
			return fail(err)
		}
		total += pc.Duration
		if counters && i == max(iters, 1)-1 {
			fmt.Printf("%s on %s\n%s", name, target.Name, pc)
		}
	}

	gotKeys := make([]K, n)
	var gotVals []V
	if withVals {
		gotVals = make([]V, n)
	}
	for i := 0; i < n; i++ {
		j := i
		if !linearize {
			j = target.Stripe(i)
		}
		gotKeys[i] = buf.Keys[j]
		if withVals {
			gotVals[i] = buf.Vals[j]
		}
	}
	if err := hotsort.Verify(keys, vals, gotKeys, gotVals); err != nil {
		return fail(fmt.Errorf("verification: %w", err))
	}

	result.Status = "pass"
	result.Iterations = max(iters, 1)
	result.Duration = total
	result.NsPerOp = float64(total.Nanoseconds()) / float64(result.Iterations)
	result.MKeysPerSec = float64(n) * 1e3 / result.NsPerOp
	return result
}

func parseCounts(s string) ([]int, error) {
	var ns []int
	for _, f := range strings.Split(s, ",") {
		var n int
		if _, err := fmt.Sscan(strings.TrimSpace(f), &n); err != nil {
			return nil, fmt.Errorf("%q: %w", f, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%q: count must be positive", f)
		}
		ns = append(ns, n)
	}
	return ns, nil
}

func orDevel(v string) string {
	if v == "" {
		return "(devel)"
	}
	return v
}
