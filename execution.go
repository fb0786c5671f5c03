package hotsort

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// execute runs every workgroup of l and returns once all have finished.
// Workgroups within one launch are not ordered with respect to each other.
func (d *Device) execute(l Launch) error {
	if d.faultHook != nil {
		if err := d.faultHook(l.Name); err != nil {
			d.logf("launch %s rejected: %v", l.Name, err)
			return wrapError(ErrDeviceLost, fmt.Errorf("kernel %s: %w", l.Name, err))
		}
	}

	gridSize := l.Grid.Size()
	if gridSize == 0 {
		return nil
	}

	numWorkers := min(d.Workers, gridSize)

	// Each worker takes a contiguous range of workgroups, like the
	// cache-aware block split of a CPU launch.
	groupsPerWorker := (gridSize + numWorkers - 1) / numWorkers

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(numWorkers)
	for w := 0; w < numWorkers; w++ {
		start := w * groupsPerWorker
		end := min(start+groupsPerWorker, gridSize)
		if start >= end {
			break
		}
		g.Go(func() error {
			for id := start; id < end; id++ {
				if ctx.Err() != nil {
					return nil
				}
				if err := d.runWorkgroup(l, id); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.logf("launch %s failed: %v", l.Name, err)
		return err
	}
	return nil
}

// runWorkgroup runs the subgroups of one workgroup. Subgroups are separate
// goroutines so that a barrier is a true rendezvous.
func (d *Device) runWorkgroup(l Launch, id int) error {
	subgroups := max(l.Block.Y, 1)
	wg := &workgroup{
		idx:     linearTo3D(id, l.Grid),
		linear:  id,
		barrier: NewBarrier(subgroups),
	}
	if l.Shared != nil {
		wg.shared = l.Shared()
	}

	if subgroups == 1 {
		return runSubgroup(l, wg, 0)
	}

	errs := make([]error, subgroups)
	var done sync.WaitGroup
	done.Add(subgroups)
	for s := 0; s < subgroups; s++ {
		s := s
		go func() {
			defer done.Done()
			errs[s] = runSubgroup(l, wg, s)
		}()
	}
	done.Wait()

	// A panicking subgroup breaks the barrier for its siblings; report the
	// original failure rather than the broken barrier it caused.
	var broken error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, errBarrierBroken) {
			broken = err
			continue
		}
		return err
	}
	return broken
}

func runSubgroup(l Launch, wg *workgroup, id int) (err error) {
	sg := &Subgroup{
		WorkgroupIdx: wg.idx,
		GridDim:      l.Grid,
		ID:           id,
		Count:        max(l.Block.Y, 1),
		Lanes:        max(l.Block.X, 1),
		wg:           wg,
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		wg.barrier.Break()
		if e, ok := r.(error); ok && errors.Is(e, errBarrierBroken) {
			err = e
			return
		}
		err = wrapError(ErrDeviceLost,
			fmt.Errorf("kernel %s workgroup %d subgroup %d: %v", l.Name, wg.linear, id, r))
	}()
	l.Kernel(sg)
	return nil
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	x := max(dim.X, 1)
	y := max(dim.Y, 1)
	return Dim3{X: linear % x, Y: (linear / x) % y, Z: linear / (x * y)}
}
