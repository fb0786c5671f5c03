package hotsort

import (
	"errors"
	"sync"
)

// errBarrierBroken is raised in subgroups waiting on a barrier when a
// sibling subgroup of the same workgroup aborted.
var errBarrierBroken = errors.New("workgroup barrier broken")

// Subgroup is the execution context of one kernel invocation: a set of
// lanes running in lockstep inside a workgroup.
//
// A lane register is modelled as a slice with one element per lane.
// Lanes exchange registers only through Shuffle and ShuffleXor; subgroups
// exchange data only through the workgroup's shared memory, guarded by
// Barrier.
type Subgroup struct {
	WorkgroupIdx Dim3 // Workgroup index within the grid
	GridDim      Dim3 // Dimensions of the grid
	ID           int  // Subgroup index within the workgroup
	Count        int  // Subgroups per workgroup
	Lanes        int  // Lanes per subgroup

	wg *workgroup
}

type workgroup struct {
	idx     Dim3
	linear  int
	barrier *Barrier
	shared  any
}

// Workgroup returns the linear workgroup index within the grid.
func (sg *Subgroup) Workgroup() int {
	return sg.wg.linear
}

// Shared returns the workgroup's shared memory as allocated by the
// launch's Shared function.
func (sg *Subgroup) Shared() any {
	return sg.wg.shared
}

// Barrier blocks until every subgroup of the workgroup has reached it.
// Shared memory written before the barrier is visible to every subgroup
// after it.
func (sg *Subgroup) Barrier() {
	sg.wg.barrier.Wait()
}

// ShuffleXor sets dst[l] to src[l^mask] for every lane l. Lanes whose
// partner falls outside the subgroup read their own value.
func ShuffleXor[T any](sg *Subgroup, dst, src []T, mask int) {
	for l := 0; l < sg.Lanes; l++ {
		p := l ^ mask
		if p >= sg.Lanes {
			p = l
		}
		dst[l] = src[p]
	}
}

// Shuffle sets dst[l] to src[srcLane[l]] for every lane l.
func Shuffle[T any](sg *Subgroup, dst, src []T, srcLane []int) {
	for l := 0; l < sg.Lanes; l++ {
		dst[l] = src[srcLane[l]]
	}
}

// Barrier is a reusable rendezvous for a fixed number of parties.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	broken     bool
}

// NewBarrier creates a barrier for n parties.
func NewBarrier(n int) *Barrier {
	b := &Barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties have called Wait. It panics with
// errBarrierBroken if the barrier is broken before that happens.
func (b *Barrier) Wait() {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		panic(errBarrierBroken)
	}

	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}

	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	released := gen != b.generation
	b.mu.Unlock()

	if !released {
		panic(errBarrierBroken)
	}
}

// Break wakes every waiting party with errBarrierBroken. Further waits
// fail immediately.
func (b *Barrier) Break() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
