package hotsort

import (
	"fmt"
	"math/bits"
)

// Kernel names as they appear in dispatch plans and traces.
const (
	KernelSlabSort   = "slab_sort"
	KernelFill       = "fill_sentinel"
	KernelBlockSort  = "block_sort"
	KernelFlipMerge  = "flip_merge"
	KernelHalfMerge  = "half_merge"
	KernelBlockClean = "block_clean"
	KernelTranspose  = "transpose"
)

// Dispatch is one kernel launch of a sort.
type Dispatch struct {
	Kernel string
	Pass   int // Global merge pass, 0 outside the global merge

	// Flip merge: length of the sorted runs being merged.
	// Half merge: the largest compare distance.
	// Block clean: the largest compare distance left, below one block.
	Span  int
	Scale int // Fused steps minus one

	Grid  Dim3
	Block Dim3
}

func (d Dispatch) String() string {
	switch d.Kernel {
	case KernelFlipMerge, KernelHalfMerge:
		return fmt.Sprintf("%s pass=%d span=%d scale=%d grid=%d", d.Kernel, d.Pass, d.Span, d.Scale, d.Grid.X)
	case KernelBlockClean:
		return fmt.Sprintf("%s pass=%d span=%d grid=%d", d.Kernel, d.Pass, d.Span, d.Grid.X)
	default:
		return fmt.Sprintf("%s pass=%d grid=%d", d.Kernel, d.Pass, d.Grid.X)
	}
}

// endsPass reports whether the dispatch completes a global merge pass.
func (d Dispatch) endsPass() bool {
	return d.Kernel == KernelBlockClean
}

// plan lays out the dispatches sorting count keys.
//
// Blocks are sorted first. Each global merge pass then doubles the sorted
// run length R: a flip merge covers the compare distances from R down as
// far as its scale allows, half merges cover the rest down to one block,
// and block clean finishes from wherever the merges stopped. Passes repeat until one run
// covers count_padded_out.
func (n *network) plan(count, paddedIn, paddedOut int, linearize bool) []Dispatch {
	slabBlock := Dim3{X: n.lanes, Y: 1}
	block := Dim3{X: n.lanes, Y: n.blockSlabs}
	blocks := Dim3{X: paddedOut / n.blockKeys}

	var ds []Dispatch
	if paddedIn == n.slabKeys {
		ds = append(ds, Dispatch{Kernel: KernelSlabSort, Grid: Dim3{X: 1}, Block: slabBlock})
		if paddedOut > paddedIn {
			ds = append(ds, Dispatch{Kernel: KernelFill, Grid: Dim3{X: (paddedOut - paddedIn) / n.slabKeys}, Block: slabBlock})
		}
	} else {
		ds = append(ds, Dispatch{Kernel: KernelBlockSort, Grid: blocks, Block: block})
	}

	pass := 1
	for r := n.blockKeys; r < paddedOut; r <<= 1 {
		s := pickScale(n.fm, n.stepsFrom(r), r)
		ds = append(ds, Dispatch{
			Kernel: KernelFlipMerge, Pass: pass, Span: r, Scale: s,
			Grid: n.mergeGrid(ceilDiv(paddedOut, 2*r) * (r >> s)), Block: n.mergeBlock(),
		})
		d := r >> (s + 1)

		for d >= n.blockKeys {
			s := pickScale(n.hm, n.stepsFrom(d), d)
			ds = append(ds, Dispatch{
				Kernel: KernelHalfMerge, Pass: pass, Span: d, Scale: s,
				Grid: n.mergeGrid(ceilDiv(paddedOut, 2*d) * (d >> s)), Block: n.mergeBlock(),
			})
			d >>= s + 1
		}

		ds = append(ds, Dispatch{Kernel: KernelBlockClean, Pass: pass, Span: d, Grid: blocks, Block: block})
		pass++
	}

	if linearize {
		ds = append(ds, Dispatch{Kernel: KernelTranspose, Grid: Dim3{X: ceilDiv(count, n.slabKeys)}, Block: slabBlock})
	}
	return ds
}

// stepsFrom counts the cross-block compare distances dist, dist/2, ..., B.
func (n *network) stepsFrom(dist int) int {
	return bits.TrailingZeros(uint(dist/n.blockKeys)) + 1
}

// pickScale returns the scale of a merge dispatch starting at compare
// distance dist with steps cross-block distances left. It fuses as many of
// them as r.Max allows and never fewer than r.Min+1 steps, even when that
// reaches below one block. The stride dist>>scale stays at least 1.
func pickScale(r ScaleRange, steps, dist int) int {
	s := max(int(r.Min), min(int(r.Max), steps-1))
	return min(s, bits.TrailingZeros(uint(dist)))
}

func (n *network) mergeBlock() Dim3 {
	return Dim3{X: n.lanes, Y: MergeSubgroupsPerGroup}
}

func (n *network) mergeGrid(threads int) Dim3 {
	return Dim3{X: ceilDiv(threads, n.lanes*MergeSubgroupsPerGroup)}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// stripe maps a logical position to its index in striped memory.
func (n *network) stripe(x int) int {
	p := x & (n.slabKeys - 1)
	return x - p + (p&(n.rows-1))*n.lanes + p>>n.rowsLog2
}

// mergeRegs holds the registers of one merge thread: the positions it
// owns and their keys and values.
type mergeRegs[K, V Word] struct {
	pos  []int
	keys []K
	vals []V
}

func newMergeRegs[K, V Word](size int, withVals bool) *mergeRegs[K, V] {
	m := &mergeRegs[K, V]{pos: make([]int, size), keys: make([]K, size)}
	if withVals {
		m.vals = make([]V, size)
	}
	return m
}

// load reads the positions below count; padding positions are never read
// or written.
func (m *mergeRegs[K, V]) load(n *network, buf *Buffer[K, V], count int) {
	for i, x := range m.pos {
		if x >= count {
			continue
		}
		j := n.stripe(x)
		m.keys[i] = buf.Keys[j]
		if m.vals != nil {
			m.vals[i] = buf.Vals[j]
		}
	}
}

func (m *mergeRegs[K, V]) store(n *network, buf *Buffer[K, V], count int) {
	for i, x := range m.pos {
		if x >= count {
			continue
		}
		j := n.stripe(x)
		buf.Keys[j] = m.keys[i]
		if m.vals != nil {
			buf.Vals[j] = m.vals[i]
		}
	}
}

// orderRegs compare-exchanges registers i and j of m, keeping the minimum
// at the lower position. Pairs reaching into padding are skipped.
func orderRegs[K, V Word, X exchanger[K]](m *mergeRegs[K, V], i, j, count int) {
	if m.pos[i] > m.pos[j] {
		i, j = j, i
	}
	if m.pos[j] >= count {
		return
	}
	var vi, vj *V
	if m.vals != nil {
		vi, vj = &m.vals[i], &m.vals[j]
	}
	pairExchange[K, V, X](&m.keys[i], &m.keys[j], vi, vj)
}

// forEachThread runs fn for every merge thread a subgroup's lanes cover.
func forEachThread(sg *Subgroup, threads int, fn func(tid int)) {
	first := (sg.Workgroup()*sg.Count + sg.ID) * sg.Lanes
	for l := 0; l < sg.Lanes; l++ {
		if tid := first + l; tid < threads {
			fn(tid)
		}
	}
}

// flipMergeKernel merges sorted runs of length span pairwise. Thread o of
// a span owns 2^scale positions of the lower run at stride span>>scale and
// the positions mirroring them in the upper run, addressed downwards from
// the span's end. Comparing each lower register with its mirrored partner
// is the flip step of a bitonic merge; the following scale half steps stay
// within each set of registers.
func flipMergeKernel[K, V Word, X exchanger[K]](n *network, buf *Buffer[K, V], count, paddedOut, span, scale int) func(*Subgroup) {
	stride := span >> scale
	m := 1 << scale
	spans := ceilDiv(paddedOut, 2*span)
	threads := spans * stride
	return func(sg *Subgroup) {
		regs := newMergeRegs[K, V](2*m, buf.Vals != nil)
		forEachThread(sg, threads, func(tid int) {
			base := tid / stride * 2 * span
			o := tid % stride
			for t := 0; t < m; t++ {
				regs.pos[t] = base + o + t*stride
				regs.pos[m+t] = base + 2*span - 1 - o - t*stride
			}
			regs.load(n, buf, count)

			for t := 0; t < m; t++ {
				orderRegs[K, V, X](regs, t, m+t, count)
			}
			for d := m >> 1; d > 0; d >>= 1 {
				for t := 0; t < m; t++ {
					if t&d == 0 {
						orderRegs[K, V, X](regs, t, t|d, count)
						orderRegs[K, V, X](regs, m+t, m+(t|d), count)
					}
				}
			}

			regs.store(n, buf, count)
		})
	}
}

// halfMergeKernel runs scale+1 half-cleaner steps starting at compare
// distance dist. Thread o of each 2*dist segment owns 2^(scale+1)
// positions at stride dist>>scale and compares each only with the
// register at the current distance.
func halfMergeKernel[K, V Word, X exchanger[K]](n *network, buf *Buffer[K, V], count, paddedOut, dist, scale int) func(*Subgroup) {
	stride := dist >> scale
	m := 2 << scale
	segments := ceilDiv(paddedOut, 2*dist)
	threads := segments * stride
	return func(sg *Subgroup) {
		regs := newMergeRegs[K, V](m, buf.Vals != nil)
		forEachThread(sg, threads, func(tid int) {
			base := tid / stride * 2 * dist
			o := tid % stride
			for t := 0; t < m; t++ {
				regs.pos[t] = base + o + t*stride
			}
			regs.load(n, buf, count)

			for d := m >> 1; d > 0; d >>= 1 {
				for t := 0; t < m; t++ {
					if t&d == 0 {
						orderRegs[K, V, X](regs, t, t|d, count)
					}
				}
			}

			regs.store(n, buf, count)
		})
	}
}

// fillKernel writes padding slabs past a single-slab input.
func fillKernel[K, V Word](n *network, buf *Buffer[K, V], firstSlab int) func(*Subgroup) {
	return func(sg *Subgroup) {
		base := (firstSlab + sg.Workgroup()) * n.slabKeys
		pad := sentinel[K]()
		for i := base; i < base+n.slabKeys; i++ {
			buf.Keys[i] = pad
			if buf.Vals != nil {
				buf.Vals[i] = 0
			}
		}
	}
}
