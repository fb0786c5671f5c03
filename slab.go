package hotsort

import "math/bits"

// network is a Target compiled into the unrolled schedules the kernels run.
type network struct {
	lanes      int // W
	rows       int // H
	rowsLog2   int
	slabKeys   int // S = W*H
	blockSlabs int
	blockKeys  int
	fm, hm     ScaleRange

	// XOR masks over in-slab logical indices: the full flip-bitonic sort
	// and the half-cleaner that finishes every merge.
	sortMasks  []int
	cleanMasks []int

	// Per output row of Transpose: source lane and source row per lane.
	transposeLanes [][]int
	transposeRows  [][]int
}

func compileNetwork(t *Target) *network {
	n := &network{
		lanes:      1 << t.Slab.WidthLog2,
		rows:       int(t.Slab.Height),
		rowsLog2:   bits.TrailingZeros32(t.Slab.Height),
		slabKeys:   t.slabKeys(),
		blockSlabs: int(t.Block.Slabs),
		blockKeys:  t.blockKeys(),
		fm:         t.Merge.FM,
		hm:         t.Merge.HM,
	}
	for k := 2; k <= n.slabKeys; k <<= 1 {
		n.sortMasks = append(n.sortMasks, k-1)
		for j := k >> 2; j > 0; j >>= 1 {
			n.sortMasks = append(n.sortMasks, j)
		}
	}
	for j := n.slabKeys >> 1; j > 0; j >>= 1 {
		n.cleanMasks = append(n.cleanMasks, j)
	}
	n.compileTranspose()
	return n
}

// checkSchedule verifies the unrolled schedules against the geometry: a
// flip-bitonic sort of S = 2^m keys has m(m+1)/2 steps and the cleaner m.
func (n *network) checkSchedule() bool {
	m := bits.TrailingZeros(uint(n.slabKeys))
	if n.slabKeys != n.lanes*n.rows || 1<<m != n.slabKeys {
		return false
	}
	return len(n.sortMasks) == m*(m+1)/2 && len(n.cleanMasks) == m
}

// slabRegs is one subgroup's register file: keys[row][lane] and the values
// travelling with them, plus scratch registers for shuffles.
//
// Lane l, row r holds the key at logical position base + l*H + r. In
// memory the same key lives at slab offset r*W + l, which is the striped
// layout every stage before Transpose reads and writes.
type slabRegs[K, V Word] struct {
	keys  [][]K
	vals  [][]V
	okeys [][]K
	ovals [][]V
	base  int
}

func newSlabRegs[K, V Word](n *network, withVals bool) *slabRegs[K, V] {
	s := &slabRegs[K, V]{
		keys:  makeRegs[K](n.rows, n.lanes),
		okeys: makeRegs[K](n.rows, n.lanes),
	}
	if withVals {
		s.vals = makeRegs[V](n.rows, n.lanes)
		s.ovals = makeRegs[V](n.rows, n.lanes)
	}
	return s
}

func makeRegs[T any](rows, lanes int) [][]T {
	backing := make([]T, rows*lanes)
	regs := make([][]T, rows)
	for r := range regs {
		regs[r] = backing[r*lanes : (r+1)*lanes : (r+1)*lanes]
	}
	return regs
}

// loadInput fills the registers of slab from an unsorted input. Positions
// at or beyond count are padding and receive the sentinel key.
func (s *slabRegs[K, V]) loadInput(n *network, keys []K, vals []V, slab, count int) {
	s.base = slab * n.slabKeys
	pad := sentinel[K]()
	for r := 0; r < n.rows; r++ {
		for l := 0; l < n.lanes; l++ {
			x := s.base + l*n.rows + r
			if x >= count {
				s.keys[r][l] = pad
				if s.vals != nil {
					s.vals[r][l] = 0
				}
				continue
			}
			s.keys[r][l] = keys[x]
			if s.vals != nil {
				s.vals[r][l] = vals[x]
			}
		}
	}
}

// load reads slab from a buffer in striped layout.
func (s *slabRegs[K, V]) load(n *network, keys []K, vals []V, slab int) {
	s.base = slab * n.slabKeys
	for r := 0; r < n.rows; r++ {
		off := s.base + r*n.lanes
		copy(s.keys[r], keys[off:off+n.lanes])
		if s.vals != nil {
			copy(s.vals[r], vals[off:off+n.lanes])
		}
	}
}

// store writes slab to a buffer in striped layout.
func (s *slabRegs[K, V]) store(n *network, keys []K, vals []V) {
	for r := 0; r < n.rows; r++ {
		off := s.base + r*n.lanes
		copy(keys[off:off+n.lanes], s.keys[r])
		if s.vals != nil {
			copy(vals[off:off+n.lanes], s.vals[r])
		}
	}
}

// networkStep performs one network step: every logical position i is
// compare-exchanged with i^mask, the lower position keeping the minimum.
// Pairs whose upper position is padding are skipped, so padding never
// moves.
//
// The lane part of the mask is served by ShuffleXor; the row part selects
// which register is shuffled. A mask with no lane part stays inside each
// lane's registers.
func networkStep[K, V Word, X exchanger[K]](s *slabRegs[K, V], sg *Subgroup, n *network, mask, count int) {
	laneMask := mask >> n.rowsLog2
	rowMask := mask & (n.rows - 1)

	if laneMask == 0 {
		for r := 0; r < n.rows; r++ {
			q := r ^ rowMask
			if q <= r {
				continue
			}
			for l := 0; l < n.lanes; l++ {
				if s.base+l*n.rows+q >= count {
					continue
				}
				var vlo, vhi *V
				if s.vals != nil {
					vlo, vhi = &s.vals[r][l], &s.vals[q][l]
				}
				pairExchange[K, V, X](&s.keys[r][l], &s.keys[q][l], vlo, vhi)
			}
		}
		return
	}

	for r := 0; r < n.rows; r++ {
		ShuffleXor(sg, s.okeys[r], s.keys[r^rowMask], laneMask)
		if s.vals != nil {
			ShuffleXor(sg, s.ovals[r], s.vals[r^rowMask], laneMask)
		}
	}

	var x X
	hib := 1 << (bits.Len(uint(laneMask)) - 1)
	for r := 0; r < n.rows; r++ {
		for l := 0; l < n.lanes; l++ {
			own := s.base + l*n.rows + r
			other := s.base + (l^laneMask)*n.rows + (r ^ rowMask)
			if max(own, other) >= count {
				continue
			}
			if x.exchange(&s.keys[r][l], s.okeys[r][l], l&hib == 0) && s.vals != nil {
				s.vals[r][l] = s.ovals[r][l]
			}
		}
	}
}

// sortSlab runs the slab sort network.
func sortSlab[K, V Word, X exchanger[K]](s *slabRegs[K, V], sg *Subgroup, n *network, count int) {
	for _, m := range n.sortMasks {
		networkStep[K, V, X](s, sg, n, m, count)
	}
}

// cleanSlab runs the slab half-cleaner from compare distance from down to
// 1: it sorts a slab holding a bitonic sequence, which is what every merge
// leaves behind. Distances above from were already covered.
func cleanSlab[K, V Word, X exchanger[K]](s *slabRegs[K, V], sg *Subgroup, n *network, from, count int) {
	for _, m := range n.cleanMasks {
		if m <= from {
			networkStep[K, V, X](s, sg, n, m, count)
		}
	}
}

// slabSortKernel sorts each slab on its own. It is the whole sort when the
// input fits one slab.
func slabSortKernel[K, V Word, X exchanger[K]](n *network, in, out *Buffer[K, V], count int) func(*Subgroup) {
	return func(sg *Subgroup) {
		s := newSlabRegs[K, V](n, out.Vals != nil)
		slab := sg.Workgroup()
		s.loadInput(n, in.Keys, in.Vals, slab, count)
		sortSlab[K, V, X](s, sg, n, count)
		s.store(n, out.Keys, out.Vals)
	}
}
