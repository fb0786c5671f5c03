package hotsort

// blockShared is one workgroup's shared memory. Each subgroup owns a slot
// of one slab; two generations of slots let a bounce be written while the
// previous bounce may still be read, so one barrier per bounce suffices.
type blockShared[K, V Word] struct {
	keys [2][]K
	vals [2][]V
}

func newBlockShared[K, V Word](n *network, withVals bool) func() any {
	return func() any {
		sh := &blockShared[K, V]{}
		for i := range sh.keys {
			sh.keys[i] = make([]K, n.blockKeys)
			if withVals {
				sh.vals[i] = make([]V, n.blockKeys)
			}
		}
		return sh
	}
}

// bouncer exchanges a subgroup's slab with another subgroup's slab of the
// same workgroup through shared memory.
type bouncer[K, V Word, X exchanger[K]] struct {
	n     *network
	s     *slabRegs[K, V]
	sh    *blockShared[K, V]
	count int
	phase int
}

// bounce publishes the subgroup's registers, waits for every subgroup of
// the workgroup, and compare-exchanges each register with the counterpart
// in the partner's slot. With mirror set the counterpart of lane l, row r
// is lane W-1-l, row H-1-r, which pairs logical positions that sum to the
// end of the merged group: the flip step of a bitonic merge.
func (b *bouncer[K, V, X]) bounce(sg *Subgroup, partner int, mirror bool) {
	var x X
	n, s := b.n, b.s
	gen := b.phase & 1
	b.phase++
	keys, vals := b.sh.keys[gen], b.sh.vals[gen]

	off := sg.ID * n.slabKeys
	for r := 0; r < n.rows; r++ {
		copy(keys[off+r*n.lanes:off+(r+1)*n.lanes], s.keys[r])
		if s.vals != nil {
			copy(vals[off+r*n.lanes:off+(r+1)*n.lanes], s.vals[r])
		}
	}

	sg.Barrier()

	poff := partner * n.slabKeys
	pbase := s.base + (partner-sg.ID)*n.slabKeys
	wantMin := sg.ID < partner
	for r := 0; r < n.rows; r++ {
		for l := 0; l < n.lanes; l++ {
			pr, pl := r, l
			if mirror {
				pr, pl = n.rows-1-r, n.lanes-1-l
			}
			own := s.base + l*n.rows + r
			other := pbase + pl*n.rows + pr
			if max(own, other) >= b.count {
				continue
			}
			i := poff + pr*n.lanes + pl
			if x.exchange(&s.keys[r][l], keys[i], wantMin) && s.vals != nil {
				s.vals[r][l] = vals[i]
			}
		}
	}
}

// blockSortKernel sorts every slab of a block in registers and merges the
// block's slabs into one sorted run. Slab groups double in size; each
// doubling is a mirrored bounce with subgroup ID^(g-1), direct bounces
// with ID^d for the remaining slab distances, and the in-register cleaner.
//
// The grid covers count_padded_out keys. Slabs past the input are padding:
// they take part in every barrier but never exchange.
func blockSortKernel[K, V Word, X exchanger[K]](n *network, in, out *Buffer[K, V], count int) func(*Subgroup) {
	return func(sg *Subgroup) {
		s := newSlabRegs[K, V](n, out.Vals != nil)
		slab := sg.Workgroup()*n.blockSlabs + sg.ID
		s.loadInput(n, in.Keys, in.Vals, slab, count)
		if s.base < count {
			sortSlab[K, V, X](s, sg, n, count)
		}

		b := &bouncer[K, V, X]{n: n, s: s, sh: sg.Shared().(*blockShared[K, V]), count: count}
		for g := 2; g <= n.blockSlabs; g <<= 1 {
			b.bounce(sg, sg.ID^(g-1), true)
			for d := g >> 2; d > 0; d >>= 1 {
				b.bounce(sg, sg.ID^d, false)
			}
			if s.base < count {
				cleanSlab[K, V, X](s, sg, n, n.slabKeys>>1, count)
			}
		}

		s.store(n, out.Keys, out.Vals)
	}
}

// blockCleanKernel finishes a global merge pass. Once every cross-block
// step is done each block holds a bitonic sequence whose slabs only need
// the compare distances from from down to 1: direct bounces with ID^d for
// the slab distances, then the in-register cleaner. It also orders the
// tail block, whose slabs past the input never exchange.
//
// from is below one block, or lower still when a fused merge overshot the
// block boundary.
func blockCleanKernel[K, V Word, X exchanger[K]](n *network, buf *Buffer[K, V], count, from int) func(*Subgroup) {
	return func(sg *Subgroup) {
		s := newSlabRegs[K, V](n, buf.Vals != nil)
		slab := sg.Workgroup()*n.blockSlabs + sg.ID
		s.load(n, buf.Keys, buf.Vals, slab)

		b := &bouncer[K, V, X]{n: n, s: s, sh: sg.Shared().(*blockShared[K, V]), count: count}
		for d := n.blockSlabs >> 1; d > 0; d >>= 1 {
			if d*n.slabKeys <= from {
				b.bounce(sg, sg.ID^d, false)
			}
		}
		if s.base < count {
			cleanSlab[K, V, X](s, sg, n, from, count)
		}

		s.store(n, buf.Keys, buf.Vals)
	}
}
