package hotsort

// compileTranspose builds the shuffle network that turns a striped slab
// into linear order. Output row r, lane l holds logical position r*W+l,
// which sits in lane (r*W+l)/H, row (r*W+l)%H of the striped registers.
func (n *network) compileTranspose() {
	n.transposeLanes = make([][]int, n.rows)
	n.transposeRows = make([][]int, n.rows)
	for r := 0; r < n.rows; r++ {
		n.transposeLanes[r] = make([]int, n.lanes)
		n.transposeRows[r] = make([]int, n.lanes)
		for l := 0; l < n.lanes; l++ {
			p := r*n.lanes + l
			n.transposeLanes[r][l] = p >> n.rowsLog2
			n.transposeRows[r][l] = p & (n.rows - 1)
		}
	}
}

// transposeKernel linearizes each slab in place. The subgroup reads its
// whole slab before writing, and writes only positions below count.
func transposeKernel[K, V Word](n *network, buf *Buffer[K, V], count int) func(*Subgroup) {
	return func(sg *Subgroup) {
		withVals := buf.Vals != nil
		s := newSlabRegs[K, V](n, withVals)
		s.load(n, buf.Keys, buf.Vals, sg.Workgroup())

		// The shuffle scratch of s receives the linear rows.
		tk := make([]K, n.lanes)
		var tv []V
		if withVals {
			tv = make([]V, n.lanes)
		}
		for r := 0; r < n.rows; r++ {
			lanes, rows := n.transposeLanes[r], n.transposeRows[r]
			for q := 0; q < n.rows; q++ {
				Shuffle(sg, tk, s.keys[q], lanes)
				if withVals {
					Shuffle(sg, tv, s.vals[q], lanes)
				}
				for l := 0; l < n.lanes; l++ {
					if rows[l] != q {
						continue
					}
					s.okeys[r][l] = tk[l]
					if withVals {
						s.ovals[r][l] = tv[l]
					}
				}
			}
		}

		for r := 0; r < n.rows; r++ {
			for l := 0; l < n.lanes; l++ {
				x := s.base + r*n.lanes + l
				if x >= count {
					return
				}
				buf.Keys[x] = s.okeys[r][l]
				if withVals {
					buf.Vals[x] = s.ovals[r][l]
				}
			}
		}
	}
}
