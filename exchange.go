package hotsort

// exchanger is a conditional min/max on one lane: given its own key and
// its partner's, the lane keeps the minimum (wantMin) or the maximum and
// reports whether it adopted the partner's key. Values follow that report
// and are never compared.
//
// Both partners evaluate the same condition, so an equal pair is left in
// place and no key is duplicated.
//
// Kernels take the strategy as a type parameter and call it on a zero
// value, so a compiled sorter never dispatches through an interface.
type exchanger[K Word] interface {
	~struct{}
	exchange(own *K, other K, wantMin bool) bool
}

// maskExchange moves the key with arithmetic masking. It suits 32-bit keys,
// where the extra register for the mask is cheap and predication is free.
type maskExchange[K Word] struct{}

func (maskExchange[K]) exchange(own *K, other K, wantMin bool) bool {
	a := *own
	take := other != a && (other < a) == wantMin
	var m K
	if take {
		m = ^K(0)
	}
	*own = a ^ ((a ^ other) & m)
	return take
}

// branchExchange moves the key behind an explicit branch. It suits 64-bit
// keys, where the mask would cost a register pair.
type branchExchange[K Word] struct{}

func (branchExchange[K]) exchange(own *K, other K, wantMin bool) bool {
	if other == *own || (other < *own) != wantMin {
		return false
	}
	*own = other
	return true
}

// pairExchange orders two registers of one lane so that lo holds the
// minimum. Values move with their keys when present.
func pairExchange[K, V Word, X exchanger[K]](lo, hi *K, vlo, vhi *V) {
	var x X
	a := *lo
	if x.exchange(lo, *hi, true) {
		*hi = a
		if vlo != nil {
			*vlo, *vhi = *vhi, *vlo
		}
	}
}
