// CPU reference implementations used to verify device sorts.

package hotsort

import (
	"cmp"
	"fmt"
	"slices"
)

// Pair is a key with the value travelling with it.
type Pair[K, V Word] struct {
	Key K
	Val V
}

// ReferenceSort returns the pairs of keys and vals in ascending key order.
// vals may be nil. Equal keys keep their input order.
func ReferenceSort[K, V Word](keys []K, vals []V) []Pair[K, V] {
	pairs := Pairs(keys, vals)
	slices.SortStableFunc(pairs, func(a, b Pair[K, V]) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return pairs
}

// Pairs zips keys with vals; missing values are zero.
func Pairs[K, V Word](keys []K, vals []V) []Pair[K, V] {
	pairs := make([]Pair[K, V], len(keys))
	for i, k := range keys {
		pairs[i].Key = k
		if i < len(vals) {
			pairs[i].Val = vals[i]
		}
	}
	return pairs
}

// IsSorted reports whether keys are in non-decreasing order.
func IsSorted[K Word](keys []K) bool {
	return slices.IsSorted(keys)
}

// SameMultiset reports whether got holds the same pairs as want, in any
// order.
func SameMultiset[K, V Word](got, want []Pair[K, V]) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[Pair[K, V]]int, len(want))
	for _, p := range want {
		seen[p]++
	}
	for _, p := range got {
		if seen[p] == 0 {
			return false
		}
		seen[p]--
	}
	return true
}

// Verify checks a sort result against its input: keys ascending and every
// input pair present exactly once. Values of equal keys may be permuted.
func Verify[K, V Word](inKeys []K, inVals []V, outKeys []K, outVals []V) error {
	if len(outKeys) != len(inKeys) {
		return fmt.Errorf("got %d keys, want %d", len(outKeys), len(inKeys))
	}
	for i := 1; i < len(outKeys); i++ {
		if outKeys[i-1] > outKeys[i] {
			return fmt.Errorf("keys out of order at %d: %d > %d", i, outKeys[i-1], outKeys[i])
		}
	}
	want := ReferenceSort(inKeys, inVals)
	got := Pairs(outKeys, outVals)
	for i := range want {
		if got[i].Key != want[i].Key {
			return fmt.Errorf("key %d: got %d, want %d", i, got[i].Key, want[i].Key)
		}
	}
	if inVals != nil && !SameMultiset(got, want) {
		return fmt.Errorf("values were not carried with their keys")
	}
	return nil
}
