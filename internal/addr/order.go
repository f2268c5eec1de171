package addr

import (
	"cmp"
	"slices"
)

// Input is one element of a multi-input hash: something derived from
// several immutable objects (a snapshot from a prior snapshot and segments,
// for instance) names each source with an Input.
type Input struct {
	Type string
	TS   int64
	Ref  HashRef
}

// SortInputs orders inputs deterministically: by type tag, then timestamp,
// then lexicographic HashRef. The slice is sorted in place.
func SortInputs(in []Input) {
	slices.SortFunc(in, func(a, b Input) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TS, b.TS); c != 0 {
			return c
		}
		return cmp.Compare(a.Ref, b.Ref)
	})
}

// MultiHash hashes a set of inputs independent of the order they were
// supplied in. The input slice is not modified.
func MultiHash(in []Input) (HashRef, error) {
	sorted := slices.Clone(in)
	SortInputs(sorted)

	arr := make(Array, len(sorted))
	for i, x := range sorted {
		arr[i] = Array{String(x.Type), Number(float64(x.TS)), String(string(x.Ref))}
	}
	return ContentID(arr)
}
