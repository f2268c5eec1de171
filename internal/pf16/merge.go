package pf16

import (
	"slices"
	"strings"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// Strictness ranks. Higher is stricter; values not listed rank 0.
var (
	realmRank = map[world.Realm]int{
		world.RealmPersonal: 3,
		world.RealmTeam:     2,
		world.RealmPublic:   1,
	}
	boundaryRank = map[world.Boundary]int{
		world.BoundaryExterior: 3,
		world.BoundaryEdge:     2,
		world.BoundaryInterior: 1,
	}
	policyRank = map[Policy]int{
		PolicyPrivate:  3,
		PolicyRedacted: 2,
		PolicyPublic:   1,
	}
)

// Merge combines a and b slot by slot. It never fails: disagreements that
// have no law become conflict values.
func Merge(a, b Identity) Identity {
	return Identity{
		Self:        mergeText(a.Self, b.Self),
		Authority:   mergeAuthority(a.Authority, b.Authority),
		Scope:       stricter(a.Scope, b.Scope, realmRank),
		Boundary:    stricter(a.Boundary, b.Boundary, boundaryRank),
		Location:    mergeObject(a.Location, b.Location),
		Time:        max(a.Time, b.Time),
		Relations:   union(a.Relations, b.Relations),
		Intents:     union(a.Intents, b.Intents),
		Sources:     union(a.Sources, b.Sources),
		Witnesses:   union(a.Witnesses, b.Witnesses),
		Projections: union(a.Projections, b.Projections),
		Derivations: union(a.Derivations, b.Derivations),
		Version:     mergeVersion(a.Version, b.Version),
		Federation:  union(a.Federation, b.Federation),
		Policy:      stricter(a.Policy, b.Policy, policyRank),
		Nonce:       mergeNonce(a.Nonce, b.Nonce),
	}
}

// MergeAll folds Merge left to right. It returns false for an empty list.
func MergeAll(ids ...Identity) (Identity, bool) {
	if len(ids) == 0 {
		return Identity{}, false
	}
	acc := ids[0]
	for _, id := range ids[1:] {
		acc = Merge(acc, id)
	}
	return acc, true
}

func mergeText(a, b Text) Text {
	if addr.Equal(a.value(), b.value()) {
		return a
	}
	return Text{Conflict: &Conflict{A: a.value(), B: b.value()}}
}

func mergeAuthority(a, b world.Authority) world.Authority {
	if a == world.AuthoritySource || b == world.AuthoritySource {
		return world.AuthoritySource
	}
	if a == "" {
		return b
	}
	return a
}

// stricter returns the higher-ranked value. Ties between unranked values
// break lexicographically so the result is still order independent.
func stricter[T ~string](a, b T, rank map[T]int) T {
	ra, rb := rank[a], rank[b]
	switch {
	case ra > rb:
		return a
	case rb > ra:
		return b
	case a <= b:
		return a
	}
	return b
}

// union returns the sorted, deduplicated union of the given sets.
func union(sets ...[]string) []string {
	out := []string{}
	for _, s := range sets {
		out = append(out, s...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// mergeObject unions two objects. Keys present on one side are kept;
// keys on both sides merge recursively when both values are objects, keep
// when equal, and otherwise become a conflict.
func mergeObject(a, b addr.Object) addr.Object {
	out := make(addr.Object, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bv := range b {
		av, ok := out[k]
		if !ok {
			out[k] = bv
			continue
		}
		out[k] = mergeLeaf(av, bv)
	}
	return out
}

func mergeLeaf(a, b addr.Value) addr.Value {
	if addr.Equal(a, b) {
		return a
	}
	ao, aok := a.(addr.Object)
	bo, bok := b.(addr.Object)
	if aok && bok && !isConflictValue(a) && !isConflictValue(b) {
		return mergeObject(ao, bo)
	}
	return (&Conflict{A: a, B: b}).Value()
}

// IsVersionMarker reports whether v was produced by merging two different
// versions.
func IsVersionMarker(v string) bool {
	return strings.HasPrefix(v, "merge(") && strings.HasSuffix(v, ")")
}

func mergeVersion(a, b string) string {
	if a == b {
		return a
	}
	lo, hi := min(a, b), max(a, b)
	return "merge(" + lo + "," + hi + ")"
}

func mergeNonce(a, b addr.HashRef) addr.HashRef {
	lo, hi := min(a, b), max(a, b)
	data := make([]byte, 0, len(lo)+len(hi)+1)
	data = append(data, lo...)
	data = append(data, 0x00)
	data = append(data, hi...)
	return addr.HashWithDomain(DomainNonce, data)
}
