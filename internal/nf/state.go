package nf

import (
	"cmp"
	"slices"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// NormalNode is the canonical shape of one node: no stamps, links sorted
// by (relation, target), properties collapsed to their winning values.
type NormalNode struct {
	ID        string
	Kind      string
	Transform world.Transform
	Geometry  addr.Value // nil when never set
	Media     addr.Value // nil when never set
	Props     addr.Object
	Links     []Link
	Deleted   bool
}

// NormalState is the canonical materialized state of a tile, nodes sorted
// by id. Tombstoned nodes are kept with Deleted set.
type NormalState struct {
	Nodes   []NormalNode
	Derived []NormalNode
}

// Normal reduces the replica to its canonical shape.
func (r *Replica) Normal() NormalState {
	return NormalState{
		Nodes:   normalTable(r.Nodes),
		Derived: normalTable(r.Derived),
	}
}

func normalTable(t Table) []NormalNode {
	out := make([]NormalNode, 0, len(t))
	for _, n := range t {
		out = append(out, normalNode(n))
	}
	slices.SortFunc(out, func(a, b NormalNode) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func normalNode(n *NodeRecord) NormalNode {
	kind, _ := n.Kind.Value.(addr.String)

	props := make(addr.Object, len(n.Props))
	for k, reg := range n.Props {
		props[k] = reg.Value
	}

	links := make([]Link, 0, len(n.Links))
	for _, l := range n.Links {
		links = append(links, l)
	}
	slices.SortFunc(links, compareLinks)
	links = slices.Compact(links)

	return NormalNode{
		ID:        n.ID,
		Kind:      string(kind),
		Transform: n.Transform,
		Geometry:  n.Geometry.Value,
		Media:     n.Media.Value,
		Props:     props,
		Links:     links,
		Deleted:   n.Deleted,
	}
}

func compareLinks(a, b Link) int {
	if c := cmp.Compare(a.Relation, b.Relation); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}

// Node returns the source node with the given id.
func (s NormalState) Node(id string) (NormalNode, bool) {
	i, ok := slices.BinarySearchFunc(s.Nodes, id, func(n NormalNode, id string) int { return cmp.Compare(n.ID, id) })
	if !ok {
		return NormalNode{}, false
	}
	return s.Nodes[i], true
}

// CanonicalValue returns the hashed form of the state.
func (s NormalState) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"nodes":   nodesValue(s.Nodes),
		"derived": nodesValue(s.Derived),
	}, nil
}

// MarshalJSON writes the canonical form.
func (s NormalState) MarshalJSON() ([]byte, error) {
	return addr.Canonicalize(s)
}

func nodesValue(nodes []NormalNode) addr.Array {
	arr := make(addr.Array, len(nodes))
	for i, n := range nodes {
		arr[i] = n.value()
	}
	return arr
}

func (n NormalNode) value() addr.Value {
	links := make(addr.Array, len(n.Links))
	for i, l := range n.Links {
		links[i] = addr.Object{"relation": addr.String(l.Relation), "target": addr.String(l.Target)}
	}
	return addr.Object{
		"id":        addr.String(n.ID),
		"kind":      addr.String(n.Kind),
		"transform": n.Transform.Value(),
		"geometry":  optional(n.Geometry),
		"media":     optional(n.Media),
		"props":     n.Props,
		"links":     links,
		"deleted":   addr.Bool(n.Deleted),
	}
}

func optional(v addr.Value) addr.Value {
	if v == nil {
		return addr.Absent{}
	}
	return v
}

// StateHash is hash(canonicalize(normalize(state))).
func StateHash(r *Replica) (addr.HashRef, error) {
	return addr.ContentID(r.Normal())
}

// TraceHash is the hash of the canonical replay trace of events.
func TraceHash(events []*world.Event) (addr.HashRef, error) {
	trace, err := Trace(events)
	if err != nil {
		return "", err
	}
	arr := make(addr.Array, len(trace))
	for i, ev := range trace {
		v, err := ev.CanonicalValue()
		if err != nil {
			return "", err
		}
		arr[i] = v
	}
	return addr.ContentID(arr)
}

// Equivalent reports whether two replicas reduce to the same normal form.
func Equivalent(a, b *Replica) (bool, error) {
	ha, err := StateHash(a)
	if err != nil {
		return false, err
	}
	hb, err := StateHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
