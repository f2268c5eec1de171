package nf

import (
	"fmt"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// Stamp orders writes for last-write-wins: timestamp, then event id.
// The zero Stamp loses to every real write.
type Stamp struct {
	TS      int64
	EventID string
}

// StampOf returns the stamp of ev.
func StampOf(ev *world.Event) Stamp {
	return Stamp{TS: ev.TS, EventID: ev.ID}
}

// After reports whether s wins over o.
func (s Stamp) After(o Stamp) bool {
	if s.TS != o.TS {
		return s.TS > o.TS
	}
	return s.EventID > o.EventID
}

// IsZero reports whether no write has been recorded.
func (s Stamp) IsZero() bool {
	return s.TS == 0 && s.EventID == ""
}

// Link is one (relation, target) edge.
type Link struct {
	Relation string
	Target   string
}

// Register is a last-write-wins cell.
type Register struct {
	Value addr.Value
	Stamp Stamp
}

func (r *Register) set(v addr.Value, s Stamp) {
	if s.After(r.Stamp) {
		r.Value = v
		r.Stamp = s
	}
}

// NodeRecord is the replica state of one node.
type NodeRecord struct {
	ID string

	Kind           Register
	Transform      world.Transform
	TransformStamp Stamp
	Geometry       Register
	Media          Register
	Props          map[string]*Register

	// Links is an OR-Set keyed by the id of the adding event. Removed holds
	// every tag that has been unlinked, including tags whose add has not been
	// seen yet.
	Links   map[string]Link
	Removed map[string]bool

	// Deleted is sticky: once set it is never cleared.
	Deleted      bool
	DeletedStamp Stamp
}

func newNodeRecord(id string) *NodeRecord {
	return &NodeRecord{
		ID:        id,
		Kind:      Register{Value: addr.String("")},
		Transform: world.IdentityTransform(),
		Props:     make(map[string]*Register),
		Links:     make(map[string]Link),
		Removed:   make(map[string]bool),
	}
}

func (n *NodeRecord) setTransform(t world.Transform, s Stamp) {
	if s.After(n.TransformStamp) {
		n.Transform = t
		n.TransformStamp = s
	}
}

func (n *NodeRecord) setProps(props addr.Object, s Stamp) {
	for k, v := range props {
		reg, ok := n.Props[k]
		if !ok {
			reg = &Register{}
			n.Props[k] = reg
		}
		reg.set(v, s)
	}
}

func (n *NodeRecord) clone() *NodeRecord {
	c := *n
	c.Props = make(map[string]*Register, len(n.Props))
	for k, r := range n.Props {
		rc := *r
		c.Props[k] = &rc
	}
	c.Links = make(map[string]Link, len(n.Links))
	for k, l := range n.Links {
		c.Links[k] = l
	}
	c.Removed = make(map[string]bool, len(n.Removed))
	for k := range n.Removed {
		c.Removed[k] = true
	}
	return &c
}

// Table is a set of node records keyed by node id.
type Table map[string]*NodeRecord

func (t Table) node(id string) *NodeRecord {
	n, ok := t[id]
	if !ok {
		n = newNodeRecord(id)
		t[id] = n
	}
	return n
}

// Replica is a materialized tile. Source and derived events write to
// separate tables; derived projections never touch source truth.
type Replica struct {
	Nodes   Table
	Derived Table

	// Applied counts events applied, and Last is the last one.
	Applied int
	Last    string
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{Nodes: Table{}, Derived: Table{}}
}

// Clone returns a deep copy.
func (r *Replica) Clone() *Replica {
	c := &Replica{
		Nodes:   make(Table, len(r.Nodes)),
		Derived: make(Table, len(r.Derived)),
		Applied: r.Applied,
		Last:    r.Last,
	}
	for id, n := range r.Nodes {
		c.Nodes[id] = n.clone()
	}
	for id, n := range r.Derived {
		c.Derived[id] = n.clone()
	}
	return c
}

func (r *Replica) table(a world.Authority) Table {
	if a == world.AuthorityDerived {
		return r.Derived
	}
	return r.Nodes
}

// Apply applies one normalized event.
func (r *Replica) Apply(ev *world.Event) error {
	if ev.Payload == nil {
		return fmt.Errorf("apply %s: no payload", ev.ID)
	}
	s := StampOf(ev)
	n := r.table(ev.Scope.Authority).node(ev.Payload.Node())

	switch p := ev.Payload.(type) {
	case *world.CreateNode:
		n.Kind.set(addr.String(p.Kind), s)
		if p.Transform != nil {
			n.setTransform(*p.Transform, s)
		}
		n.setProps(p.Props, s)
	case *world.DeleteNode:
		n.Deleted = true
		if s.After(n.DeletedStamp) {
			n.DeletedStamp = s
		}
	case *world.UpdateTransform:
		n.setTransform(p.Transform, s)
	case *world.SetProperties:
		n.setProps(p.Props, s)
	case *world.LinkNodes:
		if !n.Removed[ev.ID] {
			n.Links[ev.ID] = Link{Relation: p.Relation, Target: p.Target}
		}
	case *world.UnlinkNodes:
		if p.Tag != "" {
			n.Removed[p.Tag] = true
			delete(n.Links, p.Tag)
			break
		}
		for tag, l := range n.Links {
			if l.Relation == p.Relation && l.Target == p.Target {
				n.Removed[tag] = true
				delete(n.Links, tag)
			}
		}
	case *world.SetGeometry:
		n.Geometry.set(nullIfNil(p.Geometry), s)
	case *world.SetMedia:
		n.Media.set(nullIfNil(p.Media), s)
	default:
		return fmt.Errorf("apply %s: unhandled payload %T", ev.ID, ev.Payload)
	}

	r.Applied++
	r.Last = ev.ID
	return nil
}

func nullIfNil(v addr.Value) addr.Value {
	if v == nil {
		return addr.Null{}
	}
	return v
}

// ApplyAll applies events in the order given.
func (r *Replica) ApplyAll(events []*world.Event) error {
	for _, ev := range events {
		if err := r.Apply(ev); err != nil {
			return err
		}
	}
	return nil
}

// Trace runs the replay pipeline: normalize, order, prune.
func Trace(events []*world.Event) ([]*world.Event, error) {
	normalized, err := NormalizeAll(events)
	if err != nil {
		return nil, err
	}
	ordered, err := OrderDeterministic(normalized)
	if err != nil {
		return nil, err
	}
	return PruneNoOps(ordered), nil
}

// Materialize replays events onto a copy of base (an empty replica when
// base is nil). base is not modified.
//
// No-op pruning is not applied: a pruned update can still carry the winning
// stamp when base already holds a later write, so state is built from every
// event. Ids stored twice with different content resolve through
// ResolveDuplicates.
func Materialize(base *Replica, events []*world.Event) (*Replica, error) {
	var r *Replica
	if base == nil {
		r = NewReplica()
	} else {
		r = base.Clone()
	}

	normalized, err := ResolveDuplicates(events)
	if err != nil {
		return nil, err
	}
	ordered, err := OrderDeterministic(normalized)
	if err != nil {
		return nil, err
	}
	if err := r.ApplyAll(ordered); err != nil {
		return nil, err
	}
	return r, nil
}
