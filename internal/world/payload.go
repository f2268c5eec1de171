package world

import (
	"github.com/roach88/tessera/internal/addr"
)

// Payload is the operation-specific part of an event.
// Sealed: only the payload types in this package implement it.
type Payload interface {
	// Op returns the operation kind this payload belongs to.
	Op() OpKind

	// Node returns the id of the node the operation targets.
	Node() string

	// CanonicalValue returns the payload's wire form.
	CanonicalValue() (addr.Value, error)

	payload()
}

// CreateNode introduces a node. Transform defaults to IdentityTransform.
type CreateNode struct {
	NodeID    string
	Kind      string
	Transform *Transform
	Props     addr.Object
}

// DeleteNode tombstones a node.
type DeleteNode struct {
	NodeID string
}

// UpdateTransform replaces a node's transform.
type UpdateTransform struct {
	NodeID    string
	Transform Transform
}

// SetProperties writes properties key by key. Keys not named are untouched;
// a null value is stored as null.
type SetProperties struct {
	NodeID string
	Props  addr.Object
}

// LinkNodes adds a (relation, target) link. The link's tag is the id of
// the event carrying this payload.
type LinkNodes struct {
	NodeID   string
	Relation string
	Target   string
}

// UnlinkNodes removes a link. When Tag is set only the link added by that
// event is removed; otherwise every observed link with the same relation
// and target is removed.
type UnlinkNodes struct {
	NodeID   string
	Relation string
	Target   string
	Tag      string
}

// SetGeometry replaces a node's geometry descriptor.
type SetGeometry struct {
	NodeID   string
	Geometry addr.Value
}

// SetMedia replaces a node's media descriptor.
type SetMedia struct {
	NodeID string
	Media  addr.Value
}

func (*CreateNode) payload()      {}
func (*DeleteNode) payload()      {}
func (*UpdateTransform) payload() {}
func (*SetProperties) payload()   {}
func (*LinkNodes) payload()       {}
func (*UnlinkNodes) payload()     {}
func (*SetGeometry) payload()     {}
func (*SetMedia) payload()        {}

func (*CreateNode) Op() OpKind      { return OpCreateNode }
func (*DeleteNode) Op() OpKind      { return OpDeleteNode }
func (*UpdateTransform) Op() OpKind { return OpUpdateTransform }
func (*SetProperties) Op() OpKind   { return OpSetProperties }
func (*LinkNodes) Op() OpKind       { return OpLinkNodes }
func (*UnlinkNodes) Op() OpKind     { return OpUnlinkNodes }
func (*SetGeometry) Op() OpKind     { return OpSetGeometry }
func (*SetMedia) Op() OpKind        { return OpSetMedia }

func (p *CreateNode) Node() string      { return p.NodeID }
func (p *DeleteNode) Node() string      { return p.NodeID }
func (p *UpdateTransform) Node() string { return p.NodeID }
func (p *SetProperties) Node() string   { return p.NodeID }
func (p *LinkNodes) Node() string       { return p.NodeID }
func (p *UnlinkNodes) Node() string     { return p.NodeID }
func (p *SetGeometry) Node() string     { return p.NodeID }
func (p *SetMedia) Node() string        { return p.NodeID }

// CanonicalValue implements Payload.
func (p *CreateNode) CanonicalValue() (addr.Value, error) {
	obj := addr.Object{
		"node_id": addr.String(p.NodeID),
		"kind":    addr.OptString(p.Kind),
	}
	if p.Transform != nil {
		obj["transform"] = p.Transform.Value()
	}
	if len(p.Props) > 0 {
		obj["props"] = p.Props
	}
	return obj, nil
}

// CanonicalValue implements Payload.
func (p *DeleteNode) CanonicalValue() (addr.Value, error) {
	return addr.Object{"node_id": addr.String(p.NodeID)}, nil
}

// CanonicalValue implements Payload.
func (p *UpdateTransform) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"node_id":   addr.String(p.NodeID),
		"transform": p.Transform.Value(),
	}, nil
}

// CanonicalValue implements Payload.
func (p *SetProperties) CanonicalValue() (addr.Value, error) {
	props := p.Props
	if props == nil {
		props = addr.Object{}
	}
	return addr.Object{
		"node_id": addr.String(p.NodeID),
		"props":   props,
	}, nil
}

// CanonicalValue implements Payload.
func (p *LinkNodes) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"node_id":  addr.String(p.NodeID),
		"relation": addr.String(p.Relation),
		"target":   addr.String(p.Target),
	}, nil
}

// CanonicalValue implements Payload.
func (p *UnlinkNodes) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"node_id":  addr.String(p.NodeID),
		"relation": addr.String(p.Relation),
		"target":   addr.String(p.Target),
		"tag":      addr.OptString(p.Tag),
	}, nil
}

// CanonicalValue implements Payload.
func (p *SetGeometry) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"node_id":  addr.String(p.NodeID),
		"geometry": orNull(p.Geometry),
	}, nil
}

// CanonicalValue implements Payload.
func (p *SetMedia) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"node_id": addr.String(p.NodeID),
		"media":   orNull(p.Media),
	}, nil
}

func orNull(v addr.Value) addr.Value {
	if v == nil {
		return addr.Null{}
	}
	return v
}

// Value returns the transform's wire form.
func (t Transform) Value() addr.Value {
	return addr.Object{
		"position": t.Position.Value(),
		"rotation": t.Rotation.Value(),
		"scale":    t.Scale.Value(),
	}
}

// Value returns the vector as a three-element array.
func (v Vec3) Value() addr.Value {
	return addr.Array{addr.Number(v[0]), addr.Number(v[1]), addr.Number(v[2])}
}
