package nf

import (
	"fmt"
	"slices"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// CanonicalValue returns the replica with every stamp and tag, the form
// persisted in snapshots. Unlike Normal, it round-trips through
// ReplicaFromValue without loss.
func (r *Replica) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"nodes":   tableValue(r.Nodes),
		"derived": tableValue(r.Derived),
		"applied": addr.Number(float64(r.Applied)),
		"last":    addr.OptString(r.Last),
	}, nil
}

func tableValue(t Table) addr.Object {
	obj := make(addr.Object, len(t))
	for id, n := range t {
		obj[id] = n.value()
	}
	return obj
}

func stampValue(s Stamp) addr.Value {
	return addr.Array{addr.Number(float64(s.TS)), addr.String(s.EventID)}
}

func registerValue(r Register) addr.Value {
	if r.Value == nil {
		return addr.Absent{}
	}
	return addr.Object{"value": r.Value, "stamp": stampValue(r.Stamp)}
}

func (n *NodeRecord) value() addr.Value {
	props := make(addr.Object, len(n.Props))
	for k, reg := range n.Props {
		props[k] = registerValue(*reg)
	}

	links := make(addr.Object, len(n.Links))
	for tag, l := range n.Links {
		links[tag] = addr.Array{addr.String(l.Relation), addr.String(l.Target)}
	}

	removed := make([]string, 0, len(n.Removed))
	for tag := range n.Removed {
		removed = append(removed, tag)
	}
	slices.Sort(removed)

	obj := addr.Object{
		"kind":      registerValue(n.Kind),
		"transform": addr.Object{"value": n.Transform.Value(), "stamp": stampValue(n.TransformStamp)},
		"geometry":  registerValue(n.Geometry),
		"media":     registerValue(n.Media),
		"props":     props,
		"links":     links,
		"removed":   addr.Strings(removed),
		"deleted":   addr.Bool(n.Deleted),
	}
	if n.Deleted {
		obj["deleted_at"] = stampValue(n.DeletedStamp)
	}
	return obj
}

// ReplicaFromValue decodes a replica written by CanonicalValue.
func ReplicaFromValue(v addr.Value) (*Replica, error) {
	obj, ok := v.(addr.Object)
	if !ok {
		return nil, fmt.Errorf("replica: expected object, got %T", v)
	}
	r := NewReplica()

	var err error
	if r.Nodes, err = tableFromValue(obj["nodes"]); err != nil {
		return nil, fmt.Errorf("replica nodes: %w", err)
	}
	if r.Derived, err = tableFromValue(obj["derived"]); err != nil {
		return nil, fmt.Errorf("replica derived: %w", err)
	}
	if n, ok := obj["applied"].(addr.Number); ok {
		r.Applied = int(n)
	}
	if s, ok := obj["last"].(addr.String); ok {
		r.Last = string(s)
	}
	return r, nil
}

func tableFromValue(v addr.Value) (Table, error) {
	t := Table{}
	if v == nil {
		return t, nil
	}
	obj, ok := v.(addr.Object)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	for _, id := range obj.SortedKeys() {
		n, err := nodeFromValue(id, obj[id])
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		t[id] = n
	}
	return t, nil
}

func nodeFromValue(id string, v addr.Value) (*NodeRecord, error) {
	obj, ok := v.(addr.Object)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	n := newNodeRecord(id)

	var err error
	if kind, ok := obj["kind"]; ok {
		if n.Kind, err = registerFromValue(kind); err != nil {
			return nil, fmt.Errorf("kind: %w", err)
		}
	}
	if tv, ok := obj["transform"]; ok {
		reg, err := registerFromValue(tv)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		tr, err := transformFromValue(reg.Value)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		n.Transform = tr
		n.TransformStamp = reg.Stamp
	}
	if gv, ok := obj["geometry"]; ok {
		if n.Geometry, err = registerFromValue(gv); err != nil {
			return nil, fmt.Errorf("geometry: %w", err)
		}
	}
	if mv, ok := obj["media"]; ok {
		if n.Media, err = registerFromValue(mv); err != nil {
			return nil, fmt.Errorf("media: %w", err)
		}
	}
	if props, ok := obj["props"].(addr.Object); ok {
		for k, pv := range props {
			reg, err := registerFromValue(pv)
			if err != nil {
				return nil, fmt.Errorf("props.%s: %w", k, err)
			}
			n.Props[k] = &reg
		}
	}
	if links, ok := obj["links"].(addr.Object); ok {
		for tag, lv := range links {
			pair, ok := lv.(addr.Array)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("links.%s: expected [relation, target]", tag)
			}
			rel, ok1 := pair[0].(addr.String)
			tgt, ok2 := pair[1].(addr.String)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("links.%s: expected strings", tag)
			}
			n.Links[tag] = Link{Relation: string(rel), Target: string(tgt)}
		}
	}
	if removed, ok := obj["removed"].(addr.Array); ok {
		for _, t := range removed {
			if s, ok := t.(addr.String); ok {
				n.Removed[string(s)] = true
			}
		}
	}
	if d, ok := obj["deleted"].(addr.Bool); ok {
		n.Deleted = bool(d)
	}
	if dv, ok := obj["deleted_at"]; ok {
		if n.DeletedStamp, err = stampFromValue(dv); err != nil {
			return nil, fmt.Errorf("deleted_at: %w", err)
		}
	}
	return n, nil
}

func registerFromValue(v addr.Value) (Register, error) {
	obj, ok := v.(addr.Object)
	if !ok {
		return Register{}, fmt.Errorf("expected register object, got %T", v)
	}
	value, ok := obj["value"]
	if !ok {
		return Register{}, fmt.Errorf("register has no value")
	}
	s, err := stampFromValue(obj["stamp"])
	if err != nil {
		return Register{}, err
	}
	return Register{Value: value, Stamp: s}, nil
}

func stampFromValue(v addr.Value) (Stamp, error) {
	arr, ok := v.(addr.Array)
	if !ok || len(arr) != 2 {
		return Stamp{}, fmt.Errorf("expected [ts, event_id] stamp")
	}
	ts, ok1 := arr[0].(addr.Number)
	id, ok2 := arr[1].(addr.String)
	if !ok1 || !ok2 {
		return Stamp{}, fmt.Errorf("expected [ts, event_id] stamp")
	}
	return Stamp{TS: int64(ts), EventID: string(id)}, nil
}

func transformFromValue(v addr.Value) (world.Transform, error) {
	obj, ok := v.(addr.Object)
	if !ok {
		return world.Transform{}, fmt.Errorf("expected object, got %T", v)
	}
	var t world.Transform
	for _, f := range []struct {
		key string
		dst *world.Vec3
	}{
		{"position", &t.Position},
		{"rotation", &t.Rotation},
		{"scale", &t.Scale},
	} {
		arr, ok := obj[f.key].(addr.Array)
		if !ok || len(arr) != 3 {
			return world.Transform{}, fmt.Errorf("%s: expected 3 numbers", f.key)
		}
		for i, x := range arr {
			num, ok := x.(addr.Number)
			if !ok {
				return world.Transform{}, fmt.Errorf("%s: expected 3 numbers", f.key)
			}
			f.dst[i] = float64(num)
		}
	}
	return t, nil
}
