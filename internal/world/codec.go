package world

import (
	"fmt"
	"math"

	"github.com/roach88/tessera/internal/addr"
)

// CanonicalValue returns the event's wire form. Empty optional fields are
// omitted; invariants and prev are always present as arrays.
func (e *Event) CanonicalValue() (addr.Value, error) {
	var payload addr.Value = addr.Null{}
	if e.Payload != nil {
		v, err := e.Payload.CanonicalValue()
		if err != nil {
			return nil, err
		}
		payload = v
	}

	return addr.Object{
		"event_id":  addr.String(e.ID),
		"ts":        addr.Number(float64(e.TS)),
		"space_id":  addr.String(e.SpaceID),
		"tile_id":   addr.String(e.TileID),
		"actor_id":  addr.String(e.ActorID),
		"operation": addr.String(string(e.Op)),
		"scope": addr.Object{
			"authority": addr.String(string(e.Scope.Authority)),
			"realm":     addr.OptString(string(e.Scope.Realm)),
			"boundary":  addr.OptString(string(e.Scope.Boundary)),
		},
		"invariants": addr.Strings(nonNil(e.Invariants)),
		"prev":       addr.Strings(nonNil(e.Prev)),
		"payload":    payload,
	}, nil
}

// Encode returns the canonical bytes of e. This is the event's line in a
// segment.
func (e *Event) Encode() ([]byte, error) {
	return addr.Canonicalize(e)
}

// ContentID returns the HashRef of the event's canonical bytes.
func (e *Event) ContentID() (addr.HashRef, error) {
	return addr.ContentID(e)
}

// MarshalJSON writes the canonical form.
func (e *Event) MarshalJSON() ([]byte, error) {
	return addr.Canonicalize(e)
}

// UnmarshalJSON decodes an event from JSON. Structural problems are
// reported as a ValidationError.
func (e *Event) UnmarshalJSON(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	*e = *ev
	return nil
}

// DecodeEvent parses one event from JSON bytes.
func DecodeEvent(data []byte) (*Event, error) {
	v, err := addr.ParseJSON(data)
	if err != nil {
		return nil, &ValidationError{Code: CodeInvalidField, Message: err.Error()}
	}
	return EventFromValue(v)
}

// EventFromValue decodes an event from its canonical value form.
// Missing string fields decode as empty and are caught by validation;
// fields present with the wrong type fail here.
func EventFromValue(v addr.Value) (*Event, error) {
	obj, ok := v.(addr.Object)
	if !ok {
		return nil, &ValidationError{Code: CodeInvalidField, Message: fmt.Sprintf("event must be an object, got %T", v)}
	}

	d := decoder{}
	id := d.str(obj, "event_id")
	d.eventID = id

	ev := &Event{
		ID:         id,
		TS:         d.int(obj, "ts"),
		SpaceID:    d.str(obj, "space_id"),
		TileID:     d.str(obj, "tile_id"),
		ActorID:    d.str(obj, "actor_id"),
		Op:         OpKind(d.str(obj, "operation")),
		Invariants: d.strs(obj, "invariants"),
		Prev:       d.strs(obj, "prev"),
	}

	if scope := d.obj(obj, "scope"); scope != nil {
		ev.Scope = Scope{
			Authority: Authority(d.str(scope, "authority")),
			Realm:     Realm(d.str(scope, "realm")),
			Boundary:  Boundary(d.str(scope, "boundary")),
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	if ev.Op == "" {
		return nil, missing(id, "operation")
	}
	payload := d.obj(obj, "payload")
	if d.err != nil {
		return nil, d.err
	}
	if payload == nil {
		return nil, missing(id, "payload")
	}
	p, err := decodePayload(id, ev.Op, payload)
	if err != nil {
		return nil, err
	}
	ev.Payload = p
	return ev, nil
}

func decodePayload(eventID string, op OpKind, obj addr.Object) (Payload, error) {
	d := decoder{eventID: eventID, prefix: "payload."}
	node := d.str(obj, "node_id")

	var p Payload
	switch op {
	case OpCreateNode:
		c := &CreateNode{NodeID: node, Kind: d.str(obj, "kind"), Props: d.obj(obj, "props")}
		if _, ok := obj["transform"]; ok {
			t := d.transform(obj, "transform")
			c.Transform = &t
		}
		p = c
	case OpDeleteNode:
		p = &DeleteNode{NodeID: node}
	case OpUpdateTransform:
		if _, ok := obj["transform"]; !ok {
			return nil, missing(eventID, "payload.transform")
		}
		p = &UpdateTransform{NodeID: node, Transform: d.transform(obj, "transform")}
	case OpSetProperties:
		p = &SetProperties{NodeID: node, Props: d.obj(obj, "props")}
	case OpLinkNodes:
		p = &LinkNodes{NodeID: node, Relation: d.str(obj, "relation"), Target: d.str(obj, "target")}
	case OpUnlinkNodes:
		p = &UnlinkNodes{
			NodeID:   node,
			Relation: d.str(obj, "relation"),
			Target:   d.str(obj, "target"),
			Tag:      d.str(obj, "tag"),
		}
	case OpSetGeometry:
		p = &SetGeometry{NodeID: node, Geometry: orNull(obj["geometry"])}
	case OpSetMedia:
		p = &SetMedia{NodeID: node, Media: orNull(obj["media"])}
	default:
		return nil, &ValidationError{
			Code:    CodeUnknownOperation,
			Field:   "operation",
			EventID: eventID,
			Message: fmt.Sprintf("unknown operation %q", op),
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return p, nil
}

// decoder reads typed fields and keeps the first error.
type decoder struct {
	eventID string
	prefix  string
	err     error
}

func (d *decoder) fail(field, format string, args ...any) {
	if d.err == nil {
		d.err = invalid(d.eventID, d.prefix+field, format, args...)
	}
}

func (d *decoder) str(obj addr.Object, key string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	s, ok := v.(addr.String)
	if !ok {
		d.fail(key, "expected string, got %T", v)
		return ""
	}
	return string(s)
}

func (d *decoder) int(obj addr.Object, key string) int64 {
	v, ok := obj[key]
	if !ok {
		return 0
	}
	n, ok := v.(addr.Number)
	if !ok {
		d.fail(key, "expected number, got %T", v)
		return 0
	}
	f := float64(n)
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		d.fail(key, "expected integer, got %v", f)
		return 0
	}
	return int64(f)
}

func (d *decoder) strs(obj addr.Object, key string) []string {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	arr, ok := v.(addr.Array)
	if !ok {
		d.fail(key, "expected array, got %T", v)
		return nil
	}
	out := make([]string, 0, len(arr))
	for i, elem := range arr {
		s, ok := elem.(addr.String)
		if !ok {
			d.fail(fmt.Sprintf("%s[%d]", key, i), "expected string, got %T", elem)
			return nil
		}
		out = append(out, string(s))
	}
	return out
}

func (d *decoder) obj(obj addr.Object, key string) addr.Object {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	if _, isNull := v.(addr.Null); isNull {
		return nil
	}
	o, ok := v.(addr.Object)
	if !ok {
		d.fail(key, "expected object, got %T", v)
		return nil
	}
	return o
}

func (d *decoder) transform(obj addr.Object, key string) Transform {
	t := IdentityTransform()
	o := d.obj(obj, key)
	if o == nil {
		if d.err == nil {
			d.fail(key, "expected object")
		}
		return t
	}
	if _, ok := o["position"]; ok {
		t.Position = d.vec3(o, key+".position")
	}
	if _, ok := o["rotation"]; ok {
		t.Rotation = d.vec3(o, key+".rotation")
	}
	if _, ok := o["scale"]; ok {
		t.Scale = d.vec3(o, key+".scale")
	}
	return t
}

func (d *decoder) vec3(obj addr.Object, field string) Vec3 {
	leaf := field[lastDot(field)+1:]
	arr, ok := obj[leaf].(addr.Array)
	if !ok || len(arr) != 3 {
		d.fail(field, "expected array of 3 numbers")
		return Vec3{}
	}
	var out Vec3
	for i, elem := range arr {
		n, ok := elem.(addr.Number)
		if !ok {
			d.fail(field, "expected array of 3 numbers")
			return Vec3{}
		}
		out[i] = float64(n)
	}
	return out
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
