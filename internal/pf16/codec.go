package pf16

import (
	"fmt"
	"math"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// Slot names in wire order.
var Slots = []string{
	"self", "authority", "scope", "boundary",
	"location", "time", "relation_set", "intent_set",
	"source_set", "witness_set", "projection_set", "derivation_set",
	"version", "federation_set", "policy", "nonce",
}

// CanonicalValue returns the identity's wire form. Every slot is present.
func (id Identity) CanonicalValue() (addr.Value, error) {
	loc := id.Location
	if loc == nil {
		loc = addr.Object{}
	}
	return addr.Object{
		"self":           id.Self.value(),
		"authority":      addr.String(string(id.Authority)),
		"scope":          addr.Object{"realm": addr.String(string(id.Scope))},
		"boundary":       addr.String(string(id.Boundary)),
		"location":       loc,
		"time":           addr.Number(float64(id.Time)),
		"relation_set":   addr.Strings(nonNil(id.Relations)),
		"intent_set":     addr.Strings(nonNil(id.Intents)),
		"source_set":     addr.Strings(nonNil(id.Sources)),
		"witness_set":    addr.Strings(nonNil(id.Witnesses)),
		"projection_set": addr.Strings(nonNil(id.Projections)),
		"derivation_set": addr.Strings(nonNil(id.Derivations)),
		"version":        addr.String(id.Version),
		"federation_set": addr.Strings(nonNil(id.Federation)),
		"policy":         addr.String(string(id.Policy)),
		"nonce":          addr.String(string(id.Nonce)),
	}, nil
}

// MarshalJSON writes the canonical form.
func (id Identity) MarshalJSON() ([]byte, error) {
	return addr.Canonicalize(id)
}

// UnmarshalJSON reads an identity. Missing slots take Create's defaults,
// so a bare {"self": "x"} is a valid seed.
func (id *Identity) UnmarshalJSON(data []byte) error {
	v, err := addr.ParseJSON(data)
	if err != nil {
		return fmt.Errorf("pf16: %w", err)
	}
	out, err := FromValue(v)
	if err != nil {
		return err
	}
	*id = out
	return nil
}

// FromValue decodes an identity from its wire form.
func FromValue(v addr.Value) (Identity, error) {
	obj, ok := v.(addr.Object)
	if !ok {
		return Identity{}, fmt.Errorf("pf16: expected object, got %T", v)
	}

	r := reader{obj: obj}
	self := r.text("self")
	seed := Seed{
		Self:        self.Value,
		Authority:   world.Authority(r.str("authority")),
		Boundary:    world.Boundary(r.str("boundary")),
		Location:    r.object("location"),
		Time:        r.int("time"),
		Relations:   r.strs("relation_set"),
		Intents:     r.strs("intent_set"),
		Sources:     r.strs("source_set"),
		Witnesses:   r.strs("witness_set"),
		Projections: r.strs("projection_set"),
		Derivations: r.strs("derivation_set"),
		Version:     r.str("version"),
		Federation:  r.strs("federation_set"),
		Policy:      Policy(r.str("policy")),
	}
	if scope := r.object("scope"); scope != nil {
		sr := reader{obj: scope}
		seed.Scope = world.Realm(sr.str("realm"))
		if sr.err != nil {
			return Identity{}, sr.err
		}
	}
	nonce := r.str("nonce")
	if r.err != nil {
		return Identity{}, r.err
	}

	if self.IsConflict() {
		// Create requires a plain self; a merged record is rebuilt around it.
		seed.Self = "conflict"
	}
	id, err := Create(seed)
	if err != nil {
		return Identity{}, err
	}
	id.Self = self
	if nonce != "" {
		ref, err := addr.ParseHashRef(nonce)
		if err != nil {
			return Identity{}, fmt.Errorf("pf16 nonce: %w", err)
		}
		id.Nonce = ref
	}
	return id, nil
}

type reader struct {
	obj addr.Object
	err error
}

func (r *reader) fail(slot, format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("pf16 %s: %s", slot, fmt.Sprintf(format, args...))
	}
}

func (r *reader) str(key string) string {
	v, ok := r.obj[key]
	if !ok {
		return ""
	}
	s, ok := v.(addr.String)
	if !ok {
		r.fail(key, "expected string, got %T", v)
	}
	return string(s)
}

func (r *reader) text(key string) Text {
	v, ok := r.obj[key]
	if !ok {
		return Text{}
	}
	if isConflictValue(v) {
		inner := v.(addr.Object)["conflict"].(addr.Object)
		return Text{Conflict: &Conflict{A: inner["a"], B: inner["b"]}}
	}
	return Plain(r.str(key))
}

func (r *reader) int(key string) int64 {
	v, ok := r.obj[key]
	if !ok {
		return 0
	}
	n, ok := v.(addr.Number)
	if !ok || float64(n) != math.Trunc(float64(n)) {
		r.fail(key, "expected integer, got %v", v)
		return 0
	}
	return int64(n)
}

func (r *reader) strs(key string) []string {
	v, ok := r.obj[key]
	if !ok {
		return nil
	}
	arr, ok := v.(addr.Array)
	if !ok {
		r.fail(key, "expected array, got %T", v)
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		s, ok := elem.(addr.String)
		if !ok {
			r.fail(key, "expected array of strings")
			return nil
		}
		out = append(out, string(s))
	}
	return out
}

func (r *reader) object(key string) addr.Object {
	v, ok := r.obj[key]
	if !ok {
		return nil
	}
	o, ok := v.(addr.Object)
	if !ok {
		r.fail(key, "expected object, got %T", v)
	}
	return o
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
