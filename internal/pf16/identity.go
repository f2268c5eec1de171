package pf16

import (
	"errors"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// DomainNonce separates identity nonces from every other hash.
const DomainNonce = "tessera/pf16/nonce/v1"

// Policy is the disclosure policy of an identity.
type Policy string

const (
	PolicyPrivate  Policy = "private"
	PolicyRedacted Policy = "redacted"
	PolicyPublic   Policy = "public"
)

// DefaultVersion is the version of a freshly created identity.
const DefaultVersion = "1"

// Conflict holds both sides of an unresolved slot merge.
type Conflict struct {
	A addr.Value
	B addr.Value
}

// Value returns the tagged form {"conflict": {"a": ..., "b": ...}}.
func (c *Conflict) Value() addr.Value {
	return addr.Object{"conflict": addr.Object{"a": c.A, "b": c.B}}
}

// Text is a string slot that may carry a conflict instead of a value.
type Text struct {
	Value    string
	Conflict *Conflict
}

// Plain returns a Text holding s.
func Plain(s string) Text {
	return Text{Value: s}
}

// IsConflict reports whether the slot holds a conflict.
func (t Text) IsConflict() bool {
	return t.Conflict != nil
}

func (t Text) value() addr.Value {
	if t.Conflict != nil {
		return t.Conflict.Value()
	}
	return addr.String(t.Value)
}

// Identity is a sixteen-slot provenance record.
type Identity struct {
	Self        Text
	Authority   world.Authority
	Scope       world.Realm
	Boundary    world.Boundary
	Location    addr.Object
	Time        int64
	Relations   []string
	Intents     []string
	Sources     []string
	Witnesses   []string
	Projections []string
	Derivations []string
	Version     string
	Federation  []string
	Policy      Policy
	Nonce       addr.HashRef
}

// Seed is the minimal input to Create. Only Self is required; every other
// field defaults.
type Seed struct {
	Self        string
	Authority   world.Authority
	Scope       world.Realm
	Boundary    world.Boundary
	Location    addr.Object
	Time        int64
	Relations   []string
	Intents     []string
	Sources     []string
	Witnesses   []string
	Projections []string
	Derivations []string
	Version     string
	Federation  []string
	Policy      Policy
}

// ErrNoSelf is returned by Create when the seed has no self id.
var ErrNoSelf = errors.New("pf16: seed has no self id")

// Create fills a complete identity from seed. Defaults are: authority
// source, scope personal, boundary interior, policy private, version "1",
// and a nonce derived from the self id.
func Create(seed Seed) (Identity, error) {
	if seed.Self == "" {
		return Identity{}, ErrNoSelf
	}
	id := Identity{
		Self:        Plain(seed.Self),
		Authority:   orDefault(seed.Authority, world.AuthoritySource),
		Scope:       orDefault(seed.Scope, world.RealmPersonal),
		Boundary:    orDefault(seed.Boundary, world.BoundaryInterior),
		Location:    seed.Location.Clone(),
		Time:        seed.Time,
		Relations:   union(seed.Relations),
		Intents:     union(seed.Intents),
		Sources:     union(seed.Sources),
		Witnesses:   union(seed.Witnesses),
		Projections: union(seed.Projections),
		Derivations: union(seed.Derivations),
		Version:     orDefault(seed.Version, DefaultVersion),
		Federation:  union(seed.Federation),
		Policy:      orDefault(seed.Policy, PolicyPrivate),
		Nonce:       addr.HashWithDomain(DomainNonce, []byte(seed.Self)),
	}
	if id.Location == nil {
		id.Location = addr.Object{}
	}
	return id, nil
}

func orDefault[T ~string](v, def T) T {
	if v == "" {
		return def
	}
	return v
}

// Hash returns the content id of the identity's canonical form.
func Hash(id Identity) (addr.HashRef, error) {
	return addr.ContentID(id)
}

// HasConflicts reports whether any slot holds a conflict marker.
func HasConflicts(id Identity) bool {
	return len(Conflicts(id)) > 0
}

// Conflicts lists the slots holding conflict markers. A version merge
// marker counts as a conflict. Conflicting location leaves are reported as
// "location.<path>".
func Conflicts(id Identity) []string {
	var out []string
	if id.Self.IsConflict() {
		out = append(out, "self")
	}
	out = append(out, locationConflicts("location", id.Location)...)
	if IsVersionMarker(id.Version) {
		out = append(out, "version")
	}
	return out
}

func locationConflicts(path string, obj addr.Object) []string {
	var out []string
	for _, k := range obj.SortedKeys() {
		v := obj[k]
		p := path + "." + k
		if isConflictValue(v) {
			out = append(out, p)
			continue
		}
		if sub, ok := v.(addr.Object); ok {
			out = append(out, locationConflicts(p, sub)...)
		}
	}
	return out
}

func isConflictValue(v addr.Value) bool {
	obj, ok := v.(addr.Object)
	if !ok || len(obj) != 1 {
		return false
	}
	inner, ok := obj["conflict"].(addr.Object)
	if !ok || len(inner) != 2 {
		return false
	}
	_, hasA := inner["a"]
	_, hasB := inner["b"]
	return hasA && hasB
}
