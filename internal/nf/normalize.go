package nf

import (
	"fmt"
	"slices"

	"github.com/roach88/tessera/internal/world"
)

// RootInvariants are added to every event that does not already claim them.
// They are never removed.
var RootInvariants = []string{
	"append_only",
	"authority_partition",
	"tombstone_retention",
}

var validAuthority = map[world.Authority]bool{
	world.AuthoritySource:  true,
	world.AuthorityDerived: true,
}

var validRealm = map[world.Realm]bool{
	world.RealmPersonal: true,
	world.RealmTeam:     true,
	world.RealmPublic:   true,
}

var validBoundary = map[world.Boundary]bool{
	world.BoundaryExterior: true,
	world.BoundaryEdge:     true,
	world.BoundaryInterior: true,
}

// Validate checks that ev carries every required envelope field and a
// payload consistent with its operation.
func Validate(ev *world.Event) error {
	required := []struct {
		field string
		value string
	}{
		{"event_id", ev.ID},
		{"space_id", ev.SpaceID},
		{"tile_id", ev.TileID},
		{"actor_id", ev.ActorID},
		{"operation", string(ev.Op)},
		{"scope.authority", string(ev.Scope.Authority)},
	}
	for _, r := range required {
		if r.value == "" {
			return missingField(ev.ID, r.field)
		}
	}
	if ev.TS <= 0 {
		return invalidField(ev.ID, "ts", "timestamp must be positive, got %d", ev.TS)
	}
	if !world.ValidOps[ev.Op] {
		return &world.ValidationError{
			Code:    world.CodeUnknownOperation,
			Field:   "operation",
			EventID: ev.ID,
			Message: fmt.Sprintf("unknown operation %q", ev.Op),
		}
	}
	if !validAuthority[ev.Scope.Authority] {
		return invalidField(ev.ID, "scope.authority", "unknown authority %q", ev.Scope.Authority)
	}
	if ev.Scope.Realm != "" && !validRealm[ev.Scope.Realm] {
		return invalidField(ev.ID, "scope.realm", "unknown realm %q", ev.Scope.Realm)
	}
	if ev.Scope.Boundary != "" && !validBoundary[ev.Scope.Boundary] {
		return invalidField(ev.ID, "scope.boundary", "unknown boundary %q", ev.Scope.Boundary)
	}
	if ev.Payload == nil {
		return missingField(ev.ID, "payload")
	}
	if ev.Payload.Op() != ev.Op {
		return invalidField(ev.ID, "payload", "payload is %s, operation is %s", ev.Payload.Op(), ev.Op)
	}
	if ev.Payload.Node() == "" {
		return missingField(ev.ID, "payload.node_id")
	}

	switch p := ev.Payload.(type) {
	case *world.LinkNodes:
		if p.Relation == "" {
			return missingField(ev.ID, "payload.relation")
		}
		if p.Target == "" {
			return missingField(ev.ID, "payload.target")
		}
	case *world.UnlinkNodes:
		if p.Tag == "" && (p.Relation == "" || p.Target == "") {
			return missingField(ev.ID, "payload.tag")
		}
	case *world.CreateNode, *world.DeleteNode, *world.UpdateTransform,
		*world.SetProperties, *world.SetGeometry, *world.SetMedia:
	}

	// Every accepted event must have a canonical form.
	if _, err := ev.Encode(); err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	return nil
}

// Normalize validates ev and returns a normalized copy: root invariants
// added, invariant and predecessor sets sorted and deduplicated.
func Normalize(ev *world.Event) (*world.Event, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}
	out := ev.Clone()
	out.Invariants = sortedSet(append(out.Invariants, RootInvariants...))
	out.Prev = sortedSet(out.Prev)
	return out, nil
}

// NormalizeAll normalizes every event. An id seen twice with identical
// canonical bytes is kept once; an id reused for different content is a
// ValidationError. The first failure aborts the whole batch.
func NormalizeAll(events []*world.Event) ([]*world.Event, error) {
	out := make([]*world.Event, 0, len(events))
	seen := make(map[string]string, len(events))

	for _, ev := range events {
		n, err := Normalize(ev)
		if err != nil {
			return nil, err
		}
		b, err := n.Encode()
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", n.ID, err)
		}
		if prior, ok := seen[n.ID]; ok {
			if prior == string(b) {
				continue
			}
			return nil, &world.ValidationError{
				Code:    world.CodeDuplicateEvent,
				Field:   "event_id",
				EventID: n.ID,
				Message: "event id reused for different content",
			}
		}
		seen[n.ID] = string(b)
		out = append(out, n)
	}
	return out, nil
}

// ResolveDuplicates normalizes events read back from durable history. Where
// one id carries different content, the version with the smallest canonical
// encoding is kept, so every replica reading the same history agrees.
// Output keeps the position of each id's first occurrence.
func ResolveDuplicates(events []*world.Event) ([]*world.Event, error) {
	out := make([]*world.Event, 0, len(events))
	pos := make(map[string]int, len(events))
	enc := make(map[string]string, len(events))

	for _, ev := range events {
		n, err := Normalize(ev)
		if err != nil {
			return nil, err
		}
		b, err := n.Encode()
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", n.ID, err)
		}
		i, ok := pos[n.ID]
		if !ok {
			pos[n.ID] = len(out)
			enc[n.ID] = string(b)
			out = append(out, n)
			continue
		}
		if string(b) < enc[n.ID] {
			enc[n.ID] = string(b)
			out[i] = n
		}
	}
	return out, nil
}

func sortedSet(ss []string) []string {
	out := slices.Clone(ss)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

func missingField(eventID, field string) error {
	return &world.ValidationError{
		Code:    world.CodeMissingField,
		Field:   field,
		EventID: eventID,
		Message: "required field is empty",
	}
}

func invalidField(eventID, field, format string, args ...any) error {
	return &world.ValidationError{
		Code:    world.CodeInvalidField,
		Field:   field,
		EventID: eventID,
		Message: fmt.Sprintf(format, args...),
	}
}
