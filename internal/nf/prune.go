package nf

import (
	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

type pruneKey struct {
	authority world.Authority
	node      string
}

// PruneNoOps drops every update_transform whose transform is canonically
// identical to the previous update_transform for the same node within the
// same authority. Events must already be normalized and in replay order.
func PruneNoOps(ordered []*world.Event) []*world.Event {
	last := make(map[pruneKey]string)
	out := make([]*world.Event, 0, len(ordered))

	for _, ev := range ordered {
		ut, ok := ev.Payload.(*world.UpdateTransform)
		if !ok {
			out = append(out, ev)
			continue
		}
		key := pruneKey{authority: ev.Scope.Authority, node: ut.NodeID}
		b := string(addr.MustCanonicalize(ut.Transform.Value()))
		if prior, seen := last[key]; seen && prior == b {
			continue
		}
		last[key] = b
		out = append(out, ev)
	}
	return out
}
