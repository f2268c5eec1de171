package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// EventBuilder builds well-formed events for one tile.
//
// Every builder method takes the event id and timestamp explicitly so that
// tests control replay order. The zero authority is source; call Derived
// for a builder that writes projections.
type EventBuilder struct {
	Space     string
	Tile      string
	Actor     string
	Authority world.Authority
}

// NewEventBuilder returns a source-authority builder for space/tile.
func NewEventBuilder(space, tile string) *EventBuilder {
	return &EventBuilder{Space: space, Tile: tile, Actor: "tester", Authority: world.AuthoritySource}
}

// Derived returns a copy of b that writes derived-authority events.
func (b *EventBuilder) Derived() *EventBuilder {
	c := *b
	c.Authority = world.AuthorityDerived
	return &c
}

func (b *EventBuilder) event(id string, ts int64, p world.Payload) *world.Event {
	return &world.Event{
		ID:      id,
		TS:      ts,
		SpaceID: b.Space,
		TileID:  b.Tile,
		ActorID: b.Actor,
		Op:      p.Op(),
		Scope:   world.Scope{Authority: b.Authority},
		Payload: p,
	}
}

// Create returns a create_node event.
func (b *EventBuilder) Create(id string, ts int64, node, kind string) *world.Event {
	return b.event(id, ts, &world.CreateNode{NodeID: node, Kind: kind})
}

// Delete returns a delete_node event.
func (b *EventBuilder) Delete(id string, ts int64, node string) *world.Event {
	return b.event(id, ts, &world.DeleteNode{NodeID: node})
}

// Move returns an update_transform event placing node at pos with unit scale.
func (b *EventBuilder) Move(id string, ts int64, node string, pos world.Vec3) *world.Event {
	t := world.IdentityTransform()
	t.Position = pos
	return b.event(id, ts, &world.UpdateTransform{NodeID: node, Transform: t})
}

// Props returns a set_properties event.
func (b *EventBuilder) Props(id string, ts int64, node string, props addr.Object) *world.Event {
	return b.event(id, ts, &world.SetProperties{NodeID: node, Props: props})
}

// Link returns a link_nodes event. The link's tag is id.
func (b *EventBuilder) Link(id string, ts int64, node, relation, target string) *world.Event {
	return b.event(id, ts, &world.LinkNodes{NodeID: node, Relation: relation, Target: target})
}

// Unlink returns an unlink_nodes event. An empty tag removes by relation
// and target.
func (b *EventBuilder) Unlink(id string, ts int64, node, relation, target, tag string) *world.Event {
	return b.event(id, ts, &world.UnlinkNodes{NodeID: node, Relation: relation, Target: target, Tag: tag})
}

// Geometry returns a set_geometry event.
func (b *EventBuilder) Geometry(id string, ts int64, node string, geometry addr.Value) *world.Event {
	return b.event(id, ts, &world.SetGeometry{NodeID: node, Geometry: geometry})
}

// Media returns a set_media event.
func (b *EventBuilder) Media(id string, ts int64, node string, media addr.Value) *world.Event {
	return b.event(id, ts, &world.SetMedia{NodeID: node, Media: media})
}

// SequentialIDs generates event ids "e0001", "e0002", ... so that
// lexicographic and numeric order agree.
//
// Thread-safety: Next is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs returns a generator. An empty prefix means "e".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "e"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.prefix, g.n)
}
