package world

// OpKind names the operation an event performs.
type OpKind string

const (
	OpCreateNode      OpKind = "create_node"
	OpDeleteNode      OpKind = "delete_node"
	OpUpdateTransform OpKind = "update_transform"
	OpSetProperties   OpKind = "set_properties"
	OpLinkNodes       OpKind = "link_nodes"
	OpUnlinkNodes     OpKind = "unlink_nodes"
	OpSetGeometry     OpKind = "set_geometry"
	OpSetMedia        OpKind = "set_media"
)

// ValidOps lists every operation kind the store accepts.
var ValidOps = map[OpKind]bool{
	OpCreateNode:      true,
	OpDeleteNode:      true,
	OpUpdateTransform: true,
	OpSetProperties:   true,
	OpLinkNodes:       true,
	OpUnlinkNodes:     true,
	OpSetGeometry:     true,
	OpSetMedia:        true,
}

// Authority partitions truth. Source events are authored and identity
// bearing; derived events are computed projections and never feed back
// into source state.
type Authority string

const (
	AuthoritySource  Authority = "source"
	AuthorityDerived Authority = "derived"
)

// Realm is the audience of an event or identity.
type Realm string

const (
	RealmPersonal Realm = "personal"
	RealmTeam     Realm = "team"
	RealmPublic   Realm = "public"
)

// Boundary locates an event relative to a space's edge.
type Boundary string

const (
	BoundaryExterior Boundary = "exterior"
	BoundaryEdge     Boundary = "boundary"
	BoundaryInterior Boundary = "interior"
)

// Scope is the authority/realm/boundary record carried by every event.
// Realm and Boundary are optional.
type Scope struct {
	Authority Authority `json:"authority"`
	Realm     Realm     `json:"realm,omitempty"`
	Boundary  Boundary  `json:"boundary,omitempty"`
}

// Vec3 is an x/y/z triple.
type Vec3 [3]float64

// Transform positions a node. Rotation is Euler angles in radians.
type Transform struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
	Scale    Vec3 `json:"scale"`
}

// IdentityTransform is the transform of a freshly created node that did not
// specify one.
func IdentityTransform() Transform {
	return Transform{Scale: Vec3{1, 1, 1}}
}

// Event is an atomic, self-describing world mutation.
//
// Invariants and Prev are sets; normalization sorts and deduplicates them.
type Event struct {
	ID         string
	TS         int64 // milliseconds since the Unix epoch
	SpaceID    string
	TileID     string
	ActorID    string
	Op         OpKind
	Scope      Scope
	Invariants []string
	Prev       []string
	Payload    Payload
}

// Tile returns the key of the tile the event belongs to.
func (e *Event) Tile() TileKey {
	return TileKey{Space: e.SpaceID, Tile: e.TileID}
}

// NodeID returns the node the payload targets, or "" when there is no payload.
func (e *Event) NodeID() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Node()
}

// Clone returns a copy that shares no slices with e. Payload values are
// immutable and are shared.
func (e *Event) Clone() *Event {
	c := *e
	c.Invariants = append([]string(nil), e.Invariants...)
	c.Prev = append([]string(nil), e.Prev...)
	return &c
}
