package nf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/testutil"
	"github.com/roach88/tessera/internal/world"
)

func builder() *testutil.EventBuilder {
	return testutil.NewEventBuilder("s", "t")
}

func materialize(t *testing.T, events ...*world.Event) *Replica {
	t.Helper()
	r, err := Materialize(nil, events)
	require.NoError(t, err)
	return r
}

func stateHash(t *testing.T, r *Replica) addr.HashRef {
	t.Helper()
	h, err := StateHash(r)
	require.NoError(t, err)
	return h
}

func TestNormalizeAddsRootInvariants(t *testing.T) {
	ev := builder().Create("e1", 1, "A", "cube")
	ev.Invariants = []string{"custom", "append_only", "custom"}
	ev.Prev = []string{"p2", "p1", "p2"}

	n, err := Normalize(ev)
	require.NoError(t, err)

	assert.Equal(t, []string{"append_only", "authority_partition", "custom", "tombstone_retention"}, n.Invariants)
	assert.Equal(t, []string{"p1", "p2"}, n.Prev)
	assert.Equal(t, []string{"custom", "append_only", "custom"}, ev.Invariants, "input must not be modified")
}

func TestValidateRejects(t *testing.T) {
	b := builder()
	tests := []struct {
		name   string
		mutate func(*world.Event)
		code   world.ValidationCode
		field  string
	}{
		{"missing id", func(e *world.Event) { e.ID = "" }, world.CodeMissingField, "event_id"},
		{"missing space", func(e *world.Event) { e.SpaceID = "" }, world.CodeMissingField, "space_id"},
		{"missing tile", func(e *world.Event) { e.TileID = "" }, world.CodeMissingField, "tile_id"},
		{"missing actor", func(e *world.Event) { e.ActorID = "" }, world.CodeMissingField, "actor_id"},
		{"missing authority", func(e *world.Event) { e.Scope.Authority = "" }, world.CodeMissingField, "scope.authority"},
		{"zero ts", func(e *world.Event) { e.TS = 0 }, world.CodeInvalidField, "ts"},
		{"bad authority", func(e *world.Event) { e.Scope.Authority = "oracle" }, world.CodeInvalidField, "scope.authority"},
		{"bad realm", func(e *world.Event) { e.Scope.Realm = "galaxy" }, world.CodeInvalidField, "scope.realm"},
		{"bad boundary", func(e *world.Event) { e.Scope.Boundary = "nowhere" }, world.CodeInvalidField, "scope.boundary"},
		{"unknown op", func(e *world.Event) { e.Op = "teleport" }, world.CodeUnknownOperation, "operation"},
		{"op mismatch", func(e *world.Event) { e.Op = world.OpDeleteNode }, world.CodeInvalidField, "payload"},
		{"nil payload", func(e *world.Event) { e.Payload = nil }, world.CodeMissingField, "payload"},
		{"missing node", func(e *world.Event) { e.Payload = &world.CreateNode{} }, world.CodeMissingField, "payload.node_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := b.Create("e1", 1, "A", "cube")
			tt.mutate(ev)

			_, err := Normalize(ev)
			require.Error(t, err)

			var ve *world.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateLinkFields(t *testing.T) {
	b := builder()

	_, err := Normalize(b.Link("e1", 1, "A", "", "B"))
	assert.Equal(t, world.CodeMissingField, world.ValidationCodeOf(err))

	_, err = Normalize(b.Unlink("e2", 2, "A", "parent", "", ""))
	assert.Equal(t, world.CodeMissingField, world.ValidationCodeOf(err))

	_, err = Normalize(b.Unlink("e3", 3, "A", "", "", "e1"))
	assert.NoError(t, err, "a tag alone identifies the link")
}

func TestValidateRejectsNonFinite(t *testing.T) {
	ev := builder().Props("e1", 1, "A", addr.Object{"x": addr.Number(posInf())})

	_, err := Normalize(ev)
	require.Error(t, err)
	assert.True(t, addr.IsCanonicalizationError(err))
}

func TestNormalizeAllDuplicates(t *testing.T) {
	b := builder()
	a := b.Create("e1", 1, "A", "cube")

	out, err := NormalizeAll([]*world.Event{a, a.Clone()})
	require.NoError(t, err)
	assert.Len(t, out, 1, "exact duplicates collapse")

	conflicting := b.Create("e1", 1, "A", "sphere")
	_, err = NormalizeAll([]*world.Event{a, conflicting})
	assert.Equal(t, world.CodeDuplicateEvent, world.ValidationCodeOf(err))
}

func TestOrderDeterministicByTimestampThenID(t *testing.T) {
	b := builder()
	events := []*world.Event{
		b.Create("c", 2, "A", "x"),
		b.Create("b", 1, "B", "x"),
		b.Create("a", 2, "C", "x"),
	}

	ordered, err := OrderDeterministic(events)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(ordered))
}

func TestOrderDeterministicHonorsPredecessors(t *testing.T) {
	b := builder()
	first := b.Create("z-first", 5, "A", "x")
	second := b.Props("a-second", 1, "A", addr.Object{"k": addr.String("v")})
	second.Prev = []string{"z-first"}
	external := b.Props("m-external", 3, "A", nil)
	external.Prev = []string{"not-in-batch"}

	ordered, err := OrderDeterministic([]*world.Event{second, external, first})
	require.NoError(t, err)

	// The predecessor comes first even though its timestamp is later.
	assert.Equal(t, []string{"m-external", "z-first", "a-second"}, ids(ordered))
}

func TestOrderDeterministicDetectsCycle(t *testing.T) {
	b := builder()
	x := b.Create("x", 1, "A", "k")
	y := b.Create("y", 2, "B", "k")
	x.Prev = []string{"y"}
	y.Prev = []string{"x"}

	_, err := OrderDeterministic([]*world.Event{x, y})
	assert.Equal(t, world.CodeCausalCycle, world.ValidationCodeOf(err))
}

func TestPruneNoOps(t *testing.T) {
	b := builder()
	events := []*world.Event{
		b.Move("e1", 1, "A", world.Vec3{1, 0, 0}),
		b.Move("e2", 2, "A", world.Vec3{1, 0, 0}),
		b.Move("e3", 3, "B", world.Vec3{1, 0, 0}),
		b.Props("e4", 4, "A", nil),
		b.Move("e5", 5, "A", world.Vec3{1, 0, 0}),
		b.Move("e6", 6, "A", world.Vec3{2, 0, 0}),
		b.Move("e7", 7, "A", world.Vec3{1, 0, 0}),
		b.Derived().Move("e8", 8, "A", world.Vec3{1, 0, 0}),
	}

	pruned := PruneNoOps(events)
	assert.Equal(t, []string{"e1", "e3", "e4", "e6", "e7", "e8"}, ids(pruned))
}

func TestTraceHashNoOpIdempotence(t *testing.T) {
	b := builder()
	create := b.Create("e1", 1, "A", "cube")
	move := b.Move("e2", 2, "A", world.Vec3{3, 1, 4})
	again := b.Move("e3", 3, "A", world.Vec3{3, 1, 4})

	once, err := TraceHash([]*world.Event{create, move})
	require.NoError(t, err)
	twice, err := TraceHash([]*world.Event{create, move, again})
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestReplayDeterminismReversedArrival(t *testing.T) {
	b := builder()
	create := b.Create("e1", 1, "A", "cube")
	props := b.Props("e2", 2, "A", addr.Object{"color": addr.String("red")})

	forward := materialize(t, create, props)
	reverse := materialize(t, props, create)

	assert.Equal(t, stateHash(t, forward), stateHash(t, reverse))

	th1, err := TraceHash([]*world.Event{create, props})
	require.NoError(t, err)
	th2, err := TraceHash([]*world.Event{props, create})
	require.NoError(t, err)
	assert.Equal(t, th1, th2)
}

func TestReplayDeterminismRandomPermutations(t *testing.T) {
	events := mixedHistory()

	want, err := TraceHash(events)
	require.NoError(t, err)
	wantState := stateHash(t, materialize(t, events...))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		perm := make([]*world.Event, len(events))
		for j, k := range rng.Perm(len(events)) {
			perm[j] = events[k]
		}

		got, err := TraceHash(perm)
		require.NoError(t, err)
		assert.Equal(t, want, got, "permutation %d", i)
		assert.Equal(t, wantState, stateHash(t, materialize(t, perm...)), "permutation %d", i)
	}
}

func TestTombstoneRetention(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Create("e1", 1, "X", "cube"),
		b.Delete("e2", 2, "X"),
	)

	node, ok := r.Normal().Node("X")
	require.True(t, ok, "deleted node must remain in the normal form")
	assert.True(t, node.Deleted)
	assert.Equal(t, "cube", node.Kind)
}

func TestTombstoneIsSticky(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Create("e1", 1, "X", "cube"),
		b.Delete("e2", 2, "X"),
		b.Create("e3", 3, "X", "sphere"),
	)

	node, ok := r.Normal().Node("X")
	require.True(t, ok)
	assert.True(t, node.Deleted)
}

func TestPropertiesLastWriteWins(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Create("e1", 1, "A", "cube"),
		b.Props("e3", 5, "A", addr.Object{"color": addr.String("blue")}),
		b.Props("e2", 5, "A", addr.Object{"color": addr.String("red"), "size": addr.Number(2)}),
		b.Props("e4", 3, "A", addr.Object{"size": addr.Number(9)}),
	)

	node, _ := r.Normal().Node("A")
	assert.Equal(t, addr.String("blue"), node.Props["color"], "same ts: greater event id wins")
	assert.Equal(t, addr.Number(2), node.Props["size"], "later ts wins over later arrival")
}

func TestLinksORSet(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Create("e1", 1, "A", "group"),
		b.Link("e2", 2, "A", "contains", "C"),
		b.Link("e3", 3, "A", "contains", "B"),
		b.Link("e4", 4, "A", "contains", "C"),
		b.Link("e5", 5, "A", "anchors", "Z"),
		b.Unlink("e6", 6, "A", "contains", "C", "e2"),
	)

	node, _ := r.Normal().Node("A")
	assert.Equal(t, []Link{
		{Relation: "anchors", Target: "Z"},
		{Relation: "contains", Target: "B"},
		{Relation: "contains", Target: "C"},
	}, node.Links, "tagged unlink removes only the e2 instance")
}

func TestLinksRemoveBeforeAdd(t *testing.T) {
	b := builder()
	unlink := b.Unlink("e1", 1, "A", "contains", "B", "e9")
	link := b.Link("e9", 9, "A", "contains", "B")

	r := NewReplica()
	require.NoError(t, r.ApplyAll([]*world.Event{unlink, link}))

	node, _ := r.Normal().Node("A")
	assert.Empty(t, node.Links, "a removed tag stays removed when its add arrives later")
}

func TestLinksUnlinkByRelationTarget(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Link("e1", 1, "A", "contains", "B"),
		b.Link("e2", 2, "A", "contains", "B"),
		b.Link("e3", 3, "A", "contains", "C"),
		b.Unlink("e4", 4, "A", "contains", "B", ""),
	)

	node, _ := r.Normal().Node("A")
	assert.Equal(t, []Link{{Relation: "contains", Target: "C"}}, node.Links)
}

func TestAuthorityPartition(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Create("e1", 1, "A", "cube"),
		b.Move("e2", 2, "A", world.Vec3{1, 1, 1}),
		b.Derived().Move("e3", 3, "A", world.Vec3{9, 9, 9}),
	)

	ns := r.Normal()
	src, ok := ns.Node("A")
	require.True(t, ok)
	assert.Equal(t, world.Vec3{1, 1, 1}, src.Transform.Position, "derived writes never reach source")

	require.Len(t, ns.Derived, 1)
	assert.Equal(t, world.Vec3{9, 9, 9}, ns.Derived[0].Transform.Position)
}

func TestSnapshotEquivalence(t *testing.T) {
	events := mixedHistory()
	split := len(events) / 2

	base := materialize(t, events[:split]...)

	// Persist the replica and read it back as a snapshot would be.
	data, err := addr.Canonicalize(base)
	require.NoError(t, err)
	parsed, err := addr.ParseJSON(data)
	require.NoError(t, err)
	restored, err := ReplicaFromValue(parsed)
	require.NoError(t, err)

	data2, err := addr.Canonicalize(restored)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(data2), "replica must round-trip losslessly")

	incremental, err := Materialize(restored, events[split:])
	require.NoError(t, err)
	full := materialize(t, events...)

	eq, err := Equivalent(incremental, full)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestSnapshotEquivalenceLateArrivals(t *testing.T) {
	b := builder()

	tests := []struct {
		name   string
		before []*world.Event
		after  []*world.Event
		want   world.Vec3
	}{
		{
			name:   "late move loses to snapshot state",
			before: []*world.Event{b.Create("e1", 1, "A", "cube"), b.Move("z", 55, "A", world.Vec3{2, 0, 0})},
			after:  []*world.Event{b.Move("x", 50, "A", world.Vec3{1, 0, 0})},
			want:   world.Vec3{2, 0, 0},
		},
		{
			name:   "repeated value straddling snapshot stamp",
			before: []*world.Event{b.Create("e1", 1, "A", "cube"), b.Move("z", 55, "A", world.Vec3{2, 0, 0})},
			after: []*world.Event{
				b.Move("x", 50, "A", world.Vec3{1, 0, 0}),
				b.Move("y", 60, "A", world.Vec3{1, 0, 0}),
			},
			want: world.Vec3{1, 0, 0},
		},
		{
			name:   "late events ahead of the snapshot's writes",
			before: []*world.Event{b.Move("m2", 40, "A", world.Vec3{3, 0, 0}), b.Move("m3", 45, "A", world.Vec3{3, 0, 0})},
			after: []*world.Event{
				b.Create("e1", 1, "A", "cube"),
				b.Move("m1", 30, "A", world.Vec3{3, 0, 0}),
			},
			want: world.Vec3{3, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := materialize(t, tt.before...)
			incremental, err := Materialize(base, tt.after)
			require.NoError(t, err)
			full := materialize(t, append(append([]*world.Event{}, tt.before...), tt.after...)...)

			assert.Equal(t, stateHash(t, full), stateHash(t, incremental))
			n, ok := incremental.Normal().Node("A")
			require.True(t, ok)
			assert.Equal(t, tt.want, n.Transform.Position)
		})
	}
}

func TestMaterializeResolvesStoredDuplicates(t *testing.T) {
	b := builder()
	cube := b.Create("e1", 1, "A", "cube")
	sphere := b.Create("e1", 1, "A", "sphere")

	first := materialize(t, cube, sphere)
	second := materialize(t, sphere, cube)
	assert.Equal(t, stateHash(t, first), stateHash(t, second))

	n, ok := first.Normal().Node("A")
	require.True(t, ok)
	assert.Equal(t, "cube", n.Kind, "smallest canonical encoding wins")
	assert.Equal(t, 1, first.Applied)

	// Appends stay strict.
	_, err := NormalizeAll([]*world.Event{cube, sphere})
	assert.Equal(t, world.CodeDuplicateEvent, world.ValidationCodeOf(err))
}

func TestMaterializeDoesNotModifyBase(t *testing.T) {
	b := builder()
	base := materialize(t, b.Create("e1", 1, "A", "cube"))
	before := stateHash(t, base)

	_, err := Materialize(base, []*world.Event{b.Delete("e2", 2, "A")})
	require.NoError(t, err)
	assert.Equal(t, before, stateHash(t, base))
}

func TestNormalStateCanonicalForm(t *testing.T) {
	b := builder()
	r := materialize(t,
		b.Create("e1", 1, "B", "cube"),
		b.Create("e2", 2, "A", "sphere"),
		b.Geometry("e3", 3, "A", addr.Object{"type": addr.String("mesh")}),
	)

	data, err := addr.Canonicalize(r.Normal())
	require.NoError(t, err)

	expected := `{"derived":[],"nodes":[` +
		`{"deleted":false,"geometry":{"type":"mesh"},"id":"A","kind":"sphere","links":[],"props":{},` +
		`"transform":{"position":[0,0,0],"rotation":[0,0,0],"scale":[1,1,1]}},` +
		`{"deleted":false,"id":"B","kind":"cube","links":[],"props":{},` +
		`"transform":{"position":[0,0,0],"rotation":[0,0,0],"scale":[1,1,1]}}]}`
	assert.Equal(t, expected, string(data))
}

func mixedHistory() []*world.Event {
	b := builder()
	return []*world.Event{
		b.Create("e01", 1, "A", "cube"),
		b.Create("e02", 1, "B", "light"),
		b.Move("e03", 2, "A", world.Vec3{1, 0, 0}),
		b.Props("e04", 3, "A", addr.Object{"color": addr.String("red")}),
		b.Link("e05", 4, "A", "lights", "B"),
		b.Move("e06", 5, "A", world.Vec3{1, 0, 0}),
		b.Props("e07", 6, "B", addr.Object{"lumens": addr.Number(800)}),
		b.Media("e08", 7, "B", addr.String("sha256:0000")),
		b.Derived().Move("e09", 8, "A", world.Vec3{0.5, 0, 0}),
		b.Unlink("e10", 9, "A", "lights", "B", "e05"),
		b.Props("e11", 10, "A", addr.Object{"color": addr.String("green")}),
		b.Delete("e12", 11, "B"),
	}
}

func ids(events []*world.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}
