package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/world"
)

func TestEventBuilder(t *testing.T) {
	b := NewEventBuilder("s", "t")

	ev := b.Move("e1", 10, "A", world.Vec3{1, 2, 3})
	assert.Equal(t, world.OpUpdateTransform, ev.Op)
	assert.Equal(t, world.AuthoritySource, ev.Scope.Authority)
	assert.Equal(t, "A", ev.NodeID())

	d := b.Derived().Create("e2", 11, "A", "layout")
	assert.Equal(t, world.AuthorityDerived, d.Scope.Authority)
	assert.Equal(t, world.AuthoritySource, b.Authority, "Derived must not modify the receiver")

	_, err := d.Encode()
	require.NoError(t, err)
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "e0001", ids.Next())
	assert.Equal(t, "e0002", ids.Next())

	other := NewSequentialIDs("x")
	assert.Equal(t, "x0001", other.Next())
}
