package node

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/discovery"
)

func tipFor(tile, event string) discovery.TipAdvert {
	return discovery.TipAdvert{PeerID: "me", SpaceID: "s1", TileID: tile, TipEvent: event, SenderTS: 1}
}

func TestOutbox_FIFOAcrossTiles(t *testing.T) {
	q := newOutbox()

	for _, tile := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(tipFor(tile, "e1")))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.TileID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty outbox should return false")
}

func TestOutbox_CoalescesPerTile(t *testing.T) {
	q := newOutbox()

	q.Enqueue(tipFor("A", "e1"))
	q.Enqueue(tipFor("B", "e1"))
	q.Enqueue(tipFor("A", "e2"))
	q.Enqueue(tipFor("A", "e3"))
	assert.Equal(t, 2, q.Len())

	first, _ := q.TryDequeue()
	assert.Equal(t, "A", first.TileID)
	assert.Equal(t, "e3", first.TipEvent, "latest advert replaces the waiting one")

	second, _ := q.TryDequeue()
	assert.Equal(t, "B", second.TileID)

	q.Enqueue(tipFor("A", "e4"))
	last, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "e4", last.TipEvent)
}

func TestOutbox_WaitSignals(t *testing.T) {
	q := newOutbox()

	done := make(chan discovery.TipAdvert)
	go func() {
		<-q.Wait()
		a, ok := q.TryDequeue()
		if ok {
			done <- a
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(tipFor("A", "e1"))

	select {
	case a := <-done:
		assert.Equal(t, "A", a.TileID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestOutbox_Close(t *testing.T) {
	q := newOutbox()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(tipFor("A", "e1")), "enqueue after close should fail")

	select {
	case _, open := <-q.Wait():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("Wait channel not closed")
	}
}

func TestOutbox_ConcurrentEnqueue(t *testing.T) {
	q := newOutbox()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(tipFor(string(rune('a'+i)), "e"))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, q.Len())
}
