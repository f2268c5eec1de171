package node

import (
	"sync"

	"github.com/roach88/tessera/internal/discovery"
	"github.com/roach88/tessera/internal/world"
)

// outbox is a thread-safe FIFO of adverts waiting to be gossiped, at most
// one per tile. Enqueuing a tile that is already waiting replaces its
// advert in place, so a burst of flushes on one tile sends only the last
// tip and never starves other tiles.
//
// The store's flush path enqueues while the send loop dequeues; the
// signal channel (buffered, size 1) lets the send loop wait with select
// alongside ctx.Done().
type outbox struct {
	mu      sync.Mutex
	order   []world.TileKey
	pending map[world.TileKey]discovery.TipAdvert
	closed  bool
	signal  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		pending: make(map[world.TileKey]discovery.TipAdvert),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds or replaces the advert for its tile. It never blocks and
// returns false once the outbox is closed.
func (q *outbox) Enqueue(a discovery.TipAdvert) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	key := a.Tile()
	if _, waiting := q.pending[key]; !waiting {
		q.order = append(q.order, key)
	}
	q.pending[key] = a

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the oldest waiting advert without blocking.
func (q *outbox) TryDequeue() (discovery.TipAdvert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return discovery.TipAdvert{}, false
	}
	key := q.order[0]
	if len(q.order) == 1 {
		q.order = q.order[:0]
	} else {
		q.order = q.order[1:]
	}
	a := q.pending[key]
	delete(q.pending, key)
	return a, true
}

// Wait returns a channel that signals when adverts may be waiting. It is
// closed by Close.
func (q *outbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of waiting tiles.
func (q *outbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close stops accepting adverts and wakes the waiter.
func (q *outbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
