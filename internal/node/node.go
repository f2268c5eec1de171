package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tessera/internal/discovery"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// Default loop intervals.
const (
	DefaultCheckInterval       = time.Second
	DefaultPruneInterval       = 10 * time.Second
	DefaultReadvertiseInterval = 30 * time.Second
)

// drainTimeout bounds the send of adverts left in the outbox at shutdown.
const drainTimeout = 2 * time.Second

// Clock is the node's time source for advert timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Node.
type Option func(*Node)

// WithTransport sets the gossip transport. Without one the node still
// ingests its own adverts but sends and receives nothing.
func WithTransport(t *discovery.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithIntervals sets the flush check, prune and re-advertise intervals.
// Zero values keep the defaults.
func WithIntervals(check, prune, readvertise time.Duration) Option {
	return func(n *Node) {
		if check > 0 {
			n.checkEvery = check
		}
		if prune > 0 {
			n.pruneEvery = prune
		}
		if readvertise > 0 {
			n.readvertiseEvery = readvertise
		}
	}
}

// Node ties a tile store to a discovery graph. Every durable tip change is
// ingested into the local graph and queued for gossip; adverts received
// from the transport are ingested into the same graph.
type Node struct {
	peerID    string
	store     *tilestore.Store
	graph     *discovery.Graph
	transport *discovery.Transport
	clock     Clock
	logger    *slog.Logger

	checkEvery       time.Duration
	pruneEvery       time.Duration
	readvertiseEvery time.Duration

	outbox *outbox

	tsMu   sync.Mutex
	lastTS int64
}

// New returns a node and registers it as the store's advertiser.
func New(peerID string, store *tilestore.Store, graph *discovery.Graph, opts ...Option) *Node {
	n := &Node{
		peerID:           peerID,
		store:            store,
		graph:            graph,
		clock:            systemClock{},
		logger:           slog.Default(),
		checkEvery:       DefaultCheckInterval,
		pruneEvery:       DefaultPruneInterval,
		readvertiseEvery: DefaultReadvertiseInterval,
		outbox:           newOutbox(),
	}
	for _, opt := range opts {
		opt(n)
	}
	store.SetAdvertiser(n)
	return n
}

// PeerID returns the node's peer id.
func (n *Node) PeerID() string { return n.peerID }

// Store returns the tile store.
func (n *Node) Store() *tilestore.Store { return n.store }

// Graph returns the discovery graph.
func (n *Node) Graph() *discovery.Graph { return n.graph }

// AdvertiseTip implements tilestore.Advertiser.
func (n *Node) AdvertiseTip(key world.TileKey, ix world.Index) {
	if ix.TipEvent == "" || ix.TipSegment == "" {
		return
	}
	a := discovery.TipAdvert{
		PeerID:     n.peerID,
		SpaceID:    key.Space,
		TileID:     key.Tile,
		TipEvent:   ix.TipEvent,
		TipSegment: ix.TipSegment,
		SenderTS:   n.nextTS(),
	}
	if res := n.graph.Ingest(a); res == discovery.Rejected {
		n.logger.Warn("own advert rejected", "space_id", key.Space, "tile_id", key.Tile)
		return
	}
	if n.transport != nil {
		n.outbox.Enqueue(a)
	}
}

// nextTS returns a millisecond timestamp strictly greater than any this
// node has sent, so its own adverts always supersede each other in order.
func (n *Node) nextTS() int64 {
	n.tsMu.Lock()
	defer n.tsMu.Unlock()

	ts := n.clock.Now().UnixMilli()
	if ts <= n.lastTS {
		ts = n.lastTS + 1
	}
	n.lastTS = ts
	return ts
}

// Readvertise re-announces the tip of every durable tile, keeping the node
// alive in remote graphs while nothing is being written.
func (n *Node) Readvertise(ctx context.Context) (int, error) {
	keys, err := n.store.Tiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tiles: %w", err)
	}
	count := 0
	for _, key := range keys {
		ix, err := n.store.TileTip(ctx, key)
		if world.IsNotFound(err) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("tip %s: %w", key, err)
		}
		n.AdvertiseTip(key, ix)
		count++
	}
	return count, nil
}

// Run starts the flush, prune, re-advertise and gossip loops and blocks
// until ctx is done or one of them fails. Buffered events are flushed
// before Run returns, and the tips that flush produces are gossiped.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.store.Run(gctx, n.checkEvery) })
	g.Go(func() error { return n.graph.Run(gctx, n.pruneEvery) })
	g.Go(func() error { return n.readvertiseLoop(gctx) })

	if n.transport != nil {
		g.Go(func() error {
			return n.transport.Receive(gctx, n.receive)
		})
		g.Go(func() error { return n.sendLoop(gctx) })
	}

	n.logger.Info("node running", "peer_id", n.peerID, "gossip", n.transport != nil)
	err := g.Wait()
	n.outbox.Close()

	if n.transport != nil {
		// The send loop may have stopped before the final flush enqueued.
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		sent := n.drain(drainCtx)
		cancel()
		n.logger.Debug("drained outbox", "adverts", sent)
	}
	return err
}

// drain sends every waiting advert and returns how many were sent.
func (n *Node) drain(ctx context.Context) int {
	sent := 0
	for {
		a, ok := n.outbox.TryDequeue()
		if !ok {
			return sent
		}
		if err := n.transport.Send(ctx, a); err != nil {
			n.logger.Warn("advert send failed", "space_id", a.SpaceID, "tile_id", a.TileID, "error", err)
			if ctx.Err() != nil {
				return sent
			}
			continue
		}
		sent++
	}
}

func (n *Node) receive(a discovery.TipAdvert) {
	if a.PeerID == n.peerID {
		return
	}
	res := n.graph.Ingest(a)
	n.logger.Debug("advert received",
		"peer_id", a.PeerID,
		"space_id", a.SpaceID,
		"tile_id", a.TileID,
		"tip_event", a.TipEvent,
		"result", res.String(),
	)
}

func (n *Node) sendLoop(ctx context.Context) error {
	for {
		for {
			a, ok := n.outbox.TryDequeue()
			if !ok {
				break
			}
			if err := n.transport.Send(ctx, a); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// Gossip is best effort; a lost advert is resent on the
				// next tip change or re-advertise tick.
				n.logger.Warn("advert send failed", "space_id", a.SpaceID, "tile_id", a.TileID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case _, open := <-n.outbox.Wait():
			if !open {
				return nil
			}
		}
	}
}

func (n *Node) readvertiseLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.readvertiseEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := n.Readvertise(ctx); err != nil && ctx.Err() == nil {
				n.logger.Warn("re-advertise failed", "error", err)
			}
		}
	}
}
