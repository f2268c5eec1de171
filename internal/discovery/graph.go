package discovery

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// Defaults for Config.
const (
	DefaultMaxPeers        = 1024
	DefaultMaxTiles        = 4096
	DefaultMaxPeersPerTile = 32
	DefaultPeerTTL         = 2 * time.Minute
	DefaultTipTTL          = 5 * time.Minute
	DefaultRecencyWindow   = 60 * time.Second
)

// Score weights.
const (
	confidenceWeight = 0.7
	recencyWeight    = 0.3
)

// Config bounds the graph.
type Config struct {
	MaxPeers        int
	MaxTiles        int
	MaxPeersPerTile int
	PeerTTL         time.Duration
	TipTTL          time.Duration

	// RecencyWindow is the age at which a tip's recency score reaches zero.
	RecencyWindow time.Duration
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		MaxPeers:        DefaultMaxPeers,
		MaxTiles:        DefaultMaxTiles,
		MaxPeersPerTile: DefaultMaxPeersPerTile,
		PeerTTL:         DefaultPeerTTL,
		TipTTL:          DefaultTipTTL,
		RecencyWindow:   DefaultRecencyWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPeers <= 0 {
		c.MaxPeers = d.MaxPeers
	}
	if c.MaxTiles <= 0 {
		c.MaxTiles = d.MaxTiles
	}
	if c.MaxPeersPerTile <= 0 {
		c.MaxPeersPerTile = d.MaxPeersPerTile
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = d.PeerTTL
	}
	if c.TipTTL <= 0 {
		c.TipTTL = d.TipTTL
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = d.RecencyWindow
	}
	return c
}

// Clock is the graph's time source. All ages are measured on it, never on
// sender timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Graph.
type Option func(*Graph)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(g *Graph) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// IngestResult is the outcome of Ingest.
type IngestResult int

const (
	// Applied means the advert replaced or created the peer's tip record.
	Applied IngestResult = iota + 1
	// Stale means the advert is older than the stored tip and was ignored.
	Stale
	// Duplicate means the advert repeats the stored tip; only liveness
	// was refreshed.
	Duplicate
	// Rejected means the advert failed validation.
	Rejected
)

func (r IngestResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Peer is what the graph knows about one peer.
type Peer struct {
	ID       string    `json:"peer_id"`
	LastSeen time.Time `json:"last_seen"`
	Geo      *GeoHint  `json:"geo_hint,omitempty"`
	RSSI     *float64  `json:"rssi_hint,omitempty"`
	SNR      *float64  `json:"snr_hint,omitempty"`
}

// Tip is one peer's latest advertised tip for a tile.
type Tip struct {
	PeerID     string        `json:"peer_id"`
	Tile       world.TileKey `json:"tile"`
	TipEvent   string        `json:"tip_event"`
	TipSegment addr.HashRef  `json:"tip_segment"`
	SenderTS   int64         `json:"sender_ts"`
	Confidence float64       `json:"confidence"`
	LastSeen   time.Time     `json:"last_seen"`

	// Score is computed at query time.
	Score float64 `json:"score"`
}

// Graph is the discovery graph: a bounded, TTL-pruned cache of which peers
// hold which tile tips. It is safe for concurrent use. Losing it loses
// nothing durable; it is rebuilt from live gossip.
type Graph struct {
	cfg    Config
	clock  Clock
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
	tiles map[world.TileKey]map[string]*Tip

	pruning atomic.Bool
}

// New returns an empty graph. Zero fields in cfg take defaults.
func New(cfg Config, opts ...Option) *Graph {
	g := &Graph{
		cfg:    cfg.withDefaults(),
		clock:  systemClock{},
		logger: slog.Default(),
		peers:  make(map[string]*Peer),
		tiles:  make(map[world.TileKey]map[string]*Tip),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Graph) Config() Config {
	return g.cfg
}

// Ingest applies one advert. The tip record for (tile, peer) only moves
// forward: an advert that is not newer than the stored one never replaces
// it, so ingestion commutes regardless of arrival order.
func (g *Graph) Ingest(a TipAdvert) IngestResult {
	if err := a.Validate(); err != nil {
		ingestTotal.WithLabelValues(Rejected.String()).Inc()
		g.logger.Debug("rejected advert", "peer_id", a.PeerID, "error", err)
		return Rejected
	}

	now := g.clock.Now()
	key := a.Tile()

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.peers[a.PeerID]
	if !ok {
		p = &Peer{ID: a.PeerID}
		g.peers[a.PeerID] = p
	}
	p.LastSeen = now
	if a.Geo != nil {
		geo := *a.Geo
		p.Geo = &geo
	}
	if a.RSSI != nil {
		p.RSSI = a.RSSI
	}
	if a.SNR != nil {
		p.SNR = a.SNR
	}

	tips, ok := g.tiles[key]
	if !ok {
		tips = make(map[string]*Tip)
		g.tiles[key] = tips
	}

	result := Applied
	if cur, ok := tips[a.PeerID]; ok {
		switch {
		case cur.SenderTS == a.SenderTS && cur.TipEvent == a.TipEvent && cur.TipSegment == a.TipSegment:
			cur.LastSeen = now
			result = Duplicate
		case !a.Newer(TipAdvert{SenderTS: cur.SenderTS, TipEvent: cur.TipEvent}):
			result = Stale
		}
	}
	if result == Applied {
		tips[a.PeerID] = &Tip{
			PeerID:     a.PeerID,
			Tile:       key,
			TipEvent:   a.TipEvent,
			TipSegment: a.TipSegment,
			SenderTS:   a.SenderTS,
			Confidence: Confidence(a),
			LastSeen:   now,
		}
		g.enforceCapsLocked(key, a.PeerID)
	}

	ingestTotal.WithLabelValues(result.String()).Inc()
	g.updateGaugesLocked()
	return result
}

// enforceCapsLocked evicts the least recently seen entries until every cap
// holds. The entry just written is never the victim.
func (g *Graph) enforceCapsLocked(key world.TileKey, peerID string) {
	tips := g.tiles[key]
	for len(tips) > g.cfg.MaxPeersPerTile {
		victim := oldestTip(tips, peerID)
		delete(tips, victim)
		evictionsTotal.WithLabelValues("tile_peers").Inc()
	}

	for len(g.tiles) > g.cfg.MaxTiles {
		var (
			victim world.TileKey
			oldest time.Time
			found  bool
		)
		for k, ts := range g.tiles {
			if k == key {
				continue
			}
			newest := newestSeen(ts)
			if !found || newest.Before(oldest) || (newest.Equal(oldest) && compareTiles(k, victim) < 0) {
				victim, oldest, found = k, newest, true
			}
		}
		if !found {
			break
		}
		delete(g.tiles, victim)
		evictionsTotal.WithLabelValues("tiles").Inc()
	}

	for len(g.peers) > g.cfg.MaxPeers {
		var victim *Peer
		for id, p := range g.peers {
			if id == peerID {
				continue
			}
			if victim == nil || p.LastSeen.Before(victim.LastSeen) || (p.LastSeen.Equal(victim.LastSeen) && id < victim.ID) {
				victim = p
			}
		}
		if victim == nil {
			break
		}
		g.removePeerLocked(victim.ID)
		evictionsTotal.WithLabelValues("peers").Inc()
	}
}

func oldestTip(tips map[string]*Tip, keep string) string {
	var victim *Tip
	for id, t := range tips {
		if id == keep {
			continue
		}
		if victim == nil || t.LastSeen.Before(victim.LastSeen) || (t.LastSeen.Equal(victim.LastSeen) && id < victim.PeerID) {
			victim = t
		}
	}
	return victim.PeerID
}

func newestSeen(tips map[string]*Tip) time.Time {
	var newest time.Time
	for _, t := range tips {
		if t.LastSeen.After(newest) {
			newest = t.LastSeen
		}
	}
	return newest
}

func (g *Graph) removePeerLocked(id string) {
	delete(g.peers, id)
	for k, tips := range g.tiles {
		delete(tips, id)
		if len(tips) == 0 {
			delete(g.tiles, k)
		}
	}
}

func (g *Graph) updateGaugesLocked() {
	peersGauge.Set(float64(len(g.peers)))
	n := 0
	for _, tips := range g.tiles {
		n += len(tips)
	}
	tipsGauge.Set(float64(n))
}

// score combines confidence with a recency term that decays linearly to
// zero over the recency window.
func (g *Graph) score(t *Tip, now time.Time) float64 {
	age := now.Sub(t.LastSeen)
	recency := 1 - float64(age)/float64(g.cfg.RecencyWindow)
	return confidenceWeight*t.Confidence + recencyWeight*clamp01(recency)
}

// WhoHas returns every known tip for key, best first: by score, then by
// sender timestamp, then by peer id.
func (g *Graph) WhoHas(key world.TileKey) []Tip {
	now := g.clock.Now()

	g.mu.RLock()
	out := make([]Tip, 0, len(g.tiles[key]))
	for _, t := range g.tiles[key] {
		tip := *t
		tip.Score = g.score(t, now)
		out = append(out, tip)
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b Tip) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.SenderTS, a.SenderTS); c != 0 {
			return c
		}
		return cmp.Compare(a.PeerID, b.PeerID)
	})
	return out
}

// BestTip returns the top WhoHas entry.
func (g *Graph) BestTip(key world.TileKey) (Tip, bool) {
	tips := g.WhoHas(key)
	if len(tips) == 0 {
		return Tip{}, false
	}
	return tips[0], true
}

// PeerTiles returns the tips peerID has advertised, ordered by tile.
func (g *Graph) PeerTiles(peerID string) []Tip {
	now := g.clock.Now()

	g.mu.RLock()
	var out []Tip
	for _, tips := range g.tiles {
		if t, ok := tips[peerID]; ok {
			tip := *t
			tip.Score = g.score(t, now)
			out = append(out, tip)
		}
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b Tip) int { return compareTiles(a.Tile, b.Tile) })
	if out == nil {
		out = []Tip{}
	}
	return out
}

// Peers returns every known peer, ordered by id.
func (g *Graph) Peers() []Peer {
	g.mu.RLock()
	out := make([]Peer, 0, len(g.peers))
	for _, p := range g.peers {
		out = append(out, *p)
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b Peer) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// PruneStats counts what one Prune removed.
type PruneStats struct {
	Peers int
	Tips  int
}

// Prune drops peers not seen within PeerTTL, tips not refreshed within
// TipTTL, and tips whose peer is gone.
func (g *Graph) Prune() PruneStats {
	now := g.clock.Now()
	var st PruneStats

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, p := range g.peers {
		if now.Sub(p.LastSeen) > g.cfg.PeerTTL {
			delete(g.peers, id)
			st.Peers++
		}
	}
	for k, tips := range g.tiles {
		for id, t := range tips {
			_, alive := g.peers[id]
			if !alive || now.Sub(t.LastSeen) > g.cfg.TipTTL {
				delete(tips, id)
				st.Tips++
			}
		}
		if len(tips) == 0 {
			delete(g.tiles, k)
		}
	}

	prunedTotal.WithLabelValues("peers").Add(float64(st.Peers))
	prunedTotal.WithLabelValues("tips").Add(float64(st.Tips))
	g.updateGaugesLocked()
	return st
}

// Sweep runs Prune unless a sweep is already in flight, in which case it
// reports false.
func (g *Graph) Sweep() (PruneStats, bool) {
	if !g.pruning.CompareAndSwap(false, true) {
		return PruneStats{}, false
	}
	defer g.pruning.Store(false)
	return g.Prune(), true
}

// Run sweeps every interval until ctx is done.
func (g *Graph) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if st, ok := g.Sweep(); ok && (st.Peers > 0 || st.Tips > 0) {
				g.logger.Debug("pruned discovery graph", "peers", st.Peers, "tips", st.Tips)
			}
		}
	}
}

func compareTiles(a, b world.TileKey) int {
	if c := cmp.Compare(a.Space, b.Space); c != 0 {
		return c
	}
	return cmp.Compare(a.Tile, b.Tile)
}
