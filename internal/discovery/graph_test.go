package discovery

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/testutil"
	"github.com/roach88/tessera/internal/world"
)

var tile1 = world.TileKey{Space: "s1", Tile: "t1"}

func newTestGraph(t *testing.T, cfg Config) (*Graph, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, WithClock(clock), WithLogger(logger)), clock
}

func advert(peer, tipEvent string, ts int64) TipAdvert {
	return TipAdvert{
		PeerID:     peer,
		SpaceID:    tile1.Space,
		TileID:     tile1.Tile,
		TipEvent:   tipEvent,
		TipSegment: addr.Hash([]byte("segment " + tipEvent)),
		SenderTS:   ts,
	}
}

func ptr(v float64) *float64 { return &v }

func TestIngest_NewerWins(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	assert.Equal(t, Applied, g.Ingest(advert("p1", "e100", 100)))
	assert.Equal(t, Stale, g.Ingest(advert("p1", "e50", 50)))
	assert.Equal(t, Applied, g.Ingest(advert("p1", "e150", 150)))

	tips := g.WhoHas(tile1)
	require.Len(t, tips, 1)
	assert.Equal(t, "e150", tips[0].TipEvent)
	assert.Equal(t, int64(150), tips[0].SenderTS)
}

func TestIngest_OrderIndependent(t *testing.T) {
	ads := []TipAdvert{advert("p1", "e100", 100), advert("p1", "e50", 50), advert("p1", "e150", 150)}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			g, _ := newTestGraph(t, Config{})
			for _, i := range order {
				g.Ingest(ads[i])
			}
			tip, ok := g.BestTip(tile1)
			require.True(t, ok)
			assert.Equal(t, "e150", tip.TipEvent)
		})
	}
}

func TestIngest_SameTimestampTieBreak(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	assert.Equal(t, Applied, g.Ingest(advert("p1", "e-b", 100)))
	assert.Equal(t, Stale, g.Ingest(advert("p1", "e-a", 100)))
	assert.Equal(t, Applied, g.Ingest(advert("p1", "e-c", 100)))

	tip, ok := g.BestTip(tile1)
	require.True(t, ok)
	assert.Equal(t, "e-c", tip.TipEvent)
}

func TestIngest_DuplicateRefreshesLiveness(t *testing.T) {
	g, clock := newTestGraph(t, Config{})

	a := advert("p1", "e1", 10)
	require.Equal(t, Applied, g.Ingest(a))
	first := clock.Now()

	clock.Advance(30 * time.Second)
	assert.Equal(t, Duplicate, g.Ingest(a))

	tip, ok := g.BestTip(tile1)
	require.True(t, ok)
	assert.True(t, tip.LastSeen.After(first))
	assert.Equal(t, clock.Now(), g.Peers()[0].LastSeen)
}

func TestIngest_StaleStillRefreshesPeer(t *testing.T) {
	g, clock := newTestGraph(t, Config{})

	require.Equal(t, Applied, g.Ingest(advert("p1", "e2", 20)))
	tipSeen := clock.Now()
	clock.Advance(10 * time.Second)
	require.Equal(t, Stale, g.Ingest(advert("p1", "e1", 10)))

	assert.Equal(t, clock.Now(), g.Peers()[0].LastSeen)
	tip, _ := g.BestTip(tile1)
	assert.Equal(t, tipSeen, tip.LastSeen)
}

func TestIngest_Rejected(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	tests := []struct {
		name   string
		mutate func(*TipAdvert)
	}{
		{"missing peer", func(a *TipAdvert) { a.PeerID = "" }},
		{"missing tip event", func(a *TipAdvert) { a.TipEvent = "" }},
		{"zero timestamp", func(a *TipAdvert) { a.SenderTS = 0 }},
		{"bad tile", func(a *TipAdvert) { a.TileID = "" }},
		{"bad segment ref", func(a *TipAdvert) { a.TipSegment = "md5:abc" }},
		{"latitude out of range", func(a *TipAdvert) { a.Geo = &GeoHint{Lat: 91} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := advert("p1", "e1", 1)
			tt.mutate(&a)
			assert.Equal(t, Rejected, g.Ingest(a))
		})
	}
	assert.Empty(t, g.Peers())
	assert.Empty(t, g.WhoHas(tile1))
}

func TestPrune_PeerTTL(t *testing.T) {
	g, clock := newTestGraph(t, Config{PeerTTL: time.Minute, TipTTL: time.Hour})

	g.Ingest(advert("p1", "e1", 1))
	clock.Advance(40 * time.Second)
	g.Ingest(advert("p2", "e1", 1))
	clock.Advance(30 * time.Second)

	st := g.Prune()
	assert.Equal(t, PruneStats{Peers: 1, Tips: 1}, st)

	tips := g.WhoHas(tile1)
	require.Len(t, tips, 1)
	assert.Equal(t, "p2", tips[0].PeerID)
	assert.Empty(t, g.PeerTiles("p1"))
}

func TestPrune_TipTTL(t *testing.T) {
	g, clock := newTestGraph(t, Config{PeerTTL: time.Hour, TipTTL: time.Minute})
	other := world.TileKey{Space: "s1", Tile: "t2"}

	g.Ingest(advert("p1", "e1", 1))
	clock.Advance(45 * time.Second)
	a := advert("p1", "x1", 2)
	a.TileID = other.Tile
	g.Ingest(a)
	clock.Advance(30 * time.Second)

	st := g.Prune()
	assert.Equal(t, 1, st.Tips)
	assert.Zero(t, st.Peers)
	assert.Empty(t, g.WhoHas(tile1))
	assert.Len(t, g.WhoHas(other), 1)
	assert.Len(t, g.Peers(), 1)
}

func TestSweep_SingleFlight(t *testing.T) {
	g, _ := newTestGraph(t, Config{})
	g.pruning.Store(true)
	_, ran := g.Sweep()
	assert.False(t, ran)

	g.pruning.Store(false)
	_, ran = g.Sweep()
	assert.True(t, ran)
}

func TestCaps_PeersPerTile(t *testing.T) {
	g, clock := newTestGraph(t, Config{MaxPeersPerTile: 2})

	for _, p := range []string{"p1", "p2", "p3"} {
		g.Ingest(advert(p, "e1", 1))
		clock.Advance(time.Second)
	}

	var peers []string
	for _, tip := range g.WhoHas(tile1) {
		peers = append(peers, tip.PeerID)
	}
	assert.ElementsMatch(t, []string{"p2", "p3"}, peers)
}

func TestCaps_Peers(t *testing.T) {
	g, clock := newTestGraph(t, Config{MaxPeers: 2})

	for _, p := range []string{"p1", "p2", "p3"} {
		g.Ingest(advert(p, "e1", 1))
		clock.Advance(time.Second)
	}

	peers := g.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "p2", peers[0].ID)
	assert.Equal(t, "p3", peers[1].ID)
	assert.Empty(t, g.PeerTiles("p1"))
}

func TestCaps_Tiles(t *testing.T) {
	g, clock := newTestGraph(t, Config{MaxTiles: 2})

	for _, id := range []string{"t1", "t2", "t3"} {
		a := advert("p1", "e1", 1)
		a.TileID = id
		g.Ingest(a)
		clock.Advance(time.Second)
	}

	tips := g.PeerTiles("p1")
	require.Len(t, tips, 2)
	assert.Equal(t, "t2", tips[0].Tile.Tile)
	assert.Equal(t, "t3", tips[1].Tile.Tile)
}

func TestWhoHas_ScoreOrder(t *testing.T) {
	g, clock := newTestGraph(t, Config{})

	strong := advert("p-strong", "e1", 1)
	strong.RSSI = ptr(-45)
	weak := advert("p-weak", "e1", 1)
	weak.RSSI = ptr(-95)
	plain := advert("p-plain", "e1", 1)

	g.Ingest(weak)
	g.Ingest(plain)
	g.Ingest(strong)
	clock.Advance(time.Second)

	tips := g.WhoHas(tile1)
	require.Len(t, tips, 3)
	assert.Equal(t, "p-strong", tips[0].PeerID)
	assert.Equal(t, "p-plain", tips[1].PeerID)
	assert.Equal(t, "p-weak", tips[2].PeerID)
	for i := 1; i < len(tips); i++ {
		assert.GreaterOrEqual(t, tips[i-1].Score, tips[i].Score)
	}
}

func TestWhoHas_RecencyDecays(t *testing.T) {
	g, clock := newTestGraph(t, Config{RecencyWindow: time.Minute})

	g.Ingest(advert("p-old", "e1", 1))
	clock.Advance(30 * time.Second)
	g.Ingest(advert("p-new", "e1", 1))

	tips := g.WhoHas(tile1)
	require.Len(t, tips, 2)
	assert.Equal(t, "p-new", tips[0].PeerID)
	assert.InDelta(t, 0.7*NeutralConfidence+0.3, tips[0].Score, 1e-9)
	assert.InDelta(t, 0.7*NeutralConfidence+0.15, tips[1].Score, 1e-9)

	clock.Advance(5 * time.Minute)
	for _, tip := range g.WhoHas(tile1) {
		assert.InDelta(t, 0.7*NeutralConfidence, tip.Score, 1e-9)
	}
}

func TestWhoHas_TieBreaks(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	g.Ingest(advert("p-b", "e1", 5))
	g.Ingest(advert("p-a", "e1", 5))
	g.Ingest(advert("p-c", "e1", 9))

	tips := g.WhoHas(tile1)
	require.Len(t, tips, 3)
	assert.Equal(t, []string{"p-c", "p-a", "p-b"}, []string{tips[0].PeerID, tips[1].PeerID, tips[2].PeerID})
}

func TestBestTip_UnknownTile(t *testing.T) {
	g, _ := newTestGraph(t, Config{})
	_, ok := g.BestTip(tile1)
	assert.False(t, ok)
	assert.Empty(t, g.WhoHas(tile1))
}

func TestPeerTiles(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	for _, id := range []string{"t3", "t1", "t2"} {
		a := advert("p1", "e-"+id, 1)
		a.TileID = id
		g.Ingest(a)
	}
	g.Ingest(advert("p2", "e1", 1))

	tips := g.PeerTiles("p1")
	require.Len(t, tips, 3)
	for i, want := range []string{"t1", "t2", "t3"} {
		assert.Equal(t, want, tips[i].Tile.Tile)
	}
	assert.Empty(t, g.PeerTiles("nobody"))
}

func TestIngest_PeerHintsKept(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	a := advert("p1", "e1", 1)
	a.Geo = &GeoHint{Lat: 1, Lon: 2, RadiusM: 5}
	a.SNR = ptr(12)
	g.Ingest(a)
	g.Ingest(advert("p1", "e2", 2))

	peers := g.Peers()
	require.Len(t, peers, 1)
	require.NotNil(t, peers[0].Geo)
	assert.Equal(t, 5.0, peers[0].Geo.RadiusM)
	require.NotNil(t, peers[0].SNR)
	assert.Equal(t, 12.0, *peers[0].SNR)
}

func TestGraph_ConcurrentIngest(t *testing.T) {
	g, _ := newTestGraph(t, Config{})

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for ts := int64(1); ts <= 50; ts++ {
				g.Ingest(advert(fmt.Sprintf("p%d", p), fmt.Sprintf("e%03d", ts), ts))
				g.WhoHas(tile1)
			}
		}(p)
	}
	wg.Wait()

	tips := g.WhoHas(tile1)
	require.Len(t, tips, 8)
	for _, tip := range tips {
		assert.Equal(t, "e050", tip.TipEvent)
	}
}
