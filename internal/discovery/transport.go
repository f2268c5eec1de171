package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/roach88/tessera/internal/addr"
)

// MaxDatagram bounds one advert on the wire.
const MaxDatagram = 2048

const (
	defaultSeenCap    = 4096
	defaultSeenWindow = 5 * time.Second
	readPollInterval  = 500 * time.Millisecond
	writeTimeout      = 2 * time.Second
)

// TransportConfig configures a UDP gossip transport.
type TransportConfig struct {
	// Listen is the local address, e.g. ":7946".
	Listen string

	// Peers are the destinations every advert is sent to. A broadcast
	// address works when Broadcast is set.
	Peers []string

	Broadcast bool

	// SeenCap bounds the duplicate-suppression cache and SeenWindow is
	// how long an id stays suppressed.
	SeenCap    int
	SeenWindow time.Duration

	Logger *slog.Logger
}

// Transport sends and receives tip adverts as single UDP datagrams.
// Delivery is best effort; duplicates already seen by this transport are
// dropped before reaching the handler.
type Transport struct {
	conn   net.PacketConn
	logger *slog.Logger
	seen   *seenCache

	mu    sync.Mutex
	dests []net.Addr

	closeOnce sync.Once
}

// Listen opens the transport's socket.
func Listen(ctx context.Context, cfg TransportConfig) (*Transport, error) {
	lc := net.ListenConfig{}
	if cfg.Broadcast {
		lc.Control = enableBroadcast
	}
	conn, err := lc.ListenPacket(ctx, "udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	dests := make([]net.Addr, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		ua, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolve peer %s: %w", p, err)
		}
		dests = append(dests, ua)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.SeenCap
	if capacity <= 0 {
		capacity = defaultSeenCap
	}
	window := cfg.SeenWindow
	if window <= 0 {
		window = defaultSeenWindow
	}
	return &Transport{
		conn:   conn,
		dests:  dests,
		logger: logger,
		seen:   newSeenCache(capacity, window),
	}, nil
}

// Addr returns the bound local address.
func (t *Transport) Addr() net.Addr {
	return t.conn.LocalAddr()
}

// AddPeer adds a destination.
func (t *Transport) AddPeer(a net.Addr) {
	t.mu.Lock()
	t.dests = append(t.dests, a)
	t.mu.Unlock()
}

// Close closes the socket. Receive returns once it is closed.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	return err
}

// Send writes the advert to every destination. It reports the first
// error but still attempts every destination.
func (t *Transport) Send(ctx context.Context, a TipAdvert) error {
	data, err := a.Encode()
	if err != nil {
		return fmt.Errorf("encode advert: %w", err)
	}
	if len(data) > MaxDatagram {
		return fmt.Errorf("advert is %d bytes, limit %d", len(data), MaxDatagram)
	}
	if id, err := a.ID(); err == nil {
		// Our own adverts echo back over broadcast.
		t.seen.add(id, time.Now())
	}

	t.mu.Lock()
	dests := slices.Clone(t.dests)
	t.mu.Unlock()

	var first error
	for _, dst := range dests {
		if err := ctx.Err(); err != nil {
			return err
		}
		deadline := time.Now().Add(writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		if _, err := t.conn.WriteTo(data, dst); err != nil {
			datagramsTotal.WithLabelValues("out", "error").Inc()
			if first == nil {
				first = fmt.Errorf("send to %s: %w", dst, err)
			}
			continue
		}
		datagramsTotal.WithLabelValues("out", "sent").Inc()
	}
	return first
}

// Receive reads datagrams until ctx is done or the transport is closed,
// calling handle for each new well-formed advert. Malformed datagrams are
// counted and dropped.
func (t *Transport) Receive(ctx context.Context, handle func(TipAdvert)) error {
	buf := make([]byte, MaxDatagram+1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if n > MaxDatagram {
			datagramsTotal.WithLabelValues("in", "oversize").Inc()
			continue
		}

		a, err := DecodeAdvert(buf[:n])
		if err != nil {
			datagramsTotal.WithLabelValues("in", "malformed").Inc()
			t.logger.Debug("dropped datagram", "from", from, "error", err)
			continue
		}
		id, err := a.ID()
		if err != nil {
			datagramsTotal.WithLabelValues("in", "malformed").Inc()
			continue
		}
		if !t.seen.add(id, time.Now()) {
			datagramsTotal.WithLabelValues("in", "duplicate").Inc()
			continue
		}
		datagramsTotal.WithLabelValues("in", "accepted").Inc()
		handle(a)
	}
}

// seenCache remembers recent advert ids, evicting the oldest. An id seen
// longer ago than the window counts as new again, so periodic
// re-advertisement of an unchanged tip still refreshes liveness.
type seenCache struct {
	mu     sync.Mutex
	cap    int
	window time.Duration
	ids    map[addr.HashRef]time.Time
	order  []addr.HashRef
}

func newSeenCache(capacity int, window time.Duration) *seenCache {
	return &seenCache{cap: capacity, window: window, ids: make(map[addr.HashRef]time.Time, capacity)}
}

// add records id and reports whether it was new.
func (c *seenCache) add(id addr.HashRef, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.ids[id]
	if ok && now.Sub(at) < c.window {
		return false
	}
	if !ok {
		c.order = append(c.order, id)
	}
	c.ids[id] = now
	if len(c.order) > c.cap {
		delete(c.ids, c.order[0])
		c.order = c.order[1:]
	}
	return true
}
