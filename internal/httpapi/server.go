package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/discovery"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPeerID sets the peer id reported by /health.
func WithPeerID(id string) Option {
	return func(s *Server) { s.peerID = id }
}

// Server exposes the tile store and discovery graph over HTTP.
type Server struct {
	store  *tilestore.Store
	graph  *discovery.Graph
	peerID string
	logger *slog.Logger
	router chi.Router
}

// New returns a server over store and graph. graph may be nil, in which
// case the discovery routes answer 404.
func New(store *tilestore.Store, graph *discovery.Graph, opts ...Option) *Server {
	s := &Server{
		store:  store,
		graph:  graph,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Route("/spaces/{space}/tiles/{tile}", func(t chi.Router) {
			t.Get("/tip", s.handleTip)
			t.Post("/segments", s.handleSegments)
			t.Post("/events", s.handleAppend)
			t.Get("/state", s.handleState)
			t.Get("/peers", s.handleWhoHas)
			t.Get("/best", s.handleBestTip)
		})
		api.Get("/objects/{hash}", s.handleObject)
		api.Get("/peers", s.handlePeers)
		api.Get("/peers/{peer}/tiles", s.handlePeerTiles)
	})
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("http listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func tileKey(r *http.Request) world.TileKey {
	return world.TileKey{Space: chi.URLParam(r, "space"), Tile: chi.URLParam(r, "tile")}
}

// validTile writes a 400 and reports false when the path names no valid
// tile.
func validTile(w http.ResponseWriter, key world.TileKey) bool {
	if err := key.Validate(); err != nil {
		writeStoreError(w, err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "peer_id": s.peerID})
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	key := tileKey(r)
	if !validTile(w, key) {
		return
	}
	ix, err := s.store.TileTip(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ix)
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	key := tileKey(r)
	if !validTile(w, key) {
		return
	}
	body, ok := readValue(w, r)
	if !ok {
		return
	}
	var after string
	if v, present := body["after_event"]; present {
		switch a := v.(type) {
		case addr.String:
			after = string(a)
		case addr.Null:
		default:
			writeError(w, http.StatusBadRequest, codeBadRequest, "after_event must be a string")
			return
		}
	}

	entries, err := s.store.SegmentsSince(r.Context(), key, after)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []world.ManifestEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	ref := addr.HashRef(chi.URLParam(r, "hash"))
	data, err := s.store.GetObject(r.Context(), ref)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"`+string(ref)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleAppend buffers a batch of events. Every event must name the tile
// in the path; the whole batch is accepted or rejected.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	key := tileKey(r)
	if !validTile(w, key) {
		return
	}
	body, ok := readValue(w, r)
	if !ok {
		return
	}
	for field, want := range map[string]string{"space_id": key.Space, "tile_id": key.Tile} {
		if v, present := body[field]; present {
			if got, _ := v.(addr.String); string(got) != want {
				writeStoreError(w, &world.ValidationError{
					Code:    world.CodeTileMismatch,
					Field:   field,
					Message: fmt.Sprintf("body %s does not match path", field),
				})
				return
			}
		}
	}
	raw, ok := body["events"].(addr.Array)
	if !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, "events must be an array")
		return
	}

	events := make([]*world.Event, 0, len(raw))
	for _, v := range raw {
		ev, err := world.EventFromValue(v)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		events = append(events, ev)
	}

	n, err := s.store.Append(r.Context(), key, events)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "appended": n})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	key := tileKey(r)
	if !validTile(w, key) {
		return
	}
	materialize := s.store.Materialize
	if r.URL.Query().Get("full") == "true" {
		materialize = s.store.MaterializeFull
	}
	replica, err := materialize(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	hash, err := nf.StateHash(replica)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("X-State-Hash", string(hash))
	writeJSON(w, http.StatusOK, replica.Normal())
}

func (s *Server) discoveryEnabled(w http.ResponseWriter) bool {
	if s.graph == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "discovery is not enabled")
		return false
	}
	return true
}

func (s *Server) handleWhoHas(w http.ResponseWriter, r *http.Request) {
	if !s.discoveryEnabled(w) {
		return
	}
	key := tileKey(r)
	if !validTile(w, key) {
		return
	}
	writeJSON(w, http.StatusOK, s.graph.WhoHas(key))
}

func (s *Server) handleBestTip(w http.ResponseWriter, r *http.Request) {
	if !s.discoveryEnabled(w) {
		return
	}
	key := tileKey(r)
	if !validTile(w, key) {
		return
	}
	tip, ok := s.graph.BestTip(key)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("no peer advertises %s", key))
		return
	}
	writeJSON(w, http.StatusOK, tip)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if !s.discoveryEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.graph.Peers())
}

func (s *Server) handlePeerTiles(w http.ResponseWriter, r *http.Request) {
	if !s.discoveryEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.graph.PeerTiles(chi.URLParam(r, "peer")))
}
