package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tessera/internal/discovery"
	"github.com/roach88/tessera/internal/httpapi"
	"github.com/roach88/tessera/internal/node"
	"github.com/roach88/tessera/internal/tilestore"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen       string
	GossipListen string
	GossipPeers  []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a tessera peer",
		Long: `Run a peer: the tile store with its flush loop, the HTTP API, the
discovery graph and, when gossip.listen is set, the UDP advert transport.

Buffered events are flushed on SIGINT or SIGTERM before the peer exits.

Example:
  tessera serve --config tessera.yaml
  tessera serve --data-dir ./data --listen :8080 --gossip-listen :7946 --gossip-peer 10.0.0.7:7946`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides http.listen)")
	cmd.Flags().StringVar(&opts.GossipListen, "gossip-listen", "", "UDP gossip listen address (overrides gossip.listen)")
	cmd.Flags().StringArrayVar(&opts.GossipPeers, "gossip-peer", nil, "additional gossip destination (repeatable)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if opts.Listen != "" {
		cfg.HTTP.Listen = opts.Listen
	}
	if opts.GossipListen != "" {
		cfg.Gossip.Listen = opts.GossipListen
	}
	cfg.Gossip.Peers = append(cfg.Gossip.Peers, opts.GossipPeers...)

	// Use the command's context if available (for testing).
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	backend, err := openBackend(cfg)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to open storage", err)
	}
	st := tilestore.New(backend, append(cfg.StoreOptions(), tilestore.WithLogger(logger))...)
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing storage", "error", closeErr)
		}
	}()
	logger.Info("storage ready", "backend", cfg.Node.Backend, "data_dir", cfg.Node.DataDir)

	graph := discovery.New(cfg.Graph(), discovery.WithLogger(logger))

	nodeOpts := []node.Option{
		node.WithLogger(logger),
		node.WithIntervals(
			cfg.TileStore.CheckInterval.Std(),
			cfg.Discovery.PruneInterval.Std(),
			cfg.Discovery.ReadvertiseInterval.Std(),
		),
	}
	if cfg.Gossip.Listen != "" {
		tcfg := cfg.Transport()
		tcfg.Logger = logger
		transport, err := discovery.Listen(ctx, tcfg)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, "failed to start gossip", err)
		}
		defer transport.Close()
		logger.Info("gossip listening", "addr", transport.Addr().String(), "peers", len(cfg.Gossip.Peers))
		nodeOpts = append(nodeOpts, node.WithTransport(transport))
	}

	n := node.New(cfg.Node.PeerID, st, graph, nodeOpts...)
	api := httpapi.New(st, graph, httpapi.WithLogger(logger), httpapi.WithPeerID(n.PeerID()))

	fmt.Fprintf(cmd.OutOrStdout(), "Peer %s serving on %s. Press Ctrl-C to stop.\n", n.PeerID(), cfg.HTTP.Listen)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	g.Go(func() error { return api.Serve(gctx, cfg.HTTP.Listen) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return f.Fail(ExitFailure, ErrCodeGeneric, "peer stopped", err)
	}

	logger.Info("peer stopped gracefully", "peer_id", n.PeerID())
	return nil
}
