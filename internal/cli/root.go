package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/config"
	"github.com/roach88/tessera/internal/store"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath string
	DataDir    string
	Backend    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tessera CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tessera",
		Short: "tessera - content-addressed world tiles",
		Long: `A peer for content-addressed, event-sourced world tiles.

Events are appended per tile, flushed into hash-addressed segments,
snapshotted, and advertised to nearby peers over gossip.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to tessera.yaml")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend: sqlite|file|memory (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewTipCommand(opts))
	cmd.AddCommand(NewSegmentsCommand(opts))
	cmd.AddCommand(NewObjectCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewReindexCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewIdentityCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger returns a text logger on w, at Debug level with --verbose.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config, or the defaults without one, and applies the
// flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return config.Config{}, err
	}
	if o.DataDir != "" {
		cfg.Node.DataDir = o.DataDir
	}
	if o.Backend != "" {
		switch o.Backend {
		case config.BackendSQLite, config.BackendFile, config.BackendMemory:
			cfg.Node.Backend = o.Backend
		default:
			return config.Config{}, &config.Error{Path: "node.backend", Message: fmt.Sprintf("unknown backend %q", o.Backend)}
		}
	}
	return cfg, nil
}

// openBackend opens the configured storage backend.
func openBackend(cfg config.Config) (tilestore.Backend, error) {
	switch cfg.Node.Backend {
	case config.BackendMemory:
		return tilestore.NewMemBackend(), nil
	case config.BackendFile:
		return tilestore.OpenFileBackend(cfg.Node.DataDir)
	default:
		if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.Open(filepath.Join(cfg.Node.DataDir, "tessera.db"))
	}
}

// openStore loads config and opens a tile store over its backend. The
// caller must Close the store.
func (o *RootOptions) openStore(cmd *cobra.Command, f *OutputFormatter, extra ...tilestore.Option) (*tilestore.Store, config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, cfg, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, cfg, f.Fail(ExitCommandError, ErrCodeStorage, "failed to open storage", err)
	}
	f.VerboseLog("opened %s backend in %s", cfg.Node.Backend, cfg.Node.DataDir)

	opts := append(cfg.StoreOptions(), tilestore.WithLogger(o.logger(cmd.ErrOrStderr())))
	return tilestore.New(backend, append(opts, extra...)...), cfg, nil
}

// tileArgs parses the <space> <tile> positional arguments.
func tileArgs(args []string) (world.TileKey, error) {
	key := world.TileKey{Space: args[0], Tile: args[1]}
	return key, key.Validate()
}

// storeFailure maps a store error onto the CLI's codes.
func storeFailure(f *OutputFormatter, message string, err error) error {
	switch {
	case world.IsNotFound(err):
		return f.Fail(ExitCommandError, ErrCodeNotFound, message, err)
	case world.IsValidationError(err):
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, message, err)
	}
	return f.Fail(ExitCommandError, ErrCodeStorage, message, err)
}
