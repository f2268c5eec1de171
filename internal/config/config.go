// Package config loads and validates the node configuration file.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tessera/internal/discovery"
	"github.com/roach88/tessera/internal/tilestore"
)

//go:embed schema.cue
var schemaSource string

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "5s" or "1m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	HTTP      HTTPConfig      `yaml:"http"`
	TileStore TileStoreConfig `yaml:"tilestore"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Gossip    GossipConfig    `yaml:"gossip"`
}

// NodeConfig identifies the node and its storage.
type NodeConfig struct {
	PeerID  string `yaml:"peer_id"`
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"`
}

// HTTPConfig configures the read/append API.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// TileStoreConfig is the flush and snapshot policy.
type TileStoreConfig struct {
	FlushBytes    int      `yaml:"flush_bytes"`
	FlushInterval Duration `yaml:"flush_interval"`
	SnapshotEvery int      `yaml:"snapshot_every"`
	CheckInterval Duration `yaml:"check_interval"`
}

// DiscoveryConfig bounds the discovery graph.
type DiscoveryConfig struct {
	MaxPeers            int      `yaml:"max_peers"`
	MaxTiles            int      `yaml:"max_tiles"`
	MaxPeersPerTile     int      `yaml:"max_peers_per_tile"`
	PeerTTL             Duration `yaml:"peer_ttl"`
	TipTTL              Duration `yaml:"tip_ttl"`
	PruneInterval       Duration `yaml:"prune_interval"`
	RecencyWindow       Duration `yaml:"recency_window"`
	ReadvertiseInterval Duration `yaml:"readvertise_interval"`
}

// GossipConfig configures the UDP advert transport. An empty Listen
// disables gossip.
type GossipConfig struct {
	Listen     string   `yaml:"listen"`
	Peers      []string `yaml:"peers"`
	Broadcast  bool     `yaml:"broadcast"`
	SeenWindow Duration `yaml:"seen_window"`
}

// Default returns the configuration used when no file is given. PeerID is
// left empty; Load and Parse fill it.
func Default() Config {
	return Config{
		Node: NodeConfig{
			DataDir: "./data",
			Backend: BackendSQLite,
		},
		HTTP: HTTPConfig{Listen: "127.0.0.1:8080"},
		TileStore: TileStoreConfig{
			FlushBytes:    tilestore.DefaultFlushBytes,
			FlushInterval: Duration(tilestore.DefaultFlushInterval),
			SnapshotEvery: tilestore.DefaultSnapshotEvery,
			CheckInterval: Duration(time.Second),
		},
		Discovery: DiscoveryConfig{
			MaxPeers:            discovery.DefaultMaxPeers,
			MaxTiles:            discovery.DefaultMaxTiles,
			MaxPeersPerTile:     discovery.DefaultMaxPeersPerTile,
			PeerTTL:             Duration(discovery.DefaultPeerTTL),
			TipTTL:              Duration(discovery.DefaultTipTTL),
			PruneInterval:       Duration(10 * time.Second),
			RecencyWindow:       Duration(discovery.DefaultRecencyWindow),
			ReadvertiseInterval: Duration(30 * time.Second),
		},
		Gossip: GossipConfig{
			SeenWindow: Duration(5 * time.Second),
		},
	}
}

// Graph returns the discovery graph bounds.
func (c Config) Graph() discovery.Config {
	return discovery.Config{
		MaxPeers:        c.Discovery.MaxPeers,
		MaxTiles:        c.Discovery.MaxTiles,
		MaxPeersPerTile: c.Discovery.MaxPeersPerTile,
		PeerTTL:         c.Discovery.PeerTTL.Std(),
		TipTTL:          c.Discovery.TipTTL.Std(),
		RecencyWindow:   c.Discovery.RecencyWindow.Std(),
	}
}

// StoreOptions returns the tile store flush policy.
func (c Config) StoreOptions() []tilestore.Option {
	return []tilestore.Option{
		tilestore.WithFlushBytes(c.TileStore.FlushBytes),
		tilestore.WithFlushInterval(c.TileStore.FlushInterval.Std()),
		tilestore.WithSnapshotEvery(c.TileStore.SnapshotEvery),
	}
}

// Transport returns the gossip transport settings.
func (c Config) Transport() discovery.TransportConfig {
	return discovery.TransportConfig{
		Listen:     c.Gossip.Listen,
		Peers:      c.Gossip.Peers,
		Broadcast:  c.Gossip.Broadcast,
		SeenWindow: c.Gossip.SeenWindow.Std(),
	}
}

// Error is a configuration problem, with the offending path when known.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates data against the schema, then decodes it over the
// defaults. A missing peer id is generated.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, &Error{Message: err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateSchema(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &Error{Message: err.Error()}
	}

	if cfg.Node.PeerID == "" {
		cfg.Node.PeerID = NewPeerID()
	}
	return cfg, nil
}

// NewPeerID returns a fresh time-ordered peer id.
func NewPeerID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		errs := cueerrors.Errors(err)
		if len(errs) == 0 {
			return &Error{Message: err.Error()}
		}
		first := errs[0]
		return &Error{Path: pathString(first.Path()), Message: trimMessage(first)}
	}
	return nil
}

func pathString(p []string) string {
	return strings.Join(p, ".")
}

func trimMessage(err cueerrors.Error) string {
	format, args := err.Msg()
	return fmt.Sprintf(format, args...)
}
