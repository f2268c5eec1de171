package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a tile store test scenario.
// Scenarios append events to one tile, drive flushes and snapshots, and
// assert on the resulting manifest, index and materialized state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tile is the tile every step writes to. Events that omit space_id or
	// tile_id inherit it.
	Tile TileSpec `yaml:"tile"`

	// Store overrides the flush and snapshot policy.
	Store StoreSpec `yaml:"store,omitempty"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final manifest, index and state.
	Assertions []Assertion `yaml:"assertions"`
}

// TileSpec names the scenario's tile.
type TileSpec struct {
	Space string `yaml:"space"`
	Tile  string `yaml:"tile"`
}

// StoreSpec is the store policy of a scenario. Zero values keep the store
// defaults, except SnapshotEvery, which is taken as given when set.
type StoreSpec struct {
	FlushBytes    int    `yaml:"flush_bytes,omitempty"`
	FlushInterval string `yaml:"flush_interval,omitempty"`
	SnapshotEvery *int   `yaml:"snapshot_every,omitempty"`
}

// Step is one action. Exactly one of its action fields is set.
type Step struct {
	// Append buffers a batch of events, given as event objects.
	Append []map[string]any `yaml:"append,omitempty"`

	// Flush flushes the tile now.
	Flush bool `yaml:"flush,omitempty"`

	// FlushDue runs one periodic flusher sweep.
	FlushDue bool `yaml:"flush_due,omitempty"`

	// Snapshot writes a snapshot now.
	Snapshot bool `yaml:"snapshot,omitempty"`

	// Advance moves the store clock forward by a Go duration.
	Advance string `yaml:"advance,omitempty"`

	// Reopen replaces the store with a fresh one over the same backend,
	// dropping every buffered event.
	Reopen bool `yaml:"reopen,omitempty"`

	// Expect checks the step's outcome. Nil expects success.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Appended is the number of events an append step must accept.
	Appended *int `yaml:"appended,omitempty"`

	// Flushed reports whether a flush or flush_due step must write a segment.
	Flushed *bool `yaml:"flushed,omitempty"`

	// Error is the validation code the step must fail with.
	Error string `yaml:"error,omitempty"`
}

// Step operation names, as recorded in results.
const (
	OpAppend   = "append"
	OpFlush    = "flush"
	OpFlushDue = "flush_due"
	OpSnapshot = "snapshot"
	OpAdvance  = "advance"
	OpReopen   = "reopen"
)

// Op returns the step's operation name, or "" when the step sets no
// action or more than one.
func (s Step) Op() string {
	var ops []string
	if s.Append != nil {
		ops = append(ops, OpAppend)
	}
	if s.Flush {
		ops = append(ops, OpFlush)
	}
	if s.FlushDue {
		ops = append(ops, OpFlushDue)
	}
	if s.Snapshot {
		ops = append(ops, OpSnapshot)
	}
	if s.Advance != "" {
		ops = append(ops, OpAdvance)
	}
	if s.Reopen {
		ops = append(ops, OpReopen)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Assertion validates the final store state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "segments": manifest length equals Count
	// - "manifest": entry Index covers FromEvent..ToEvent (and Count events when set)
	// - "tip": the index tip event equals Event
	// - "snapshot": the index's last snapshot ends at Event
	// - "buffered": Count events remain unflushed
	// - "node": node Node matches Expect (subset match)
	// - "node_count": the node table has Count nodes
	// - "verify": stored history passes verification
	// - "replay_stable": replaying the durable events in reverse order gives the same state
	Type string `yaml:"type"`

	Count *int `yaml:"count,omitempty"`

	// Index is the manifest position (used by manifest).
	Index int `yaml:"index,omitempty"`

	FromEvent string `yaml:"from_event,omitempty"`
	ToEvent   string `yaml:"to_event,omitempty"`

	// Event is the expected event id (used by tip and snapshot).
	Event string `yaml:"event,omitempty"`

	// Node is the node id (used by node).
	Node string `yaml:"node,omitempty"`

	// Derived selects the derived projection table instead of source nodes.
	Derived bool `yaml:"derived,omitempty"`

	// Expect contains expected node fields (used by node).
	// Objects match as subsets; every other value must be equal.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSegments     = "segments"
	AssertManifest     = "manifest"
	AssertTip          = "tip"
	AssertSnapshot     = "snapshot"
	AssertBuffered     = "buffered"
	AssertNode         = "node"
	AssertNodeCount    = "node_count"
	AssertVerify       = "verify"
	AssertReplayStable = "replay_stable"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prior, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(path), s.Name, prior)
		}
		seen[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Tile.Space == "" || s.Tile.Tile == "" {
		return fmt.Errorf("tile.space and tile.tile are required")
	}

	if s.Store.FlushInterval != "" {
		if _, err := time.ParseDuration(s.Store.FlushInterval); err != nil {
			return fmt.Errorf("store.flush_interval: %w", err)
		}
	}
	if s.Store.SnapshotEvery != nil && *s.Store.SnapshotEvery < 0 {
		return fmt.Errorf("store.snapshot_every must be non-negative")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		op := step.Op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one of append, flush, flush_due, snapshot, advance, reopen is required", i)
		}
		if op == OpAdvance {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d].advance: %w", i, err)
			}
		}
		if step.Expect != nil {
			if step.Expect.Appended != nil && op != OpAppend {
				return fmt.Errorf("steps[%d].expect: appended only applies to append", i)
			}
			if step.Expect.Flushed != nil && op != OpFlush && op != OpFlushDue {
				return fmt.Errorf("steps[%d].expect: flushed only applies to flush and flush_due", i)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertSegments, AssertBuffered, AssertNodeCount:
		return needCount()
	case AssertManifest:
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative for manifest", index)
		}
		if a.FromEvent == "" || a.ToEvent == "" {
			return fmt.Errorf("assertions[%d]: from_event and to_event are required for manifest", index)
		}
	case AssertTip, AssertSnapshot:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for %s", index, a.Type)
		}
	case AssertNode:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for node", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for node", index)
		}
	case AssertVerify, AssertReplayStable:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
