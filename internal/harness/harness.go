package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/testutil"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// DefaultActor is the actor_id given to scenario events that omit one.
const DefaultActor = "harness"

// Harness is the test execution engine.
// It runs scenario steps against a real tile store over an in-memory
// backend, with a manual clock so flush intervals are deterministic.
type Harness struct {
	scenario *Scenario
	key      world.TileKey
	backend  *tilestore.MemBackend
	store    *tilestore.Store
	clock    *testutil.ManualClock
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory backend for isolation.
//
// Execution flow:
// 1. Create a store with the scenario's flush and snapshot policy
// 2. Execute steps, checking each against its expect clause
// 3. Materialize the durable history
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		key:      world.TileKey{Space: scenario.Tile.Space, Tile: scenario.Tile.Tile},
		backend:  tilestore.NewMemBackend(),
		clock:    testutil.NewManualClock(time.Time{}),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if err := h.key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tile: %w", err)
	}
	opts, err := h.storeOptions()
	if err != nil {
		return nil, err
	}
	h.store = tilestore.New(h.backend, opts...)
	defer func() { _ = h.store.Close() }()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		sr, err := h.executeStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Steps = append(result.Steps, sr)
		if msg := checkStep(step, sr); msg != "" {
			result.AddError(msg)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: h.store, Key: h.key, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) storeOptions() ([]tilestore.Option, error) {
	policy := h.scenario.Store
	opts := []tilestore.Option{
		tilestore.WithClock(h.clock),
		tilestore.WithLogger(h.logger),
		tilestore.WithFlushBytes(policy.FlushBytes),
	}
	if policy.FlushInterval != "" {
		d, err := time.ParseDuration(policy.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("store.flush_interval: %w", err)
		}
		opts = append(opts, tilestore.WithFlushInterval(d))
	}
	if policy.SnapshotEvery != nil {
		opts = append(opts, tilestore.WithSnapshotEvery(*policy.SnapshotEvery))
	}
	return opts, nil
}

// executeStep runs one step. Store failures are recorded in the step
// result; only harness problems are returned as errors.
func (h *Harness) executeStep(ctx context.Context, i int, step Step) (StepResult, error) {
	sr := StepResult{Step: i, Op: step.Op()}

	var err error
	switch sr.Op {
	case OpAppend:
		var events []*world.Event
		events, err = h.decodeEvents(step.Append)
		if err == nil {
			sr.Appended, err = h.store.Append(ctx, h.key, events)
		}
	case OpFlush:
		sr.Flushed, err = h.store.Flush(ctx, h.key)
	case OpFlushDue:
		var n int
		n, err = h.store.FlushDue(ctx)
		sr.Flushed = n > 0
	case OpSnapshot:
		_, err = h.store.Snapshot(ctx, h.key)
	case OpAdvance:
		d, perr := time.ParseDuration(step.Advance)
		if perr != nil {
			return sr, perr
		}
		h.clock.Advance(d)
	case OpReopen:
		if cerr := h.store.Close(); cerr != nil {
			return sr, cerr
		}
		opts, oerr := h.storeOptions()
		if oerr != nil {
			return sr, oerr
		}
		h.store = tilestore.New(h.backend, opts...)
	default:
		return sr, fmt.Errorf("no action")
	}

	if err != nil {
		if code := world.ValidationCodeOf(err); code != "" {
			sr.Error = string(code)
		} else {
			sr.Error = err.Error()
		}
	}

	h.logger.Info("step completed",
		"step", i,
		"op", sr.Op,
		"appended", sr.Appended,
		"flushed", sr.Flushed,
		"error", sr.Error,
	)
	return sr, nil
}

// decodeEvents converts YAML event objects, filling space_id, tile_id,
// actor_id and a source scope when absent.
func (h *Harness) decodeEvents(raw []map[string]any) ([]*world.Event, error) {
	events := make([]*world.Event, 0, len(raw))
	for i, m := range raw {
		v, err := addr.FromAny(m)
		if err != nil {
			return nil, fmt.Errorf("append[%d]: %w", i, err)
		}
		obj := v.(addr.Object)
		setDefault(obj, "space_id", addr.String(h.key.Space))
		setDefault(obj, "tile_id", addr.String(h.key.Tile))
		setDefault(obj, "actor_id", addr.String(DefaultActor))
		setDefault(obj, "scope", addr.Object{"authority": addr.String(string(world.AuthoritySource))})

		ev, err := world.EventFromValue(obj)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func setDefault(obj addr.Object, key string, v addr.Value) {
	if _, ok := obj[key]; !ok {
		obj[key] = v
	}
}

// checkStep compares a step result with its expect clause and returns a
// failure message, or "" when it matches.
func checkStep(step Step, sr StepResult) string {
	exp := step.Expect
	if exp == nil {
		exp = &StepExpect{}
	}
	switch {
	case exp.Error != "" && sr.Error != exp.Error:
		return fmt.Sprintf("step %d (%s): expected error %q, got %q", sr.Step, sr.Op, exp.Error, sr.Error)
	case exp.Error == "" && sr.Error != "":
		return fmt.Sprintf("step %d (%s): unexpected error: %s", sr.Step, sr.Op, sr.Error)
	case exp.Appended != nil && sr.Appended != *exp.Appended:
		return fmt.Sprintf("step %d (%s): expected %d appended, got %d", sr.Step, sr.Op, *exp.Appended, sr.Appended)
	case exp.Flushed != nil && sr.Flushed != *exp.Flushed:
		return fmt.Sprintf("step %d (%s): expected flushed=%t, got %t", sr.Step, sr.Op, *exp.Flushed, sr.Flushed)
	}
	return ""
}

// collect reads the final index, manifest, buffer and state into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	ix, err := h.store.TileTip(ctx, h.key)
	switch {
	case err == nil:
		result.Index = &ix
	case !world.IsNotFound(err):
		return fmt.Errorf("read tip: %w", err)
	}

	manifest, err := h.store.SegmentsSince(ctx, h.key, "")
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if manifest != nil {
		result.Manifest = manifest
	}

	result.Buffered, _ = h.store.Buffered(h.key)

	replica := nf.NewReplica()
	if len(manifest) > 0 {
		if replica, err = h.store.Materialize(ctx, h.key); err != nil {
			return fmt.Errorf("materialize: %w", err)
		}
	}
	result.State = replica.Normal()
	if result.StateHash, err = nf.StateHash(replica); err != nil {
		return fmt.Errorf("state hash: %w", err)
	}
	return nil
}
