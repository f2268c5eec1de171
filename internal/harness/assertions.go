package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// AssertionError is returned when an assertion fails.
// It includes the manifest to help debug the failure.
type AssertionError struct {
	Type     string                // Assertion type for categorization
	Expected string                // Human-readable expected outcome
	Actual   string                // Human-readable actual outcome
	Manifest []world.ManifestEntry // Durable segments at evaluation time
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Manifest) > 0 {
		fmt.Fprintf(&buf, "\nManifest:\n")
		for i, m := range e.Manifest {
			fmt.Fprintf(&buf, "  [%d] %s..%s (%d events) %s\n", i, m.FromEvent, m.ToEvent, m.Count, m.Hash)
		}
	}

	return buf.String()
}

func assertSegments(result *Result, a Assertion) error {
	if len(result.Manifest) != *a.Count {
		return &AssertionError{
			Type:     AssertSegments,
			Expected: fmt.Sprintf("%d segments", *a.Count),
			Actual:   fmt.Sprintf("%d segments", len(result.Manifest)),
			Manifest: result.Manifest,
		}
	}
	return nil
}

func assertManifest(result *Result, a Assertion) error {
	if a.Index >= len(result.Manifest) {
		return &AssertionError{
			Type:     AssertManifest,
			Expected: fmt.Sprintf("manifest entry %d", a.Index),
			Actual:   fmt.Sprintf("manifest has %d entries", len(result.Manifest)),
			Manifest: result.Manifest,
		}
	}
	m := result.Manifest[a.Index]
	if m.FromEvent != a.FromEvent || m.ToEvent != a.ToEvent || (a.Count != nil && m.Count != *a.Count) {
		expected := fmt.Sprintf("entry %d covering %s..%s", a.Index, a.FromEvent, a.ToEvent)
		if a.Count != nil {
			expected += fmt.Sprintf(" (%d events)", *a.Count)
		}
		return &AssertionError{
			Type:     AssertManifest,
			Expected: expected,
			Actual:   fmt.Sprintf("entry %d covering %s..%s (%d events)", a.Index, m.FromEvent, m.ToEvent, m.Count),
			Manifest: result.Manifest,
		}
	}
	return nil
}

func assertTip(result *Result, a Assertion) error {
	actual := "no index"
	if result.Index != nil {
		if result.Index.TipEvent == a.Event {
			return nil
		}
		actual = "tip " + result.Index.TipEvent
	}
	return &AssertionError{
		Type:     AssertTip,
		Expected: "tip " + a.Event,
		Actual:   actual,
		Manifest: result.Manifest,
	}
}

func assertSnapshot(result *Result, a Assertion) error {
	actual := "no snapshot"
	if result.Index != nil && result.Index.HasSnapshot() {
		if result.Index.SnapshotEvent == a.Event {
			return nil
		}
		actual = "snapshot at " + result.Index.SnapshotEvent
	}
	return &AssertionError{
		Type:     AssertSnapshot,
		Expected: "snapshot at " + a.Event,
		Actual:   actual,
		Manifest: result.Manifest,
	}
}

func assertBuffered(result *Result, a Assertion) error {
	if result.Buffered != *a.Count {
		return &AssertionError{
			Type:     AssertBuffered,
			Expected: fmt.Sprintf("%d buffered events", *a.Count),
			Actual:   fmt.Sprintf("%d buffered events", result.Buffered),
		}
	}
	return nil
}

func assertNodeCount(result *Result, a Assertion) error {
	nodes := result.State.Nodes
	if a.Derived {
		nodes = result.State.Derived
	}
	if len(nodes) != *a.Count {
		return &AssertionError{
			Type:     AssertNodeCount,
			Expected: fmt.Sprintf("%d %s", *a.Count, tableName(a.Derived)),
			Actual:   fmt.Sprintf("%d %s", len(nodes), tableName(a.Derived)),
		}
	}
	return nil
}

// assertNode checks a node's canonical form against the expected fields
// using subset semantics.
func assertNode(result *Result, a Assertion) error {
	actual, err := findNode(result.State, a.Node, a.Derived)
	if err != nil {
		return err
	}
	if actual == nil {
		return &AssertionError{
			Type:     AssertNode,
			Expected: fmt.Sprintf("node %s in %s", a.Node, tableName(a.Derived)),
			Actual:   "node not found",
		}
	}

	expected, err := addr.FromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("node %s: expect: %w", a.Node, err)
	}
	if path, ok := matchValue(actual, expected, "$"); !ok {
		return &AssertionError{
			Type:     AssertNode,
			Expected: fmt.Sprintf("node %s matching %s", a.Node, canonicalString(expected)),
			Actual:   fmt.Sprintf("mismatch at %s in %s", path, canonicalString(actual)),
		}
	}
	return nil
}

// findNode returns the canonical object of node id, or nil when absent.
func findNode(state nf.NormalState, id string, derived bool) (addr.Value, error) {
	v, err := state.CanonicalValue()
	if err != nil {
		return nil, err
	}
	nodes, _ := v.(addr.Object)[tableName(derived)].(addr.Array)
	for _, n := range nodes {
		obj, ok := n.(addr.Object)
		if ok && addr.Equal(obj["id"], addr.String(id)) {
			return obj, nil
		}
	}
	return nil, nil
}

// matchValue reports whether actual contains expected. Objects match as
// subsets at every depth; arrays and scalars must be equal. On mismatch
// it returns the path of the first differing value.
func matchValue(actual, expected addr.Value, path string) (string, bool) {
	exp, ok := expected.(addr.Object)
	if !ok {
		return path, addr.Equal(actual, expected)
	}
	act, ok := actual.(addr.Object)
	if !ok {
		return path, false
	}
	for _, k := range exp.SortedKeys() {
		av, exists := act[k]
		if !exists {
			return path + "." + k, false
		}
		if p, ok := matchValue(av, exp[k], path+"."+k); !ok {
			return p, false
		}
	}
	return "", true
}

func assertVerify(actx *AssertionContext) error {
	report, err := actx.Store.Verify(actx.Ctx, actx.Key)
	if err != nil {
		return &AssertionError{
			Type:     AssertVerify,
			Expected: "stored history verifies",
			Actual:   fmt.Sprintf("verify error: %v", err),
		}
	}
	if !report.OK() {
		return &AssertionError{
			Type:     AssertVerify,
			Expected: "stored history verifies",
			Actual:   strings.Join(report.Problems, "; "),
		}
	}
	return nil
}

// assertReplayStable replays every durable event in reverse manifest
// order and compares the state hash with the materialized result.
func assertReplayStable(result *Result, actx *AssertionContext) error {
	var events []*world.Event
	for _, m := range result.Manifest {
		data, err := actx.Store.GetObject(actx.Ctx, m.Hash)
		if err != nil {
			return fmt.Errorf("read segment %s: %w", m.Hash, err)
		}
		seg, err := tilestore.DecodeSegment(data)
		if err != nil {
			return fmt.Errorf("decode segment %s: %w", m.Hash, err)
		}
		events = append(events, seg...)
	}
	slices.Reverse(events)

	replica, err := nf.Materialize(nf.NewReplica(), events)
	if err != nil {
		return &AssertionError{
			Type:     AssertReplayStable,
			Expected: "reversed replay succeeds",
			Actual:   err.Error(),
			Manifest: result.Manifest,
		}
	}
	hash, err := nf.StateHash(replica)
	if err != nil {
		return err
	}
	if hash != result.StateHash {
		return &AssertionError{
			Type:     AssertReplayStable,
			Expected: "state " + result.StateHash.String(),
			Actual:   "state " + hash.String() + " after reversed replay",
			Manifest: result.Manifest,
		}
	}
	return nil
}

func tableName(derived bool) string {
	if derived {
		return "derived"
	}
	return "nodes"
}

func canonicalString(v addr.Value) string {
	b, err := addr.Canonicalize(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// AssertionContext provides store access for assertions that read
// stored objects.
type AssertionContext struct {
	Store *tilestore.Store
	Key   world.TileKey
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter is required by verify and replay_stable.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSegments:
			err = assertSegments(result, assertion)
		case AssertManifest:
			err = assertManifest(result, assertion)
		case AssertTip:
			err = assertTip(result, assertion)
		case AssertSnapshot:
			err = assertSnapshot(result, assertion)
		case AssertBuffered:
			err = assertBuffered(result, assertion)
		case AssertNode:
			err = assertNode(result, assertion)
		case AssertNodeCount:
			err = assertNodeCount(result, assertion)
		case AssertVerify, AssertReplayStable:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
			} else if assertion.Type == AssertVerify {
				err = assertVerify(actx)
			} else {
				err = assertReplayStable(result, actx)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
