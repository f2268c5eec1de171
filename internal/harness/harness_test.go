package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return scenario
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(mustParse(t, minimalScenario))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepResult{Step: 0, Op: OpAppend, Appended: 1}, result.Steps[0])
	assert.Equal(t, StepResult{Step: 1, Op: OpFlush, Flushed: true}, result.Steps[1])

	require.NotNil(t, result.Index)
	assert.Equal(t, "e1", result.Index.TipEvent)
	assert.Equal(t, 1, result.Index.Segments)
	require.Len(t, result.Manifest, 1)
	assert.Equal(t, 1, result.Manifest[0].Count)

	node, ok := result.State.Node("A")
	require.True(t, ok)
	assert.Equal(t, "box", node.Kind)
	assert.False(t, result.StateHash.IsZero())
}

func TestRun_FillsEventDefaults(t *testing.T) {
	result, err := Run(mustParse(t, `
name: defaults
description: "Events inherit the scenario tile, actor and scope"
tile: { space: world, tile: t-001 }
steps:
  - append:
      - { event_id: e1, ts: 1000, operation: create_node, payload: { node_id: A } }
      - { event_id: e2, ts: 2000, actor_id: someone, scope: { authority: derived }, operation: create_node, payload: { node_id: P } }
  - flush: true
assertions:
  - type: node_count
    count: 1
  - type: node_count
    derived: true
    count: 1
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "", result.State.Nodes[0].Kind)
	assert.Equal(t, "P", result.State.Derived[0].ID)
}

func TestRun_NothingFlushed(t *testing.T) {
	result, err := Run(mustParse(t, `
name: unflushed
description: "Appends without a flush leave no durable history"
tile: { space: world, tile: t-001 }
steps:
  - append:
      - { event_id: e1, ts: 1000, operation: create_node, payload: { node_id: A } }
assertions:
  - type: segments
    count: 0
  - type: buffered
    count: 1
  - type: node_count
    count: 0
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Nil(t, result.Index)
	assert.Empty(t, result.Manifest)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	result, err := Run(mustParse(t, `
name: mismatch
description: "Step outcomes are checked against expect"
tile: { space: world, tile: t-001 }
steps:
  - append:
      - { event_id: e1, ts: 1000, operation: create_node, payload: { node_id: A } }
    expect: { appended: 2 }
  - flush: true
    expect: { flushed: false }
  - flush: true
    expect: { error: duplicate_event }
assertions:
  - type: segments
    count: 1
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected 2 appended, got 1")
	assert.Contains(t, result.Errors[0], "step 0 (append)")
	assert.Contains(t, result.Errors[1], "expected flushed=false, got true")
	assert.Contains(t, result.Errors[2], `expected error "duplicate_event", got ""`)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	result, err := Run(mustParse(t, `
name: unexpected
description: "A failing step without an error expectation fails the scenario"
tile: { space: world, tile: t-001 }
steps:
  - append:
      - { event_id: e1, operation: create_node, payload: { node_id: A } }
assertions:
  - type: buffered
    count: 0
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error: invalid_field")
	assert.Equal(t, "invalid_field", result.Steps[0].Error)
}

func TestRun_SnapshotOfEmptyTile(t *testing.T) {
	result, err := Run(mustParse(t, `
name: empty_snapshot
description: "Snapshotting a tile with no segments fails"
tile: { space: world, tile: t-001 }
steps:
  - snapshot: true
assertions:
  - type: segments
    count: 0
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Steps[0].Error, "not found")
}

func TestRun_Deterministic(t *testing.T) {
	scenario := mustParse(t, minimalScenario)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.StateHash, second.StateHash)
	assert.Equal(t, first.Manifest, second.Manifest)
	assert.Equal(t, first.Index, second.Index)
}

func TestRun_FreshBackendPerRun(t *testing.T) {
	scenario := mustParse(t, minimalScenario)

	for range 2 {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.Len(t, result.Manifest, 1, "each run starts with an empty backend")
	}
}

func TestRun_InvalidTile(t *testing.T) {
	scenario := mustParse(t, minimalScenario)
	scenario.Tile.Tile = "../escape"

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tile")
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("first")
	result.AddError("second")

	assert.False(t, result.Pass)
	assert.Equal(t, []string{"first", "second"}, result.Errors)
}

func TestRunSuite(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a_pass.yaml", minimalScenario)
	writeScenario(t, dir, "b_fail.yaml", `
name: failing
description: "Asserts the wrong segment count"
tile: { space: world, tile: t-001 }
steps:
  - flush: true
assertions:
  - type: segments
    count: 3
`)
	writeScenario(t, dir, "c_broken.yaml", "name: [unclosed")

	result, err := RunSuite(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "failing", result.Failures[0].Scenario)
	assert.Contains(t, result.Failures[0].Error, "scenario assertions failed")
	assert.Contains(t, result.Failures[1].Error, "failed to load scenario")
}

func TestRunSuite_ExampleScenarios(t *testing.T) {
	result, err := RunSuite("testdata/scenarios")
	require.NoError(t, err)

	for _, f := range result.Failures {
		t.Errorf("%s: %s", f.Path, f.Error)
	}
	assert.Equal(t, result.Total, result.Passed)
}
