// Package harness provides scenario testing for the tile store.
//
// The harness drives a store through appends, flushes, snapshots and
// restarts described in YAML, then asserts on the durable manifest, the
// tile index and the materialized state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tile: { space: world, tile: t-001 }
//	store:
//	  flush_bytes: 4096
//	  flush_interval: 5s
//	  snapshot_every: 0
//	steps:
//	  - append:
//	      - event_id: e1
//	        ts: 1000
//	        operation: create_node
//	        payload: { node_id: A, kind: box }
//	    expect: { appended: 1 }
//	  - flush: true
//	    expect: { flushed: true }
//	  - advance: 6s
//	  - flush_due: true
//	  - reopen: true
//	assertions:
//	  - type: segments
//	    count: 1
//	  - type: node
//	    node: A
//	    expect: { kind: box, deleted: false }
//
// Events that omit space_id, tile_id, actor_id or scope inherit the
// scenario tile, the actor "harness" and source authority.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - segments: the manifest has exactly N entries
//   - manifest: entry I covers from_event..to_event
//   - tip: the index tip is the given event
//   - snapshot: the last snapshot ends at the given event
//   - buffered: N events remain unflushed
//   - node: a node's canonical form contains the expected fields
//   - node_count: the node (or derived) table has N nodes
//   - verify: the stored history passes Store.Verify
//   - replay_stable: replaying the durable events in reverse gives the same state
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory backend with a manual
// clock starting at testutil.Epoch, so flush intervals only elapse
// through advance steps. Golden files hold the canonical state of each
// scenario under testdata/golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/flush_threshold.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
