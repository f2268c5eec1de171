// Package nf is the normal-form engine. It turns raw events into a
// replayable trace and a materialized state, both with canonical hashes.
//
// The pipeline for a trace is
//
//	NormalizeAll -> OrderDeterministic -> PruneNoOps
//
// and TraceHash hashes its result. Materialization runs
//
//	ResolveDuplicates -> OrderDeterministic
//
// and applies every event to a Replica, whose Normal form is hashed by
// StateHash. Two replicas are
// equivalent iff their state hashes match, whatever order their events
// arrived in.
//
// Replica state keeps last-write-wins stamps, OR-Set tags and removed tags
// so that a snapshot plus later events reduces to the same normal form as
// a full replay.
package nf
