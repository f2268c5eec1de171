// Package pf16 composes typed identity records.
//
// An Identity has sixteen fixed slots. Merge combines two identities slot
// by slot; each slot has its own law:
//
//	self                       equal keeps, unequal becomes a Conflict
//	authority                  source dominates derived
//	scope, boundary, policy    stricter wins
//	time                       max
//	*_set slots                sorted, deduplicated union
//	location                   recursive union; unequal leaves become conflicts
//	version                    equal keeps, unequal becomes "merge(x,y)"
//	nonce                      hash of the two input nonces
//
// Set slots are associative and commutative. The other slots are not
// guaranteed to be associative: merging three identities with three
// different versions yields a marker that depends on grouping.
//
// Conflicts are data. They are never resolved by picking a side; callers
// inspect HasConflicts and Conflicts and decide whether to reject.
package pf16
