// Package world defines the data model shared by every layer of a tile
// store: world events and their operation payloads, tile keys, manifest
// entries, the per-tile index record, and the error taxonomy.
//
// Events are immutable. Their identity on the wire is the canonical JSON
// form produced by CanonicalValue; decoding goes through the strict
// addr.ParseJSON path so that numbers keep their exact value.
//
// Payloads form a closed union keyed by operation. Code that consumes
// events must switch over every payload type:
//
//	switch p := ev.Payload.(type) {
//	case *world.CreateNode:
//	case *world.DeleteNode:
//	...
//	}
package world
