// Package addr provides canonical content addressing for tessera.
//
// Every immutable object in the system (events, segments, snapshots,
// identity records) is identified by a HashRef derived from canonical bytes.
// This package owns the only serialization allowed for that purpose.
//
// Key design constraints:
//   - Canonical JSON follows RFC 8785: UTF-16 key order, no HTML escaping,
//     ECMAScript number formatting
//   - Strings are NFC normalized at the serialization boundary
//   - Non-finite numbers and unsupported Go types are hard errors
//   - Absent values omit their object key; they are never written as null
//   - SIDs name mutable pointers and are never hashed into other content
//
// addr imports nothing internal. All other internal packages may import it.
package addr
