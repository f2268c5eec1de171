package addr

import (
	"fmt"
	"strings"
)

// DomainSID separates structural ids from every other hash.
const DomainSID = "tessera/sid/v1"

// Role names a mutable pointer within a tile.
type Role string

const (
	RoleManifest Role = "manifest"
	RoleIndex    Role = "index"
	RoleSnapshot Role = "snapshot"
)

// SID is a structural id: the hash of a canonical path string that names
// a mutable pointer. SIDs point to immutable content; they are never
// themselves hashed into other content.
type SID struct {
	Path string
	Ref  HashRef
}

// SIDPath returns the canonical structural path
// "m/world/<space>/tiles/<tile>/<role>".
func SIDPath(space, tile string, role Role) string {
	return "m/world/" + space + "/tiles/" + tile + "/" + string(role)
}

// NewSID derives the SID for a tile role.
// Path components must be non-empty and must not contain "/".
func NewSID(space, tile string, role Role) (SID, error) {
	for name, part := range map[string]string{"space": space, "tile": tile, "role": string(role)} {
		if part == "" {
			return SID{}, fmt.Errorf("sid: %s is empty", name)
		}
		if strings.Contains(part, "/") {
			return SID{}, fmt.Errorf("sid: %s %q contains '/'", name, part)
		}
	}
	path := SIDPath(space, tile, role)
	return SID{Path: path, Ref: HashWithDomain(DomainSID, []byte(path))}, nil
}

// String returns the SID in "sid:<hex>" form.
func (s SID) String() string {
	return "sid:" + s.Ref.Hex()
}
