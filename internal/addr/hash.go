package addr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AlgoSHA256 is the only digest algorithm currently produced.
// The tag travels with every HashRef so future algorithms can coexist.
const AlgoSHA256 = "sha256"

// HashRef is an algorithm-tagged content hash of the form "algo:hex".
// Two HashRefs are equal iff their source bytes were identical.
type HashRef string

// Hash applies the fixed digest algorithm to data.
func Hash(data []byte) HashRef {
	sum := sha256.Sum256(data)
	return HashRef(AlgoSHA256 + ":" + hex.EncodeToString(sum[:]))
}

// ContentID computes Hash(Canonicalize(v)).
// Returns a CanonicalizationError if v has no canonical form.
func ContentID(v any) (HashRef, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Hash(b), nil
}

// MustContentID is like ContentID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentID(v any) HashRef {
	ref, err := ContentID(v)
	if err != nil {
		panic(err)
	}
	return ref
}

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
//
// Domain-separated hashes are used for derived identifiers (SIDs, merge
// nonces). Object HashRefs use plain Hash so that any holder of the bytes
// can verify them.
func HashWithDomain(domain string, data []byte) HashRef {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return HashRef(AlgoSHA256 + ":" + hex.EncodeToString(h.Sum(nil)))
}

// ParseHashRef validates s and returns it as a HashRef.
func ParseHashRef(s string) (HashRef, error) {
	algo, digest, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("hash ref %q: missing algorithm tag", s)
	}
	if algo != AlgoSHA256 {
		return "", fmt.Errorf("hash ref %q: unsupported algorithm %q", s, algo)
	}
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("hash ref %q: digest must be %d hex characters", s, sha256.Size*2)
	}
	for _, c := range digest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", fmt.Errorf("hash ref %q: digest must be lowercase hex", s)
		}
	}
	return HashRef(s), nil
}

// Algo returns the algorithm tag.
func (h HashRef) Algo() string {
	algo, _, _ := strings.Cut(string(h), ":")
	return algo
}

// Hex returns the hex digest without the algorithm tag.
func (h HashRef) Hex() string {
	_, digest, _ := strings.Cut(string(h), ":")
	return digest
}

// Verify reports whether data hashes to h.
func (h HashRef) Verify(data []byte) bool {
	return h.Algo() == AlgoSHA256 && Hash(data) == h
}

// String implements fmt.Stringer.
func (h HashRef) String() string {
	return string(h)
}

// IsZero reports whether h is empty.
func (h HashRef) IsZero() bool {
	return h == ""
}
