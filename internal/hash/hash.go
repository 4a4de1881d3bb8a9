// Package hash provides content hashing and stable identifier derivation.
//
// Every document carries a content_hash computed here; the sync engine
// compares these hashes to detect drift between the versioned store and the
// vector store, so the function must be pure and deterministic across clones.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is the length of identifiers derived via Short.
const ShortLen = 12

// Content returns the 64-character lowercase hex SHA-256 of s.
func Content(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Bytes returns the 64-character lowercase hex SHA-256 of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Short returns the first ShortLen hex characters of the SHA-256 of s.
// Used for conflict identifiers and log correlation, not for content
// comparison.
func Short(s string) string {
	return Content(s)[:ShortLen]
}
