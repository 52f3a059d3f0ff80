package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashText returns the hex-encoded SHA-256 of normalized text. Cache keys and
// exact-recall comparisons both go through this, so two queries that differ
// only in case or surrounding whitespace collide on purpose.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// HashRaw returns the hex-encoded SHA-256 of the raw input. Used for
// content-derived ids where normalization would lose information.
func HashRaw(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
