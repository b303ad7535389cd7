// Package sha256 fingerprints extracted article content so downstream
// consumers can skip drafts whose body has not changed.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Content fingerprints markdown content. Surrounding whitespace is ignored
// and an empty body yields an empty fingerprint.
func (h *Hasher) Content(markdown string) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	return h.Hash([]byte(markdown))
}
