// Package sha256 digests artifacts so downstream loaders can detect partial
// or repeated uploads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256:"

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the digest as "sha256:<hex>".
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return prefix + hex.EncodeToString(sum[:]), nil
}

// Verify reports whether digest matches data. Bare hex digests are accepted.
func (h *Hasher) Verify(data []byte, digest string) bool {
	want, _ := h.Hash(data)
	if !strings.HasPrefix(digest, prefix) {
		digest = prefix + digest
	}
	return strings.EqualFold(want, digest)
}
