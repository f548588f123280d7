// Package fingerprint derives keyed, irreversible identifiers for canonical
// URLs. Only the fingerprint and its prefix may ever be stored; call sites
// must drop the original URL once the fingerprint is derived.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"phishguard/internal/canonical"
)

// DefaultPrefixLength is the number of leading hex characters used as the
// reputation lookup key. 12 hex chars = 48 bits; for a feed of n entries the
// expected collision count is about n^2/2^48, negligible below a few million
// entries.
const DefaultPrefixLength = 12

// Engine computes HMAC-SHA512 fingerprints under a fixed secret key. The key
// is immutable after construction and shared process-wide.
type Engine struct {
	key []byte
}

// NewEngine creates an engine from the process secret. The key is copied so
// the caller's slice can be zeroed.
func NewEngine(key []byte) *Engine {
	k := make([]byte, len(key))
	copy(k, key)
	return &Engine{key: k}
}

// Fingerprint returns the hex-encoded HMAC-SHA512 digest of the canonical
// URL. Deterministic for a given key; 512-bit output makes reversal
// infeasible even knowing the canonicalization scheme.
func (e *Engine) Fingerprint(c canonical.URL) string {
	mac := hmac.New(sha512.New, e.key)
	mac.Write([]byte(c.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Prefix truncates a fingerprint to its first n hex characters. A
// non-positive or oversized n falls back to the full fingerprint bounds.
func Prefix(fp string, n int) string {
	if n <= 0 {
		n = DefaultPrefixLength
	}
	if n > len(fp) {
		n = len(fp)
	}
	return fp[:n]
}

// FromURL is the common canonicalize-fingerprint-truncate path. The raw URL
// is not retained; only the derived values are returned.
func (e *Engine) FromURL(raw string, prefixLen int) (fp string, prefix string, err error) {
	c, err := canonical.Canonicalize(raw)
	if err != nil {
		return "", "", err
	}
	fp = e.Fingerprint(c)
	return fp, Prefix(fp, prefixLen), nil
}
