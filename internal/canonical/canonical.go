// Package canonical normalizes URLs into a single comparable form so that
// two spellings of the same site+path always fingerprint identically.
package canonical

import (
	"errors"
	"net/url"
	"strings"
)

// ErrMalformedURL is returned when the input has no parseable host.
var ErrMalformedURL = errors.New("malformed URL: no parseable host")

// URL is a canonicalized URL. The zero value is not valid; obtain one
// through Canonicalize.
type URL struct {
	host string
	path string
}

// Canonicalize normalizes a raw URL: scheme fixed to https, host lowercased,
// "www." prefix stripped, default ports removed, trailing path slash
// stripped, query and fragment discarded. It is pure and idempotent.
func Canonicalize(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, ErrMalformedURL
	}

	// Bare hostnames ("example.com/login") parse with an empty host unless
	// a scheme is present.
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return URL{}, ErrMalformedURL
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	if host == "" {
		return URL{}, ErrMalformedURL
	}

	path := strings.TrimRight(parsed.Path, "/")

	return URL{host: host, path: path}, nil
}

// Host returns the normalized host without port or www prefix.
func (u URL) Host() string { return u.host }

// Path returns the normalized path, without a trailing slash.
func (u URL) Path() string { return u.path }

// String renders the canonical form, always with the https scheme.
func (u URL) String() string {
	return "https://" + u.host + u.path
}
