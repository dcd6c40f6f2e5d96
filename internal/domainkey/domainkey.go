// ABOUTME: Domain name normalization and deterministic domain key derivation.
// ABOUTME: Ensures URL variants of the same domain map to one agent record.

package domainkey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidDomain is returned when a supplied domain name is empty or malformed.
var ErrInvalidDomain = errors.New("invalid domain name")

// keyLength is the number of hex characters kept from the hash. 16 bytes of
// SHA-256 is far beyond collision risk for the number of domains a single
// deployment serves.
const keyLength = 32

// Normalize canonicalizes a human-supplied domain name: lowercase, scheme
// stripped, leading "www." stripped, trailing dot and port stripped.
// "https://WWW.Example.COM:443/" and "example.com" normalize identically.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))

	// Strip scheme if the caller pasted a URL.
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	// Drop any path, query, or fragment.
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	// Drop an explicit port.
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}

	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".")

	if s == "" {
		return "", ErrInvalidDomain
	}
	if !validDomain(s) {
		return "", ErrInvalidDomain
	}
	return s, nil
}

// Derive returns the stable domain key for a normalized domain name.
// The key indexes agent and knowledge-base records and must never be computed
// from raw client-supplied URLs.
func Derive(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// FromRaw normalizes raw input and derives its key in one step.
func FromRaw(raw string) (normalized, key string, err error) {
	normalized, err = Normalize(raw)
	if err != nil {
		return "", "", err
	}
	return normalized, Derive(normalized), nil
}

// validDomain applies a conservative structural check: at least two non-empty
// dot-separated labels of letters, digits, and hyphens, no label starting or
// ending with a hyphen.
func validDomain(s string) bool {
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= '0' && r <= '9':
			case r == '-':
			default:
				return false
			}
		}
	}
	return true
}
