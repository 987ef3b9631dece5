// Package token holds the key-material policy and digest helpers shared by the
// session token service and the static API-token checks.
//
// Policy:
//   - Signing secrets are trimmed and must be at least MinKeyBytes long. Shorter secrets are a startup error, never a warning.
//   - Static credentials are compared as SHA-256 digests with crypto/subtle so the
//     comparison time does not depend on where the inputs first differ.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	// SecretEnvKey is the env var name for the session signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "NETREAPER_SECRET"

	// MinKeyBytes is the minimum accepted signing key size.
	MinKeyBytes = 32
)

// CheckKey enforces the minimum key length on raw key material.
func CheckKey(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// Equal compares two secrets in constant time with respect to their content.
// Both sides are hashed first so differing lengths do not short-circuit.
func Equal(got, want string) bool {
	if want == "" {
		return false
	}
	a := sha256.Sum256([]byte(got))
	b := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Fingerprint returns a short, non-reversible identifier of a secret suitable
// for logs, so operators can tell which API token a server was started with.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
