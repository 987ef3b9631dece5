// Package session issues and verifies the gateway's session tokens.
//
// Tokens are PASETO v4.local (authenticated encryption). The 32-byte token key
// is derived from the configured secret with HKDF-SHA256, so any secret of at
// least 32 bytes works and the raw secret never touches the wire format.
//
// There is no server-side session table: a token is valid until it expires,
// and restarting the process with a different secret invalidates all tokens.
package session
