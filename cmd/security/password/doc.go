// Package password verifies the operator password configured for the gateway.
//
// The configured value may be stored in one of three forms:
//   - an Argon2id PHC string ($argon2id$v=19$m=...,t=...,p=...$salt$hash)
//   - a bcrypt hash ($2a$, $2b$ or $2y$)
//   - plain text (accepted for local setups; compared as digests in constant time)
//
// Hash strings are treated as untrusted input and decoded strictly. Argon2id
// parameters far above the local configuration are refused to bound the cost of
// a single login attempt.
package password
