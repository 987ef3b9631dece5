package session

import (
	"errors"
	"fmt"

	"netreaper/cmd/internal/fault"
)

var (
	// ErrUnauthorized is the only verification outcome callers should surface.
	ErrUnauthorized = fmt.Errorf("session: %w", fault.ErrAuthentication)

	// Internal verification reasons; all unwrap to ErrUnauthorized.
	ErrMalformedToken   = fmt.Errorf("%w: malformed token", ErrUnauthorized)
	ErrInvalidSignature = fmt.Errorf("%w: invalid token authentication tag", ErrUnauthorized)
	ErrInvalidClaims    = fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	ErrExpired          = fmt.Errorf("%w: token expired", ErrUnauthorized)

	// ErrConfig is returned for invalid configuration.
	ErrConfig = fmt.Errorf("session config: %w", fault.ErrConfiguration)

	errEmptySubject = errors.New("empty subject")
)
