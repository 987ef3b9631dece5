package fault

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrConfiguration  = errors.New("configuration")
	ErrAuthentication = errors.New("unauthorized")
	ErrRateLimit      = errors.New("rate_limited")
	ErrValidation     = errors.New("validation")
	ErrExecution      = errors.New("execution")
	ErrProtocol       = errors.New("protocol")
)
