package app

import (
	"errors"
	"net"

	"netreaper/cmd/internal/fault"
	"netreaper/cmd/security/token"
)

const passwordEnvKey = "NETREAPER_PASSWORD" // #nosec G101 -- env var name, not a credential.

// ValidateSecurityConfig fails startup when the credentials every
// deployment needs are absent or too weak to use.
func ValidateSecurityConfig(env Env) error {
	if env.Lookup(passwordEnvKey) == "" {
		return fault.Configf("security", "%s must be set", passwordEnvKey)
	}
	if _, err := token.CheckKey(env.Lookup(token.SecretEnvKey), token.MinKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrKeyMissing):
			return fault.Configf("security", "%s must be set", token.SecretEnvKey)
		case errors.Is(err, token.ErrKeyTooShort):
			return fault.Configf("security", "%s is too short (min %d bytes)", token.SecretEnvKey, token.MinKeyBytes)
		default:
			return fault.Configf("security", "%s: %v", token.SecretEnvKey, err)
		}
	}
	return nil
}

// SecurityWarnings lists deployment choices an operator should know about.
func SecurityWarnings(cfg Config) []string {
	var out []string
	if cfg.StaticToken == "" {
		out = append(out, "NETREAPER_API_TOKEN is not set; only localhost peers are served")
	}
	if !cfg.TLSEnabled() && !loopbackBind(cfg.HTTPAddr) {
		out = append(out, "serving plain HTTP on a non-loopback address; set NETREAPER_SSL_CERT and NETREAPER_SSL_KEY")
	}
	return out
}

func loopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
