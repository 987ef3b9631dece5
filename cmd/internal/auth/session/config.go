package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"netreaper/cmd/security/token"
)

// Config defines runtime configuration for the token service.
type Config struct {
	// Issuer is the value set in the "iss" claim and required on verify.
	Issuer string

	// TTL is the default token lifetime.
	TTL time.Duration

	// ClockSkew widens the nbf/exp checks by this amount in each direction.
	ClockSkew time.Duration

	// Secret is the raw key material (>= token.MinKeyBytes).
	Secret []byte
}

// DefaultConfig returns defaults without key material.
func DefaultConfig() Config {
	return Config{
		Issuer: "netreaper",
		TTL:    time.Hour,
	}
}

// LoadConfigFromEnv loads configuration from the process environment.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(os.Getenv)
}

// LoadConfig loads configuration through getenv.
//
// Required:
//   - NETREAPER_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - NETREAPER_TOKEN_ISSUER
//   - NETREAPER_TOKEN_TTL
//   - NETREAPER_TOKEN_CLOCK_SKEW
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(getenv("NETREAPER_TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(getenv("NETREAPER_TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: NETREAPER_TOKEN_TTL", ErrConfig)
		}
		cfg.TTL = d
	}
	if v := strings.TrimSpace(getenv("NETREAPER_TOKEN_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, fmt.Errorf("%w: NETREAPER_TOKEN_CLOCK_SKEW", ErrConfig)
		}
		cfg.ClockSkew = d
	}

	key, err := token.CheckKey(getenv(token.SecretEnvKey), token.MinKeyBytes)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, token.SecretEnvKey, err)
	}
	cfg.Secret = key

	return cfg, nil
}
