package authapi

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"netreaper/cmd/internal/fault"
)

// Rate limit scopes for POST /auth.
const (
	ScopeClient = "client"
	ScopeGlobal = "global"
)

// Config controls HTTP API behavior and security defaults.
type Config struct {
	// StaticToken, when set, is accepted by POST /auth as {"api_token": ...}.
	StaticToken string

	// TrustProxy makes clientIP honour X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	MaxBodyBytes int64

	// RateScope keys the credential limiter by client IP or into one global budget.
	RateScope string
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		RateScope:    ScopeClient,
	}
}

// LoadConfigFromEnv loads API config from the process environment.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(os.Getenv)
}

// LoadConfig loads API config through getenv.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	cfg.StaticToken = strings.TrimSpace(getenv("NETREAPER_API_TOKEN"))
	cfg.TrustProxy = envBool(getenv, "NETREAPER_TRUST_PROXY", false)
	cfg.MaxBodyBytes = envInt64(getenv, "NETREAPER_MAX_BODY_BYTES", cfg.MaxBodyBytes)

	switch scope := strings.ToLower(strings.TrimSpace(getenv("NETREAPER_AUTH_RATE_SCOPE"))); scope {
	case "", ScopeClient:
		cfg.RateScope = ScopeClient
	case ScopeGlobal:
		cfg.RateScope = ScopeGlobal
	default:
		return Config{}, fault.Configf("authapi.LoadConfig", "NETREAPER_AUTH_RATE_SCOPE must be %s or %s, got %q", ScopeClient, ScopeGlobal, scope)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.RateScope == "" {
		c.RateScope = d.RateScope
	}
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("authapi.Config{static_token=%t trust_proxy=%t max_body=%d scope=%s}",
		c.StaticToken != "", c.TrustProxy, c.MaxBodyBytes, c.RateScope)
}

func envBool(getenv func(string) string, key string, def bool) bool {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(getenv func(string) string, key string, def int64) int64 {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
