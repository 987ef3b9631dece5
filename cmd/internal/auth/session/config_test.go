package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"netreaper/cmd/internal/fault"
)

var testSecret = strings.Repeat("s", 32)

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("NETREAPER_SECRET", "")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) || !fault.IsConfiguration(err) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	t.Setenv("NETREAPER_SECRET", strings.Repeat("s", 31))
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	cases := map[string]string{
		"NETREAPER_TOKEN_TTL":        "-5m",
		"NETREAPER_TOKEN_CLOCK_SKEW": "10m",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("NETREAPER_SECRET", testSecret)
			t.Setenv(k, v)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig for %s=%s, got %v", k, v, err)
			}
		})
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("NETREAPER_SECRET", "  "+testSecret+"  ")
	t.Setenv("NETREAPER_TOKEN_ISSUER", "netreaper-test")
	t.Setenv("NETREAPER_TOKEN_TTL", "30m")
	t.Setenv("NETREAPER_TOKEN_CLOCK_SKEW", "5s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "netreaper-test" || cfg.TTL != 30*time.Minute || cfg.ClockSkew != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if string(cfg.Secret) != testSecret {
		t.Fatalf("secret should be trimmed")
	}
}

func TestLoadConfig_CustomLookup(t *testing.T) {
	t.Parallel()

	vals := map[string]string{"NETREAPER_SECRET": testSecret}
	cfg, err := LoadConfig(func(k string) string { return vals[k] })
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TTL != time.Hour || cfg.Issuer != "netreaper" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
