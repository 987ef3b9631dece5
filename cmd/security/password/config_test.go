package password

import (
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"NETREAPER_PASSWORD_MIN_LEN",
		"NETREAPER_PASSWORD_MAX_LEN",
		"NETREAPER_PASSWORD_REJECT_VERY_WEAK",
		"NETREAPER_ARGON2_MEMORY_KIB",
		"NETREAPER_ARGON2_ITERATIONS",
		"NETREAPER_ARGON2_PARALLELISM",
	} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	def := DefaultConfig()
	if cfg.Policy.MinLength != def.Policy.MinLength || cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("NETREAPER_PASSWORD_MIN_LEN", "10")
	t.Setenv("NETREAPER_PASSWORD_MAX_LEN", "200")
	t.Setenv("NETREAPER_PASSWORD_REJECT_VERY_WEAK", "false")
	t.Setenv("NETREAPER_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("NETREAPER_ARGON2_ITERATIONS", "4")
	t.Setenv("NETREAPER_ARGON2_PARALLELISM", "2")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"min > max":   {"NETREAPER_PASSWORD_MIN_LEN": "20", "NETREAPER_PASSWORD_MAX_LEN": "10"},
		"memory low":  {"NETREAPER_ARGON2_MEMORY_KIB": "16"},
		"not integer": {"NETREAPER_ARGON2_ITERATIONS": "three"},
		"bad bool":    {"NETREAPER_PASSWORD_REJECT_VERY_WEAK": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
