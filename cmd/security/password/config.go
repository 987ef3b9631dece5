package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds the passwords accepted by the hash-password command and by Verify.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak enables a small list of trivially guessable passwords.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the hashing baseline for operator credentials.
func DefaultConfig() Config {
	// Clamp parallelism to [1..4] so container hosts stay predictable.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - NETREAPER_PASSWORD_MIN_LEN
// - NETREAPER_PASSWORD_MAX_LEN
// - NETREAPER_PASSWORD_REJECT_VERY_WEAK (true/false)
// - NETREAPER_ARGON2_MEMORY_KIB
// - NETREAPER_ARGON2_ITERATIONS
// - NETREAPER_ARGON2_PARALLELISM
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("NETREAPER_PASSWORD_MIN_LEN"); ok {
		n, err := parseIntInRange(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("NETREAPER_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}
	if v, ok := os.LookupEnv("NETREAPER_PASSWORD_MAX_LEN"); ok {
		n, err := parseIntInRange(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("NETREAPER_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}
	if v, ok := os.LookupEnv("NETREAPER_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("NETREAPER_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}
	if v, ok := os.LookupEnv("NETREAPER_ARGON2_MEMORY_KIB"); ok {
		n, err := parseIntInRange(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("NETREAPER_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = uint32(n) // #nosec G115 -- range checked above.
	}
	if v, ok := os.LookupEnv("NETREAPER_ARGON2_ITERATIONS"); ok {
		n, err := parseIntInRange(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("NETREAPER_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = uint32(n) // #nosec G115 -- range checked above.
	}
	if v, ok := os.LookupEnv("NETREAPER_ARGON2_PARALLELISM"); ok {
		n, err := parseIntInRange(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("NETREAPER_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- range checked above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	return cfg, nil
}

func parseIntInRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}
