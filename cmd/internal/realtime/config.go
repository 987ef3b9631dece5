package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultAllowedOrigins = "http://localhost,http://127.0.0.1"

// Config carries the websocket gateway knobs. Zero values fall back to the
// package defaults.
type Config struct {
	Origin OriginPolicy

	// StaticToken switches the command channel to path-token mode and lifts
	// the loopback restriction.
	StaticToken string

	// InsecureSkipVerify disables the websocket origin check entirely (dev only).
	InsecureSkipVerify bool

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	AuthTimeout      time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	RateEvents       int
	RateWindow       time.Duration
	LogQueueSize     int
}

// LoadConfig reads NETREAPER_WS_* settings and the origin allowlist through getenv.
func LoadConfig(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Config{
		Origin: OriginPolicy{
			Required: envBool(getenv, "NETREAPER_WS_ORIGIN_REQUIRED", false),
			Allowed:  envCSV(getenv, "NETREAPER_ALLOWED_ORIGINS", defaultAllowedOrigins),
		},
		StaticToken:        strings.TrimSpace(getenv("NETREAPER_API_TOKEN")),
		InsecureSkipVerify: envBool(getenv, "NETREAPER_WS_DEV_INSECURE", false),
		WriteTimeout:       envDuration(getenv, "NETREAPER_WS_WRITE_TIMEOUT", defaultWriteTimeout),
		ReadIdleTimeout:    envDuration(getenv, "NETREAPER_WS_READ_IDLE_TIMEOUT", defaultReadIdle),
		AuthTimeout:        envDuration(getenv, "NETREAPER_WS_AUTH_TIMEOUT", defaultAuthTimeout),
		SendQueueSize:      envInt(getenv, "NETREAPER_WS_SEND_QUEUE", defaultSendQueueSize),
		HeartbeatEvery:     envDuration(getenv, "NETREAPER_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout:   envDuration(getenv, "NETREAPER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),
		RateEvents:         envInt(getenv, "NETREAPER_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow:         envDuration(getenv, "NETREAPER_WS_RATE_WINDOW", rateLimitWindow),
		LogQueueSize:       envInt(getenv, "NETREAPER_LOG_QUEUE", defaultLogQueueSize),
	}
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	if c.LogQueueSize <= 0 {
		c.LogQueueSize = defaultLogQueueSize
	}
	return c
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

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(getenv func(string) string, key, def string) []string {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		raw = def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
