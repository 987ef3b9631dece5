package app

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"netreaper/cmd/internal/fault"
)

const defaultPort = 8000

const defaultCORSOrigins = "http://localhost:*,http://127.0.0.1:*,https://localhost:*,https://127.0.0.1:*"

// Config contains the runtime configuration of netreaperd.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	TLSCert string
	TLSKey  string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Optional Postgres backing for pairing sessions, scan jobs and audit.
	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	DBConnLifetime   time.Duration
	DBConnIdleTime   time.Duration
	DBConnectTimeout time.Duration

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Root is the NetReaper checkout; commands and scans run inside it.
	Root         string
	OutputDir    string
	Bin          string
	AllowedRoots []string

	ExecTimeout   time.Duration
	ScanTimeout   time.Duration
	PairTTL       time.Duration
	SweepInterval time.Duration

	// AuditLog is the JSONL audit trail path; empty disables the file sink.
	AuditLog string

	// StaticToken mirrors NETREAPER_API_TOKEN; it decides the bind host.
	StaticToken string
}

// LoadConfig resolves Config through env. It returns a configuration error
// for settings that cannot be defaulted safely.
func LoadConfig(env Env) (Config, error) {
	cfg := Config{
		LogLevel:  env.String("NETREAPER_LOG_LEVEL", "info"),
		LogFormat: env.String("NETREAPER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: env.Duration("NETREAPER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.Duration("NETREAPER_HTTP_READ_TIMEOUT", 15*time.Second),
		IdleTimeout:       env.Duration("NETREAPER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.Int("NETREAPER_HTTP_MAX_HEADER_BYTES", 1<<20),

		TLSCert: env.String("NETREAPER_SSL_CERT", ""),
		TLSKey:  env.String("NETREAPER_SSL_KEY", ""),

		CORSAllowedOrigins:   env.CSV("NETREAPER_CORS_ORIGINS"),
		CORSAllowCredentials: env.Bool("NETREAPER_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    env.Int("NETREAPER_CORS_MAX_AGE", 600),

		DatabaseURL:        env.String("NETREAPER_DATABASE_URL", ""),
		DBMaxConns:         env.Int32("NETREAPER_DB_MAX_CONNS", 10),
		DBMinConns:         env.Int32("NETREAPER_DB_MIN_CONNS", 0),
		DBConnLifetime:     env.Duration("NETREAPER_DB_CONN_LIFETIME", time.Hour),
		DBConnIdleTime:     env.Duration("NETREAPER_DB_CONN_IDLE", 30*time.Minute),
		DBConnectTimeout:   env.Duration("NETREAPER_DB_CONNECT_TIMEOUT", 5*time.Second),
		ReadinessRequireDB: env.Bool("NETREAPER_READINESS_REQUIRE_DB", false),

		Bin:          env.String("NETREAPER_BIN", filepath.Join("bin", "netreaper")),
		AllowedRoots: env.CSV("NETREAPER_ALLOWED_ROOTS"),

		ExecTimeout:   env.Duration("NETREAPER_EXEC_TIMEOUT", 10*time.Minute),
		ScanTimeout:   env.Duration("NETREAPER_SCAN_TIMEOUT", 2*time.Hour),
		PairTTL:       env.Duration("NETREAPER_PAIR_TTL", 24*time.Hour),
		SweepInterval: env.Duration("NETREAPER_SWEEP_INTERVAL", time.Minute),

		AuditLog:    env.String("NETREAPER_AUDIT_LOG", ""),
		StaticToken: env.String("NETREAPER_API_TOKEN", ""),
	}

	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = strings.Split(defaultCORSOrigins, ",")
	}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Config{}, fault.Configf("app.LoadConfig", "NETREAPER_SSL_CERT and NETREAPER_SSL_KEY must be set together")
	}

	root := env.String("NETREAPER_ROOT", "")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fault.Configf("app.LoadConfig", "resolve working directory: %v", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fault.Configf("app.LoadConfig", "NETREAPER_ROOT: %v", err)
	}
	cfg.Root = abs
	cfg.OutputDir = env.String("NETREAPER_OUTPUT_DIR", filepath.Join(cfg.Root, "output"))

	cfg.HTTPAddr = env.String("NETREAPER_HTTP_ADDR", "")
	if cfg.HTTPAddr == "" {
		host := "127.0.0.1"
		if cfg.StaticToken != "" {
			host = "0.0.0.0"
		}
		cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(env.Int("NETREAPER_PORT", defaultPort)))
	}
	if cfg.StaticToken == "" && !loopbackBind(cfg.HTTPAddr) {
		return Config{}, fault.Configf("app.LoadConfig",
			"NETREAPER_HTTP_ADDR %q is not a loopback address; set NETREAPER_API_TOKEN to serve remote peers", cfg.HTTPAddr)
	}
	return cfg, nil
}

// TLSEnabled reports whether the server terminates TLS itself.
func (c Config) TLSEnabled() bool { return c.TLSCert != "" && c.TLSKey != "" }

// BinPath resolves Bin against Root.
func (c Config) BinPath() string {
	if filepath.IsAbs(c.Bin) {
		return c.Bin
	}
	return filepath.Join(c.Root, c.Bin)
}

// CommandRoots returns the argv[0] values a command connection may run.
func (c Config) CommandRoots() []string {
	roots := []string{c.BinPath(), "netreaper"}
	return append(roots, c.AllowedRoots...)
}
