package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"netreaper/cmd/internal/fault"
)

// fileConfig is the --config TOML layout. Credentials are environment-only.
type fileConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Server struct {
		Addr           string   `toml:"addr"`
		Port           int      `toml:"port"`
		TLSCert        string   `toml:"tls_cert"`
		TLSKey         string   `toml:"tls_key"`
		TrustProxy     *bool    `toml:"trust_proxy"`
		AllowedOrigins []string `toml:"allowed_origins"`
		CORSOrigins    []string `toml:"cors_origins"`
	} `toml:"server"`

	NetReaper struct {
		Root         string   `toml:"root"`
		OutputDir    string   `toml:"output_dir"`
		Bin          string   `toml:"bin"`
		AllowedRoots []string `toml:"allowed_roots"`
		ExecTimeout  string   `toml:"exec_timeout"`
		ScanTimeout  string   `toml:"scan_timeout"`
	} `toml:"netreaper"`

	Auth struct {
		TokenTTL      string `toml:"token_ttl"`
		RateScope     string `toml:"rate_scope"`
		WSAuthTimeout string `toml:"ws_auth_timeout"`
		PairTTL       string `toml:"pair_ttl"`
	} `toml:"auth"`

	Database struct {
		URL            string `toml:"url"`
		MaxConns       int    `toml:"max_conns"`
		MinConns       int    `toml:"min_conns"`
		ConnLifetime   string `toml:"conn_lifetime"`
		ConnIdle       string `toml:"conn_idle"`
		ConnectTimeout string `toml:"connect_timeout"`
	} `toml:"database"`

	Audit struct {
		Log string `toml:"log"`
	} `toml:"audit"`
}

// LoadFile reads a TOML config file into environment-style keys. Unknown keys
// are a configuration error so typos do not silently fall back to defaults.
func LoadFile(path string) (map[string]string, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fault.Configf("app.LoadFile", "%s: %v", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fault.Configf("app.LoadFile", "%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return fc.env(), nil
}

func (fc fileConfig) env() map[string]string {
	out := map[string]string{}
	set := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[key] = v
		}
	}
	set("NETREAPER_LOG_LEVEL", fc.LogLevel)
	set("NETREAPER_LOG_FORMAT", fc.LogFormat)
	set("NETREAPER_HTTP_ADDR", fc.Server.Addr)
	if fc.Server.Port > 0 {
		set("NETREAPER_PORT", strconv.Itoa(fc.Server.Port))
	}
	set("NETREAPER_SSL_CERT", fc.Server.TLSCert)
	set("NETREAPER_SSL_KEY", fc.Server.TLSKey)
	if fc.Server.TrustProxy != nil {
		set("NETREAPER_TRUST_PROXY", fmt.Sprint(*fc.Server.TrustProxy))
	}
	set("NETREAPER_ALLOWED_ORIGINS", strings.Join(fc.Server.AllowedOrigins, ","))
	set("NETREAPER_CORS_ORIGINS", strings.Join(fc.Server.CORSOrigins, ","))
	set("NETREAPER_ROOT", fc.NetReaper.Root)
	set("NETREAPER_OUTPUT_DIR", fc.NetReaper.OutputDir)
	set("NETREAPER_BIN", fc.NetReaper.Bin)
	set("NETREAPER_ALLOWED_ROOTS", strings.Join(fc.NetReaper.AllowedRoots, ","))
	set("NETREAPER_EXEC_TIMEOUT", fc.NetReaper.ExecTimeout)
	set("NETREAPER_SCAN_TIMEOUT", fc.NetReaper.ScanTimeout)
	set("NETREAPER_TOKEN_TTL", fc.Auth.TokenTTL)
	set("NETREAPER_AUTH_RATE_SCOPE", fc.Auth.RateScope)
	set("NETREAPER_WS_AUTH_TIMEOUT", fc.Auth.WSAuthTimeout)
	set("NETREAPER_PAIR_TTL", fc.Auth.PairTTL)
	set("NETREAPER_DATABASE_URL", fc.Database.URL)
	if fc.Database.MaxConns > 0 {
		set("NETREAPER_DB_MAX_CONNS", strconv.Itoa(fc.Database.MaxConns))
	}
	if fc.Database.MinConns > 0 {
		set("NETREAPER_DB_MIN_CONNS", strconv.Itoa(fc.Database.MinConns))
	}
	set("NETREAPER_DB_CONN_LIFETIME", fc.Database.ConnLifetime)
	set("NETREAPER_DB_CONN_IDLE", fc.Database.ConnIdle)
	set("NETREAPER_DB_CONNECT_TIMEOUT", fc.Database.ConnectTimeout)
	set("NETREAPER_AUDIT_LOG", fc.Audit.Log)
	return out
}
