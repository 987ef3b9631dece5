// Package app wires the netreaperd runtime: config, logging, HTTP routes,
// websocket gateways, the scan manager and their shutdown order.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"

	"netreaper/cmd/internal/audit"
	authapi "netreaper/cmd/internal/auth/api"
	"netreaper/cmd/internal/auth/ratelimit"
	"netreaper/cmd/internal/auth/session"
	"netreaper/cmd/internal/command"
	"netreaper/cmd/internal/fault"
	"netreaper/cmd/internal/metrics"
	"netreaper/cmd/internal/pairing"
	"netreaper/cmd/internal/realtime"
	"netreaper/cmd/internal/scan"
	"netreaper/cmd/security/password"
	"netreaper/cmd/security/token"
)

const (
	dbSchema        = "netreaper"
	shutdownTimeout = 10 * time.Second
)

var errDBNotConfigured = errors.New("database not configured")

// App is the netreaperd runtime. It owns the HTTP server, the database pool
// and every background worker started by Run.
type App struct {
	cfg Config
	log *slog.Logger

	pool    *pgxpool.Pool
	limiter *ratelimit.Limiter
	pairing *pairing.Service
	scans   *scan.Manager
	watcher *scan.ArtifactWatcher

	handler http.Handler
}

// New constructs a fully wired App. Credentials are read through env; a
// missing or weak credential is a configuration error.
func New(ctx context.Context, cfg Config, env Env, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	if err := ValidateSecurityConfig(env); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			if a.scans != nil {
				_ = a.scans.Close()
			}
			a.release()
		}
	}()

	sessCfg, err := session.LoadConfig(env.Lookup)
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewTokenService(sessCfg)
	if err != nil {
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fault.Configf("app.New", "%v", err)
	}
	verifier, err := password.NewVerifier(env.Lookup(passwordEnvKey), pwCfg)
	if err != nil {
		return nil, fault.Configf("app.New", "%s: %v", passwordEnvKey, err)
	}
	if !verifier.IsHashed() {
		log.Warn("security.password.plaintext", "hint", "store an argon2id hash from `netreaperd hash-password`")
	}

	apiCfg, err := authapi.LoadConfig(env.Lookup)
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		a.pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled", "max_conns", cfg.DBMaxConns)
	} else {
		log.Info("db.disabled.inmemory_stores")
	}

	m := metrics.New()

	rec, err := a.newAuditRecorder(ctx)
	if err != nil {
		return nil, err
	}

	pairStore, err := a.newPairingStore(ctx)
	if err != nil {
		return nil, err
	}
	a.pairing, err = pairing.NewService(pairStore, pairing.WithTTL(cfg.PairTTL))
	if err != nil {
		return nil, err
	}

	a.limiter = ratelimit.New(
		env.Int("NETREAPER_AUTH_RATE_LIMIT", ratelimit.DefaultLimit),
		env.Duration("NETREAPER_AUTH_RATE_WINDOW", ratelimit.DefaultWindow),
	)

	broadcaster := realtime.NewBroadcaster(log, m.LogDropped)
	runner := command.Runner{}

	scanStore, err := a.newScanStore(ctx)
	if err != nil {
		return nil, err
	}
	a.scans = scan.NewManager(log, scan.Config{
		Root:      cfg.Root,
		OutputDir: cfg.OutputDir,
		Bin:       cfg.Bin,
		Timeout:   cfg.ScanTimeout,
	}, scanStore, runner, broadcaster, scan.WithMetrics(m))
	a.watcher = scan.NewArtifactWatcher(log, cfg.OutputDir, broadcaster)

	api, err := authapi.NewHandler(log, apiCfg, tokens, verifier, a.limiter,
		authapi.WithPairing(a.pairing),
		authapi.WithScans(a.scans),
		authapi.WithAudit(rec),
		authapi.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	wsCfg := realtime.LoadConfig(env.Lookup)
	exec := realtime.NewExecGateway(log, wsCfg, realtime.ExecConfig{
		Workdir: cfg.Root,
		Roots:   command.NewAllowedRoots(cfg.CommandRoots()...),
		Timeout: cfg.ExecTimeout,
	}, tokens, runner, realtime.WithAudit(rec), realtime.WithMetrics(m))
	logs := realtime.NewLogGateway(log, wsCfg, broadcaster, tokens, rec, m)

	var ping func(context.Context) error
	if a.pool != nil {
		pool := a.pool
		ping = func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) }
	}

	a.handler = newRouter(log, cfg, routes{
		api:     api,
		exec:    exec,
		logs:    logs,
		metrics: m.Handler(),
		ready:   readiness(cfg, ping),
	})
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled or the listener fails, then shuts every
// component down and reports all close errors together.
func (a *App) Run(ctx context.Context) error {
	for _, w := range SecurityWarnings(a.cfg) {
		a.log.Warn("security.warning", "msg", w)
	}

	// Cancelled on shutdown so hijacked websocket connections and the
	// commands they run end with the server.
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return connCtx },
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	bgCtx, stopBG := context.WithCancel(ctx)
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		a.sweep(bgCtx)
	}()
	go func() {
		defer bg.Done()
		a.watch(bgCtx)
	}()

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"tls", a.cfg.TLSEnabled(),
		"db_enabled", a.pool != nil,
		"root", a.cfg.Root,
		"api_token_fp", token.Fingerprint(a.cfg.StaticToken),
	)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(a.cfg.TLSCert, a.cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		result = multierror.Append(result, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		result = multierror.Append(result, err)
	}
	cancelConns()
	stopBG()
	bg.Wait()

	if err := a.scans.Close(); err != nil {
		a.log.Error("scan.manager.close.fail", "err", err)
		result = multierror.Append(result, err)
	}
	a.release()

	a.log.Info("server.stopped")
	return result.ErrorOrNil()
}

// sweep periodically drops expired limiter buckets and pairing sessions.
func (a *App) sweep(ctx context.Context) {
	t := time.NewTicker(nonZeroDuration(a.cfg.SweepInterval, time.Minute))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			now = now.UTC()
			identities := a.limiter.Sweep(now)
			sessions, err := a.pairing.PurgeExpired(ctx, now)
			if err != nil && ctx.Err() == nil {
				a.log.Warn("sweep.pairing.fail", "err", err)
			}
			if identities > 0 || sessions > 0 {
				a.log.Debug("sweep.done", "limiter_identities", identities, "pairing_sessions", sessions)
			}
		}
	}
}

// watch announces new scan artifacts. A watcher failure is logged and does
// not stop the server.
func (a *App) watch(ctx context.Context) {
	if err := os.MkdirAll(a.cfg.OutputDir, 0o750); err != nil {
		a.log.Warn("scan.watcher.disabled", "dir", a.cfg.OutputDir, "err", err)
		return
	}
	if err := a.watcher.Run(ctx); err != nil && ctx.Err() == nil {
		a.log.Warn("scan.watcher.fail", "dir", a.cfg.OutputDir, "err", err)
	}
}

func (a *App) release() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) newAuditRecorder(ctx context.Context) (audit.Recorder, error) {
	recs := audit.Multi{audit.SlogRecorder{Log: a.log}}
	if a.cfg.AuditLog != "" {
		st, err := audit.NewJSONLStore(a.cfg.AuditLog)
		if err != nil {
			return nil, fault.Configf("app.New", "NETREAPER_AUDIT_LOG: %v", err)
		}
		recs = append(recs, st)
	}
	if a.pool != nil {
		st, err := audit.NewPostgresStore(a.pool, dbSchema)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		recs = append(recs, st)
	}
	return recs, nil
}

func (a *App) newPairingStore(ctx context.Context) (pairing.Store, error) {
	if a.pool == nil {
		return pairing.NewMemoryStore(0), nil
	}
	st, err := pairing.NewPostgresStore(a.pool, pairing.WithSchema(dbSchema))
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (a *App) newScanStore(ctx context.Context) (scan.Store, error) {
	if a.pool == nil {
		return scan.NewMemoryStore(0), nil
	}
	st, err := scan.NewPostgresStore(a.pool, scan.WithSchema(dbSchema))
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
