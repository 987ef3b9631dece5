package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// routes holds the handlers mounted by newRouter. Nil handlers are skipped.
type routes struct {
	api     interface{ Register(*mux.Router) }
	exec    http.Handler
	logs    http.Handler
	metrics http.Handler

	// ready reports dependency health for /readyz.
	ready func(ctx context.Context) error
}

// newRouter mounts the websocket channels directly and every other route
// behind the CORS policy. The gateways apply their own origin checks.
func newRouter(log *slog.Logger, cfg Config, rt routes) http.Handler {
	api := mux.NewRouter()
	api.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet, http.MethodHead)

	api.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.ready != nil {
			if err := rt.ready(r.Context()); err != nil {
				log.Info("readyz.not_ready", "err", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}).Methods(http.MethodGet, http.MethodHead)

	if rt.metrics != nil {
		api.Handle("/metrics", rt.metrics).Methods(http.MethodGet)
	}
	if rt.api != nil {
		rt.api.Register(api)
	}

	root := mux.NewRouter()
	if rt.logs != nil {
		root.Handle("/ws/netreaper", rt.logs)
	}
	if rt.exec != nil {
		root.Handle("/ws", rt.exec)
		root.Handle("/ws/{token}", rt.exec)
	}
	var rest http.Handler = WithCORS(api, cfg, log)
	if cfg.StaticToken == "" {
		// Local-only mode. The websocket gateways refuse remote peers with
		// their own error frame.
		rest = WithLoopbackOnly(rest, log)
	}
	root.PathPrefix("/").Handler(rest)

	return WithRequestLogging(WithSecurityHeaders(root), log)
}

// readiness builds the /readyz check for the configured database.
func readiness(cfg Config, ping func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if ping == nil {
			if cfg.ReadinessRequireDB {
				return errDBNotConfigured
			}
			return nil
		}
		return ping(ctx)
	}
}
