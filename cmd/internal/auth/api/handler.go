// Package authapi serves the NetReaper HTTP API: credential exchange, device
// pairing, telemetry intake and the scan job endpoints.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/auth/ratelimit"
	"netreaper/cmd/internal/auth/session"
	"netreaper/cmd/internal/metrics"
	"netreaper/cmd/internal/pairing"
	"netreaper/cmd/internal/scan"
	"netreaper/cmd/security/token"
	v1 "netreaper/shared/contracts/stream/v1"
)

// Subjects and roles minted by POST /auth.
const (
	SubjectOperator = "admin"
	RoleAdmin       = "admin"
	RoleAPI         = "api"

	methodPassword = "password"
	methodAPIToken = "api_token"
)

// TokenService issues and verifies session tokens.
type TokenService interface {
	Issue(subject, role string, now time.Time, opts ...session.IssueOption) (session.Issued, error)
	Verify(token string, now time.Time) (session.Claims, error)
}

// PasswordVerifier checks the operator password.
type PasswordVerifier interface {
	Verify(candidate string) bool
}

// PairingService creates and resolves pairing codes.
type PairingService interface {
	Pair(ctx context.Context, in pairing.PairInput) (pairing.Session, error)
	Lookup(ctx context.Context, code string, now time.Time) (pairing.Session, error)
}

// ScanService runs NetReaper scans and reports on them.
type ScanService interface {
	Submit(ctx context.Context, target string, mode scan.Mode, createdBy string) (scan.Job, error)
	Status(ctx context.Context, id string) (scan.Job, error)
	Devices(ctx context.Context) (scan.DevicesResult, error)
	Report(ctx context.Context) (scan.Report, error)
}

// Handler wires HTTP endpoints to the auth, pairing and scan services.
type Handler struct {
	log *slog.Logger
	cfg Config

	tokens   TokenService
	password PasswordVerifier
	limiter  *ratelimit.Limiter

	pairing PairingService
	scans   ScanService

	audit   audit.Recorder
	metrics *metrics.Metrics
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithPairing enables /pair routes.
func WithPairing(p PairingService) HandlerOption {
	return func(h *Handler) { h.pairing = p }
}

// WithScans enables /api/netreaper routes.
func WithScans(s ScanService) HandlerOption {
	return func(h *Handler) { h.scans = s }
}

// WithAudit records credential, pairing and scan events.
func WithAudit(r audit.Recorder) HandlerOption {
	return func(h *Handler) { h.audit = r }
}

// WithMetrics counts auth attempts.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. tokens, password and limiter are required.
func NewHandler(log *slog.Logger, cfg Config, tokens TokenService, password PasswordVerifier, limiter *ratelimit.Limiter, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if tokens == nil || password == nil || limiter == nil {
		return nil, errors.New("authapi: nil token service, password verifier or limiter")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg.withDefaults(),
		tokens:   tokens,
		password: password,
		limiter:  limiter,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires API routes onto r.
func (h *Handler) Register(r *mux.Router) {
	if h == nil || r == nil {
		return
	}
	r.HandleFunc("/auth", h.handleAuth).Methods(http.MethodPost)

	r.Handle("/pair", h.requireAuth(h.handlePair)).Methods(http.MethodPost)
	r.Handle("/pair/{code}", h.requireAuth(h.handlePairLookup)).Methods(http.MethodGet)

	r.Handle("/api/telemetry", h.requireAuth(h.handleTelemetry)).Methods(http.MethodPost)
	r.Handle("/api/action", h.requireAuth(h.handleAction)).Methods(http.MethodPost)

	r.Handle("/api/netreaper/scan", h.requireAuth(h.handleScanSubmit)).Methods(http.MethodPost)
	r.Handle("/api/netreaper/jobs/{job_id}", h.requireAuth(h.handleScanJob)).Methods(http.MethodGet)
	r.Handle("/api/netreaper/devices", h.requireAuth(h.handleScanDevices)).Methods(http.MethodGet)
	r.Handle("/api/netreaper/report", h.requireAuth(h.handleScanReport)).Methods(http.MethodGet)
}

// ---- handlers ----

func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	method := methodPassword
	switch {
	case req.Password != "" && req.APIToken != "":
		writeError(w, http.StatusBadRequest, "invalid_request", "send either password or api_token")
		return
	case req.APIToken != "":
		method = methodAPIToken
	case req.Password == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "password or api_token is required")
		return
	}

	now := h.now()
	if ok, retryAfter := h.limiter.Check(h.rateIdentity(r), now); !ok {
		h.log.Warn("auth.login.rate_limited", "method", method, "retry_after", retryAfter)
		h.auditLogin(r, method, audit.OutcomeRateLimited, "", "too many attempts")
		writeRateLimited(w, retryAfter)
		return
	}

	subject, role, ok := h.checkCredential(method, req)
	if !ok {
		h.log.Info("auth.login.failed", "method", method)
		h.auditLogin(r, method, audit.OutcomeDenied, "", "bad credential")
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	issued, err := h.tokens.Issue(subject, role, now)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.login.success", "method", method, "subject", subject, "jti", issued.ID)
	h.auditLogin(r, method, audit.OutcomeSuccess, subject, "")
	writeJSON(w, http.StatusOK, authResponse{
		Token:     issued.Token,
		TokenType: "bearer",
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *Handler) checkCredential(method string, req authRequest) (subject, role string, ok bool) {
	switch method {
	case methodAPIToken:
		if token.Equal(req.APIToken, h.cfg.StaticToken) {
			return v1.StaticTokenUser, RoleAPI, true
		}
	case methodPassword:
		if h.password.Verify(req.Password) {
			return SubjectOperator, RoleAdmin, true
		}
	}
	return "", "", false
}

func (h *Handler) handlePair(w http.ResponseWriter, r *http.Request) {
	if h.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "pairing_disabled", "pairing is not configured")
		return
	}
	var req pairRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = strings.TrimSpace(req.DeviceIDCamel)
	}

	claims := claimsFrom(r.Context())
	sess, err := h.pairing.Pair(r.Context(), pairing.PairInput{
		DeviceID:  deviceID,
		Role:      strings.ToLower(strings.TrimSpace(req.Role)),
		CreatedBy: claims.Subject,
		Now:       h.now(),
	})
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "device_id and role (remote or gui) are required")
			return
		}
		h.log.Error("pair.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("pair.create", "device_id", sess.DeviceID, "role", sess.Role, "created_by", sess.CreatedBy)
	h.auditPair(r, claims.Subject, sess.DeviceID, sess.Role)
	writeJSON(w, http.StatusOK, pairResponse{PairCode: sess.Code, Status: sess.Status, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) handlePairLookup(w http.ResponseWriter, r *http.Request) {
	if h.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "pairing_disabled", "pairing is not configured")
		return
	}
	sess, err := h.pairing.Lookup(r.Context(), mux.Vars(r)["code"], h.now())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sess)
	case errors.Is(err, pairing.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid_code", "Invalid pairing code format")
	case errors.Is(err, pairing.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Pairing code not found")
	default:
		h.log.Error("pair.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// ---- auth ----

type claimsKey struct{}

func claimsFrom(ctx context.Context) session.Claims {
	c, _ := ctx.Value(claimsKey{}).(session.Claims)
	return c
}

// requireAuth admits requests carrying a valid bearer session token.
func (h *Handler) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.tokens.Verify(tok, h.now())
		if err != nil {
			h.log.Debug("auth.bearer.reject", "err", err)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
