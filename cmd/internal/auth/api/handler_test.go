package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/auth/ratelimit"
	"netreaper/cmd/internal/auth/session"
	"netreaper/cmd/internal/fault"
	"netreaper/cmd/internal/pairing"
	"netreaper/cmd/internal/scan"
	"netreaper/cmd/security/password"
	v1 "netreaper/shared/contracts/stream/v1"
)

const (
	testPassword = "correct horse battery staple"
	testAPIToken = "static-api-token-0123456789abcdef"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memRecorder) outcomes(action audit.Action) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e.Outcome)
		}
	}
	return out
}

type fakeScans struct {
	mu        sync.Mutex
	submitted []string
	job       scan.Job
	devices   scan.DevicesResult
	report    scan.Report
}

func (f *fakeScans) Submit(_ context.Context, target string, mode scan.Mode, createdBy string) (scan.Job, error) {
	if err := scan.ValidateTarget(strings.TrimSpace(target)); err != nil {
		return scan.Job{}, err
	}
	if mode != "" && mode != scan.ModeQuick && mode != scan.ModeWifi {
		return scan.Job{}, scan.ErrInvalidMode
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, createdBy+":"+target)
	return f.job, nil
}

func (f *fakeScans) Status(_ context.Context, id string) (scan.Job, error) {
	if id != f.job.ID {
		return scan.Job{}, scan.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeScans) Devices(context.Context) (scan.DevicesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeScans) Report(context.Context) (scan.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, nil
}

type apiFixture struct {
	srv    *httptest.Server
	clock  *testClock
	tokens *session.TokenService
	audit  *memRecorder
	scans  *fakeScans
	logs   *syncBuffer
}

func newAPIFixture(t *testing.T, cfg Config) *apiFixture {
	t.Helper()

	tokens, err := session.NewTokenService(session.Config{
		Issuer: "netreaper",
		TTL:    time.Hour,
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pw, err := password.NewVerifier(testPassword, password.DefaultConfig())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	pairs, err := pairing.NewService(pairing.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("pairing.NewService: %v", err)
	}

	f := &apiFixture{
		clock:  &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		tokens: tokens,
		audit:  &memRecorder{},
		scans:  &fakeScans{job: scan.Job{ID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Status: scan.StatusQueued, Mode: scan.ModeQuick}},
		logs:   &syncBuffer{},
	}
	log := slog.New(slog.NewJSONHandler(f.logs, nil))

	h, err := NewHandler(log, cfg, tokens, pw, ratelimit.New(5, 300*time.Second),
		WithPairing(pairs),
		WithScans(f.scans),
		WithAudit(f.audit),
		WithClock(f.clock.Now),
	)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	r := mux.NewRouter()
	h.Register(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, out
}

func (f *apiFixture) login(t *testing.T) string {
	t.Helper()
	res, body := f.do(t, http.MethodPost, "/auth", "", map[string]string{"password": testPassword})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d body=%s", res.StatusCode, body)
	}
	var out authResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	return out.Token
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e.Error.Code
}

func TestAuth_PasswordIssuesVerifiableToken(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())

	res, body := f.do(t, http.MethodPost, "/auth", "", map[string]string{"password": "wrong password here"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected generic 401, got %d %s", res.StatusCode, body)
	}
	if res.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("error responses must not be cached")
	}

	res, body = f.do(t, http.MethodPost, "/auth", "", map[string]string{"password": testPassword})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, body)
	}
	var out authResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if !out.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Fatalf("expires_at = %v", out.ExpiresAt)
	}
	claims, err := f.tokens.Verify(out.Token, f.clock.Now().Add(59*time.Minute))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != SubjectOperator || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}

	got := f.audit.outcomes(audit.ActionLogin)
	if len(got) != 2 || got[0] != audit.OutcomeDenied || got[1] != audit.OutcomeSuccess {
		t.Fatalf("unexpected login audit %v", got)
	}
	if strings.Contains(f.logs.String(), testPassword) {
		t.Fatalf("password leaked into logs")
	}
}

func TestAuth_RateLimitedAfterFiveAttempts(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		res, _ := f.do(t, http.MethodPost, "/auth", "", map[string]string{"password": "nope nope nope"})
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, res.StatusCode)
		}
	}

	// The budget is spent: even the right password is refused.
	res, body := f.do(t, http.MethodPost, "/auth", "", map[string]string{"password": testPassword})
	if res.StatusCode != http.StatusTooManyRequests || errorCode(t, body) != "rate_limited" {
		t.Fatalf("expected 429, got %d %s", res.StatusCode, body)
	}
	if res.Header.Get("Retry-After") != "300" {
		t.Fatalf("Retry-After = %q", res.Header.Get("Retry-After"))
	}

	f.clock.Advance(301 * time.Second)
	if tok := f.login(t); tok == "" {
		t.Fatalf("expected login after the window")
	}
}

func TestAuth_APIToken(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StaticToken = testAPIToken
	f := newAPIFixture(t, cfg)

	res, body := f.do(t, http.MethodPost, "/auth", "", map[string]string{"api_token": testAPIToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", res.StatusCode, body)
	}
	var out authResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	claims, err := f.tokens.Verify(out.Token, f.clock.Now())
	if err != nil || claims.Subject != v1.StaticTokenUser || claims.Role != RoleAPI {
		t.Fatalf("claims=%+v err=%v", claims, err)
	}

	res, _ = f.do(t, http.MethodPost, "/auth", "", map[string]string{"api_token": testAPIToken + "x"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", res.StatusCode)
	}

	// Without a configured static token the field never authenticates.
	g := newAPIFixture(t, DefaultConfig())
	res, _ = g.do(t, http.MethodPost, "/auth", "", map[string]string{"api_token": ""})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty credential, got %d", res.StatusCode)
	}
	res, _ = g.do(t, http.MethodPost, "/auth", "", map[string]string{"api_token": testAPIToken})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no static token, got %d", res.StatusCode)
	}
}

func TestAuth_BadRequests(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "not json", body: "password=x", code: "invalid_json"},
		{name: "unknown field", body: `{"password":"x","user":"root"}`, code: "invalid_json"},
		{name: "trailing data", body: `{"password":"x"}{}`, code: "invalid_json"},
		{name: "empty", body: `{}`, code: "invalid_request"},
		{name: "both", body: `{"password":"x","api_token":"y"}`, code: "invalid_request"},
	}
	for _, tt := range tests {
		res, body := f.do(t, http.MethodPost, "/auth", "", tt.body)
		if res.StatusCode != http.StatusBadRequest || errorCode(t, body) != tt.code {
			t.Fatalf("%s: got %d %s", tt.name, res.StatusCode, body)
		}
	}

	res, _ := f.do(t, http.MethodGet, "/auth", "", nil)
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /auth: expected 405, got %d", res.StatusCode)
	}
}

func TestRateIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		xff  string
		want string
	}{
		{name: "client", cfg: Config{RateScope: ScopeClient}, want: "192.0.2.7"},
		{name: "client ignores xff", cfg: Config{RateScope: ScopeClient}, xff: "198.51.100.1", want: "192.0.2.7"},
		{name: "client trusts proxy", cfg: Config{RateScope: ScopeClient, TrustProxy: true}, xff: "bogus, 198.51.100.1", want: "198.51.100.1"},
		{name: "global", cfg: Config{RateScope: ScopeGlobal}, want: ratelimit.GlobalIdentity},
	}
	for _, tt := range tests {
		h := &Handler{cfg: tt.cfg}
		req := httptest.NewRequest(http.MethodPost, "/auth", nil)
		req.RemoteAddr = "192.0.2.7:41000"
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := h.rateIdentity(req); got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())
	tok := f.login(t)

	res, _ := f.do(t, http.MethodGet, "/api/netreaper/report", "", nil)
	if res.StatusCode != http.StatusUnauthorized || res.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing bearer: got %d", res.StatusCode)
	}
	res, _ = f.do(t, http.MethodGet, "/api/netreaper/report", "v4.local.garbage", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage bearer: got %d", res.StatusCode)
	}
	res, _ = f.do(t, http.MethodGet, "/api/netreaper/report", tok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("valid bearer: got %d", res.StatusCode)
	}

	f.clock.Advance(61 * time.Minute)
	res, body := f.do(t, http.MethodGet, "/api/netreaper/report", tok, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expired bearer: got %d %s", res.StatusCode, body)
	}
}

func TestPairing_CreateAndLookup(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())
	tok := f.login(t)

	res, body := f.do(t, http.MethodPost, "/pair", tok, map[string]string{"deviceId": "tablet-1", "role": "GUI"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pair: %d %s", res.StatusCode, body)
	}
	var pr pairResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		t.Fatal(err)
	}
	if !pairing.ValidCode(pr.PairCode) || pr.Status != pairing.StatusPaired {
		t.Fatalf("unexpected pair response %+v", pr)
	}

	res, body = f.do(t, http.MethodGet, "/pair/"+pr.PairCode, tok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lookup: %d %s", res.StatusCode, body)
	}
	var sess pairing.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatal(err)
	}
	if sess.DeviceID != "tablet-1" || sess.Role != pairing.RoleGUI || sess.CreatedBy != SubjectOperator {
		t.Fatalf("unexpected session %+v", sess)
	}

	tests := []struct {
		code   string
		status int
	}{
		{code: "abc", status: http.StatusBadRequest},
		{code: "lowercase123", status: http.StatusBadRequest},
		{code: "ZZZZZZZZZZZ", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		res, _ := f.do(t, http.MethodGet, "/pair/"+tt.code, tok, nil)
		if res.StatusCode != tt.status {
			t.Fatalf("lookup %q: expected %d, got %d", tt.code, tt.status, res.StatusCode)
		}
	}

	res, _ = f.do(t, http.MethodPost, "/pair", tok, map[string]string{"device_id": "x", "role": "admin"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad role: expected 400, got %d", res.StatusCode)
	}
	if got := f.audit.outcomes(audit.ActionPair); len(got) != 1 {
		t.Fatalf("expected one pairing audit entry, got %v", got)
	}
}

func TestEvents_SecretsNeverLogged(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())
	tok := f.login(t)

	body := map[string]any{
		"device_id": "phone-7",
		"kind":      "battery",
		"ts":        "2026-03-01T12:00:00Z",
		"level":     42,
		"password":  "hunter2-hunter2",
		"nested":    map[string]any{"api_key": "k-123456", "note": "token=abcdef"},
	}
	for _, path := range []string{"/api/telemetry", "/api/action"} {
		res, out := f.do(t, http.MethodPost, path, tok, body)
		if res.StatusCode != http.StatusOK || !strings.Contains(string(out), `"ok":true`) {
			t.Fatalf("%s: %d %s", path, res.StatusCode, out)
		}
	}

	logs := f.logs.String()
	for _, secret := range []string{"hunter2-hunter2", "k-123456", "abcdef"} {
		if strings.Contains(logs, secret) {
			t.Fatalf("secret %q leaked into logs: %s", secret, logs)
		}
	}
	if !strings.Contains(logs, "telemetry.received") || !strings.Contains(logs, "action.received") {
		t.Fatalf("expected both events logged: %s", logs)
	}

	res, _ := f.do(t, http.MethodPost, "/api/telemetry", tok, `["not","an","object"]`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("array body: expected 400, got %d", res.StatusCode)
	}
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	ev := newEvent("action", "action", map[string]any{
		"deviceId": "d1",
		"action":   "reboot",
		"ts":       1700000000.0,
		"secret":   "s",
		"Token":    "t",
		"args":     []any{"--force", map[string]any{"passwd": "p"}},
	})
	if ev.DeviceID != "d1" || ev.Name != "reboot" || ev.TS != "1.7e+09" {
		t.Fatalf("unexpected known fields %+v", ev)
	}
	if ev.Dropped != 3 {
		t.Fatalf("expected 3 dropped keys, got %d", ev.Dropped)
	}
	if _, ok := ev.Extra["args"]; !ok || len(ev.Extra) != 1 {
		t.Fatalf("unexpected passthrough %+v", ev.Extra)
	}
}

func TestScanEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, DefaultConfig())
	tok := f.login(t)

	res, body := f.do(t, http.MethodPost, "/api/netreaper/scan", tok, scanRequest{Target: "192.168.1.0/24"})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: %d %s", res.StatusCode, body)
	}
	var sr scanResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		t.Fatal(err)
	}
	if !sr.OK || sr.JobID != f.scans.job.ID {
		t.Fatalf("unexpected submit response %+v", sr)
	}

	tests := []struct {
		name string
		req  scanRequest
	}{
		{name: "empty target", req: scanRequest{Target: "  "}},
		{name: "option injection", req: scanRequest{Target: "-oN /etc/passwd"}},
		{name: "metachar", req: scanRequest{Target: "10.0.0.1;id"}},
		{name: "bad mode", req: scanRequest{Target: "10.0.0.1", Mode: "deep"}},
	}
	for _, tt := range tests {
		res, body := f.do(t, http.MethodPost, "/api/netreaper/scan", tok, tt.req)
		if res.StatusCode != http.StatusBadRequest || errorCode(t, body) != "invalid_request" {
			t.Fatalf("%s: got %d %s", tt.name, res.StatusCode, body)
		}
	}
	got := f.audit.outcomes(audit.ActionScanSubmit)
	if len(got) != 5 || got[0] != audit.OutcomeSuccess || got[4] != audit.OutcomeRejected {
		t.Fatalf("unexpected scan audit %v", got)
	}

	res, _ = f.do(t, http.MethodGet, "/api/netreaper/jobs/"+sr.JobID, tok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", res.StatusCode)
	}
	res, body = f.do(t, http.MethodGet, "/api/netreaper/jobs/nope", tok, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("unknown job: got %d %s", res.StatusCode, body)
	}

	f.scans.mu.Lock()
	f.scans.devices = scan.DevicesResult{Devices: []scan.Device{}, Note: scan.NoteNoOutput}
	f.scans.mu.Unlock()
	res, body = f.do(t, http.MethodGet, "/api/netreaper/devices", tok, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), scan.NoteNoOutput) {
		t.Fatalf("devices: %d %s", res.StatusCode, body)
	}
}

func TestScanValidationReasonIsAdvisory(t *testing.T) {
	t.Parallel()

	err := scan.ValidateTarget("-sV")
	if !fault.IsValidation(err) || fault.ReasonOf(err) == "" {
		t.Fatalf("expected a validation reason, got %v", err)
	}
}
