package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/auth/session"
	"netreaper/cmd/internal/command"
	v1 "netreaper/shared/contracts/stream/v1"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTokenService(t *testing.T) *session.TokenService {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Secret = []byte(testSecret)
	svc, err := session.NewTokenService(cfg)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func issueToken(t *testing.T, svc *session.TokenService, subject string) string {
	t.Helper()
	iss, err := svc.Issue(subject, "operator", time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return iss.Token
}

// fakeRunner replays scripted output keyed by argv[0]. "block" waits for
// cancellation and reports it on cancelled.
type fakeRunner struct {
	mu        sync.Mutex
	specs     []command.Spec
	scripts   map[string][]string
	codes     map[string]int
	cancelled chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		scripts:   map[string][]string{},
		codes:     map[string]int{},
		cancelled: make(chan struct{}, 1),
	}
}

func (f *fakeRunner) Run(ctx context.Context, spec command.Spec, onLine func(string)) (command.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	lines := f.scripts[spec.Argv[0]]
	code := f.codes[spec.Argv[0]]
	f.mu.Unlock()

	if spec.Argv[0] == "block" {
		<-ctx.Done()
		f.cancelled <- struct{}{}
		return command.Result{ExitCode: -1}, ctx.Err()
	}
	for _, l := range lines {
		onLine(l)
	}
	return command.Result{ExitCode: code, Lines: len(lines)}, nil
}

func (f *fakeRunner) calls() []command.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Spec(nil), f.specs...)
}

// memRecorder refuses entries whose context is already done, the way a
// database-backed store would, and remembers them as lost.
type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	lost    []audit.Entry
}

func (m *memRecorder) Record(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		m.lost = append(m.lost, e)
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) lostEntries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.lost...)
}

// waitAction polls until n entries with action a were recorded.
func (m *memRecorder) waitAction(t *testing.T, a audit.Action, n int) []audit.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := m.byAction(a)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d %s entries, got %+v (lost %+v)", n, a, got, m.lostEntries())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (m *memRecorder) byAction(a audit.Action) []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, e := range m.entries {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

func testWSConfig() Config {
	return Config{
		Origin:           OriginPolicy{Allowed: []string{"http://localhost", "http://127.0.0.1"}},
		HeartbeatEvery:   time.Hour,
		HeartbeatTimeout: time.Second,
		AuthTimeout:      2 * time.Second,
		ReadIdleTimeout:  time.Minute,
	}
}

// startWSTestServer mounts the gateways the way the app router does.
// remoteAddr, when set, replaces the peer address seen by the handlers.
func startWSTestServer(t *testing.T, exec *ExecGateway, logs *LogGateway, remoteAddr string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	if logs != nil {
		r.Handle("/ws/netreaper", logs)
	}
	if exec != nil {
		r.Handle("/ws", exec)
		r.Handle("/ws/{token}", exec)
	}
	var h http.Handler = r
	if remoteAddr != "" {
		h = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.RemoteAddr = remoteAddr
			r.ServeHTTP(w, req)
		})
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL, path, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = path

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
}

func mustDialWS(t *testing.T, baseHTTPURL, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, path, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeRaw(t, conn, string(b))
}

func writeRaw(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) v1.ServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var f v1.ServerFrame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("unmarshal frame %q: %v", b, err)
	}
	return f
}

// expectClose reads until the server closes and returns the close status.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}
