package realtime

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/command"
	v1 "netreaper/shared/contracts/stream/v1"
)

type execFixture struct {
	runner *fakeRunner
	rec    *memRecorder
	gw     *ExecGateway
}

func newExecFixture(t *testing.T, cfg Config, workdir string) (*execFixture, string) {
	t.Helper()
	svc := newTestTokenService(t)
	f := &execFixture{runner: newFakeRunner(), rec: &memRecorder{}}
	if workdir == "" {
		workdir = t.TempDir()
	}
	f.gw = NewExecGateway(discardLogger(), cfg, ExecConfig{
		Workdir: workdir,
		Roots:   command.NewAllowedRoots("netreaper", "block"),
	}, svc, f.runner, WithAudit(f.rec))
	return f, issueToken(t, svc, "admin")
}

func authenticate(t *testing.T, conn *websocket.Conn, tok string) {
	t.Helper()
	writeJSON(t, conn, map[string]string{"token": tok})
	got := readFrame(t, conn)
	if got.Status != v1.StatusAuthenticated || got.User != "admin" {
		t.Fatalf("unexpected auth frame %+v", got)
	}
}

func TestExecGateway_LocalMode_CommandRoundTrip(t *testing.T) {
	t.Parallel()

	f, tok := newExecFixture(t, testWSConfig(), "")
	f.runner.scripts["netreaper"] = []string{"scanning 10.0.0.1", "password=hunter2"}
	f.runner.codes["netreaper"] = 3

	ts := startWSTestServer(t, f.gw, nil, "")
	conn := mustDialWS(t, ts.URL, "/ws")
	authenticate(t, conn, tok)

	writeJSON(t, conn, map[string]string{"command": "  netreaper scan --token abc 10.0.0.1 "})

	want := []v1.ServerFrame{
		v1.Output("Executing: netreaper scan --token ***REDACTED*** 10.0.0.1"),
		v1.Output("scanning 10.0.0.1"),
		v1.Output("password=***REDACTED***"),
		v1.Output("Command completed with code: 3"),
	}
	for i, w := range want {
		if got := readFrame(t, conn); got != w {
			t.Fatalf("frame %d: got %+v want %+v", i, got, w)
		}
	}

	calls := f.runner.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one run, got %d", len(calls))
	}
	if strings.Join(calls[0].Argv, " ") != "netreaper scan --token abc 10.0.0.1" {
		t.Fatalf("runner got unredacted argv %q", calls[0].Argv)
	}
	if calls[0].Timeout != defaultExecTimeout {
		t.Fatalf("expected default exec timeout, got %s", calls[0].Timeout)
	}

	entries := f.rec.byAction(audit.ActionCommand)
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeCompleted || *entries[0].ExitCode != 3 {
		t.Fatalf("unexpected audit %+v", entries)
	}
	if strings.Contains(entries[0].Command, "abc") {
		t.Fatalf("audit leaked a secret: %q", entries[0].Command)
	}
}

func TestExecGateway_ErrorsKeepConnectionOpenAndOrder(t *testing.T) {
	t.Parallel()

	f, tok := newExecFixture(t, testWSConfig(), "")
	f.runner.scripts["netreaper"] = []string{"ok"}

	ts := startWSTestServer(t, f.gw, nil, "")
	conn := mustDialWS(t, ts.URL, "/ws")
	authenticate(t, conn, tok)

	// Sent back to back; replies must come back in the same order.
	writeRaw(t, conn, `not json`)
	writeJSON(t, conn, map[string]string{"command": "   "})
	writeJSON(t, conn, map[string]string{"command": "rm -rf /"})
	writeJSON(t, conn, map[string]string{"command": "netreaper status;id"})
	writeJSON(t, conn, map[string]string{"command": "netreaper ../etc"})
	writeJSON(t, conn, map[string]string{"command": "netreaper status"})

	want := []v1.ServerFrame{
		v1.Error(v1.ErrMsgInvalidJSON),
		v1.Error(v1.ErrMsgNoCommand),
		v1.Error("Command not permitted: rm"),
		v1.Error(command.ReasonMetachar),
		v1.Error(command.ReasonTraversal),
		v1.Output("Executing: netreaper status"),
		v1.Output("ok"),
		v1.Output("Command completed with code: 0"),
	}
	for i, w := range want {
		if got := readFrame(t, conn); got != w {
			t.Fatalf("frame %d: got %+v want %+v", i, got, w)
		}
	}

	if n := len(f.runner.calls()); n != 1 {
		t.Fatalf("rejected commands must never reach the runner, got %d runs", n)
	}
	rejected := 0
	for _, e := range f.rec.byAction(audit.ActionCommand) {
		if e.Outcome == audit.OutcomeRejected {
			rejected++
		}
	}
	if rejected != 3 {
		t.Fatalf("expected 3 rejected audit entries, got %d", rejected)
	}
}

func TestExecGateway_LocalMode_HandshakeFailures(t *testing.T) {
	t.Parallel()

	svc := newTestTokenService(t)
	other := issueToken(t, svc, "admin") + "x"

	tests := []struct {
		name  string
		first string
		want  string
	}{
		{name: "bad token", first: `{"token":"` + other + `"}`, want: v1.ErrMsgAuthFailed},
		{name: "garbage token", first: `{"token":"v4.local.nope"}`, want: v1.ErrMsgAuthFailed},
		{name: "missing field", first: `{"command":"netreaper"}`, want: v1.ErrMsgInvalidAuth},
		{name: "bad json", first: `{`, want: v1.ErrMsgInvalidAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, _ := newExecFixture(t, testWSConfig(), "")
			ts := startWSTestServer(t, f.gw, nil, "")
			conn := mustDialWS(t, ts.URL, "/ws")

			writeRaw(t, conn, tt.first)
			if got := readFrame(t, conn); got.Error != tt.want {
				t.Fatalf("got %+v want error %q", got, tt.want)
			}
			if code := expectClose(t, conn); code != websocket.StatusPolicyViolation {
				t.Fatalf("expected 1008, got %d", code)
			}
			if len(f.runner.calls()) != 0 {
				t.Fatalf("runner must not be reached")
			}
			if e := f.rec.waitAction(t, audit.ActionWSAuth, 1); len(e) != 1 || e[0].Outcome != audit.OutcomeDenied {
				t.Fatalf("expected denied auth audit, got %+v", e)
			}
			if lost := f.rec.lostEntries(); len(lost) != 0 {
				t.Fatalf("audit entries recorded with a dead context: %+v", lost)
			}
		})
	}
}

func TestExecGateway_StaticTokenMode(t *testing.T) {
	t.Parallel()

	cfg := testWSConfig()
	cfg.StaticToken = "static-api-token-value"

	f, _ := newExecFixture(t, cfg, "")
	f.runner.scripts["netreaper"] = []string{"hi"}
	// Static mode lifts the loopback restriction.
	ts := startWSTestServer(t, f.gw, nil, "203.0.113.7:40000")

	conn := mustDialWS(t, ts.URL, "/ws/static-api-token-value")
	got := readFrame(t, conn)
	if got != v1.Authenticated(v1.StaticTokenUser) {
		t.Fatalf("unexpected auth frame %+v", got)
	}
	writeJSON(t, conn, map[string]string{"command": "netreaper"})
	if got := readFrame(t, conn); got.Output != "Executing: netreaper" {
		t.Fatalf("unexpected frame %+v", got)
	}

	bad := mustDialWS(t, ts.URL, "/ws/wrong")
	if got := readFrame(t, bad); got.Error != v1.ErrMsgInvalidAPIToken {
		t.Fatalf("unexpected frame %+v", got)
	}
	if code := expectClose(t, bad); code != websocket.StatusPolicyViolation {
		t.Fatalf("expected 1008, got %d", code)
	}

	// Without a path token the static mode still refuses.
	bare := mustDialWS(t, ts.URL, "/ws")
	if got := readFrame(t, bare); got.Error != v1.ErrMsgInvalidAPIToken {
		t.Fatalf("unexpected frame %+v", got)
	}
}

func TestExecGateway_RemotePeerRefusedWithoutStaticToken(t *testing.T) {
	t.Parallel()

	f, _ := newExecFixture(t, testWSConfig(), "")
	ts := startWSTestServer(t, f.gw, nil, "198.51.100.4:5555")

	conn := mustDialWS(t, ts.URL, "/ws")
	if got := readFrame(t, conn); got.Error != v1.ErrMsgRemoteDisabled {
		t.Fatalf("unexpected frame %+v", got)
	}
	if code := expectClose(t, conn); code != websocket.StatusPolicyViolation {
		t.Fatalf("expected 1008, got %d", code)
	}
}

func TestExecGateway_MissingWorkdir(t *testing.T) {
	t.Parallel()

	f, tok := newExecFixture(t, testWSConfig(), "/nonexistent/netreaper-workdir")
	ts := startWSTestServer(t, f.gw, nil, "")
	conn := mustDialWS(t, ts.URL, "/ws")
	authenticate(t, conn, tok)

	if got := readFrame(t, conn); got.Error != v1.ErrMsgWorkdirMissing {
		t.Fatalf("unexpected frame %+v", got)
	}
	expectClose(t, conn)
}

func TestExecGateway_DisconnectCancelsRunningCommand(t *testing.T) {
	t.Parallel()

	f, tok := newExecFixture(t, testWSConfig(), "")
	ts := startWSTestServer(t, f.gw, nil, "")
	conn := mustDialWS(t, ts.URL, "/ws")
	authenticate(t, conn, tok)

	writeJSON(t, conn, map[string]string{"command": "block"})
	if got := readFrame(t, conn); got.Output != "Executing: block" {
		t.Fatalf("unexpected frame %+v", got)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-f.runner.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatalf("running command was not cancelled on disconnect")
	}
}

func TestExecGateway_OriginRejected(t *testing.T) {
	t.Parallel()

	f, _ := newExecFixture(t, testWSConfig(), "")
	ts := startWSTestServer(t, f.gw, nil, "")

	_, resp, err := dialWS(t, ts.URL, "/ws", "https://evil.example")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestExecGateway_RateLimitClosesConnection(t *testing.T) {
	t.Parallel()

	cfg := testWSConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute

	f, tok := newExecFixture(t, cfg, "")
	ts := startWSTestServer(t, f.gw, nil, "")
	conn := mustDialWS(t, ts.URL, "/ws")
	authenticate(t, conn, tok)

	for i := 0; i < 3; i++ {
		writeJSON(t, conn, map[string]string{"command": ""})
	}
	sawLimit := false
	for i := 0; i < 3; i++ {
		if got := readFrame(t, conn); got.Error == v1.ErrMsgRateLimited {
			sawLimit = true
			break
		}
	}
	if !sawLimit {
		t.Fatalf("expected a rate limit frame")
	}
	if code := expectClose(t, conn); code != websocket.StatusPolicyViolation {
		t.Fatalf("expected 1008, got %d", code)
	}
}
