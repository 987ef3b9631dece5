//go:build unix

package realtime

import (
	"os"
	"path/filepath"
	"testing"

	"netreaper/cmd/internal/command"
	v1 "netreaper/shared/contracts/stream/v1"
)

func TestExecGateway_RealProcessRunsInWorkdir(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "marker.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	svc := newTestTokenService(t)
	gw := NewExecGateway(discardLogger(), testWSConfig(), ExecConfig{
		Workdir: workdir,
		Roots:   command.NewAllowedRoots("ls", "nonexistent-netreaper-binary"),
	}, svc, command.Runner{})
	ts := startWSTestServer(t, gw, nil, "")
	conn := mustDialWS(t, ts.URL, "/ws")

	writeJSON(t, conn, map[string]string{"token": issueToken(t, svc, "admin")})
	if got := readFrame(t, conn); got.Status != v1.StatusAuthenticated {
		t.Fatalf("unexpected frame %+v", got)
	}

	writeJSON(t, conn, map[string]string{"command": "ls"})
	want := []v1.ServerFrame{
		v1.Output("Executing: ls"),
		v1.Output("marker.txt"),
		v1.Output("Command completed with code: 0"),
	}
	for i, w := range want {
		if got := readFrame(t, conn); got != w {
			t.Fatalf("frame %d: got %+v want %+v", i, got, w)
		}
	}

	// A spawn failure is reported and the connection stays usable.
	writeJSON(t, conn, map[string]string{"command": "nonexistent-netreaper-binary"})
	if got := readFrame(t, conn); got.Output != "Executing: nonexistent-netreaper-binary" {
		t.Fatalf("unexpected frame %+v", got)
	}
	got := readFrame(t, conn)
	if len(got.Error) < len(v1.ErrMsgExecutionPrefix) || got.Error[:len(v1.ErrMsgExecutionPrefix)] != v1.ErrMsgExecutionPrefix {
		t.Fatalf("expected execution error, got %+v", got)
	}

	writeJSON(t, conn, map[string]string{"command": "ls"})
	if got := readFrame(t, conn); got.Output != "Executing: ls" {
		t.Fatalf("connection should survive an execution error, got %+v", got)
	}
}
