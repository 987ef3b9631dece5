// Package main provides a CI-friendly smoke test for a running netreaperd.
//
// It validates:
//   - POST /auth issues a session token (or -api-token selects /ws/{token})
//   - command channel handshake and "authenticated" status
//   - a command runs and streams output up to its completion line
//   - an argv[0] outside the allowlist is refused without closing the channel
//   - log channel subscription on /ws/netreaper
//
// Usage:
//
//	NETREAPER_PASSWORD=... go run ./tools/scripts/ws-smoke.go -url http://127.0.0.1:8000 -- netreaper --version
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/kballard/go-shellquote"

	v1 "netreaper/shared/contracts/stream/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8000", "netreaperd base URL (http or https)")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		apiToken = flag.String("api-token", os.Getenv("NETREAPER_API_TOKEN"), "static API token; selects /ws/{token}")
		refused  = flag.String("refused", "sh -c id", "command expected to be refused by the allowlist")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		cmdWait  = flag.Duration("command-timeout", 2*time.Minute, "Timeout for the command to complete")
		skipLogs = flag.Bool("skip-logs", false, "Skip the /ws/netreaper subscription check")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	argv := flag.Args()
	if len(argv) == 0 {
		argv = []string{"netreaper", "--version"}
	}
	command := shellquote.Join(argv...)

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	pw := os.Getenv("NETREAPER_PASSWORD")

	var sessionToken string
	if pw != "" {
		sessionToken = mustLogin(root, base, pw, *timeout)
		if *verbose {
			fmt.Println("login: session token issued")
		}
	}

	var conn *websocket.Conn
	switch {
	case *apiToken != "":
		conn = mustDial(root, wsURL(base, "/ws/"+url.PathEscape(*apiToken)), *origin, *timeout)
	case sessionToken != "":
		conn = mustDial(root, wsURL(base, "/ws"), *origin, *timeout)
		mustWrite(root, conn, v1.AuthRequest{Token: sessionToken}, *timeout)
	default:
		fatalf("set NETREAPER_PASSWORD or -api-token")
	}
	defer closeWS(conn)

	hello := mustRead(root, conn, *timeout)
	if hello.Status != v1.StatusAuthenticated {
		fatalf("command channel: expected %q, got %+v", v1.StatusAuthenticated, hello)
	}
	if *verbose {
		fmt.Printf("command channel: authenticated as %s\n", hello.User)
	}

	mustWrite(root, conn, map[string]string{"command": command}, *timeout)
	code := mustRunToCompletion(root, conn, command, *cmdWait, *verbose)

	if *refused != "" {
		mustWrite(root, conn, map[string]string{"command": *refused}, *timeout)
		f := mustRead(root, conn, *timeout)
		if f.Error == "" {
			fatalf("refused command %q: expected an error frame, got %+v", *refused, f)
		}
		// The channel must survive a rejected command.
		mustWrite(root, conn, map[string]string{"command": ""}, *timeout)
		if f := mustRead(root, conn, *timeout); f.Error != v1.ErrMsgNoCommand {
			fatalf("channel closed or misbehaved after rejection: %+v", f)
		}
	}

	if !*skipLogs && sessionToken != "" {
		logs := mustDial(root, wsURL(base, "/ws/netreaper"), *origin, *timeout)
		defer closeWS(logs)
		mustWrite(root, logs, v1.AuthRequest{Token: sessionToken}, *timeout)
		if f := mustRead(root, logs, *timeout); f.Status != v1.StatusSubscribed {
			fatalf("log channel: expected %q, got %+v", v1.StatusSubscribed, f)
		}
	}

	fmt.Printf("OK: command=%q exit_code=%s\n", command, code)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base *url.URL, path string) string {
	u := *base
	u.Scheme = "ws"
	if base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = ""
	u.RawPath = ""
	return strings.TrimRight(u.String(), "/") + path
}

func mustLogin(parent context.Context, base *url.URL, pw string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"password": pw})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("/auth").String(), bytes.NewReader(body))
	if err != nil {
		fatalf("login: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("login: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("login: decode: %v", err)
	}
	if out.Token == "" {
		fatalf("login: empty token")
	}
	return out.Token
}

func mustDial(parent context.Context, target, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", redactPath(target), err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

// mustRunToCompletion prints output frames until the completion line and
// returns the reported exit code.
func mustRunToCompletion(parent context.Context, conn *websocket.Conn, command string, wait time.Duration, verbose bool) string {
	deadline := time.Now().Add(wait)
	sawExecuting := false
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fatalf("command %q did not complete within %s", command, wait)
		}
		f := mustRead(parent, conn, remaining)
		switch {
		case f.Error != "":
			fatalf("command %q: %s", command, f.Error)
		case strings.HasPrefix(f.Output, v1.ExecutingPrefix):
			sawExecuting = true
		case strings.HasPrefix(f.Output, v1.CompletedPrefix):
			if !sawExecuting {
				fatalf("command %q: completion before %q line", command, v1.ExecutingPrefix)
			}
			return strings.TrimPrefix(f.Output, v1.CompletedPrefix)
		}
		if verbose {
			fmt.Println(f.Output)
		}
	}
}

func mustRead(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) v1.ServerFrame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		fatalf("read: unexpected message type %v", typ)
	}
	var f v1.ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		fatalf("read: decode %q: %v", data, err)
	}
	return f
}

func mustWrite(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

// redactPath hides a static token embedded in /ws/{token}.
func redactPath(target string) string {
	if i := strings.Index(target, "/ws/"); i >= 0 && !strings.HasSuffix(target, "/ws/netreaper") {
		return target[:i] + "/ws/***"
	}
	return target
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
