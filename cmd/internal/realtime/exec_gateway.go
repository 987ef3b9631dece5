package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/command"
	"netreaper/cmd/internal/fault"
	"netreaper/cmd/internal/metrics"
	"netreaper/cmd/security/sanitize"
	v1 "netreaper/shared/contracts/stream/v1"
)

// CommandRunner executes a validated argv and streams its merged output.
type CommandRunner interface {
	Run(ctx context.Context, spec command.Spec, onLine func(string)) (command.Result, error)
}

// ExecConfig describes what a command connection may run and where.
type ExecConfig struct {
	Workdir   string
	Roots     command.AllowedRoots
	MaxLength int
	MaxArgs   int
	Timeout   time.Duration
	Env       []string
}

// ExecGateway serves the command channel: /ws/{token} and /ws.
type ExecGateway struct {
	log      *slog.Logger
	cfg      Config
	exec     ExecConfig
	verifier TokenVerifier
	runner   CommandRunner
	audit    audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// ExecOption configures an ExecGateway.
type ExecOption func(*ExecGateway)

func WithAudit(r audit.Recorder) ExecOption { return func(g *ExecGateway) { g.audit = r } }

func WithMetrics(m *metrics.Metrics) ExecOption { return func(g *ExecGateway) { g.metrics = m } }

// WithClock overrides the clock used for token verification and rate limits.
func WithClock(now func() time.Time) ExecOption {
	return func(g *ExecGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewExecGateway constructs the command channel handler.
func NewExecGateway(log *slog.Logger, cfg Config, exec ExecConfig, verifier TokenVerifier, runner CommandRunner, opts ...ExecOption) *ExecGateway {
	if log == nil {
		log = slog.Default()
	}
	if runner == nil {
		runner = command.Runner{}
	}
	if exec.MaxLength <= 0 {
		exec.MaxLength = defaultMaxCommandRunes
	}
	if exec.MaxArgs <= 0 {
		exec.MaxArgs = defaultMaxCommandArgs
	}
	if exec.Timeout <= 0 {
		exec.Timeout = defaultExecTimeout
	}
	g := &ExecGateway{
		log:      log,
		cfg:      cfg.withDefaults(),
		exec:     exec,
		verifier: verifier,
		runner:   runner,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *ExecGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, ok := acceptConn(w, r, g.cfg, g.log, "command")
	if !ok {
		return
	}
	defer g.metrics.ConnOpened("command")()

	if !g.handshake(c, mux.Vars(r)["token"]) {
		c.finish(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	if fi, err := os.Stat(g.exec.Workdir); err != nil || !fi.IsDir() {
		c.log.Error("ws.workdir.missing", "workdir", g.exec.Workdir, "err", err)
		_ = c.writeNow(v1.Error(v1.ErrMsgWorkdirMissing))
		c.finish(websocket.StatusInternalError, "workdir missing")
		return
	}

	c.start()
	g.serve(c)
	c.finish(websocket.StatusNormalClosure, "bye")
}

func (g *ExecGateway) handshake(c *wsConn, pathToken string) bool {
	var res authResult
	if g.cfg.StaticToken != "" {
		res = staticAuth(c, pathToken, g.cfg.StaticToken)
	} else if r, refused := remoteRefused(c); refused {
		res = r
	} else {
		res = sessionAuth(c, g.verifier, g.now, true)
	}

	outcome := audit.OutcomeSuccess
	if !res.ok {
		outcome = audit.OutcomeDenied
		c.log.Info("ws.auth.fail", "method", res.method, "reason", res.reason, "remote", c.remote)
	} else {
		c.client.Subject = res.subject
		c.log.Info("ws.auth.ok", "method", res.method, "subject", res.subject)
	}
	g.metrics.AuthAttempt("ws_"+res.method, outcome)
	// Recorded before the denial closes the socket and cancels c.ctx.
	audit.Log(context.WithoutCancel(c.ctx), g.audit, g.log, audit.Entry{
		Action:  audit.ActionWSAuth,
		ConnID:  c.id,
		Remote:  c.remote,
		Subject: res.subject,
		Outcome: outcome,
		Reason:  res.reason,
	})
	if !res.ok {
		res.refuse(c)
	}
	return res.ok
}

// serve runs the read loop and a single executor goroutine. Every received
// frame goes through the executor queue so responses keep arrival order.
func (g *ExecGateway) serve(c *wsConn) {
	queue := make(chan []byte, commandQueueSize)
	var busy atomic.Bool

	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		for {
			select {
			case <-c.ctx.Done():
				return
			case data := <-queue:
				busy.Store(true)
				g.handle(c, data)
				busy.Store(false)
			}
		}
	}()

	// Idle connections are closed, but never while a command is running.
	var idle *time.Timer
	idle = time.AfterFunc(g.cfg.ReadIdleTimeout, func() {
		if busy.Load() || len(queue) > 0 {
			idle.Reset(g.cfg.ReadIdleTimeout)
			return
		}
		c.log.Info("ws.idle.timeout")
		c.shutdown(websocket.StatusGoingAway, "idle timeout")
	})
	defer idle.Stop()

	budget := newFrameBudget(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		data, err := c.read(0)
		if err != nil {
			c.closeOnReadErr(err)
			break readLoop
		}
		idle.Reset(g.cfg.ReadIdleTimeout)

		if !budget.take(g.now()) {
			c.log.Info("ws.rate_limited", "remote", c.remote)
			g.metrics.Command(audit.OutcomeRateLimited)
			audit.Log(c.ctx, g.audit, g.log, audit.Entry{
				Action:  audit.ActionCommand,
				ConnID:  c.id,
				Remote:  c.remote,
				Subject: c.client.Subject,
				Outcome: audit.OutcomeRateLimited,
			})
			_ = c.writeNow(v1.Error(v1.ErrMsgRateLimited))
			c.shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		select {
		case queue <- data:
		case <-c.ctx.Done():
			break readLoop
		}
	}

	c.shutdown(websocket.StatusNormalClosure, "bye")
	<-execDone
}

// handle processes one client frame to completion.
func (g *ExecGateway) handle(c *wsConn, data []byte) {
	raw, err := v1.ParseCommand(data)
	if err != nil {
		c.send(v1.Error(v1.ErrMsgInvalidJSON))
		return
	}
	if raw == "" {
		c.send(v1.Error(v1.ErrMsgNoCommand))
		return
	}

	entry := audit.Entry{
		Action:  audit.ActionCommand,
		ConnID:  c.id,
		Remote:  c.remote,
		Subject: c.client.Subject,
	}

	argv, err := command.Validate(raw, g.exec.Roots, g.exec.MaxLength, g.exec.MaxArgs)
	if err != nil {
		reason := fault.ReasonOf(err)
		if reason == "" {
			reason = err.Error()
		}
		entry.Command = sanitize.RedactCommand(raw)
		entry.Outcome = audit.OutcomeRejected
		entry.Reason = reason
		c.log.Info("ws.command.reject", "command", entry.Command, "reason", reason)
		g.metrics.Command(audit.OutcomeRejected)
		audit.Log(c.ctx, g.audit, g.log, entry)
		c.send(v1.Error(reason))
		return
	}

	display := sanitize.RedactArgv(argv)
	entry.Command = display
	c.log.Info("ws.command.exec", "command", display)
	if !c.send(v1.Output(v1.ExecutingPrefix + display)) {
		return
	}

	res, err := g.runner.Run(c.ctx, command.Spec{
		Argv:    argv,
		Dir:     g.exec.Workdir,
		Env:     g.exec.Env,
		Timeout: g.exec.Timeout,
	}, func(line string) {
		c.send(v1.Output(sanitize.Redact(line)))
	})

	if err != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.ExitCode = audit.Code(res.ExitCode)
		g.metrics.Command(audit.OutcomeFailed)

		if c.ctx.Err() != nil {
			// Connection went away; the child has already been killed.
			entry.Reason = "disconnected"
			c.log.Info("ws.command.abandoned", "command", display)
			audit.Log(context.WithoutCancel(c.ctx), g.audit, g.log, entry)
			return
		}
		msg := sanitize.Redact(execMessage(err))
		entry.Reason = msg
		c.log.Warn("ws.command.fail", "command", display, "err", msg)
		audit.Log(c.ctx, g.audit, g.log, entry)
		c.send(v1.Error(v1.ErrMsgExecutionPrefix + msg))
		return
	}

	entry.Outcome = audit.OutcomeCompleted
	entry.ExitCode = audit.Code(res.ExitCode)
	g.metrics.Command(audit.OutcomeCompleted)
	c.log.Info("ws.command.done", "command", display, "exit_code", res.ExitCode, "lines", res.Lines, "duration_ms", res.Duration.Milliseconds())
	audit.Log(c.ctx, g.audit, g.log, entry)
	c.send(v1.Output(fmt.Sprintf("%s%d", v1.CompletedPrefix, res.ExitCode)))
}

func execMessage(err error) string {
	var ee fault.ExecError
	if errors.As(err, &ee) && ee.Cause != nil {
		return ee.Cause.Error()
	}
	return err.Error()
}
