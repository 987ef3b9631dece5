package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/metrics"
	v1 "netreaper/shared/contracts/stream/v1"
)

// LogGateway serves /ws/netreaper: authenticated subscribers receive scan
// log lines published after they subscribed.
type LogGateway struct {
	log      *slog.Logger
	cfg      Config
	b        *Broadcaster
	verifier TokenVerifier
	audit    audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewLogGateway constructs the log channel handler.
func NewLogGateway(log *slog.Logger, cfg Config, b *Broadcaster, verifier TokenVerifier, rec audit.Recorder, m *metrics.Metrics) *LogGateway {
	if log == nil {
		log = slog.Default()
	}
	return &LogGateway{
		log:      log,
		cfg:      cfg.withDefaults(),
		b:        b,
		verifier: verifier,
		audit:    rec,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *LogGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, ok := acceptConn(w, r, g.cfg, g.log, "logs")
	if !ok {
		return
	}
	defer g.metrics.ConnOpened("logs")()

	res, refused := remoteRefused(c)
	if !refused {
		res = sessionAuth(c, g.verifier, g.now, false)
	}
	outcome := audit.OutcomeSuccess
	if !res.ok {
		outcome = audit.OutcomeDenied
	}
	g.metrics.AuthAttempt("ws_logs", outcome)
	audit.Log(context.WithoutCancel(c.ctx), g.audit, g.log, audit.Entry{
		Action:  audit.ActionWSAuth,
		ConnID:  c.id,
		Remote:  c.remote,
		Subject: res.subject,
		Outcome: outcome,
		Reason:  res.reason,
	})
	if !res.ok {
		c.log.Info("ws.auth.fail", "reason", res.reason, "remote", c.remote)
		res.refuse(c)
		c.finish(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	c.client.Subject = res.subject

	sub := g.b.Subscribe(g.cfg.LogQueueSize)
	defer g.b.Unsubscribe(sub.ID)

	if err := c.writeNow(v1.Subscribed()); err != nil {
		c.finish(websocket.StatusInternalError, "write failed")
		return
	}
	c.start()

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case line := <-sub.Lines:
				if !c.send(v1.Output(line)) {
					return
				}
			}
		}
	}()

	// Inbound frames are ignored; reading keeps pongs and close frames flowing.
	for {
		if _, err := c.read(0); err != nil {
			c.closeOnReadErr(err)
			break
		}
	}
	if d := sub.Dropped(); d > 0 {
		c.log.Info("logs.subscriber.dropped", "dropped", d)
	}
	c.finish(websocket.StatusNormalClosure, "bye")
}
