package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	v1 "netreaper/shared/contracts/stream/v1"
)

// wsConn owns one accepted websocket: the outbound queue, the writer and
// heartbeat goroutines, and an idempotent shutdown.
//
// Before start is called frames are written synchronously with writeNow so
// a handshake error is on the wire before the close frame.
type wsConn struct {
	log    *slog.Logger
	cfg    Config
	ws     *websocket.Conn
	client *Client
	id     string
	remote string

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce     sync.Once
	started       bool
	writerDone    chan struct{}
	heartbeatDone chan struct{}
}

// acceptConn enforces the origin policy and upgrades r. On failure the
// response has already been written.
func acceptConn(w http.ResponseWriter, r *http.Request, cfg Config, log *slog.Logger, channel string) (*wsConn, bool) {
	if err := cfg.Origin.Check(r); err != nil && !cfg.InsecureSkipVerify {
		log.Info("ws.reject.origin", "channel", channel, "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     cfg.Origin.Patterns(),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		log.Error("ws.accept.fail", "channel", channel, "err", err)
		return nil, false
	}
	ws.SetReadLimit(maxFrameBytes)

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		log:           log.With("conn_id", id, "channel", channel),
		cfg:           cfg,
		ws:            ws,
		client:        NewClient(id, cfg.SendQueueSize),
		id:            id,
		remote:        r.RemoteAddr,
		ctx:           ctx,
		cancel:        cancel,
		writerDone:    make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	c.log.Info("ws.open", "remote", r.RemoteAddr)
	return c, true
}

// shutdown is idempotent. It does NOT close client.Send.
func (c *wsConn) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.client.Close()
		_ = c.ws.Close(code, reason)
		c.cancel()
		c.log.Info("ws.close", "code", int(code), "reason", reason)
	})
}

// reject writes frame and closes with a policy violation.
func (c *wsConn) reject(frame v1.ServerFrame, reason string) {
	_ = c.writeNow(frame)
	c.shutdown(websocket.StatusPolicyViolation, reason)
}

func (c *wsConn) writeNow(frame v1.ServerFrame) error {
	return writeFrame(c.ctx, c.ws, frame, c.cfg.WriteTimeout)
}

// start launches the writer and heartbeat goroutines.
func (c *wsConn) start() {
	c.started = true

	go func() {
		defer close(c.writerDone)
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-c.client.Done():
				return
			case f := <-c.client.Send:
				if err := writeFrame(c.ctx, c.ws, f, c.cfg.WriteTimeout); err != nil {
					c.log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					c.shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	go func() {
		defer close(c.heartbeatDone)
		t := time.NewTicker(c.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-c.client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(c.ctx, c.cfg.HeartbeatTimeout)
				err := c.ws.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					c.log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= maxPingFailures {
						c.shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()
}

// finish shuts the connection down and waits for the helper goroutines.
func (c *wsConn) finish(code websocket.StatusCode, reason string) {
	c.shutdown(code, reason)
	if !c.started {
		return
	}
	<-c.writerDone
	select {
	case <-c.heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// send queues frame, blocking until there is room or the connection ends.
func (c *wsConn) send(frame v1.ServerFrame) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-c.client.Done():
		return false
	case c.client.Send <- frame:
		return true
	}
}

// read returns the next text or binary message. timeout <= 0 waits until
// the connection ends.
func (c *wsConn) read(timeout time.Duration) ([]byte, error) {
	ctx := c.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.ctx, timeout)
		defer cancel()
	}
	mt, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

// closeOnReadErr maps a read error to a close code and shuts down.
func (c *wsConn) closeOnReadErr(err error) {
	switch classifyReadErr(err) {
	case readErrClose:
		c.shutdown(websocket.StatusNormalClosure, "peer closed")
	case readErrCtxDone:
		c.shutdown(websocket.StatusNormalClosure, "context done")
	case readErrConnClosed:
		c.shutdown(websocket.StatusAbnormalClosure, "conn closed")
	default:
		c.log.Info("ws.read.fail", "err", err)
		c.shutdown(websocket.StatusAbnormalClosure, "read failed")
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame v1.ServerFrame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
