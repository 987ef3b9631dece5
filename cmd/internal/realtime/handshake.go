package realtime

import (
	"time"

	"github.com/coder/websocket"

	"netreaper/cmd/internal/auth/session"
	"netreaper/cmd/security/token"
	v1 "netreaper/shared/contracts/stream/v1"
)

// TokenVerifier checks session tokens issued by /auth.
type TokenVerifier interface {
	Verify(token string, now time.Time) (session.Claims, error)
}

// authResult is the outcome of a handshake. A denied result carries the
// frame to send before closing; the socket stays open until the caller has
// recorded the attempt and calls refuse.
type authResult struct {
	subject string
	method  string
	ok      bool
	reason  string

	deny        *v1.ServerFrame
	closeReason string
}

func denied(method, reason string, frame v1.ServerFrame, closeReason string) authResult {
	return authResult{method: method, reason: reason, deny: &frame, closeReason: closeReason}
}

// refuse sends the denial frame, if any, and closes the connection.
func (r authResult) refuse(c *wsConn) {
	if r.deny != nil {
		c.reject(*r.deny, r.closeReason)
		return
	}
	c.shutdown(websocket.StatusPolicyViolation, "handshake failed")
}

// staticAuth compares the path token with the configured API token.
func staticAuth(c *wsConn, pathToken, want string) authResult {
	if !token.Equal(pathToken, want) {
		return denied("api_token", "invalid api token", v1.Error(v1.ErrMsgInvalidAPIToken), "authentication failed")
	}
	if err := c.writeNow(v1.Authenticated(v1.StaticTokenUser)); err != nil {
		c.shutdown(websocket.StatusInternalError, "write failed")
		return authResult{method: "api_token", reason: "write failed"}
	}
	return authResult{subject: v1.StaticTokenUser, method: "api_token", ok: true}
}

// sessionAuth reads the first frame and verifies the session token in it.
// With sendStatus false the caller writes its own success frame.
func sessionAuth(c *wsConn, verifier TokenVerifier, now func() time.Time, sendStatus bool) authResult {
	data, err := c.read(c.cfg.AuthTimeout)
	if err != nil {
		c.closeOnReadErr(err)
		return authResult{method: "session", reason: "no auth frame"}
	}
	req, err := v1.ParseAuth(data)
	if err != nil {
		return denied("session", "invalid auth request", v1.Error(v1.ErrMsgInvalidAuth), "invalid auth request")
	}
	if verifier == nil {
		return denied("session", "no verifier", v1.Error(v1.ErrMsgAuthFailed), "authentication failed")
	}
	claims, err := verifier.Verify(req.Token, now())
	if err != nil {
		return denied("session", "invalid session token", v1.Error(v1.ErrMsgAuthFailed), "authentication failed")
	}
	if sendStatus {
		if err := c.writeNow(v1.Authenticated(claims.Subject)); err != nil {
			c.shutdown(websocket.StatusInternalError, "write failed")
			return authResult{method: "session", reason: "write failed"}
		}
	}
	return authResult{subject: claims.Subject, method: "session", ok: true}
}

// remoteRefused denies non-loopback peers when no static token is configured.
func remoteRefused(c *wsConn) (authResult, bool) {
	if c.cfg.StaticToken != "" || IsLoopback(c.remote) {
		return authResult{}, false
	}
	c.log.Info("ws.reject.remote", "remote", c.remote)
	return denied("session", "remote access disabled", v1.Error(v1.ErrMsgRemoteDisabled), "remote access disabled"), true
}
