package authapi

import (
	"context"
	"net/http"

	"netreaper/cmd/internal/audit"
)

func (h *Handler) auditLogin(r *http.Request, method, outcome, subject, reason string) {
	h.metrics.AuthAttempt(method, outcome)
	h.insertAudit(r.Context(), audit.Entry{
		Action:  audit.ActionLogin,
		Remote:  remoteString(clientIP(r, h.cfg.TrustProxy)),
		Subject: subject,
		Outcome: outcome,
		Reason:  reason,
	})
}

func (h *Handler) auditPair(r *http.Request, subject, deviceID, role string) {
	h.insertAudit(r.Context(), audit.Entry{
		Action:  audit.ActionPair,
		Remote:  remoteString(clientIP(r, h.cfg.TrustProxy)),
		Subject: subject,
		Command: deviceID + " as " + role,
		Outcome: audit.OutcomeSuccess,
	})
}

func (h *Handler) auditScan(r *http.Request, subject, command, outcome, reason string) {
	h.insertAudit(r.Context(), audit.Entry{
		Action:  audit.ActionScanSubmit,
		Remote:  remoteString(clientIP(r, h.cfg.TrustProxy)),
		Subject: subject,
		Command: command,
		Outcome: outcome,
		Reason:  reason,
	})
}

// insertAudit records even after the client has hung up.
func (h *Handler) insertAudit(ctx context.Context, e audit.Entry) {
	if h == nil || h.audit == nil {
		return
	}
	audit.Log(context.WithoutCancel(ctx), h.audit, h.log, e)
}
