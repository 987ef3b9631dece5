package authapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"netreaper/cmd/internal/audit"
	"netreaper/cmd/internal/fault"
	"netreaper/cmd/internal/scan"
	"netreaper/cmd/security/sanitize"
)

func (h *Handler) handleScanSubmit(w http.ResponseWriter, r *http.Request) {
	if !h.scansEnabled(w) {
		return
	}
	var req scanRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	subject := claimsFrom(r.Context()).Subject
	cmd := sanitize.RedactCommand(strings.TrimSpace(req.Mode + " " + req.Target))

	job, err := h.scans.Submit(r.Context(), req.Target, scan.Mode(req.Mode), subject)
	if err != nil {
		switch {
		case fault.IsValidation(err):
			h.auditScan(r, subject, cmd, audit.OutcomeRejected, fault.ReasonOf(err))
			writeError(w, http.StatusBadRequest, "invalid_request", fault.ReasonOf(err))
		case errors.Is(err, scan.ErrBinaryMissing):
			h.auditScan(r, subject, cmd, audit.OutcomeFailed, "binary missing")
			writeError(w, http.StatusServiceUnavailable, "scanner_unavailable", "NetReaper binary not found")
		default:
			h.log.Error("scan.submit.fail", "err", err)
			h.auditScan(r, subject, cmd, audit.OutcomeFailed, "internal error")
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditScan(r, subject, sanitize.RedactCommand(string(job.Mode)+" "+job.Target), audit.OutcomeSuccess, "")
	writeJSON(w, http.StatusAccepted, scanResponse{OK: true, JobID: job.ID, Status: string(job.Status)})
}

func (h *Handler) handleScanJob(w http.ResponseWriter, r *http.Request) {
	if !h.scansEnabled(w) {
		return
	}
	job, err := h.scans.Status(r.Context(), mux.Vars(r)["job_id"])
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, job)
	case errors.Is(err, scan.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Job not found")
	default:
		h.log.Error("scan.status.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) handleScanDevices(w http.ResponseWriter, r *http.Request) {
	if !h.scansEnabled(w) {
		return
	}
	res, err := h.scans.Devices(r.Context())
	if err != nil {
		h.log.Error("scan.devices.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read scan output")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleScanReport(w http.ResponseWriter, r *http.Request) {
	if !h.scansEnabled(w) {
		return
	}
	rep, err := h.scans.Report(r.Context())
	if err != nil {
		h.log.Error("scan.report.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read scan output")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) scansEnabled(w http.ResponseWriter) bool {
	if h.scans == nil {
		writeError(w, http.StatusServiceUnavailable, "scan_disabled", "scanning is not configured")
		return false
	}
	return true
}
