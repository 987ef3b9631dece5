// Package audit records security-relevant gateway events: logins, pairings,
// scan submissions, and every command received on the execution channel.
//
// Callers must pass command text through the sanitizer before building an
// Entry; recorders store what they are given.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Action classifies an audit entry.
type Action string

const (
	ActionLogin      Action = "auth.login"
	ActionWSAuth     Action = "auth.ws"
	ActionPair       Action = "pair.create"
	ActionCommand    Action = "command.exec"
	ActionScanSubmit Action = "scan.submit"
)

// Outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeDenied      = "denied"
	OutcomeRateLimited = "rate_limited"
	OutcomeRejected    = "rejected"
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
)

// Entry is one audit record.
type Entry struct {
	ID       string    `json:"id"`
	TS       time.Time `json:"ts"`
	Action   Action    `json:"action"`
	ConnID   string    `json:"conn_id,omitempty"`
	Remote   string    `json:"remote,omitempty"`
	Subject  string    `json:"subject,omitempty"`
	Command  string    `json:"command,omitempty"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Stamp fills ID and TS when unset.
func Stamp(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	return e
}

// Multi fans an entry out to every recorder and reports all failures.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Entry) error {
	e = Stamp(e)
	var result *multierror.Error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// SlogRecorder writes entries to the process log.
type SlogRecorder struct {
	Log *slog.Logger
}

func (s SlogRecorder) Record(ctx context.Context, e Entry) error {
	if s.Log == nil {
		return nil
	}
	e = Stamp(e)
	attrs := []any{
		"audit_id", e.ID,
		"action", string(e.Action),
		"outcome", e.Outcome,
	}
	if e.ConnID != "" {
		attrs = append(attrs, "conn_id", e.ConnID)
	}
	if e.Remote != "" {
		attrs = append(attrs, "remote", e.Remote)
	}
	if e.Subject != "" {
		attrs = append(attrs, "subject", e.Subject)
	}
	if e.Command != "" {
		attrs = append(attrs, "command", e.Command)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if e.ExitCode != nil {
		attrs = append(attrs, "exit_code", *e.ExitCode)
	}
	s.Log.InfoContext(ctx, "audit."+string(e.Action), attrs...)
	return nil
}

// Log records e and logs (does not return) a failure. Audit must never
// interrupt the request that produced it.
func Log(ctx context.Context, r Recorder, log *slog.Logger, e Entry) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, Stamp(e)); err != nil && log != nil {
		log.Error("audit.record.fail", "err", err, "action", string(e.Action))
	}
}

// Code returns a pointer to code for Entry.ExitCode.
func Code(code int) *int { return &code }
