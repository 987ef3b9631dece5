// Package v1 defines the NetReaper stream protocol v1: the JSON frames
// exchanged on the command channel (/ws, /ws/{token}) and the log channel
// (/ws/netreaper).
//
// Frames are flat JSON objects. The server sets exactly one of output, error
// or status on every frame it sends.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
)

// Status values (server -> client).
const (
	StatusAuthenticated = "authenticated"
	StatusSubscribed    = "subscribed"
)

// StaticTokenUser is the subject reported for static API-token sessions.
const StaticTokenUser = "api_token_user"

// Error messages (wire-stable).
const (
	ErrMsgAuthFailed        = "Authentication failed"
	ErrMsgInvalidAPIToken   = "Authentication failed: Invalid API token"
	ErrMsgInvalidAuth       = "Invalid authentication request"
	ErrMsgRemoteDisabled    = "Remote websocket access disabled without NETREAPER_API_TOKEN"
	ErrMsgWorkdirMissing    = "Server misconfiguration: Working directory not found"
	ErrMsgNoCommand         = "No command provided"
	ErrMsgInvalidJSON       = "Invalid JSON received"
	ErrMsgRateLimited       = "Too many commands, slow down"
	ErrMsgExecutionPrefix   = "Execution error: "
	ExecutingPrefix         = "Executing: "
	CompletedPrefix         = "Command completed with code: "
)

var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrMissingField = errors.New("missing field")
)

// ServerFrame is every frame the server writes.
type ServerFrame struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
	User   string `json:"user,omitempty"`
}

func Output(line string) ServerFrame { return ServerFrame{Output: line} }
func Error(msg string) ServerFrame   { return ServerFrame{Error: msg} }

func Authenticated(user string) ServerFrame {
	return ServerFrame{Status: StatusAuthenticated, User: user}
}

func Subscribed() ServerFrame { return ServerFrame{Status: StatusSubscribed} }

// AuthRequest is the first client frame on token-less routes.
type AuthRequest struct {
	Token string `json:"token"`
}

// CommandRequest is a client frame on the command channel.
type CommandRequest struct {
	Command *string `json:"command"`
}

// ParseAuth decodes an AuthRequest. Anything other than a JSON object with a
// non-empty string token is rejected.
func ParseAuth(data []byte) (AuthRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return AuthRequest{}, ErrInvalidFrame
	}
	tok, ok := raw["token"]
	if !ok {
		return AuthRequest{}, ErrMissingField
	}
	var s string
	if err := json.Unmarshal(tok, &s); err != nil {
		return AuthRequest{}, ErrInvalidFrame
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return AuthRequest{}, ErrMissingField
	}
	return AuthRequest{Token: s}, nil
}

// ParseCommand decodes a command frame and returns the trimmed command text.
// A missing or null command yields "" with a nil error; non-object JSON or a
// non-string command is ErrInvalidFrame.
func ParseCommand(data []byte) (string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return "", ErrInvalidFrame
	}
	v, ok := raw["command"]
	if !ok || string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", ErrInvalidFrame
	}
	return strings.TrimSpace(s), nil
}
