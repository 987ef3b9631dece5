// Package scan runs fire-and-forget network scans through the NetReaper
// binary, tracks their jobs, and reads back the artifacts they leave in the
// output directory.
package scan

import "time"

// Mode selects the scanner invocation.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeWifi  Mode = "wifi"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// Job is one scan request and its progress.
type Job struct {
	ID          string     `json:"job_id"`
	Target      string     `json:"target"`
	Mode        Mode       `json:"mode"`
	Status      Status     `json:"status"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ReturnCode  *int       `json:"return_code,omitempty"`
	OutputFile  string     `json:"output_file,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// LastScan points at the artifact of the most recent completed scan.
type LastScan struct {
	OutputFile string    `json:"output_file"`
	Target     string    `json:"target"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Artifact file patterns inside the output directory.
const (
	PatternNmap = "nmap_quick_*.xml"
	PatternWifi = "wifi_scan_*.json"
)

func (m Mode) artifactPattern() string {
	if m == ModeWifi {
		return PatternWifi
	}
	return PatternNmap
}

func (m Mode) args(target string) []string {
	if m == ModeWifi {
		return []string{"wifi", "scan"}
	}
	return []string{"scan", target}
}
