//go:build !unix

package command

import "os/exec"

// setProcessGroup is a no-op; exec.CommandContext kills the direct child only.
func setProcessGroup(_ *exec.Cmd) {}
