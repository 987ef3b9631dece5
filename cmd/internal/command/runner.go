package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"netreaper/cmd/internal/fault"
)

const (
	defaultMaxLineBytes = 64 * 1024
	defaultWaitDelay    = 5 * time.Second
)

// ErrTimeout is returned (wrapped in fault.ExecError) when Spec.Timeout elapses.
var ErrTimeout = errors.New("command timed out")

// Spec describes one child process.
type Spec struct {
	Argv    []string
	Dir     string
	Env     []string // nil inherits the gateway environment
	Timeout time.Duration
}

// Result is the outcome of a completed or interrupted run.
// ExitCode is -1 when the process was killed by a signal.
type Result struct {
	ExitCode int
	Lines    int
	Duration time.Duration
}

// Runner executes validated argv without a shell.
type Runner struct {
	// MaxLineBytes caps a single forwarded line; the remainder of an
	// over-long line is discarded.
	MaxLineBytes int
	// WaitDelay bounds how long Wait blocks after the process is killed.
	WaitDelay time.Duration
}

// Run starts spec.Argv with stdout and stderr merged into one pipe and calls
// onLine for every line, in emission order, from the calling goroutine.
// A non-zero exit is reported in Result, not as an error. Cancelling ctx kills
// the process (and its process group where supported).
func (r Runner) Run(ctx context.Context, spec Spec, onLine func(string)) (Result, error) {
	start := time.Now()
	if len(spec.Argv) == 0 {
		return Result{ExitCode: -1}, fault.ExecError{Cause: errors.New("empty argv")}
	}
	argv0 := spec.Argv[0]

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return Result{ExitCode: -1}, fault.ExecError{Argv0: argv0, Cause: err}
	}

	// #nosec G204 -- argv comes from Validate and is never passed to a shell.
	cmd := exec.CommandContext(runCtx, argv0, spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = r.waitDelay()
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return Result{ExitCode: -1, Duration: time.Since(start)}, fault.ExecError{Argv0: argv0, Cause: err}
	}
	// The child holds its own copy; closing ours lets the reader see EOF.
	_ = pw.Close()

	n, readErr := readLines(pr, r.maxLineBytes(), onLine)
	_ = pr.Close()
	waitErr := cmd.Wait()

	res := Result{ExitCode: 0, Lines: n, Duration: time.Since(start)}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fault.ExecError{Argv0: argv0, Cause: fmt.Errorf("%w after %s", ErrTimeout, spec.Timeout)}
	}
	if waitErr != nil && exitErr == nil {
		return res, fault.ExecError{Argv0: argv0, Cause: waitErr}
	}
	if readErr != nil {
		return res, fault.ExecError{Argv0: argv0, Cause: readErr}
	}
	return res, nil
}

func (r Runner) maxLineBytes() int {
	if r.MaxLineBytes <= 0 {
		return defaultMaxLineBytes
	}
	return r.MaxLineBytes
}

func (r Runner) waitDelay() time.Duration {
	if r.WaitDelay <= 0 {
		return defaultWaitDelay
	}
	return r.WaitDelay
}

// readLines forwards each line trimmed of trailing whitespace, with invalid
// UTF-8 replaced. It returns the number of lines forwarded.
func readLines(r io.Reader, maxBytes int, onLine func(string)) (int, error) {
	br := bufio.NewReaderSize(r, 4096)
	var (
		buf   []byte
		count int
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if len(chunk) > 0 && len(buf) < maxBytes {
			room := maxBytes - len(buf)
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			buf = append(buf, chunk...)
		}
		if err != nil {
			if len(buf) > 0 {
				onLine(cleanLine(buf))
				count++
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return count, nil
			}
			return count, err
		}
		if isPrefix {
			continue
		}
		onLine(cleanLine(buf))
		count++
		buf = buf[:0]
	}
}

func cleanLine(b []byte) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	return strings.TrimRightFunc(s, unicode.IsSpace)
}
