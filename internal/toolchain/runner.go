// Package toolchain wraps the external media tools (ffmpeg, ffprobe) behind
// a small capability interface so the pipeline can be tested without
// spawning real processes.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds Wait after a context kill. A killed tool's children can
// inherit its pipes and keep them open; without the delay Wait would block
// until they exit too.
const waitDelay = 5 * time.Second

// ErrToolUnavailable indicates a required external tool could not be found
// or executed at startup. The pipeline must refuse to accept jobs when it
// is returned.
var ErrToolUnavailable = errors.New("required media tool unavailable")

// SpawnError reports a failure to launch an external process at all (binary
// missing, permission denied, fork failure). These failures are transient
// from the pipeline's point of view and eligible for retry, unlike a tool
// that ran and exited nonzero.
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Process is a handle to a running external tool.
type Process interface {
	// Stderr returns the process's stderr stream. ffmpeg writes its
	// machine-readable progress there when invoked with -progress pipe:2.
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit error, if any.
	Wait() error
}

// Runner launches external media tools. The concrete implementation spawns
// real processes; tests substitute fakes.
type Runner interface {
	// Output runs the tool to completion and returns its collected stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Start launches the tool and returns a handle for streaming its
	// stderr while it runs. The process is killed when ctx is cancelled.
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// A context kill surfaces as the process's exit error ("signal:
		// killed"), so the context has to be checked before the error is
		// classified.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited: %w: %s", name, err, stderrTail(stderr.Bytes()))
		}
		return nil, &SpawnError{Tool: name, Err: err}
	}
	return stdout.Bytes(), nil
}

func (ExecRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Tool: name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Tool: name, Err: err}
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
}

func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }

// Verify checks that every named tool is present and executable. It is run
// once at pipeline startup; tool absence is fatal there rather than a
// per-job failure.
func Verify(ctx context.Context, runner Runner, tools ...string) error {
	for _, tool := range tools {
		out, err := runner.Output(ctx, tool, "-version")
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, tool, err)
		}
		if !strings.Contains(string(out), "version") {
			return fmt.Errorf("%w: %s did not report a version", ErrToolUnavailable, tool)
		}
	}
	return nil
}

// stderrTail trims tool stderr down to the last line so error messages stay
// readable; full stderr belongs in logs, not in job records.
func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(no stderr output)"
	}
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		s = strings.TrimSpace(s[idx+1:])
	}
	const max = 300
	if len(s) > max {
		s = s[:max]
	}
	return s
}
