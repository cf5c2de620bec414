// Package probe implements the Probe Executor: it runs one allowlisted
// shell probe, enforcing a per-probe timeout and an 8 KiB output cap, and
// redacts credential-shaped output before it is ever cached or returned.
//
// The subprocess-lifecycle discipline here follows the teacher package's
// internal/supervisor.AgentSupervisor — a dedicated process group so the
// whole tree can be killed on timeout — generalized from a long-lived,
// duplex-piped agent subprocess to a one-shot, output-capturing probe.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/jjgarcianorway/anna/internal/clock"
	"github.com/jjgarcianorway/anna/internal/protocol"
	"github.com/jjgarcianorway/anna/internal/redact"
)

// MaxOutputBytes is the excerpt size each of stdout and stderr is
// truncated to after redaction, per spec.md §4.1.
const MaxOutputBytes = 8 * 1024

// DefaultTimeout is the per-probe timeout used when the caller does not
// override it, per spec.md §6.
const DefaultTimeout = 5 * time.Second

// Executor runs shell probes with a timeout and output cap.
type Executor struct {
	Clock   clock.Clock
	Timeout time.Duration
}

// NewExecutor builds an Executor with the system clock and the default
// timeout.
func NewExecutor() *Executor {
	return &Executor{Clock: clock.System{}, Timeout: DefaultTimeout}
}

// Run executes the given shell command string under "sh -c" and returns a
// Probe Result. It never returns a non-nil error: every failure mode
// (spawn failure, timeout, non-zero exit) is reported faithfully inside
// the returned ProbeResult, per spec.md §4.1's failure semantics.
func (e *Executor) Run(ctx context.Context, command string) protocol.ProbeResult {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := e.clock().Monotonic()

	err := cmd.Start()
	if err != nil {
		return protocol.ProbeResult{
			Command:  command,
			ExitCode: protocol.ExitTimeout,
			Stderr:   truncate(redact.Redact(fmt.Sprintf("spawn failed: %v", err))),
			TimingMS: elapsedMS(e.clock(), start),
		}
	}

	waitErr := cmd.Wait()
	elapsed := elapsedMS(e.clock(), start)

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return protocol.ProbeResult{
			Command:  command,
			ExitCode: protocol.ExitTimeout,
			Stdout:   truncate(redact.Redact(stdoutBuf.String())),
			Stderr:   truncate(redact.Redact(stderrBuf.String())),
			TimingMS: elapsed,
		}
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = protocol.ExitTimeout
		}
	}

	return protocol.ProbeResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   truncate(redact.Redact(stdoutBuf.String())),
		Stderr:   truncate(redact.Redact(stderrBuf.String())),
		TimingMS: elapsed,
	}
}

// Unresolvable builds the Probe Result spec.md §3 requires for a
// specifier that resolves to neither a catalog entry nor an allowlisted
// raw command: exit code -2, never silently dropped.
func Unresolvable(specifier string) protocol.ProbeResult {
	return protocol.ProbeResult{
		Command:  specifier,
		ExitCode: protocol.ExitUnresolvable,
		Stderr:   fmt.Sprintf("Unknown probe: %s", specifier),
	}
}

func (e *Executor) clock() clock.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return clock.System{}
}

func elapsedMS(c clock.Clock, start time.Time) int64 {
	return c.Monotonic().Sub(start).Milliseconds()
}

func truncate(s string) string {
	if len(s) <= MaxOutputBytes {
		return s
	}
	// Truncate on a byte boundary; output is diagnostic text, not a
	// contract that must be valid UTF-8 after the cut.
	return s[:MaxOutputBytes]
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
