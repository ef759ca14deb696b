package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"fixme/internal/logging"
)

// SSIDPlaceholder is replaced by the currently connected Wi-Fi network.
const SSIDPlaceholder = "{ssid}"

const waitPrefix = "WAIT:"

// Messages surfaced to the user.
const (
	msgCompleted      = "Command completed successfully"
	msgSSIDUnresolved = "Could not detect Wi-Fi SSID. Make sure Wi-Fi is available."
)

// HostExecutor executes commands directly on the host using os/exec.
type HostExecutor struct {
	mu     sync.RWMutex
	config ExecutorConfig

	// auditCallback is called for execution events
	auditCallback func(AuditEvent)

	platform platform
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewHostExecutor creates a host executor with default config.
func NewHostExecutor() *HostExecutor {
	return NewHostExecutorWithConfig(DefaultExecutorConfig())
}

// NewHostExecutorWithConfig creates a host executor with custom config.
func NewHostExecutorWithConfig(config ExecutorConfig) *HostExecutor {
	def := DefaultExecutorConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = def.DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = def.MaxOutputBytes
	}
	logging.TactileDebug("Creating HostExecutor: timeout=%s, maxOutput=%d bytes, os=%s",
		config.DefaultTimeout, config.MaxOutputBytes, runtime.GOOS)
	return &HostExecutor{
		config:   config,
		platform: platformFor(runtime.GOOS),
		sleep:    sleepContext,
	}
}

// SetAuditCallback sets the callback for audit events.
func (e *HostExecutor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

func (e *HostExecutor) emitAudit(event AuditEvent) {
	e.mu.RLock()
	callback := e.auditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(event)
	}
}

// Execute runs one command line and reports (success, message).
func (e *HostExecutor) Execute(ctx context.Context, line string, needsAdmin bool) (bool, string) {
	r := e.Run(ctx, Command{Line: line, NeedsAdmin: needsAdmin})
	return r.Success, r.Message
}

// Run runs a command and returns the structured result. It never returns nil.
func (e *HostExecutor) Run(ctx context.Context, cmd Command) *Result {
	timer := logging.StartTimer(logging.CategoryTactile, "command execution")
	defer timer.Stop()

	e.emitAudit(AuditEvent{Type: AuditEventStart, Timestamp: time.Now(), Command: cmd})

	result := &Result{ExitCode: -1, StartedAt: time.Now()}
	e.run(ctx, cmd, result)
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	eventType := AuditEventComplete
	switch {
	case result.Killed:
		eventType = AuditEventKilled
	case result.Fault != nil && result.Fault.Kind != FaultNonZeroExit:
		eventType = AuditEventError
	}
	e.emitAudit(AuditEvent{Type: eventType, Timestamp: time.Now(), Command: cmd, Result: result})

	logging.Tactile("Command finished: %q admin=%v -> success=%v exit=%d (%s)",
		cmd.Line, cmd.NeedsAdmin, result.Success, result.ExitCode, result.Duration)
	return result
}

func (e *HostExecutor) run(ctx context.Context, cmd Command, result *Result) {
	line := strings.TrimSpace(cmd.Line)
	if line == "" {
		fail(result, FaultInfrastructure, "No command given", nil)
		return
	}

	if strings.HasPrefix(line, waitPrefix) {
		e.runWait(ctx, line, result)
		return
	}

	if strings.Contains(line, SSIDPlaceholder) {
		ssid, err := e.ResolveSSID(ctx)
		if err != nil || ssid == "" {
			logging.TactileWarn("SSID resolution failed: %v", err)
			fail(result, FaultPlaceholderUnresolved, msgSSIDUnresolved, err)
			return
		}
		line = strings.ReplaceAll(line, SSIDPlaceholder, ssid)
	}
	result.Resolved = line

	argv := e.platform.shell(line)
	if cmd.NeedsAdmin {
		argv = e.platform.elevate(line)
	}

	timeout := e.config.DefaultTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.exec(execCtx, argv)
	result.Stdout = out.stdout
	result.Stderr = out.stderr
	result.Truncated = out.truncated
	if out.truncated {
		logging.TactileWarn("Command output truncated: %d bytes discarded", out.discarded)
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Killed = true
			logging.TactileWarn("Command killed (timeout): %q after %s", line, timeout)
			fail(result, FaultTimeout, fmt.Sprintf("Command timed out after %s", humanDuration(timeout)), err)
		case ctx.Err() != nil:
			result.Killed = true
			fail(result, FaultInfrastructure, "Command was cancelled", ctx.Err())
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			stderr := strings.TrimSpace(out.stderr)
			if cmd.NeedsAdmin && e.platform.elevationDenied(stderr) {
				fail(result, FaultElevation, fmt.Sprintf("Administrator approval was not granted for: %s", line), err)
				return
			}
			msg := stderr
			if msg == "" {
				msg = fmt.Sprintf("Command exited with code %d", result.ExitCode)
			}
			fail(result, FaultNonZeroExit, msg, err)
		default:
			logging.TactileError("Command failed to start: %q - %v", line, err)
			kind := FaultInfrastructure
			if cmd.NeedsAdmin {
				kind = FaultElevation
			}
			fail(result, kind, fmt.Sprintf("Command failed: %v", err), err)
		}
		return
	}

	result.Success = true
	result.ExitCode = 0
	result.Message = strings.TrimSpace(out.stdout)
	if result.Message == "" {
		result.Message = msgCompleted
	}
}

func (e *HostExecutor) runWait(ctx context.Context, line string, result *Result) {
	seconds, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, waitPrefix)))
	if err != nil || seconds < 0 {
		fail(result, FaultInfrastructure, fmt.Sprintf("Invalid WAIT command: %s", line), err)
		return
	}
	if err := e.sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
		result.Killed = true
		fail(result, FaultInfrastructure, "Wait was cancelled", err)
		return
	}
	result.Success = true
	result.ExitCode = 0
	result.Message = fmt.Sprintf("Waited %d seconds", seconds)
}

// ResolveSSID returns the name of the connected Wi-Fi network.
func (e *HostExecutor) ResolveSSID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return e.platform.ssid(ctx, func(argv ...string) (string, error) {
		out, err := e.exec(ctx, argv)
		return out.stdout, err
	})
}

type output struct {
	stdout, stderr string
	truncated      bool
	discarded      int64
}

func (e *HostExecutor) exec(ctx context.Context, argv []string) (output, error) {
	if len(argv) == 0 {
		return output{}, errors.New("empty argv")
	}
	logging.TactileDebug("exec %v", argv)

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = e.buildEnvironment()
	setupProcessGroup(c)
	c.Cancel = func() error { return killProcessGroup(c) }
	c.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: e.config.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: e.config.MaxOutputBytes}
	c.Stdout = stdoutLimited
	c.Stderr = stderrLimited

	err := c.Run()
	return output{
		stdout:    stdoutBuf.String(),
		stderr:    stderrBuf.String(),
		truncated: stdoutLimited.truncated || stderrLimited.truncated,
		discarded: stdoutLimited.discarded + stderrLimited.discarded,
	}, err
}

// buildEnvironment passes through the allowed variables only.
func (e *HostExecutor) buildEnvironment() []string {
	env := make([]string, 0, len(e.config.AllowedEnvironment))
	for _, key := range e.config.AllowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return env
}

func fail(r *Result, kind FaultKind, msg string, err error) {
	r.Success = false
	r.Message = msg
	r.Fault = &Fault{Kind: kind, Message: msg, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// humanDuration renders whole seconds as "30 seconds".
func humanDuration(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // full length so exec does not report a short write
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
