// Package tactile runs remediation commands on the host.
//
// A command line may be a WAIT:n pseudo-command, may contain the {ssid}
// placeholder, and may require administrator rights. Every failure is
// folded into a (false, message) pair at the Execute boundary; callers
// that need the structured reason use Run and inspect Result.Fault.
package tactile

import (
	"time"
)

// Command is one command line to execute.
type Command struct {
	// Line is the shell command line as produced by the diagnosis.
	Line string `json:"line"`

	// NeedsAdmin requests platform elevation.
	NeedsAdmin bool `json:"needs_admin"`

	// RequestID correlates the execution with an RPC request (audit only).
	RequestID string `json:"request_id,omitempty"`

	// Source names what asked for the execution: "execute_step", "run_fix", "quick_fix".
	Source string `json:"source,omitempty"`
}

// Result is the structured outcome of one execution.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	// Resolved is the command line after placeholder substitution.
	Resolved string `json:"resolved,omitempty"`

	Killed    bool `json:"killed,omitempty"`
	Truncated bool `json:"truncated,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	// Fault is set when Success is false.
	Fault *Fault `json:"-"`
}

// ExecutorConfig configures the host executor.
type ExecutorConfig struct {
	// DefaultTimeout is the wall-clock limit per command.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int64

	// AllowedEnvironment lists variables passed through from the sidecar.
	AllowedEnvironment []string
}

// DefaultExecutorConfig returns a 30s timeout and a 1MB output cap.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 1 << 20,
		AllowedEnvironment: []string{
			"PATH", "HOME", "USER", "SYSTEMROOT", "WINDIR", "COMSPEC", "TEMP", "TMP",
		},
	}
}

// AuditEventType is the kind of audit event.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
)

// AuditEvent is emitted for every execution. Start events carry no Result.
type AuditEvent struct {
	Type      AuditEventType
	Timestamp time.Time
	Command   Command
	Result    *Result
}
