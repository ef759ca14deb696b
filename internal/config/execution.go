package config

// ExecutionConfig configures the tactile interface.
type ExecutionConfig struct {
	// Wall-clock timeout per command; a timed-out command is reported as failed.
	Timeout string `yaml:"timeout"`

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Environment variables passed through to commands
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}
