package config

import "time"

// CaptureConfig configures microphone capture sessions.
type CaptureConfig struct {
	// ChunkDuration is the recording granularity; it bounds stop latency.
	ChunkDuration string `yaml:"chunk_duration"`

	// MaxDuration is the hard ceiling of one session.
	MaxDuration string `yaml:"max_duration"`

	// ListenTimeout is the soft timeout of a `listen` request without one.
	ListenTimeout string `yaml:"listen_timeout"`

	SampleRate int `yaml:"sample_rate"`

	// Recorder is the external binary used to read the default input device.
	Recorder string `yaml:"recorder"`
}

// PermissionConfig configures the step executor's permission loop.
type PermissionConfig struct {
	// MaxEmptyRetries ends the run with no_response after this many blank
	// replies in a row. 0 keeps asking forever.
	MaxEmptyRetries int `yaml:"max_empty_retries"`

	// ListenTimeout is the soft timeout of each permission capture.
	ListenTimeout string `yaml:"listen_timeout"`
}

// GetChunkDuration returns the capture chunk size.
func (c *Config) GetChunkDuration() time.Duration {
	return parseDuration(c.Capture.ChunkDuration, 500*time.Millisecond)
}

// GetMaxCaptureDuration returns the hard ceiling of one capture.
func (c *Config) GetMaxCaptureDuration() time.Duration {
	return parseDuration(c.Capture.MaxDuration, 30*time.Second)
}

// GetListenTimeout returns the default soft timeout of a listen request.
func (c *Config) GetListenTimeout() time.Duration {
	return parseDuration(c.Capture.ListenTimeout, 30*time.Second)
}

// GetPermissionListenTimeout returns the soft timeout of a permission capture.
func (c *Config) GetPermissionListenTimeout() time.Duration {
	return parseDuration(c.Permission.ListenTimeout, 15*time.Second)
}
