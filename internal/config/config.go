package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
// It sits next to the default audit database.
var DefaultPath = filepath.Join(".fixme", "config.yaml")

// Config holds all fixme sidecar configuration.
type Config struct {
	// Microphone capture sessions
	Capture CaptureConfig `yaml:"capture"`

	// Permission loop of the step executor
	Permission PermissionConfig `yaml:"permission"`

	// Command execution (tactile)
	Execution ExecutionConfig `yaml:"execution"`

	// Request dispatcher
	Dispatcher DispatcherConfig `yaml:"dispatcher"`

	// Reply classification
	Intent IntentConfig `yaml:"intent"`

	// Diagnosis / Q&A / chat backend
	Oracle OracleConfig `yaml:"oracle"`

	// TTS and transcription
	Speech SpeechConfig `yaml:"speech"`

	// Execution audit trail
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DispatcherConfig configures the RPC dispatcher.
type DispatcherConfig struct {
	// MaxAsync bounds concurrently running async handlers (listen, run_fix).
	MaxAsync int `yaml:"max_async"`

	// MaxLineBytes bounds a single request line.
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// IntentConfig configures the locale keyword table.
type IntentConfig struct {
	// LocalesFile overrides/extends the embedded locale table. Empty = embedded only.
	LocalesFile string `yaml:"locales_file"`

	// Watch reloads LocalesFile when it changes on disk.
	Watch bool `yaml:"watch"`
}

// StoreConfig configures the sqlite audit trail.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			ChunkDuration: "500ms",
			MaxDuration:   "30s",
			ListenTimeout: "30s",
			SampleRate:    16000,
			Recorder:      "sox",
		},
		Permission: PermissionConfig{
			MaxEmptyRetries: 5,
			ListenTimeout:   "15s",
		},
		Execution: ExecutionConfig{
			Timeout:        "30s",
			MaxOutputBytes: 1 << 20,
			AllowedEnvVars: []string{"PATH", "HOME", "USER", "SYSTEMROOT", "WINDIR", "COMSPEC", "TEMP", "TMP"},
		},
		Dispatcher: DispatcherConfig{
			MaxAsync:     4,
			MaxLineBytes: 8 << 20,
		},
		Intent: IntentConfig{
			Watch: true,
		},
		Oracle: OracleConfig{
			Timeout: "60s",
		},
		Speech: SpeechConfig{
			ElevenLabsModel: "eleven_multilingual_v2",
			Voices: map[string]string{
				"en": "21m00Tcm4TlvDq8ikWAM",
				"es": "ThT5KcBeYPX3keUQqHPh",
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(".fixme", "audit.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	geminiKey := os.Getenv("GEMINI_API_KEY")

	switch c.Oracle.Provider {
	case ProviderAnthropic:
		if anthropicKey != "" {
			c.Oracle.APIKey = anthropicKey
		}
	case ProviderGemini:
		if geminiKey != "" {
			c.Oracle.APIKey = geminiKey
		}
	default:
		// No explicit provider: Anthropic first, matching the desktop app.
		if anthropicKey != "" {
			c.Oracle.Provider = ProviderAnthropic
			c.Oracle.APIKey = anthropicKey
		} else if geminiKey != "" {
			c.Oracle.Provider = ProviderGemini
			c.Oracle.APIKey = geminiKey
		}
	}

	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		c.Speech.ElevenLabsAPIKey = key
	}
	if key := os.Getenv("GOOGLE_SPEECH_API_KEY"); key != "" {
		c.Speech.GoogleAPIKey = key
	}
	if level := os.Getenv("FIXME_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
		c.Logging.DebugMode = true
	}
	if path := os.Getenv("FIXME_DB_PATH"); path != "" {
		c.Store.Path = path
	}
	if path := os.Getenv("FIXME_LOCALES_FILE"); path != "" {
		c.Intent.LocalesFile = path
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	chunk := c.GetChunkDuration()
	ceiling := c.GetMaxCaptureDuration()
	if chunk <= 0 {
		return fmt.Errorf("capture.chunk_duration must be positive")
	}
	if chunk > ceiling {
		return fmt.Errorf("capture.chunk_duration (%s) exceeds capture.max_duration (%s)", chunk, ceiling)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Permission.MaxEmptyRetries < 0 {
		return fmt.Errorf("permission.max_empty_retries must be >= 0 (0 = unbounded), got %d", c.Permission.MaxEmptyRetries)
	}
	if c.Dispatcher.MaxAsync < 1 {
		return fmt.Errorf("dispatcher.max_async must be >= 1, got %d", c.Dispatcher.MaxAsync)
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.Oracle.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid oracle provider: %s (valid: %v)", c.Oracle.Provider, ValidProviders)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetExecutionTimeout returns the command execution timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	return parseDuration(c.Execution.Timeout, 30*time.Second)
}

// GetOracleTimeout returns the oracle request timeout as a duration.
func (c *Config) GetOracleTimeout() time.Duration {
	return parseDuration(c.Oracle.Timeout, 60*time.Second)
}
