package config

// Oracle providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ValidProviders lists all supported oracle providers. Empty means no
// oracle is configured; diagnosis and Q&A then fail with a clear error.
var ValidProviders = []string{"", ProviderAnthropic, ProviderGemini}

// OracleConfig configures the vision/LLM backend.
type OracleConfig struct {
	Provider string `yaml:"provider"` // anthropic, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// SpeechConfig configures text-to-speech and transcription.
type SpeechConfig struct {
	ElevenLabsAPIKey string            `yaml:"elevenlabs_api_key"`
	ElevenLabsModel  string            `yaml:"elevenlabs_model"`
	Voices           map[string]string `yaml:"voices"` // locale -> voice id
	GoogleAPIKey     string            `yaml:"google_api_key"`

	// Player plays an audio file; empty selects a platform default.
	Player string `yaml:"player"`
}

// HasOracle reports whether an oracle backend is usable.
func (c *Config) HasOracle() bool {
	return c.Oracle.Provider != "" && c.Oracle.APIKey != ""
}
