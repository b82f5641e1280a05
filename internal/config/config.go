package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Speech-to-text provider names accepted in STT_PROVIDER.
const (
	ProviderWhisper  = "whisper"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the captcha solver
type Config struct {
	// Portal configuration
	// LoginURL is the page that carries the audio CAPTCHA widget.
	LoginURL string `envconfig:"PORTAL_LOGIN_URL" default:"https://www.einvoice.nat.gov.tw/accounts/login/b"`

	// CAPTCHA challenge configuration
	TriggerLocator string        `envconfig:"CAPTCHA_TRIGGER_LOCATOR" default:"button[title=\"語音播放圖形驗證碼\"]"` // Control that switches the CAPTCHA to its audio rendition
	AudioLocator   string        `envconfig:"CAPTCHA_AUDIO_LOCATOR" default:"audio"`                               // Element whose src attribute holds the challenge audio URL
	WaitTimeout    time.Duration `envconfig:"CAPTCHA_WAIT_TIMEOUT" default:"10s"`                                  // Bounded wait for the trigger and audio elements

	// Transcription retry bound (total attempts, not retries after the first)
	TranscribeAttempts int `envconfig:"CAPTCHA_TRANSCRIBE_ATTEMPTS" default:"3"`

	// Speech-to-text configuration
	STTProvider string `envconfig:"STT_PROVIDER" default:"whisper"` // whisper, deepgram
	STTLanguage string `envconfig:"STT_LANGUAGE" default:"zh"`      // Language hint passed to the provider

	// Whisper (OpenAI-compatible) STT configuration
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""` // Override for self-hosted Whisper-compatible servers
	WhisperModel  string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// Deepgram STT configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Audio normalization configuration
	FFmpegPath string `envconfig:"FFMPEG_PATH" default:"ffmpeg"` // Transcoder binary; resolved via PATH when not absolute

	// Challenge download configuration
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`

	// Browser configuration
	BrowserHeadless   bool   `envconfig:"BROWSER_HEADLESS" default:"true"`
	BrowserExecutable string `envconfig:"BROWSER_EXECUTABLE" default:""` // Empty means the bundled Chromium
	BrowserUserAgent  string `envconfig:"BROWSER_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"`
	BrowserWidth      int    `envconfig:"BROWSER_WIDTH" default:"1920"`
	BrowserHeight     int    `envconfig:"BROWSER_HEIGHT" default:"1080"`

	NavTimeout time.Duration `envconfig:"NAV_TIMEOUT" default:"30s"` // Page navigation timeout

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`        // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`      // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"` // Serve Prometheus metrics while the solver runs
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks cross-field constraints envconfig tags cannot express.
func (c *Config) validate() error {
	switch c.STTProvider {
	case ProviderWhisper:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when STT_PROVIDER is %q", ProviderWhisper)
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER is %q", ProviderDeepgram)
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (expected %q or %q)", c.STTProvider, ProviderWhisper, ProviderDeepgram)
	}

	if c.TranscribeAttempts < 1 {
		return fmt.Errorf("CAPTCHA_TRANSCRIBE_ATTEMPTS must be at least 1, got %d", c.TranscribeAttempts)
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("CAPTCHA_WAIT_TIMEOUT must be positive, got %s", c.WaitTimeout)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.LoginURL == "" {
		return fmt.Errorf("PORTAL_LOGIN_URL is required")
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
