package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice assistant service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deployment profile: selects the system instruction and page copy.
	// One of: farming, grievance
	Profile string `envconfig:"ASSISTANT_PROFILE" default:"farming"`

	// Gemini text completion
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-pro"`
	GeminiTimeout int    `envconfig:"GEMINI_TIMEOUT" default:"30"` // seconds

	// Cartesia TTS API configuration
	CartesiaAPIKey     string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID    string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID    string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english"`
	CartesiaSampleRate int    `envconfig:"CARTESIA_SAMPLE_RATE" default:"24000"`

	// Deepgram STT API configuration (used to transcribe microphone captures)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Microphone capture
	CaptureSampleRate    int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`
	CaptureCalibrationMs int     `envconfig:"CAPTURE_CALIBRATION_MS" default:"1000"` // ambient noise sampling
	CaptureListenTimeout int     `envconfig:"CAPTURE_LISTEN_TIMEOUT" default:"5"`    // seconds to wait for speech
	CapturePhraseLimit   int     `envconfig:"CAPTURE_PHRASE_LIMIT" default:"10"`     // max seconds of speech
	AudioBufferSize      int     `envconfig:"AUDIO_BUFFER_SIZE" default:"9600"`      // pre-roll bytes kept before speech starts
	VADEnergyThreshold   float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`  // minimum RMS energy threshold
	VADSilenceFrames     int     `envconfig:"VAD_SILENCE_FRAMES" default:"40"`       // 20ms frames of silence ending a phrase

	// Response pipeline
	StreamPacingMs int `envconfig:"STREAM_PACING_MS" default:"300"` // delay between streamed sentences
	MinSpeechChars int `envconfig:"MIN_SPEECH_CHARS" default:"2"`   // shorter sentences are not synthesized
	OutboundBuffer int `envconfig:"OUTBOUND_BUFFER" default:"256"`  // queued server->client events per session

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`        // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`      // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`  // Enable Prometheus metrics
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"` // Export OpenTelemetry spans to stdout
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required keys and value ranges
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	switch c.Profile {
	case "farming", "grievance":
	default:
		return fmt.Errorf("ASSISTANT_PROFILE must be farming or grievance, got %q", c.Profile)
	}
	if c.StreamPacingMs < 0 {
		return fmt.Errorf("STREAM_PACING_MS must not be negative")
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("OUTBOUND_BUFFER must be positive")
	}
	return nil
}

// StreamPacing returns the delay between streamed sentences. Zero in the
// environment disables pacing and maps to a negative duration.
func (c *Config) StreamPacing() time.Duration {
	if c.StreamPacingMs == 0 {
		return -1
	}
	return time.Duration(c.StreamPacingMs) * time.Millisecond
}

// CircuitBreakerReset returns the open-circuit cool down
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
