package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSystemPrompt = "You are a helpful assistant. You will be providing assistance to people who are scheduling an appointment. My free times are Monday 1PM EST to 3 PM EST."

const (
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Config contains all runtime settings for the voice agent.
type Config struct {
	StoreBackend string
	StorePath    string
	StateTable   string
	DatabaseURL  string

	// ParamPrefix switches credential lookup to SSM Parameter Store.
	ParamPrefix string

	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OpenAIModel            string
	OpenAITranscribeModel  string
	PlayHTSecret           string
	PlayHTUserID           string
	PlayHTBaseURL          string
	PlayHTVoice            string
	PlayHTQuality          string
	PlayHTOutputFormat     string
	PlayHTSpeed            float64
	PlayHTSampleRate       int
	SystemPrompt           string
	ConversationID         string
	AudioDir               string
	SynthesisPollInterval  time.Duration
	SynthesisPollTimeout   time.Duration
	ListenMaxAttempts      int
	CaptureSampleRate      int
	CaptureEnergyThreshold float64
	CaptureSilence         time.Duration
	CaptureMaxUtterance    time.Duration

	StatusAddr       string
	MetricsNamespace string
	LogLevel         slog.Level
	HTTPTimeout      time.Duration
}

// Load reads environment variables and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		StoreBackend:          strings.ToLower(envOrDefault("STORE_BACKEND", BackendBolt)),
		StorePath:             envOrDefault("STORE_PATH", "data/conversations.db"),
		StateTable:            trimmedEnv("STATE_TABLE"),
		DatabaseURL:           trimmedEnv("DATABASE_URL"),
		ParamPrefix:           strings.TrimRight(trimmedEnv("PARAM_PREFIX"), "/"),
		OpenAIAPIKey:          trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:         trimmedEnv("OPENAI_BASE_URL"),
		OpenAIModel:           envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAITranscribeModel: envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		PlayHTSecret:          trimmedEnv("PLAYHT_SECRET"),
		PlayHTUserID:          trimmedEnv("PLAYHT_USER_ID"),
		PlayHTBaseURL:         envOrDefault("PLAYHT_BASE_URL", "https://play.ht"),
		PlayHTVoice:           envOrDefault("PLAYHT_VOICE", "alphonso"),
		PlayHTQuality:         envOrDefault("PLAYHT_QUALITY", "high"),
		PlayHTOutputFormat:    envOrDefault("PLAYHT_OUTPUT_FORMAT", "mp3"),
		SystemPrompt:          envOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		ConversationID:        trimmedEnv("CONVERSATION_ID"),
		AudioDir:              envOrDefault("AUDIO_DIR", "audio_files"),
		StatusAddr:            trimmedEnv("STATUS_ADDR"),
		MetricsNamespace:      envOrDefault("METRICS_NAMESPACE", "voice_agent"),

		PlayHTSpeed:            1,
		PlayHTSampleRate:       24000,
		SynthesisPollInterval:  2 * time.Second,
		SynthesisPollTimeout:   5 * time.Minute,
		ListenMaxAttempts:      0,
		CaptureSampleRate:      16000,
		CaptureEnergyThreshold: 500,
		CaptureSilence:         800 * time.Millisecond,
		CaptureMaxUtterance:    30 * time.Second,
		LogLevel:               slog.LevelInfo,
		HTTPTimeout:            30 * time.Second,
	}

	var err error
	if cfg.PlayHTSpeed, err = floatFromEnv("PLAYHT_SPEED", cfg.PlayHTSpeed); err != nil {
		return Config{}, err
	}
	if cfg.PlayHTSampleRate, err = intFromEnv("PLAYHT_SAMPLE_RATE", cfg.PlayHTSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.SynthesisPollInterval, err = durationFromEnv("SYNTHESIS_POLL_INTERVAL", cfg.SynthesisPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.SynthesisPollTimeout, err = durationFromEnv("SYNTHESIS_POLL_TIMEOUT", cfg.SynthesisPollTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ListenMaxAttempts, err = intFromEnv("LISTEN_MAX_ATTEMPTS", cfg.ListenMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.CaptureEnergyThreshold, err = floatFromEnv("CAPTURE_ENERGY_THRESHOLD", cfg.CaptureEnergyThreshold); err != nil {
		return Config{}, err
	}
	if cfg.CaptureSilence, err = durationFromEnv("CAPTURE_SILENCE", cfg.CaptureSilence); err != nil {
		return Config{}, err
	}
	if cfg.CaptureMaxUtterance, err = durationFromEnv("CAPTURE_MAX_UTTERANCE", cfg.CaptureMaxUtterance); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = durationFromEnv("HTTP_TIMEOUT", cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = levelFromEnv("LOG_LEVEL", cfg.LogLevel); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendBolt:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH must be set for the bolt backend")
		}
	case BackendDynamoDB:
		if c.StateTable == "" {
			return fmt.Errorf("STATE_TABLE must be set for the dynamodb backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of bolt, dynamodb, postgres; got %q", c.StoreBackend)
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("SYSTEM_PROMPT must not be blank")
	}
	if c.SynthesisPollInterval <= 0 {
		return fmt.Errorf("SYNTHESIS_POLL_INTERVAL must be positive")
	}
	if c.SynthesisPollTimeout < 0 {
		return fmt.Errorf("SYNTHESIS_POLL_TIMEOUT must be >= 0")
	}
	if c.ListenMaxAttempts < 0 {
		return fmt.Errorf("LISTEN_MAX_ATTEMPTS must be >= 0")
	}
	if c.PlayHTSpeed <= 0 {
		return fmt.Errorf("PLAYHT_SPEED must be positive")
	}
	if c.PlayHTSampleRate <= 0 {
		return fmt.Errorf("PLAYHT_SAMPLE_RATE must be positive")
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if c.CaptureEnergyThreshold <= 0 {
		return fmt.Errorf("CAPTURE_ENERGY_THRESHOLD must be positive")
	}
	if c.CaptureSilence <= 0 {
		return fmt.Errorf("CAPTURE_SILENCE must be positive")
	}
	if c.CaptureMaxUtterance < c.CaptureSilence {
		return fmt.Errorf("CAPTURE_MAX_UTTERANCE must be at least CAPTURE_SILENCE")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// UseParamStore reports whether credentials come from SSM rather than the
// environment.
func (c Config) UseParamStore() bool {
	return c.ParamPrefix != ""
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return lvl, nil
}
