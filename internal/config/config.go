package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice console service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DefaultProvider string
	DefaultModel    string

	// Long-lived provider keys used to mint ephemeral session
	// credentials. Either may be empty; the /token endpoint reports
	// NO_API_KEY for providers without one.
	OpenAIAPIKey   string
	OutspeedAPIKey string

	// SessionConnectTimeout bounds credential fetch plus transport
	// negotiation for one StartSession attempt.
	SessionConnectTimeout time.Duration

	// UserSpeechTrimPadding is added to the detector-reported utterance
	// length when trimming the user clip, compensating for VAD lag.
	UserSpeechTrimPadding time.Duration
	// BotSpeechStopGrace delays stopping the assistant capture after the
	// output buffer drains so trailing samples are not truncated.
	BotSpeechStopGrace time.Duration

	// SampleRate of the shared audio engine in Hz.
	SampleRate int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "voicedevtools"),
		AllowAnyOrigin:        false,
		DefaultProvider:       envOrDefault("APP_DEFAULT_PROVIDER", "openai"),
		DefaultModel:          trimmedEnv("APP_DEFAULT_MODEL"),
		OpenAIAPIKey:          trimmedEnv("OPENAI_API_KEY"),
		OutspeedAPIKey:        trimmedEnv("OUTSPEED_API_KEY"),
		DatabaseURL:           trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:       15 * time.Second,
		SessionConnectTimeout: 30 * time.Second,
		UserSpeechTrimPadding: time.Second,
		BotSpeechStopGrace:    400 * time.Millisecond,
		SampleRate:            24000,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionConnectTimeout, err = durationFromEnv("APP_SESSION_CONNECT_TIMEOUT", cfg.SessionConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UserSpeechTrimPadding, err = durationFromEnv("APP_USER_SPEECH_TRIM_PADDING", cfg.UserSpeechTrimPadding)
	if err != nil {
		return Config{}, err
	}
	cfg.BotSpeechStopGrace, err = durationFromEnv("APP_BOT_SPEECH_STOP_GRACE", cfg.BotSpeechStopGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("APP_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionConnectTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_CONNECT_TIMEOUT must be at least 1s")
	}
	if cfg.UserSpeechTrimPadding < 0 {
		return Config{}, fmt.Errorf("APP_USER_SPEECH_TRIM_PADDING must be >= 0")
	}
	if cfg.BotSpeechStopGrace < 0 {
		return Config{}, fmt.Errorf("APP_BOT_SPEECH_STOP_GRACE must be >= 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("APP_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

// APIKeyFor returns the configured long-lived key for a provider name.
func (c Config) APIKeyFor(providerName string) string {
	switch strings.ToLower(strings.TrimSpace(providerName)) {
	case "openai":
		return c.OpenAIAPIKey
	case "outspeed":
		return c.OutspeedAPIKey
	default:
		return ""
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
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

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
