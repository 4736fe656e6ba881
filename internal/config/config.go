package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/pacedchat/internal/chunker"
	"github.com/ent0n29/pacedchat/internal/reveal"
)

// Config contains all runtime settings for the paced chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionRetention         time.Duration
	MetricsNamespace         string
	LogLevel                 zerolog.Level

	AllowAnyOrigin bool

	BackendMode    string
	BackendURL     string
	BackendTimeout time.Duration

	ChatUsername string
	ChatAgentID  int64

	Chunking chunker.Options
	Pacing   reveal.Pacing
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	pacing := reveal.DefaultPacing()
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "pacedchat"),
		AllowAnyOrigin:   false,
		BackendMode:      envOrDefault("BACKEND_MODE", "auto"),
		BackendURL:       stringsTrimSpace("BACKEND_URL"),
		// The demo backend identifies callers by name and agent.
		ChatUsername:             envOrDefault("CHAT_USERNAME", "demo"),
		ChatAgentID:              1,
		Chunking:                 chunker.DefaultOptions(),
		Pacing:                   pacing,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		SessionRetention:         30 * time.Minute,
		BackendTimeout:           60 * time.Second,
	}

	var err error
	cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")))
	if err != nil {
		return Config{}, fmt.Errorf("APP_LOG_LEVEL parse error: %w", err)
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("APP_SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}

	agentID, err := intFromEnv("CHAT_AGENT_ID", int(cfg.ChatAgentID))
	if err != nil {
		return Config{}, err
	}
	cfg.ChatAgentID = int64(agentID)

	cfg.Chunking.MaxSegmentsPerChunk, err = intFromEnv("REVEAL_MAX_SEGMENTS", cfg.Chunking.MaxSegmentsPerChunk)
	if err != nil {
		return Config{}, err
	}
	cfg.Chunking.MaxChunkLength, err = intFromEnv("REVEAL_MAX_CHUNK_LENGTH", cfg.Chunking.MaxChunkLength)
	if err != nil {
		return Config{}, err
	}

	cfg.Pacing.FirstDelay, err = durationFromEnv("REVEAL_FIRST_DELAY", cfg.Pacing.FirstDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.Pacing.MinDelay, err = durationFromEnv("REVEAL_MIN_DELAY", cfg.Pacing.MinDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.Pacing.MaxDelay, err = durationFromEnv("REVEAL_MAX_DELAY", cfg.Pacing.MaxDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.Pacing.PerRune, err = durationFromEnv("REVEAL_PER_CHAR_DELAY", cfg.Pacing.PerRune)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SessionRetention <= 0 {
		return Config{}, fmt.Errorf("APP_SESSION_RETENTION must be positive")
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	switch strings.ToLower(cfg.BackendMode) {
	case "auto", "mock":
	case "http":
		if cfg.BackendURL == "" {
			return Config{}, fmt.Errorf("BACKEND_URL is required when BACKEND_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("BACKEND_MODE must be one of auto, http, mock")
	}
	if cfg.Chunking.MaxSegmentsPerChunk <= 0 {
		return Config{}, fmt.Errorf("REVEAL_MAX_SEGMENTS must be positive")
	}
	if cfg.Chunking.MaxChunkLength <= 0 {
		return Config{}, fmt.Errorf("REVEAL_MAX_CHUNK_LENGTH must be positive")
	}
	if err := cfg.Pacing.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := strings.ToLower(stringsTrimSpace(key))
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
