// Package config loads synchronization settings from a YAML file with
// environment variable overrides. Every field has a usable default so an
// empty configuration is valid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the knobs of the synchronization layer.
type Config struct {
	// FeedURL is the websocket endpoint of the change feed.
	FeedURL string `yaml:"feed_url"`

	// Channel is the named channel subscribed for inserts. It doubles as
	// the table queried for hydration and fallback polling.
	Channel string `yaml:"channel"`

	// HydrateLimit is how many historical records the cold-start query
	// loads into the audit log.
	HydrateLimit int `yaml:"hydrate_limit"`

	// RecentCapacity bounds the recent-updates window.
	RecentCapacity int `yaml:"recent_capacity"`

	// RequestTimeout applies to each feed request round trip.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectInitialDelay, ReconnectMaxDelay and ReconnectMaxAttempts
	// shape the bounded backoff run before fallback mode is declared.
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`

	// CheckInterval is how often the established channel is checked for
	// liveness.
	CheckInterval time.Duration `yaml:"check_interval"`

	// PollInterval is the fallback polling cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollLimit is how many records each fallback poll requests.
	PollLimit int `yaml:"poll_limit"`

	// ToastDuration and ToastStagger control notification expiry.
	ToastDuration time.Duration `yaml:"toast_duration"`
	ToastStagger  time.Duration `yaml:"toast_stagger"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		FeedURL:               "ws://localhost:8000/feed",
		Channel:               "analytics_updates",
		HydrateLimit:          50,
		RecentCapacity:        10,
		RequestTimeout:        30 * time.Second,
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     15 * time.Second,
		ReconnectMaxAttempts:  5,
		CheckInterval:         time.Second,
		PollInterval:          10 * time.Second,
		PollLimit:             20,
		ToastDuration:         5 * time.Second,
		ToastStagger:          time.Second,
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return FromEnv(cfg), nil
}

// FromEnv overlays ANALYTICS_* environment variables onto cfg.
func FromEnv(cfg Config) Config {
	cfg.FeedURL = getEnvOrDefault("ANALYTICS_FEED_URL", cfg.FeedURL)
	cfg.Channel = getEnvOrDefault("ANALYTICS_CHANNEL", cfg.Channel)
	cfg.HydrateLimit = getEnvInt("ANALYTICS_HYDRATE_LIMIT", cfg.HydrateLimit)
	cfg.RecentCapacity = getEnvInt("ANALYTICS_RECENT_CAPACITY", cfg.RecentCapacity)
	cfg.ReconnectMaxAttempts = getEnvInt("ANALYTICS_RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts)
	cfg.RequestTimeout = getEnvDuration("ANALYTICS_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ReconnectInitialDelay = getEnvDuration("ANALYTICS_RECONNECT_INITIAL_DELAY", cfg.ReconnectInitialDelay)
	cfg.ReconnectMaxDelay = getEnvDuration("ANALYTICS_RECONNECT_MAX_DELAY", cfg.ReconnectMaxDelay)
	cfg.CheckInterval = getEnvDuration("ANALYTICS_CHECK_INTERVAL", cfg.CheckInterval)
	cfg.PollInterval = getEnvDuration("ANALYTICS_POLL_INTERVAL", cfg.PollInterval)
	cfg.PollLimit = getEnvInt("ANALYTICS_POLL_LIMIT", cfg.PollLimit)
	cfg.ToastDuration = getEnvDuration("ANALYTICS_TOAST_DURATION", cfg.ToastDuration)
	cfg.ToastStagger = getEnvDuration("ANALYTICS_TOAST_STAGGER", cfg.ToastStagger)
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
