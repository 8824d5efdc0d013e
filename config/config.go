// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ytdigest/summarizer"
)

// DefaultFileName is looked up in the working directory and ~/.config/ytdigest.
const DefaultFileName = "ytdigest.yaml"

var hhmmRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Config holds all application configuration.
type Config struct {
	// DataDir holds the JSON documents and the delivery database.
	DataDir string `yaml:"data_dir"`
	// Timezone names the zone for the notification time and briefing dates.
	// Empty or "Local" uses the system zone.
	Timezone string `yaml:"timezone"`

	Log      LogConfig      `yaml:"log"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Telegram TelegramConfig `yaml:"telegram"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	HTTP     HTTPConfig     `yaml:"http"`
	Retry    RetryConfig    `yaml:"retry"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// YouTubeConfig configures listing and extraction.
type YouTubeConfig struct {
	// APIKey enables the Data API. Without it only the feed is used.
	APIKey string `yaml:"api_key"`
	// QuotaReserve is the daily quota kept back before switching to the feed.
	QuotaReserve int `yaml:"quota_reserve"`
	// Language is the native caption language.
	Language string `yaml:"language"`
	// ForeignLanguages are tried after the native language, in order.
	ForeignLanguages []string `yaml:"foreign_languages"`
	// ShortMaxDuration drops clips at or under this length.
	ShortMaxDuration time.Duration `yaml:"short_max_duration"`
	YtdlpPath        string        `yaml:"ytdlp_path"`
	AudioQuality     int           `yaml:"audio_quality"`
}

// GeminiConfig configures summarization.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	// Models is the fallback order, primary first.
	Models []string `yaml:"models"`
	// Language is the language summaries are written in.
	Language      string `yaml:"language"`
	MaxInputRunes int    `yaml:"max_input_runes"`
}

// TelegramConfig seeds the stored settings when they have no credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MonitorConfig tunes sweeps.
type MonitorConfig struct {
	// NotificationTime seeds the stored settings when they are first created.
	NotificationTime string        `yaml:"notification_time"`
	LookbackWindow   time.Duration `yaml:"lookback_window"`
	FreshnessHorizon time.Duration `yaml:"freshness_horizon"`
	SendInterval     time.Duration `yaml:"send_interval"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// RetryConfig configures backoff for transient HTTP failures.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "data",
		Timezone: "Local",
		Log:      LogConfig{Level: "info", Format: "text"},
		YouTube: YouTubeConfig{
			QuotaReserve:     1000,
			Language:         "ko",
			ForeignLanguages: []string{"en"},
			ShortMaxDuration: 60 * time.Second,
			YtdlpPath:        "yt-dlp",
			AudioQuality:     192,
		},
		Gemini: GeminiConfig{
			Models:        slices.Clone(summarizer.DefaultModels),
			Language:      "Korean",
			MaxInputRunes: 10000,
		},
		Monitor: MonitorConfig{
			NotificationTime: "09:00",
			LookbackWindow:   48 * time.Hour,
			FreshnessHorizon: 24 * time.Hour,
			SendInterval:     2 * time.Second,
		},
		HTTP: HTTPConfig{Timeout: 60 * time.Second},
		Retry: RetryConfig{
			MaxRetries:        5,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
	}
}

// GetConfigPath returns the config file named by YTDIGEST_CONFIG, or "" to
// search the default locations.
func GetConfigPath() string {
	return os.Getenv("YTDIGEST_CONFIG")
}

// Load builds the configuration: defaults, then the YAML file, then a .env
// file in the working directory, then environment variables.
// An explicit path must exist; with path empty the default locations are
// searched and a missing file is fine.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		if path != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	paths := []string{path}
	if path == "" {
		paths = []string{
			DefaultFileName,
			filepath.Join(os.Getenv("HOME"), ".config", "ytdigest", DefaultFileName),
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && len(paths) > 1 {
				continue
			}
			return err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		return nil
	}
	return os.ErrNotExist
}

// loadFromEnv overrides config with environment variables. Malformed
// numbers and durations are ignored.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		c.YouTube.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}

	if v := os.Getenv("YTDIGEST_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("YTDIGEST_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("YTDIGEST_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("YTDIGEST_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("YTDIGEST_NOTIFICATION_TIME"); v != "" {
		c.Monitor.NotificationTime = v
	}
	if v := os.Getenv("YTDIGEST_YTDLP_PATH"); v != "" {
		c.YouTube.YtdlpPath = v
	}
	if v := os.Getenv("YTDIGEST_GEMINI_MODELS"); v != "" {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		c.Gemini.Models = models
	}
	envDuration("YTDIGEST_LOOKBACK_WINDOW", &c.Monitor.LookbackWindow)
	envDuration("YTDIGEST_FRESHNESS_HORIZON", &c.Monitor.FreshnessHorizon)
	envDuration("YTDIGEST_SEND_INTERVAL", &c.Monitor.SendInterval)
	envDuration("YTDIGEST_HTTP_TIMEOUT", &c.HTTP.Timeout)
	envDuration("YTDIGEST_INITIAL_BACKOFF", &c.Retry.InitialBackoff)
	envDuration("YTDIGEST_MAX_BACKOFF", &c.Retry.MaxBackoff)
	if v := os.Getenv("YTDIGEST_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.YouTube.QuotaReserve < 0 {
		return fmt.Errorf("youtube.quota_reserve must be non-negative")
	}
	if c.YouTube.ShortMaxDuration < 0 {
		return fmt.Errorf("youtube.short_max_duration must be non-negative")
	}
	if len(c.Gemini.Models) == 0 {
		return fmt.Errorf("gemini.models must list at least one model")
	}
	if c.Gemini.MaxInputRunes <= 0 {
		return fmt.Errorf("gemini.max_input_runes must be positive")
	}
	if !ValidNotificationTime(c.Monitor.NotificationTime) {
		return fmt.Errorf("monitor.notification_time must be in HH:MM format (00:00-23:59), got %q", c.Monitor.NotificationTime)
	}
	if c.Monitor.LookbackWindow <= 0 {
		return fmt.Errorf("monitor.lookback_window must be positive")
	}
	if c.Monitor.FreshnessHorizon <= 0 {
		return fmt.Errorf("monitor.freshness_horizon must be positive")
	}
	if c.Monitor.SendInterval < 0 {
		return fmt.Errorf("monitor.send_interval must be non-negative")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative")
	}
	if c.Retry.InitialBackoff <= 0 {
		return fmt.Errorf("retry.initial_backoff must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff must be >= initial_backoff")
	}
	if c.Retry.BackoffMultiplier <= 1 {
		return fmt.Errorf("retry.backoff_multiplier must be > 1")
	}
	return nil
}

// ValidNotificationTime reports whether s is a zero-padded 24h HH:MM time.
func ValidNotificationTime(s string) bool {
	return hhmmRegex.MatchString(s)
}
