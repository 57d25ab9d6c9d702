// package config loads application configuration from a .env file, an optional yaml file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// validation errors
var (
	ErrInvalidWorkers = errors.New("worker counts must be positive")
	ErrInvalidRange   = errors.New("max range must be positive")
	ErrInvalidRetry   = errors.New("retry settings must be positive")
)

// Config holds all application configuration.
type Config struct {
	// telegram
	TGApiID      int    `yaml:"tg_api_id"`
	TGApiHash    string `yaml:"tg_api_hash"`
	TGSessionStr string `yaml:"tg_session_string"`

	// database (sqlite://path or postgres://...)
	DatabaseURL string `yaml:"database_url"`

	// storage
	DownloadsDir string `yaml:"downloads_dir"`

	// worker pools
	DownloadWorkers int `yaml:"download_workers"`
	RangeWorkers    int `yaml:"range_workers"`
	MediaWorkers    int `yaml:"media_workers"`
	MaxRange        int `yaml:"max_range"`

	// rate limiting and retries
	RateRPS            float64 `yaml:"tg_rate_rps"`
	RateBurst          int     `yaml:"tg_rate_burst"`
	FloodWaitCapSec    int     `yaml:"flood_wait_cap_seconds"`
	FloodMaxAttempts   int     `yaml:"flood_max_attempts"`
	TransportRetries   int     `yaml:"transport_retries"`
	TransportBackoffMS int     `yaml:"transport_backoff_ms"`

	// export
	ExportPDF bool `yaml:"export_pdf"`

	// events
	EventBuffer int    `yaml:"event_buffer"`
	NatsURL     string `yaml:"nats_url"`

	// server
	HTTPPort int `yaml:"http_port"`

	// logging
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"` // console or json

	configFileLoaded string
}

// defaults returns the built-in configuration.
func defaults() *Config {
	return &Config{
		DatabaseURL:        "sqlite://./data/tgsaver.db",
		DownloadsDir:       "./downloads",
		DownloadWorkers:    4,
		RangeWorkers:       2,
		MediaWorkers:       2,
		MaxRange:           5000,
		RateRPS:            2.0,
		RateBurst:          1,
		FloodWaitCapSec:    300,
		FloodMaxAttempts:   5,
		TransportRetries:   3,
		TransportBackoffMS: 500,
		EventBuffer:        256,
		HTTPPort:           3100,
		LogLevel:           "info",
		LogFile:            "./logs/tgsaver.log",
		LogFormat:          "console",
	}
}

// Load reads configuration with sensible defaults.
// Precedence: environment > yaml file (CONFIG_FILE) > defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	// missing .env is fine
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.TGApiID = getEnvInt("TG_API_ID", cfg.TGApiID)
	cfg.TGApiHash = getEnv("TG_API_HASH", cfg.TGApiHash)
	cfg.TGSessionStr = getEnv("TG_SESSION_STRING", cfg.TGSessionStr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DownloadsDir = getEnv("DOWNLOADS_DIR", cfg.DownloadsDir)
	cfg.DownloadWorkers = getEnvInt("DOWNLOAD_WORKERS", cfg.DownloadWorkers)
	cfg.RangeWorkers = getEnvInt("RANGE_WORKERS", cfg.RangeWorkers)
	cfg.MediaWorkers = getEnvInt("MEDIA_WORKERS", cfg.MediaWorkers)
	cfg.MaxRange = getEnvInt("MAX_RANGE", cfg.MaxRange)
	cfg.RateRPS = getEnvFloat("TG_RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = getEnvInt("TG_RATE_BURST", cfg.RateBurst)
	cfg.FloodWaitCapSec = getEnvInt("FLOOD_WAIT_CAP_SECONDS", cfg.FloodWaitCapSec)
	cfg.FloodMaxAttempts = getEnvInt("FLOOD_MAX_ATTEMPTS", cfg.FloodMaxAttempts)
	cfg.TransportRetries = getEnvInt("TRANSPORT_RETRIES", cfg.TransportRetries)
	cfg.TransportBackoffMS = getEnvInt("TRANSPORT_BACKOFF_MS", cfg.TransportBackoffMS)
	cfg.EventBuffer = getEnvInt("EVENT_BUFFER", cfg.EventBuffer)
	cfg.ExportPDF = getEnvBool("EXPORT_PDF", cfg.ExportPDF)
	cfg.NatsURL = getEnv("NATS_URL", cfg.NatsURL)
	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays values from a yaml file onto cfg.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.configFileLoaded = path
	return nil
}

// ConfigFile returns the yaml file the config was read from, if any.
func (c *Config) ConfigFile() string {
	return c.configFileLoaded
}

// Validate checks values that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.DownloadWorkers <= 0 || c.RangeWorkers <= 0 || c.MediaWorkers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxRange <= 0 {
		return ErrInvalidRange
	}
	if c.FloodMaxAttempts <= 0 || c.TransportRetries < 0 || c.FloodWaitCapSec <= 0 {
		return ErrInvalidRetry
	}
	return nil
}

// FloodWaitCap returns the flood wait ceiling as a duration.
func (c *Config) FloodWaitCap() time.Duration {
	return time.Duration(c.FloodWaitCapSec) * time.Second
}

// TransportBackoff returns the fixed pause between transport retries.
func (c *Config) TransportBackoff() time.Duration {
	return time.Duration(c.TransportBackoffMS) * time.Millisecond
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
