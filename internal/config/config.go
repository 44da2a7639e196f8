// Package config loads service settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	BaseDir   string `env:"BASE_DIR" envDefault:"./drt"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Level-II object store (anonymous access).
	StoreEndpoint   string        `env:"LEVEL2_ENDPOINT" envDefault:"https://noaa-nexrad-level2.s3.amazonaws.com"`
	StoreTimeout    time.Duration `env:"LEVEL2_TIMEOUT" envDefault:"60s"`
	DownloadFanOut  int           `env:"DOWNLOAD_FANOUT" envDefault:"4"`
	DownloadRetries int           `env:"DOWNLOAD_RETRIES" envDefault:"3"`

	MungeWorkers int `env:"MUNGE_WORKERS" envDefault:"4"`

	// Playback defaults; each session may override tick interval, speed
	// factor, and lookahead at submit.
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"45s"`
	SpeedFactor  float64       `env:"SPEED_FACTOR" envDefault:"1.0"`
	Lookahead    time.Duration `env:"TRIM_LOOKAHEAD" envDefault:"5m"`

	// SessionTTL bounds how long a finished session's tree is kept.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"12h"`

	// ToolsDir is where the external helper executables live
	// (hodo_plot, mesowest_obs, nse_processor, lsr_downloader).
	ToolsDir string `env:"TOOLS_DIR" envDefault:"/usr/local/libexec/radar-sim"`

	// Optional session lifecycle event bus. Events are disabled when no
	// brokers are configured.
	KafkaBrokers    []string `env:"KAFKA_BROKERS"`
	KafkaEventTopic string   `env:"KAFKA_EVENT_TOPIC" envDefault:"radar-sim-session-events"`
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.BaseDir == "" {
		return nil, errors.New("BASE_DIR is required")
	}
	if cfg.StoreEndpoint == "" {
		return nil, errors.New("LEVEL2_ENDPOINT is required")
	}
	if cfg.DownloadFanOut <= 0 {
		return nil, errors.New("DOWNLOAD_FANOUT must be positive")
	}
	if cfg.DownloadRetries < 0 {
		return nil, errors.New("DOWNLOAD_RETRIES must not be negative")
	}
	if cfg.MungeWorkers <= 0 {
		return nil, errors.New("MUNGE_WORKERS must be positive")
	}
	if cfg.TickInterval <= 0 {
		return nil, errors.New("TICK_INTERVAL must be positive")
	}
	if cfg.SpeedFactor <= 0 {
		return nil, errors.New("SPEED_FACTOR must be positive")
	}
	if cfg.Lookahead < 0 {
		return nil, errors.New("TRIM_LOOKAHEAD must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	return &cfg, nil
}

// EventsEnabled reports whether session lifecycle events should be
// published to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
