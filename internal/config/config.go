// Package config loads runtime settings from the environment. A .env file in
// the working directory is honored for local development.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// Provider
	OpenRouterAPIKey  string `env:"FADEN_OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `env:"FADEN_OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	Referer           string `env:"FADEN_HTTP_REFERER" envDefault:"https://faden.local"`
	AppTitle          string `env:"FADEN_APP_TITLE" envDefault:"Faden"`

	// Models
	DefaultModel string `env:"FADEN_DEFAULT_MODEL" envDefault:"openai/gpt-4o-mini"`
	VisionModel  string `env:"FADEN_VISION_MODEL" envDefault:"openai/gpt-4o"`

	// HTTP API
	Port      int    `env:"FADEN_PORT" envDefault:"8484"`
	AuthToken string `env:"FADEN_AUTH_TOKEN"`

	// Storage
	DataDir  string `env:"FADEN_DATA_DIR" envDefault:"~/.faden"`
	CacheDir string `env:"FADEN_CACHE_DIR"`

	LogLevel string `env:"FADEN_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and normalizes paths. The cache
// directory defaults to a subdirectory of the data directory.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	var err error
	if cfg.DataDir, err = expandHome(cfg.DataDir); err != nil {
		return nil, err
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	} else if cfg.CacheDir, err = expandHome(cfg.CacheDir); err != nil {
		return nil, err
	}
	return cfg, nil
}
