// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Env always wins so container
// deployments can tweak a baked-in file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	DataDir     string `yaml:"dataDir"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	WebhookTimeoutMs int `yaml:"webhookTimeoutMs"`
}

// Load reads CONFIG_FILE (if set) and applies env overrides. Missing file
// when CONFIG_FILE is set is an error; an unset CONFIG_FILE is not.
func Load() (Config, error) {
	cfg := Config{
		Port:             "8080",
		RateRPS:          10,
		RateBurst:        20,
		WebhookTimeoutMs: 5000,
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "reading config file")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing %s", path)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateRPS = f
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateBurst = n
		}
	}
	if v := os.Getenv("WEBHOOK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WebhookTimeoutMs = n
		}
	}
	return cfg, nil
}

// WebhookTimeout returns the per-attempt HTTP timeout.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMs) * time.Millisecond
}
