// Package config reads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/SanteonNL/termrepo/util"
	"github.com/joho/godotenv"
)

const (
	EnvDatabaseURL   = "TERMREPO_DATABASE_URL"
	EnvHTTPAddr      = "TERMREPO_HTTP_ADDR"
	EnvLookupURL     = "TERMREPO_LOOKUP_URL"
	EnvLookupTimeout = "TERMREPO_LOOKUP_TIMEOUT"
	EnvLookupRetries = "TERMREPO_LOOKUP_RETRIES"
	EnvKafkaBrokers  = "TERMREPO_KAFKA_BROKERS"
	EnvKafkaTopic    = "TERMREPO_KAFKA_TOPIC"
	EnvWorkers       = "TERMREPO_WORKERS"
	EnvQueueSize     = "TERMREPO_QUEUE_SIZE"
	EnvSyncMode      = "TERMREPO_SYNC_MODE"
	EnvCacheTTL      = "TERMREPO_CACHE_TTL"
	EnvOutputDir     = "TERMREPO_OUTPUT_DIR"
	EnvLogLevel      = "TERMREPO_LOG_LEVEL"
	EnvSeedDir       = "TERMREPO_SEED_DIR"
)

type Config struct {
	DatabaseURL   string
	HTTPAddr      string
	LookupURL     string
	LookupTimeout time.Duration
	LookupRetries int
	KafkaBrokers  []string
	KafkaTopic    string
	Workers       int
	QueueSize     int
	SyncMode      bool
	CacheTTL      time.Duration
	OutputDir     string
	LogLevel      string
	SeedDir       string
}

// Load reads envPath into the environment when the file exists, without
// overriding variables that are already set, and then reads Config.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, filling defaults for unset values.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:  getenv(EnvDatabaseURL),
		HTTPAddr:     getenv(EnvHTTPAddr),
		LookupURL:    getenv(EnvLookupURL),
		KafkaBrokers: util.SplitCSV(getenv(EnvKafkaBrokers)),
		KafkaTopic:   getenv(EnvKafkaTopic),
		OutputDir:    getenv(EnvOutputDir),
		LogLevel:     getenv(EnvLogLevel),
		SeedDir:      getenv(EnvSeedDir),
	}

	var err error
	if cfg.LookupTimeout, err = duration(getenv, EnvLookupTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = duration(getenv, EnvCacheTTL); err != nil {
		return nil, err
	}
	if cfg.LookupRetries, err = integer(getenv, EnvLookupRetries, 3); err != nil {
		return nil, err
	}
	if cfg.Workers, err = integer(getenv, EnvWorkers, 0); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = integer(getenv, EnvQueueSize, 0); err != nil {
		return nil, err
	}
	if v := getenv(EnvSyncMode); v != "" {
		if cfg.SyncMode, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvSyncMode, v, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = 10 * time.Second
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "terminology-index"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 15 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func duration(getenv func(string) string, key string) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func integer(getenv func(string) string, key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
