// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// VFS content store
	DataDir string

	// Downloader
	YtdlDir           string
	YtdlSocketTimeout time.Duration

	// Auth (static bearer tokens for the gate)
	AuthToken  string
	AdminToken string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		DatabaseURL:       envOr("DATABASE_URL", ""),
		DataDir:           envOr("DATA_DIR", "/data/vfsfiles"),
		YtdlDir:           envOr("YTDL_DIR", "/data/ytdl"),
		YtdlSocketTimeout: envDuration("YTDL_SOCKET_TIMEOUT", 15*time.Second),
		AuthToken:         envOr("AUTH_TOKEN", ""),
		AdminToken:        envOr("ADMIN_TOKEN", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("AUTH_TOKEN is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
