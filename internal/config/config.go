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

	// Remote host (SSH/SFTP)
	SSHHost     string
	SSHPort     int
	SSHUser     string
	SSHPassword string

	// All gateway paths must live under this directory on the remote host.
	BaseDir string

	// Commands run remotely are killed after this long.
	ExecTimeout time.Duration

	// CORS origin allowed on the HTTP API ("*" for any).
	CORSOrigin string

	// Invite tokens
	InviteSecret string
	InviteTTL    time.Duration

	// Sync relay (cmd/syncrelay)
	SyncListenAddr string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":3001"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
		SSHHost:        envOr("SSH_HOST", ""),
		SSHPort:        envInt("SSH_PORT", 22),
		SSHUser:        envOr("SSH_USER", ""),
		SSHPassword:    envOr("SSH_PASSWORD", ""),
		BaseDir:        envOr("BASE_DIR", "/data/workspace"),
		ExecTimeout:    envDuration("EXEC_TIMEOUT", 2*time.Minute),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		InviteSecret:   envOr("INVITE_SECRET", ""),
		InviteTTL:      envDuration("INVITE_TTL", 24*time.Hour),
		SyncListenAddr: envOr("SYNC_LISTEN_ADDR", ":1234"),
	}

	if cfg.SSHHost == "" {
		return nil, fmt.Errorf("SSH_HOST is required")
	}
	if cfg.SSHUser == "" {
		return nil, fmt.Errorf("SSH_USER is required")
	}
	if cfg.BaseDir == "" || cfg.BaseDir[0] != '/' {
		return nil, fmt.Errorf("BASE_DIR must be an absolute path, got %q", cfg.BaseDir)
	}

	return cfg, nil
}

// SyncConfig holds the standalone sync relay's configuration.
type SyncConfig struct {
	SyncListenAddr string
	LogLevel       string
	LogFormat      string
}

// LoadSync reads the sync relay configuration. The sync relay never
// touches the remote host, so none of the SSH settings apply.
func LoadSync() (*SyncConfig, error) {
	return &SyncConfig{
		SyncListenAddr: envOr("SYNC_LISTEN_ADDR", ":1234"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
