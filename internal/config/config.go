package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the kanban client
// and server.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogFile sends logs to a rotated file instead of stdout.
	LogFile string `env:"LOG_FILE"`

	// DataDir holds the client database and the OFFLINE flag file.
	// Defaults to ~/.kanban-sync.
	DataDir string `env:"KANBAN_DATA_DIR"`

	// Client settings.
	ServerURL         string        `env:"KANBAN_SERVER_URL" envDefault:"http://localhost:8080"`
	SyncInterval      time.Duration `env:"KANBAN_SYNC_INTERVAL" envDefault:"45s"`
	HeartbeatInterval time.Duration `env:"KANBAN_HEARTBEAT_INTERVAL" envDefault:"10s"`

	// MCPListenAddr is where the client serves its MCP tools over
	// streamable HTTP.
	MCPListenAddr string `env:"KANBAN_MCP_ADDR" envDefault:":8090"`

	// Server settings.
	ListenAddr     string   `env:"KANBAN_LISTEN_ADDR" envDefault:":8080"`
	ServerDB       string   `env:"KANBAN_SERVER_DB"`
	AllowedOrigins []string `env:"KANBAN_ALLOWED_ORIGINS" envSeparator:","`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}

		cfg.DataDir = dir
	}

	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	if cfg.ServerDB == "" {
		cfg.ServerDB = filepath.Join(cfg.DataDir, "server.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("KANBAN_SERVER_URL is not a valid URL: %w", err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("KANBAN_SERVER_URL must be an http or https URL, got %q", c.ServerURL)
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("KANBAN_SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("KANBAN_HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("KANBAN_LISTEN_ADDR must not be empty")
	}

	return nil
}

// DefaultDataDir returns ~/.kanban-sync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".kanban-sync"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
