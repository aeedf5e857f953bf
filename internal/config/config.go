// Package config loads the mcpecho server configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Transports supported by the server.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// DefaultPath is read when no --config flag is given. A missing default file
// is not an error.
const DefaultPath = "mcpecho.yaml"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the on-disk configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Stats   StatsConfig   `yaml:"stats" json:"stats"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Transport string `yaml:"transport" json:"transport"`
	Stateless bool   `yaml:"stateless" json:"stateless"`
	BasePath  string `yaml:"base_path" json:"base_path"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type StatsConfig struct {
	// Schedule is a cron spec; empty disables the reporter.
	Schedule string `yaml:"schedule" json:"schedule"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":3000",
			Transport: TransportHTTP,
			BasePath:  "/mcp",
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads a YAML (or JSON, by extension) file over the defaults.
// An empty path or a missing DefaultPath yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Server.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Server.Transport)
	}
	if c.Server.Transport == TransportHTTP && c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required for the http transport", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("%w: server.base_path must start with '/'", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Stats.Schedule != "" {
		if _, err := cron.ParseStandard(c.Stats.Schedule); err != nil {
			return fmt.Errorf("%w: stats.schedule: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
