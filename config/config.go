// Package config loads petalstat host settings from PETALSTAT_* environment
// variables, with optional .env file support.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "PETALSTAT"

// Transport names accepted by TRANSPORT and `serve --transport`.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportMCP   = "mcp"
)

// Config holds host settings for the dispatch engine and its transports.
type Config struct {
	// Transport selects the active transport at startup.
	Transport string `envconfig:"TRANSPORT" default:"stdio"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8080"`

	// Catalog is an explicit catalogue path; empty means discovery.
	Catalog string `envconfig:"CATALOG"`
	// WorkerDir is where the embedded catalogue's worker scripts live.
	WorkerDir string `envconfig:"WORKER_DIR" default:"workers"`

	ToolTimeout    time.Duration `envconfig:"TOOL_TIMEOUT" default:"60s"`
	MaxConcurrent  int           `envconfig:"MAX_CONCURRENT" default:"0"`       // 0 = unlimited
	MaxOutputBytes int64         `envconfig:"MAX_OUTPUT_BYTES" default:"8388608"` // Worker stdout cap
	MaxBodyBytes   int64         `envconfig:"MAX_BODY" default:"1048576"`         // HTTP request body cap

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`  // debug, info, warn, error
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"` // text, json

	// OTLPEndpoint enables trace export when set (host:port).
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
}

// Load reads configuration from the environment, first applying a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from the environment only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportMCP:
	default:
		return fmt.Errorf("%s_TRANSPORT: unsupported transport %q; allowed: stdio, http, mcp", Prefix, c.Transport)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("%s_TOOL_TIMEOUT must be positive, got %s", Prefix, c.ToolTimeout)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%s_MAX_CONCURRENT must not be negative, got %d", Prefix, c.MaxConcurrent)
	}
	if c.MaxOutputBytes <= 0 {
		return fmt.Errorf("%s_MAX_OUTPUT_BYTES must be positive, got %d", Prefix, c.MaxOutputBytes)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%s_MAX_BODY must be positive, got %d", Prefix, c.MaxBodyBytes)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%s_LOG_FORMAT: unsupported format %q; allowed: text, json", Prefix, c.LogFormat)
	}
	return nil
}
