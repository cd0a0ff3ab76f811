// Package config loads and validates the gateway configuration from a
// JSON or YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HongGunKR/CoE-Backend/errors"
)

// Config represents the complete application configuration
type Config struct {
	Version string       `json:"version" yaml:"version"`
	Server  ServerConfig `json:"server" yaml:"server"`
	NATS    NATSConfig   `json:"nats" yaml:"nats"`
	Flows   FlowsConfig  `json:"flows" yaml:"flows"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port        int    `json:"port" yaml:"port"`
	SwaggerUI   bool   `json:"swagger_ui" yaml:"swagger_ui"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	APIVersion  string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL string `json:"url" yaml:"url"`
}

// FlowsConfig holds flow storage and execution settings
type FlowsConfig struct {
	// Bucket is the JetStream KV bucket holding flow definitions
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// ExecuteSubject is the NATS subject the flow engine listens on
	ExecuteSubject string `json:"execute_subject,omitempty" yaml:"execute_subject,omitempty"`

	// ExecuteTimeoutStr bounds a single flow execution (default: "30s")
	ExecuteTimeoutStr string `json:"execute_timeout,omitempty" yaml:"execute_timeout,omitempty"`

	executeTimeout time.Duration
}

// ExecuteTimeout returns the parsed execution timeout
func (f *FlowsConfig) ExecuteTimeout() time.Duration {
	return f.executeTimeout
}

// Default returns the built-in configuration used when no file is given
func Default() *Config {
	cfg := &Config{
		Version: "1.0.0",
		Server: ServerConfig{
			Port:        8000,
			Title:       "CoE Backend API",
			Description: "Gateway exposing stored flows as dynamic HTTP endpoints",
			APIVersion:  "1.0.0",
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Flows: FlowsConfig{
			Bucket:            "coe_flows",
			ExecuteSubject:    "flows.execute",
			ExecuteTimeoutStr: "30s",
		},
	}
	// Defaults are always internally consistent
	_ = cfg.Validate()
	return cfg
}

// Load reads a configuration file (JSON or YAML by extension), applies
// defaults, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read "+path)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse YAML "+path)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse JSON "+path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills derived fields
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("server port out of range: %d", c.Server.Port))
	}
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
			"nats.url is required")
	}

	if c.Flows.Bucket == "" {
		c.Flows.Bucket = "coe_flows"
	}
	if c.Flows.ExecuteSubject == "" {
		c.Flows.ExecuteSubject = "flows.execute"
	}
	if c.Flows.ExecuteTimeoutStr == "" {
		c.Flows.ExecuteTimeoutStr = "30s"
	}

	timeout, err := time.ParseDuration(c.Flows.ExecuteTimeoutStr)
	if err != nil {
		return errors.WrapInvalid(err, "config", "Validate",
			"invalid flows.execute_timeout: "+c.Flows.ExecuteTimeoutStr)
	}
	if timeout < 100*time.Millisecond || timeout > 10*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"flows.execute_timeout must be between 100ms and 10m")
	}
	c.Flows.executeTimeout = timeout

	return nil
}
