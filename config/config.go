package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds script execution configuration
type SandboxConfig struct {
	TimeoutSec     int      `mapstructure:"timeout_sec"`
	AllowedModules []string `mapstructure:"allowed_modules"`
	MaxStackDepth  int      `mapstructure:"max_stack_depth"`
	MaxOutputKB    int      `mapstructure:"max_output_kb"`
}

// ObservabilityConfig holds metrics and tracing configuration
type ObservabilityConfig struct {
	MetricsEnabled bool    `mapstructure:"metrics_enabled"`
	MetricsPort    int     `mapstructure:"metrics_port"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string  `mapstructure:"otlp_protocol"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("SCRIPTBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.timeout_sec", 5)
	viper.SetDefault("sandbox.allowed_modules", []string{
		"base64", "datetime", "json", "math", "random",
		"re", "statistics", "strings", "uuid",
	})
	viper.SetDefault("sandbox.max_stack_depth", 500)
	viper.SetDefault("sandbox.max_output_kb", 1024)

	viper.SetDefault("observability.metrics_enabled", false)
	viper.SetDefault("observability.metrics_port", 9090)
	viper.SetDefault("observability.tracing_enabled", false)
	viper.SetDefault("observability.otlp_endpoint", "localhost:4317")
	viper.SetDefault("observability.otlp_protocol", "grpc")
	viper.SetDefault("observability.otlp_insecure", true)
	viper.SetDefault("observability.service_name", "scriptbox")
	viper.SetDefault("observability.sample_rate", 1.0)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Logging.Mode != "development" && c.Logging.Mode != "production" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'development' or 'production'", c.Logging.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MaxStackDepth <= 0 {
		return fmt.Errorf("sandbox.max_stack_depth must be positive, got: %d", c.Sandbox.MaxStackDepth)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Observability.MetricsEnabled && (c.Observability.MetricsPort < 1 || c.Observability.MetricsPort > 65535) {
		return fmt.Errorf("invalid observability.metrics_port: %d", c.Observability.MetricsPort)
	}

	if c.Observability.TracingEnabled {
		if c.Observability.OTLPProtocol != "grpc" && c.Observability.OTLPProtocol != "http" {
			return fmt.Errorf("invalid observability.otlp_protocol: %s, must be 'grpc' or 'http'", c.Observability.OTLPProtocol)
		}
		if c.Observability.OTLPEndpoint == "" {
			return fmt.Errorf("observability.otlp_endpoint must be set when tracing is enabled")
		}
	}

	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0, 1], got: %g", c.Observability.SampleRate)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}
