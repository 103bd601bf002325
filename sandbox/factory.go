package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds the runner settings carried by the application configuration.
// It mirrors the sandbox section of the config file without importing the
// config package.
type Config struct {
	TimeoutSec     int
	AllowedModules []string
	MaxStackDepth  int
	MaxOutputKB    int
}

// NewExecutor creates the script executor described by the configuration.
// Zero-valued fields fall back to the package defaults.
func NewExecutor(logger *zap.Logger, config *Config, opts ...RunnerOption) (ScriptExecutor, error) {
	if config == nil {
		config = &Config{}
	}

	policy := Policy{
		AllowedModules: config.AllowedModules,
		Timeout:        time.Duration(config.TimeoutSec) * time.Second,
		MaxStackDepth:  config.MaxStackDepth,
		MaxOutputBytes: config.MaxOutputKB * 1024,
	}.withDefaults()

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox configuration: %w", err)
	}

	return NewRunner(logger, policy, opts...), nil
}
