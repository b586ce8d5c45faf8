// Package config provides Viper-based configuration loading for the planner
// CLI and embeddings.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// PlannerConfig holds planning limits and content locations.
type PlannerConfig struct {
	// MemoryBudget is the per-search memory budget in bytes.
	MemoryBudget int64 `mapstructure:"memory_budget"`
	// DomainDir is an optional directory of YAML domain definitions loaded
	// at startup.
	DomainDir string `mapstructure:"domain_dir"`
	// ScriptDir is an optional directory of Lua embedding scripts.
	ScriptDir string `mapstructure:"script_dir"`
	// ScriptInstructionLimit caps Lua opcodes per script run; 0 uses the
	// scripting default.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Planner PlannerConfig `mapstructure:"planner"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string
	if err := validatePlanner(c.Planner); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePlanner(p PlannerConfig) error {
	var errs []string
	if p.MemoryBudget < 1 {
		errs = append(errs, fmt.Sprintf("planner.memory_budget must be >= 1, got %d", p.MemoryBudget))
	}
	if p.ScriptInstructionLimit < 0 {
		errs = append(errs, "planner.script_instruction_limit must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path (optional), environment
// variables prefixed HTN_, and built-in defaults, then validates it.
//
// Postcondition: Returns a validated Config or a non-nil error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("planner.memory_budget", 5_000_000)
	v.SetDefault("planner.domain_dir", "")
	v.SetDefault("planner.script_dir", "")
	v.SetDefault("planner.script_instruction_limit", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetEnvPrefix("HTN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load: reading %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: unmarshaling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
