// ============================================================================
// Unit Transaction Planner - Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML-driven configuration for cmd/planctl: a plain
//          struct-of-structs with yaml tags, loaded by one function,
//          with defaults applied before the file is parsed over them.
//
// ============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/unitplan/pkg/types"
)

// Config is the complete planctl configuration file shape.
type Config struct {
	Scenario string `yaml:"scenario"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Activation struct {
		Mode           types.Mode `yaml:"mode"`
		Unit           string     `yaml:"unit"`
		JobType        string     `yaml:"job_type"`
		Isolate        bool       `yaml:"isolate"`
		TimeoutSeconds int        `yaml:"timeout_seconds"`
		IgnoreOrder    bool       `yaml:"ignore_order"`
	} `yaml:"activation"`
}

// Timeout returns the activation timeout as a time.Duration. Stored as
// plain seconds in YAML rather than a Go duration string, since yaml.v3
// does not parse duration strings into time.Duration on its own.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Activation.TimeoutSeconds) * time.Second
}

// Default returns the values Load starts from; any field a config file
// leaves unset keeps its value from here.
func Default() *Config {
	c := &Config{Scenario: "scenario.yaml"}
	c.Metrics.Enabled = false
	c.Metrics.Port = 9090
	c.Log.Level = "info"
	c.Activation.Mode = types.ModeReplace
	c.Activation.JobType = string(types.JobStart)
	c.Activation.TimeoutSeconds = 10
	return c
}

// Load reads and parses a YAML configuration file, starting from Default
// so a partial file only overrides the fields it sets.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
