// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package config loads the operator's YAML configuration file:
// store backend, work dir, management API settings, and default task
// arguments applied under command line values.
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// StoreConfig selects and configures the persistent store backend.
type StoreConfig struct {
	// Driver is "bolt" or "postgres".
	Driver string
	// Path is the database file for the bolt driver.
	Path string
	// DSN is the connection string for the postgres driver.
	DSN string
}

// Config is the operator process configuration.
type Config struct {
	Store        StoreConfig
	WorkDir      string
	PollInterval taskhive.Duration

	ManagementToken string
	// ManagementAddr is the listen address for the management
	// API; empty disables it.
	ManagementAddr string

	// AbortOnPostDeployFailure aborts a launch when architect
	// cleanup or provider registration fails after deploy,
	// instead of logging and tracking the run anyway.
	AbortOnPostDeployFailure bool

	LogLevel  string
	LogFormat string

	// DefaultTaskArgs fill in launch options not given on the
	// command line.
	DefaultTaskArgs taskhive.TaskArgs
}

var defaultYAML = []byte(`
Store:
  Driver: bolt
  Path: taskhive.db
PollInterval: 2s
LogLevel: info
LogFormat: text
`)

// Default returns the built-in configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads the YAML configuration in buf on top of the built-in
// defaults.
func Load(buf []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads the configuration file at path, or just the
// defaults if path is empty.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
