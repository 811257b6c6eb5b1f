// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (Store, Aggregator, Reaper) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the registry API server. It is
// the single configuration object every component is constructed from.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`

	// StoreDSN selects the Store backend. The literal value "memory" selects
	// the in-process go-memdb store; anything else is treated as a
	// PostgreSQL DSN for the pgx-backed store.
	StoreDSN string `env:"STORE_DSN" envDefault:"memory"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	// Only consulted when StoreDSN selects the PostgreSQL backend.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./migrations"`

	// RetentionEvents is the maximum number of rows retained per event table.
	// The Reaper deletes events whose revision is at or below
	// (latest revision - RetentionEvents).
	// Takes precedence over RetentionAge whenever non-zero.
	RetentionEvents uint64 `env:"RETENTION_EVENTS" envDefault:"10000"`

	// RetentionAge retains events by wall-clock age instead of by count. Only
	// consulted when RetentionEvents is zero.
	RetentionAge time.Duration `env:"RETENTION_AGE" envDefault:"0"`

	// ReaperInterval is how often the retention reaper sweeps the event tables.
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// SSEKeepAlive is how often a keep-alive comment is sent on idle event streams.
	SSEKeepAlive time.Duration `env:"SSE_KEEPALIVE" envDefault:"15s"`

	// LogLevel controls the minimum slog level emitted by the application.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsesMemoryStore reports whether the configured DSN selects the in-process
// go-memdb backend rather than PostgreSQL.
func (c *Config) UsesMemoryStore() bool {
	return c.StoreDSN == "" || c.StoreDSN == "memory"
}

// SlogLevel parses LogLevel into a [slog.Level], defaulting to
// [slog.LevelInfo] for an empty or unrecognized value.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
