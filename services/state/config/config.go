// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the engine's YAML configuration.
//
// Selection logic stays a pure mapping: the loaded struct converts to
// the record/backup configs, and construction happens in record.Open
// and backup.NewBackupManager.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/statekit/services/state/backup"
	"github.com/AleutianAI/statekit/services/state/record"
)

// Duration parses YAML strings like "30s" or "1h". yaml.v3 has no
// native time.Duration support.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the top-level engine configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Backups   BackupConfig    `yaml:"backups"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and parameterizes the record-store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory jsonfile sqlite badger"`

	// Path is required for every backend except memory.
	Path string `yaml:"path" validate:"required_unless=Backend memory"`

	CacheSize   int `yaml:"cache_size" validate:"gte=0"`
	LockRetries int `yaml:"lock_retries" validate:"gte=0"`
}

// BackupConfig parameterizes the backup manager.
type BackupConfig struct {
	Dir       string   `yaml:"dir"`
	Retention int      `yaml:"retention" validate:"gte=0"`
	Format    string   `yaml:"format" validate:"omitempty,oneof=snapshot streaming"`
	Interval  Duration `yaml:"interval" validate:"gte=0"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// TelemetryConfig controls the OpenTelemetry setup.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=prometheus otlp stdout"`

	// Endpoint is the OTLP collector address, used when Exporter is
	// "otlp".
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given: an
// in-memory store with a small read cache and local backups.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     string(record.BackendMemory),
			CacheSize:   record.DefaultCacheSize,
			LockRetries: 5,
		},
		Backups: BackupConfig{
			Dir:       "backups",
			Retention: 10,
			Format:    string(backup.FormatStreaming),
		},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{Exporter: "stdout"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// RecordConfig converts to the record store's config.
func (c *Config) RecordConfig() record.Config {
	return record.Config{
		Backend:     record.Backend(c.Store.Backend),
		Path:        c.Store.Path,
		CacheSize:   c.Store.CacheSize,
		LockRetries: c.Store.LockRetries,
	}
}

// BackupManagerConfig converts to the backup manager's config.
func (c *Config) BackupManagerConfig() backup.ManagerConfig {
	return backup.ManagerConfig{
		Dir:       c.Backups.Dir,
		Retention: c.Backups.Retention,
		Format:    backup.Format(c.Backups.Format),
		Interval:  time.Duration(c.Backups.Interval),
	}
}
