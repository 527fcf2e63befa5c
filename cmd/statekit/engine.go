// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/statekit/pkg/logging"
	"github.com/AleutianAI/statekit/services/state/artifact"
	"github.com/AleutianAI/statekit/services/state/backup"
	"github.com/AleutianAI/statekit/services/state/checkpoint"
	"github.com/AleutianAI/statekit/services/state/config"
	"github.com/AleutianAI/statekit/services/state/content"
	"github.com/AleutianAI/statekit/services/state/migrate"
	"github.com/AleutianAI/statekit/services/state/record"
	"github.com/AleutianAI/statekit/services/state/telemetry"
	"github.com/AleutianAI/statekit/services/state/version"
)

// engine bundles the constructed state components for one CLI
// invocation. Commands open it, do their work, and Close it.
type engine struct {
	cfg         *config.Config
	logger      *logging.Logger
	store       record.Store
	blobs       content.Store
	versions    *version.Manager
	artifacts   *artifact.Manager
	checkpoints *checkpoint.Manager
	migrations  *migrate.Manager
	backups     *backup.BackupManager

	telemetryShutdown func(context.Context) error
}

// openEngine loads configuration and constructs every manager the CLI
// commands use. The backup manager is created without its interval
// ticker; scheduled backups belong to the embedding process, not a
// one-shot CLI.
func openEngine(ctx context.Context) (*engine, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Service: "statekit",
		JSON:    cfg.Logging.Format == "json",
		Quiet:   true, // CLI output goes through ux, not slog
	})

	e := &engine{cfg: cfg, logger: logger}

	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig()
		switch cfg.Telemetry.Exporter {
		case "otlp":
			// The otlp exporter ships traces; metrics stay local.
			tcfg.TraceExporter = "otlp"
			tcfg.MetricExporter = "none"
		default:
			tcfg.TraceExporter = "none"
			tcfg.MetricExporter = cfg.Telemetry.Exporter
		}
		if cfg.Telemetry.Endpoint != "" {
			tcfg.OTLPEndpoint = cfg.Telemetry.Endpoint
		}
		shutdown, err := telemetry.Init(ctx, tcfg)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		e.telemetryShutdown = shutdown
	}

	store, err := record.Open(cfg.RecordConfig())
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.store = store

	blobs, err := openBlobStore(cfg)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("open content store: %w", err)
	}
	e.blobs = blobs

	slogger := logger.Slog()
	e.versions = version.NewManager(store, blobs, slogger)
	e.artifacts = artifact.NewManager(store, e.versions, slogger)
	e.checkpoints = checkpoint.NewManager(store, e.artifacts, slogger)
	e.migrations = migrate.NewManager(store, slogger)
	for _, mig := range builtinMigrations() {
		if err := e.migrations.Register(mig); err != nil {
			e.Close(ctx)
			return nil, fmt.Errorf("register migration: %w", err)
		}
	}

	bcfg := cfg.BackupManagerConfig()
	bcfg.Interval = 0
	e.backups, err = backup.NewBackupManager(store, bcfg, slogger)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("open backup manager: %w", err)
	}

	return e, nil
}

// openBlobStore places blobs next to the record data. The sqlite
// backend's path is a database file, so blobs live in its directory.
func openBlobStore(cfg *config.Config) (content.Store, error) {
	switch record.Backend(cfg.Store.Backend) {
	case record.BackendMemory, "":
		return content.NewMemoryStore(), nil
	case record.BackendSQLite:
		return content.NewFileStore(filepath.Dir(cfg.Store.Path))
	default:
		return content.NewFileStore(cfg.Store.Path)
	}
}

// Close releases everything openEngine acquired.
func (e *engine) Close(ctx context.Context) {
	if e.backups != nil {
		_ = e.backups.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.telemetryShutdown != nil {
		_ = e.telemetryShutdown(ctx)
	}
	if e.logger != nil {
		_ = e.logger.Close()
	}
}
