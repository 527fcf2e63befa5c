// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/statekit/services/state/record"
)

const indexFileName = "index.json"

// ErrBackupNotFound reports an unknown backup id.
var ErrBackupNotFound = errors.New("backup not found")

// Info is one index entry describing a stored backup.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Records   int       `json:"records"`
}

// ManagerConfig configures a BackupManager.
type ManagerConfig struct {
	// Dir holds backup files and the index.
	Dir string

	// Retention caps how many backups are kept; once exceeded the
	// oldest are deleted (data file and index entry). 0 means keep all.
	Retention int

	// Format for created backups. Defaults to FormatStreaming.
	Format Format

	// Interval enables the periodic backup timer when positive. This
	// is the only background work the engine ever runs.
	Interval time.Duration
}

// BackupManager wraps export/import with an indexed backup directory.
//
// # Thread Safety
//
// Safe for concurrent use; index mutations are serialized internally.
type BackupManager struct {
	store  record.Store
	cfg    ManagerConfig
	logger *slog.Logger

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewBackupManager creates a backup manager rooted at cfg.Dir.
func NewBackupManager(store record.Store, cfg ManagerConfig, logger *slog.Logger) (*BackupManager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup manager requires a directory")
	}
	if cfg.Format == "" {
		cfg.Format = FormatStreaming
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create backup directory %s: %w", cfg.Dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupManager{store: store, cfg: cfg, logger: logger, done: make(chan struct{})}, nil
}

// Create exports the whole store as a new indexed backup and enforces
// the retention cap.
func (m *BackupManager) Create(ctx context.Context) (*Info, error) {
	id := uuid.NewString()
	path := filepath.Join(m.cfg.Dir, id+".backup.json")
	result, err := Export(ctx, m.store, ExportOptions{OutputPath: path, Format: m.cfg.Format})
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}

	info := Info{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Path:      path,
		SizeBytes: result.Bytes,
		Records:   result.Records,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	index = append(index, info)
	index, err = m.enforceRetention(index)
	if err != nil {
		return nil, err
	}
	if err := m.writeIndex(index); err != nil {
		return nil, err
	}
	m.logger.Info("backup created", "backup_id", id, "records", info.Records, "bytes", info.SizeBytes)
	return &info, nil
}

// Restore imports the identified backup into the store.
func (m *BackupManager) Restore(ctx context.Context, id string, overwrite bool) (*ImportResult, error) {
	info, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	result, err := Import(ctx, m.store, ImportOptions{FilePath: info.Path, Overwrite: overwrite})
	if err != nil {
		return result, fmt.Errorf("restore backup %s: %w", id, err)
	}
	m.logger.Info("backup restored", "backup_id", id, "imported", result.Imported, "skipped", result.Skipped)
	return result, nil
}

// List returns all indexed backups, newest first.
func (m *BackupManager) List() ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool { return index[i].CreatedAt.After(index[j].CreatedAt) })
	return index, nil
}

// Start launches the periodic backup timer when configured. No-op
// otherwise.
func (m *BackupManager) Start() {
	if m.cfg.Interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.Create(context.Background()); err != nil {
					m.logger.Error("periodic backup failed", "error", err)
				}
			case <-m.done:
				return
			}
		}
	}()
}

// Close stops the periodic timer, if running.
func (m *BackupManager) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
	return nil
}

func (m *BackupManager) lookup(id string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	for i := range index {
		if index[i].ID == id {
			return &index[i], nil
		}
	}
	return nil, fmt.Errorf("backup %s: %w", id, ErrBackupNotFound)
}

// enforceRetention drops the oldest entries beyond the cap, deleting
// their data files. Caller holds the mutex.
func (m *BackupManager) enforceRetention(index []Info) ([]Info, error) {
	if m.cfg.Retention <= 0 || len(index) <= m.cfg.Retention {
		return index, nil
	}
	sort.Slice(index, func(i, j int) bool { return index[i].CreatedAt.Before(index[j].CreatedAt) })
	excess := len(index) - m.cfg.Retention
	for _, old := range index[:excess] {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("delete expired backup %s: %w", old.ID, err)
		}
		m.logger.Info("backup expired by retention", "backup_id", old.ID)
	}
	return index[excess:], nil
}

func (m *BackupManager) indexPath() string {
	return filepath.Join(m.cfg.Dir, indexFileName)
}

func (m *BackupManager) readIndex() ([]Info, error) {
	data, err := os.ReadFile(m.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup index: %w", err)
	}
	var index []Info
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse backup index: %w", err)
	}
	return index, nil
}

func (m *BackupManager) writeIndex(index []Info) error {
	encoded, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup index: %w", err)
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0640); err != nil {
		return fmt.Errorf("write backup index: %w", err)
	}
	if err := os.Rename(tmp, m.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit backup index: %w", err)
	}
	return nil
}
