// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package migrate applies ordered schema migrations over the record
// store.
//
// Each migration attempt is recorded in the reserved "_migrations"
// namespace; the schema-version pointer in "_meta" always equals the
// version of the most recently completed (not failed) migration. A
// failed migration stops the run without rolling back earlier
// completions from the same run; that policy is deliberate and covered
// by tests.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/statekit/services/state/record"
)

// SchemaVersionKey is the "_meta" key holding the schema pointer.
const SchemaVersionKey = "schema_version"

// Status of one migration attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Migration is one registered schema transformation.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, mc *Context) error
	Down    func(ctx context.Context, mc *Context) error
}

// checksum fingerprints a migration's identity (version, name, and the
// symbol names of its routines). Stored for drift detection only; a
// mismatch is logged, never enforced.
func (m *Migration) checksum() string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s|%s",
		m.Version, m.Name, funcName(m.Up), funcName(m.Down)))
	return hex.EncodeToString(sum[:])
}

func funcName(fn func(ctx context.Context, mc *Context) error) string {
	if fn == nil {
		return ""
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}

// Attempt is the persisted record of one migration run.
type Attempt struct {
	ID           string     `json:"id"`
	Version      int        `json:"version"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	Checksum     string     `json:"checksum"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Result summarizes a Migrate run. Returned instead of an error so
// callers can inspect partial progress after a mid-batch failure.
type Result struct {
	// Applied lists the versions completed in this run, in order.
	Applied []int `json:"applied,omitempty"`

	// Failed is the version that stopped the run, 0 when none did.
	Failed int `json:"failed,omitempty"`

	// Error describes the failure, empty on success.
	Error string `json:"error,omitempty"`
}

// Success reports whether the run completed without failure.
func (r *Result) Success() bool { return r.Failed == 0 }

// Manager registers and runs migrations.
//
// # Thread Safety
//
// Not safe for concurrent Migrate/Rollback calls; the single-process
// model assumes one maintenance operation at a time.
type Manager struct {
	store      record.Store
	logger     *slog.Logger
	migrations []*Migration
}

// NewManager creates a migration manager over store.
func NewManager(store record.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Register adds a migration. Duplicate versions are rejected.
func (m *Manager) Register(migration *Migration) error {
	if migration.Version <= 0 {
		return fmt.Errorf("migration %q: version must be positive", migration.Name)
	}
	if migration.Up == nil {
		return fmt.Errorf("migration %d %q: up routine is required", migration.Version, migration.Name)
	}
	for _, existing := range m.migrations {
		if existing.Version == migration.Version {
			return fmt.Errorf("migration version %d registered twice (%q and %q)",
				migration.Version, existing.Name, migration.Name)
		}
	}
	m.migrations = append(m.migrations, migration)
	return nil
}

func attemptKey(version int) string {
	return fmt.Sprintf("%06d", version)
}

// SchemaVersion returns the current schema pointer, 0 when unset.
func (m *Manager) SchemaVersion(ctx context.Context) (int, error) {
	rec, err := m.store.Get(ctx, record.MetaNamespace, SchemaVersionKey)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	v, err := strconv.Atoi(string(rec.Data))
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", rec.Data, err)
	}
	return v, nil
}

// Migrate applies all pending migrations in ascending version order.
//
// # Description
//
// Pending means registered but not yet recorded as completed. Each
// migration is recorded as running before its Up routine executes and
// updated to completed or failed after. On the first failure the run
// stops; earlier completions from the same run stay committed and are
// not rolled back automatically.
func (m *Manager) Migrate(ctx context.Context) (*Result, error) {
	completed, err := m.completedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var pending []*Migration
	for _, migration := range m.migrations {
		if _, done := completed[migration.Version]; done {
			continue
		}
		pending = append(pending, migration)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	result := &Result{}
	for _, migration := range pending {
		attempt := &Attempt{
			ID:       uuid.NewString(),
			Version:  migration.Version,
			Name:     migration.Name,
			Status:   StatusRunning,
			Checksum: migration.checksum(),
		}
		if err := m.putAttempt(ctx, attempt); err != nil {
			return nil, err
		}

		m.logger.Info("applying migration", "version", migration.Version, "name", migration.Name)
		runErr := migration.Up(ctx, m.newContext())

		now := time.Now().UTC()
		if runErr != nil {
			attempt.Status = StatusFailed
			attempt.Error = runErr.Error()
			if err := m.putAttempt(ctx, attempt); err != nil {
				return nil, err
			}
			result.Failed = migration.Version
			result.Error = runErr.Error()
			m.logger.Error("migration failed, stopping run",
				"version", migration.Version, "name", migration.Name, "error", runErr)
			return result, nil
		}

		attempt.Status = StatusCompleted
		attempt.AppliedAt = &now
		if err := m.putAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		if err := m.setSchemaVersion(ctx, migration.Version); err != nil {
			return nil, err
		}
		result.Applied = append(result.Applied, migration.Version)
	}
	return result, nil
}

// Rollback reverts the most recently completed migration.
//
// # Description
//
// Runs the migration's Down routine, marks the attempt rolled_back,
// and recomputes the schema pointer to the previous completed version
// (clearing it when none remain). Fails without touching the store
// when the migration is unregistered or has no Down routine.
//
// # Outputs
//
//   - int: The version rolled back.
//   - error: Non-nil if nothing is completed, the migration is not
//     registered, or its Down routine fails.
func (m *Manager) Rollback(ctx context.Context) (int, error) {
	attempts, err := m.listAttempts(ctx)
	if err != nil {
		return 0, err
	}

	var latest *Attempt
	for _, a := range attempts {
		if a.Status != StatusCompleted {
			continue
		}
		if latest == nil || a.Version > latest.Version {
			latest = a
		}
	}
	if latest == nil {
		return 0, fmt.Errorf("rollback: no completed migration")
	}

	var target *Migration
	for _, migration := range m.migrations {
		if migration.Version == latest.Version {
			target = migration
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("rollback: migration %d (%s) is not registered", latest.Version, latest.Name)
	}
	if target.Down == nil {
		return 0, fmt.Errorf("rollback: migration %d (%s) has no down routine", target.Version, target.Name)
	}

	m.logger.Info("rolling back migration", "version", target.Version, "name", target.Name)
	if err := target.Down(ctx, m.newContext()); err != nil {
		return 0, fmt.Errorf("rollback migration %d (%s): %w", target.Version, target.Name, err)
	}

	now := time.Now().UTC()
	latest.Status = StatusRolledBack
	latest.RolledBackAt = &now
	if err := m.putAttempt(ctx, latest); err != nil {
		return 0, err
	}

	// The pointer moves to the highest version still completed.
	previous := 0
	for _, a := range attempts {
		if a.Status == StatusCompleted && a.Version != target.Version && a.Version > previous {
			previous = a.Version
		}
	}
	if previous == 0 {
		if _, err := m.store.Delete(ctx, record.MetaNamespace, SchemaVersionKey); err != nil {
			return 0, fmt.Errorf("clear schema version: %w", err)
		}
		return target.Version, nil
	}
	if err := m.setSchemaVersion(ctx, previous); err != nil {
		return 0, err
	}
	return target.Version, nil
}

// Status returns every recorded attempt, ascending by version, with
// checksum-drift warnings logged for registered migrations whose
// identity changed since they were applied.
func (m *Manager) Status(ctx context.Context) ([]*Attempt, error) {
	attempts, err := m.listAttempts(ctx)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[int]*Migration, len(m.migrations))
	for _, migration := range m.migrations {
		byVersion[migration.Version] = migration
	}
	for _, a := range attempts {
		if migration, ok := byVersion[a.Version]; ok && a.Checksum != migration.checksum() {
			m.logger.Warn("migration checksum drift",
				"version", a.Version, "name", a.Name,
				"recorded", a.Checksum, "current", migration.checksum())
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Version < attempts[j].Version })
	return attempts, nil
}

func (m *Manager) newContext() *Context {
	return &Context{Store: m.store, Logger: m.logger}
}

func (m *Manager) completedVersions(ctx context.Context) (map[int]struct{}, error) {
	attempts, err := m.listAttempts(ctx)
	if err != nil {
		return nil, err
	}
	completed := make(map[int]struct{})
	for _, a := range attempts {
		if a.Status == StatusCompleted {
			completed[a.Version] = struct{}{}
		}
	}
	return completed, nil
}

func (m *Manager) listAttempts(ctx context.Context) ([]*Attempt, error) {
	recs, err := m.store.List(ctx, record.MigrationsNamespace, record.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list migration attempts: %w", err)
	}
	attempts := make([]*Attempt, 0, len(recs))
	for _, rec := range recs {
		var a Attempt
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return nil, fmt.Errorf("decode migration attempt %s: %w", rec.Key, err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}

func (m *Manager) putAttempt(ctx context.Context, a *Attempt) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode migration attempt %d: %w", a.Version, err)
	}
	if _, err := m.store.Set(ctx, record.MigrationsNamespace, attemptKey(a.Version), encoded); err != nil {
		return fmt.Errorf("record migration attempt %d: %w", a.Version, err)
	}
	return nil
}

func (m *Manager) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := m.store.Set(ctx, record.MetaNamespace, SchemaVersionKey, []byte(strconv.Itoa(version))); err != nil {
		return fmt.Errorf("update schema version to %d: %w", version, err)
	}
	return nil
}
