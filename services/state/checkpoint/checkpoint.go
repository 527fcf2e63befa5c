// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint provides named snapshots for the external
// error-recovery component.
//
// A checkpoint captures two things: the raw contents of designated
// bookkeeping namespaces (restored through plain record writes) and
// the head version of every artifact (restored through the artifact
// manager's forward rollback, so history is never rewritten).
// Artifacts created after a checkpoint keep existing after a restore;
// only tracked heads are moved back.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/statekit/services/state/artifact"
	"github.com/AleutianAI/statekit/services/state/record"
)

// Namespace is the reserved namespace holding checkpoint records.
const Namespace = "_checkpoints"

// ErrNotFound reports an unknown checkpoint id.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a named, restorable snapshot.
type Checkpoint struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	Namespaces []string  `json:"namespaces,omitempty"`
	Records    int       `json:"records"`

	// Data holds the snapshotted payloads per namespace.
	Data map[string]map[string][]byte `json:"data,omitempty"`

	// ArtifactHeads maps artifact id to its latest version id at
	// checkpoint time.
	ArtifactHeads map[string]string `json:"artifact_heads,omitempty"`
}

// RestoreResult reports what a restore touched.
type RestoreResult struct {
	CheckpointID        string `json:"checkpoint_id"`
	RecordsRestored     int    `json:"records_restored"`
	ArtifactsRolledBack int    `json:"artifacts_rolled_back"`
}

// Manager creates and restores checkpoints.
type Manager struct {
	store     record.Store
	artifacts *artifact.Manager
	logger    *slog.Logger
}

// NewManager creates a checkpoint manager. The artifact manager may be
// nil when only namespace snapshots are needed.
func NewManager(store record.Store, artifacts *artifact.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, artifacts: artifacts, logger: logger}
}

// Create snapshots the given namespaces and all artifact heads.
//
// The reserved checkpoint namespace itself is never snapshotted, so a
// checkpoint cannot contain other checkpoints.
func (m *Manager) Create(ctx context.Context, name string, namespaces []string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Data:      make(map[string]map[string][]byte, len(namespaces)),
	}
	for _, ns := range namespaces {
		if ns == Namespace {
			continue
		}
		recs, err := m.store.List(ctx, ns, record.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("snapshot namespace %s: %w", ns, err)
		}
		entries := make(map[string][]byte, len(recs))
		for _, rec := range recs {
			entries[rec.Key] = rec.Data
			cp.Records++
		}
		cp.Data[ns] = entries
		cp.Namespaces = append(cp.Namespaces, ns)
	}

	if m.artifacts != nil {
		all, err := m.artifacts.List(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("snapshot artifact heads: %w", err)
		}
		cp.ArtifactHeads = make(map[string]string, len(all))
		for _, a := range all {
			cp.ArtifactHeads[a.ID] = a.LatestVersionID
		}
	}

	encoded, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint %s: %w", cp.ID, err)
	}
	if _, err := m.store.Set(ctx, Namespace, cp.ID, encoded); err != nil {
		return nil, fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}
	m.logger.Info("checkpoint created",
		"checkpoint_id", cp.ID, "name", name, "records", cp.Records, "artifacts", len(cp.ArtifactHeads))
	return cp, nil
}

// Get returns a checkpoint by id, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Checkpoint, error) {
	rec, err := m.store.Get(ctx, Namespace, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(rec.Data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns every checkpoint, newest first.
func (m *Manager) List(ctx context.Context) ([]*Checkpoint, error) {
	recs, err := m.store.List(ctx, Namespace, record.ListOptions{
		OrderBy:  record.OrderByCreatedAt,
		OrderDir: record.OrderDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	checkpoints := make([]*Checkpoint, 0, len(recs))
	for _, rec := range recs {
		var cp Checkpoint
		if err := json.Unmarshal(rec.Data, &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", rec.Key, err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, nil
}

// Delete removes a checkpoint record. The restore history of artifacts
// is unaffected.
func (m *Manager) Delete(ctx context.Context, id string) error {
	existed, err := m.store.Delete(ctx, Namespace, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	if !existed {
		return fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	return nil
}

// Restore puts the snapshotted namespaces and artifact heads back.
//
// # Description
//
// Each snapshotted namespace is cleared and rewritten from the
// checkpoint, dropping records created after it. Each tracked
// artifact whose head moved is rolled forward to the checkpointed
// version via the artifact manager, producing a new version rather
// than rewriting history. Artifacts deleted since the checkpoint are
// skipped with a warning.
func (m *Manager) Restore(ctx context.Context, id string) (*RestoreResult, error) {
	cp, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &RestoreResult{CheckpointID: cp.ID}

	for _, ns := range cp.Namespaces {
		if _, err := m.store.Clear(ctx, ns); err != nil {
			return result, fmt.Errorf("clear namespace %s: %w", ns, err)
		}
		for key, data := range cp.Data[ns] {
			if _, err := m.store.Set(ctx, ns, key, data); err != nil {
				return result, fmt.Errorf("restore %s/%s: %w", ns, key, err)
			}
			result.RecordsRestored++
		}
	}

	if m.artifacts != nil {
		for artifactID, versionID := range cp.ArtifactHeads {
			a, err := m.artifacts.Get(ctx, artifactID)
			if err != nil {
				if errors.Is(err, artifact.ErrNotFound) {
					m.logger.Warn("checkpointed artifact no longer exists, skipping",
						"artifact_id", artifactID, "checkpoint_id", cp.ID)
					continue
				}
				return result, err
			}
			if a.LatestVersionID == versionID {
				continue
			}
			if _, _, err := m.artifacts.Rollback(ctx, artifactID, versionID, artifact.UpdateInput{
				Message: fmt.Sprintf("restore from checkpoint %s", cp.Name),
			}); err != nil {
				return result, fmt.Errorf("roll back artifact %s: %w", artifactID, err)
			}
			result.ArtifactsRolledBack++
		}
	}

	m.logger.Info("checkpoint restored",
		"checkpoint_id", cp.ID,
		"records", result.RecordsRestored,
		"artifacts_rolled_back", result.ArtifactsRolledBack)
	return result, nil
}
