// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact manages the lifecycle of versioned artifacts.
//
// An artifact is a logical named entity (usually a generated file)
// whose content evolves through the version package's immutable chain.
// The manager keeps a per-project path index for lookup, a symmetric
// dependency graph between artifacts, and change-impact analysis over
// that graph. Artifacts are never physically destroyed: Delete removes
// the record and path index but leaves the version chain and blobs in
// place for audit and recovery.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/statekit/services/state/record"
	"github.com/AleutianAI/statekit/services/state/version"
)

const (
	// Namespace holds one record per artifact, keyed by artifact id.
	Namespace = "artifacts"

	// PathNamespace is the per-project path index, keyed by
	// "<project>/<path>" with the artifact id as payload.
	PathNamespace = "artifact_paths"
)

var (
	// ErrNotFound reports an artifact id or path with no record.
	ErrNotFound = errors.New("artifact not found")

	// ErrExists reports a Create against a path that is already indexed.
	ErrExists = errors.New("artifact already exists")
)

// Artifact is the mutable head record of a version chain.
type Artifact struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Path            string    `json:"path"`
	Type            string    `json:"type"`
	CurrentVersion  int       `json:"current_version"`
	LatestVersionID string    `json:"latest_version_id"`
	ContentHash     string    `json:"content_hash"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	Dependents      []string  `json:"dependents,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	VersionCount    int       `json:"version_count"`
	TotalChanges    int       `json:"total_changes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateInput describes a new artifact.
type CreateInput struct {
	ProjectID string
	Path      string
	Type      string
	Content   []byte
	Tags      []string

	Message     string
	CreatedBy   string
	PhaseID     string
	ExecutionID string
}

// UpdateInput carries the optional fields of a content update.
type UpdateInput struct {
	Message     string
	CreatedBy   string
	PhaseID     string
	ExecutionID string
}

// Manager owns artifact records and delegates persistence of content
// to the version chain manager.
//
// # Thread Safety
//
// Safe for concurrent use across distinct artifacts. Concurrent
// mutations of the same artifact are last-writer-wins on the head
// record; the version chain itself never loses entries.
type Manager struct {
	records  record.Store
	versions *version.Manager
	logger   *slog.Logger
}

// NewManager creates an artifact manager.
func NewManager(records record.Store, versions *version.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{records: records, versions: versions, logger: logger}
}

func pathKey(projectID, path string) string {
	return projectID + "/" + path
}

// Create registers a new artifact and writes its version 1.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Artifact, error) {
	if in.Path == "" {
		return nil, fmt.Errorf("create artifact: path is required")
	}
	if existing, err := m.lookupPath(ctx, in.ProjectID, in.Path); err == nil {
		return nil, fmt.Errorf("path %s (artifact %s): %w", in.Path, existing, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	v, err := m.versions.CreateVersion(ctx, id, in.Content, version.CreateOptions{
		Message:     in.Message,
		CreatedBy:   in.CreatedBy,
		PhaseID:     in.PhaseID,
		ExecutionID: in.ExecutionID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Artifact{
		ID:              id,
		ProjectID:       in.ProjectID,
		Path:            in.Path,
		Type:            in.Type,
		CurrentVersion:  v.Version,
		LatestVersionID: v.ID,
		ContentHash:     v.ContentHash,
		Tags:            in.Tags,
		VersionCount:    1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.put(ctx, a); err != nil {
		return nil, err
	}
	if _, err := m.records.Set(ctx, PathNamespace, pathKey(in.ProjectID, in.Path), []byte(id)); err != nil {
		return nil, fmt.Errorf("index artifact path %s: %w", in.Path, err)
	}
	m.logger.Debug("artifact created", "artifact_id", id, "path", in.Path, "project_id", in.ProjectID)
	return a, nil
}

// Update writes new content as the next version and advances the head.
//
// # Outputs
//
//   - *Artifact: The updated head record.
//   - *version.Version: The version created by this update.
//   - error: Non-nil if the artifact is unknown or a store write fails.
func (m *Manager) Update(ctx context.Context, id string, content []byte, in UpdateInput) (*Artifact, *version.Version, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	v, err := m.versions.CreateVersion(ctx, id, content, version.CreateOptions{
		PreviousVersionID: a.LatestVersionID,
		Message:           in.Message,
		CreatedBy:         in.CreatedBy,
		PhaseID:           in.PhaseID,
		ExecutionID:       in.ExecutionID,
	})
	if err != nil {
		return nil, nil, err
	}

	a.CurrentVersion = v.Version
	a.LatestVersionID = v.ID
	a.ContentHash = v.ContentHash
	a.VersionCount++
	if v.Diff != nil {
		a.TotalChanges += v.Diff.Additions + v.Diff.Deletions
	}
	a.UpdatedAt = time.Now().UTC()
	if err := m.put(ctx, a); err != nil {
		return nil, nil, err
	}
	return a, v, nil
}

// GetOrCreate resolves an artifact by project and path, creating it
// with the given content when absent. The boolean reports creation.
func (m *Manager) GetOrCreate(ctx context.Context, in CreateInput) (*Artifact, bool, error) {
	id, err := m.lookupPath(ctx, in.ProjectID, in.Path)
	if err == nil {
		a, err := m.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	a, err := m.Create(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Get returns the artifact record for id, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Artifact, error) {
	rec, err := m.records.Get(ctx, Namespace, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(rec.Data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return &a, nil
}

// GetByPath resolves an artifact through the per-project path index.
func (m *Manager) GetByPath(ctx context.Context, projectID, path string) (*Artifact, error) {
	id, err := m.lookupPath(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, id)
}

// List returns every artifact in a project.
func (m *Manager) List(ctx context.Context, projectID string) ([]*Artifact, error) {
	recs, err := m.records.List(ctx, Namespace, record.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var artifacts []*Artifact
	for _, rec := range recs {
		var a Artifact
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", rec.Key, err)
		}
		if projectID == "" || a.ProjectID == projectID {
			artifacts = append(artifacts, &a)
		}
	}
	return artifacts, nil
}

// Rollback re-applies a past version's content as a new forward
// version. History is never rewritten: the target version keeps its
// number and the rollback gets currentVersion+1.
func (m *Manager) Rollback(ctx context.Context, id, targetVersionID string, in UpdateInput) (*Artifact, *version.Version, error) {
	target, err := m.versions.GetVersion(ctx, targetVersionID)
	if err != nil {
		return nil, nil, err
	}
	if target.ArtifactID != id {
		return nil, nil, fmt.Errorf("version %s belongs to artifact %s, not %s", targetVersionID, target.ArtifactID, id)
	}
	content, err := m.versions.GetVersionContent(ctx, targetVersionID)
	if err != nil {
		return nil, nil, err
	}
	if in.Message == "" {
		in.Message = fmt.Sprintf("rollback to version %d", target.Version)
	}
	return m.Update(ctx, id, content, in)
}

// Delete removes the artifact record and its path index entry. The
// version chain and content blobs are retained; graph edges pointing
// at the deleted id are left in place and skipped by traversals.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := m.records.Delete(ctx, PathNamespace, pathKey(a.ProjectID, a.Path)); err != nil {
		return fmt.Errorf("unindex artifact path %s: %w", a.Path, err)
	}
	if _, err := m.records.Delete(ctx, Namespace, id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	m.logger.Debug("artifact deleted", "artifact_id", id, "path", a.Path)
	return nil
}

func (m *Manager) lookupPath(ctx context.Context, projectID, path string) (string, error) {
	rec, err := m.records.Get(ctx, PathNamespace, pathKey(projectID, path))
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return "", fmt.Errorf("path %s: %w", path, ErrNotFound)
		}
		return "", err
	}
	return string(rec.Data), nil
}

func (m *Manager) put(ctx context.Context, a *Artifact) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", a.ID, err)
	}
	if _, err := m.records.Set(ctx, Namespace, a.ID, encoded); err != nil {
		return fmt.Errorf("write artifact %s: %w", a.ID, err)
	}
	return nil
}
