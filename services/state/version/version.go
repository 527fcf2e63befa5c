// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package version maintains immutable, backward-linked version chains.
//
// Each version record points at a content-store blob by hash and at its
// predecessor by id. Version numbers per artifact are contiguous
// starting at 1. Records are written once and never mutated; rollback
// and deletion are expressed as new versions by the artifact package.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/statekit/services/state/content"
	"github.com/AleutianAI/statekit/services/state/record"
	"github.com/AleutianAI/statekit/services/state/textdiff"
)

// Namespace is the record-store namespace holding version records.
const Namespace = "versions"

var (
	// ErrNotFound reports a version id with no record.
	ErrNotFound = errors.New("version not found")

	// ErrContentMissing reports a version whose referenced blob is gone.
	// This is corruption, not absence: the record was valid when written.
	ErrContentMissing = errors.New("version content missing")
)

// Version is one immutable entry in an artifact's chain.
type Version struct {
	ID                string              `json:"id"`
	ArtifactID        string              `json:"artifact_id"`
	Version           int                 `json:"version"`
	ContentHash       string              `json:"content_hash"`
	Size              int                 `json:"size"`
	ChangeType        textdiff.ChangeType `json:"change_type"`
	PreviousVersionID string              `json:"previous_version_id,omitempty"`
	Diff              *textdiff.Diff      `json:"diff,omitempty"`
	Message           string              `json:"message,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	CreatedBy         string              `json:"created_by,omitempty"`
	PhaseID           string              `json:"phase_id,omitempty"`
	ExecutionID       string              `json:"execution_id,omitempty"`
}

// CreateOptions carries the optional fields of a new version.
type CreateOptions struct {
	// PreviousVersionID links the new version to its predecessor. Empty
	// means this is version 1 of the artifact.
	PreviousVersionID string

	// Message is a human-readable change description.
	Message string

	CreatedBy   string
	PhaseID     string
	ExecutionID string
}

// Manager creates and resolves version records.
//
// # Thread Safety
//
// Safe for concurrent use as long as the underlying stores are. Callers
// must serialize GarbageCollect against CreateVersion externally; see
// GarbageCollect.
type Manager struct {
	records record.Store
	blobs   content.Store
	logger  *slog.Logger
}

// NewManager creates a version manager over the given stores.
func NewManager(records record.Store, blobs content.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{records: records, blobs: blobs, logger: logger}
}

// CreateVersion stores payload as a blob and appends a version record.
//
// # Description
//
// Puts the payload into the content store (deduplicated by hash), diffs
// it against the previous version's payload when a predecessor is
// given, assigns version number previous+1 (or 1), and writes the
// immutable record. The stored diff carries from/to version numbers.
//
// # Outputs
//
//   - *Version: The new version record.
//   - error: Non-nil if the predecessor cannot be resolved or a store
//     write fails.
func (m *Manager) CreateVersion(ctx context.Context, artifactID string, payload []byte, opts CreateOptions) (*Version, error) {
	if artifactID == "" {
		return nil, fmt.Errorf("create version: artifact id is required")
	}

	hash, err := m.blobs.Put(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("store content for artifact %s: %w", artifactID, err)
	}

	v := &Version{
		ID:          uuid.NewString(),
		ArtifactID:  artifactID,
		Version:     1,
		ContentHash: hash,
		Size:        len(payload),
		ChangeType:  textdiff.ChangeAdded,
		Message:     opts.Message,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   opts.CreatedBy,
		PhaseID:     opts.PhaseID,
		ExecutionID: opts.ExecutionID,
	}

	if opts.PreviousVersionID != "" {
		prev, err := m.GetVersion(ctx, opts.PreviousVersionID)
		if err != nil {
			return nil, fmt.Errorf("resolve previous version %s: %w", opts.PreviousVersionID, err)
		}
		prevPayload, err := m.contentOf(ctx, prev)
		if err != nil {
			return nil, err
		}
		d := textdiff.Generate(string(prevPayload), string(payload))
		d.FromVersion = prev.Version
		d.ToVersion = prev.Version + 1
		v.Version = prev.Version + 1
		v.PreviousVersionID = prev.ID
		v.ChangeType = d.ChangeType
		v.Diff = d
	}

	if err := m.put(ctx, v); err != nil {
		return nil, err
	}
	m.logger.Debug("version created",
		"artifact_id", artifactID,
		"version", v.Version,
		"change_type", v.ChangeType,
		"content_hash", hash)
	return v, nil
}

// GetVersion returns the version record for id, or ErrNotFound.
func (m *Manager) GetVersion(ctx context.Context, id string) (*Version, error) {
	rec, err := m.records.Get(ctx, Namespace, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return decode(rec)
}

// GetVersionContent resolves a version's payload through its blob hash.
// A missing blob is reported as ErrContentMissing, not not-found.
func (m *Manager) GetVersionContent(ctx context.Context, id string) ([]byte, error) {
	v, err := m.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.contentOf(ctx, v)
}

// ListVersions returns every version of an artifact, newest first.
func (m *Manager) ListVersions(ctx context.Context, artifactID string) ([]*Version, error) {
	recs, err := m.records.List(ctx, Namespace, record.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var versions []*Version
	for _, rec := range recs {
		v, err := decode(rec)
		if err != nil {
			return nil, err
		}
		if v.ArtifactID == artifactID {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})
	return versions, nil
}

// CompareVersions recomputes a diff between two arbitrary versions'
// payloads. Independent of any diff stored on the intervening chain,
// so the versions need not be adjacent or even in order.
func (m *Manager) CompareVersions(ctx context.Context, fromID, toID string) (*textdiff.Diff, error) {
	from, err := m.GetVersion(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := m.GetVersion(ctx, toID)
	if err != nil {
		return nil, err
	}
	fromPayload, err := m.contentOf(ctx, from)
	if err != nil {
		return nil, err
	}
	toPayload, err := m.contentOf(ctx, to)
	if err != nil {
		return nil, err
	}
	d := textdiff.Generate(string(fromPayload), string(toPayload))
	d.FromVersion = from.Version
	d.ToVersion = to.Version
	return d, nil
}

func (m *Manager) contentOf(ctx context.Context, v *Version) ([]byte, error) {
	data, err := m.blobs.Get(ctx, v.ContentHash)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return nil, fmt.Errorf("version %s (hash %s): %w", v.ID, v.ContentHash, ErrContentMissing)
		}
		return nil, fmt.Errorf("read content for version %s: %w", v.ID, err)
	}
	return data, nil
}

func (m *Manager) put(ctx context.Context, v *Version) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version %s: %w", v.ID, err)
	}
	if _, err := m.records.Set(ctx, Namespace, v.ID, encoded); err != nil {
		return fmt.Errorf("write version %s: %w", v.ID, err)
	}
	return nil
}

func decode(rec *record.Record) (*Version, error) {
	var v Version
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("decode version %s: %w", rec.Key, err)
	}
	return &v, nil
}
