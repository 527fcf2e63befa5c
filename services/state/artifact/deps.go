// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// AffectedArtifact is one entry of an impact analysis, with its BFS
// distance from the changed artifact.
type AffectedArtifact struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// Impact is the transitive set of artifacts affected by a change.
type Impact struct {
	ArtifactID string             `json:"artifact_id"`
	Affected   []AffectedArtifact `json:"affected,omitempty"`
	Total      int                `json:"total"`
}

// AddDependency records that source depends on target, maintaining
// both sides of the edge. Adding an existing edge is a no-op.
func (m *Manager) AddDependency(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("artifact %s cannot depend on itself", sourceID)
	}
	source, err := m.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	target, err := m.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if slices.Contains(source.Dependencies, targetID) {
		return nil
	}
	source.Dependencies = append(source.Dependencies, targetID)
	target.Dependents = append(target.Dependents, sourceID)
	if err := m.put(ctx, source); err != nil {
		return err
	}
	return m.put(ctx, target)
}

// RemoveDependency removes the edge from both sides. Removing an
// absent edge is a no-op.
func (m *Manager) RemoveDependency(ctx context.Context, sourceID, targetID string) error {
	source, err := m.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	target, err := m.Get(ctx, targetID)
	if err != nil {
		return err
	}
	source.Dependencies = slices.DeleteFunc(source.Dependencies, func(id string) bool { return id == targetID })
	target.Dependents = slices.DeleteFunc(target.Dependents, func(id string) bool { return id == sourceID })
	if err := m.put(ctx, source); err != nil {
		return err
	}
	return m.put(ctx, target)
}

// GetDependents returns the artifacts that directly depend on id.
// Edges pointing at deleted artifacts are skipped.
func (m *Manager) GetDependents(ctx context.Context, id string) ([]*Artifact, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var dependents []*Artifact
	for _, depID := range a.Dependents {
		dep, err := m.Get(ctx, depID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		dependents = append(dependents, dep)
	}
	return dependents, nil
}

// GetImpactAnalysis computes the full transitive set of artifacts
// affected by a change to id.
//
// # Description
//
// Breadth-first traversal over dependent edges, so each affected
// artifact carries its minimum distance from the changed one. Used to
// warn before large edits. Cycles and edges to deleted artifacts are
// tolerated.
func (m *Manager) GetImpactAnalysis(ctx context.Context, id string) (*Impact, error) {
	root, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	impact := &Impact{ArtifactID: id}
	visited := map[string]struct{}{id: {}}

	type queued struct {
		artifact *Artifact
		depth    int
	}
	queue := []queued{{artifact: root, depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, depID := range cur.artifact.Dependents {
			if _, seen := visited[depID]; seen {
				continue
			}
			visited[depID] = struct{}{}
			dep, err := m.Get(ctx, depID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			impact.Affected = append(impact.Affected, AffectedArtifact{
				ID:    dep.ID,
				Path:  dep.Path,
				Depth: cur.depth + 1,
			})
			queue = append(queue, queued{artifact: dep, depth: cur.depth + 1})
		}
	}
	impact.Total = len(impact.Affected)
	return impact, nil
}
