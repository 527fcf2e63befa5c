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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/statekit/services/state/artifact"
	"github.com/AleutianAI/statekit/services/state/migrate"
	"github.com/AleutianAI/statekit/services/state/record"
)

// builtinMigrations returns the engine's own schema migrations, in
// version order. openEngine registers them on every invocation so that
// `migrate up` can apply them and `migrate rollback` can find their
// Down routines.
func builtinMigrations() []*migrate.Migration {
	return []*migrate.Migration{
		{
			Version: 1,
			Name:    "artifact_indexes",
			Up: func(ctx context.Context, mc *migrate.Context) error {
				return mc.CreateIndex(ctx, artifact.Namespace, "project_id")
			},
			Down: func(ctx context.Context, mc *migrate.Context) error {
				return mc.DropIndex(ctx, artifact.Namespace, "project_id")
			},
		},
		{
			Version: 2,
			Name:    "rebuild_artifact_path_index",
			Up:      rebuildArtifactPathIndex,
			// The rebuild only adds missing index entries, so there is
			// nothing to undo.
			Down: func(ctx context.Context, mc *migrate.Context) error {
				return nil
			},
		},
	}
}

// rebuildArtifactPathIndex re-creates any missing "artifact_paths"
// entries from the artifact records themselves. Existing entries are
// left untouched, so the migration is safe to re-run.
func rebuildArtifactPathIndex(ctx context.Context, mc *migrate.Context) error {
	recs, err := mc.Store.List(ctx, artifact.Namespace, record.ListOptions{})
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	rebuilt := 0
	for _, rec := range recs {
		var a struct {
			ID        string `json:"id"`
			ProjectID string `json:"project_id"`
			Path      string `json:"path"`
		}
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return fmt.Errorf("decode artifact %s: %w", rec.Key, err)
		}
		key := a.ProjectID + "/" + a.Path
		exists, err := mc.Store.Exists(ctx, artifact.PathNamespace, key)
		if err != nil {
			return fmt.Errorf("check path index %s: %w", key, err)
		}
		if exists {
			continue
		}
		if _, err := mc.Store.Set(ctx, artifact.PathNamespace, key, []byte(a.ID)); err != nil {
			return fmt.Errorf("write path index %s: %w", key, err)
		}
		rebuilt++
	}
	if rebuilt > 0 {
		mc.Logger.Info("rebuilt artifact path index entries", "count", rebuilt)
	}
	return nil
}
