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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statekit/services/state/artifact"
)

// newTestEngine opens an engine on an in-memory store via a temp
// config file, restoring the configPath flag afterwards.
func newTestEngine(t *testing.T) (*engine, context.Context) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "statekit.yaml")
	body := fmt.Sprintf("store:\n  backend: memory\nbackups:\n  dir: %s\n", filepath.Join(dir, "backups"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0640))

	original := configPath
	configPath = path
	t.Cleanup(func() { configPath = original })

	ctx := context.Background()
	e, err := openEngine(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(ctx) })
	return e, ctx
}

// TestMigrateCommand_Wiring registers apply, status, and rollback
// under the migrate group.
func TestMigrateCommand_Wiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range migrateCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"up", "status", "rollback"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

// TestBuiltinMigrations_ApplyAndRollback applies the built-in
// migrations through the engine's manager and rolls the latest one
// back. Rollback must succeed because openEngine registers the
// built-ins on every invocation.
func TestBuiltinMigrations_ApplyAndRollback(t *testing.T) {
	e, ctx := newTestEngine(t)

	result, err := e.migrations.Migrate(ctx)
	require.NoError(t, err)
	require.True(t, result.Success(), "migrate failed: %s", result.Error)
	assert.Equal(t, []int{1, 2}, result.Applied)

	schema, err := e.migrations.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, schema)

	// Rerunning with nothing pending applies nothing.
	result, err = e.migrations.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)

	// Rollback reports the version it undid; the schema pointer moves
	// to the previous completed version, not the rolled-back one.
	rolledBack, err := e.migrations.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rolledBack)

	schema, err = e.migrations.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, schema)
}

// TestRebuildArtifactPathIndex restores a path-index entry that was
// lost, leaving intact entries untouched.
func TestRebuildArtifactPathIndex(t *testing.T) {
	e, ctx := newTestEngine(t)

	a, err := e.artifacts.Create(ctx, artifact.CreateInput{
		ProjectID: "proj",
		Path:      "src/main.go",
		Type:      "code",
		Content:   []byte("package main\n"),
	})
	require.NoError(t, err)

	key := "proj/src/main.go"
	deleted, err := e.store.Delete(ctx, artifact.PathNamespace, key)
	require.NoError(t, err)
	require.True(t, deleted)

	result, err := e.migrations.Migrate(ctx)
	require.NoError(t, err)
	require.True(t, result.Success(), "migrate failed: %s", result.Error)

	rec, err := e.store.Get(ctx, artifact.PathNamespace, key)
	require.NoError(t, err)
	assert.Equal(t, a.ID, string(rec.Data))
}
