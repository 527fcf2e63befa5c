// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statekit/services/state/artifact"
	"github.com/AleutianAI/statekit/services/state/content"
	"github.com/AleutianAI/statekit/services/state/record"
	"github.com/AleutianAI/statekit/services/state/version"
)

func newTestStack(t *testing.T) (record.Store, *artifact.Manager, *Manager) {
	t.Helper()
	store := record.NewMemoryStore()
	versions := version.NewManager(store, content.NewMemoryStore(), nil)
	artifacts := artifact.NewManager(store, versions, nil)
	return store, artifacts, NewManager(store, artifacts, nil)
}

// TestRestore_NamespaceSnapshot restores bookkeeping records exactly,
// dropping keys created after the checkpoint.
func TestRestore_NamespaceSnapshot(t *testing.T) {
	ctx := context.Background()
	store, _, m := newTestStack(t)

	_, err := store.Set(ctx, "sessions", "s1", []byte("before"))
	require.NoError(t, err)

	cp, err := m.Create(ctx, "pre-run", []string{"sessions"})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Records)

	// Mutate after the checkpoint: change one key, add another.
	_, err = store.Set(ctx, "sessions", "s1", []byte("after"))
	require.NoError(t, err)
	_, err = store.Set(ctx, "sessions", "s2", []byte("new"))
	require.NoError(t, err)

	result, err := m.Restore(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsRestored)

	rec, err := store.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), rec.Data)

	_, err = store.Get(ctx, "sessions", "s2")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

// TestRestore_RollsArtifactsForward moves artifact heads back to the
// checkpointed version via a new forward version.
func TestRestore_RollsArtifactsForward(t *testing.T) {
	ctx := context.Background()
	_, artifacts, m := newTestStack(t)

	a, err := artifacts.Create(ctx, artifact.CreateInput{
		ProjectID: "proj", Path: "a.txt", Content: []byte("checkpointed"),
	})
	require.NoError(t, err)

	cp, err := m.Create(ctx, "stable", nil)
	require.NoError(t, err)

	_, _, err = artifacts.Update(ctx, a.ID, []byte("drifted"), artifact.UpdateInput{})
	require.NoError(t, err)

	result, err := m.Restore(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ArtifactsRolledBack)

	got, err := artifacts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentVersion) // restore is a forward version
	assert.Equal(t, a.ContentHash, got.ContentHash)

	t.Run("unchanged artifact untouched on second restore", func(t *testing.T) {
		result, err := m.Restore(ctx, cp.ID)
		require.NoError(t, err)
		assert.Zero(t, result.ArtifactsRolledBack)
	})
}

// TestRestore_SkipsDeletedArtifacts tolerates artifacts removed after
// the checkpoint.
func TestRestore_SkipsDeletedArtifacts(t *testing.T) {
	ctx := context.Background()
	_, artifacts, m := newTestStack(t)

	a, err := artifacts.Create(ctx, artifact.CreateInput{
		ProjectID: "proj", Path: "gone.txt", Content: []byte("x"),
	})
	require.NoError(t, err)

	cp, err := m.Create(ctx, "pre-delete", nil)
	require.NoError(t, err)
	require.NoError(t, artifacts.Delete(ctx, a.ID))

	result, err := m.Restore(ctx, cp.ID)
	require.NoError(t, err)
	assert.Zero(t, result.ArtifactsRolledBack)
}

// TestLifecycle covers get, list ordering, and delete.
func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	_, _, m := newTestStack(t)

	first, err := m.Create(ctx, "first", nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // distinct created_at for ordering
	second, err := m.Create(ctx, "second", nil)
	require.NoError(t, err)

	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, m.Delete(ctx, first.ID))
	_, err = m.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, first.ID), ErrNotFound)

	t.Run("restore unknown id", func(t *testing.T) {
		_, err := m.Restore(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
