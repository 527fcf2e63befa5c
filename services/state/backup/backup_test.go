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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statekit/services/state/record"
)

func seedStore(t *testing.T) record.Store {
	t.Helper()
	ctx := context.Background()
	store := record.NewMemoryStore()
	seed := map[string]map[string]string{
		"sessions":  {"s1": "session one", "s2": "session two"},
		"artifacts": {"a1": `{"id":"a1"}`},
	}
	for ns, entries := range seed {
		for key, data := range entries {
			_, err := store.Set(ctx, ns, key, []byte(data))
			require.NoError(t, err)
		}
	}
	return store
}

func countAll(t *testing.T, store record.Store) int {
	t.Helper()
	ctx := context.Background()
	total := 0
	namespaces, err := store.Namespaces(ctx)
	require.NoError(t, err)
	for _, ns := range namespaces {
		n, err := store.Count(ctx, ns)
		require.NoError(t, err)
		total += n
	}
	return total
}

// TestExportImport_RoundTrip covers the wipe-and-restore scenario in
// both formats: export, wipe, import once (everything lands), import
// again without overwrite (everything skipped).
func TestExportImport_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatSnapshot, FormatStreaming} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			store := seedStore(t)
			original := countAll(t, store)
			path := filepath.Join(t.TempDir(), "export.json")

			result, err := Export(ctx, store, ExportOptions{OutputPath: path, Format: format})
			require.NoError(t, err)
			assert.True(t, result.Success)
			assert.Equal(t, original, result.Records)
			assert.Positive(t, result.Bytes)

			// Wipe.
			for _, ns := range []string{"sessions", "artifacts"} {
				_, err := store.Clear(ctx, ns)
				require.NoError(t, err)
			}
			require.Zero(t, countAll(t, store))

			imported, err := Import(ctx, store, ImportOptions{FilePath: path})
			require.NoError(t, err)
			assert.Equal(t, original, imported.Imported)
			assert.Zero(t, imported.Skipped)
			assert.Equal(t, original, countAll(t, store))

			rec, err := store.Get(ctx, "sessions", "s1")
			require.NoError(t, err)
			assert.Equal(t, []byte("session one"), rec.Data)

			t.Run("second import skips everything", func(t *testing.T) {
				again, err := Import(ctx, store, ImportOptions{FilePath: path})
				require.NoError(t, err)
				assert.Zero(t, again.Imported)
				assert.Equal(t, original, again.Skipped)
				assert.Equal(t, original, countAll(t, store))
			})
		})
	}
}

// TestExport_NamespaceFilter exports a subset only.
func TestExport_NamespaceFilter(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	path := filepath.Join(t.TempDir(), "sessions.json")

	result, err := Export(ctx, store, ExportOptions{
		OutputPath: path,
		Namespaces: []string{"sessions"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Records)
	assert.Equal(t, []string{"sessions"}, result.Namespaces)
}

// TestImport_Options covers overwrite, namespace filtering, and dry
// run.
func TestImport_Options(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	path := filepath.Join(t.TempDir(), "export.json")
	_, err := Export(ctx, store, ExportOptions{OutputPath: path, Format: FormatStreaming})
	require.NoError(t, err)

	t.Run("overwrite replaces existing keys", func(t *testing.T) {
		_, err := store.Set(ctx, "sessions", "s1", []byte("mutated"))
		require.NoError(t, err)

		result, err := Import(ctx, store, ImportOptions{FilePath: path, Overwrite: true})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Imported)
		assert.Zero(t, result.Skipped)

		rec, err := store.Get(ctx, "sessions", "s1")
		require.NoError(t, err)
		assert.Equal(t, []byte("session one"), rec.Data)
	})

	t.Run("namespace filter applies a subset", func(t *testing.T) {
		fresh := record.NewMemoryStore()
		result, err := Import(ctx, fresh, ImportOptions{FilePath: path, Namespaces: []string{"artifacts"}})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Imported)

		n, err := fresh.Count(ctx, "sessions")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		fresh := record.NewMemoryStore()
		result, err := Import(ctx, fresh, ImportOptions{FilePath: path, DryRun: true})
		require.NoError(t, err)
		assert.True(t, result.DryRun)
		assert.Equal(t, 3, result.Imported)
		assert.Zero(t, countAll(t, fresh))
	})
}

// TestImport_MalformedFile surfaces parse failures with the file path.
func TestImport_MalformedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0640))

	result, err := Import(ctx, record.NewMemoryStore(), ImportOptions{FilePath: path})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

// TestBackupManager_CreateListRestore exercises the index file and a
// restore into a wiped store.
func TestBackupManager_CreateListRestore(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	original := countAll(t, store)

	m, err := NewBackupManager(store, ManagerConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	defer m.Close()

	info, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, info.Records)
	assert.FileExists(t, info.Path)

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	for _, ns := range []string{"sessions", "artifacts"} {
		_, err := store.Clear(ctx, ns)
		require.NoError(t, err)
	}

	result, err := m.Restore(ctx, info.ID, false)
	require.NoError(t, err)
	assert.Equal(t, original, result.Imported)
	assert.Equal(t, original, countAll(t, store))

	t.Run("unknown id", func(t *testing.T) {
		_, err := m.Restore(ctx, "nope", false)
		assert.ErrorIs(t, err, ErrBackupNotFound)
	})
}

// TestBackupManager_Retention keeps only the newest backups and
// deletes the evicted data files.
func TestBackupManager_Retention(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	m, err := NewBackupManager(store, ManagerConfig{Dir: t.TempDir(), Retention: 2}, nil)
	require.NoError(t, err)
	defer m.Close()

	var paths []string
	for i := 0; i < 4; i++ {
		info, err := m.Create(ctx)
		require.NoError(t, err)
		paths = append(paths, info.Path)
		time.Sleep(5 * time.Millisecond) // distinct CreatedAt ordering
	}

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.NoFileExists(t, paths[0])
	assert.NoFileExists(t, paths[1])
	assert.FileExists(t, paths[2])
	assert.FileExists(t, paths[3])
}
