// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statekit/services/state/record"
)

// upper rewrites every payload in "docs" to upper case; lower is its
// exact inverse for the rollback tests.
func upper(ctx context.Context, mc *Context) error {
	_, err := mc.TransformNamespace(ctx, "docs", func(key string, data []byte) ([]byte, error) {
		return []byte(strings.ToUpper(string(data))), nil
	})
	return err
}

func lower(ctx context.Context, mc *Context) error {
	_, err := mc.TransformNamespace(ctx, "docs", func(key string, data []byte) ([]byte, error) {
		return []byte(strings.ToLower(string(data))), nil
	})
	return err
}

func seedDocs(t *testing.T, store record.Store) {
	t.Helper()
	ctx := context.Background()
	for key, data := range map[string]string{"a": "alpha", "b": "beta"} {
		_, err := store.Set(ctx, "docs", key, []byte(data))
		require.NoError(t, err)
	}
}

// TestMigrate_AscendingOrder verifies pending selection, ordering, and
// the schema pointer after a clean run.
func TestMigrate_AscendingOrder(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	m := NewManager(store, nil)

	var order []int
	mk := func(version int) *Migration {
		return &Migration{
			Version: version,
			Name:    "noop",
			Up: func(ctx context.Context, mc *Context) error {
				order = append(order, version)
				return nil
			},
			Down: func(ctx context.Context, mc *Context) error { return nil },
		}
	}
	// Registered out of order on purpose.
	require.NoError(t, m.Register(mk(3)))
	require.NoError(t, m.Register(mk(1)))
	require.NoError(t, m.Register(mk(2)))

	result, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, []int{1, 2, 3}, result.Applied)
	assert.Equal(t, []int{1, 2, 3}, order)

	v, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	t.Run("second run has nothing pending", func(t *testing.T) {
		result, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Empty(t, result.Applied)
	})
}

// TestMigrate_StopsOnFailure checks the no-auto-rollback policy: the
// failing migration is recorded, later ones never run, earlier ones
// stay committed.
func TestMigrate_StopsOnFailure(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	m := NewManager(store, nil)

	ran3 := false
	require.NoError(t, m.Register(&Migration{Version: 1, Name: "ok",
		Up: func(ctx context.Context, mc *Context) error { return nil }}))
	require.NoError(t, m.Register(&Migration{Version: 2, Name: "boom",
		Up: func(ctx context.Context, mc *Context) error { return errors.New("exploded") }}))
	require.NoError(t, m.Register(&Migration{Version: 3, Name: "never",
		Up: func(ctx context.Context, mc *Context) error { ran3 = true; return nil }}))

	result, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, []int{1}, result.Applied)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, "exploded", result.Error)
	assert.False(t, ran3)

	v, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	attempts, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, StatusCompleted, attempts[0].Status)
	assert.Equal(t, StatusFailed, attempts[1].Status)
	assert.Equal(t, "exploded", attempts[1].Error)
}

// TestRollback_RestoresPreMigrationState runs an up/down pair that are
// exact inverses and checks the namespace round-trips.
func TestRollback_RestoresPreMigrationState(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	seedDocs(t, store)
	m := NewManager(store, nil)
	require.NoError(t, m.Register(&Migration{Version: 1, Name: "upcase docs", Up: upper, Down: lower}))

	result, err := m.Migrate(ctx)
	require.NoError(t, err)
	require.True(t, result.Success())

	rec, err := store.Get(ctx, "docs", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("ALPHA"), rec.Data)

	rolled, err := m.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled)

	rec, err = store.Get(ctx, "docs", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), rec.Data)

	t.Run("schema pointer cleared", func(t *testing.T) {
		v, err := m.SchemaVersion(ctx)
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("attempt marked rolled back", func(t *testing.T) {
		attempts, err := m.Status(ctx)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, StatusRolledBack, attempts[0].Status)
		assert.NotNil(t, attempts[0].RolledBackAt)
	})

	t.Run("nothing left to roll back", func(t *testing.T) {
		_, err := m.Rollback(ctx)
		require.Error(t, err)
	})

	t.Run("migration is pending again", func(t *testing.T) {
		result, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, result.Applied)
	})
}

// TestRollback_PointerMovesToPreviousCompleted rolls back the top of a
// two-migration stack.
func TestRollback_PointerMovesToPreviousCompleted(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	m := NewManager(store, nil)
	noop := func(ctx context.Context, mc *Context) error { return nil }
	require.NoError(t, m.Register(&Migration{Version: 1, Name: "first", Up: noop, Down: noop}))
	require.NoError(t, m.Register(&Migration{Version: 2, Name: "second", Up: noop, Down: noop}))

	_, err := m.Migrate(ctx)
	require.NoError(t, err)

	rolled, err := m.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rolled)

	v, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

// TestRollback_RequiresDownRoutine fails cleanly when the latest
// completed migration cannot be reverted.
func TestRollback_RequiresDownRoutine(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	m := NewManager(store, nil)
	require.NoError(t, m.Register(&Migration{Version: 1, Name: "one way",
		Up: func(ctx context.Context, mc *Context) error { return nil }}))

	_, err := m.Migrate(ctx)
	require.NoError(t, err)

	_, err = m.Rollback(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no down routine")

	// Failed rollback leaves the pointer alone.
	v, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

// TestRegister_Validation rejects duplicates and malformed migrations.
func TestRegister_Validation(t *testing.T) {
	m := NewManager(record.NewMemoryStore(), nil)
	noop := func(ctx context.Context, mc *Context) error { return nil }

	require.NoError(t, m.Register(&Migration{Version: 1, Name: "a", Up: noop}))
	assert.Error(t, m.Register(&Migration{Version: 1, Name: "b", Up: noop}))
	assert.Error(t, m.Register(&Migration{Version: 0, Name: "c", Up: noop}))
	assert.Error(t, m.Register(&Migration{Version: 2, Name: "d"}))
}

// TestTransformNamespace covers the skip sentinel and the abort path.
func TestTransformNamespace(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	seedDocs(t, store)
	mc := &Context{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	t.Run("skip sentinel leaves record unchanged", func(t *testing.T) {
		n, err := mc.TransformNamespace(ctx, "docs", func(key string, data []byte) ([]byte, error) {
			if key == "a" {
				return nil, ErrSkipRecord
			}
			return append(data, '!'), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rec, err := store.Get(ctx, "docs", "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("alpha"), rec.Data)
		rec, err = store.Get(ctx, "docs", "b")
		require.NoError(t, err)
		assert.Equal(t, []byte("beta!"), rec.Data)
	})

	t.Run("error aborts", func(t *testing.T) {
		_, err := mc.TransformNamespace(ctx, "docs", func(key string, data []byte) ([]byte, error) {
			return nil, errors.New("bad payload")
		})
		require.Error(t, err)
	})

	t.Run("index hooks are no-ops", func(t *testing.T) {
		require.NoError(t, mc.CreateIndex(ctx, "docs", "key"))
		require.NoError(t, mc.DropIndex(ctx, "docs", "key"))
	})
}
