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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statekit/services/state/content"
	"github.com/AleutianAI/statekit/services/state/record"
	"github.com/AleutianAI/statekit/services/state/textdiff"
	"github.com/AleutianAI/statekit/services/state/version"
)

func newTestManager(t *testing.T) (*Manager, *version.Manager) {
	t.Helper()
	records := record.NewMemoryStore()
	versions := version.NewManager(records, content.NewMemoryStore(), nil)
	return NewManager(records, versions, nil), versions
}

// TestCreate verifies the initial artifact state and path indexing.
func TestCreate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	a, err := m.Create(ctx, CreateInput{
		ProjectID: "proj",
		Path:      "src/a.txt",
		Type:      "source",
		Content:   []byte("hello"),
		Tags:      []string{"generated"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentVersion)
	assert.Equal(t, 1, a.VersionCount)
	assert.Equal(t, 0, a.TotalChanges)
	assert.NotEmpty(t, a.LatestVersionID)
	assert.NotEmpty(t, a.ContentHash)

	t.Run("resolvable by path", func(t *testing.T) {
		got, err := m.GetByPath(ctx, "proj", "src/a.txt")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
	})

	t.Run("duplicate path rejected", func(t *testing.T) {
		_, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "src/a.txt", Content: []byte("x")})
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("same path in another project is distinct", func(t *testing.T) {
		other, err := m.Create(ctx, CreateInput{ProjectID: "other", Path: "src/a.txt", Content: []byte("x")})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, other.ID)
	})
}

// TestUpdate verifies head advancement and change accumulation.
func TestUpdate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	a, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "a.txt", Content: []byte("one\ntwo")})
	require.NoError(t, err)

	updated, v, err := m.Update(ctx, a.ID, []byte("one\ntwo!\nthree"), UpdateInput{Message: "extend"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentVersion)
	assert.Equal(t, v.ID, updated.LatestVersionID)
	assert.Equal(t, v.ContentHash, updated.ContentHash)
	assert.Equal(t, 2, updated.VersionCount)
	// "two" -> "two!" plus a new line: 2 additions, 1 deletion.
	assert.Equal(t, 3, updated.TotalChanges)
}

// TestGetOrCreate exercises both the resolve and the create branch.
func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	in := CreateInput{ProjectID: "proj", Path: "a.txt", Content: []byte("x")}
	a, created, err := m.GetOrCreate(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := m.GetOrCreate(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)
}

// TestRollbackScenario walks the documented version-chain scenario:
// create, update, compare, then roll back as a new forward version.
func TestRollbackScenario(t *testing.T) {
	ctx := context.Background()
	m, versions := newTestManager(t)

	a, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "a.txt", Content: []byte("line1\nline2")})
	require.NoError(t, err)
	v1ID := a.LatestVersionID
	h1 := a.ContentHash

	a, v2, err := m.Update(ctx, a.ID, []byte("line1\nline2 changed"), UpdateInput{Message: "edit"})
	require.NoError(t, err)
	require.NotNil(t, v2.Diff)
	assert.Equal(t, 1, v2.Diff.Additions)
	assert.Equal(t, 1, v2.Diff.Deletions)

	recomputed, err := versions.CompareVersions(ctx, v1ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.Diff, recomputed)

	a, v3, err := m.Rollback(ctx, a.ID, v1ID, UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)
	assert.NotEqual(t, v1ID, v3.ID)
	assert.Equal(t, h1, a.ContentHash)
	assert.Equal(t, "rollback to version 1", v3.Message)

	restored, err := versions.GetVersionContent(ctx, v3.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("line1\nline2"), restored)

	t.Run("version numbers stay contiguous", func(t *testing.T) {
		list, err := versions.ListVersions(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, v := range list {
			assert.Equal(t, 3-i, v.Version)
		}
	})

	t.Run("foreign version rejected", func(t *testing.T) {
		other, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "b.txt", Content: []byte("b")})
		require.NoError(t, err)
		_, _, err = m.Rollback(ctx, a.ID, other.LatestVersionID, UpdateInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "belongs to artifact")
	})
}

// TestDelete_RetainsHistory confirms logical deletion: the record and
// path index go away, the version chain stays readable.
func TestDelete_RetainsHistory(t *testing.T) {
	ctx := context.Background()
	m, versions := newTestManager(t)

	a, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "a.txt", Content: []byte("payload")})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, a.ID))

	_, err = m.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetByPath(ctx, "proj", "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	data, err := versions.GetVersionContent(ctx, a.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	t.Run("path can be reused", func(t *testing.T) {
		_, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "a.txt", Content: []byte("new")})
		require.NoError(t, err)
	})
}

// TestDependencyGraph covers symmetric edges, direct dependents, and
// transitive impact analysis with depth tracking.
func TestDependencyGraph(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	ids := make(map[string]string)
	for _, name := range []string{"base", "mid", "leaf", "side"} {
		a, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: name + ".py", Content: []byte(name)})
		require.NoError(t, err)
		ids[name] = a.ID
	}
	// mid -> base, leaf -> mid, side -> base.
	require.NoError(t, m.AddDependency(ctx, ids["mid"], ids["base"]))
	require.NoError(t, m.AddDependency(ctx, ids["leaf"], ids["mid"]))
	require.NoError(t, m.AddDependency(ctx, ids["side"], ids["base"]))

	t.Run("edges are symmetric", func(t *testing.T) {
		mid, err := m.Get(ctx, ids["mid"])
		require.NoError(t, err)
		assert.Equal(t, []string{ids["base"]}, mid.Dependencies)
		assert.Equal(t, []string{ids["leaf"]}, mid.Dependents)
	})

	t.Run("duplicate edge is a no-op", func(t *testing.T) {
		require.NoError(t, m.AddDependency(ctx, ids["mid"], ids["base"]))
		mid, err := m.Get(ctx, ids["mid"])
		require.NoError(t, err)
		assert.Len(t, mid.Dependencies, 1)
	})

	t.Run("self edge rejected", func(t *testing.T) {
		assert.Error(t, m.AddDependency(ctx, ids["base"], ids["base"]))
	})

	t.Run("direct dependents", func(t *testing.T) {
		deps, err := m.GetDependents(ctx, ids["base"])
		require.NoError(t, err)
		got := make([]string, 0, len(deps))
		for _, d := range deps {
			got = append(got, d.ID)
		}
		assert.ElementsMatch(t, []string{ids["mid"], ids["side"]}, got)
	})

	t.Run("impact analysis is transitive with depths", func(t *testing.T) {
		impact, err := m.GetImpactAnalysis(ctx, ids["base"])
		require.NoError(t, err)
		assert.Equal(t, 3, impact.Total)
		depths := make(map[string]int)
		for _, af := range impact.Affected {
			depths[af.ID] = af.Depth
		}
		assert.Equal(t, 1, depths[ids["mid"]])
		assert.Equal(t, 1, depths[ids["side"]])
		assert.Equal(t, 2, depths[ids["leaf"]])
	})

	t.Run("remove dependency", func(t *testing.T) {
		require.NoError(t, m.RemoveDependency(ctx, ids["side"], ids["base"]))
		impact, err := m.GetImpactAnalysis(ctx, ids["base"])
		require.NoError(t, err)
		assert.Equal(t, 2, impact.Total)
	})
}

// TestGetImpactAnalysis_ToleratesCycles ensures a dependency cycle
// terminates instead of looping.
func TestGetImpactAnalysis_ToleratesCycles(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	var ids []string
	for i := 0; i < 3; i++ {
		a, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: fmt.Sprintf("f%d.py", i), Content: []byte("x")})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	require.NoError(t, m.AddDependency(ctx, ids[0], ids[1]))
	require.NoError(t, m.AddDependency(ctx, ids[1], ids[2]))
	require.NoError(t, m.AddDependency(ctx, ids[2], ids[0]))

	impact, err := m.GetImpactAnalysis(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, impact.Total)
}

// TestRollbackDiffChangeType sanity-checks that rolling back an edit
// records a modified diff, not a fresh add.
func TestRollbackDiffChangeType(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	a, err := m.Create(ctx, CreateInput{ProjectID: "proj", Path: "a.txt", Content: []byte("v1")})
	require.NoError(t, err)
	v1ID := a.LatestVersionID
	_, _, err = m.Update(ctx, a.ID, []byte("v2"), UpdateInput{})
	require.NoError(t, err)

	_, v3, err := m.Rollback(ctx, a.ID, v1ID, UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, textdiff.ChangeModified, v3.ChangeType)
}
