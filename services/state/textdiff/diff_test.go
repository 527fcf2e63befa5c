// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textdiff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerate_ChangeClassification verifies the change type assigned to
// each from/to combination.
func TestGenerate_ChangeClassification(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want ChangeType
	}{
		{"identical", "a\nb", "a\nb", ChangeUnchanged},
		{"both empty", "", "", ChangeUnchanged},
		{"from empty", "", "hello\nworld", ChangeAdded},
		{"to empty", "hello\nworld", "", ChangeDeleted},
		{"modified", "a\nb\nc", "a\nx\nc", ChangeModified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Generate(tt.from, tt.to)
			assert.Equal(t, tt.want, d.ChangeType)
			if tt.want == ChangeUnchanged {
				assert.Empty(t, d.Hunks)
				assert.Zero(t, d.Additions)
				assert.Zero(t, d.Deletions)
			}
		})
	}
}

// TestGenerate_SingleModification checks hunk structure and line
// numbering for a one-line change in the middle of a file.
func TestGenerate_SingleModification(t *testing.T) {
	d := Generate("a\nb\nc", "a\nx\nc")

	require.Len(t, d.Hunks, 1)
	assert.Equal(t, 1, d.Additions)
	assert.Equal(t, 1, d.Deletions)

	h := d.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldCount)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 3, h.NewCount)

	require.Len(t, h.Lines, 4)
	assert.Equal(t, Line{Number: 1, Type: LineContext, Content: "a"}, h.Lines[0])
	assert.Equal(t, Line{Number: 2, Type: LineRemove, Content: "b"}, h.Lines[1])
	assert.Equal(t, Line{Number: 2, Type: LineAdd, Content: "x"}, h.Lines[2])
	assert.Equal(t, Line{Number: 3, Type: LineContext, Content: "c"}, h.Lines[3])
}

// TestGenerate_HunkGrouping verifies that changes separated by more than
// twice the context window split into separate hunks, and that closer
// changes share one.
func TestGenerate_HunkGrouping(t *testing.T) {
	numbered := func(n int) []string {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = fmt.Sprintf("line %d", i+1)
		}
		return lines
	}

	t.Run("distant changes split", func(t *testing.T) {
		from := numbered(20)
		to := numbered(20)
		to[1] = "changed 2"
		to[17] = "changed 18"

		d := Generate(strings.Join(from, "\n"), strings.Join(to, "\n"))
		require.Len(t, d.Hunks, 2)
		assert.Equal(t, 1, d.Hunks[0].OldStart)
		assert.Equal(t, 5, d.Hunks[0].OldCount)
		assert.Equal(t, 15, d.Hunks[1].OldStart)
		assert.Equal(t, 6, d.Hunks[1].OldCount)
	})

	t.Run("nearby changes merge", func(t *testing.T) {
		from := numbered(20)
		to := numbered(20)
		to[5] = "changed 6"
		to[10] = "changed 11"

		d := Generate(strings.Join(from, "\n"), strings.Join(to, "\n"))
		require.Len(t, d.Hunks, 1)
	})
}

// TestApply_RoundTrip exercises the reconstruction law: applying a
// generated diff to its source always reproduces the target exactly.
func TestApply_RoundTrip(t *testing.T) {
	long := func(n int, changes map[int]string) string {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = fmt.Sprintf("line %d", i+1)
		}
		for i, repl := range changes {
			lines[i] = repl
		}
		return strings.Join(lines, "\n")
	}

	tests := []struct {
		name string
		from string
		to   string
	}{
		{"identical", "a\nb\nc", "a\nb\nc"},
		{"from empty", "", "hello\nworld"},
		{"to empty", "hello\nworld", ""},
		{"modified middle", "a\nb\nc", "a\nx\nc"},
		{"trailing newline added", "a\nb", "a\nb\n"},
		{"trailing newline removed", "a\nb\n", "a\nb"},
		{"insert at top", "c\nd", "a\nb\nc\nd"},
		{"delete at end", "a\nb\nc\nd", "a\nb"},
		{"disjoint texts", "one\ntwo\nthree", "alpha\nbeta"},
		{"multi hunk", long(40, nil), long(40, map[int]string{3: "x", 30: "y"})},
		{"single line swap", "only", "different"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Generate(tt.from, tt.to)
			got, err := Apply(tt.from, d)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

// TestApply_RejectsMismatchedBase verifies that applying a diff to text
// it was not generated from fails instead of producing garbage.
func TestApply_RejectsMismatchedBase(t *testing.T) {
	d := Generate("a\nb\nc", "a\nx\nc")

	t.Run("context mismatch", func(t *testing.T) {
		_, err := Apply("z\nb\nc", d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not apply")
	})

	t.Run("removed line mismatch", func(t *testing.T) {
		_, err := Apply("a\nz\nc", d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not apply")
	})

	t.Run("base too short", func(t *testing.T) {
		_, err := Apply("a", d)
		require.Error(t, err)
	})
}

// TestApply_NilAndEmptyDiff confirms that a nil or unchanged diff
// returns the input untouched.
func TestApply_NilAndEmptyDiff(t *testing.T) {
	got, err := Apply("a\nb", nil)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)

	got, err = Apply("a\nb", &Diff{ChangeType: ChangeUnchanged})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)
}

// TestUnified_Format spot-checks the rendered unified output.
func TestUnified_Format(t *testing.T) {
	d := Generate("a\nb\nc", "a\nx\nc")
	out, err := Unified("notes.txt", d)
	require.NoError(t, err)

	assert.Contains(t, out, "--- a/notes.txt")
	assert.Contains(t, out, "+++ b/notes.txt")
	assert.Contains(t, out, "@@ -1,3 +1,3 @@")
	assert.Contains(t, out, "\n-b\n")
	assert.Contains(t, out, "\n+x\n")
	assert.Contains(t, out, "\n a\n")
}

// TestUnified_EmptySides verifies the -0,0/+0,0 convention for pure
// additions and deletions.
func TestUnified_EmptySides(t *testing.T) {
	t.Run("pure addition", func(t *testing.T) {
		out, err := Unified("f", Generate("", "a\nb"))
		require.NoError(t, err)
		assert.Contains(t, out, "@@ -0,0 +1,2 @@")
	})

	t.Run("pure deletion", func(t *testing.T) {
		out, err := Unified("f", Generate("a\nb", ""))
		require.NoError(t, err)
		assert.Contains(t, out, "@@ -1,2 +0,0 @@")
	})
}
