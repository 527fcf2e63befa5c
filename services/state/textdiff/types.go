// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textdiff computes and applies line-level diffs.
//
// Generate is a pure function from two texts to an immutable hunk list
// (LCS table + backtrack); Apply is its exact inverse, so for any texts
// A and B, Apply(A, Generate(A, B)) == B. Unified-diff rendering is a
// formatting function over the same hunk structure, not an independent
// diff computation.
package textdiff

import "strings"

// LineType classifies a diff line.
type LineType string

const (
	LineAdd     LineType = "add"
	LineRemove  LineType = "remove"
	LineContext LineType = "context"
)

// ChangeType classifies a whole diff.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
	ChangeRenamed   ChangeType = "renamed"
	ChangeUnchanged ChangeType = "unchanged"
)

// Line is one line within a hunk.
type Line struct {
	// Number is the 1-based line number: in the new text for add and
	// context lines, in the old text for remove lines.
	Number int `json:"line_number"`

	Type LineType `json:"type"`

	Content string `json:"content"`
}

// Hunk is a contiguous block of added/removed/context lines.
//
// OldStart/NewStart are 1-based positions of the hunk's first line in
// the old and new texts; for a hunk with no old lines OldStart is the
// position the insertion occupies (and likewise for NewStart).
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldCount int    `json:"old_count"`
	NewStart int    `json:"new_start"`
	NewCount int    `json:"new_count"`
	Lines    []Line `json:"lines"`
}

// Diff is the result of comparing two texts.
//
// An empty diff (no changes) has ChangeType ChangeUnchanged and zero
// hunks. FromVersion/ToVersion are filled in by the version chain
// manager when the diff is attached to a version record.
type Diff struct {
	FromVersion int        `json:"from_version,omitempty"`
	ToVersion   int        `json:"to_version,omitempty"`
	ChangeType  ChangeType `json:"change_type"`
	Hunks       []Hunk     `json:"hunks,omitempty"`
	Additions   int        `json:"additions"`
	Deletions   int        `json:"deletions"`
}

// splitLines converts text to its line sequence. The empty string has
// zero lines; any other text splits on "\n" so that joinLines is the
// exact inverse (a trailing newline yields a final empty line).
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// joinLines is the inverse of splitLines.
func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
