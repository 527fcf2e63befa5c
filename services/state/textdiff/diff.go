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
)

// ContextLines is the fixed context window used for hunk boundaries.
const ContextLines = 3

// op is one step of the edit script between two line sequences.
type op struct {
	kind LineType
	text string

	// oldAfter/newAfter are the number of old/new lines consumed once
	// this op has been processed. They double as 1-based line numbers
	// for ops that consume the respective side.
	oldAfter int
	newAfter int
}

// Generate computes the line-level diff from one text to another.
//
// # Description
//
// Longest-common-subsequence over lines, backtracked into an edit
// script and grouped into hunks with a ContextLines window. Change
// regions separated by more than 2*ContextLines context lines split
// into separate hunks; closer regions merge into one.
//
// Edge cases: an empty "from" yields ChangeAdded with the whole content
// as additions, an empty "to" yields ChangeDeleted, identical texts
// yield ChangeUnchanged with zero hunks.
func Generate(from, to string) *Diff {
	if from == to {
		return &Diff{ChangeType: ChangeUnchanged}
	}

	ops := editScript(splitLines(from), splitLines(to))

	d := &Diff{ChangeType: ChangeModified}
	switch {
	case from == "":
		d.ChangeType = ChangeAdded
	case to == "":
		d.ChangeType = ChangeDeleted
	}
	for _, o := range ops {
		switch o.kind {
		case LineAdd:
			d.Additions++
		case LineRemove:
			d.Deletions++
		}
	}
	d.Hunks = buildHunks(ops)
	return d
}

// editScript produces the ordered edit script via an LCS table and a
// forward backtrack. Ties prefer removals, so output is deterministic.
func editScript(a, b []string) []op {
	n, m := len(a), len(b)

	// lcs[i][j] = length of the LCS of a[i:] and b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]op, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{kind: LineContext, text: a[i], oldAfter: i + 1, newAfter: j + 1})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, op{kind: LineRemove, text: a[i], oldAfter: i + 1, newAfter: j})
			i++
		default:
			ops = append(ops, op{kind: LineAdd, text: b[j], oldAfter: i, newAfter: j + 1})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, op{kind: LineRemove, text: a[i], oldAfter: i + 1, newAfter: j})
	}
	for ; j < m; j++ {
		ops = append(ops, op{kind: LineAdd, text: b[j], oldAfter: i, newAfter: j + 1})
	}
	return ops
}

// buildHunks groups the edit script into hunks around change regions.
func buildHunks(ops []op) []Hunk {
	var changes []int
	for idx, o := range ops {
		if o.kind != LineContext {
			changes = append(changes, idx)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	// Group change regions: a gap of more than 2*ContextLines context
	// lines starts a new hunk, anything closer merges.
	type span struct{ first, last int }
	var spans []span
	cur := span{first: changes[0], last: changes[0]}
	for _, c := range changes[1:] {
		if c-cur.last-1 > 2*ContextLines {
			spans = append(spans, cur)
			cur = span{first: c, last: c}
		} else {
			cur.last = c
		}
	}
	spans = append(spans, cur)

	hunks := make([]Hunk, 0, len(spans))
	for _, sp := range spans {
		lo := sp.first - ContextLines
		if lo < 0 {
			lo = 0
		}
		hi := sp.last + ContextLines
		if hi > len(ops)-1 {
			hi = len(ops) - 1
		}
		hunks = append(hunks, makeHunk(ops[lo : hi+1]))
	}
	return hunks
}

func makeHunk(ops []op) Hunk {
	h := Hunk{Lines: make([]Line, 0, len(ops))}
	for idx, o := range ops {
		consumesOld := o.kind != LineAdd
		consumesNew := o.kind != LineRemove
		if idx == 0 {
			h.OldStart = o.oldAfter + 1
			if consumesOld {
				h.OldStart = o.oldAfter
			}
			h.NewStart = o.newAfter + 1
			if consumesNew {
				h.NewStart = o.newAfter
			}
		}
		if consumesOld {
			h.OldCount++
		}
		if consumesNew {
			h.NewCount++
		}

		number := o.newAfter
		if o.kind == LineRemove {
			number = o.oldAfter
		}
		h.Lines = append(h.Lines, Line{Number: number, Type: o.kind, Content: o.text})
	}
	return h
}

// Apply reconstructs the "to" text from the "from" text and a diff.
//
// # Description
//
// Walks hunks in order, copying unchanged prefix lines, emitting add
// lines, skipping remove lines, and copying trailing lines after the
// last hunk. Exact inverse of Generate: Apply(A, Generate(A, B)) == B.
//
// # Outputs
//
//   - string: The reconstructed text.
//   - error: Non-nil if the diff does not apply to this text (a context
//     or remove line disagrees with the payload).
func Apply(from string, d *Diff) (string, error) {
	if d == nil || d.ChangeType == ChangeUnchanged || len(d.Hunks) == 0 {
		return from, nil
	}

	old := splitLines(from)
	out := make([]string, 0, len(old)+d.Additions)
	pos := 0 // 0-based index into old

	for hi := range d.Hunks {
		h := &d.Hunks[hi]
		skip := h.OldStart - 1 - pos
		if skip < 0 || pos+skip > len(old) {
			return "", fmt.Errorf("hunk %d does not apply: old start %d out of range", hi+1, h.OldStart)
		}
		out = append(out, old[pos:pos+skip]...)
		pos += skip

		for _, line := range h.Lines {
			switch line.Type {
			case LineContext:
				if pos >= len(old) || old[pos] != line.Content {
					return "", fmt.Errorf("hunk %d does not apply: context mismatch at old line %d", hi+1, pos+1)
				}
				out = append(out, old[pos])
				pos++
			case LineRemove:
				if pos >= len(old) || old[pos] != line.Content {
					return "", fmt.Errorf("hunk %d does not apply: removed line mismatch at old line %d", hi+1, pos+1)
				}
				pos++
			case LineAdd:
				out = append(out, line.Content)
			default:
				return "", fmt.Errorf("hunk %d: unknown line type %q", hi+1, line.Type)
			}
		}
	}
	out = append(out, old[pos:]...)
	return joinLines(out), nil
}
