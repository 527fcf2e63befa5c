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

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Unified renders a diff in unified format with a/<name> and b/<name>
// file headers. Rendering is pure formatting over the hunk structure;
// it never recomputes the diff.
func Unified(name string, d *Diff) (string, error) {
	fd := &godiff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
	}
	if d != nil {
		for i := range d.Hunks {
			h, err := unifiedHunk(&d.Hunks[i])
			if err != nil {
				return "", fmt.Errorf("render hunk %d: %w", i+1, err)
			}
			fd.Hunks = append(fd.Hunks, h)
		}
	}
	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("print unified diff: %w", err)
	}
	return string(out), nil
}

func unifiedHunk(h *Hunk) (*godiff.Hunk, error) {
	var body strings.Builder
	for _, line := range h.Lines {
		switch line.Type {
		case LineAdd:
			body.WriteByte('+')
		case LineRemove:
			body.WriteByte('-')
		case LineContext:
			body.WriteByte(' ')
		default:
			return nil, fmt.Errorf("unknown line type %q", line.Type)
		}
		body.WriteString(line.Content)
		body.WriteByte('\n')
	}

	// Unified format reports an empty side's start as the line before
	// the change, e.g. "-0,0" for an insertion at the top of the file.
	origStart := int32(h.OldStart)
	if h.OldCount == 0 {
		origStart--
	}
	newStart := int32(h.NewStart)
	if h.NewCount == 0 {
		newStart--
	}
	return &godiff.Hunk{
		OrigStartLine: origStart,
		OrigLines:     int32(h.OldCount),
		NewStartLine:  newStart,
		NewLines:      int32(h.NewCount),
		Body:          []byte(body.String()),
	}, nil
}
