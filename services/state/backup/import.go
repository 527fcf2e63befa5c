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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/AleutianAI/statekit/services/state/record"
)

// ImportOptions configures Import.
type ImportOptions struct {
	FilePath string

	// Overwrite replaces existing keys. When false, an existing key is
	// skipped and counted separately from successes.
	Overwrite bool

	// Namespaces restricts which namespaces from the file are applied;
	// empty means all of them.
	Namespaces []string

	// DryRun performs every parse and existence check without writing.
	DryRun bool
}

// ImportResult reports per-record outcomes of an import.
type ImportResult struct {
	Success  bool   `json:"success"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	DryRun   bool   `json:"dry_run,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Import loads an export file (either format) into the store.
//
// # Description
//
// The format is sniffed from the file itself: a first line carrying a
// "_type" discriminator means streaming, anything else is treated as a
// snapshot document. Records apply independently; a mid-file failure
// leaves earlier records written (batch non-atomicity). Snapshot
// namespaces and keys are applied in sorted order so partial failures
// are reproducible.
func Import(ctx context.Context, store record.Store, opts ImportOptions) (*ImportResult, error) {
	if opts.FilePath == "" {
		return nil, fmt.Errorf("import: file path is required")
	}
	data, err := os.ReadFile(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read import file %s: %w", opts.FilePath, err)
	}

	result := &ImportResult{DryRun: opts.DryRun}
	if isStream(data) {
		err = importStream(ctx, store, data, opts, result)
	} else {
		err = importSnapshot(ctx, store, data, opts, result)
	}
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Success = true
	return result, nil
}

func isStream(data []byte) bool {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	var probe struct {
		Type string `json:"_type"`
	}
	return json.Unmarshal(line, &probe) == nil && probe.Type != ""
}

func wantNamespace(opts ImportOptions, ns string) bool {
	return len(opts.Namespaces) == 0 || slices.Contains(opts.Namespaces, ns)
}

// applyRecord writes one record honoring overwrite/dry-run, updating
// the imported/skipped counters.
func applyRecord(ctx context.Context, store record.Store, opts ImportOptions, result *ImportResult, ns, key string, data []byte) error {
	if !opts.Overwrite {
		exists, err := store.Exists(ctx, ns, key)
		if err != nil {
			return fmt.Errorf("check %s/%s: %w", ns, key, err)
		}
		if exists {
			result.Skipped++
			return nil
		}
	}
	if !opts.DryRun {
		if _, err := store.Set(ctx, ns, key, data); err != nil {
			return fmt.Errorf("import %s/%s: %w", ns, key, err)
		}
	}
	result.Imported++
	return nil
}

func importSnapshot(ctx context.Context, store record.Store, data []byte, opts ImportOptions, result *ImportResult) error {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse snapshot %s: %w", opts.FilePath, err)
	}
	if doc.Metadata.Version != "" && doc.Metadata.Version != FormatVersion {
		return fmt.Errorf("snapshot %s: unsupported format version %q", opts.FilePath, doc.Metadata.Version)
	}

	namespaces := make([]string, 0, len(doc.Data))
	for ns := range doc.Data {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		if !wantNamespace(opts, ns) {
			continue
		}
		keys := make([]string, 0, len(doc.Data[ns]))
		for key := range doc.Data[ns] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := applyRecord(ctx, store, opts, result, ns, key, doc.Data[ns][key]); err != nil {
				return err
			}
		}
	}
	return nil
}

func importStream(ctx context.Context, store record.Store, data []byte, opts ImportOptions, result *ImportResult) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line streamLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("parse %s line %d: %w", opts.FilePath, lineNo, err)
		}
		switch line.Type {
		case "metadata":
			if line.Version != "" && line.Version != FormatVersion {
				return fmt.Errorf("%s: unsupported format version %q", opts.FilePath, line.Version)
			}
		case "record":
			if !wantNamespace(opts, line.Namespace) {
				continue
			}
			if err := applyRecord(ctx, store, opts, result, line.Namespace, line.Key, line.Data); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s line %d: unknown line type %q", opts.FilePath, lineNo, line.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", opts.FilePath, err)
	}
	return nil
}
