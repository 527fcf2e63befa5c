// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup exports and imports record-store namespaces.
//
// Two portable file formats: a single snapshot document
// ({metadata, data:{namespace:{key:payload}}}) and a newline-delimited
// stream where each line carries a _type discriminator ("metadata" or
// "record"). Both round-trip through Import. The BackupManager wraps
// export/import with an index file and a retention cap.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/statekit/services/state/record"
)

// FormatVersion identifies the on-disk layout written by this package.
const FormatVersion = "1"

// Format selects the export file layout.
type Format string

const (
	// FormatSnapshot writes one aggregate JSON document.
	FormatSnapshot Format = "snapshot"

	// FormatStreaming writes newline-delimited typed records, suitable
	// for stores too large to hold in one in-memory document.
	FormatStreaming Format = "streaming"
)

// Manifest describes an export.
type Manifest struct {
	ExportedAt time.Time `json:"exported_at"`
	Version    string    `json:"version"`
	Namespaces []string  `json:"namespaces"`
}

// ExportOptions configures Export.
type ExportOptions struct {
	// Namespaces restricts the export; empty means every namespace the
	// store currently holds.
	Namespaces []string

	OutputPath string

	// Format defaults to FormatSnapshot.
	Format Format
}

// ExportResult reports what an export wrote. A structured result, not
// an error, so batch callers can inspect partial progress.
type ExportResult struct {
	Success    bool     `json:"success"`
	Path       string   `json:"path"`
	Format     Format   `json:"format"`
	Namespaces []string `json:"namespaces"`
	Records    int      `json:"records"`
	Bytes      int64    `json:"bytes"`
	Error      string   `json:"error,omitempty"`
}

type snapshotDocument struct {
	Metadata Manifest                     `json:"metadata"`
	Data     map[string]map[string][]byte `json:"data"`
}

type streamLine struct {
	Type      string `json:"_type"`
	Namespace string `json:"namespace,omitempty"`
	Key       string `json:"key,omitempty"`
	Data      []byte `json:"data,omitempty"`

	// Manifest fields, set on the metadata line only.
	ExportedAt *time.Time `json:"exported_at,omitempty"`
	Version    string     `json:"version,omitempty"`
	Namespaces []string   `json:"namespaces,omitempty"`
}

// Export serializes the selected namespaces to opts.OutputPath.
func Export(ctx context.Context, store record.Store, opts ExportOptions) (*ExportResult, error) {
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("export: output path is required")
	}
	if opts.Format == "" {
		opts.Format = FormatSnapshot
	}

	namespaces := opts.Namespaces
	if len(namespaces) == 0 {
		all, err := store.Namespaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerate namespaces: %w", err)
		}
		namespaces = all
	}

	result := &ExportResult{Path: opts.OutputPath, Format: opts.Format, Namespaces: namespaces}
	manifest := Manifest{ExportedAt: time.Now().UTC(), Version: FormatVersion, Namespaces: namespaces}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	var err error
	switch opts.Format {
	case FormatSnapshot:
		err = exportSnapshot(ctx, store, manifest, namespaces, opts.OutputPath, result)
	case FormatStreaming:
		err = exportStreaming(ctx, store, manifest, namespaces, opts.OutputPath, result)
	default:
		return nil, fmt.Errorf("export: unknown format %q", opts.Format)
	}
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	info, err := os.Stat(opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("stat export file: %w", err)
	}
	result.Bytes = info.Size()
	result.Success = true
	return result, nil
}

func exportSnapshot(ctx context.Context, store record.Store, manifest Manifest, namespaces []string, path string, result *ExportResult) error {
	doc := snapshotDocument{Metadata: manifest, Data: make(map[string]map[string][]byte, len(namespaces))}
	for _, ns := range namespaces {
		recs, err := store.List(ctx, ns, record.ListOptions{})
		if err != nil {
			return fmt.Errorf("list namespace %s: %w", ns, err)
		}
		entries := make(map[string][]byte, len(recs))
		for _, rec := range recs {
			entries[rec.Key] = rec.Data
			result.Records++
		}
		doc.Data[ns] = entries
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0640); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

func exportStreaming(ctx context.Context, store record.Store, manifest Manifest, namespaces []string, path string, result *ExportResult) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create stream file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(streamLine{
		Type:       "metadata",
		ExportedAt: &manifest.ExportedAt,
		Version:    manifest.Version,
		Namespaces: manifest.Namespaces,
	}); err != nil {
		return fmt.Errorf("write metadata line: %w", err)
	}
	for _, ns := range namespaces {
		recs, err := store.List(ctx, ns, record.ListOptions{})
		if err != nil {
			return fmt.Errorf("list namespace %s: %w", ns, err)
		}
		for _, rec := range recs {
			line := streamLine{Type: "record", Namespace: ns, Key: rec.Key, Data: rec.Data}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("write record %s/%s: %w", ns, rec.Key, err)
			}
			result.Records++
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush stream file: %w", err)
	}
	return nil
}
