// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel covers the config strings and the unknown fallback.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"loud", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

// TestLevel_String round-trips each level through its display name.
func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
}

// TestLogger_LevelFilter drops entries below the configured minimum.
func TestLogger_LevelFilter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelWarn, Quiet: true, Exporter: exporter})
	defer logger.Close()

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("also kept")

	entries := exporter.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, "also kept", entries[1].Message)
	assert.Equal(t, LevelError, entries[1].Level)
}

// TestLogger_ExporterEntries checks the exporter sees service and attrs.
func TestLogger_ExporterEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Service: "statekit", Exporter: exporter})
	defer logger.Close()

	logger.Info("checkpoint created", "checkpoint_id", "cp-1", "records", 42)

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "checkpoint created", entry.Message)
	assert.Equal(t, "statekit", entry.Service)
	assert.Equal(t, "cp-1", entry.Attrs["checkpoint_id"])
	assert.Equal(t, 42, entry.Attrs["records"])
	assert.WithinDuration(t, time.Now(), entry.Timestamp, time.Minute)
}

// TestLogger_FileOutput writes JSON lines to the dated log file.
func TestLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir, Service: "statekit"})

	logger.Info("migration applied", "version", 3)
	require.NoError(t, logger.Close())

	name := fmt.Sprintf("statekit_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "migration applied", line["msg"])
	assert.Equal(t, "statekit", line["service"])
	assert.Equal(t, float64(3), line["version"])
}

// TestLogger_With carries attributes into child entries.
func TestLogger_With(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir, Service: "statekit"})
	child := logger.With("namespace", "sessions")

	child.Info("records listed")
	require.NoError(t, logger.Close())

	name := fmt.Sprintf("statekit_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "sessions", line["namespace"])
}

// TestLogger_CloseIdempotent tolerates a second Close.
func TestLogger_CloseIdempotent(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: NewBufferedExporter()})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

// TestArgsToMap skips trailing and non-string keys.
func TestArgsToMap(t *testing.T) {
	assert.Nil(t, argsToMap(nil))

	m := argsToMap([]any{"key", "value", 7, "ignored", "dangling"})
	assert.Equal(t, map[string]any{"key": "value"}, m)
}
