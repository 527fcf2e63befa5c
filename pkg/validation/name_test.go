// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateNamespace accepts store names and rejects path tricks.
func TestValidateNamespace(t *testing.T) {
	valid := []string{"sessions", "artifact_paths", "_meta", "_migrations", "v2.cache", "a"}
	for _, ns := range valid {
		assert.NoError(t, ValidateNamespace(ns), "namespace %q", ns)
	}

	invalid := []string{"", "../etc", "a/b", "a b", strings.Repeat("x", 65), ".hidden", "tab\tname"}
	for _, ns := range invalid {
		assert.Error(t, ValidateNamespace(ns), "namespace %q", ns)
	}
}

// TestValidateNamespaces lists every offender.
func TestValidateNamespaces(t *testing.T) {
	assert.NoError(t, ValidateNamespaces([]string{"sessions", "artifacts"}))

	err := ValidateNamespaces([]string{"ok", "../bad", "also bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "../bad")
	assert.Contains(t, err.Error(), "also bad")
}

// TestValidateName bounds length and bans control characters.
func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("before phase 3"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("   "))
	assert.Error(t, ValidateName("bad\x00name"))
	assert.Error(t, ValidateName(strings.Repeat("n", 129)))
}

// TestSanitizeName trims surrounding whitespace.
func TestSanitizeName(t *testing.T) {
	got, err := SanitizeName("  nightly checkpoint  ")
	require.NoError(t, err)
	assert.Equal(t, "nightly checkpoint", got)

	_, err = SanitizeName(" \t ")
	assert.Error(t, err)
}
