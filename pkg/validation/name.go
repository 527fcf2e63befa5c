// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for user-supplied names.
//
// Namespaces and checkpoint names end up in file paths and index keys;
// validating them at the entry points keeps traversal sequences and
// control characters out of the stores.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// namespacePattern matches valid namespace names: a leading letter,
// digit, or underscore (reserved namespaces like "_meta" start with an
// underscore), then letters, digits, underscores, hyphens, or dots.
// Max length 64.
var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]{0,63}$`)

// ValidateNamespace checks a namespace name.
//
// Example:
//
//	if err := validation.ValidateNamespace(ns); err != nil {
//	    return fmt.Errorf("invalid namespace: %w", err)
//	}
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("invalid namespace %q (1-64 letters, digits, underscores, hyphens, or dots)", namespace)
	}
	return nil
}

// ValidateNamespaces validates a list, reporting every invalid entry.
func ValidateNamespaces(namespaces []string) error {
	var invalid []string
	for _, ns := range namespaces {
		if err := ValidateNamespace(ns); err != nil {
			invalid = append(invalid, ns)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid namespaces: %v", invalid)
	}
	return nil
}

// ValidateName checks a free-form display name (checkpoint names,
// backup labels): printable, no control characters, max 128 runes.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len([]rune(trimmed)) > 128 {
		return fmt.Errorf("name exceeds 128 characters")
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("name contains control characters")
		}
	}
	return nil
}

// SanitizeName trims and validates a display name.
func SanitizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
