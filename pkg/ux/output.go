// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the statekit CLI.
//
// Output degrades automatically: when stdout is not a terminal, or
// NO_COLOR is set, every helper emits plain prefixed text suitable for
// scripting.
package ux

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

const (
	iconSuccess = "✓"
	iconWarning = "⚠"
	iconError   = "✗"
	iconBullet  = "•"
)

var (
	plainMode     bool
	plainModeOnce sync.Once
	plainModeMu   sync.RWMutex
)

// Plain reports whether output should skip styling.
func Plain() bool {
	plainModeOnce.Do(func() {
		plainModeMu.Lock()
		defer plainModeMu.Unlock()
		if os.Getenv("NO_COLOR") != "" {
			plainMode = true
			return
		}
		fd := os.Stdout.Fd()
		plainMode = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	})
	plainModeMu.RLock()
	defer plainModeMu.RUnlock()
	return plainMode
}

// SetPlain overrides terminal detection, e.g. for a --plain flag.
func SetPlain(v bool) {
	plainModeOnce.Do(func() {})
	plainModeMu.Lock()
	plainMode = v
	plainModeMu.Unlock()
}

// Title prints a styled section title.
func Title(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success line with a checkmark.
func Success(text string) {
	if Plain() {
		fmt.Printf("OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Success.Render(iconSuccess), Styles.Success.Render(text))
}

// Warning prints a warning line.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Warning.Render(iconWarning), Styles.Warning.Render(text))
}

// Error prints an error line.
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Error.Render(iconError), Styles.Error.Render(text))
}

// Info prints an informational line.
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text.
func Muted(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Bullet prints a list item.
func Bullet(text string) {
	if Plain() {
		fmt.Printf("- %s\n", text)
		return
	}
	fmt.Printf("  %s %s\n", Styles.Subtitle.Render(iconBullet), text)
}

// KeyValue prints an aligned "key: value" detail line.
func KeyValue(key, value string) {
	if Plain() {
		fmt.Printf("%s: %s\n", key, value)
		return
	}
	fmt.Printf("  %s %s\n", Styles.Muted.Render(key+":"), value)
}

// Box prints titled content in a rounded box.
func Box(title, content string) {
	if Plain() {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	fmt.Println(boxStyle.Render(Styles.Title.Render(title) + "\n" + content))
}
