// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command statekit is the maintenance CLI for the state engine.
//
// Usage:
//
//	statekit --config statekit.yaml status
//	statekit --config statekit.yaml export --output state.json
//	statekit --config statekit.yaml backup create
//	statekit --config statekit.yaml gc
//
// Every command prints a one-line summary; failures name the item that
// failed and, where one exists, a remediation. There are no interactive
// prompts, so every command is safe to script.
package main

import (
	"os"

	"github.com/AleutianAI/statekit/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
