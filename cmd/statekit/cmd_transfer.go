// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statekit/pkg/ux"
	"github.com/AleutianAI/statekit/pkg/validation"
	"github.com/AleutianAI/statekit/services/state/backup"
)

func runExport(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateNamespaces(exportNamespaces); err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	format := backup.Format(exportFormat)
	if format == "" {
		format = backup.Format(e.cfg.Backups.Format)
	}
	result, err := backup.Export(ctx, e.store, backup.ExportOptions{
		Namespaces: exportNamespaces,
		OutputPath: exportOutput,
		Format:     format,
	})
	if err != nil {
		return fmt.Errorf("export to %s: %w", exportOutput, err)
	}
	if !result.Success {
		return fmt.Errorf("export to %s: %s", exportOutput, result.Error)
	}
	ux.Success(fmt.Sprintf("exported %d records (%d namespaces, %d bytes) to %s",
		result.Records, len(result.Namespaces), result.Bytes, result.Path))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateNamespaces(importNamespaces); err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	result, err := backup.Import(ctx, e.store, backup.ImportOptions{
		FilePath:   importInput,
		Overwrite:  importOverwrite,
		Namespaces: importNamespaces,
		DryRun:     importDryRun,
	})
	if err != nil {
		return fmt.Errorf("import %s: %w (store unchanged records are kept; restore a backup if partially applied)", importInput, err)
	}
	if !result.Success {
		return fmt.Errorf("import %s: %s", importInput, result.Error)
	}
	summary := fmt.Sprintf("imported %d records, skipped %d existing", result.Imported, result.Skipped)
	if result.DryRun {
		summary = "dry run: would have " + summary
	}
	ux.Success(summary)
	return nil
}
