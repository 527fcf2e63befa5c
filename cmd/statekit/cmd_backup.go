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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statekit/pkg/ux"
	"github.com/AleutianAI/statekit/services/state/backup"
)

func runBackupCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	info, err := e.backups.Create(ctx)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	ux.Success(fmt.Sprintf("backup %s created: %d records, %d bytes", info.ID, info.Records, info.SizeBytes))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	backups, err := e.backups.List()
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	if len(backups) == 0 {
		ux.Muted("no backups")
		return nil
	}
	ux.Title(fmt.Sprintf("%d backups in %s", len(backups), e.cfg.Backups.Dir))
	for _, b := range backups {
		ux.Bullet(fmt.Sprintf("%s  %s  %d records  %d bytes",
			b.ID, b.CreatedAt.Format("2006-01-02 15:04:05"), b.Records, b.SizeBytes))
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	id := args[0]
	result, err := e.backups.Restore(ctx, id, backupRestoreOverwrite)
	if err != nil {
		if errors.Is(err, backup.ErrBackupNotFound) {
			return fmt.Errorf("backup %s not found; run `statekit backup list` for available ids", id)
		}
		return fmt.Errorf("restore backup %s: %w", id, err)
	}
	if !result.Success {
		return fmt.Errorf("restore backup %s: %s (store may be partially restored; retry or restore an earlier backup)", id, result.Error)
	}
	ux.Success(fmt.Sprintf("restored backup %s: %d records imported, %d skipped", id, result.Imported, result.Skipped))
	return nil
}
