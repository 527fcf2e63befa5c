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
	"github.com/AleutianAI/statekit/pkg/validation"
	"github.com/AleutianAI/statekit/services/state/checkpoint"
)

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	name, err := validation.SanitizeName(checkpointName)
	if err != nil {
		return err
	}
	if err := validation.ValidateNamespaces(checkpointNamespaces); err != nil {
		return err
	}

	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	cp, err := e.checkpoints.Create(ctx, name, checkpointNamespaces)
	if err != nil {
		return fmt.Errorf("create checkpoint %q: %w", checkpointName, err)
	}
	ux.Success(fmt.Sprintf("checkpoint %s (%s) created: %d records, %d artifact heads",
		cp.ID, cp.Name, cp.Records, len(cp.ArtifactHeads)))
	return nil
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	checkpoints, err := e.checkpoints.List(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(checkpoints) == 0 {
		ux.Muted("no checkpoints")
		return nil
	}
	ux.Title(fmt.Sprintf("%d checkpoints", len(checkpoints)))
	for _, cp := range checkpoints {
		ux.Bullet(fmt.Sprintf("%s  %s  %q  %d records",
			cp.ID, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Name, cp.Records))
	}
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	id := args[0]
	result, err := e.checkpoints.Restore(ctx, id)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("checkpoint %s not found; run `statekit checkpoint list` for available ids", id)
		}
		return fmt.Errorf("restore checkpoint %s: %w (state may be partially restored; restore an earlier checkpoint)", id, err)
	}
	ux.Success(fmt.Sprintf("restored checkpoint %s: %d records, %d artifacts rolled back",
		result.CheckpointID, result.RecordsRestored, result.ArtifactsRolledBack))
	return nil
}
