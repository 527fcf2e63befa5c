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
	"github.com/AleutianAI/statekit/services/state/migrate"
)

func runMigrateUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	result, err := e.migrations.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, v := range result.Applied {
		ux.Bullet(fmt.Sprintf("applied migration %d", v))
	}
	if !result.Success() {
		return fmt.Errorf("migration %d failed: %s (earlier migrations stay applied; fix the cause and rerun, or run migrate rollback)", result.Failed, result.Error)
	}
	if len(result.Applied) == 0 {
		ux.Muted("no pending migrations")
		return nil
	}
	schema, err := e.migrations.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	ux.Success(fmt.Sprintf("applied %d migration(s); schema version is now %d", len(result.Applied), schema))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	schema, err := e.migrations.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	attempts, err := e.migrations.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration history: %w", err)
	}

	ux.KeyValue("schema version", fmt.Sprintf("%d", schema))
	if len(attempts) == 0 {
		ux.Muted("no migrations recorded")
		return nil
	}
	for _, a := range attempts {
		line := fmt.Sprintf("%06d  %-12s  %s", a.Version, a.Status, a.Name)
		switch a.Status {
		case migrate.StatusFailed:
			ux.Bullet(line + "  error: " + a.Error)
		default:
			ux.Bullet(line)
		}
	}
	return nil
}

func runMigrateRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	rolledBack, err := e.migrations.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback: %w (state unchanged; if the migration is no longer registered, restore from a backup instead)", err)
	}
	schema, err := e.migrations.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	ux.Success(fmt.Sprintf("rolled back migration %d; schema version is now %d", rolledBack, schema))
	return nil
}
