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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/statekit/pkg/ux"
)

var (
	configPath string
	plainFlag  bool

	rootCmd = &cobra.Command{
		Use:   "statekit",
		Short: "Maintenance CLI for the statekit state engine",
		Long: `statekit manages a persistent, versioned state store: export and
import state, create and restore backups and checkpoints, apply and
roll back schema migrations, and garbage-collect unreferenced content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainFlag {
				ux.SetPlain(true)
			}
		},
	}

	// --- export / import ---
	exportOutput     string
	exportFormat     string
	exportNamespaces []string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export namespaces to a backup file",
		RunE:  runExport,
	}

	importInput      string
	importOverwrite  bool
	importDryRun     bool
	importNamespaces []string

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Import records from a backup file",
		RunE:  runImport,
	}

	// --- backups ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Manage managed backups in the configured backup directory",
	}
	backupCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a backup and enforce the retention limit",
		RunE:  runBackupCreate,
	}
	backupListCmd = &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE:  runBackupList,
	}
	backupRestoreOverwrite bool

	backupRestoreCmd = &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Restore a backup by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupRestore,
	}

	// --- migrations ---
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect, and roll back schema migrations",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations in version order",
		RunE:  runMigrateUp,
	}
	migrateStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and migration history",
		RunE:  runMigrateStatus,
	}
	migrateRollbackCmd = &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent completed migration",
		RunE:  runMigrateRollback,
	}

	// --- checkpoints ---
	checkpointName       string
	checkpointNamespaces []string

	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage engine-wide checkpoints",
	}
	checkpointCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Snapshot the given namespaces and all artifact heads",
		RunE:  runCheckpointCreate,
	}
	checkpointListCmd = &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE:  runCheckpointList,
	}
	checkpointRestoreCmd = &cobra.Command{
		Use:   "restore [checkpoint-id]",
		Short: "Restore namespaces and roll artifacts back to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointRestore,
	}

	// --- maintenance ---
	gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Remove content blobs no version references",
		Long: `Scans every version record and removes unreferenced content blobs.
Run only while no other process is writing versions.`,
		RunE: runGC,
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show store namespaces, record counts, and schema version",
		RunE:  runStatus,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (defaults to an in-memory store)")
	rootCmd.PersistentFlags().BoolVar(&plainFlag, "plain", false, "Disable styled output")

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Destination file (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "Export format: snapshot or streaming (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportNamespaces, "namespaces", nil, "Namespaces to export (default all)")
	_ = exportCmd.MarkFlagRequired("output")

	importCmd.Flags().StringVarP(&importInput, "input", "i", "", "Source file (required)")
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "Replace records that already exist")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Count what would change without writing")
	importCmd.Flags().StringSliceVar(&importNamespaces, "namespaces", nil, "Namespaces to import (default all)")
	_ = importCmd.MarkFlagRequired("input")

	backupRestoreCmd.Flags().BoolVar(&backupRestoreOverwrite, "overwrite", false, "Replace records that already exist")
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)

	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd, migrateRollbackCmd)

	checkpointCreateCmd.Flags().StringVar(&checkpointName, "name", "", "Checkpoint name (required)")
	checkpointCreateCmd.Flags().StringSliceVar(&checkpointNamespaces, "namespaces", nil, "Namespaces to snapshot")
	_ = checkpointCreateCmd.MarkFlagRequired("name")
	checkpointCmd.AddCommand(checkpointCreateCmd, checkpointListCmd, checkpointRestoreCmd)

	rootCmd.AddCommand(exportCmd, importCmd, backupCmd, migrateCmd, checkpointCmd, gcCmd, statusCmd)
}
