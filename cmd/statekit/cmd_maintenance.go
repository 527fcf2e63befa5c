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
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statekit/pkg/ux"
)

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	result, err := e.versions.GarbageCollect(ctx)
	if err != nil {
		return fmt.Errorf("gc: %w (no blobs were removed on error paths; referenced content is intact)", err)
	}
	ux.Success(fmt.Sprintf("gc: %d blobs scanned, %d referenced, %d removed",
		result.Scanned, result.Referenced, result.Removed))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	ux.Title("statekit status")
	ux.KeyValue("backend", e.cfg.Store.Backend)
	if e.cfg.Store.Path != "" {
		ux.KeyValue("path", e.cfg.Store.Path)
	}

	schema, err := e.migrations.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	ux.KeyValue("schema version", fmt.Sprintf("%d", schema))

	namespaces, err := e.store.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}
	sort.Strings(namespaces)

	total := 0
	for _, ns := range namespaces {
		count, err := e.store.Count(ctx, ns)
		if err != nil {
			return fmt.Errorf("count namespace %s: %w", ns, err)
		}
		total += count
		ux.Bullet(fmt.Sprintf("%-24s %d records", ns, count))
	}
	ux.KeyValue("total", fmt.Sprintf("%d records in %d namespaces", total, len(namespaces)))
	return nil
}
