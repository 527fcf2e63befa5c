// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package version

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/statekit/services/state/record"
)

// GCResult summarizes one garbage-collection pass.
type GCResult struct {
	// Referenced is the number of distinct blob hashes still reachable
	// from version records.
	Referenced int `json:"referenced"`

	// Scanned is the total number of blobs examined.
	Scanned int `json:"scanned"`

	// Removed is the number of unreferenced blobs deleted.
	Removed int `json:"removed"`
}

// GarbageCollect deletes every blob not referenced by a version record.
//
// # Description
//
// Mark phase collects the hash set referenced by version records and
// the full blob inventory concurrently; sweep phase removes blobs
// outside the referenced set. Not transactionally consistent with
// concurrent CreateVersion calls: a blob written between mark and sweep
// can be deleted before its version record lands. Run only inside a
// maintenance window with no version creation in flight.
func (m *Manager) GarbageCollect(ctx context.Context) (*GCResult, error) {
	var (
		referenced map[string]struct{}
		all        []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := m.records.List(gctx, Namespace, record.ListOptions{})
		if err != nil {
			return fmt.Errorf("scan version records: %w", err)
		}
		referenced = make(map[string]struct{}, len(recs))
		for _, rec := range recs {
			v, err := decode(rec)
			if err != nil {
				return err
			}
			referenced[v.ContentHash] = struct{}{}
		}
		return nil
	})
	g.Go(func() error {
		hashes, err := m.blobs.Hashes(gctx)
		if err != nil {
			return fmt.Errorf("scan blobs: %w", err)
		}
		all = hashes
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &GCResult{Referenced: len(referenced), Scanned: len(all)}
	for _, hash := range all {
		if _, ok := referenced[hash]; ok {
			continue
		}
		if err := m.blobs.Remove(ctx, hash); err != nil {
			return result, fmt.Errorf("sweep blob %s: %w", hash, err)
		}
		result.Removed++
	}
	m.logger.Info("garbage collection complete",
		"referenced", result.Referenced,
		"scanned", result.Scanned,
		"removed", result.Removed)
	return result, nil
}
