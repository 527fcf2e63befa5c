// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/statekit/services/state/record"
)

// ErrSkipRecord is the sentinel a transform function returns to leave
// a record untouched.
var ErrSkipRecord = errors.New("skip record")

// Context is the explicit dependency bundle handed to each migration's
// Up and Down routine. Constructed fresh per run; migrations must not
// retain it.
type Context struct {
	Store  record.Store
	Logger *slog.Logger
}

// indexer is the optional store capability behind the index hooks.
// None of the embedded backends implement it; the hooks exist so a
// remote-adapter backend can.
type indexer interface {
	CreateIndex(ctx context.Context, namespace, field string) error
	DropIndex(ctx context.Context, namespace, field string) error
}

// TransformNamespace rewrites every record in a namespace through fn.
//
// # Description
//
// Reads each record, applies fn to its payload, and writes the result
// back. Returning ErrSkipRecord leaves that record unchanged; any
// other error aborts the transform mid-namespace (records already
// rewritten stay rewritten, per the batch non-atomicity contract).
//
// # Outputs
//
//   - int: The number of records rewritten.
//   - error: Non-nil on the first non-sentinel failure.
func (c *Context) TransformNamespace(ctx context.Context, namespace string, fn func(key string, data []byte) ([]byte, error)) (int, error) {
	recs, err := c.Store.List(ctx, namespace, record.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("transform namespace %s: %w", namespace, err)
	}
	transformed := 0
	for _, rec := range recs {
		next, err := fn(rec.Key, rec.Data)
		if err != nil {
			if errors.Is(err, ErrSkipRecord) {
				continue
			}
			return transformed, fmt.Errorf("transform %s/%s: %w", namespace, rec.Key, err)
		}
		if _, err := c.Store.Set(ctx, namespace, rec.Key, next); err != nil {
			return transformed, fmt.Errorf("rewrite %s/%s: %w", namespace, rec.Key, err)
		}
		transformed++
	}
	return transformed, nil
}

// CreateIndex asks the backend to index a field. A no-op on backends
// without index support.
func (c *Context) CreateIndex(ctx context.Context, namespace, field string) error {
	if ix, ok := c.Store.(indexer); ok {
		return ix.CreateIndex(ctx, namespace, field)
	}
	c.Logger.Debug("create index ignored by backend", "namespace", namespace, "field", field)
	return nil
}

// DropIndex is the inverse of CreateIndex, with the same no-op rule.
func (c *Context) DropIndex(ctx context.Context, namespace, field string) error {
	if ix, ok := c.Store.(indexer); ok {
		return ix.DropIndex(ctx, namespace, field)
	}
	c.Logger.Debug("drop index ignored by backend", "namespace", namespace, "field", field)
	return nil
}
