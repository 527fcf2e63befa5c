// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for store operations.
var meter = otel.Meter("statekit.record")

// Metrics for record store operations.
var (
	writesTotal      metric.Int64Counter
	corruptionsTotal metric.Int64Counter
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	cacheEvictions   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		writesTotal, err = meter.Int64Counter(
			"record_writes_total",
			metric.WithDescription("Total number of successful record writes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		corruptionsTotal, err = meter.Int64Counter(
			"record_corruptions_total",
			metric.WithDescription("Total number of checksum mismatches detected on read"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheHits, err = meter.Int64Counter(
			"record_cache_hits_total",
			metric.WithDescription("Total number of read cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"record_cache_misses_total",
			metric.WithDescription("Total number of read cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"record_cache_evictions_total",
			metric.WithDescription("Total number of read cache evictions"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordWrite(ctx context.Context, namespace string) {
	if initMetrics() != nil {
		return
	}
	writesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func recordCorruption(ctx context.Context, namespace string) {
	if initMetrics() != nil {
		return
	}
	corruptionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func recordCacheHit(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordCacheMiss(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordCacheEviction(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}
