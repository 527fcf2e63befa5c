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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the record store contract shared by all backends.
//
// # Description
//
// Namespaced key/value persistence with per-record metadata. Every
// successful write increments the record's version counter and recomputes
// its checksum; every read re-verifies the checksum and reports
// ErrCorrupted on mismatch.
//
// Batch variants apply per-key semantics independently: there is no
// cross-key atomicity, and a partial failure leaves earlier keys written.
//
// # Thread Safety
//
// All implementations are safe for concurrent use within a single
// process. Cross-process safety is backend-dependent (the jsonfile
// backend uses advisory directory locks, see the lock package).
type Store interface {
	// Get returns the record at (namespace, key), or ErrNotFound.
	Get(ctx context.Context, namespace, key string) (*Record, error)

	// Set creates or overwrites the record, incrementing its version and
	// preserving the original CreatedAt. Returns the stored record.
	Set(ctx context.Context, namespace, key string, data []byte) (*Record, error)

	// Delete removes the record. Returns false if it did not exist.
	Delete(ctx context.Context, namespace, key string) (bool, error)

	// Exists reports whether the record exists without reading its payload.
	Exists(ctx context.Context, namespace, key string) (bool, error)

	// List returns records in a namespace, filtered and ordered per opts.
	List(ctx context.Context, namespace string, opts ListOptions) ([]*Record, error)

	// Count returns the number of records in a namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// Namespaces returns every namespace that currently holds records.
	Namespaces(ctx context.Context) ([]string, error)

	// Clear removes every record in a namespace and returns the count.
	Clear(ctx context.Context, namespace string) (int, error)

	// GetMany returns the records that exist for the given keys. Missing
	// keys are omitted from the result, not errors.
	GetMany(ctx context.Context, namespace string, keys []string) (map[string]*Record, error)

	// SetMany writes each entry independently. On error the returned slice
	// holds the records written so far.
	SetMany(ctx context.Context, namespace string, entries map[string][]byte) ([]*Record, error)

	// DeleteMany deletes each key independently and returns the number
	// actually removed.
	DeleteMany(ctx context.Context, namespace string, keys []string) (int, error)

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}

// Backend is the configuration tag that selects a Store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendJSONFile Backend = "jsonfile"
	BackendSQLite   Backend = "sqlite"
	BackendBadger   Backend = "badger"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Backend selects the implementation. Default: BackendMemory.
	Backend Backend

	// Path is the data directory (jsonfile, badger) or database file
	// (sqlite). Required for every backend except memory.
	Path string

	// CacheSize bounds the in-memory read cache. Zero disables caching.
	CacheSize int

	// LockRetries bounds advisory lock acquisition attempts for the
	// jsonfile backend before degrading to an unlocked write.
	LockRetries int
}

// Open constructs a Store from configuration.
//
// # Description
//
// Pure mapping from a backend tag to a constructed instance; no runtime
// type inspection. When cfg.CacheSize is positive the returned store is
// wrapped with the bounded read cache.
//
// # Outputs
//
//   - Store: Ready-to-use store. Caller must Close it.
//   - error: Non-nil for an unknown backend tag or backend setup failure.
func Open(cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case BackendMemory, "":
		s = NewMemoryStore()
	case BackendJSONFile:
		s, err = NewJSONFileStore(cfg.Path, cfg.LockRetries)
	case BackendSQLite:
		s, err = NewSQLiteStore(cfg.Path)
	case BackendBadger:
		s, err = NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		s = WithCache(s, cfg.CacheSize)
	}
	return s, nil
}

// Registry is an explicit get-or-create store registry keyed by name.
//
// # Description
//
// Replaces the usual global singleton factory: construct one Registry at
// process start and pass it to the components that need named stores.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	stores map[string]Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// GetOrCreate returns the store registered under name, constructing it
// from cfg on first use.
func (r *Registry) GetOrCreate(name string, cfg Config) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	s, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	r.stores[name] = s
	return s, nil
}

// Get returns the store registered under name, or nil.
func (r *Registry) Get(name string) Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stores[name]
}

// CloseAll closes every registered store and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store %q: %w", name, err)
		}
		delete(r.stores, name)
	}
	return firstErr
}

// applyListOptions filters, orders, and pages an in-memory record slice.
// Shared by backends that materialize a namespace before listing.
func applyListOptions(recs []*Record, opts ListOptions) []*Record {
	out := recs
	if opts.Prefix != "" {
		out = out[:0:0]
		for _, r := range recs {
			if strings.HasPrefix(r.Key, opts.Prefix) {
				out = append(out, r)
			}
		}
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = OrderByKey
	}
	desc := opts.OrderDir == OrderDesc
	sort.SliceStable(out, func(i, j int) bool {
		var less bool
		switch orderBy {
		case OrderByCreatedAt:
			less = out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt)
		case OrderByUpdatedAt:
			less = out[i].Metadata.UpdatedAt.Before(out[j].Metadata.UpdatedAt)
		default:
			less = out[i].Key < out[j].Key
		}
		if desc {
			return !less && !equalOrderKey(out[i], out[j], orderBy)
		}
		return less
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

func equalOrderKey(a, b *Record, orderBy OrderBy) bool {
	switch orderBy {
	case OrderByCreatedAt:
		return a.Metadata.CreatedAt.Equal(b.Metadata.CreatedAt)
	case OrderByUpdatedAt:
		return a.Metadata.UpdatedAt.Equal(b.Metadata.UpdatedAt)
	default:
		return a.Key == b.Key
	}
}
