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
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store for tests and ephemeral sessions.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	spaces map[string]map[string]*Record
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spaces: make(map[string]map[string]*Record)}
}

func (m *MemoryStore) Get(ctx context.Context, namespace, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.spaces[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	if err := Verify(rec); err != nil {
		recordCorruption(ctx, namespace)
		return nil, err
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, namespace, key string, data []byte) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	space, ok := m.spaces[namespace]
	if !ok {
		space = make(map[string]*Record)
		m.spaces[namespace] = space
	}
	rec := nextRecord(space[key], namespace, key, data, time.Now().UTC())
	space[key] = rec
	recordWrite(ctx, namespace)
	return rec.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	space := m.spaces[namespace]
	if _, ok := space[key]; !ok {
		return false, nil
	}
	delete(space, key)
	if len(space) == 0 {
		delete(m.spaces, namespace)
	}
	return true, nil
}

func (m *MemoryStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.spaces[namespace][key]
	return ok, nil
}

func (m *MemoryStore) List(ctx context.Context, namespace string, opts ListOptions) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	space := m.spaces[namespace]
	recs := make([]*Record, 0, len(space))
	for _, rec := range space {
		if err := Verify(rec); err != nil {
			recordCorruption(ctx, namespace)
			return nil, err
		}
		recs = append(recs, rec.Clone())
	}
	return applyListOptions(recs, opts), nil
}

func (m *MemoryStore) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.spaces[namespace]), nil
}

func (m *MemoryStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(m.spaces))
	for ns := range m.spaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Clear(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := len(m.spaces[namespace])
	delete(m.spaces, namespace)
	return n, nil
}

func (m *MemoryStore) GetMany(ctx context.Context, namespace string, keys []string) (map[string]*Record, error) {
	return batchGet(ctx, m, namespace, keys)
}

func (m *MemoryStore) SetMany(ctx context.Context, namespace string, entries map[string][]byte) ([]*Record, error) {
	return batchSet(ctx, m, namespace, entries)
}

func (m *MemoryStore) DeleteMany(ctx context.Context, namespace string, keys []string) (int, error) {
	return batchDelete(ctx, m, namespace, keys)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.spaces = nil
	return nil
}

// =============================================================================
// Shared batch helpers
// =============================================================================

// Batch variants deliberately apply per-key semantics: no cross-key
// atomicity, and a mid-batch failure leaves earlier keys written.

func batchGet(ctx context.Context, s Store, namespace string, keys []string) (map[string]*Record, error) {
	out := make(map[string]*Record, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, namespace, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return out, err
		}
		out[key] = rec
	}
	return out, nil
}

func batchSet(ctx context.Context, s Store, namespace string, entries map[string][]byte) ([]*Record, error) {
	// Deterministic order so partial failures are reproducible.
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*Record, 0, len(entries))
	for _, key := range keys {
		rec, err := s.Set(ctx, namespace, key, entries[key])
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func batchDelete(ctx context.Context, s Store, namespace string, keys []string) (int, error) {
	deleted := 0
	for _, key := range keys {
		ok, err := s.Delete(ctx, namespace, key)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
