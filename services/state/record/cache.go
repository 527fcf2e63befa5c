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
	"container/list"
	"context"
	"sync"
)

// DefaultCacheSize is the default bound for the read cache.
const DefaultCacheSize = 1024

// cachedStore wraps a Store with a bounded read cache.
//
// # Description
//
// Every successful mutating call inserts the written record into the
// cache so the common write-then-read pattern is served from memory.
// Eviction is least-recently-inserted (FIFO): entries are not promoted
// on read, so a hot entry still ages out once the cache fills. Delete
// and Clear invalidate their entries.
//
// # Thread Safety
//
// Safe for concurrent use.
type cachedStore struct {
	Store

	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion
}

type cacheEntry struct {
	key string
	rec *Record
}

// WithCache wraps s with a bounded read cache. size must be positive;
// non-positive values fall back to DefaultCacheSize.
func WithCache(s Store, size int) Store {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &cachedStore{
		Store:   s,
		maxSize: size,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func cacheKey(namespace, key string) string {
	// Namespaces and keys may contain anything except NUL, which the
	// jsonfile backend already forbids in paths.
	return namespace + "\x00" + key
}

func (c *cachedStore) Get(ctx context.Context, namespace, key string) (*Record, error) {
	c.mu.Lock()
	if elem, ok := c.entries[cacheKey(namespace, key)]; ok {
		rec := elem.Value.(*cacheEntry).rec.Clone()
		c.mu.Unlock()
		recordCacheHit(ctx)
		return rec, nil
	}
	c.mu.Unlock()
	recordCacheMiss(ctx)
	return c.Store.Get(ctx, namespace, key)
}

func (c *cachedStore) Set(ctx context.Context, namespace, key string, data []byte) (*Record, error) {
	rec, err := c.Store.Set(ctx, namespace, key, data)
	if err != nil {
		return nil, err
	}
	c.insert(ctx, rec)
	return rec, nil
}

func (c *cachedStore) SetMany(ctx context.Context, namespace string, entries map[string][]byte) ([]*Record, error) {
	recs, err := c.Store.SetMany(ctx, namespace, entries)
	for _, rec := range recs {
		c.insert(ctx, rec)
	}
	return recs, err
}

func (c *cachedStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	ok, err := c.Store.Delete(ctx, namespace, key)
	if err == nil {
		c.invalidate(namespace, key)
	}
	return ok, err
}

func (c *cachedStore) DeleteMany(ctx context.Context, namespace string, keys []string) (int, error) {
	n, err := c.Store.DeleteMany(ctx, namespace, keys)
	for _, key := range keys {
		c.invalidate(namespace, key)
	}
	return n, err
}

func (c *cachedStore) Clear(ctx context.Context, namespace string) (int, error) {
	n, err := c.Store.Clear(ctx, namespace)
	if err == nil {
		c.invalidateNamespace(namespace)
	}
	return n, err
}

func (c *cachedStore) insert(ctx context.Context, rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(rec.Namespace, rec.Key)
	if elem, ok := c.entries[key]; ok {
		// Overwrite in place; insertion order is unchanged.
		elem.Value.(*cacheEntry).rec = rec.Clone()
		return
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, rec: rec.Clone()})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
		recordCacheEviction(ctx)
	}
}

func (c *cachedStore) invalidate(namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[cacheKey(namespace, key)]; ok {
		c.order.Remove(elem)
		delete(c.entries, cacheKey(namespace, key))
	}
}

func (c *cachedStore) invalidateNamespace(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := namespace + "\x00"
	for key, elem := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
}
