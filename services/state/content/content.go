// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package content implements content-addressable blob storage.
//
// Blobs are keyed by the SHA-256 of their bytes, so identical payloads
// are stored exactly once regardless of how many versions reference
// them. There is no caller-facing deletion: blobs are removed only by
// the version package's garbage collector, which is why Remove is part
// of the contract but documented as GC-only.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound reports a blob that does not exist for the given hash.
var ErrNotFound = errors.New("blob not found")

// HashBytes returns the SHA-256 hex digest used as the blob key.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is the content-addressable blob store contract.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Store interface {
	// Put stores data and returns its hash. Idempotent: re-putting
	// identical bytes is a no-op beyond the existence check.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the blob for hash, or ErrNotFound.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Has reports whether a blob exists for hash.
	Has(ctx context.Context, hash string) (bool, error)

	// Hashes returns every stored blob hash. Used by garbage collection.
	Hashes(ctx context.Context) ([]string, error)

	// Remove deletes the blob for hash. Reserved for garbage collection;
	// nothing else in the engine deletes content.
	Remove(ctx context.Context, hash string) error
}

// =============================================================================
// File-backed store
// =============================================================================

// FileStore stores one blob per file at <root>/content/<hash[:2]>/<hash>.
//
// The two-character prefix partitions blobs across 256 directories to
// bound directory fan-out.
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed blob store rooted at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("content store requires a path")
	}
	root := filepath.Join(path, "content")
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create content directory %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := HashBytes(data)
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil // Deduplicated: identical bytes already stored.
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return "", fmt.Errorf("write blob %s: %w", hash, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit blob %s: %w", hash, err)
	}
	return hash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(hash) < 2 {
		return nil, fmt.Errorf("hash %q: %w", hash, ErrNotFound)
	}
	data, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("hash %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	return data, nil
}

func (s *FileStore) Has(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(hash) < 2 {
		return false, nil
	}
	_, err := os.Stat(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) Hashes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefixes, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list content directory: %w", err)
	}
	var hashes []string
	for _, prefix := range prefixes {
		if !prefix.IsDir() {
			continue
		}
		blobs, err := os.ReadDir(filepath.Join(s.root, prefix.Name()))
		if err != nil {
			return nil, fmt.Errorf("list content prefix %s: %w", prefix.Name(), err)
		}
		for _, blob := range blobs {
			if blob.IsDir() {
				continue
			}
			hashes = append(hashes, blob.Name())
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (s *FileStore) Remove(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(hash) < 2 {
		return nil
	}
	if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", hash, err)
	}
	return nil
}

// =============================================================================
// In-memory store
// =============================================================================

// MemoryStore is a map-backed blob store for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := HashBytes(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}

func (s *MemoryStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("hash %s: %w", hash, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Has(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

func (s *MemoryStore) Hashes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make([]string, 0, len(s.blobs))
	for hash := range s.blobs {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (s *MemoryStore) Remove(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, hash)
	return nil
}
