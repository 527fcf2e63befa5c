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
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/statekit/services/state/lock"
)

// JSONFileStore persists one JSON file per record at
// <root>/state/<namespace>/<key>.
//
// # Description
//
// The file-backed reference implementation. Namespace and key are
// path-escaped so arbitrary strings are valid. Mutations take a
// directory-scoped advisory lock on the namespace directory first;
// after bounded retries the write proceeds without the lock (see the
// lock package for the documented weak guarantee).
//
// # Thread Safety
//
// Safe for concurrent use within a process. Cross-process writers are
// guarded only by the advisory lock.
type JSONFileStore struct {
	root  string // <path>/state
	locks *lock.DirLockManager
}

// NewJSONFileStore creates a store rooted at path. lockRetries bounds
// advisory lock attempts per write; zero uses the lock package default.
func NewJSONFileStore(path string, lockRetries int) (*JSONFileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonfile store requires a path")
	}
	root := filepath.Join(path, "state")
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", root, err)
	}

	cfg := lock.DefaultManagerConfig()
	if lockRetries > 0 {
		cfg.MaxRetries = lockRetries
	}
	locks, err := lock.NewDirLockManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("create lock manager: %w", err)
	}
	return &JSONFileStore{root: root, locks: locks}, nil
}

func (s *JSONFileStore) nsDir(namespace string) string {
	return filepath.Join(s.root, url.PathEscape(namespace))
}

func (s *JSONFileStore) recordPath(namespace, key string) string {
	return filepath.Join(s.nsDir(namespace), url.PathEscape(key))
}

func (s *JSONFileStore) readRecord(ctx context.Context, path, namespace, key string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record %s/%s: %w", namespace, key, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		recordCorruption(ctx, namespace)
		return nil, fmt.Errorf("%s/%s: unparseable record file: %w", namespace, key, ErrCorrupted)
	}
	if err := Verify(&rec); err != nil {
		recordCorruption(ctx, namespace)
		return nil, err
	}
	return &rec, nil
}

func (s *JSONFileStore) Get(ctx context.Context, namespace, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readRecord(ctx, s.recordPath(namespace, key), namespace, key)
}

func (s *JSONFileStore) Set(ctx context.Context, namespace, key string, data []byte) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := s.nsDir(namespace)
	held, err := s.locks.AcquireWithRetry(dir, fmt.Sprintf("set %s/%s", namespace, key))
	if err != nil {
		return nil, fmt.Errorf("lock namespace %s: %w", namespace, err)
	}
	if held {
		defer s.locks.Release(dir)
	}

	path := s.recordPath(namespace, key)
	// A missing or corrupted predecessor is treated as a first write:
	// the caller is supplying fresh data for this key.
	prev, _ := s.readRecord(ctx, path, namespace, key)

	rec := nextRecord(prev, namespace, key, data, time.Now().UTC())
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s/%s: %w", namespace, key, err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create namespace directory %s: %w", dir, err)
	}

	// Write-then-rename so a crash never leaves a half-written record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0640); err != nil {
		return nil, fmt.Errorf("write record %s/%s: %w", namespace, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("commit record %s/%s: %w", namespace, key, err)
	}
	recordWrite(ctx, namespace)
	return rec.Clone(), nil
}

func (s *JSONFileStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir := s.nsDir(namespace)
	held, err := s.locks.AcquireWithRetry(dir, fmt.Sprintf("delete %s/%s", namespace, key))
	if err != nil {
		return false, fmt.Errorf("lock namespace %s: %w", namespace, err)
	}
	if held {
		defer s.locks.Release(dir)
	}

	err = os.Remove(s.recordPath(namespace, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete record %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

func (s *JSONFileStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.recordPath(namespace, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *JSONFileStore) List(ctx context.Context, namespace string, opts ListOptions) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.nsDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list namespace %s: %w", namespace, err)
	}

	recs := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		key, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		rec, err := s.readRecord(ctx, filepath.Join(s.nsDir(namespace), entry.Name()), namespace, key)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return applyListOptions(recs, opts), nil
}

func (s *JSONFileStore) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.nsDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("count namespace %s: %w", namespace, err)
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		n++
	}
	return n, nil
}

func (s *JSONFileStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ns, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		names = append(names, ns)
	}
	sort.Strings(names)
	return names, nil
}

func (s *JSONFileStore) Clear(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir := s.nsDir(namespace)
	held, err := s.locks.AcquireWithRetry(dir, "clear "+namespace)
	if err != nil {
		return 0, fmt.Errorf("lock namespace %s: %w", namespace, err)
	}

	n, err := s.Count(ctx, namespace)
	if err != nil {
		if held {
			s.locks.Release(dir)
		}
		return 0, err
	}
	// Release before removing the directory: the lock file lives inside it.
	if held {
		s.locks.Release(dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("clear namespace %s: %w", namespace, err)
	}
	return n, nil
}

func (s *JSONFileStore) GetMany(ctx context.Context, namespace string, keys []string) (map[string]*Record, error) {
	return batchGet(ctx, s, namespace, keys)
}

func (s *JSONFileStore) SetMany(ctx context.Context, namespace string, entries map[string][]byte) ([]*Record, error) {
	return batchSet(ctx, s, namespace, entries)
}

func (s *JSONFileStore) DeleteMany(ctx context.Context, namespace string, keys []string) (int, error) {
	return batchDelete(ctx, s, namespace, keys)
}

// Close releases any held locks and stops the lock manager.
func (s *JSONFileStore) Close() error {
	return s.locks.Close()
}
