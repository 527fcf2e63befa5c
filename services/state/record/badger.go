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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists records in an embedded BadgerDB.
//
// # Description
//
// Low-latency local persistence (~100µs access). Records are stored
// under a "ns\x00key" composite key with the full record JSON as the
// value; namespace scans use prefix iteration. BadgerDB's own value-log
// GC is left at defaults; engine-level blob GC lives in the version
// package and is unrelated.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (creating if necessary) a BadgerDB at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("badger store requires a path")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil) // Disable BadgerDB's internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(namespace, key string) []byte {
	return append(append([]byte(namespace), 0), []byte(key)...)
}

func badgerPrefix(namespace string) []byte {
	return append([]byte(namespace), 0)
}

func (s *BadgerStore) Get(ctx context.Context, namespace, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(namespace, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				recordCorruption(ctx, namespace)
				return fmt.Errorf("%s/%s: unparseable record value: %w", namespace, key, ErrCorrupted)
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if err := Verify(rec); err != nil {
		recordCorruption(ctx, namespace)
		return nil, err
	}
	return rec, nil
}

func (s *BadgerStore) Set(ctx context.Context, namespace, key string, data []byte) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev *Record
		item, err := txn.Get(badgerKey(namespace, key))
		if err == nil {
			_ = item.Value(func(val []byte) error {
				var r Record
				if json.Unmarshal(val, &r) == nil {
					prev = &r
				}
				return nil
			})
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rec = nextRecord(prev, namespace, key, data, time.Now().UTC())
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s/%s: %w", namespace, key, err)
		}
		return txn.Set(badgerKey(namespace, key), encoded)
	})
	if err != nil {
		return nil, err
	}
	recordWrite(ctx, namespace)
	return rec, nil
}

func (s *BadgerStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		k := badgerKey(namespace, key)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(k)
	})
	return existed, err
}

func (s *BadgerStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(namespace, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *BadgerStore) List(ctx context.Context, namespace string, opts ListOptions) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var recs []*Record
	prefix := badgerPrefix(namespace)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r Record
				if err := json.Unmarshal(val, &r); err != nil {
					recordCorruption(ctx, namespace)
					return fmt.Errorf("namespace %s: unparseable record value: %w", namespace, ErrCorrupted)
				}
				if err := Verify(&r); err != nil {
					recordCorruption(ctx, namespace)
					return err
				}
				recs = append(recs, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applyListOptions(recs, opts), nil
}

func (s *BadgerStore) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	prefix := badgerPrefix(namespace)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if i := bytes.IndexByte(k, 0); i >= 0 {
				seen[string(k[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for ns := range seen {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names, nil
}

func (s *BadgerStore) Clear(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// Collect keys first; deleting while iterating invalidates the iterator.
	var keys [][]byte
	prefix := badgerPrefix(namespace)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) }); err != nil {
			return 0, fmt.Errorf("clear namespace %s: %w", namespace, err)
		}
	}
	return len(keys), nil
}

func (s *BadgerStore) GetMany(ctx context.Context, namespace string, keys []string) (map[string]*Record, error) {
	return batchGet(ctx, s, namespace, keys)
}

func (s *BadgerStore) SetMany(ctx context.Context, namespace string, entries map[string][]byte) ([]*Record, error) {
	return batchSet(ctx, s, namespace, entries)
}

func (s *BadgerStore) DeleteMany(ctx context.Context, namespace string, keys []string) (int, error) {
	return batchDelete(ctx, s, namespace, keys)
}

// Close closes the underlying BadgerDB.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
