// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record implements the namespaced record store that backs every
// other part of the state engine.
//
// A record is a (namespace, key) pair with an opaque payload and metadata:
// a version counter that increments by exactly one on every successful
// write, created/updated timestamps, and a SHA-256 checksum of the payload
// that is re-verified on every read. A checksum mismatch is surfaced as
// ErrCorrupted, never as a silent read.
//
// Four backends satisfy the same Store contract:
//
//	memory   - map-backed, for tests and ephemeral sessions
//	jsonfile - one file per record at state/<namespace>/<key>
//	sqlite   - single-file SQLite database (WAL mode)
//	badger   - embedded BadgerDB for low-latency local persistence
//
// Backend selection is a pure mapping from a configuration tag to a
// constructed instance; see Open and Registry.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Reserved namespaces used by the engine itself.
const (
	// MetaNamespace holds engine-level pointers such as the schema version.
	MetaNamespace = "_meta"

	// MigrationsNamespace holds one record per migration attempt.
	MigrationsNamespace = "_migrations"
)

// Sentinel errors for the store contract.
var (
	// ErrNotFound reports a record that does not exist. Absence is a normal
	// condition for Get; callers that can treat it as valid should check
	// with errors.Is rather than failing hard.
	ErrNotFound = errors.New("record not found")

	// ErrCorrupted reports a stored checksum that disagrees with the
	// recomputed checksum of the payload. Unlike ErrNotFound this means a
	// previously valid record is now invalid.
	ErrCorrupted = errors.New("record corrupted")

	// ErrClosed reports an operation against a closed store.
	ErrClosed = errors.New("store closed")
)

// Metadata carries the bookkeeping attached to every record.
type Metadata struct {
	// CreatedAt is set on the first write and preserved on overwrites.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is set on every successful write.
	UpdatedAt time.Time `json:"updated_at"`

	// Version starts at 1 and increments by exactly 1 per write.
	Version int `json:"version"`

	// Checksum is the SHA-256 hex digest of Data, verified on read.
	Checksum string `json:"checksum"`
}

// Record is a single namespaced key/value entry.
//
// Data is opaque to the store: the engine stores JSON documents in it, but
// nothing in this package inspects the payload beyond checksumming.
type Record struct {
	Namespace string   `json:"namespace"`
	Key       string   `json:"key"`
	Data      []byte   `json:"data"`
	Metadata  Metadata `json:"metadata"`
}

// Clone returns a deep copy so callers can't mutate store-owned state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Data = append([]byte(nil), r.Data...)
	return &cp
}

// Checksum computes the SHA-256 hex digest used for record checksums.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the checksum of r.Data and compares it to the stored
// one. Returns ErrCorrupted (wrapped with namespace and key) on mismatch.
func Verify(r *Record) error {
	if got := Checksum(r.Data); got != r.Metadata.Checksum {
		return fmt.Errorf("%s/%s: stored %s, computed %s: %w",
			r.Namespace, r.Key, r.Metadata.Checksum, got, ErrCorrupted)
	}
	return nil
}

// nextRecord builds the successor record for a write, preserving CreatedAt
// and incrementing the version counter. prev may be nil for a first write.
func nextRecord(prev *Record, namespace, key string, data []byte, now time.Time) *Record {
	rec := &Record{
		Namespace: namespace,
		Key:       key,
		Data:      append([]byte(nil), data...),
		Metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
			Checksum:  Checksum(data),
		},
	}
	if prev != nil {
		rec.Metadata.CreatedAt = prev.Metadata.CreatedAt
		rec.Metadata.Version = prev.Metadata.Version + 1
	}
	return rec
}

// OrderBy selects the sort field for List.
type OrderBy string

const (
	OrderByCreatedAt OrderBy = "created_at"
	OrderByUpdatedAt OrderBy = "updated_at"
	// OrderByKey sorts by record key (the record's identity within a
	// namespace).
	OrderByKey OrderBy = "key"
)

// OrderDir selects ascending or descending order for List.
type OrderDir string

const (
	OrderAsc  OrderDir = "asc"
	OrderDesc OrderDir = "desc"
)

// ListOptions narrows and orders a namespace listing.
//
// The zero value lists the whole namespace ordered by key ascending.
type ListOptions struct {
	// Prefix filters to keys with this prefix. Empty matches all keys.
	Prefix string

	// Limit caps the number of returned records. Zero means no limit.
	Limit int

	// Offset skips this many records after ordering.
	Offset int

	// OrderBy selects the sort field. Empty defaults to OrderByKey.
	OrderBy OrderBy

	// OrderDir selects the direction. Empty defaults to OrderAsc.
	OrderDir OrderDir
}
