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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version    INTEGER NOT NULL,
	checksum   TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_records_namespace ON records(namespace);
`

// SQLiteStore persists records in a single SQLite database file.
//
// # Description
//
// Uses WAL mode for concurrent read access during writes and a single
// writer connection to avoid SQLITE_BUSY errors. Timestamps are stored
// as RFC 3339 strings with nanosecond precision.
//
// # Thread Safety
//
// Safe for concurrent use; SQLite serializes writers internally.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func scanRecord(row interface{ Scan(...any) error }, namespace, key string) (*Record, error) {
	var (
		rec                  Record
		createdAt, updatedAt string
	)
	rec.Namespace = namespace
	rec.Key = key
	err := row.Scan(&rec.Data, &createdAt, &updatedAt, &rec.Metadata.Version, &rec.Metadata.Checksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan record %s/%s: %w", namespace, key, err)
	}
	if rec.Metadata.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s/%s: %w", namespace, key, err)
	}
	if rec.Metadata.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s/%s: %w", namespace, key, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at, version, checksum
		 FROM records WHERE namespace = ? AND key = ?`, namespace, key)
	rec, err := scanRecord(row, namespace, key)
	if err != nil {
		return nil, err
	}
	if err := Verify(rec); err != nil {
		recordCorruption(ctx, namespace)
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, data []byte) (*Record, error) {
	prev, err := s.Get(ctx, namespace, key)
	if err != nil && err != ErrNotFound {
		// Overwrite a corrupted predecessor with fresh data.
		prev = nil
	}
	rec := nextRecord(prev, namespace, key, data, time.Now().UTC())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (namespace, key, data, created_at, updated_at, version, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			version = excluded.version,
			checksum = excluded.checksum`,
		namespace, key, rec.Data,
		rec.Metadata.CreatedAt.Format(time.RFC3339Nano),
		rec.Metadata.UpdatedAt.Format(time.RFC3339Nano),
		rec.Metadata.Version, rec.Metadata.Checksum)
	if err != nil {
		return nil, fmt.Errorf("write record %s/%s: %w", namespace, key, err)
	}
	recordWrite(ctx, namespace)
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return false, fmt.Errorf("delete record %s/%s: %w", namespace, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE namespace = ? AND key = ?`, namespace, key).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) List(ctx context.Context, namespace string, opts ListOptions) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data, created_at, updated_at, version, checksum
		 FROM records WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var (
			rec                  Record
			createdAt, updatedAt string
		)
		rec.Namespace = namespace
		if err := rows.Scan(&rec.Key, &rec.Data, &createdAt, &updatedAt,
			&rec.Metadata.Version, &rec.Metadata.Checksum); err != nil {
			return nil, fmt.Errorf("scan namespace %s: %w", namespace, err)
		}
		if rec.Metadata.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s/%s: %w", namespace, rec.Key, err)
		}
		if rec.Metadata.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at for %s/%s: %w", namespace, rec.Key, err)
		}
		if err := Verify(&rec); err != nil {
			recordCorruption(ctx, namespace)
			return nil, err
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyListOptions(recs, opts), nil
}

func (s *SQLiteStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count namespace %s: %w", namespace, err)
	}
	return n, nil
}

func (s *SQLiteStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM records ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		names = append(names, ns)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, namespace string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("clear namespace %s: %w", namespace, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) GetMany(ctx context.Context, namespace string, keys []string) (map[string]*Record, error) {
	return batchGet(ctx, s, namespace, keys)
}

func (s *SQLiteStore) SetMany(ctx context.Context, namespace string, entries map[string][]byte) ([]*Record, error) {
	return batchSet(ctx, s, namespace, entries)
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, namespace string, keys []string) (int, error) {
	return batchDelete(ctx, s, namespace, keys)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
