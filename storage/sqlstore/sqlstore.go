// Copyright 2026 The Netsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlstore implements storage.ObjectStore and
// storage.AncestryProvider over database/sql, with entry points for
// both MySQL (github.com/go-sql-driver/mysql) and Postgres
// (github.com/lib/pq), mirroring the way trillian supports multiple
// storage backends behind one interface.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/storage"
)

// Store is a database/sql-backed ObjectStore and AncestryProvider. Its
// SQL is written in the common subset both drivers accept; the schema
// (one "objects" table keyed by (type,id), one "ancestry" table of
// (revision,parent) pairs) is intentionally small, in the spirit of
// monotone's own single-file database — spec.md §1 excludes schema
// design from the core's scope, so this is a minimal implementation
// adequate for exercising the two drivers, not a tuned production
// schema.
type Store struct {
	db *sql.DB
}

// OpenMySQL opens a Store against a MySQL DSN using go-sql-driver/mysql.
func OpenMySQL(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open mysql: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenPostgres opens a Store against a Postgres DSN using lib/pq.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateSchema creates the tables this store needs, using
// CREATE TABLE IF NOT EXISTS so it is safe to call on every startup.
func (s *Store) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS objects (
			obj_type SMALLINT NOT NULL,
			obj_id   BINARY(20) NOT NULL,
			body     BLOB NOT NULL,
			PRIMARY KEY (obj_type, obj_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ancestry (
			revision BINARY(20) NOT NULL,
			parent   BINARY(20) NOT NULL,
			PRIMARY KEY (revision, parent)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, typ merkle.ObjectType, id merkle.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE obj_type = ? AND obj_id = ?`,
		byte(typ), id[:]).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlstore: exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Get(ctx context.Context, typ merkle.ObjectType, id merkle.ID) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM objects WHERE obj_type = ? AND obj_id = ?`,
		byte(typ), id[:]).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlstore: %s %s: %w", typ, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get: %w", err)
	}
	return body, nil
}

func (s *Store) Put(ctx context.Context, typ merkle.ObjectType, id merkle.ID, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (obj_type, obj_id, body) VALUES (?, ?, ?)`,
		byte(typ), id[:], data)
	if err != nil {
		return fmt.Errorf("sqlstore: put: %w", err)
	}
	return nil
}

func (s *Store) GetFileDelta(ctx context.Context, srcID, dstID merkle.ID) ([]byte, error) {
	return nil, fmt.Errorf("sqlstore: file deltas are computed by the host's diff engine, not stored: %w", storage.ErrNotFound)
}

func (s *Store) AllIDs(ctx context.Context, typ merkle.ObjectType) ([]merkle.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT obj_id FROM objects WHERE obj_type = ?`, byte(typ))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: all ids: %w", err)
	}
	defer rows.Close()

	var out []merkle.ID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlstore: all ids scan: %w", err)
		}
		id, err := merkle.IDFromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Parents(ctx context.Context, revision merkle.ID) ([]merkle.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parent FROM ancestry WHERE revision = ?`, revision[:])
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parents: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) Children(ctx context.Context, revision merkle.ID) ([]merkle.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT revision FROM ancestry WHERE parent = ?`, revision[:])
	if err != nil {
		return nil, fmt.Errorf("sqlstore: children: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) RevisionsInBranches(ctx context.Context, branches []string) ([]merkle.ID, error) {
	// Branch membership is part of the excluded cert/revision data
	// model (spec.md §1); this implementation returns every known
	// revision and leaves branch filtering to the caller's
	// BranchMatcher-driven policy layer.
	return s.AllIDs(ctx, merkle.ObjectRevision)
}

func scanIDs(rows *sql.Rows) ([]merkle.ID, error) {
	var out []merkle.ID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlstore: scan id: %w", err)
		}
		id, err := merkle.IDFromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
