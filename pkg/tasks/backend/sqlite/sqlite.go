// Copyright 2025 Tom Barlow
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

// Package sqlite provides a durable StorageBackend over a single SQLite
// file. It is the backend a long-running server process should use when
// tasks must survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcp-tasks/core/pkg/tasks"
)

var _ tasks.StorageBackend = (*Backend)(nil)

// Backend is a SQLite-backed StorageBackend. SQLite serializes writes at
// the database level, so the pool is capped at a single open connection to
// avoid SQLITE_BUSY storms under concurrent writers.
type Backend struct {
	db *sql.DB
}

// Config controls how the backend opens its database file.
type Config struct {
	// Path is the filesystem path to the SQLite database file. Use
	// ":memory:" for an ephemeral, process-local database.
	Path string
}

// Open opens (creating if necessary) the database at cfg.Path, applies
// pragmas, and runs migrations.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serializes writes; a single connection avoids lock contention
	// between the Go driver's own connection pool and SQLite's file lock.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA auto_vacuum = INCREMENTAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := b.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	version    INTEGER NOT NULL,
	expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_kv_records_expires_at ON kv_records(expires_at);
`
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) Get(ctx context.Context, key string) (tasks.VersionedRecord, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT payload, version FROM kv_records WHERE key = ?`, key)

	var rec tasks.VersionedRecord
	if err := row.Scan(&rec.Payload, &rec.Version); err != nil {
		if err == sql.ErrNoRows {
			return tasks.VersionedRecord{}, tasks.ErrNotFound
		}
		return tasks.VersionedRecord{}, &tasks.BackendError{Message: "get failed", Cause: err}
	}
	return rec, nil
}

// expiryEnvelope is the minimal shape cleanup needs to read out of an
// otherwise opaque payload, mirroring the memory backend's approach: the
// expires_at column exists purely so cleanup_expired can act without a
// full table scan and JSON decode of every row.
type expiryEnvelope struct {
	ExpiresAt *time.Time `json:"expiresAt"`
}

func expiresAtColumn(payload []byte) any {
	var env expiryEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.ExpiresAt == nil {
		return nil
	}
	return env.ExpiresAt.UTC().Format(time.RFC3339)
}

func (b *Backend) Put(ctx context.Context, key string, payload []byte) (uint64, error) {
	expiresAt := expiresAtColumn(payload)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv_records (key, payload, version, expires_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			payload = excluded.payload,
			version = kv_records.version + 1,
			expires_at = excluded.expires_at
	`, key, payload, expiresAt)
	if err != nil {
		return 0, &tasks.BackendError{Message: "put failed", Cause: err}
	}

	var version uint64
	row := b.db.QueryRowContext(ctx, `SELECT version FROM kv_records WHERE key = ?`, key)
	if err := row.Scan(&version); err != nil {
		return 0, &tasks.BackendError{Message: "put: read back version failed", Cause: err}
	}
	return version, nil
}

func (b *Backend) PutIfVersion(ctx context.Context, key string, payload []byte, expected uint64) (uint64, error) {
	expiresAt := expiresAtColumn(payload)
	res, err := b.db.ExecContext(ctx, `
		UPDATE kv_records
		SET payload = ?, version = version + 1, expires_at = ?
		WHERE key = ? AND version = ?
	`, payload, expiresAt, key, expected)
	if err != nil {
		return 0, &tasks.BackendError{Message: "put_if_version failed", Cause: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &tasks.BackendError{Message: "put_if_version: rows affected failed", Cause: err}
	}
	if affected == 0 {
		return 0, b.conflictError(ctx, key, expected)
	}

	var version uint64
	row := b.db.QueryRowContext(ctx, `SELECT version FROM kv_records WHERE key = ?`, key)
	if err := row.Scan(&version); err != nil {
		return 0, &tasks.BackendError{Message: "put_if_version: read back version failed", Cause: err}
	}
	return version, nil
}

// conflictError distinguishes "key never existed" (Actual=0) from "key
// exists at a different version" by re-reading the current version.
func (b *Backend) conflictError(ctx context.Context, key string, expected uint64) error {
	var actual uint64
	row := b.db.QueryRowContext(ctx, `SELECT version FROM kv_records WHERE key = ?`, key)
	if err := row.Scan(&actual); err != nil {
		if err != sql.ErrNoRows {
			return &tasks.BackendError{Message: "put_if_version: conflict lookup failed", Cause: err}
		}
		actual = 0
	}
	return &tasks.VersionConflictError{Key: key, Expected: expected, Actual: actual}
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM kv_records WHERE key = ?`, key)
	if err != nil {
		return false, &tasks.BackendError{Message: "delete failed", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &tasks.BackendError{Message: "delete: rows affected failed", Cause: err}
	}
	return affected > 0, nil
}

// escapeLike escapes SQLite LIKE metacharacters so a prefix scan can't be
// confused by literal "%" or "_" in a key.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (b *Backend) ListByPrefix(ctx context.Context, prefix string) ([]tasks.KeyedRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key, payload, version FROM kv_records
		WHERE key LIKE ? ESCAPE '\'
		ORDER BY key
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, &tasks.BackendError{Message: "list_by_prefix failed", Cause: err}
	}
	defer rows.Close()

	var out []tasks.KeyedRecord
	for rows.Next() {
		var kr tasks.KeyedRecord
		if err := rows.Scan(&kr.Key, &kr.Record.Payload, &kr.Record.Version); err != nil {
			return nil, &tasks.BackendError{Message: "list_by_prefix: scan failed", Cause: err}
		}
		out = append(out, kr)
	}
	if err := rows.Err(); err != nil {
		return nil, &tasks.BackendError{Message: "list_by_prefix: rows error", Cause: err}
	}
	return out, nil
}

func (b *Backend) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM kv_records WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, &tasks.BackendError{Message: "cleanup_expired failed", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &tasks.BackendError{Message: "cleanup_expired: rows affected failed", Cause: err}
	}
	return int(affected), nil
}
