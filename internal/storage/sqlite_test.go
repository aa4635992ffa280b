/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteKVBasics(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kv, err := OpenSQLiteKV(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteKV: %v", err)
	}
	defer kv.Close()
	if v, err := kv.SchemaVersion(ctx); err != nil || v != sqliteSchemaVersion {
		t.Fatalf("schema version = %d, %v", v, err)
	}
	if _, ok, err := kv.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
	if err := kv.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatal(err)
	}
	b, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok || string(b) != "two" {
		t.Fatalf("Get = %q %v %v", b, ok, err)
	}
	if err := kv.Set(ctx, "empty", nil); err != nil {
		t.Fatal(err)
	}
	if b, ok, _ := kv.Get(ctx, "empty"); !ok || len(b) != 0 {
		t.Fatalf("empty value: %q %v", b, ok)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("still present after delete")
	}
}

func TestSQLiteKVPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kv, err := OpenSQLiteKV(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := sample()
	if err := NewHighlightStore(kv).Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	_ = kv.Close()

	kv2, err := OpenSQLiteKV(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer kv2.Close()
	got, err := NewHighlightStore(kv2).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSameSet(t, got, want)
}

// An older database at schema 1 is migrated forward and keeps its rows.
func TestSQLiteMigratesV1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SQLiteFileName)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(2000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL, app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version(id, schema, app, created_at, updated_at) VALUES(1, 1, 'test', '2020-01-01T00:00:00Z', '2020-01-01T00:00:00Z');`,
		`CREATE TABLE kv (key TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO kv(key, value, updated_at) VALUES('k', X'6869', '2020-01-01T00:00:00Z');`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed v1 schema: %v (q=%s)", err, q)
		}
	}
	_ = db.Close()

	kv, err := OpenSQLiteKV(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteKV: %v", err)
	}
	defer kv.Close()
	if v, _ := kv.SchemaVersion(ctx); v != 2 {
		t.Fatalf("schema after migration = %d, want 2", v)
	}
	var n int
	if err := kv.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_kv_updated'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected idx_kv_updated, n=%d err=%v", n, err)
	}
	b, ok, _ := kv.Get(ctx, "k")
	if !ok || string(b) != "hi" {
		t.Fatalf("row lost in migration: %q %v", b, ok)
	}
}

func TestOpenSQLiteKVRequiresDir(t *testing.T) {
	if _, err := OpenSQLiteKV(""); err == nil {
		t.Fatal("expected error")
	}
}
