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
	"errors"
	"strings"
	"testing"
	"time"

	"versemark/internal/domain"
)

type failingKV struct {
	getErr, setErr, delErr error
	inner                  *MemoryKV
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.inner.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, v []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.inner.Set(ctx, key, v)
}

func (f *failingKV) Delete(ctx context.Context, key string) error {
	if f.delErr != nil {
		return f.delErr
	}
	return f.inner.Delete(ctx, key)
}

func strp(s string) *string { return &s }

func sample() []domain.Highlight {
	t0 := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	return []domain.Highlight{
		domain.NewHighlight("a", domain.ColorBlue, "In the beginning", nil, nil, t0),
		domain.NewHighlight("b", domain.ColorPink, "Let there be light, \"quoted\"", strp("note, with comma"), []string{"x", "x", "Y"}, t0.Add(time.Hour)),
		domain.NewHighlight("c", domain.ColorOrange, "", strp(""), []string{}, t0.Add(2*time.Hour)),
	}
}

func assertSameSet(t *testing.T, got, want []domain.Highlight) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len mismatch: got %d want %d", len(got), len(want))
	}
	byID := map[string]domain.Highlight{}
	for _, h := range got {
		byID[h.UUID] = h
	}
	for _, w := range want {
		g, ok := byID[w.UUID]
		if !ok {
			t.Fatalf("missing %s", w.UUID)
		}
		if !g.Equal(w) {
			t.Fatalf("highlight %s differs:\n got %+v\nwant %+v", w.UUID, g, w)
		}
	}
}

func TestLoadEmptyStore(t *testing.T) {
	s := NewHighlightStore(NewMemoryKV())
	hs, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hs == nil || len(hs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", hs)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewHighlightStore(NewMemoryKV())
	want := sample()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameSet(t, got, want)

	if err := s.Save(ctx, nil); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty after saving empty, got %v %v", got, err)
	}
}

func TestWireFormat(t *testing.T) {
	kv := NewMemoryKV()
	s := NewHighlightStore(kv)
	h := domain.NewHighlight("a", domain.ColorGreen, "t", nil, nil, time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)))
	if err := s.Save(context.Background(), []domain.Highlight{h}); err != nil {
		t.Fatal(err)
	}
	b, _, _ := kv.Get(context.Background(), HighlightsKey)
	got := string(b)
	want := `[{"uuid":"a","color":"green","createdAt":"2024-01-02T02:04:05Z","updatedAt":"2024-01-02T02:04:05Z","text":"t","tags":[]}]`
	if got != want {
		t.Fatalf("wire format:\n got %s\nwant %s", got, want)
	}
}

func TestLoadMissingTagsDecodesEmpty(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Set(context.Background(), HighlightsKey, []byte(`[{"uuid":"a","color":"blue","createdAt":"2024-01-02T02:04:05Z","updatedAt":"2024-01-02T02:04:05Z","text":"t"}]`))
	hs, err := NewHighlightStore(kv).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hs[0].Tags == nil || len(hs[0].Tags) != 0 || hs[0].Note != nil {
		t.Fatalf("unexpected decode: %+v", hs[0])
	}
}

func TestLoadCorruptIsPersistenceError(t *testing.T) {
	cases := map[string]string{
		"garbage":   "not json",
		"bad color": `[{"uuid":"a","color":"red","createdAt":"2024-01-02T02:04:05Z","updatedAt":"2024-01-02T02:04:05Z","text":"t","tags":[]}]`,
		"bad time":  `[{"uuid":"a","color":"blue","createdAt":"yesterday","updatedAt":"2024-01-02T02:04:05Z","text":"t","tags":[]}]`,
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			kv := NewMemoryKV()
			_ = kv.Set(context.Background(), HighlightsKey, []byte(blob))
			_, err := NewHighlightStore(kv).Load(context.Background())
			if !errors.Is(err, domain.ErrPersistence) {
				t.Fatalf("expected persistence error, got %v", err)
			}
		})
	}
}

func TestBackendFailuresArePersistenceErrors(t *testing.T) {
	boom := errors.New("disk full")
	s := NewHighlightStore(&failingKV{setErr: boom, getErr: boom, inner: NewMemoryKV()})
	err := s.Save(context.Background(), sample())
	if !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, boom) {
		t.Fatalf("save: expected wrapped persistence error, got %v", err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("load: expected persistence error, got %v", err)
	}
	if _, err := s.HasPersistedData(context.Background()); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("has: expected persistence error, got %v", err)
	}
}

func TestAsyncMatchesSync(t *testing.T) {
	ctx := context.Background()
	s := NewHighlightStore(NewMemoryKV())
	want := sample()
	select {
	case err := <-s.SaveAsync(ctx, want):
		if err != nil {
			t.Fatalf("SaveAsync: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SaveAsync did not complete")
	}
	res := <-s.LoadAsync(ctx)
	if res.Err != nil {
		t.Fatalf("LoadAsync: %v", res.Err)
	}
	assertSameSet(t, res.Highlights, want)
}

func TestSaveAsyncSnapshotsInput(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewHighlightStore(kv)
	hs := sample()
	ch := s.SaveAsync(ctx, hs)
	hs[0].Tags = append(hs[0].Tags, "late")
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
	b, _, _ := kv.Get(ctx, HighlightsKey)
	if strings.Contains(string(b), "late") {
		t.Fatalf("async save observed a later mutation: %s", b)
	}
}

func TestMigrateIfNeeded(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewHighlightStore(kv)
	if v, err := s.StoredSchemaVersion(ctx); err != nil || v != 0 {
		t.Fatalf("absent version should be 0, got %d %v", v, err)
	}
	if err := s.MigrateIfNeeded(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if v, _ := s.StoredSchemaVersion(ctx); v != CurrentSchemaVersion {
		t.Fatalf("version after migrate = %d", v)
	}
	// idempotent
	if err := s.MigrateIfNeeded(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	// newer data is never downgraded
	_ = kv.Set(ctx, SchemaVersionKey, []byte("7"))
	if err := s.MigrateIfNeeded(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.StoredSchemaVersion(ctx); v != 7 {
		t.Fatalf("newer version changed to %d", v)
	}

	_ = kv.Set(ctx, SchemaVersionKey, []byte("seven"))
	if err := s.MigrateIfNeeded(ctx); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error for bad version, got %v", err)
	}
}

func TestMigrationStepFailureStopsBeforeVersionBump(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewHighlightStore(kv)
	s.migrations[1] = func(context.Context, KV) error { return errors.New("nope") }
	if err := s.MigrateIfNeeded(ctx); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, ok, _ := kv.Get(ctx, SchemaVersionKey); ok {
		t.Fatal("version must not advance when a step fails")
	}
}

func TestClearAllDataAndHasPersistedData(t *testing.T) {
	ctx := context.Background()
	s := NewHighlightStore(NewMemoryKV())
	if ok, _ := s.HasPersistedData(ctx); ok {
		t.Fatal("fresh store reports data")
	}
	_ = s.Save(ctx, sample())
	_ = s.MigrateIfNeeded(ctx)
	if ok, _ := s.HasPersistedData(ctx); !ok {
		t.Fatal("expected persisted data")
	}
	if err := s.ClearAllData(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasPersistedData(ctx); ok {
		t.Fatal("data remains after clear")
	}
	if v, _ := s.StoredSchemaVersion(ctx); v != 0 {
		t.Fatalf("schema version not cleared: %d", v)
	}
	// clearing twice is fine
	if err := s.ClearAllData(ctx); err != nil {
		t.Fatal(err)
	}
}
