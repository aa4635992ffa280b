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
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"versemark/internal/domain"
	applog "versemark/internal/log"
)

const (
	// HighlightsKey holds the whole collection as one JSON array.
	HighlightsKey = "versemark.savedHighlights"
	// SchemaVersionKey holds the decimal schema version of HighlightsKey.
	SchemaVersionKey = "versemark.highlightsSchemaVersion"

	// CurrentSchemaVersion is the version MigrateIfNeeded brings storage up to.
	CurrentSchemaVersion = 1
)

// record is the persisted shape of a highlight. Timestamps are ISO-8601 in UTC.
type record struct {
	UUID      string   `json:"uuid"`
	Color     string   `json:"color"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
	Text      string   `json:"text"`
	Note      *string  `json:"note,omitempty"`
	Tags      []string `json:"tags"`
}

func toRecord(h domain.Highlight) record {
	tags := h.Tags
	if tags == nil {
		tags = []string{}
	}
	return record{
		UUID:      h.UUID,
		Color:     string(h.Color),
		CreatedAt: h.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: h.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Text:      h.Text,
		Note:      h.Note,
		Tags:      tags,
	}
}

func fromRecord(r record) (domain.Highlight, error) {
	c, err := domain.ParseColor(r.Color)
	if err != nil {
		return domain.Highlight{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return domain.Highlight{}, fmt.Errorf("createdAt: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return domain.Highlight{}, fmt.Errorf("updatedAt: %w", err)
	}
	h := domain.Highlight{
		UUID:      r.UUID,
		Color:     c,
		Text:      r.Text,
		Note:      r.Note,
		Tags:      r.Tags,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
	}
	return h.Clone(), nil
}

// EncodeHighlights renders hs in the persisted wire format.
func EncodeHighlights(hs []domain.Highlight) ([]byte, error) {
	recs := make([]record, 0, len(hs))
	for _, h := range hs {
		recs = append(recs, toRecord(h))
	}
	return json.Marshal(recs)
}

// DecodeHighlights parses the persisted wire format. Any malformed record
// fails the whole decode.
func DecodeHighlights(b []byte) ([]domain.Highlight, error) {
	var recs []record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, err
	}
	out := make([]domain.Highlight, 0, len(recs))
	for i, r := range recs {
		h, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, r.UUID, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// LoadResult is delivered by LoadAsync.
type LoadResult struct {
	Highlights []domain.Highlight
	Err        error
}

// MigrationStep upgrades stored data from version-1 to version.
type MigrationStep func(ctx context.Context, kv KV) error

// HighlightStore persists the highlight collection as a single blob in a KV.
type HighlightStore struct {
	kv         KV
	migrations map[int]MigrationStep
}

// NewHighlightStore returns a store over kv with the built-in migrations.
func NewHighlightStore(kv KV) *HighlightStore {
	return &HighlightStore{
		kv: kv,
		migrations: map[int]MigrationStep{
			// version 1 is the initial layout; nothing to transform
			1: func(context.Context, KV) error { return nil },
		},
	}
}

// KV exposes the underlying key-value store.
func (s *HighlightStore) KV() KV { return s.kv }

// Save writes the whole collection in one put.
func (s *HighlightStore) Save(ctx context.Context, hs []domain.Highlight) error {
	l := applog.WithOperation(applog.WithComponent("storage"), "save")
	b, err := EncodeHighlights(hs)
	if err != nil {
		l.Error("encode failed", slog.Any("err", err))
		return domain.Persistence("encode highlights", err)
	}
	if err := s.kv.Set(ctx, HighlightsKey, b); err != nil {
		l.Error("write failed", slog.Any("err", err))
		return domain.Persistence("write highlights", err)
	}
	l.Debug("saved", slog.Int("count", len(hs)), slog.Int("bytes", len(b)))
	return nil
}

// Load reads the collection. A missing key yields an empty collection.
func (s *HighlightStore) Load(ctx context.Context) ([]domain.Highlight, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "load")
	b, ok, err := s.kv.Get(ctx, HighlightsKey)
	if err != nil {
		l.Error("read failed", slog.Any("err", err))
		return nil, domain.Persistence("read highlights", err)
	}
	if !ok {
		return []domain.Highlight{}, nil
	}
	hs, err := DecodeHighlights(b)
	if err != nil {
		l.Error("decode failed", slog.Any("err", err))
		return nil, domain.Persistence("decode highlights", err)
	}
	l.Debug("loaded", slog.Int("count", len(hs)))
	return hs, nil
}

// SaveAsync runs Save on its own goroutine. The returned channel receives
// exactly one value and is then closed.
func (s *HighlightStore) SaveAsync(ctx context.Context, hs []domain.Highlight) <-chan error {
	snap := make([]domain.Highlight, len(hs))
	for i, h := range hs {
		snap[i] = h.Clone()
	}
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- s.Save(ctx, snap)
	}()
	return ch
}

// LoadAsync runs Load on its own goroutine.
func (s *HighlightStore) LoadAsync(ctx context.Context) <-chan LoadResult {
	ch := make(chan LoadResult, 1)
	go func() {
		defer close(ch)
		hs, err := s.Load(ctx)
		ch <- LoadResult{Highlights: hs, Err: err}
	}()
	return ch
}

// StoredSchemaVersion returns the persisted schema version, 0 when absent.
func (s *HighlightStore) StoredSchemaVersion(ctx context.Context) (int, error) {
	b, ok, err := s.kv.Get(ctx, SchemaVersionKey)
	if err != nil {
		return 0, domain.Persistence("read schema version", err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, domain.Persistence("parse schema version", err)
	}
	return v, nil
}

// MigrateIfNeeded runs every step between the stored version and
// CurrentSchemaVersion, recording the version after each step so an
// interrupted run resumes where it stopped. A newer stored version is left alone.
func (s *HighlightStore) MigrateIfNeeded(ctx context.Context) error {
	l := applog.WithOperation(applog.WithComponent("storage"), "migrate")
	cur, err := s.StoredSchemaVersion(ctx)
	if err != nil {
		return err
	}
	for cur < CurrentSchemaVersion {
		next := cur + 1
		if step, ok := s.migrations[next]; ok {
			if err := step(ctx, s.kv); err != nil {
				l.Error("migration failed", slog.Int("to", next), slog.Any("err", err))
				return domain.Persistence(fmt.Sprintf("migrate to version %d", next), err)
			}
		}
		if err := s.kv.Set(ctx, SchemaVersionKey, []byte(strconv.Itoa(next))); err != nil {
			return domain.Persistence("write schema version", err)
		}
		l.Info("migrated", slog.Int("from", cur), slog.Int("to", next))
		cur = next
	}
	return nil
}

// ClearAllData removes the collection and its schema version.
func (s *HighlightStore) ClearAllData(ctx context.Context) error {
	if err := s.kv.Delete(ctx, HighlightsKey); err != nil {
		return domain.Persistence("delete highlights", err)
	}
	if err := s.kv.Delete(ctx, SchemaVersionKey); err != nil {
		return domain.Persistence("delete schema version", err)
	}
	return nil
}

// HasPersistedData reports whether a collection blob exists.
func (s *HighlightStore) HasPersistedData(ctx context.Context) (bool, error) {
	_, ok, err := s.kv.Get(ctx, HighlightsKey)
	if err != nil {
		return false, domain.Persistence("read highlights", err)
	}
	return ok, nil
}
