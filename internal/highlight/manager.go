/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package highlight owns the in-memory highlight collection: CRUD, queries,
// statistics, autosave and change notification.
//
// A Manager has a single logical owner. Mutations are expected from one
// goroutine at a time; the collection is nevertheless guarded so that the
// autosave ticker and the persist worker can read consistent snapshots.
package highlight

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"versemark/internal/domain"
	applog "versemark/internal/log"
	"versemark/internal/palette"
	"versemark/internal/undo"
)

// Persister is the storage the manager saves to and loads from.
// *storage.HighlightStore satisfies it.
type Persister interface {
	Save(ctx context.Context, hs []domain.Highlight) error
	Load(ctx context.Context) ([]domain.Highlight, error)
}

// View is the optional, non-owning handle to the presentation layer.
type View interface {
	HighlightsChanged()
}

// undoScope is the single undo scope of a manager's collection.
const undoScope = "collection"

// persistTimeout bounds one background save.
const persistTimeout = 30 * time.Second

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithUndo records a snapshot before every mutation so that Undo and Redo work.
func WithUndo(u *undo.Manager) Option {
	return func(m *Manager) { m.undo = u }
}

// Manager is the orchestrator over one highlight collection.
type Manager struct {
	cfg   domain.Configuration
	store Persister
	now   func() time.Time
	undo  *undo.Manager
	pal   *palette.Palette
	log   *slog.Logger

	dataMu sync.RWMutex
	items  map[string]domain.Highlight
	stats  domain.Statistics
	gen    uint64 // bumped on every change, orders snapshots for the worker

	stateMu sync.Mutex // lastErr, loading, subscribers, view
	lastErr error
	loading bool
	subs    map[int]func(Event)
	nextSub int
	view    View

	// persist worker: the newest pending snapshot wins
	pendMu    sync.Mutex
	pending   []domain.Highlight
	pendGen   uint64
	hasPend   bool
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	ticker    *time.Ticker
	closeOnce sync.Once
	closed    bool
}

// New builds a manager over store and starts its persist worker and, when
// AutoSave is on, the recurring autosave ticker. Call Close when done.
func New(cfg domain.Configuration, store Persister, opts ...Option) *Manager {
	cfg = cfg.Normalized()
	m := &Manager{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		log:   applog.WithComponent("highlight"),
		items: make(map[string]domain.Highlight),
		subs:  make(map[int]func(Event)),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	pal, err := palette.New(cfg.CustomColors)
	if err != nil {
		m.log.Warn("custom colors ignored", slog.Any("err", err))
	}
	m.pal = pal
	m.stats = domain.ComputeStatistics(nil)

	var tick <-chan time.Time
	if cfg.AutoSave {
		m.ticker = time.NewTicker(cfg.AutoSaveInterval)
		tick = m.ticker.C
	}
	go m.run(tick)
	return m
}

// Configuration returns the policy the manager was built with.
func (m *Manager) Configuration() domain.Configuration { return m.cfg }

// Palette resolves display colors including configured overrides.
func (m *Manager) Palette() *palette.Palette { return m.pal }

// SetHighlight inserts or replaces the highlight for uuid. A replaced
// highlight gets fresh timestamps. New ids are rejected once the collection
// holds MaxHighlights entries.
func (m *Manager) SetHighlight(uuid string, color domain.Color, text string, note *string, tags []string) error {
	if uuid == "" {
		return domain.InvalidData("highlight uuid is empty", nil)
	}
	if !color.Valid() {
		return domain.InvalidData("unknown color "+string(color), nil)
	}
	m.dataMu.Lock()
	if _, exists := m.items[uuid]; !exists && len(m.items) >= m.cfg.MaxHighlights {
		m.dataMu.Unlock()
		return &domain.MaxHighlightsReachedError{Limit: m.cfg.MaxHighlights}
	}
	m.recordUndoLocked("set")
	delete(m.items, uuid)
	m.items[uuid] = domain.NewHighlight(uuid, color, text, note, tags, m.now())
	m.dataMu.Unlock()

	m.afterMutation("set")
	return nil
}

// UpdateHighlight applies p to an existing highlight, keeping CreatedAt.
func (m *Manager) UpdateHighlight(uuid string, p domain.Patch) error {
	if p.Color != nil && !p.Color.Valid() {
		return domain.InvalidData("unknown color "+string(*p.Color), nil)
	}
	m.dataMu.Lock()
	old, ok := m.items[uuid]
	if !ok {
		m.dataMu.Unlock()
		return &domain.HighlightNotFoundError{UUID: uuid}
	}
	m.recordUndoLocked("update")
	delete(m.items, uuid)
	m.items[uuid] = old.With(p, m.now())
	m.dataMu.Unlock()

	m.afterMutation("update")
	return nil
}

// RemoveHighlight deletes uuid or fails with HighlightNotFound.
func (m *Manager) RemoveHighlight(uuid string) error {
	m.dataMu.Lock()
	if _, ok := m.items[uuid]; !ok {
		m.dataMu.Unlock()
		return &domain.HighlightNotFoundError{UUID: uuid}
	}
	m.recordUndoLocked("remove")
	delete(m.items, uuid)
	m.dataMu.Unlock()

	m.afterMutation("remove")
	return nil
}

// RemoveHighlights deletes every listed id that exists and returns how many
// were removed. Unknown ids are ignored.
func (m *Manager) RemoveHighlights(uuids []string) int {
	m.dataMu.Lock()
	n := 0
	for _, id := range uuids {
		if _, ok := m.items[id]; ok {
			if n == 0 {
				m.recordUndoLocked("remove_many")
			}
			delete(m.items, id)
			n++
		}
	}
	m.dataMu.Unlock()
	if n > 0 {
		m.afterMutation("remove_many")
	}
	return n
}

// ClearAll empties the collection unconditionally.
func (m *Manager) ClearAll() {
	m.dataMu.Lock()
	if len(m.items) > 0 {
		m.recordUndoLocked("clear")
	}
	m.items = make(map[string]domain.Highlight)
	m.dataMu.Unlock()
	m.afterMutation("clear")
}

// ImportHighlights adds hs to the collection. With merge, records replace
// highlights with the same id and keep their own timestamps; without merge
// the collection is replaced. The whole import fails, leaving the collection
// unchanged, when it would exceed MaxHighlights. Duplicate ids within hs
// resolve to the last occurrence.
func (m *Manager) ImportHighlights(hs []domain.Highlight, merge bool) (int, error) {
	incoming := make(map[string]domain.Highlight, len(hs))
	for _, h := range hs {
		if h.UUID == "" || !h.Color.Valid() {
			return 0, domain.InvalidData("import contains an invalid highlight", nil)
		}
		incoming[h.UUID] = h.Clone()
	}
	m.dataMu.Lock()
	size := len(incoming)
	if merge {
		size = len(m.items)
		for id := range incoming {
			if _, ok := m.items[id]; !ok {
				size++
			}
		}
	}
	if size > m.cfg.MaxHighlights {
		m.dataMu.Unlock()
		return 0, &domain.MaxHighlightsReachedError{Limit: m.cfg.MaxHighlights}
	}
	m.recordUndoLocked("import")
	if !merge {
		m.items = make(map[string]domain.Highlight, len(incoming))
	}
	for id, h := range incoming {
		m.items[id] = h
	}
	m.dataMu.Unlock()

	m.afterMutation("import")
	return len(incoming), nil
}

// Undo restores the collection as it was before the last mutation. It
// reports false when there is nothing to undo or no undo history is attached.
func (m *Manager) Undo() (bool, error) { return m.travel(true) }

// Redo re-applies the mutation reverted by the last Undo.
func (m *Manager) Redo() (bool, error) { return m.travel(false) }

// CanUndo and CanRedo report whether Undo or Redo would change anything.
func (m *Manager) CanUndo() bool { return m.undo != nil && m.undo.CanUndo(undoScope) }

func (m *Manager) CanRedo() bool { return m.undo != nil && m.undo.CanRedo(undoScope) }

func (m *Manager) travel(back bool) (bool, error) {
	if m.undo == nil {
		return false, nil
	}
	m.dataMu.Lock()
	cur, err := undo.EncodeCollection(m.snapshotLocked())
	if err != nil {
		m.dataMu.Unlock()
		return false, err
	}
	current := undo.Snapshot{Blob: cur, TS: m.now()}
	var (
		s  undo.Snapshot
		ok bool
	)
	if back {
		s, ok = m.undo.Undo(undoScope, current)
	} else {
		s, ok = m.undo.Redo(undoScope, current)
	}
	if !ok {
		m.dataMu.Unlock()
		return false, nil
	}
	hs, err := undo.DecodeCollection(s.Blob)
	if err != nil {
		m.dataMu.Unlock()
		return false, err
	}
	m.items = make(map[string]domain.Highlight, len(hs))
	for _, h := range hs {
		m.items[h.UUID] = h
	}
	m.dataMu.Unlock()

	op := "redo"
	if back {
		op = "undo"
	}
	m.afterMutation(op)
	return true, nil
}

// recordUndoLocked pushes the pre-mutation state. dataMu must be held.
func (m *Manager) recordUndoLocked(label string) {
	if m.undo == nil {
		return
	}
	b, err := undo.EncodeCollection(m.snapshotLocked())
	if err != nil {
		m.log.Warn("undo snapshot failed", slog.String("op", label), slog.Any("err", err))
		return
	}
	m.undo.Push(undo.Snapshot{Scope: undoScope, Label: label, Blob: b, TS: m.now()})
}

// afterMutation refreshes statistics, notifies observers and, with AutoSave
// on, hands the new state to the persist worker.
func (m *Manager) afterMutation(op string) {
	m.dataMu.Lock()
	m.gen++
	gen := m.gen
	snap := m.snapshotLocked()
	m.stats = domain.ComputeStatistics(snap)
	stats := m.stats
	m.dataMu.Unlock()

	m.log.Debug("mutation", slog.String("op", op), slog.Int("count", len(snap)))
	m.emit(Event{Kind: CollectionChanged})
	m.emit(Event{Kind: StatisticsChanged, Statistics: stats})
	if v := m.View(); v != nil {
		v.HighlightsChanged()
	}
	if m.cfg.AutoSave {
		m.enqueue(snap, gen)
	}
}

// HasHighlight reports whether uuid is in the collection.
func (m *Manager) HasHighlight(uuid string) bool {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	_, ok := m.items[uuid]
	return ok
}

// GetHighlight returns a copy of the highlight for uuid.
func (m *Manager) GetHighlight(uuid string) (domain.Highlight, bool) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	h, ok := m.items[uuid]
	if !ok {
		return domain.Highlight{}, false
	}
	return h.Clone(), true
}

// GetHighlightColor returns the color of uuid.
func (m *Manager) GetHighlightColor(uuid string) (domain.Color, bool) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	h, ok := m.items[uuid]
	return h.Color, ok
}

// Count returns the collection size.
func (m *Manager) Count() int {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return len(m.items)
}

// GetAllHighlights returns a sorted snapshot.
func (m *Manager) GetAllHighlights(key domain.SortKey) []domain.Highlight {
	hs := m.Snapshot()
	domain.SortHighlights(hs, key)
	return hs
}

// Snapshot returns copies of every highlight in no particular order.
func (m *Manager) Snapshot() []domain.Highlight {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return m.snapshotLocked()
}

// versionedSnapshot returns a snapshot together with its generation.
func (m *Manager) versionedSnapshot() ([]domain.Highlight, uint64) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return m.snapshotLocked(), m.gen
}

func (m *Manager) snapshotLocked() []domain.Highlight {
	out := make([]domain.Highlight, 0, len(m.items))
	for _, h := range m.items {
		out = append(out, h.Clone())
	}
	return out
}

func (m *Manager) filter(keep func(domain.Highlight) bool) []domain.Highlight {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	out := []domain.Highlight{}
	for _, h := range m.items {
		if keep(h) {
			out = append(out, h.Clone())
		}
	}
	return out
}

// SearchHighlights matches query case-insensitively against text, note and tags.
func (m *Manager) SearchHighlights(query string) []domain.Highlight {
	return m.filter(func(h domain.Highlight) bool { return h.Matches(query) })
}

// HighlightsByColor returns the highlights of one color.
func (m *Manager) HighlightsByColor(c domain.Color) []domain.Highlight {
	return m.filter(func(h domain.Highlight) bool { return h.Color == c })
}

// HighlightsByTag returns the highlights carrying tag (exact match).
func (m *Manager) HighlightsByTag(tag string) []domain.Highlight {
	return m.filter(func(h domain.Highlight) bool { return h.HasTag(tag) })
}

// HighlightsInRange returns highlights created within [from, to].
func (m *Manager) HighlightsInRange(from, to time.Time) []domain.Highlight {
	return m.filter(func(h domain.Highlight) bool {
		return !h.CreatedAt.Before(from) && !h.CreatedAt.After(to)
	})
}

// GetAllTags returns the distinct tags of all highlights, sorted.
func (m *Manager) GetAllTags() []string {
	m.dataMu.RLock()
	set := make(map[string]struct{})
	for _, h := range m.items {
		for _, t := range h.Tags {
			set[t] = struct{}{}
		}
	}
	m.dataMu.RUnlock()
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// GetColorDistribution counts highlights per color.
func (m *Manager) GetColorDistribution() map[domain.Color]int {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	out := make(map[domain.Color]int, len(domain.Palette))
	for _, h := range m.items {
		out[h.Color]++
	}
	return out
}

// Statistics returns the statistics computed after the last change.
func (m *Manager) Statistics() domain.Statistics {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	st := m.stats
	st.ColorDistribution = make(map[domain.Color]int, len(m.stats.ColorDistribution))
	for c, n := range m.stats.ColorDistribution {
		st.ColorDistribution[c] = n
	}
	return st
}

// LastError returns the most recent background failure, nil when none.
func (m *Manager) LastError() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.lastErr
}

// ClearError dismisses the last error.
func (m *Manager) ClearError() {
	m.setError(nil)
}

func (m *Manager) setError(err error) {
	m.stateMu.Lock()
	changed := m.lastErr != nil || err != nil
	m.lastErr = err
	m.stateMu.Unlock()
	if changed {
		m.emit(Event{Kind: ErrorChanged, Err: err})
	}
}

// IsLoading reports whether LoadHighlights is in progress.
func (m *Manager) IsLoading() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.loading
}

func (m *Manager) setLoading(v bool) {
	m.stateMu.Lock()
	m.loading = v
	m.stateMu.Unlock()
	m.emit(Event{Kind: LoadingChanged, Loading: v})
}

// LoadHighlights replaces the collection with the stored one. On failure the
// error is recorded and returned and the collection is left untouched.
// Loading does not trigger a save.
func (m *Manager) LoadHighlights(ctx context.Context) error {
	l := applog.WithOperation(m.log, "load")
	m.setLoading(true)
	defer m.setLoading(false)

	hs, err := m.store.Load(ctx)
	if err != nil {
		l.Error("load failed", slog.Any("err", err))
		m.setError(err)
		return err
	}
	m.dataMu.Lock()
	m.items = make(map[string]domain.Highlight, len(hs))
	for _, h := range hs {
		m.items[h.UUID] = h.Clone()
	}
	m.gen++
	snap := m.snapshotLocked()
	m.stats = domain.ComputeStatistics(snap)
	stats := m.stats
	m.dataMu.Unlock()
	if m.undo != nil {
		m.undo.Clear(undoScope)
	}

	l.Info("highlights loaded", slog.Int("count", len(snap)))
	m.emit(Event{Kind: CollectionChanged})
	m.emit(Event{Kind: StatisticsChanged, Statistics: stats})
	if v := m.View(); v != nil {
		v.HighlightsChanged()
	}
	return nil
}

// LoadHighlightsAsync runs LoadHighlights on its own goroutine. The channel
// receives the result once and is closed.
func (m *Manager) LoadHighlightsAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- m.LoadHighlights(ctx)
	}()
	return ch
}

// SaveNow persists the current collection synchronously and returns the
// outcome to the caller instead of recording it.
func (m *Manager) SaveNow(ctx context.Context) error {
	return m.store.Save(ctx, m.Snapshot())
}

// SetView attaches or, with nil, detaches the view. The manager never owns it.
func (m *Manager) SetView(v View) {
	m.stateMu.Lock()
	m.view = v
	m.stateMu.Unlock()
}

// View returns the attached view or nil.
func (m *Manager) View() View {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.view
}

// Close stops the autosave ticker, writes any pending save and stops the
// worker. It returns the error slot as left by that final save and is safe
// to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.ticker != nil {
			m.ticker.Stop()
		}
		m.pendMu.Lock()
		m.closed = true
		m.pendMu.Unlock()
		close(m.stop)
		<-m.done
	})
	return m.LastError()
}
