/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package highlight

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"versemark/internal/domain"
	applog "versemark/internal/log"
)

// ErrClosed is recorded when a save is requested after Close.
var ErrClosed = errors.New("highlight manager closed")

// enqueue hands a snapshot of generation gen to the worker without blocking.
// A snapshot still waiting is replaced, since every save writes the whole
// collection. Snapshots older than the newest one already queued are dropped.
func (m *Manager) enqueue(snap []domain.Highlight, gen uint64) {
	m.pendMu.Lock()
	if m.closed {
		m.pendMu.Unlock()
		m.setError(ErrClosed)
		return
	}
	if gen < m.pendGen {
		m.pendMu.Unlock()
		return
	}
	m.pending, m.pendGen, m.hasPend = snap, gen, true
	m.pendMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// autosave is the timer trigger; it goes through the same queue as
// post-mutation saves.
func (m *Manager) autosave() {
	if !m.cfg.AutoSave {
		return
	}
	m.enqueue(m.versionedSnapshot())
}

// run is the persist worker. It exits after draining the pending snapshot
// once stop is closed.
func (m *Manager) run(tick <-chan time.Time) {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
			m.flushPending()
		case <-tick:
			m.autosave()
		case <-m.stop:
			m.flushPending()
			return
		}
	}
}

func (m *Manager) flushPending() {
	m.pendMu.Lock()
	snap, ok := m.pending, m.hasPend
	m.pending, m.hasPend = nil, false
	m.pendMu.Unlock()
	if !ok {
		return
	}
	m.persist(snap)
}

// persist writes snap. Failures land in the error slot and never touch the
// in-memory collection.
func (m *Manager) persist(snap []domain.Highlight) {
	l := applog.WithOperation(m.log, "persist")
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Save(ctx, snap); err != nil {
		l.Error("autosave failed", slog.Int("count", len(snap)), slog.Any("err", err))
		m.setError(err)
		return
	}
	l.Debug("autosaved", slog.Int("count", len(snap)))
}
