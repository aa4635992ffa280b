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
	"sort"

	"versemark/internal/domain"
)

// EventKind tells subscribers what changed.
type EventKind int

const (
	CollectionChanged EventKind = iota + 1
	StatisticsChanged
	ErrorChanged
	LoadingChanged
)

func (k EventKind) String() string {
	switch k {
	case CollectionChanged:
		return "collection_changed"
	case StatisticsChanged:
		return "statistics_changed"
	case ErrorChanged:
		return "error_changed"
	case LoadingChanged:
		return "loading_changed"
	}
	return "unknown"
}

// Event is delivered to subscribers. Only the field matching Kind is set.
type Event struct {
	Kind       EventKind
	Statistics domain.Statistics
	Err        error
	Loading    bool
}

// Subscribe registers fn for every event and returns a function that
// removes it. Mutation events arrive on the mutating goroutine; error events
// from background saves arrive on the worker goroutine, so fn must be safe
// for concurrent use and must not block.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	m.stateMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.stateMu.Unlock()
	return func() {
		m.stateMu.Lock()
		delete(m.subs, id)
		m.stateMu.Unlock()
	}
}

func (m *Manager) emit(e Event) {
	m.stateMu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids) // subscription order
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.stateMu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

