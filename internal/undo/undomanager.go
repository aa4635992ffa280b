/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"sync"
	"time"
)

// Snapshot is a reversible state blob for one scope, captured before a change.
// Blob content is opaque to the manager; size is estimated as len(Blob).
type Snapshot struct {
	Scope string
	Label string
	Blob  []byte
	TS    time.Time
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap over all undo stacks; oldest entries go first.
	MaxBytes int
	// MaxPerScope limits the undo depth per scope (0 means unlimited).
	MaxPerScope int
	// MinInterval coalesces a burst of changes: a snapshot pushed within the
	// interval of the previous one is dropped, so one undo reverts the burst.
	MinInterval time.Duration
}

// Manager keeps undo/redo stacks per scope. It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex
	// per-scope stacks
	undo map[string][]Snapshot
	redo map[string][]Snapshot
	// accounting over undo stacks
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 * 1024 * 1024 // 16 MiB
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Manager{cfg: cfg, undo: make(map[string][]Snapshot), redo: make(map[string][]Snapshot)}
}

// Push records the state before a change. Any new change invalidates redo for the scope.
func (m *Manager) Push(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redo[s.Scope] = nil
	stack := m.undo[s.Scope]
	if n := len(stack); n > 0 && m.cfg.MinInterval > 0 {
		last := stack[n-1]
		if s.TS.Sub(last.TS) < m.cfg.MinInterval {
			// keep the earlier state but extend the burst window
			stack[n-1].TS = s.TS
			return
		}
	}
	m.undo[s.Scope] = append(stack, s)
	m.totalBytes += len(s.Blob)
	m.enforceCapsLocked(s.Scope)
}

// Undo returns the state to restore and remembers current for Redo.
func (m *Manager) Undo(scope string, current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[scope]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	m.undo[scope] = stack[:len(stack)-1]
	m.totalBytes -= len(s.Blob)
	current.Scope = scope
	m.redo[scope] = append(m.redo[scope], current)
	return s, true
}

// Redo returns the state undone last and remembers current for Undo.
func (m *Manager) Redo(scope string, current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[scope]
	if len(r) == 0 {
		return Snapshot{}, false
	}
	s := r[len(r)-1]
	m.redo[scope] = r[:len(r)-1]
	current.Scope = scope
	m.undo[scope] = append(m.undo[scope], current)
	m.totalBytes += len(current.Blob)
	m.enforceCapsLocked(scope)
	return s, true
}

// CanUndo and CanRedo report whether the stacks of scope are non-empty.
func (m *Manager) CanUndo(scope string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[scope]) > 0
}

func (m *Manager) CanRedo(scope string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[scope]) > 0
}

// Clear drops both stacks of a scope.
func (m *Manager) Clear(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.undo[scope] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.undo, scope)
	delete(m.redo, scope)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, scopes int, totalSnapshots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.undo {
		if len(v) > 0 {
			scopes++
		}
		totalSnapshots += len(v)
	}
	return m.totalBytes, scopes, totalSnapshots
}

func (m *Manager) enforceCapsLocked(scope string) {
	if m.cfg.MaxPerScope > 0 {
		stack := m.undo[scope]
		if len(stack) > m.cfg.MaxPerScope {
			toDrop := len(stack) - m.cfg.MaxPerScope
			for i := 0; i < toDrop; i++ {
				m.totalBytes -= len(stack[i].Blob)
			}
			m.undo[scope] = append([]Snapshot{}, stack[toDrop:]...)
		}
	}
	// global memory cap: prune oldest across all scopes, but never the newest entry
	for m.cfg.MaxBytes > 0 && m.totalBytes > m.cfg.MaxBytes {
		oldestScope := ""
		found := false
		var oldestTS time.Time
		for sc, stack := range m.undo {
			if len(stack) == 0 || (sc == scope && len(stack) == 1) {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldestScope, oldestTS, found = sc, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		stack := m.undo[oldestScope]
		m.totalBytes -= len(stack[0].Blob)
		m.undo[oldestScope] = stack[1:]
		if len(m.undo[oldestScope]) == 0 {
			delete(m.undo, oldestScope)
		}
	}
}
