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
	"log/slog"

	"versemark/internal/export"
	applog "versemark/internal/log"
)

// ExportHighlights renders the current collection in format f using the
// manager's palette.
func (m *Manager) ExportHighlights(f export.Format) ([]byte, error) {
	return export.Export(f, m.Snapshot(), m.pal)
}

// ImportData parses data in format f and imports it through ImportHighlights.
func (m *Manager) ImportData(f export.Format, data []byte, merge bool) (int, error) {
	hs, err := export.Import(f, data)
	if err != nil {
		return 0, err
	}
	n, err := m.ImportHighlights(hs, merge)
	if err != nil {
		return 0, err
	}
	applog.WithOperation(m.log, "import").Info("highlights imported",
		slog.String("format", string(f)), slog.Int("count", n), slog.Bool("merge", merge))
	return n, nil
}
