/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export renders highlight collections to standalone files and parses them back.
// JSON and CSV round-trip; Markdown, HTML and PDF are export-only.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"versemark/internal/domain"
	applog "versemark/internal/log"
	"versemark/internal/palette"
)

// Format names an export/import file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatHTML     Format = "html"
)

// Formats lists every export format.
var Formats = []Format{FormatJSON, FormatCSV, FormatMarkdown, FormatPDF, FormatHTML}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// FormatForPath guesses the format from a file name.
func FormatForPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// FileExtension returns the conventional extension including the dot.
func (f Format) FileExtension() string {
	if f == FormatMarkdown {
		return ".md"
	}
	return "." + string(f)
}

// CanImport reports whether the format can be read back.
func (f Format) CanImport() bool { return f == FormatJSON || f == FormatCSV }

// Export renders hs in format f. pal may be nil for the stock palette.
func Export(f Format, hs []domain.Highlight, pal *palette.Palette) ([]byte, error) {
	l := applog.WithOperation(applog.WithComponent("export"), "export").With(slog.String("format", string(f)))
	var (
		out []byte
		err error
	)
	switch f {
	case FormatJSON:
		out, err = ExportJSON(hs)
	case FormatCSV:
		out = ExportCSV(hs)
	case FormatMarkdown:
		out = ExportMarkdown(hs, pal)
	case FormatPDF:
		out, err = ExportPDF(hs, pal)
	case FormatHTML:
		out, err = ExportHTML(hs, pal)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		l.Error("export failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("exported", slog.Int("count", len(hs)), slog.Int("bytes", len(out)))
	return out, nil
}

// Import parses data in format f. Only JSON and CSV are importable.
func Import(f Format, data []byte) ([]domain.Highlight, error) {
	switch f {
	case FormatJSON:
		return ImportJSON(data)
	case FormatCSV:
		return ImportCSV(data)
	}
	return nil, domain.InvalidData(fmt.Sprintf("format %q cannot be imported", f), nil)
}

// ExportFile renders hs and writes the result to path, creating parent dirs.
func ExportFile(path string, f Format, hs []domain.Highlight, pal *palette.Palette) error {
	b, err := Export(f, hs, pal)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ImportFile reads path and parses it in format f.
func ImportFile(path string, f Format) ([]domain.Highlight, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Import(f, b)
}

// ordered returns deep copies of hs sorted oldest first, ties by UUID, so
// that repeated exports of the same collection are byte-identical.
func ordered(hs []domain.Highlight) []domain.Highlight {
	out := make([]domain.Highlight, len(hs))
	for i, h := range hs {
		out[i] = h.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

// groupByColor buckets ordered highlights by palette color, canonical order,
// empty groups omitted.
func groupByColor(hs []domain.Highlight) [][]domain.Highlight {
	buckets := make(map[domain.Color][]domain.Highlight)
	for _, h := range hs {
		buckets[h.Color] = append(buckets[h.Color], h)
	}
	var out [][]domain.Highlight
	for _, c := range domain.Palette {
		if len(buckets[c]) > 0 {
			out = append(out, buckets[c])
		}
	}
	return out
}
