/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"log/slog"
	"strings"
	"time"

	"versemark/internal/domain"
	applog "versemark/internal/log"
)

// CSVTimeLayout is the timestamp layout of the Created and Updated columns (UTC).
const CSVTimeLayout = "2006-01-02 15:04:05"

// TagSeparator joins tags inside the Tags column.
const TagSeparator = ";"

var csvHeader = []string{"UUID", "Color", "Text", "Note", "Tags", "Created", "Updated"}

// ExportCSV writes one row per highlight under the fixed header. An absent
// note and an empty note both export as an empty field.
func ExportCSV(hs []domain.Highlight) []byte {
	var b bytes.Buffer
	writeCSVRow(&b, csvHeader)
	for _, h := range ordered(hs) {
		writeCSVRow(&b, []string{
			h.UUID,
			string(h.Color),
			h.Text,
			h.NoteText(),
			strings.Join(h.Tags, TagSeparator),
			h.CreatedAt.UTC().Format(CSVTimeLayout),
			h.UpdatedAt.UTC().Format(CSVTimeLayout),
		})
	}
	return b.Bytes()
}

func writeCSVRow(b *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(csvQuote(f))
	}
	b.WriteByte('\n')
}

func csvQuote(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ImportCSV parses text produced by ExportCSV or a spreadsheet using the
// same header. Columns are located by header name. Rows with an unknown
// color, a missing UUID or an unparsable timestamp are skipped.
func ImportCSV(data []byte) ([]domain.Highlight, error) {
	text := strings.TrimPrefix(string(data), "\ufeff")
	lines := 0
	for _, ln := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(ln) != "" {
			lines++
		}
	}
	if lines < 2 {
		return nil, domain.InvalidData("CSV needs a header and at least one row", nil)
	}

	rows := parseCSV(text)
	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, req := range []string{"uuid", "color", "text"} {
		if _, ok := cols[req]; !ok {
			return nil, domain.InvalidData("CSV header lacks column "+req, nil)
		}
	}

	l := applog.WithOperation(applog.WithComponent("export"), "import_csv")
	field := func(row []string, name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return row[i], true
	}

	out := make([]domain.Highlight, 0, len(rows)-1)
	skipped := 0
	for n, row := range rows[1:] {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		id, _ := field(row, "uuid")
		colTok, _ := field(row, "color")
		c, err := domain.ParseColor(colTok)
		if strings.TrimSpace(id) == "" || err != nil {
			skipped++
			l.Debug("skip row", slog.Int("row", n+2), slog.String("reason", "uuid or color"))
			continue
		}
		created, ok := csvTime(row, cols, "created")
		if !ok {
			skipped++
			l.Debug("skip row", slog.Int("row", n+2), slog.String("reason", "created"))
			continue
		}
		updated, ok := csvTime(row, cols, "updated")
		if !ok {
			skipped++
			l.Debug("skip row", slog.Int("row", n+2), slog.String("reason", "updated"))
			continue
		}
		txt, _ := field(row, "text")
		var note *string
		if v, _ := field(row, "note"); v != "" {
			note = &v
		}
		// an empty cell is no tags; a lone empty tag cannot be told apart
		tags := []string{}
		if v, _ := field(row, "tags"); v != "" {
			tags = strings.Split(v, TagSeparator)
		}
		h := domain.NewHighlight(strings.TrimSpace(id), c, txt, note, tags, created)
		h.UpdatedAt = updated
		out = append(out, h)
	}
	if skipped > 0 {
		l.Info("csv rows skipped", slog.Int("skipped", skipped), slog.Int("imported", len(out)))
	}
	return out, nil
}

// csvTime reads a timestamp column. A file without an Updated column uses Created.
func csvTime(row []string, cols map[string]int, name string) (time.Time, bool) {
	i, ok := cols[name]
	if !ok && name == "updated" {
		i, ok = cols["created"]
	}
	if !ok || i >= len(row) {
		return time.Time{}, false
	}
	s := strings.TrimSpace(row[i])
	for _, layout := range []string{CSVTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseCSV splits text into records. Quoted fields may contain commas,
// doubled quotes and line breaks. A quote inside an unquoted field is kept
// literally. The result always holds at least one record.
func parseCSV(text string) [][]string {
	var (
		rows     [][]string
		row      []string
		field    strings.Builder
		inQuotes bool
		started  bool // current field began with a quote
	)
	endField := func() {
		row = append(row, field.String())
		field.Reset()
		started = false
	}
	endRow := func() {
		endField()
		rows = append(rows, row)
		row = nil
	}
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inQuotes {
			if r == '"' {
				if i+1 < len(rs) && rs[i+1] == '"' {
					field.WriteRune('"')
					i++
					continue
				}
				inQuotes = false
				continue
			}
			field.WriteRune(r)
			continue
		}
		switch r {
		case '"':
			if field.Len() == 0 && !started {
				inQuotes = true
				started = true
				continue
			}
			field.WriteRune(r)
		case ',':
			endField()
		case '\r':
			if i+1 < len(rs) && rs[i+1] == '\n' {
				continue
			}
			endRow()
		case '\n':
			endRow()
		default:
			field.WriteRune(r)
		}
	}
	if field.Len() > 0 || started || len(row) > 0 {
		endRow()
	}
	if len(rows) == 0 {
		rows = append(rows, []string{""})
	}
	return rows
}
