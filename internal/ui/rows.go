/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"versemark/internal/domain"
	"versemark/internal/palette"
)

const previewRunes = 60

// rowLabel renders one list row: color icon, a shortened text and the tag list.
func rowLabel(h domain.Highlight, pal *palette.Palette) string {
	var b strings.Builder
	b.WriteString(pal.Entry(h.Color).Icon)
	b.WriteByte(' ')
	b.WriteString(preview(h.Text, previewRunes))
	if len(h.Tags) > 0 {
		fmt.Fprintf(&b, "  [%s]", strings.Join(h.Tags, ", "))
	}
	return b.String()
}

// preview collapses whitespace and cuts s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// parseTags splits a comma separated entry, dropping blanks and duplicates.
func parseTags(s string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// statusLine summarizes the statistics for the status bar.
func statusLine(st domain.Statistics) string {
	if st.Total == 0 {
		return "No highlights"
	}
	parts := make([]string, 0, len(domain.Palette))
	for _, c := range domain.Palette {
		if n := st.ColorDistribution[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", c, n))
		}
	}
	return fmt.Sprintf("%d highlights, %d tags (%s)", st.Total, st.TotalTags, strings.Join(parts, ", "))
}

// filterHighlights applies the search box and the color filter ("" keeps all).
func filterHighlights(hs []domain.Highlight, query string, color domain.Color) []domain.Highlight {
	out := hs[:0:0]
	for _, h := range hs {
		if color != "" && h.Color != color {
			continue
		}
		if query != "" && !h.Matches(query) {
			continue
		}
		out = append(out, h)
	}
	return out
}
