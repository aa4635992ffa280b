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
	"fmt"
	"strings"

	"versemark/internal/domain"
	"versemark/internal/palette"
)

// MarkdownTimeLayout renders creation times in the Markdown export (UTC).
const MarkdownTimeLayout = "January 2, 2006 at 3:04 PM"

// MarkdownTitle is the document heading of the Markdown export.
const MarkdownTitle = "Highlights"

// ExportMarkdown groups highlights by color in palette order. Each highlight
// becomes a subsection with its text as a blockquote, an optional note and
// tags, the creation time and a closing rule.
func ExportMarkdown(hs []domain.Highlight, pal *palette.Palette) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", MarkdownTitle)
	for _, group := range groupByColor(ordered(hs)) {
		e := pal.Entry(group[0].Color)
		fmt.Fprintf(&b, "## %s %s\n\n", e.Icon, e.DisplayName)
		for _, h := range group {
			fmt.Fprintf(&b, "### %s\n\n", h.UUID)
			b.WriteString(blockquote(h.Text))
			b.WriteString("\n\n")
			if h.Note != nil && *h.Note != "" {
				fmt.Fprintf(&b, "**Note:** %s\n\n", *h.Note)
			}
			if len(h.Tags) > 0 {
				fmt.Fprintf(&b, "**Tags:** %s\n\n", strings.Join(h.Tags, ", "))
			}
			fmt.Fprintf(&b, "*Created: %s*\n\n", h.CreatedAt.UTC().Format(MarkdownTimeLayout))
			b.WriteString("---\n\n")
		}
	}
	return b.Bytes()
}

func blockquote(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, ln := range lines {
		if ln == "" {
			lines[i] = ">"
			continue
		}
		lines[i] = "> " + ln
	}
	return strings.Join(lines, "\n")
}
