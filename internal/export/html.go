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
	"html"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"versemark/internal/domain"
	"versemark/internal/palette"
)

var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown
)

// converter is built once; raw HTML in highlight text is not passed through.
func converter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownConv = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownConv
}

// ExportHTML renders the Markdown export as a standalone HTML page whose
// blockquotes are tinted with the palette's text tints, one section per color.
func ExportHTML(hs []domain.Highlight, pal *palette.Palette) ([]byte, error) {
	var body bytes.Buffer
	fmt.Fprintf(&body, "<h1>%s</h1>\n", html.EscapeString(MarkdownTitle))
	for _, group := range groupByColor(ordered(hs)) {
		e := pal.Entry(group[0].Color)
		fmt.Fprintf(&body, "<section class=\"color-%s\">\n", e.Color)
		// the markdown layout of one group, minus the document title
		md := bytes.TrimPrefix(ExportMarkdown(group, pal), []byte("# "+MarkdownTitle+"\n\n"))
		if err := converter().Convert(md, &body); err != nil {
			return nil, fmt.Errorf("render markdown: %w", err)
		}
		body.WriteString("</section>\n")
	}

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n<style>\n", html.EscapeString(MarkdownTitle))
	b.WriteString("body{font-family:sans-serif;max-width:48em;margin:2em auto;}\nblockquote{margin:0;padding:.5em 1em;border-left:.4em solid;}\n")
	for _, e := range pal.Entries() {
		fmt.Fprintf(&b, ".color-%s blockquote{background:%s;border-color:%s;}\n", e.Color, palette.Hex(e.TextTint), palette.Hex(e.IDTint))
	}
	b.WriteString("</style>\n</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	return b.Bytes(), nil
}
