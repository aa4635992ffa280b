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
	"image/color"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"versemark/internal/domain"
	"versemark/internal/palette"
)

// PDF layout in points on an A4 page.
const (
	pdfPageW   = 595.0
	pdfPageH   = 842.0
	pdfMargin  = 48.0
	pdfBarW    = 4.0
	pdfLineH   = 14.0
	pdfCardGap = 10.0
)

// ExportPDF renders a printable digest: one section per palette color,
// each highlight a card filled with the color's text tint and marked by a
// bar in its id tint. The built-in Helvetica keeps text vector without
// embedding fonts, so characters outside cp1252 are substituted.
func ExportPDF(hs []domain.Highlight, pal *palette.Palette) ([]byte, error) {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pdfPageW, Ht: pdfPageH},
	})
	pdf.SetTitle(MarkdownTitle, true)
	pdf.SetAuthor("versemark", false)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 28, tr(MarkdownTitle), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, pdfLineH, tr(fmt.Sprintf("%d highlights", len(hs))), "", 1, "L", false, 0, "")
	pdf.Ln(pdfCardGap)

	contentW := pdfPageW - 2*pdfMargin
	for _, group := range groupByColor(ordered(hs)) {
		e := pal.Entry(group[0].Color)
		pdf.SetFont("Helvetica", "B", 14)
		setTextColor(pdf, e.IDTint)
		pdf.CellFormat(0, 20, tr(fmt.Sprintf("%s (%d)", e.DisplayName, len(group))), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)

		for _, h := range group {
			page, y0 := pdf.PageNo(), pdf.GetY()
			setFillColor(pdf, e.TextTint)
			pdf.SetX(pdfMargin + pdfBarW)
			pdf.SetFont("Helvetica", "", 11)
			pdf.MultiCell(contentW-pdfBarW, pdfLineH, tr(h.Text), "", "L", true)
			if h.Note != nil && *h.Note != "" {
				pdf.SetX(pdfMargin + pdfBarW)
				pdf.SetFont("Helvetica", "I", 10)
				pdf.MultiCell(contentW-pdfBarW, pdfLineH, tr("Note: "+*h.Note), "", "L", true)
			}
			meta := h.CreatedAt.UTC().Format(MarkdownTimeLayout)
			if len(h.Tags) > 0 {
				meta = "Tags: " + strings.Join(h.Tags, ", ") + "   " + meta
			}
			pdf.SetX(pdfMargin + pdfBarW)
			pdf.SetFont("Helvetica", "", 8)
			pdf.MultiCell(contentW-pdfBarW, pdfLineH-2, tr(meta), "", "R", true)
			// the bar is only drawn when the card did not break across pages
			if pdf.PageNo() == page {
				setFillColor(pdf, e.IDTint)
				pdf.Rect(pdfMargin, y0, pdfBarW, pdf.GetY()-y0, "F")
			}
			pdf.Ln(pdfCardGap)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func setFillColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
}

func setTextColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetTextColor(int(c.R), int(c.G), int(c.B))
}
