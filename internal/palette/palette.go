/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package palette resolves highlight colors to display attributes used by
// renderers and exporters: a display name, an icon, and two tints (one for the
// highlighted text region and a stronger one for the span id/number region).
package palette

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"

	"versemark/internal/domain"
)

// Entry describes how a palette color is presented.
type Entry struct {
	Color       domain.Color
	DisplayName string
	Icon        string
	TextTint    color.RGBA
	IDTint      color.RGBA
}

var base = map[domain.Color]Entry{
	domain.ColorGreen:  {domain.ColorGreen, "Green", "🟢", colornames.Palegreen, colornames.Seagreen},
	domain.ColorBlue:   {domain.ColorBlue, "Blue", "🔵", colornames.Lightskyblue, colornames.Royalblue},
	domain.ColorPurple: {domain.ColorPurple, "Purple", "🟣", colornames.Thistle, colornames.Mediumpurple},
	domain.ColorPink:   {domain.ColorPink, "Pink", "🩷", colornames.Pink, colornames.Hotpink},
	domain.ColorOrange: {domain.ColorOrange, "Orange", "🟠", colornames.Peachpuff, colornames.Darkorange},
}

// Lookup returns the stock entry for c. Unknown colors get a neutral grey entry.
func Lookup(c domain.Color) Entry {
	if e, ok := base[c]; ok {
		return e
	}
	return Entry{Color: c, DisplayName: string(c), Icon: "⚪", TextTint: colornames.Lightgrey, IDTint: colornames.Grey}
}

// Palette resolves entries with optional per-color overrides.
type Palette struct {
	overrides map[domain.Color]color.RGBA
}

// New builds a Palette from the configuration's custom colors (#rrggbb or
// a CSS color name). Invalid overrides are reported and skipped.
func New(custom map[domain.Color]string) (*Palette, error) {
	p := &Palette{overrides: make(map[domain.Color]color.RGBA, len(custom))}
	var bad []string
	for c, spec := range custom {
		if !c.Valid() {
			bad = append(bad, string(c))
			continue
		}
		rgba, err := ParseColorSpec(spec)
		if err != nil {
			bad = append(bad, string(c)+"="+spec)
			continue
		}
		p.overrides[c] = rgba
	}
	if len(bad) > 0 {
		return p, fmt.Errorf("invalid custom colors: %s", strings.Join(bad, ", "))
	}
	return p, nil
}

// Entry returns the entry for c with any override applied to the text tint.
// The id tint of an overridden color is a darkened variant of the override.
func (p *Palette) Entry(c domain.Color) Entry {
	e := Lookup(c)
	if p == nil {
		return e
	}
	if o, ok := p.overrides[c]; ok {
		e.TextTint = o
		e.IDTint = darken(o, 0.35)
	}
	return e
}

// Entries returns every palette color in canonical order.
func (p *Palette) Entries() []Entry {
	out := make([]Entry, 0, len(domain.Palette))
	for _, c := range domain.Palette {
		out = append(out, p.Entry(c))
	}
	return out
}

// ParseColorSpec parses "#rrggbb", "#rgb" or a CSS/SVG color name.
func ParseColorSpec(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("unsupported color %q", s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("unsupported color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Hex formats c as #rrggbb.
func Hex(c color.RGBA) string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

func darken(c color.RGBA, f float64) color.RGBA {
	scale := func(v uint8) uint8 { return uint8(float64(v) * (1 - f)) }
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}
