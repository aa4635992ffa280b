/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the highlight data model: the entity persisted per text
// span, the fixed color palette, the per-manager configuration and the
// derived statistics snapshot.

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Color is one of the fixed palette tokens. The string value is the wire
// token written to storage and export files.
type Color string

const (
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPurple Color = "purple"
	ColorPink   Color = "pink"
	ColorOrange Color = "orange"
)

// Palette lists every color in canonical display order.
var Palette = []Color{ColorGreen, ColorBlue, ColorPurple, ColorPink, ColorOrange}

// Valid reports whether c is a palette color.
func (c Color) Valid() bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}

// ParseColor resolves a token such as "blue" or " Blue " to a palette color.
func ParseColor(s string) (Color, error) {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown highlight color %q", s)
	}
	return c, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown highlight color %q", string(c))
	}
	return []byte(c), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown tokens are rejected.
func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Highlight is one highlighted span. It is a value: mutation helpers return
// copies and never touch the receiver.
type Highlight struct {
	UUID      string    `json:"uuid"`
	Color     Color     `json:"color"`
	Text      string    `json:"text"`
	Note      *string   `json:"note,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewHighlight builds a fresh highlight with CreatedAt and UpdatedAt set to now.
func NewHighlight(uuid string, color Color, text string, note *string, tags []string, now time.Time) Highlight {
	ts := now.UTC()
	return Highlight{
		UUID:      uuid,
		Color:     color,
		Text:      text,
		Note:      copyNote(note),
		Tags:      copyTags(tags),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Patch carries the optional overrides accepted by an update. A nil field
// keeps the existing value; a non-nil empty Tags slice clears the tags.
type Patch struct {
	Color *Color
	Note  *string
	Tags  []string
}

// With returns a copy of h with p applied, CreatedAt preserved and UpdatedAt
// set to now. UpdatedAt never moves backwards.
func (h Highlight) With(p Patch, now time.Time) Highlight {
	out := h.Clone()
	if p.Color != nil {
		out.Color = *p.Color
	}
	if p.Note != nil {
		out.Note = copyNote(p.Note)
	}
	if p.Tags != nil {
		out.Tags = copyTags(p.Tags)
	}
	ts := now.UTC()
	if ts.Before(h.UpdatedAt) {
		ts = h.UpdatedAt
	}
	out.UpdatedAt = ts
	return out
}

// Clone returns a deep copy so that callers cannot alias the note or tags.
func (h Highlight) Clone() Highlight {
	h.Note = copyNote(h.Note)
	h.Tags = copyTags(h.Tags)
	return h
}

// NoteText returns the note or "" when absent.
func (h Highlight) NoteText() string {
	if h.Note == nil {
		return ""
	}
	return *h.Note
}

// HasTag reports whether tag is attached to h (exact match).
func (h Highlight) HasTag(tag string) bool {
	for _, t := range h.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Matches reports whether query occurs case-insensitively in the text, the
// note, or any tag.
func (h Highlight) Matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(h.Text), q) {
		return true
	}
	if h.Note != nil && strings.Contains(strings.ToLower(*h.Note), q) {
		return true
	}
	for _, t := range h.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// Equal compares two highlights field by field, using time.Time.Equal for timestamps.
func (h Highlight) Equal(o Highlight) bool {
	if h.UUID != o.UUID || h.Color != o.Color || h.Text != o.Text {
		return false
	}
	if (h.Note == nil) != (o.Note == nil) || (h.Note != nil && *h.Note != *o.Note) {
		return false
	}
	if len(h.Tags) != len(o.Tags) {
		return false
	}
	for i := range h.Tags {
		if h.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return h.CreatedAt.Equal(o.CreatedAt) && h.UpdatedAt.Equal(o.UpdatedAt)
}

func copyNote(n *string) *string {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func copyTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// Configuration is the per-manager policy. It is fixed once a manager is built.
type Configuration struct {
	MaxHighlights int
	// AllowOverlappingHighlights is carried for callers but not enforced.
	AllowOverlappingHighlights bool
	AutoSave                   bool
	AutoSaveInterval           time.Duration
	// CustomColors maps a palette color to a #rrggbb override used by renderers.
	CustomColors        map[Color]string
	EnableNotifications bool
}

const (
	DefaultMaxHighlights    = 1000
	DefaultAutoSaveInterval = 30 * time.Second
)

// DefaultConfiguration returns the stock policy.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxHighlights:       DefaultMaxHighlights,
		AutoSave:            true,
		AutoSaveInterval:    DefaultAutoSaveInterval,
		CustomColors:        map[Color]string{},
		EnableNotifications: true,
	}
}

// Normalized fills zero limits with defaults.
func (c Configuration) Normalized() Configuration {
	if c.MaxHighlights <= 0 {
		c.MaxHighlights = DefaultMaxHighlights
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if c.CustomColors == nil {
		c.CustomColors = map[Color]string{}
	}
	return c
}

// Statistics is derived from the collection after every change.
type Statistics struct {
	Total             int
	ColorDistribution map[Color]int
	TotalTags         int // distinct tags
	AverageTextLength float64
	Oldest            *time.Time
	Newest            *time.Time
}

// ComputeStatistics aggregates hs. Text length is measured in characters.
func ComputeStatistics(hs []Highlight) Statistics {
	st := Statistics{Total: len(hs), ColorDistribution: make(map[Color]int, len(Palette))}
	if len(hs) == 0 {
		return st
	}
	tags := make(map[string]struct{})
	var chars int
	oldest, newest := hs[0].CreatedAt, hs[0].CreatedAt
	for _, h := range hs {
		st.ColorDistribution[h.Color]++
		for _, t := range h.Tags {
			tags[t] = struct{}{}
		}
		chars += utf8.RuneCountInString(h.Text)
		if h.CreatedAt.Before(oldest) {
			oldest = h.CreatedAt
		}
		if h.CreatedAt.After(newest) {
			newest = h.CreatedAt
		}
	}
	st.TotalTags = len(tags)
	st.AverageTextLength = float64(chars) / float64(len(hs))
	st.Oldest = &oldest
	st.Newest = &newest
	return st
}

// SortKey selects the ordering of a snapshot.
type SortKey int

const (
	SortByCreatedAt SortKey = iota // newest first
	SortByUpdatedAt                // most recently updated first
	SortByColor                    // color token ascending
	SortByText                     // text ascending
)

func (k SortKey) String() string {
	switch k {
	case SortByUpdatedAt:
		return "updated"
	case SortByColor:
		return "color"
	case SortByText:
		return "text"
	default:
		return "created"
	}
}

// ParseSortKey accepts created|updated|color|text.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "created", "createdat", "created_at":
		return SortByCreatedAt, nil
	case "updated", "updatedat", "updated_at":
		return SortByUpdatedAt, nil
	case "color":
		return SortByColor, nil
	case "text":
		return SortByText, nil
	}
	return SortByCreatedAt, fmt.Errorf("unknown sort key %q", s)
}

// SortHighlights orders hs in place by key. Ties fall back to UUID so that the
// order is deterministic.
func SortHighlights(hs []Highlight, key SortKey) {
	less := func(a, b Highlight) (bool, bool) {
		switch key {
		case SortByUpdatedAt:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt), true
			}
		case SortByColor:
			if a.Color != b.Color {
				return a.Color < b.Color, true
			}
		case SortByText:
			if a.Text != b.Text {
				return a.Text < b.Text, true
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt), true
			}
		}
		return false, false
	}
	sort.SliceStable(hs, func(i, j int) bool {
		if r, decided := less(hs[i], hs[j]); decided {
			return r
		}
		return hs[i].UUID < hs[j].UUID
	})
}
