//go:build fyne && cgo

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
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/google/uuid"

	"versemark/internal/crash"
	"versemark/internal/domain"
	"versemark/internal/export"
	"versemark/internal/highlight"
	applog "versemark/internal/log"
	"versemark/internal/storage"
	"versemark/internal/telemetry"
	"versemark/internal/undo"
	"versemark/internal/version"
)

const allColors = "all colors"

// Run starts the Fyne desktop shell over mgr. With a nil mgr the shell keeps
// its highlights in the application preferences.
func Run(mgr *highlight.Manager, dataDir string) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI")

	fyneApp := app.NewWithID("io.versemark.app")
	prefs := fyneApp.Preferences()

	owned := false
	if mgr == nil {
		st := storage.NewHighlightStore(NewPreferencesKV(prefs))
		if err := st.MigrateIfNeeded(context.Background()); err != nil {
			l.Warn("preferences store migration failed", slog.Any("err", err))
		}
		mgr = highlight.New(domain.DefaultConfiguration(), st,
			highlight.WithUndo(undo.NewManager(undo.Config{MaxPerScope: 50, MinInterval: 300 * time.Millisecond})))
		owned = true
		if err := mgr.LoadHighlights(context.Background()); err != nil {
			l.Error("load highlights failed", slog.Any("err", err))
		}
	}
	defer crash.Recover(mgr, dataDir)

	w := fyneApp.NewWindow("Versemark " + version.String())
	winW := prefs.IntWithFallback("window.width", 960)
	winH := prefs.IntWithFallback("window.height", 640)
	if winW < 640 {
		winW = 640
	}
	if winH < 480 {
		winH = 480
	}
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	pal := mgr.Palette()
	colorNames := make([]string, 0, len(domain.Palette))
	for _, c := range domain.Palette {
		colorNames = append(colorNames, string(c))
	}

	var (
		rows     []domain.Highlight
		selected string
	)

	status := widget.NewLabel("")
	errBanner := widget.NewLabel("")
	errBanner.Wrapping = fyne.TextWrapWord
	errBanner.Importance = widget.DangerImportance
	dismissErr := widget.NewButton("Dismiss", func() { mgr.ClearError() })
	errBox := container.NewBorder(nil, nil, nil, dismissErr, errBanner)
	errBox.Hide()

	search := widget.NewEntry()
	search.SetPlaceHolder("Search text, notes and tags")
	colorFilter := widget.NewSelect(append([]string{allColors}, colorNames...), nil)
	colorFilter.SetSelected(allColors)

	textEntry := widget.NewMultiLineEntry()
	textEntry.SetPlaceHolder("Highlighted text")
	textEntry.SetMinRowsVisible(4)
	colorSel := widget.NewSelect(colorNames, nil)
	colorSel.SetSelected(string(domain.ColorGreen))
	noteEntry := widget.NewMultiLineEntry()
	noteEntry.SetPlaceHolder("Note")
	tagsEntry := widget.NewEntry()
	tagsEntry.SetPlaceHolder("tag1, tag2")
	meta := widget.NewLabel("")

	list := widget.NewList(
		func() int { return len(rows) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i < len(rows) {
				o.(*widget.Label).SetText(rowLabel(rows[i], pal))
			}
		},
	)

	clearForm := func() {
		selected = ""
		textEntry.SetText("")
		noteEntry.SetText("")
		tagsEntry.SetText("")
		meta.SetText("")
		textEntry.Enable()
		list.UnselectAll()
	}

	refresh := func() {
		c := domain.Color("")
		if colorFilter.Selected != allColors {
			c = domain.Color(colorFilter.Selected)
		}
		rows = filterHighlights(mgr.GetAllHighlights(domain.SortByCreatedAt), strings.TrimSpace(search.Text), c)
		list.Refresh()
		status.SetText(statusLine(mgr.Statistics()))
		if selected != "" && !mgr.HasHighlight(selected) {
			clearForm()
		}
	}
	search.OnChanged = func(string) { refresh() }
	colorFilter.OnChanged = func(string) { refresh() }

	list.OnSelected = func(i widget.ListItemID) {
		if i >= len(rows) {
			return
		}
		h := rows[i]
		selected = h.UUID
		textEntry.SetText(h.Text)
		textEntry.Disable()
		colorSel.SetSelected(string(h.Color))
		noteEntry.SetText(h.NoteText())
		tagsEntry.SetText(strings.Join(h.Tags, ", "))
		meta.SetText(fmt.Sprintf("%s\ncreated %s\nupdated %s", h.UUID,
			h.CreatedAt.Local().Format(time.DateTime), h.UpdatedAt.Local().Format(time.DateTime)))
	}

	showErr := func(err error) {
		if err != nil {
			dialog.ShowError(err, w)
		}
	}
	formNote := func() *string {
		n := noteEntry.Text
		if strings.TrimSpace(n) == "" {
			return nil
		}
		return &n
	}

	addBtn := widget.NewButton("Add", func() {
		if strings.TrimSpace(textEntry.Text) == "" {
			dialog.ShowInformation("Add", "Enter the highlighted text first.", w)
			return
		}
		id := uuid.NewString()
		if err := mgr.SetHighlight(id, domain.Color(colorSel.Selected), textEntry.Text, formNote(), parseTags(tagsEntry.Text)); err != nil {
			showErr(err)
			return
		}
		clearForm()
	})
	saveBtn := widget.NewButton("Update", func() {
		if selected == "" {
			return
		}
		c := domain.Color(colorSel.Selected)
		note := noteEntry.Text
		showErr(mgr.UpdateHighlight(selected, domain.Patch{Color: &c, Note: &note, Tags: parseTags(tagsEntry.Text)}))
	})
	removeBtn := widget.NewButton("Remove", func() {
		if selected == "" {
			return
		}
		id := selected
		dialog.ShowConfirm("Remove", "Remove the selected highlight?", func(ok bool) {
			if ok {
				showErr(mgr.RemoveHighlight(id))
			}
		}, w)
	})
	newBtn := widget.NewButton("New", clearForm)

	undoBtn := widget.NewButton("Undo", func() {
		_, err := mgr.Undo()
		showErr(err)
	})
	redoBtn := widget.NewButton("Redo", func() {
		_, err := mgr.Redo()
		showErr(err)
	})

	exportBtn := widget.NewButton("Export…", func() {
		d := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
			if err != nil || wc == nil {
				showErr(err)
				return
			}
			defer func() { _ = wc.Close() }()
			f, err := export.FormatForPath(wc.URI().Name())
			if err != nil {
				f = export.FormatJSON
			}
			data, err := mgr.ExportHighlights(f)
			if err == nil {
				_, err = wc.Write(data)
			}
			if err != nil {
				showErr(err)
				return
			}
			telemetry.Default().Exported(string(f), mgr.Count())
			status.SetText(fmt.Sprintf("Exported %d highlights to %s", mgr.Count(), wc.URI().Name()))
		}, w)
		d.SetFileName("highlights.json")
		d.Show()
	})
	importBtn := widget.NewButton("Import…", func() {
		dialog.ShowFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil || rc == nil {
				showErr(err)
				return
			}
			defer func() { _ = rc.Close() }()
			f, err := export.FormatForPath(rc.URI().Name())
			if err != nil {
				showErr(err)
				return
			}
			data, err := io.ReadAll(rc)
			if err != nil {
				showErr(err)
				return
			}
			dialog.ShowConfirm("Import", "Merge with the existing highlights? Choose No to replace them.", func(merge bool) {
				n, err := mgr.ImportData(f, data, merge)
				if err != nil {
					showErr(err)
					return
				}
				telemetry.Default().Imported(string(f), n, merge)
				status.SetText(fmt.Sprintf("Imported %d highlights", n))
			}, w)
		}, w)
	})
	clearBtn := widget.NewButton("Clear All", func() {
		dialog.ShowConfirm("Clear All", "Delete every highlight?", func(ok bool) {
			if ok {
				mgr.ClearAll()
			}
		}, w)
	})

	updateUndo := func() {
		if mgr.CanUndo() {
			undoBtn.Enable()
		} else {
			undoBtn.Disable()
		}
		if mgr.CanRedo() {
			redoBtn.Enable()
		} else {
			redoBtn.Disable()
		}
	}
	setErr := func(err error) {
		if err == nil {
			errBox.Hide()
			return
		}
		errBanner.SetText(err.Error())
		errBox.Show()
	}

	cancel := mgr.Subscribe(func(e highlight.Event) {
		fyne.Do(func() {
			switch e.Kind {
			case highlight.CollectionChanged:
				refresh()
				updateUndo()
			case highlight.StatisticsChanged:
				status.SetText(statusLine(e.Statistics))
			case highlight.ErrorChanged:
				setErr(e.Err)
			case highlight.LoadingChanged:
				if e.Loading {
					status.SetText("Loading…")
				}
			}
		})
	})
	defer cancel()

	form := widget.NewForm(
		widget.NewFormItem("Text", textEntry),
		widget.NewFormItem("Color", colorSel),
		widget.NewFormItem("Note", noteEntry),
		widget.NewFormItem("Tags", tagsEntry),
	)
	editor := container.NewVBox(form, meta, container.NewHBox(newBtn, addBtn, saveBtn, removeBtn))
	top := container.NewVBox(
		container.NewHBox(undoBtn, redoBtn, widget.NewSeparator(), exportBtn, importBtn, clearBtn),
		container.NewBorder(nil, nil, nil, colorFilter, search),
		errBox,
	)
	split := container.NewHSplit(list, container.NewVScroll(editor))
	split.SetOffset(prefs.FloatWithFallback("split.offset", 0.55))
	w.SetContent(container.NewBorder(top, status, nil, nil, split))

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		prefs.SetFloat("split.offset", split.Offset)
		ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mgr.SaveNow(ctx); err != nil {
			l.Error("save on close failed", slog.Any("err", err))
		}
		done()
		w.Close()
	})

	refresh()
	updateUndo()
	setErr(mgr.LastError())
	w.ShowAndRun()

	if owned {
		return mgr.Close()
	}
	return nil
}
