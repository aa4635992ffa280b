/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"versemark/internal/domain"
	"versemark/internal/export"
	"versemark/internal/storage"
	"versemark/internal/ui"
	"versemark/internal/version"
)

func newRootCmd(ap **app) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "versemark",
		Short:         "Keep colored highlights with notes and tags",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default per-user config dir)")
	root.PersistentFlags().StringVar(&g.backend, "backend", "", "storage backend: file|sqlite|postgres|memory")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "data directory for file and sqlite backends")

	// opener opens the backend and loads the collection before fn runs.
	opener := func(autosave bool) appRunner {
		return func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
			return func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context(), g, autosave)
				if err != nil {
					return err
				}
				*ap = a
				return fn(cmd, a, args)
			}
		}
	}
	withApp := opener(false)

	root.AddCommand(
		listCmd(withApp),
		addCmd(withApp),
		updateCmd(withApp),
		rmCmd(withApp),
		searchCmd(withApp),
		tagsCmd(withApp),
		statsCmd(withApp),
		exportCmd(withApp),
		importCmd(withApp),
		clearCmd(withApp),
		restoreCmd(withApp),
		uiCmd(opener(true)),
		versionCmd(),
	)
	return root
}

type appRunner func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

// commit persists synchronously so the command reports storage errors itself.
func commit(ctx context.Context, a *app) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return a.mgr.SaveNow(ctx)
}

func printHighlights(w io.Writer, hs []domain.Highlight) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range hs {
		tags := ""
		if len(h.Tags) > 0 {
			tags = "#" + strings.Join(h.Tags, " #")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", h.UUID, h.Color, h.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(h.Text, 60), tags)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func notePtr(cmd *cobra.Command, note string) *string {
	if !cmd.Flags().Changed("note") {
		return nil
	}
	return &note
}

func listCmd(run appRunner) *cobra.Command {
	var sortBy, color, tag, since, until string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List highlights",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			key, err := domain.ParseSortKey(sortBy)
			if err != nil {
				return err
			}
			hs := a.mgr.GetAllHighlights(key)
			if color != "" {
				c, err := domain.ParseColor(color)
				if err != nil {
					return err
				}
				hs = keep(hs, func(h domain.Highlight) bool { return h.Color == c })
			}
			if tag != "" {
				hs = keep(hs, func(h domain.Highlight) bool { return h.HasTag(tag) })
			}
			if since != "" || until != "" {
				from, to := time.Time{}, time.Now().Add(24*time.Hour)
				if since != "" {
					if from, err = time.ParseInLocation(time.DateOnly, since, time.Local); err != nil {
						return err
					}
				}
				if until != "" {
					if to, err = time.ParseInLocation(time.DateOnly, until, time.Local); err != nil {
						return err
					}
					to = to.Add(24*time.Hour - time.Nanosecond)
				}
				hs = keep(hs, func(h domain.Highlight) bool { return !h.CreatedAt.Before(from) && !h.CreatedAt.After(to) })
			}
			printHighlights(cmd.OutOrStdout(), hs)
			return nil
		}),
	}
	cmd.Flags().StringVar(&sortBy, "sort", "created", "sort by created|updated|color|text")
	cmd.Flags().StringVar(&color, "color", "", "only this color")
	cmd.Flags().StringVar(&tag, "tag", "", "only highlights with this tag")
	cmd.Flags().StringVar(&since, "since", "", "created on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&until, "until", "", "created on or before YYYY-MM-DD")
	return cmd
}

func keep(hs []domain.Highlight, pred func(domain.Highlight) bool) []domain.Highlight {
	out := hs[:0]
	for _, h := range hs {
		if pred(h) {
			out = append(out, h)
		}
	}
	return out
}

func addCmd(run appRunner) *cobra.Command {
	var id, color, note string
	var tags []string
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add or replace a highlight",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			c, err := domain.ParseColor(color)
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}
			if err := a.mgr.SetHighlight(id, c, strings.Join(args, " "), notePtr(cmd, note), tags); err != nil {
				return err
			}
			if err := commit(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().StringVar(&id, "uuid", "", "highlight id (generated when empty)")
	cmd.Flags().StringVar(&color, "color", string(domain.ColorGreen), "green|blue|purple|pink|orange")
	cmd.Flags().StringVar(&note, "note", "", "note text")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func updateCmd(run appRunner) *cobra.Command {
	var color, note string
	var tags []string
	var clearTags bool
	cmd := &cobra.Command{
		Use:   "update <uuid>",
		Short: "Change the color, note or tags of a highlight",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			var p domain.Patch
			if cmd.Flags().Changed("color") {
				c, err := domain.ParseColor(color)
				if err != nil {
					return err
				}
				p.Color = &c
			}
			p.Note = notePtr(cmd, note)
			switch {
			case clearTags:
				p.Tags = []string{}
			case cmd.Flags().Changed("tag"):
				p.Tags = tags
			}
			if err := a.mgr.UpdateHighlight(args[0], p); err != nil {
				return err
			}
			return commit(cmd.Context(), a)
		}),
	}
	cmd.Flags().StringVar(&color, "color", "", "new color")
	cmd.Flags().StringVar(&note, "note", "", "new note (empty clears)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().BoolVar(&clearTags, "clear-tags", false, "remove every tag")
	return cmd
}

func rmCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <uuid>...",
		Aliases: []string{"remove"},
		Short:   "Remove highlights",
		Args:    cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			n := a.mgr.RemoveHighlights(args)
			if n == 0 {
				return &domain.HighlightNotFoundError{UUID: args[0]}
			}
			if err := commit(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", n)
			return nil
		}),
	}
}

func searchCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search text, notes and tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			hs := a.mgr.SearchHighlights(strings.Join(args, " "))
			domain.SortHighlights(hs, domain.SortByCreatedAt)
			printHighlights(cmd.OutOrStdout(), hs)
			return nil
		}),
	}
}

func tagsCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List every tag in use",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			for _, t := range a.mgr.GetAllTags() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", t, len(a.mgr.HighlightsByTag(t)))
			}
			return nil
		}),
	}
}

func statsCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show collection statistics",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			st := a.mgr.Statistics()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-15s%d\n", "total:", st.Total)
			fmt.Fprintf(w, "%-15s%d\n", "distinct tags:", st.TotalTags)
			fmt.Fprintf(w, "%-15s%.1f\n", "avg length:", st.AverageTextLength)
			if st.Oldest != nil {
				fmt.Fprintf(w, "%-15s%s\n", "oldest:", st.Oldest.Local().Format(time.DateTime))
				fmt.Fprintf(w, "%-15s%s\n", "newest:", st.Newest.Local().Format(time.DateTime))
			}
			pal := a.mgr.Palette()
			for _, c := range domain.Palette {
				e := pal.Entry(c)
				fmt.Fprintf(w, "%s %-7s %d\n", e.Icon, e.DisplayName, st.ColorDistribution[c])
			}
			return nil
		}),
	}
}

func exportCmd(run appRunner) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export highlights as json, csv, markdown, pdf or html",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			f, err := resolveFormat(format, out)
			if err != nil {
				return err
			}
			data, err := a.mgr.ExportHighlights(f)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
			} else {
				err = os.WriteFile(out, data, 0o644)
			}
			if err != nil {
				return err
			}
			a.tel.Exported(string(f), a.mgr.Count())
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json|csv|markdown|pdf|html (default from --out, else json)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	return cmd
}

func resolveFormat(format, path string) (export.Format, error) {
	if format != "" {
		return export.ParseFormat(format)
	}
	if path != "" && path != "-" {
		return export.FormatForPath(path)
	}
	return export.FormatJSON, nil
}

func importCmd(run appRunner) *cobra.Command {
	var format string
	var merge bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import highlights from json or csv",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			f, err := resolveFormat(format, args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := a.mgr.ImportData(f, data, merge)
			if err != nil {
				return err
			}
			if err := commit(cmd.Context(), a); err != nil {
				return err
			}
			a.tel.Imported(string(f), n, merge)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d\n", n)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json|csv (default from file extension)")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge into the collection instead of replacing it")
	return cmd
}

func clearCmd(run appRunner) *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every highlight",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			a.mgr.ClearAll()
			if !wipe {
				return commit(cmd.Context(), a)
			}
			// the manager flushes on close; wipe after that so nothing is rewritten
			err := a.mgr.Close()
			a.mgr = nil
			if err != nil {
				return err
			}
			return a.store.ClearAllData(cmd.Context())
		}),
	}
	cmd.Flags().BoolVar(&wipe, "wipe", false, "also delete the stored keys and schema version")
	return cmd
}

func restoreCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "restore-backup",
		Short: "Restore the newest backup of the file backend",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			fkv, ok := a.kv.(*storage.FileKV)
			if !ok {
				return fmt.Errorf("backups exist only for the file backend")
			}
			if err := fkv.RestoreLatestBackup(cmd.Context(), storage.HighlightsKey); err != nil {
				return err
			}
			if err := a.mgr.LoadHighlights(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d highlights\n", a.mgr.Count())
			return nil
		}),
	}
}

func uiCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Launch the desktop UI (build with -tags fyne)",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			return ui.Run(a.mgr, a.dataDir)
		}),
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "versemark", version.String())
		},
	}
}
