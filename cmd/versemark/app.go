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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"versemark/internal/config"
	"versemark/internal/highlight"
	applog "versemark/internal/log"
	"versemark/internal/storage"
	"versemark/internal/telemetry"
	"versemark/internal/undo"
)

// globalFlags are the persistent root flags; empty values keep the config.
type globalFlags struct {
	configPath string
	backend    string
	dataDir    string
}

// app is the wiring for one command invocation.
type app struct {
	cfg     config.AppConfig
	dataDir string
	kv      storage.KV
	closeKV func() error
	store   *storage.HighlightStore
	mgr     *highlight.Manager
	tel     *telemetry.Client
	log     *slog.Logger
}

// flusher lets crash.Recover reach the manager once it exists.
type flusher struct{ a **app }

func (f flusher) SaveNow(ctx context.Context) error {
	if f.a == nil || *f.a == nil || (*f.a).mgr == nil {
		return nil
	}
	return (*f.a).mgr.SaveNow(ctx)
}

// openApp wires config, backend and manager. One-shot commands pass
// autosave=false and save through commit, so each change is written once.
func openApp(ctx context.Context, g globalFlags, autosave bool) (*app, error) {
	if g.configPath != "" {
		_ = os.Setenv(config.EnvConfigFile, g.configPath)
	}
	cfg, password, err := config.Load()
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("cli")
	if err != nil {
		l.Warn("config not loaded, using defaults", slog.Any("err", err))
	}
	if g.backend != "" {
		cfg.Storage.Backend = strings.ToLower(g.backend)
	}
	if g.dataDir != "" {
		cfg.Storage.Path = g.dataDir
	}

	a := &app{cfg: cfg, log: l, tel: telemetry.Default()}
	if cfg.General.TelemetryOptIn {
		tc := telemetry.FromEnv()
		tc.OptIn = true
		a.tel = telemetry.New(tc)
		telemetry.SetDefault(a.tel)
	}
	if a.dataDir, err = cfg.DataDir(); err != nil {
		return nil, err
	}
	if a.kv, a.closeKV, err = openKV(ctx, cfg, a.dataDir, password); err != nil {
		return nil, err
	}
	a.store = storage.NewHighlightStore(a.kv)
	if err := a.store.MigrateIfNeeded(ctx); err != nil {
		_ = a.closeKV()
		return nil, err
	}
	hc := cfg.HighlightConfiguration()
	hc.AutoSave = hc.AutoSave && autosave
	a.mgr = highlight.New(hc, a.store,
		highlight.WithUndo(undo.NewManager(undo.Config{MaxPerScope: 20})))
	if err := a.mgr.LoadHighlights(ctx); err != nil {
		_ = a.mgr.Close()
		_ = a.closeKV()
		return nil, err
	}
	l.Debug("opened", slog.String("backend", cfg.Storage.Backend), slog.String("data", a.dataDir), slog.Int("highlights", a.mgr.Count()))
	return a, nil
}

// openKV builds the configured backend and its closer.
func openKV(ctx context.Context, cfg config.AppConfig, dataDir, password string) (storage.KV, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Storage.Backend {
	case "", config.BackendFile:
		kv, err := storage.NewFileKV(dataDir)
		if err != nil {
			return nil, nil, err
		}
		kv.BackupsKept = cfg.Storage.BackupsKept
		return kv, noop, nil
	case config.BackendSQLite:
		kv, err := storage.OpenSQLiteKV(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case config.BackendPostgres:
		dsn := cfg.Storage.PostgresDSNWithPassword(password)
		if dsn == "" {
			return nil, nil, errors.New("postgres backend needs storage.postgres_dsn or " + config.EnvPostgresDSN)
		}
		kv, err := storage.OpenPostgresKV(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case config.BackendMemory:
		return storage.NewMemoryKV(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// close flushes pending saves and releases the backend. The manager's last
// background error is returned.
func (a *app) close() error {
	var err error
	if a.mgr != nil {
		err = a.mgr.Close()
		a.mgr = nil
	}
	if a.closeKV != nil {
		if cerr := a.closeKV(); err == nil {
			err = cerr
		}
		a.closeKV = nil
	}
	if a.tel != nil {
		a.tel.Flush(context.Background())
	}
	return err
}
