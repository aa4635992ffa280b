/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"versemark/internal/domain"
	applog "versemark/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type HighlightsConfig struct {
	MaxHighlights           int               `yaml:"max_highlights"`
	AllowOverlapping        bool              `yaml:"allow_overlapping"`
	AutoSave                *bool             `yaml:"auto_save,omitempty"`
	AutoSaveIntervalSeconds int               `yaml:"auto_save_interval_seconds"`
	CustomColors            map[string]string `yaml:"custom_colors,omitempty"`
	EnableNotifications     *bool             `yaml:"enable_notifications,omitempty"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"` // file | sqlite | postgres | memory
	Path        string `yaml:"path"`    // data directory for file and sqlite; empty means DataDir()
	PostgresDSN string `yaml:"postgres_dsn"`
	BackupsKept int    `yaml:"backups_kept"`
	// The postgres password is not stored on disk; it lives in the OS keychain.
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	Theme          string `yaml:"theme"` // "system" | "light" | "dark"
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int              `yaml:"config_version"`
	General       GeneralConfig    `yaml:"general"`
	Highlights    HighlightsConfig `yaml:"highlights"`
	Storage       StorageConfig    `yaml:"storage"`
	Logging       LoggingConfig    `yaml:"logging"`
}

// Storage backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

func boolp(b bool) *bool { return &b }

// Defaults returns the application defaults.
func Defaults() AppConfig {
	d := domain.DefaultConfiguration()
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, Theme: "system"},
		Highlights: HighlightsConfig{
			MaxHighlights:           d.MaxHighlights,
			AutoSave:                boolp(d.AutoSave),
			AutoSaveIntervalSeconds: int(d.AutoSaveInterval / time.Second),
			EnableNotifications:     boolp(d.EnableNotifications),
		},
		Storage: StorageConfig{Backend: BackendFile, BackupsKept: 5},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile       = "VM_CONFIG"
	EnvDataDir          = "VM_DATA_DIR"
	EnvStorageBackend   = "VM_STORAGE_BACKEND"
	EnvPostgresDSN      = "VM_PG_DSN"
	EnvMaxHighlights    = "VM_MAX_HIGHLIGHTS"
	EnvAutoSave         = "VM_AUTOSAVE"
	EnvAutoSaveInterval = "VM_AUTOSAVE_INTERVAL" // seconds
	EnvTelemetryOptIn   = "VM_TELEMETRY_OPT_IN"
	EnvTheme            = "VM_THEME"
	// logging envs are shared with the log package
	EnvLogLevel  = applog.EnvLevel
	EnvLogFormat = applog.EnvFormat
	EnvLogSource = applog.EnvSource
	EnvLogFile   = applog.EnvFile
)

// appDir returns the per-user application directory.
func appDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Versemark")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Versemark")
	default: // linux and others
		if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
			base = filepath.Join(x, "versemark")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "versemark")
		}
	}
	if base == "" || base == "Versemark" || base == "versemark" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path. VM_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	dir, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns the directory holding highlight data for the file and
// sqlite backends: storage.path, then VM_DATA_DIR, then <config dir>/data.
func (c AppConfig) DataDir() (string, error) {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p, nil
	}
	dir, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// It also returns the postgres password from the keyring (not kept inside the struct).
// A malformed file is reported while defaults and overrides are still returned.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		applyEnvOverrides(&cfg)
		return cfg, "", err
	}
	var fileErr error
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			fileErr = fmt.Errorf("parse %s: %w", path, err)
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	pw := ""
	if cfg.Storage.Backend == BackendPostgres {
		pw, _ = tokenStore.Get(keyringService, keyringPostgres)
	}
	return cfg, pw, fileErr
}

// Save writes the user config YAML and persists the postgres password into the OS keyring (if non-empty).
func Save(cfg AppConfig, password string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if password != "" {
		if err := tokenStore.Set(keyringService, keyringPostgres, password); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if src.General.Theme != "" {
		dst.General.Theme = src.General.Theme
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	// highlights
	if src.Highlights.MaxHighlights > 0 {
		dst.Highlights.MaxHighlights = src.Highlights.MaxHighlights
	}
	dst.Highlights.AllowOverlapping = src.Highlights.AllowOverlapping
	if src.Highlights.AutoSave != nil {
		dst.Highlights.AutoSave = boolp(*src.Highlights.AutoSave)
	}
	if src.Highlights.AutoSaveIntervalSeconds > 0 {
		dst.Highlights.AutoSaveIntervalSeconds = src.Highlights.AutoSaveIntervalSeconds
	}
	if len(src.Highlights.CustomColors) > 0 {
		dst.Highlights.CustomColors = make(map[string]string, len(src.Highlights.CustomColors))
		for k, v := range src.Highlights.CustomColors {
			dst.Highlights.CustomColors[k] = v
		}
	}
	if src.Highlights.EnableNotifications != nil {
		dst.Highlights.EnableNotifications = boolp(*src.Highlights.EnableNotifications)
	}
	// storage
	if b := strings.ToLower(strings.TrimSpace(src.Storage.Backend)); b != "" {
		dst.Storage.Backend = b
	}
	if p := strings.TrimSpace(src.Storage.Path); p != "" {
		dst.Storage.Path = p
	}
	if d := strings.TrimSpace(src.Storage.PostgresDSN); d != "" {
		dst.Storage.PostgresDSN = d
	}
	if src.Storage.BackupsKept != 0 {
		dst.Storage.BackupsKept = src.Storage.BackupsKept
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func envBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageBackend)); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxHighlights)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Highlights.MaxHighlights = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvAutoSave)); v != "" {
		cfg.Highlights.AutoSave = boolp(envBool(v))
	}
	if v := strings.TrimSpace(os.Getenv(EnvAutoSaveInterval)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Highlights.AutoSaveIntervalSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTheme)); v != "" {
		cfg.General.Theme = strings.ToLower(v)
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var overrideEnv = map[string]string{
	"storage.path":                          EnvDataDir,
	"storage.backend":                       EnvStorageBackend,
	"storage.postgres_dsn":                  EnvPostgresDSN,
	"highlights.max_highlights":             EnvMaxHighlights,
	"highlights.auto_save":                  EnvAutoSave,
	"highlights.auto_save_interval_seconds": EnvAutoSaveInterval,
	"general.telemetry_opt_in":              EnvTelemetryOptIn,
	"general.theme":                         EnvTheme,
	"logging.level":                         EnvLogLevel,
	"logging.format":                        EnvLogFormat,
	"logging.source":                        EnvLogSource,
	"logging.file":                          EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := overrideEnv[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// OverridableKeys lists the keys EnvOverrideFor knows, sorted.
func OverridableKeys() []string {
	out := make([]string, 0, len(overrideEnv))
	for k := range overrideEnv {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HighlightConfiguration converts the highlights section into the manager
// policy. Custom colors keyed by an unknown color are dropped.
func (c AppConfig) HighlightConfiguration() domain.Configuration {
	d := domain.DefaultConfiguration()
	h := c.Highlights
	out := domain.Configuration{
		MaxHighlights:              h.MaxHighlights,
		AllowOverlappingHighlights: h.AllowOverlapping,
		AutoSave:                   d.AutoSave,
		AutoSaveInterval:           time.Duration(h.AutoSaveIntervalSeconds) * time.Second,
		CustomColors:               make(map[domain.Color]string, len(h.CustomColors)),
		EnableNotifications:        d.EnableNotifications,
	}
	if h.AutoSave != nil {
		out.AutoSave = *h.AutoSave
	}
	if h.EnableNotifications != nil {
		out.EnableNotifications = *h.EnableNotifications
	}
	for k, v := range h.CustomColors {
		if col, err := domain.ParseColor(k); err == nil {
			out.CustomColors[col] = v
		}
	}
	return out.Normalized()
}

// PostgresDSNWithPassword returns the configured DSN with password filled in when the
// DSN is a URL without one.
func (s StorageConfig) PostgresDSNWithPassword(password string) string {
	dsn := strings.TrimSpace(s.PostgresDSN)
	if password == "" || dsn == "" {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return dsn
	}
	if _, has := u.User.Password(); has {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), password)
	return u.String()
}
