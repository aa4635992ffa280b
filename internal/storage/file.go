/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	applog "versemark/internal/log"
)

const (
	BackupsDirName  = "backups"
	fileValueSuffix = ".dat"
	backupSuffix    = ".zst"

	// DefaultBackupsKept bounds the number of compressed backups per key.
	DefaultBackupsKept = 5
)

// FileKV stores each key as one file under Dir. Writes go to a temp file in
// the same directory which is synced and renamed over the target, so readers
// see either the old or the new value. The previous value is kept as a
// zstd-compressed timestamped backup under Dir/backups.
type FileKV struct {
	Dir         string
	BackupsKept int // <0 disables backups, 0 means DefaultBackupsKept

	mu       sync.Mutex
	lastBack time.Time
}

// NewFileKV creates dir if needed and returns a FileKV rooted there.
func NewFileKV(dir string) (*FileKV, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileKV{Dir: dir}, nil
}

// Path returns the file holding key.
func (f *FileKV) Path(key string) string {
	return filepath.Join(f.Dir, fileName(key)+fileValueSuffix)
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(f.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return b, true, nil
}

func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.Path(key)
	prev, perr := os.ReadFile(target)
	if perr == nil && bytes.Equal(prev, value) {
		// unchanged; rewriting would only push the current value into the backups
		return nil
	}
	if f.BackupsKept >= 0 {
		if perr == nil && len(prev) > 0 {
			if err := f.writeBackup(key, prev); err != nil {
				// a failed backup must not block saving the new value
				applog.WithOperation(applog.WithComponent("storage"), "file_backup").Warn("backup failed",
					slog.String("key", key), slog.Any("err", err))
			}
		}
	}

	tmp, err := os.CreateTemp(f.Dir, "."+fileName(key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		if !replaceBlocked(err, target) {
			cleanup()
			return fmt.Errorf("replace %s: %w", key, err)
		}
		// Windows refuses to rename over an existing file
		_ = os.Remove(target)
		if rerr := os.Rename(tmpName, target); rerr != nil {
			cleanup()
			return fmt.Errorf("replace %s: %w", key, rerr)
		}
	}
	return nil
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Backups lists the backup files for key, oldest first.
func (f *FileKV) Backups(key string) ([]string, error) {
	dir := filepath.Join(f.Dir, BackupsDirName)
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	prefix := fileName(key) + "."
	var out []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, backupSuffix) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out) // the timestamp in the name sorts chronologically
	return out, nil
}

// LatestBackup returns the decompressed content of the newest backup of key.
func (f *FileKV) LatestBackup(key string) ([]byte, error) {
	list, err := f.Backups(key)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("no backups found")
	}
	raw, err := os.ReadFile(list[len(list)-1])
	if err != nil {
		return nil, fmt.Errorf("read latest backup: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress backup: %w", err)
	}
	return out, nil
}

// RestoreLatestBackup replaces the current value of key with its newest backup.
func (f *FileKV) RestoreLatestBackup(ctx context.Context, key string) error {
	b, err := f.LatestBackup(key)
	if err != nil {
		return err
	}
	return f.Set(ctx, key, b)
}

func (f *FileKV) writeBackup(key string, data []byte) error {
	dir := filepath.Join(f.Dir, BackupsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(data, nil)
	_ = enc.Close()

	ts := time.Now().UTC()
	if !ts.After(f.lastBack) {
		ts = f.lastBack.Add(time.Nanosecond)
	}
	f.lastBack = ts
	stamp := ts.Format("20060102-150405.000000000")
	path := filepath.Join(dir, fmt.Sprintf("%s.%s%s", fileName(key), stamp, backupSuffix))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return err
	}
	return f.pruneBackups(key)
}

func (f *FileKV) pruneBackups(key string) error {
	keep := f.BackupsKept
	if keep == 0 {
		keep = DefaultBackupsKept
	}
	list, err := f.Backups(key)
	if err != nil {
		return err
	}
	for len(list) > keep {
		if err := os.Remove(list[0]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		list = list[1:]
	}
	return nil
}

// replaceBlocked reports whether a failed rename is the Windows refusal to
// overwrite an existing file. Any other failure leaves the target in place.
func replaceBlocked(err error, target string) bool {
	if runtime.GOOS != "windows" || !errors.Is(err, os.ErrPermission) && !errors.Is(err, os.ErrExist) {
		return false
	}
	_, serr := os.Stat(target)
	return serr == nil
}

// fileName maps a key to a portable file name.
func fileName(key string) string {
	b := []byte(key)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
