/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type flushSpy struct {
	calls int
	err   error
}

func (f *flushSpy) SaveNow(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport("", "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "Versemark Crash Report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
}

func silenceStderr(t *testing.T) {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	t.Cleanup(func() {
		_ = w.Close()
		os.Stderr = old
		_, _ = io.Copy(io.Discard, r)
	})
}

func TestRecoverFlushesAndExits(t *testing.T) {
	for _, flushErr := range []error{nil, errors.New("disk full")} {
		silenceStderr(t)
		code := 0
		oldExit := exitFn
		exitFn = func(c int) { code = c }
		dir := t.TempDir()
		spy := &flushSpy{err: flushErr}

		func() {
			defer Recover(spy, dir)
			panic("boom")
		}()
		exitFn = oldExit

		if code != 2 {
			t.Fatalf("expected exit code 2, got %d", code)
		}
		if spy.calls != 1 {
			t.Fatalf("expected one flush, got %d", spy.calls)
		}
		files, _ := os.ReadDir(filepath.Join(dir, "crash"))
		if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "crash-") {
			t.Fatalf("expected one crash report, got %v", files)
		}
		b, _ := os.ReadFile(filepath.Join(dir, "crash", files[0].Name()))
		if !bytes.Contains(b, []byte("Panic: boom")) {
			t.Fatalf("report does not contain panic: %s", b)
		}
	}
}

func TestRecoverWithoutPanicIsNoop(t *testing.T) {
	called := false
	oldExit := exitFn
	exitFn = func(int) { called = true }
	defer func() { exitFn = oldExit }()
	spy := &flushSpy{}
	func() {
		defer Recover(spy, t.TempDir())
	}()
	if called || spy.calls != 0 {
		t.Fatalf("Recover acted without a panic")
	}
}
