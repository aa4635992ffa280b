/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Command versemark manages text highlights from the terminal and launches
// the desktop shell.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"versemark/internal/crash"
	applog "versemark/internal/log"
	"versemark/internal/telemetry"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	applog.Init(applog.FromEnv())
	defer func() { _ = applog.Close() }()
	defer func() { telemetry.Default().Close() }()

	var a *app
	defer crash.Recover(flusher{&a}, "")

	root := newRootCmd(&a)
	err := root.Execute()
	if a != nil {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
