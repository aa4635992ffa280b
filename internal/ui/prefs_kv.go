//go:build fyne

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
	"encoding/base64"
	"fmt"

	"fyne.io/fyne/v2"
)

const prefsKeyPrefix = "kv."

// PreferencesKV stores values in the Fyne application preferences. Values
// are base64 encoded because preferences only hold strings.
type PreferencesKV struct {
	prefs fyne.Preferences
}

func NewPreferencesKV(p fyne.Preferences) *PreferencesKV { return &PreferencesKV{prefs: p} }

func (k *PreferencesKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := k.prefs.String(prefsKeyPrefix + key)
	if s == "" {
		return nil, false, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false, fmt.Errorf("preferences key %q: %w", key, err)
	}
	return b, true, nil
}

func (k *PreferencesKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.prefs.SetString(prefsKeyPrefix+key, base64.StdEncoding.EncodeToString(value))
	return nil
}

func (k *PreferencesKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.prefs.RemoveValue(prefsKeyPrefix + key)
	return nil
}
