/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package storage persists the highlight collection.
// HighlightStore writes the whole collection as one JSON blob under a fixed key of an injected KV,
// next to a decimal schema version used for forward migrations.
// KV backends: MemoryKV for tests, FileKV with atomic writes and zstd-compressed backups,
// SQLiteKV over an embedded database and PostgresKV for a shared server.
package storage
