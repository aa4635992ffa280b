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

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below reports its kind through Is, so
// callers can write errors.Is(err, domain.ErrHighlightNotFound).
var (
	ErrMaxHighlightsReached = errors.New("max highlights reached")
	ErrHighlightNotFound    = errors.New("highlight not found")
	ErrPersistence          = errors.New("persistence error")
	ErrInvalidData          = errors.New("invalid data")
	ErrOverlappingHighlight = errors.New("overlapping highlight")
)

// MaxHighlightsReachedError is returned when a new highlight would exceed the limit.
type MaxHighlightsReachedError struct {
	Limit int
}

func (e *MaxHighlightsReachedError) Error() string {
	return fmt.Sprintf("maximum number of highlights reached (%d)", e.Limit)
}

func (e *MaxHighlightsReachedError) Is(target error) bool { return target == ErrMaxHighlightsReached }

// HighlightNotFoundError is returned when an update or removal names an unknown UUID.
type HighlightNotFoundError struct {
	UUID string
}

func (e *HighlightNotFoundError) Error() string {
	return fmt.Sprintf("highlight not found: %s", e.UUID)
}

func (e *HighlightNotFoundError) Is(target error) bool { return target == ErrHighlightNotFound }

// PersistenceError wraps encode, decode and storage failures.
type PersistenceError struct {
	Detail string
	Cause  error
}

func (e *PersistenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("persistence error: %s: %v", e.Detail, e.Cause)
	}
	return "persistence error: " + e.Detail
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// InvalidDataError reports a malformed import payload.
type InvalidDataError struct {
	Detail string
	Cause  error
}

func (e *InvalidDataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid data: %s: %v", e.Detail, e.Cause)
	}
	return "invalid data: " + e.Detail
}

func (e *InvalidDataError) Unwrap() error { return e.Cause }

func (e *InvalidDataError) Is(target error) bool { return target == ErrInvalidData }

// OverlappingHighlightError is reserved; no code path raises it yet.
type OverlappingHighlightError struct {
	UUID string
}

func (e *OverlappingHighlightError) Error() string {
	return fmt.Sprintf("highlight overlaps an existing highlight: %s", e.UUID)
}

func (e *OverlappingHighlightError) Is(target error) bool { return target == ErrOverlappingHighlight }

// Persistence builds a PersistenceError.
func Persistence(detail string, cause error) error {
	return &PersistenceError{Detail: detail, Cause: cause}
}

// InvalidData builds an InvalidDataError.
func InvalidData(detail string, cause error) error {
	return &InvalidDataError{Detail: detail, Cause: cause}
}
