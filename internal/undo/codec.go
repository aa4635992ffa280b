/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"versemark/internal/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano, Sort: cbor.SortCoreDeterministic}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeCollection packs a highlight collection into a compact CBOR blob.
func EncodeCollection(hs []domain.Highlight) ([]byte, error) {
	if hs == nil {
		hs = []domain.Highlight{}
	}
	b, err := encMode.Marshal(hs)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeCollection restores a collection packed by EncodeCollection.
func DecodeCollection(b []byte) ([]domain.Highlight, error) {
	var hs []domain.Highlight
	if err := decMode.Unmarshal(b, &hs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for i := range hs {
		hs[i] = hs[i].Clone()
		hs[i].CreatedAt = hs[i].CreatedAt.UTC()
		hs[i].UpdatedAt = hs[i].UpdatedAt.UTC()
	}
	return hs, nil
}
