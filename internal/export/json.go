/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/xeipuuv/gojsonschema"

	"versemark/internal/domain"
	"versemark/internal/storage"
)

//go:embed highlights.schema.json
var highlightsSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(highlightsSchema)

// ExportJSON writes the collection as an indented JSON array in the same
// record layout used for persistence.
func ExportJSON(hs []domain.Highlight) ([]byte, error) {
	raw, err := storage.EncodeHighlights(ordered(hs))
	if err != nil {
		return nil, fmt.Errorf("encode highlights: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("indent highlights: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ImportJSON parses an exported JSON array. Comments and trailing commas are
// tolerated; anything that does not match the schema is rejected as a whole.
func ImportJSON(data []byte) ([]domain.Highlight, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.InvalidData("empty JSON document", nil)
	}
	clean := jsonc.ToJSON(data)
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(clean))
	if err != nil {
		return nil, domain.InvalidData("malformed JSON", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, domain.InvalidData("schema mismatch: "+strings.Join(msgs, "; "), nil)
	}
	hs, err := storage.DecodeHighlights(clean)
	if err != nil {
		return nil, domain.InvalidData("decode highlights", err)
	}
	return hs, nil
}
