// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// extractCSV renders rows tab separated, one per line. Unparseable content
// is returned as-is.
func extractCSV(content []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var sb strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return string(content), nil
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.Join(record, "\t"))
	}
	return sb.String(), nil
}

// extractJSON pretty-prints a JSON document; invalid JSON is returned as-is
func extractJSON(content []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(content), "", "  "); err != nil {
		return string(content), nil
	}
	return buf.String(), nil
}

// extractJSONL pretty-prints each record of a JSON lines file
func extractJSONL(content []byte) (string, error) {
	var parts []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, line, "", "  "); err != nil {
			parts = append(parts, string(line))
			continue
		}
		parts = append(parts, buf.String())
	}
	if err := scanner.Err(); err != nil {
		return string(content), nil
	}
	return strings.Join(parts, "\n"), nil
}
