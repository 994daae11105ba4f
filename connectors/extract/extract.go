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

// Package extract turns downloaded resource content into plain text for
// getContext. The format is chosen from the MIME type, falling back to the
// file extension when the MIME type is missing or generic.
package extract

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBytes bounds how much content a connector downloads for extraction
const DefaultMaxBytes int64 = 10 << 20

// Format is the extraction strategy for a resource
type Format string

const (
	FormatPDF    Format = "pdf"
	FormatHTML   Format = "html"
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatJSONL  Format = "jsonl"
	FormatText   Format = "text"
	FormatBinary Format = "binary"
)

// ErrBinary is returned by Text for content with no textual representation
var ErrBinary = errors.New("content is not textual")

var mimeFormats = map[string]Format{
	"application/pdf":         FormatPDF,
	"text/html":               FormatHTML,
	"application/xhtml+xml":   FormatHTML,
	"text/csv":                FormatCSV,
	"application/json":        FormatJSON,
	"application/x-ndjson":    FormatJSONL,
	"application/jsonl":       FormatJSONL,
	"application/xml":         FormatText,
	"application/javascript":  FormatText,
	"application/x-yaml":      FormatText,
	"application/yaml":        FormatText,
	"application/x-sh":        FormatText,
	"application/sql":         FormatText,
	"application/toml":        FormatText,
	"application/x-httpd-php": FormatText,
}

var extFormats = map[string]Format{
	".pdf":    FormatPDF,
	".html":   FormatHTML,
	".htm":    FormatHTML,
	".csv":    FormatCSV,
	".json":   FormatJSON,
	".jsonl":  FormatJSONL,
	".ndjson": FormatJSONL,
	".txt":    FormatText,
	".md":     FormatText,
	".go":     FormatText,
	".py":     FormatText,
	".js":     FormatText,
	".ts":     FormatText,
	".java":   FormatText,
	".rs":     FormatText,
	".c":      FormatText,
	".h":      FormatText,
	".yaml":   FormatText,
	".yml":    FormatText,
	".toml":   FormatText,
	".xml":    FormatText,
	".sh":     FormatText,
	".sql":    FormatText,
	".log":    FormatText,
}

// Detect picks the extraction format for a resource
func Detect(mimeType, name string) Format {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}

	if f, ok := mimeFormats[mt]; ok {
		return f
	}
	if strings.HasPrefix(mt, "text/") {
		return FormatText
	}

	if f, ok := extFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f
	}
	if mt == "" || mt == "application/octet-stream" {
		// unknown; extraction decides from the bytes
		return ""
	}
	return FormatBinary
}

// IsTextual reports whether content of this type is worth downloading for
// extraction
func IsTextual(mimeType, name string) bool {
	return Detect(mimeType, name) != FormatBinary
}

// Text extracts plain text from content. Undetectable content is treated as
// text when it is valid UTF-8 and as binary otherwise.
func Text(content []byte, mimeType, name string) (string, error) {
	switch Detect(mimeType, name) {
	case FormatPDF:
		return extractPDF(content)
	case FormatHTML:
		return extractHTML(content)
	case FormatCSV:
		return extractCSV(content)
	case FormatJSON:
		return extractJSON(content)
	case FormatJSONL:
		return extractJSONL(content)
	case FormatText:
		return string(content), nil
	case FormatBinary:
		return "", ErrBinary
	default:
		if utf8.Valid(content) {
			return string(content), nil
		}
		return "", ErrBinary
	}
}

// ReadLimited reads at most max bytes from r and reports whether the content
// was truncated.
func ReadLimited(r io.Reader, max int64) ([]byte, bool, error) {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > max {
		return data[:max], true, nil
	}
	return data, false, nil
}
