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

// Package resource converts connector-native items into the normalized
// resource descriptors returned to callers.
package resource

import "strings"

// Resource types
const (
	TypeDocument     = "document"
	TypeSpreadsheet  = "spreadsheet"
	TypePresentation = "presentation"
	TypePDF          = "pdf"
	TypeText         = "text"
	TypeImage        = "image"
	TypeFolder       = "folder"
	TypeFile         = "file"
)

// Well-known folder mime types used by connectors for container items.
const (
	MimeDriveFolder = "application/vnd.google-apps.folder"
	MimeDirectory   = "inode/directory"
)

// Descriptor is the normalized output unit. Source always equals the id of
// the connector that produced it.
type Descriptor struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Type         string                 `json:"type"`
	MimeType     string                 `json:"mimeType,omitempty"`
	Size         *int64                 `json:"size,omitempty"`
	ModifiedTime string                 `json:"modifiedTime,omitempty"`
	URL          string                 `json:"url,omitempty"`
	Thumbnail    string                 `json:"thumbnail,omitempty"`
	Source       string                 `json:"source"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// classification rules, first match wins
var classification = []struct {
	substr string
	typ    string
}{
	{"document", TypeDocument},
	{"spreadsheet", TypeSpreadsheet},
	{"presentation", TypePresentation},
	{"pdf", TypePDF},
	{"text", TypeText},
	{"image", TypeImage},
}

// Classify derives the resource type from a mime type. Container mime types
// map to folder; anything unmatched, including an empty mime type, is a file.
func Classify(mimeType string) string {
	m := strings.ToLower(mimeType)
	if m == "" {
		return TypeFile
	}
	for _, rule := range classification {
		if strings.Contains(m, rule.substr) {
			return rule.typ
		}
	}
	if m == MimeDriveFolder || m == MimeDirectory {
		return TypeFolder
	}
	return TypeFile
}
