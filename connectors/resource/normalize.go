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

package resource

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"conhub/platform/connectors/base"
)

// Provider field aliases, checked in order. Drive, GitHub, Dropbox, S3,
// GCS, Azure and filesystem items all resolve through these tables.
var (
	idKeys        = []string{"id", "Id", "ID", "path_lower", "Key", "key", "path", "name", "Name"}
	titleKeys     = []string{"title", "name", "Name", "full_name", "path_display", "path", "Key", "key"}
	mimeKeys      = []string{"mimeType", "mime_type", "contentType", "ContentType", "content_type"}
	sizeKeys      = []string{"size", "Size", "ContentLength", "bytes"}
	modifiedKeys  = []string{"modifiedTime", "modified_time", "server_modified", "updated_at", "pushed_at", "LastModified", "lastModified", "Updated", "mtime"}
	urlKeys       = []string{"url", "webViewLink", "html_url", "webUrl", "web_url", "link", "MediaLink"}
	thumbnailKeys = []string{"thumbnail", "thumbnailLink", "thumbnail_url", "avatar_url"}
)

// Normalize converts a native item into a Descriptor. It never fails:
// missing fields stay empty and unknown values are carried in Metadata.
func Normalize(source string, item base.Item) Descriptor {
	consumed := make(map[string]bool)

	d := Descriptor{Source: source}
	d.ID, _ = stringField(item, idKeys, consumed)
	d.Title, _ = stringField(item, titleKeys, consumed)
	if d.Title == "" {
		d.Title = d.ID
	}
	d.MimeType, _ = stringField(item, mimeKeys, consumed)
	d.Type = Classify(d.MimeType)

	if raw, key := firstPresent(item, sizeKeys); key != "" {
		consumed[key] = true
		if n, ok := toInt64(raw); ok {
			d.Size = &n
		}
	}

	if raw, key := firstPresent(item, modifiedKeys); key != "" {
		consumed[key] = true
		if ts, ok := toTime(raw); ok {
			d.ModifiedTime = ts.UTC().Format(time.RFC3339)
		} else if s, ok := raw.(string); ok {
			d.ModifiedTime = s
		}
	}

	d.URL, _ = stringField(item, urlKeys, consumed)
	d.Thumbnail, _ = stringField(item, thumbnailKeys, consumed)

	for k, v := range item {
		if consumed[k] || v == nil {
			continue
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]interface{})
		}
		d.Metadata[k] = v
	}
	return d
}

// NormalizeAll normalizes every item, preserving order.
func NormalizeAll(source string, items []base.Item) []Descriptor {
	out := make([]Descriptor, 0, len(items))
	for _, item := range items {
		out = append(out, Normalize(source, item))
	}
	return out
}

func firstPresent(item base.Item, keys []string) (interface{}, string) {
	for _, k := range keys {
		if v, ok := item[k]; ok && v != nil {
			return v, k
		}
	}
	return nil, ""
}

func stringField(item base.Item, keys []string, consumed map[string]bool) (string, bool) {
	for _, k := range keys {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		s := toString(v)
		if s == "" {
			continue
		}
		consumed[k] = true
		return s, true
	}
	return "", false
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int32, int64, json.Number:
		return fmt.Sprint(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case *int64:
		if t == nil {
			return 0, false
		}
		return *t, true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case int64:
		return time.Unix(t, 0), true
	case float64:
		return time.Unix(int64(t), 0), true
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// ModifiedAt parses a descriptor's ModifiedTime; ok is false when absent
// or unparseable.
func (d Descriptor) ModifiedAt() (time.Time, bool) {
	if d.ModifiedTime == "" {
		return time.Time{}, false
	}
	return toTime(d.ModifiedTime)
}
