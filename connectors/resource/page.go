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
	"sort"

	"conhub/platform/connectors/base"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// SearchPage is the normalized search response.
//
// HasMore is best-effort: it is true whenever the page is full, which is a
// false positive when the upstream holds exactly Limit matches.
type SearchPage struct {
	Results []Descriptor `json:"results"`
	Total   int          `json:"total"`
	HasMore bool         `json:"hasMore"`
}

// FetchPage is the normalized fetch response.
type FetchPage struct {
	Resource  *Descriptor  `json:"resource,omitempty"`
	Resources []Descriptor `json:"resources,omitempty"`
	Total     int          `json:"total"`
}

// ContextPage is the normalized getContext response.
type ContextPage struct {
	Resource Descriptor             `json:"resource"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EffectiveLimit clamps a requested limit into [1, MaxSearchLimit].
func EffectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}

// BuildSearchPage normalizes items, orders them newest first, truncates to
// limit and derives hasMore.
func BuildSearchPage(source string, items []base.Item, limit int) SearchPage {
	limit = EffectiveLimit(limit)
	results := NormalizeAll(source, items)
	SortByModifiedDesc(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return SearchPage{
		Results: results,
		Total:   len(results),
		HasMore: len(results) == limit,
	}
}

// BuildFetchPage normalizes a fetch result. Single-item results fill
// Resource; listings fill Resources.
func BuildFetchPage(source string, res *base.FetchResult) FetchPage {
	if res == nil {
		return FetchPage{Resources: []Descriptor{}}
	}
	if res.Item != nil {
		d := Normalize(source, res.Item)
		return FetchPage{Resource: &d, Total: 1}
	}
	resources := NormalizeAll(source, res.Items)
	return FetchPage{Resources: resources, Total: len(resources)}
}

// BuildContextPage normalizes a getContext result.
func BuildContextPage(source string, res *base.ContextResult) ContextPage {
	if res == nil {
		return ContextPage{Resource: Normalize(source, nil)}
	}
	return ContextPage{
		Resource: Normalize(source, res.Item),
		Content:  res.Content,
		Metadata: res.Metadata,
	}
}

// SortByModifiedDesc orders descriptors newest first. Descriptors without a
// parseable modification time sort last, keeping their relative order.
func SortByModifiedDesc(ds []Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		ti, okI := ds[i].ModifiedAt()
		tj, okJ := ds[j].ModifiedAt()
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI:
			return true
		default:
			return false
		}
	})
}
