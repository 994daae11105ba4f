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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conhub/platform/connectors/base"
)

func items() []base.Item {
	return []base.Item{
		{"id": "old", "modifiedTime": "2023-01-01T00:00:00Z"},
		{"id": "undated"},
		{"id": "newest", "modifiedTime": "2024-09-01T00:00:00Z"},
		{"id": "middle", "modifiedTime": "2024-02-01T00:00:00Z"},
	}
}

func ids(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestBuildSearchPage_OrderAndHasMore(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		wantIDs     []string
		wantHasMore bool
	}{
		{"limit larger than results", 10, []string{"newest", "middle", "old", "undated"}, false},
		{"limit equals results", 4, []string{"newest", "middle", "old", "undated"}, true},
		{"truncated", 2, []string{"newest", "middle"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := BuildSearchPage("test", items(), tt.limit)
			assert.Equal(t, tt.wantIDs, ids(page.Results))
			assert.Equal(t, len(tt.wantIDs), page.Total)
			assert.Equal(t, tt.wantHasMore, page.HasMore)
			for _, r := range page.Results {
				assert.Equal(t, "test", r.Source)
			}
		})
	}
}

func TestBuildSearchPage_Empty(t *testing.T) {
	page := BuildSearchPage("test", nil, 5)
	assert.NotNil(t, page.Results)
	assert.Equal(t, 0, page.Total)
	assert.False(t, page.HasMore)
}

func TestEffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultSearchLimit, EffectiveLimit(0))
	assert.Equal(t, DefaultSearchLimit, EffectiveLimit(-3))
	assert.Equal(t, 7, EffectiveLimit(7))
	assert.Equal(t, MaxSearchLimit, EffectiveLimit(MaxSearchLimit+1))
}

func TestBuildFetchPage(t *testing.T) {
	single := BuildFetchPage("fs", &base.FetchResult{Item: base.Item{"id": "a.txt", "mimeType": "text/plain"}})
	require.NotNil(t, single.Resource)
	assert.Equal(t, TypeText, single.Resource.Type)
	assert.Equal(t, 1, single.Total)

	listing := BuildFetchPage("fs", &base.FetchResult{Items: items()})
	assert.Nil(t, listing.Resource)
	assert.Len(t, listing.Resources, 4)
	assert.Equal(t, 4, listing.Total)

	empty := BuildFetchPage("fs", nil)
	assert.Equal(t, 0, empty.Total)
}

func TestBuildContextPage(t *testing.T) {
	page := BuildContextPage("fs", &base.ContextResult{
		Item:    base.Item{"id": "img.png", "mimeType": "image/png"},
		Content: "",
	})
	assert.Equal(t, TypeImage, page.Resource.Type)
	assert.Equal(t, "", page.Content)
	assert.Equal(t, "fs", page.Resource.Source)
}
