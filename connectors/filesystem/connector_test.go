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

package filesystem

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conhub/platform/connectors/base"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, root, rel, content string, age time.Duration) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	mtime := epoch.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newTestConnector(t *testing.T) (*Connector, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "report.json", `{"title":"Quarterly Report"}`, 3*time.Hour)
	writeFile(t, root, "notes.html", "<html><body><h1>Meeting</h1><p>budget review</p></body></html>", time.Hour)
	writeFile(t, root, "archive/old-report.json", `{"year":2019}`, 48*time.Hour)
	writeFile(t, root, ".secret/token.json", `{"report":"hidden"}`, 0)

	conn := NewConnector("docs")
	conn.SetLogger(log.New(io.Discard, "", 0))
	require.NoError(t, conn.Initialize(context.Background(), &base.ConnectorConfig{
		Options: map[string]interface{}{"root": root},
	}))
	return conn, root
}

func ids(items []base.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item["id"].(string))
	}
	return out
}

func TestNewConnector(t *testing.T) {
	conn := NewConnector("docs")
	d := conn.Descriptor()

	assert.Equal(t, "docs", d.ID)
	assert.Equal(t, []string{base.OpFetch, base.OpSearch, base.OpGetContext}, d.Capabilities)
	assert.Equal(t, Type, d.Metadata["type"])
	assert.False(t, conn.RequiresAuth())
	assert.False(t, conn.IsInitialized())
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("missing root", func(t *testing.T) {
		conn := NewConnector("docs")
		conn.SetLogger(log.New(io.Discard, "", 0))
		err := conn.Initialize(ctx, &base.ConnectorConfig{})
		assert.Equal(t, base.KindInitialization, base.KindOf(err))
	})

	t.Run("root is a file", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "f.txt", "x", 0)
		conn := NewConnector("docs")
		conn.SetLogger(log.New(io.Discard, "", 0))
		err := conn.Initialize(ctx, &base.ConnectorConfig{
			Options: map[string]interface{}{"root": filepath.Join(root, "f.txt")},
		})
		assert.Equal(t, base.KindInitialization, base.KindOf(err))
	})

	t.Run("data ops before initialize", func(t *testing.T) {
		conn := NewConnector("docs")
		_, err := conn.Search(ctx, "x", nil)
		assert.Equal(t, base.KindInitialization, base.KindOf(err))
	})

	t.Run("idempotent", func(t *testing.T) {
		conn, _ := newTestConnector(t)
		assert.NoError(t, conn.Initialize(ctx, nil))
		assert.True(t, conn.IsInitialized())
	})
}

func TestHealthCheck(t *testing.T) {
	conn, root := newTestConnector(t)
	assert.True(t, conn.HealthCheck(context.Background()).Healthy)

	require.NoError(t, os.RemoveAll(root))
	status := conn.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Message)
}

func TestSearch(t *testing.T) {
	conn, _ := newTestConnector(t)
	ctx := context.Background()

	t.Run("name match is case-insensitive", func(t *testing.T) {
		res, err := conn.Search(ctx, "REPORT", nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"report.json", "archive/old-report.json"}, ids(res.Items))
	})

	t.Run("content match", func(t *testing.T) {
		res, err := conn.Search(ctx, "budget", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"notes.html"}, ids(res.Items))
	})

	t.Run("mime filter", func(t *testing.T) {
		res, err := conn.Search(ctx, "", &base.SearchOptions{MimeType: "text/html"})
		require.NoError(t, err)
		assert.Equal(t, []string{"notes.html"}, ids(res.Items))
	})

	t.Run("modified since", func(t *testing.T) {
		since := epoch.Add(-24 * time.Hour).Format(time.RFC3339)
		res, err := conn.Search(ctx, "report", &base.SearchOptions{ModifiedTime: since})
		require.NoError(t, err)
		assert.Equal(t, []string{"report.json"}, ids(res.Items))
	})

	t.Run("hidden entries skipped", func(t *testing.T) {
		res, err := conn.Search(ctx, "hidden", nil)
		require.NoError(t, err)
		assert.Empty(t, res.Items)
	})

	t.Run("bad modified time", func(t *testing.T) {
		_, err := conn.Search(ctx, "x", &base.SearchOptions{ModifiedTime: "yesterday"})
		assert.Equal(t, base.KindInvalidArgument, base.KindOf(err))
	})
}

func TestFetch(t *testing.T) {
	conn, _ := newTestConnector(t)
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		res, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFile, FileID: "archive/old-report.json"})
		require.NoError(t, err)
		assert.Equal(t, "old-report.json", res.Item["name"])
		assert.Equal(t, int64(13), res.Item["size"])
	})

	t.Run("folder", func(t *testing.T) {
		res, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFolder})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"archive", "notes.html", "report.json"}, ids(res.Items))
	})

	t.Run("recent", func(t *testing.T) {
		res, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryRecent, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"notes.html", "report.json"}, ids(res.Items))
	})

	t.Run("search", func(t *testing.T) {
		res, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QuerySearch, Query: "old"})
		require.NoError(t, err)
		assert.Equal(t, []string{"archive/old-report.json"}, ids(res.Items))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFile, FileID: "nope.txt"})
		assert.Equal(t, base.KindNotFound, base.KindOf(err))
	})

	t.Run("traversal is not found", func(t *testing.T) {
		_, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFile, FileID: "../../etc/passwd"})
		assert.Equal(t, base.KindNotFound, base.KindOf(err))
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := conn.Fetch(ctx, &base.FetchQuery{Type: "shared"})
		assert.Equal(t, base.KindUnsupportedQuery, base.KindOf(err))
	})

	t.Run("file without id", func(t *testing.T) {
		_, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFile})
		assert.Equal(t, base.KindInvalidArgument, base.KindOf(err))
	})
}

func TestGetContext(t *testing.T) {
	conn, root := newTestConnector(t)
	ctx := context.Background()

	t.Run("html is extracted", func(t *testing.T) {
		res, err := conn.GetContext(ctx, "notes.html", nil)
		require.NoError(t, err)
		assert.Equal(t, "Meeting\nbudget review", res.Content)
		assert.Equal(t, false, res.Metadata["truncated"])
	})

	t.Run("truncated", func(t *testing.T) {
		res, err := conn.GetContext(ctx, "archive/old-report.json", &base.ContextOptions{MaxBytes: 4})
		require.NoError(t, err)
		assert.Equal(t, true, res.Metadata["truncated"])
	})

	t.Run("binary", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x81}, 0o644))
		res, err := conn.GetContext(ctx, "blob.bin", nil)
		require.NoError(t, err)
		assert.Empty(t, res.Content)
		assert.Equal(t, true, res.Metadata["binary"])
	})

	t.Run("directory", func(t *testing.T) {
		_, err := conn.GetContext(ctx, "archive", nil)
		assert.Equal(t, base.KindInvalidArgument, base.KindOf(err))
	})

	t.Run("escape", func(t *testing.T) {
		_, err := conn.GetContext(ctx, "../outside.txt", nil)
		assert.Equal(t, base.KindNotFound, base.KindOf(err))
	})
}

func TestCleanup(t *testing.T) {
	conn, _ := newTestConnector(t)
	require.NoError(t, conn.Cleanup(context.Background()))
	assert.False(t, conn.IsInitialized())
	require.NoError(t, conn.Cleanup(context.Background()))
}

func TestSearch_KeepsNewestAcrossLargeTrees(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 1000; i++ {
		writeFile(t, root, fmt.Sprintf("a-report-%04d.txt", i), "old", 48*time.Hour)
	}
	writeFile(t, root, "z-report-newest.txt", "new", 0)

	conn := NewConnector("docs")
	conn.SetLogger(log.New(io.Discard, "", 0))
	require.NoError(t, conn.Initialize(context.Background(), &base.ConnectorConfig{
		Options: map[string]interface{}{"root": root},
	}))
	ctx := context.Background()

	res, err := conn.Search(ctx, "report", &base.SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"z-report-newest.txt"}, ids(res.Items))

	recent, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryRecent, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"z-report-newest.txt"}, ids(recent.Items))
}

func TestNewestN(t *testing.T) {
	keep := newNewestN(2)
	keep.offer(base.Item{"id": "b"}, epoch.Add(-time.Hour))
	keep.offer(base.Item{"id": "c"}, epoch)
	keep.offer(base.Item{"id": "a"}, epoch.Add(-2*time.Hour))
	keep.offer(base.Item{"id": "d"}, epoch)
	assert.Equal(t, []string{"c", "d"}, ids(keep.items()))

	assert.Empty(t, newNewestN(0).items())
}

func TestSymlinkOutsideRoot(t *testing.T) {
	conn, root := newTestConnector(t)
	outside := filepath.Join(t.TempDir(), "credentials.txt")
	require.NoError(t, os.WriteFile(outside, []byte("aws_secret=hunter2"), 0o600))
	if err := os.Symlink(outside, filepath.Join(root, "linked.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	ctx := context.Background()

	_, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFile, FileID: "linked.txt"})
	assert.Equal(t, base.KindNotFound, base.KindOf(err))

	_, err = conn.GetContext(ctx, "linked.txt", nil)
	assert.Equal(t, base.KindNotFound, base.KindOf(err))

	res, err := conn.Search(ctx, "hunter2", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = conn.Search(ctx, "linked", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}
