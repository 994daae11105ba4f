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
	"bytes"
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/extract"
	"conhub/platform/connectors/resource"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "filesystem"

const (
	// maxContentScan bounds the size of files searched by content
	maxContentScan = 1 << 20
)

// Connector serves a local directory tree. It needs no per-principal
// credentials.
type Connector struct {
	*sdk.BaseConnector

	mu   sync.RWMutex
	root string
}

// NewConnector creates a filesystem connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("Local Files").
		WithCapabilities(base.OpFetch, base.OpSearch, base.OpGetContext).
		WithValidator(sdk.NewDefaultConfigValidator([]string{"root"}, nil)).
		WithRetryConfig(sdk.NoRetry()).
		Build()
	return &Connector{BaseConnector: bc}
}

// RequiresAuth implements base.AuthRequirer
func (c *Connector) RequiresAuth() bool {
	return false
}

// Initialize checks that the configured root is a readable directory
func (c *Connector) Initialize(ctx context.Context, cfg *base.ConnectorConfig) error {
	if c.IsInitialized() {
		return nil
	}
	if err := c.Configure(ctx, cfg); err != nil {
		return err
	}

	root, err := filepath.Abs(c.GetStringOption("root", ""))
	if err != nil {
		return base.InitializationError(c.ID(), "invalid root", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return base.InitializationError(c.ID(), "root is not accessible", err)
	}
	if !info.IsDir() {
		return base.InitializationError(c.ID(), "root is not a directory", nil)
	}

	c.mu.Lock()
	c.root = root
	c.mu.Unlock()

	if name := c.GetStringOption("display_name", ""); name != "" {
		c.SetName(name)
	}
	c.MarkInitialized()
	c.Log("Serving %s", root)
	return nil
}

// HealthCheck verifies the root is still a directory
func (c *Connector) HealthCheck(ctx context.Context) *base.HealthStatus {
	start := time.Now()
	root, err := c.rootDir(base.OpHealth)
	if err != nil {
		return &base.HealthStatus{Healthy: false, Message: "not initialized", Timestamp: time.Now()}
	}

	info, err := os.Stat(root)
	status := &base.HealthStatus{
		Healthy:   err == nil && info.IsDir(),
		Latency:   time.Since(start),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"root": root},
	}
	if err != nil {
		status.Message = err.Error()
	} else if !info.IsDir() {
		status.Message = "root is not a directory"
	}
	return status
}

// Fetch implements base.Connector
func (c *Connector) Fetch(ctx context.Context, q *base.FetchQuery) (*base.FetchResult, error) {
	start := time.Now()
	root, err := c.rootDir(base.OpFetch)
	if err != nil {
		return nil, err
	}

	var res *base.FetchResult
	switch q.Type {
	case base.QueryFile:
		if q.FileID == "" {
			return nil, base.InvalidArgumentError(c.ID(), base.OpFetch, "fileId is required")
		}
		var item base.Item
		item, err = c.stat(root, q.FileID, base.OpFetch)
		if err == nil {
			res = &base.FetchResult{Item: item}
		}
	case base.QueryFolder:
		var items []base.Item
		items, err = c.listDir(root, q.FolderID)
		res = &base.FetchResult{Items: items}
	case base.QueryRecent:
		var items []base.Item
		items, err = c.walk(ctx, root, resource.EffectiveLimit(q.Limit), func(string, fs.DirEntry) bool { return true })
		res = &base.FetchResult{Items: items}
	case base.QuerySearch:
		var sr *base.SearchResult
		sr, err = c.search(ctx, root, q.Query, &base.SearchOptions{Limit: q.Limit})
		if err == nil {
			res = &base.FetchResult{Items: sr.Items}
		}
	default:
		err = base.UnsupportedQueryError(c.ID(), q.Type)
	}
	return res, c.Track(base.OpFetch, start, err)
}

// Search matches file names, then file contents, case-insensitively
func (c *Connector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	start := time.Now()
	root, err := c.rootDir(base.OpSearch)
	if err != nil {
		return nil, err
	}
	res, err := c.search(ctx, root, query, opts)
	return res, c.Track(base.OpSearch, start, err)
}

func (c *Connector) search(ctx context.Context, root, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	since, err := opts.ModifiedSince()
	if err != nil {
		return nil, base.InvalidArgumentError(c.ID(), base.OpSearch, "modifiedTime must be RFC 3339")
	}
	var mimeType string
	if opts != nil {
		mimeType = opts.MimeType
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	limit := 0
	if opts != nil {
		limit = opts.Limit
	}

	items, err := c.walk(ctx, root, resource.EffectiveLimit(limit), func(path string, d fs.DirEntry) bool {
		if d.IsDir() {
			return false
		}
		info, err := d.Info()
		if err != nil {
			return false
		}
		if !since.IsZero() && !info.ModTime().After(since) {
			return false
		}
		if mimeType != "" && mimeTypeOf(path, false) != mimeType {
			return false
		}
		if needle == "" || strings.Contains(strings.ToLower(d.Name()), needle) {
			return true
		}
		return contentMatches(path, info, needle)
	})
	if err != nil {
		return nil, err
	}
	return &base.SearchResult{Items: items}, nil
}

// GetContext reads a file and extracts its text. Binary files return an
// empty content with binary set in the metadata.
func (c *Connector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	start := time.Now()
	root, err := c.rootDir(base.OpGetContext)
	if err != nil {
		return nil, err
	}
	res, err := c.getContext(root, resourceID, opts)
	return res, c.Track(base.OpGetContext, start, err)
}

func (c *Connector) getContext(root, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	item, err := c.stat(root, resourceID, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	if item["isFolder"] == true {
		return nil, base.InvalidArgumentError(c.ID(), base.OpGetContext, "resource is a directory")
	}

	path, _ := base.ResolveWithinRoot(root, resourceID)
	f, err := os.Open(path)
	if err != nil {
		return nil, c.fsError(base.OpGetContext, resourceID, err)
	}
	defer f.Close()

	var maxBytes int64
	if opts != nil {
		maxBytes = opts.MaxBytes
	}
	data, truncated, err := extract.ReadLimited(f, maxBytes)
	if err != nil {
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to read file", err)
	}

	meta := map[string]interface{}{"truncated": truncated}
	mimeType, _ := item["mimeType"].(string)
	text, err := extract.Text(data, mimeType, filepath.Base(path))
	switch {
	case errors.Is(err, extract.ErrBinary):
		meta["binary"] = true
	case err != nil:
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to extract text", err)
	}
	return &base.ContextResult{Item: item, Content: text, Metadata: meta}, nil
}

func (c *Connector) rootDir(op string) (string, error) {
	if err := c.RequireInitialized(op); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root, nil
}

// stat resolves rel inside root. Paths escaping the root are reported as
// not found so callers learn nothing about the host filesystem.
func (c *Connector) stat(root, rel, op string) (base.Item, error) {
	path, err := base.ResolveWithinRoot(root, rel)
	if err != nil {
		return nil, base.NotFoundError(c.ID(), op, "resource not found: "+rel, nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, c.fsError(op, rel, err)
	}
	return toItem(root, path, info), nil
}

func (c *Connector) listDir(root, rel string) ([]base.Item, error) {
	path, err := base.ResolveWithinRoot(root, rel)
	if err != nil {
		return nil, base.NotFoundError(c.ID(), base.OpFetch, "folder not found: "+rel, nil)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, c.fsError(base.OpFetch, rel, err)
	}

	items := make([]base.Item, 0, len(entries))
	for _, entry := range entries {
		if isHidden(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, toItem(root, filepath.Join(path, entry.Name()), info))
	}
	return items, nil
}

// walk collects items under root accepted by match, skipping hidden entries
// walk returns the keep most recently modified files under root accepted by
// match, newest first. The whole tree is visited so the cut never depends on
// traversal order.
func (c *Connector) walk(ctx context.Context, root string, keep int, match func(string, fs.DirEntry) bool) ([]base.Item, error) {
	newest := newNewestN(keep)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// unreadable subtree
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || escapes(root, path, d) || !match(path, d) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		newest.offer(toItem(root, path, info), info.ModTime())
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, base.NewConnectorError(c.ID(), "walk", "failed to walk root", err)
	}
	return newest.items(), nil
}

// escapes reports a symlink whose target lies outside root
func escapes(root, path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	_, err = base.ResolveWithinRoot(root, rel)
	return err != nil
}

func (c *Connector) fsError(op, rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return base.NotFoundError(c.ID(), op, "resource not found: "+rel, err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return base.AuthenticationError(c.ID(), op, "permission denied: "+rel, err)
	}
	return base.NewConnectorError(c.ID(), op, "filesystem error", err)
}

func toItem(root, path string, info fs.FileInfo) base.Item {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = info.Name()
	}
	rel = filepath.ToSlash(rel)

	item := base.Item{
		"id":           rel,
		"name":         info.Name(),
		"path":         rel,
		"mimeType":     mimeTypeOf(path, info.IsDir()),
		"modifiedTime": info.ModTime().UTC(),
		"isFolder":     info.IsDir(),
	}
	if !info.IsDir() {
		item["size"] = info.Size()
	}
	return item
}

func mimeTypeOf(path string, isDir bool) string {
	if isDir {
		return resource.MimeDirectory
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
		return t
	}
	return ""
}

func contentMatches(path string, info fs.FileInfo, needle string) bool {
	if info.Size() > maxContentScan || !extract.IsTextual(mimeTypeOf(path, false), info.Name()) {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(bytes.ToLower(data), []byte(needle))
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

