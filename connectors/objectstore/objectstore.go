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

// Package objectstore implements the connector contract over a flat object
// namespace. Provider packages (s3, gcs, azureblob) supply a Bucket and the
// provider-native item shape; listing, filtering and text extraction live
// here.
package objectstore

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/extract"
	"conhub/platform/connectors/resource"
	"conhub/platform/connectors/sdk"
)

// MaxListed bounds how many objects one listing reads
const MaxListed = 1000

// ErrNotExist is returned by a Bucket for a missing object
var ErrNotExist = errors.New("object does not exist")

// Object is the provider-neutral view of a stored object
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
	URL          string
}

// Bucket is the minimal storage surface a provider implements
type Bucket interface {
	// Ping verifies the bucket is reachable with the configured credentials
	Ping(ctx context.Context) error
	// List returns up to max objects whose keys start with prefix
	List(ctx context.Context, prefix string, max int) ([]Object, error)
	// Head returns the attributes of one object
	Head(ctx context.Context, key string) (Object, error)
	// Open streams an object's content
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Opener builds a Bucket from the connector configuration
type Opener func(ctx context.Context, cfg *base.ConnectorConfig) (Bucket, error)

// ItemFunc renders an Object with the provider's native field names
type ItemFunc func(Object) base.Item

// Connector serves one bucket or container. Credentials come from the
// configuration, so routed calls need no per-principal authentication.
type Connector struct {
	*sdk.BaseConnector

	open   Opener
	toItem ItemFunc

	mu     sync.RWMutex
	bucket Bucket
	prefix string
}

// New creates an object-store connector. capabilities default to fetch,
// search and getContext.
func New(bc *sdk.BaseConnector, open Opener, toItem ItemFunc) *Connector {
	if len(bc.Descriptor().Capabilities) == 0 {
		bc.SetCapabilities([]string{base.OpFetch, base.OpSearch, base.OpGetContext})
	}
	return &Connector{BaseConnector: bc, open: open, toItem: toItem}
}

// RequiresAuth implements base.AuthRequirer
func (c *Connector) RequiresAuth() bool {
	return false
}

// Initialize opens the bucket and verifies it is reachable
func (c *Connector) Initialize(ctx context.Context, cfg *base.ConnectorConfig) error {
	if c.IsInitialized() {
		return nil
	}
	if err := c.Configure(ctx, cfg); err != nil {
		return err
	}

	bucket, err := c.open(ctx, c.GetConfig())
	if err != nil {
		return base.InitializationError(c.ID(), "failed to create client", err)
	}

	pingCtx, cancel := c.WithTimeout(ctx)
	defer cancel()
	if err := bucket.Ping(pingCtx); err != nil {
		return base.InitializationError(c.ID(), "bucket is not reachable", err)
	}

	c.mu.Lock()
	c.bucket = bucket
	c.prefix = c.GetStringOption("prefix", "")
	c.mu.Unlock()

	if name := c.GetStringOption("display_name", ""); name != "" {
		c.SetName(name)
	}
	c.MarkInitialized()
	return nil
}

// HealthCheck pings the bucket
func (c *Connector) HealthCheck(ctx context.Context) *base.HealthStatus {
	bucket, _, err := c.handle(base.OpHealth)
	if err != nil {
		return &base.HealthStatus{Healthy: false, Message: "not initialized", Timestamp: time.Now()}
	}

	start := time.Now()
	err = bucket.Ping(ctx)
	status := &base.HealthStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"connector_type": c.Type()},
	}
	if err != nil {
		status.Message = err.Error()
	}
	return status
}

// Cleanup drops the bucket handle, closing it when it holds a client
func (c *Connector) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	bucket := c.bucket
	c.bucket = nil
	c.mu.Unlock()

	if closer, ok := bucket.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.Log("Warning: error closing client: %v", err)
		}
	}
	return c.BaseConnector.Cleanup(ctx)
}

// Fetch implements base.Connector
func (c *Connector) Fetch(ctx context.Context, q *base.FetchQuery) (*base.FetchResult, error) {
	start := time.Now()
	bucket, prefix, err := c.handle(base.OpFetch)
	if err != nil {
		return nil, err
	}

	var res *base.FetchResult
	switch q.Type {
	case base.QueryFile:
		if q.FileID == "" {
			return nil, base.InvalidArgumentError(c.ID(), base.OpFetch, "fileId is required")
		}
		var obj Object
		obj, err = c.head(ctx, bucket, q.FileID, base.OpFetch)
		if err == nil {
			res = &base.FetchResult{Item: c.toItem(obj)}
		}
	case base.QueryFolder:
		// every object below the folder, nested ones included
		folder := strings.TrimPrefix(q.FolderID, "/")
		if folder != "" && !strings.HasSuffix(folder, "/") {
			folder += "/"
		}
		var objects []Object
		objects, err = c.list(ctx, bucket, prefix+folder)
		res = &base.FetchResult{Items: c.items(objects)}
	case base.QueryRecent:
		var objects []Object
		objects, err = c.list(ctx, bucket, prefix)
		SortNewestFirst(objects)
		if limit := resource.EffectiveLimit(q.Limit); len(objects) > limit {
			objects = objects[:limit]
		}
		res = &base.FetchResult{Items: c.items(objects)}
	case base.QuerySearch:
		var sr *base.SearchResult
		sr, err = c.search(ctx, bucket, prefix, q.Query, nil)
		if err == nil {
			res = &base.FetchResult{Items: sr.Items}
		}
	default:
		err = base.UnsupportedQueryError(c.ID(), q.Type)
	}
	return res, c.Track(base.OpFetch, start, err)
}

// Search lists under the configured prefix and keeps objects whose key
// contains query, case-insensitively, and that pass the option filters.
func (c *Connector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	start := time.Now()
	bucket, prefix, err := c.handle(base.OpSearch)
	if err != nil {
		return nil, err
	}
	res, err := c.search(ctx, bucket, prefix, query, opts)
	return res, c.Track(base.OpSearch, start, err)
}

func (c *Connector) search(ctx context.Context, bucket Bucket, prefix, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	since, err := opts.ModifiedSince()
	if err != nil {
		return nil, base.InvalidArgumentError(c.ID(), base.OpSearch, "modifiedTime must be RFC 3339")
	}
	objects, err := c.list(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	filter := Filter{Query: query, ModifiedSince: since}
	if opts != nil {
		filter.ContentType = opts.MimeType
	}
	matched := filter.Apply(objects)
	SortNewestFirst(matched)
	return &base.SearchResult{Items: c.items(matched)}, nil
}

// GetContext downloads at most MaxBytes of an object and extracts its text
func (c *Connector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	start := time.Now()
	bucket, _, err := c.handle(base.OpGetContext)
	if err != nil {
		return nil, err
	}
	res, err := c.getContext(ctx, bucket, resourceID, opts)
	return res, c.Track(base.OpGetContext, start, err)
}

func (c *Connector) getContext(ctx context.Context, bucket Bucket, key string, opts *base.ContextOptions) (*base.ContextResult, error) {
	obj, err := c.head(ctx, bucket, key, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	item := c.toItem(obj)
	meta := map[string]interface{}{"truncated": false}

	if !extract.IsTextual(obj.ContentType, obj.Key) {
		meta["binary"] = true
		return &base.ContextResult{Item: item, Metadata: meta}, nil
	}

	body, err := bucket.Open(ctx, key)
	if err != nil {
		return nil, c.classify(base.OpGetContext, key, err)
	}
	defer body.Close()

	var maxBytes int64
	if opts != nil {
		maxBytes = opts.MaxBytes
	}
	data, truncated, err := extract.ReadLimited(body, maxBytes)
	if err != nil {
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to read object", err)
	}
	meta["truncated"] = truncated

	text, err := extract.Text(data, obj.ContentType, obj.Key)
	switch {
	case errors.Is(err, extract.ErrBinary):
		meta["binary"] = true
	case err != nil:
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to extract text", err)
	}
	return &base.ContextResult{Item: item, Content: text, Metadata: meta}, nil
}

func (c *Connector) handle(op string) (Bucket, string, error) {
	if err := c.RequireInitialized(op); err != nil {
		return nil, "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bucket == nil {
		return nil, "", base.NewKindError(base.KindInitialization, c.ID(), op, "connector not initialized", nil)
	}
	return c.bucket, c.prefix, nil
}

// list retries transient listing failures with the connector retry policy
func (c *Connector) list(ctx context.Context, bucket Bucket, prefix string) ([]Object, error) {
	objects, err := sdk.RetryWithBackoff(ctx, c.GetRetryConfig(), func() ([]Object, error) {
		return bucket.List(ctx, prefix, MaxListed)
	})
	if err != nil {
		return nil, c.classify("list", prefix, err)
	}
	return objects, nil
}

func (c *Connector) head(ctx context.Context, bucket Bucket, key, op string) (Object, error) {
	obj, err := bucket.Head(ctx, key)
	if err != nil {
		return Object{}, c.classify(op, key, err)
	}
	return obj, nil
}

func (c *Connector) classify(op, key string, err error) error {
	switch {
	case errors.Is(err, ErrNotExist):
		return base.NotFoundError(c.ID(), op, "object not found: "+key, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return base.NewConnectorError(c.ID(), op, "storage request failed", err)
}

func (c *Connector) items(objects []Object) []base.Item {
	items := make([]base.Item, 0, len(objects))
	for _, obj := range objects {
		items = append(items, c.toItem(obj))
	}
	return items
}

// Filter selects objects for a search
type Filter struct {
	Query         string
	ContentType   string
	ModifiedSince time.Time
}

// Apply returns the objects passing every set criterion. Folder placeholder
// keys ending in "/" never match.
func (f Filter) Apply(objects []Object) []Object {
	needle := strings.ToLower(strings.TrimSpace(f.Query))
	var out []Object
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(obj.Key), needle) {
			continue
		}
		if f.ContentType != "" && !strings.EqualFold(baseContentType(obj.ContentType), f.ContentType) {
			continue
		}
		if !f.ModifiedSince.IsZero() && !obj.LastModified.After(f.ModifiedSince) {
			continue
		}
		out = append(out, obj)
	}
	return out
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// SortNewestFirst orders objects by LastModified, newest first
func SortNewestFirst(objects []Object) {
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
}
