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

package dropbox

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/extract"
	"conhub/platform/connectors/resource"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "dropbox"

// Endpoint is Dropbox's OAuth 2 endpoint
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.dropbox.com/oauth2/authorize",
	TokenURL: "https://api.dropboxapi.com/oauth2/token",
}

// maxRecentPages bounds the recursive walk behind recent listings
const maxRecentPages = 10

// Connector serves a user's Dropbox through the v2 HTTP API with the
// caller's OAuth credential.
type Connector struct {
	*sdk.BaseConnector

	mu         sync.RWMutex
	oauth      *sdk.OAuthFlow
	apiURL     string
	contentURL string

	// Transport is the base client for API and token calls; nil uses the
	// default client
	Transport *http.Client
}

// NewConnector creates a Dropbox connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("Dropbox").
		WithCapabilities(base.OpFetch, base.OpSearch, base.OpGetContext, base.OpAuthorizeURL).
		WithValidator(sdk.NewDefaultConfigValidator([]string{"client_id", "client_secret"}, nil)).
		Build()
	return &Connector{BaseConnector: bc}
}

// RequiresAuth implements base.AuthRequirer
func (c *Connector) RequiresAuth() bool {
	return true
}

// Initialize builds the OAuth configuration for read-only file scopes
func (c *Connector) Initialize(ctx context.Context, cfg *base.ConnectorConfig) error {
	if c.IsInitialized() {
		return nil
	}
	if err := c.Configure(ctx, cfg); err != nil {
		return err
	}

	endpoint := Endpoint
	if u := c.GetStringOption("auth_url", ""); u != "" {
		endpoint.AuthURL = u
	}
	if u := c.GetStringOption("token_url", ""); u != "" {
		endpoint.TokenURL = u
	}
	redirect := c.GetCredential("redirect_url")
	if redirect == "" {
		redirect = c.GetStringOption("redirect_url", "")
	}

	flow := sdk.NewOAuthFlow(c.ID(), &oauth2.Config{
		ClientID:     c.GetCredential("client_id"),
		ClientSecret: c.GetCredential("client_secret"),
		RedirectURL:  redirect,
		Scopes:       []string{"account_info.read", "files.metadata.read", "files.content.read"},
		Endpoint:     endpoint,
	})
	flow.HTTPClient = c.Transport
	// Dropbox only issues refresh tokens for offline access
	flow.AuthOptions = []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("token_access_type", "offline")}

	c.mu.Lock()
	c.oauth = flow
	c.apiURL = withSlash(c.GetStringOption("api_url", DefaultAPIURL))
	c.contentURL = withSlash(c.GetStringOption("content_url", DefaultContentURL))
	c.mu.Unlock()

	if name := c.GetStringOption("display_name", ""); name != "" {
		c.SetName(name)
	}
	c.MarkInitialized()
	return nil
}

// Cleanup drops the OAuth configuration
func (c *Connector) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	c.oauth = nil
	c.mu.Unlock()
	return c.BaseConnector.Cleanup(ctx)
}

// AuthorizationURL implements base.AuthorizationURLProvider
func (c *Connector) AuthorizationURL(state string) (string, error) {
	flow, err := c.flow(base.OpAuthorizeURL)
	if err != nil {
		return "", err
	}
	return flow.AuthCodeURL(state), nil
}

// Authenticate exchanges an authorization code or wraps supplied tokens
func (c *Connector) Authenticate(ctx context.Context, req *base.AuthRequest) (*base.Credential, error) {
	start := time.Now()
	flow, err := c.flow(base.OpAuthenticate)
	if err != nil {
		return nil, err
	}
	cred, err := flow.Authenticate(ctx, req)
	return cred, c.Track(base.OpAuthenticate, start, err)
}

// RefreshToken implements base.TokenRefresher
func (c *Connector) RefreshToken(ctx context.Context, cred *base.Credential) (*base.Credential, error) {
	flow, err := c.flow("refresh")
	if err != nil {
		return nil, err
	}
	refreshed, err := flow.Refresh(ctx, cred)
	c.GetMetrics().RecordRefresh(err)
	return refreshed, err
}

// HealthCheck calls users/get_current_account. Without a credential a 400
// or 401 answer still proves the API is reachable.
func (c *Connector) HealthCheck(ctx context.Context) *base.HealthStatus {
	if !c.IsInitialized() {
		return &base.HealthStatus{Healthy: false, Message: "not initialized", Timestamp: time.Now()}
	}

	start := time.Now()
	cred, authenticated := base.CredentialFrom(ctx)
	var acct account
	err := c.client(ctx, cred).rpc(ctx, "users/get_current_account", nil, &acct)
	status := &base.HealthStatus{
		Latency:   time.Since(start),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"connector_type": Type},
	}

	var apiErr *APIError
	switch {
	case err == nil:
		status.Healthy = true
		status.Metadata["user"] = acct.Email
	case !authenticated && errors.As(err, &apiErr) &&
		(apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized):
		status.Healthy = true
		status.Message = "reachable, no credential"
	default:
		status.Message = err.Error()
	}
	return status
}

// Fetch implements base.Connector. Ids are Dropbox paths or "id:" ids.
func (c *Connector) Fetch(ctx context.Context, q *base.FetchQuery) (*base.FetchResult, error) {
	start := time.Now()
	api, err := c.authorized(ctx, base.OpFetch)
	if err != nil {
		return nil, err
	}

	var res *base.FetchResult
	switch q.Type {
	case base.QueryFile:
		if q.FileID == "" {
			return nil, base.InvalidArgumentError(c.ID(), base.OpFetch, "fileId is required")
		}
		var m *metadata
		m, err = c.metadata(ctx, api, q.FileID, base.OpFetch)
		if err == nil {
			res = &base.FetchResult{Item: toItem(m)}
		}
	case base.QueryFolder:
		var items []base.Item
		items, err = c.folder(ctx, api, q.FolderID, q.Limit)
		res = &base.FetchResult{Items: items}
	case base.QueryRecent:
		var items []base.Item
		items, err = c.recent(ctx, api, q.Limit, base.OpFetch)
		res = &base.FetchResult{Items: items}
	case base.QuerySearch:
		var items []base.Item
		items, err = c.search(ctx, api, q.Query, q.Limit, base.OpFetch)
		res = &base.FetchResult{Items: items}
	default:
		err = base.UnsupportedQueryError(c.ID(), q.Type)
	}
	return res, c.Track(base.OpFetch, start, err)
}

// Search runs search_v2 over names and contents. search_v2 has no date or
// type filter, so modifiedTime and mimeType are applied to the matches. An
// empty query lists the most recently modified files.
func (c *Connector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	start := time.Now()
	api, err := c.authorized(ctx, base.OpSearch)
	if err != nil {
		return nil, err
	}

	since, err := opts.ModifiedSince()
	if err != nil {
		return nil, base.InvalidArgumentError(c.ID(), base.OpSearch, "modifiedTime must be RFC 3339")
	}
	var mimeType string
	var limit int
	if opts != nil {
		mimeType = opts.MimeType
		limit = opts.Limit
	}
	limit = resource.EffectiveLimit(limit)
	want := limit
	if mimeType != "" || !since.IsZero() {
		want = resource.MaxSearchLimit
	}

	var items []base.Item
	if strings.TrimSpace(query) == "" {
		items, err = c.recent(ctx, api, want, base.OpSearch)
	} else {
		items, err = c.search(ctx, api, query, want, base.OpSearch)
	}
	if err != nil {
		return nil, c.Track(base.OpSearch, start, err)
	}

	kept := items[:0]
	for _, item := range items {
		if mimeType != "" && item["mimeType"] != mimeType {
			continue
		}
		if !since.IsZero() {
			mod, ok := modifiedAt(item)
			if !ok || !mod.After(since) {
				continue
			}
		}
		kept = append(kept, item)
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return &base.SearchResult{Items: kept}, c.Track(base.OpSearch, start, nil)
}

// GetContext downloads a textual file for extraction. Binary files return
// empty content.
func (c *Connector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	start := time.Now()
	api, err := c.authorized(ctx, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	res, err := c.getContext(ctx, api, resourceID, opts)
	return res, c.Track(base.OpGetContext, start, err)
}

func (c *Connector) getContext(ctx context.Context, api *apiClient, id string, opts *base.ContextOptions) (*base.ContextResult, error) {
	m, err := c.metadata(ctx, api, id, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	if m.Tag != "file" {
		return nil, base.InvalidArgumentError(c.ID(), base.OpGetContext, "resource is a folder")
	}

	item := toItem(m)
	meta := map[string]interface{}{"truncated": false, "rev": m.Rev}
	mimeType, _ := item["mimeType"].(string)
	if !extract.IsTextual(mimeType, m.Name) {
		meta["binary"] = true
		return &base.ContextResult{Item: item, Metadata: meta}, nil
	}

	body, err := api.download(ctx, normalizePath(id))
	if err != nil {
		return nil, c.classify(base.OpGetContext, id, err)
	}
	defer body.Close()

	var maxBytes int64
	if opts != nil {
		maxBytes = opts.MaxBytes
	}
	data, truncated, err := extract.ReadLimited(body, maxBytes)
	if err != nil {
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to read content", err)
	}
	meta["truncated"] = truncated

	text, err := extract.Text(data, mimeType, m.Name)
	switch {
	case errors.Is(err, extract.ErrBinary):
		meta["binary"] = true
	case err != nil:
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to extract text", err)
	}
	return &base.ContextResult{Item: item, Content: text, Metadata: meta}, nil
}

func (c *Connector) metadata(ctx context.Context, api *apiClient, id, op string) (*metadata, error) {
	m, err := retry(ctx, c, func() (*metadata, error) {
		var m metadata
		err := api.rpc(ctx, "files/get_metadata", map[string]string{"path": normalizePath(id)}, &m)
		return &m, err
	})
	if err != nil {
		return nil, c.classify(op, id, err)
	}
	if m.Tag == "deleted" {
		return nil, base.NotFoundError(c.ID(), op, "not found: "+id, nil)
	}
	return m, nil
}

func (c *Connector) folder(ctx context.Context, api *apiClient, id string, limit int) ([]base.Item, error) {
	limit = resource.EffectiveLimit(limit)
	arg := listFolderArg{Path: normalizePath(id), Limit: limit, IncludeMountedFolders: true}
	page, err := retry(ctx, c, func() (*listFolderResult, error) {
		var page listFolderResult
		err := api.rpc(ctx, "files/list_folder", arg, &page)
		return &page, err
	})
	if err != nil {
		return nil, c.classify(base.OpFetch, id, err)
	}

	items := make([]base.Item, 0, len(page.Entries))
	for i := range page.Entries {
		if page.Entries[i].Tag == "deleted" {
			continue
		}
		items = append(items, toItem(&page.Entries[i]))
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// recent walks the whole tree, following cursors up to maxRecentPages, and
// returns the newest files.
func (c *Connector) recent(ctx context.Context, api *apiClient, limit int, op string) ([]base.Item, error) {
	limit = resource.EffectiveLimit(limit)
	var files []metadata
	page := &listFolderResult{}
	for i := 0; i < maxRecentPages; i++ {
		route, arg := "files/list_folder", interface{}(listFolderArg{Path: "", Recursive: true, IncludeMountedFolders: true})
		if i > 0 {
			route, arg = "files/list_folder/continue", map[string]string{"cursor": page.Cursor}
		}
		next, err := retry(ctx, c, func() (*listFolderResult, error) {
			var next listFolderResult
			err := api.rpc(ctx, route, arg, &next)
			return &next, err
		})
		if err != nil {
			return nil, c.classify(op, "", err)
		}
		page = next
		for _, e := range page.Entries {
			if e.Tag == "file" {
				files = append(files, e)
			}
		}
		if !page.HasMore {
			break
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ServerModified > files[j].ServerModified
	})
	if len(files) > limit {
		files = files[:limit]
	}
	items := make([]base.Item, 0, len(files))
	for i := range files {
		items = append(items, toItem(&files[i]))
	}
	return items, nil
}

func (c *Connector) search(ctx context.Context, api *apiClient, query string, limit int, op string) ([]base.Item, error) {
	arg := searchArg{
		Query:   strings.TrimSpace(query),
		Options: searchOptions{MaxResults: resource.EffectiveLimit(limit), FileStatus: "active"},
	}
	found, err := retry(ctx, c, func() (*searchResult, error) {
		var found searchResult
		err := api.rpc(ctx, "files/search_v2", arg, &found)
		return &found, err
	})
	if err != nil {
		return nil, c.classify(op, "", err)
	}

	items := make([]base.Item, 0, len(found.Matches))
	for i := range found.Matches {
		items = append(items, toItem(&found.Matches[i].Metadata.Metadata))
	}
	return items, nil
}

// retry runs an idempotent RPC with the connector retry policy. Throttling
// and server errors are retried, honoring Retry-After.
func retry[T any](ctx context.Context, c *Connector, fn func() (T, error)) (T, error) {
	return sdk.RetryWithBackoff(ctx, c.GetRetryConfig(), func() (T, error) {
		v, err := fn()
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500) {
			err = &sdk.RetryableError{Err: apiErr, RetryAfter: apiErr.RetryAfter}
		}
		return v, err
	})
}

func (c *Connector) flow(op string) (*sdk.OAuthFlow, error) {
	if err := c.RequireInitialized(op); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.oauth == nil {
		return nil, base.NewKindError(base.KindInitialization, c.ID(), op, "connector not initialized", nil)
	}
	return c.oauth, nil
}

// authorized returns an API client acting with the credential attached to ctx
func (c *Connector) authorized(ctx context.Context, op string) (*apiClient, error) {
	if err := c.RequireInitialized(op); err != nil {
		return nil, err
	}
	if err := c.Throttle(ctx, op); err != nil {
		return nil, err
	}
	cred, ok := base.CredentialFrom(ctx)
	if !ok {
		return nil, base.AuthenticationError(c.ID(), op, "no credential for principal", nil)
	}
	return c.client(ctx, cred), nil
}

func (c *Connector) client(ctx context.Context, cred *base.Credential) *apiClient {
	httpClient := c.Transport
	if cred != nil {
		httpClient = sdk.HTTPClientFor(ctx, c.Transport, cred)
	} else if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &apiClient{http: httpClient, apiURL: c.apiURL, contentURL: c.contentURL}
}

func (c *Connector) classify(op, id string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return base.AuthenticationError(c.ID(), op, "credential rejected", err)
		case apiErr.notFound():
			return base.NotFoundError(c.ID(), op, "not found: "+id, err)
		case apiErr.Status == http.StatusConflict, apiErr.Status == http.StatusBadRequest:
			return base.InvalidArgumentError(c.ID(), op, apiErr.Summary)
		case apiErr.Status == http.StatusTooManyRequests:
			return base.NewConnectorError(c.ID(), op, "Dropbox rate limit exceeded", err)
		}
	}
	return base.NewConnectorError(c.ID(), op, "Dropbox API call failed", err)
}

// normalizePath maps a resource id to a Dropbox path argument. The root is
// the empty string; bare relative paths are anchored at the root.
func normalizePath(id string) string {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || id == "/":
		return ""
	case strings.HasPrefix(id, "/"), strings.HasPrefix(id, "id:"),
		strings.HasPrefix(id, "rev:"), strings.HasPrefix(id, "ns:"):
		return id
	default:
		return "/" + id
	}
}

func withSlash(u string) string {
	return strings.TrimSuffix(u, "/") + "/"
}

func modifiedAt(item base.Item) (time.Time, bool) {
	s, _ := item["server_modified"].(string)
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}

func toItem(m *metadata) base.Item {
	item := base.Item{
		"id":           m.ID,
		"name":         m.Name,
		"path_lower":   m.PathLower,
		"path_display": m.PathDisplay,
		".tag":         m.Tag,
	}
	if m.Tag == "folder" {
		item["mimeType"] = resource.MimeDirectory
		return item
	}
	item["size"] = m.Size
	if m.ServerModified != "" {
		item["server_modified"] = m.ServerModified
	}
	if m.ClientModified != "" {
		item["client_modified"] = m.ClientModified
	}
	if m.Rev != "" {
		item["rev"] = m.Rev
	}
	if m.ContentHash != "" {
		item["content_hash"] = m.ContentHash
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(m.Name))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			item["mimeType"] = mt
		}
	}
	return item
}
