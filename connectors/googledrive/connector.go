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

package googledrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/extract"
	"conhub/platform/connectors/resource"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "google-drive"

const (
	mimeDoc    = "application/vnd.google-apps.document"
	mimeSheet  = "application/vnd.google-apps.spreadsheet"
	mimeSlides = "application/vnd.google-apps.presentation"

	fileFields = "id, name, mimeType, size, modifiedTime, webViewLink, thumbnailLink, iconLink, parents, owners(displayName)"
	listFields = "nextPageToken, files(" + fileFields + ")"
)

// exportFormats maps Google Workspace types to the format they are exported
// in for text extraction
var exportFormats = map[string]string{
	mimeDoc:    "text/plain",
	mimeSheet:  "text/csv",
	mimeSlides: "text/plain",
}

// Connector serves a user's Google Drive through the Drive v3 API. Every
// data operation runs with the caller's credential.
type Connector struct {
	*sdk.BaseConnector

	mu       sync.RWMutex
	oauth    *sdk.OAuthFlow
	endpoint string

	// Transport is the base client for API and token calls; nil uses the
	// default client
	Transport *http.Client
}

// NewConnector creates a Google Drive connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("Google Drive").
		WithCapabilities(base.OpFetch, base.OpSearch, base.OpGetContext, base.OpAuthorizeURL).
		WithValidator(sdk.NewDefaultConfigValidator([]string{"client_id", "client_secret"}, nil)).
		Build()
	return &Connector{BaseConnector: bc}
}

// RequiresAuth implements base.AuthRequirer
func (c *Connector) RequiresAuth() bool {
	return true
}

// Initialize builds the OAuth configuration. No upstream call is made: there
// is no user credential yet.
func (c *Connector) Initialize(ctx context.Context, cfg *base.ConnectorConfig) error {
	if c.IsInitialized() {
		return nil
	}
	if err := c.Configure(ctx, cfg); err != nil {
		return err
	}

	endpoint := google.Endpoint
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
		Scopes:       []string{drive.DriveReadonlyScope},
		Endpoint:     endpoint,
	})
	flow.HTTPClient = c.Transport

	c.mu.Lock()
	c.oauth = flow
	c.endpoint = c.GetStringOption("endpoint", "")
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

// HealthCheck calls about.get with the caller's credential when one is in
// ctx. Scheduled probes carry no credential, so they only check that the API
// answers: an authorization rejection still proves it is reachable.
func (c *Connector) HealthCheck(ctx context.Context) *base.HealthStatus {
	if !c.IsInitialized() {
		return &base.HealthStatus{Healthy: false, Message: "not initialized", Timestamp: time.Now()}
	}

	start := time.Now()
	cred, authenticated := base.CredentialFrom(ctx)
	srv, err := c.service(ctx, cred)
	if err != nil {
		return &base.HealthStatus{Healthy: false, Message: err.Error(), Timestamp: time.Now()}
	}

	about, err := srv.About.Get().Fields("user").Context(ctx).Do()
	status := &base.HealthStatus{
		Latency:   time.Since(start),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"connector_type": Type},
	}

	var gerr *googleapi.Error
	switch {
	case err == nil:
		status.Healthy = true
		if about.User != nil {
			status.Metadata["user"] = about.User.EmailAddress
		}
	case !authenticated && errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden):
		status.Healthy = true
		status.Message = "reachable, no credential"
	default:
		status.Message = err.Error()
	}
	return status
}

// Fetch implements base.Connector
func (c *Connector) Fetch(ctx context.Context, q *base.FetchQuery) (*base.FetchResult, error) {
	start := time.Now()
	srv, err := c.authorized(ctx, base.OpFetch)
	if err != nil {
		return nil, err
	}

	var res *base.FetchResult
	switch q.Type {
	case base.QueryFile:
		if q.FileID == "" {
			return nil, base.InvalidArgumentError(c.ID(), base.OpFetch, "fileId is required")
		}
		var f *drive.File
		f, err = c.get(ctx, srv, q.FileID, base.OpFetch)
		if err == nil {
			res = &base.FetchResult{Item: toItem(f)}
		}
	case base.QueryFolder:
		folder := q.FolderID
		if folder == "" {
			folder = "root"
		}
		var items []base.Item
		items, err = c.list(ctx, srv, FolderQuery(folder), q.Limit, base.OpFetch)
		res = &base.FetchResult{Items: items}
	case base.QueryRecent:
		var items []base.Item
		items, err = c.list(ctx, srv, "trashed = false", q.Limit, base.OpFetch)
		res = &base.FetchResult{Items: items}
	case base.QuerySearch:
		var items []base.Item
		items, err = c.list(ctx, srv, SearchQuery(q.Query, "", time.Time{}), q.Limit, base.OpFetch)
		res = &base.FetchResult{Items: items}
	default:
		err = base.UnsupportedQueryError(c.ID(), q.Type)
	}
	return res, c.Track(base.OpFetch, start, err)
}

// Search runs a Drive files.list query with every filter joined by "and",
// newest first
func (c *Connector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	start := time.Now()
	srv, err := c.authorized(ctx, base.OpSearch)
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

	items, err := c.list(ctx, srv, SearchQuery(query, mimeType, since), limit, base.OpSearch)
	if err != nil {
		return nil, c.Track(base.OpSearch, start, err)
	}
	return &base.SearchResult{Items: items}, c.Track(base.OpSearch, start, nil)
}

// GetContext exports Workspace documents and downloads other textual files
// for extraction. Binary files return empty content.
func (c *Connector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	start := time.Now()
	srv, err := c.authorized(ctx, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	res, err := c.getContext(ctx, srv, resourceID, opts)
	return res, c.Track(base.OpGetContext, start, err)
}

func (c *Connector) getContext(ctx context.Context, srv *drive.Service, id string, opts *base.ContextOptions) (*base.ContextResult, error) {
	f, err := c.get(ctx, srv, id, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	if f.MimeType == resource.MimeDriveFolder {
		return nil, base.InvalidArgumentError(c.ID(), base.OpGetContext, "resource is a folder")
	}

	item := toItem(f)
	meta := map[string]interface{}{"truncated": false}

	var resp *http.Response
	contentType := f.MimeType
	if export, ok := exportFormats[f.MimeType]; ok {
		meta["exportedAs"] = export
		contentType = export
		resp, err = srv.Files.Export(id, export).Context(ctx).Download()
	} else if extract.IsTextual(f.MimeType, f.Name) {
		resp, err = srv.Files.Get(id).Context(ctx).Download()
	} else {
		meta["binary"] = true
		return &base.ContextResult{Item: item, Metadata: meta}, nil
	}
	if err != nil {
		return nil, c.classify(base.OpGetContext, id, err)
	}
	defer resp.Body.Close()

	var maxBytes int64
	if opts != nil {
		maxBytes = opts.MaxBytes
	}
	data, truncated, err := extract.ReadLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to read content", err)
	}
	meta["truncated"] = truncated

	text, err := extract.Text(data, contentType, f.Name)
	switch {
	case errors.Is(err, extract.ErrBinary):
		meta["binary"] = true
	case err != nil:
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to extract text", err)
	}
	return &base.ContextResult{Item: item, Content: text, Metadata: meta}, nil
}

func (c *Connector) get(ctx context.Context, srv *drive.Service, id, op string) (*drive.File, error) {
	f, err := srv.Files.Get(id).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, c.classify(op, id, err)
	}
	return f, nil
}

// list runs one files.list page newest first. Drive refuses orderBy on
// fullText queries, so those pages are sorted here instead. Transient
// failures are retried with the connector retry policy.
func (c *Connector) list(ctx context.Context, srv *drive.Service, q string, limit int, op string) ([]base.Item, error) {
	limit = resource.EffectiveLimit(limit)
	ranked := !strings.Contains(q, "fullText contains")
	fl, err := sdk.RetryWithBackoff(ctx, c.GetRetryConfig(), func() (*drive.FileList, error) {
		call := srv.Files.List().
			Q(q).
			PageSize(int64(limit)).
			Fields(listFields).
			Context(ctx)
		if ranked {
			call = call.OrderBy("modifiedTime desc")
		}
		return call.Do()
	})
	if err != nil {
		return nil, c.classify(op, "", err)
	}

	files := fl.Files
	if !ranked {
		sort.SliceStable(files, func(i, j int) bool {
			return modifiedAt(files[i]).After(modifiedAt(files[j]))
		})
	}
	items := make([]base.Item, 0, len(files))
	for _, f := range files {
		items = append(items, toItem(f))
	}
	return items, nil
}

func modifiedAt(f *drive.File) time.Time {
	t, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return t
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

// authorized returns a Drive client acting with the credential attached to ctx
func (c *Connector) authorized(ctx context.Context, op string) (*drive.Service, error) {
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
	srv, err := c.service(ctx, cred)
	if err != nil {
		return nil, base.NewConnectorError(c.ID(), op, "failed to create Drive client", err)
	}
	return srv, nil
}

func (c *Connector) service(ctx context.Context, cred *base.Credential) (*drive.Service, error) {
	client := c.Transport
	if cred != nil {
		client = sdk.HTTPClientFor(ctx, c.Transport, cred)
	} else if client == nil {
		client = http.DefaultClient
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	c.mu.RLock()
	endpoint := c.endpoint
	c.mu.RUnlock()
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return drive.NewService(ctx, opts...)
}

func (c *Connector) classify(op, id string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return base.NotFoundError(c.ID(), op, "file not found: "+id, err)
		case http.StatusUnauthorized:
			return base.AuthenticationError(c.ID(), op, "credential rejected", err)
		case http.StatusForbidden:
			if isRateLimit(gerr) {
				break
			}
			return base.AuthenticationError(c.ID(), op, "access denied", err)
		}
	}
	return base.NewConnectorError(c.ID(), op, "Drive API call failed", err)
}

// isRateLimit reports Drive's 403 usage-limit responses, which are transient
func isRateLimit(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		if e.Reason == "userRateLimitExceeded" || e.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return false
}

// SearchQuery builds the files.list q expression. Present filters are
// joined with "and"; trashed files are always excluded.
func SearchQuery(text, mimeType string, modifiedSince time.Time) string {
	var parts []string
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, fmt.Sprintf("fullText contains '%s'", escape(t)))
	}
	if mimeType != "" {
		parts = append(parts, fmt.Sprintf("mimeType = '%s'", escape(mimeType)))
	}
	if !modifiedSince.IsZero() {
		parts = append(parts, fmt.Sprintf("modifiedTime > '%s'", modifiedSince.UTC().Format(time.RFC3339)))
	}
	parts = append(parts, "trashed = false")
	return strings.Join(parts, " and ")
}

// FolderQuery lists the direct children of a folder
func FolderQuery(folderID string) string {
	return fmt.Sprintf("'%s' in parents and trashed = false", escape(folderID))
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toItem(f *drive.File) base.Item {
	item := base.Item{
		"id":           f.Id,
		"name":         f.Name,
		"mimeType":     f.MimeType,
		"modifiedTime": f.ModifiedTime,
		"webViewLink":  f.WebViewLink,
	}
	if f.Size > 0 {
		item["size"] = f.Size
	}
	if f.ThumbnailLink != "" {
		item["thumbnailLink"] = f.ThumbnailLink
	}
	if f.IconLink != "" {
		item["iconLink"] = f.IconLink
	}
	if len(f.Parents) > 0 {
		item["parents"] = f.Parents
	}
	if len(f.Owners) > 0 && f.Owners[0] != nil {
		item["owner"] = f.Owners[0].DisplayName
	}
	return item
}
