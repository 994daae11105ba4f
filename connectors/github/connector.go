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

package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/extract"
	"conhub/platform/connectors/resource"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "github"

// DefaultBaseURL is the public GitHub REST endpoint
const DefaultBaseURL = "https://api.github.com/"

// OpListRepositories lists the caller's repositories
const OpListRepositories = "listRepositories"

// mimeRepository marks repository items; they classify as folders
const mimeRepository = resource.MimeDirectory

// Connector serves GitHub repositories and file contents through the REST
// API with the caller's OAuth credential.
type Connector struct {
	*sdk.BaseConnector

	mu      sync.RWMutex
	oauth   *sdk.OAuthFlow
	baseURL string

	// Transport is the base client for API and token calls; nil uses the
	// default client
	Transport *http.Client
}

// NewConnector creates a GitHub connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("GitHub").
		WithCapabilities(base.OpFetch, base.OpSearch, base.OpGetContext, base.OpAuthorizeURL, OpListRepositories).
		WithValidator(sdk.NewDefaultConfigValidator([]string{"client_id", "client_secret"}, nil)).
		Build()
	return &Connector{BaseConnector: bc}
}

// RequiresAuth implements base.AuthRequirer
func (c *Connector) RequiresAuth() bool {
	return true
}

// Initialize builds the OAuth configuration for the repo and read:user scopes
func (c *Connector) Initialize(ctx context.Context, cfg *base.ConnectorConfig) error {
	if c.IsInitialized() {
		return nil
	}
	if err := c.Configure(ctx, cfg); err != nil {
		return err
	}

	endpoint := oauthgithub.Endpoint
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
		Scopes:       []string{"repo", "read:user"},
		Endpoint:     endpoint,
	})
	flow.HTTPClient = c.Transport

	if _, err := url.Parse(c.GetStringOption("base_url", DefaultBaseURL)); err != nil {
		return base.NewKindError(base.KindInitialization, c.ID(), base.OpInitialize, "invalid base_url", err)
	}

	c.mu.Lock()
	c.oauth = flow
	c.baseURL = strings.TrimSuffix(c.GetStringOption("base_url", DefaultBaseURL), "/") + "/"
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

// RefreshToken implements base.TokenRefresher. Only GitHub Apps with
// expiring user tokens issue refresh tokens.
func (c *Connector) RefreshToken(ctx context.Context, cred *base.Credential) (*base.Credential, error) {
	flow, err := c.flow("refresh")
	if err != nil {
		return nil, err
	}
	refreshed, err := flow.Refresh(ctx, cred)
	c.GetMetrics().RecordRefresh(err)
	return refreshed, err
}

// HealthCheck calls GET /user with the caller's credential when ctx has one,
// and the unauthenticated GET /rate_limit otherwise.
func (c *Connector) HealthCheck(ctx context.Context) *base.HealthStatus {
	if !c.IsInitialized() {
		return &base.HealthStatus{Healthy: false, Message: "not initialized", Timestamp: time.Now()}
	}

	start := time.Now()
	cred, authenticated := base.CredentialFrom(ctx)
	gh := c.client(ctx, cred)
	status := &base.HealthStatus{Metadata: map[string]string{"connector_type": Type}}

	var err error
	if authenticated {
		var user *github.User
		if user, _, err = gh.Users.Get(ctx, ""); err == nil {
			status.Metadata["user"] = user.GetLogin()
		}
	} else {
		err = rateLimit(ctx, gh)
	}

	status.Healthy = err == nil
	status.Latency = time.Since(start)
	status.Timestamp = time.Now()
	if err != nil {
		status.Message = err.Error()
	}
	return status
}

// Fetch implements base.Connector. File and folder ids take the form
// owner/repo/path.
func (c *Connector) Fetch(ctx context.Context, q *base.FetchQuery) (*base.FetchResult, error) {
	start := time.Now()
	gh, err := c.authorized(ctx, base.OpFetch)
	if err != nil {
		return nil, err
	}

	var res *base.FetchResult
	switch q.Type {
	case base.QueryFile:
		var item base.Item
		item, err = c.file(ctx, gh, q.FileID, base.OpFetch)
		if err == nil {
			res = &base.FetchResult{Item: item}
		}
	case base.QueryFolder:
		var items []base.Item
		items, err = c.folder(ctx, gh, q.FolderID)
		res = &base.FetchResult{Items: items}
	case base.QuerySearch:
		var items []base.Item
		items, err = c.searchRepos(ctx, gh, q.Query, time.Time{}, q.Limit)
		res = &base.FetchResult{Items: items}
	case base.QueryRecent:
		var items []base.Item
		items, err = c.userRepos(ctx, gh, q.Limit, "")
		res = &base.FetchResult{Items: items}
	default:
		err = base.UnsupportedQueryError(c.ID(), q.Type)
	}
	return res, c.Track(base.OpFetch, start, err)
}

// Search finds repositories, most recently updated first. Repositories carry
// a directory MIME type, so any other mimeType filter matches nothing.
func (c *Connector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	start := time.Now()
	gh, err := c.authorized(ctx, base.OpSearch)
	if err != nil {
		return nil, err
	}

	since, err := opts.ModifiedSince()
	if err != nil {
		return nil, base.InvalidArgumentError(c.ID(), base.OpSearch, "modifiedTime must be RFC 3339")
	}
	var limit int
	if opts != nil {
		limit = opts.Limit
		if opts.MimeType != "" && opts.MimeType != mimeRepository {
			return &base.SearchResult{}, c.Track(base.OpSearch, start, nil)
		}
	}

	var items []base.Item
	if strings.TrimSpace(query) == "" && since.IsZero() {
		items, err = c.userRepos(ctx, gh, limit, "")
	} else {
		items, err = c.searchRepos(ctx, gh, query, since, limit)
	}
	if err != nil {
		return nil, c.Track(base.OpSearch, start, err)
	}
	return &base.SearchResult{Items: items}, c.Track(base.OpSearch, start, nil)
}

// GetContext decodes a file's contents. Files too large for the contents API
// are streamed from their download URL.
func (c *Connector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	start := time.Now()
	gh, err := c.authorized(ctx, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	res, err := c.getContext(ctx, gh, resourceID, opts)
	return res, c.Track(base.OpGetContext, start, err)
}

func (c *Connector) getContext(ctx context.Context, gh *github.Client, id string, opts *base.ContextOptions) (*base.ContextResult, error) {
	entry, err := c.contents(ctx, gh, id, base.OpGetContext)
	if err != nil {
		return nil, err
	}
	if entry.single == nil {
		return nil, base.InvalidArgumentError(c.ID(), base.OpGetContext, "resource is a directory")
	}
	f := entry.single
	item := contentItem(entry.owner, entry.repo, f)
	meta := map[string]interface{}{"truncated": false, "sha": f.GetSHA()}

	mimeType, _ := item["mimeType"].(string)
	if !extract.IsTextual(mimeType, f.GetName()) {
		meta["binary"] = true
		return &base.ContextResult{Item: item, Metadata: meta}, nil
	}

	var maxBytes int64
	if opts != nil {
		maxBytes = opts.MaxBytes
	}

	var data []byte
	switch {
	case f.GetEncoding() == "base64":
		decoded, err := f.GetContent()
		if err != nil {
			return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "malformed file content", err)
		}
		data = []byte(decoded)
		if maxBytes <= 0 {
			maxBytes = extract.DefaultMaxBytes
		}
		if int64(len(data)) > maxBytes {
			data = data[:maxBytes]
			meta["truncated"] = true
		}
	case f.GetDownloadURL() != "":
		body, err := download(ctx, gh, f.GetDownloadURL())
		if err != nil {
			return nil, c.classify(base.OpGetContext, id, err)
		}
		defer body.Close()
		var truncated bool
		data, truncated, err = extract.ReadLimited(body, maxBytes)
		if err != nil {
			return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to read content", err)
		}
		meta["truncated"] = truncated
	default:
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "unsupported content encoding: "+f.GetEncoding(), nil)
	}

	text, err := extract.Text(data, mimeType, f.GetName())
	switch {
	case errors.Is(err, extract.ErrBinary):
		meta["binary"] = true
	case err != nil:
		return nil, base.NewConnectorError(c.ID(), base.OpGetContext, "failed to extract text", err)
	}
	return &base.ContextResult{Item: item, Content: text, Metadata: meta}, nil
}

// Operations implements base.OperationProvider
func (c *Connector) Operations() map[string]base.OperationHandler {
	return map[string]base.OperationHandler{
		OpListRepositories: c.listRepositories,
	}
}

// ListRepositoriesParams is the params payload of listRepositories
type ListRepositoriesParams struct {
	Limit      int    `json:"limit,omitempty"`
	Visibility string `json:"visibility,omitempty"` // all, public or private
}

func (c *Connector) listRepositories(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	start := time.Now()
	gh, err := c.authorized(ctx, OpListRepositories)
	if err != nil {
		return nil, err
	}

	var p ListRepositoriesParams
	if v, ok := params["limit"].(float64); ok {
		p.Limit = int(v)
	}
	p.Visibility, _ = params["visibility"].(string)
	switch p.Visibility {
	case "", "all", "public", "private":
	default:
		return nil, base.InvalidArgumentError(c.ID(), OpListRepositories, "visibility must be all, public or private")
	}

	items, err := c.userRepos(ctx, gh, p.Limit, p.Visibility)
	if err != nil {
		return nil, c.Track(OpListRepositories, start, err)
	}
	repos := resource.NormalizeAll(c.ID(), items)
	return map[string]interface{}{"repositories": repos, "total": len(repos)}, c.Track(OpListRepositories, start, nil)
}

// contentsResult is either one file or a directory listing
type contentsResult struct {
	owner, repo string
	single      *github.RepositoryContent
	listing     []*github.RepositoryContent
}

func (c *Connector) userRepos(ctx context.Context, gh *github.Client, limit int, visibility string) ([]base.Item, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Visibility:  visibility,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage(limit)},
	}
	repos, err := sdk.RetryWithBackoff(ctx, c.GetRetryConfig(), func() ([]*github.Repository, error) {
		repos, _, err := gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		return repos, err
	})
	if err != nil {
		return nil, c.classify(OpListRepositories, "", err)
	}
	return repoItems(repos), nil
}

func (c *Connector) searchRepos(ctx context.Context, gh *github.Client, query string, since time.Time, limit int) ([]base.Item, error) {
	terms := strings.TrimSpace(query)
	if !since.IsZero() {
		terms = strings.TrimSpace(terms + " pushed:>" + since.UTC().Format(time.RFC3339))
	}
	opts := &github.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: perPage(limit)},
	}

	found, err := sdk.RetryWithBackoff(ctx, c.GetRetryConfig(), func() (*github.RepositoriesSearchResult, error) {
		found, _, err := gh.Search.Repositories(ctx, terms, opts)
		return found, err
	})
	if err != nil {
		return nil, c.classify(base.OpSearch, "", err)
	}
	return repoItems(found.Repositories), nil
}

func (c *Connector) file(ctx context.Context, gh *github.Client, id, op string) (base.Item, error) {
	res, err := c.contents(ctx, gh, id, op)
	if err != nil {
		return nil, err
	}
	if res.single == nil {
		return nil, base.InvalidArgumentError(c.ID(), op, "resource is a directory; use a folder query")
	}
	return contentItem(res.owner, res.repo, res.single), nil
}

func (c *Connector) folder(ctx context.Context, gh *github.Client, id string) ([]base.Item, error) {
	res, err := c.contents(ctx, gh, id, base.OpFetch)
	if err != nil {
		return nil, err
	}
	if res.single != nil {
		return []base.Item{contentItem(res.owner, res.repo, res.single)}, nil
	}
	items := make([]base.Item, 0, len(res.listing))
	for _, e := range res.listing {
		items = append(items, contentItem(res.owner, res.repo, e))
	}
	return items, nil
}

// contents calls the contents API for owner/repo/path
func (c *Connector) contents(ctx context.Context, gh *github.Client, id, op string) (*contentsResult, error) {
	owner, repo, p, err := ParseResourceID(id)
	if err != nil {
		return nil, base.InvalidArgumentError(c.ID(), op, err.Error())
	}

	file, dir, _, err := gh.Repositories.GetContents(ctx, owner, repo, p, nil)
	if err != nil {
		return nil, c.classify(op, id, err)
	}
	return &contentsResult{owner: owner, repo: repo, single: file, listing: dir}, nil
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

func (c *Connector) authorized(ctx context.Context, op string) (*github.Client, error) {
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

// client builds a REST client over the caller's OAuth token. A nil cred
// gives an unauthenticated client.
func (c *Connector) client(ctx context.Context, cred *base.Credential) *github.Client {
	httpClient := c.Transport
	if cred != nil {
		httpClient = sdk.HTTPClientFor(ctx, c.Transport, cred)
	}
	gh := github.NewClient(httpClient)
	gh.UserAgent = userAgent

	c.mu.RLock()
	baseURL := c.baseURL
	c.mu.RUnlock()
	if u, err := url.Parse(baseURL); err == nil {
		gh.BaseURL = u
	}
	return gh
}

const userAgent = "conhub-router"

// rateLimit reads /rate_limit, which needs no credential
func rateLimit(ctx context.Context, gh *github.Client) error {
	req, err := gh.NewRequest(http.MethodGet, "rate_limit", nil)
	if err != nil {
		return err
	}
	var limits map[string]interface{}
	_, err = gh.Do(ctx, req, &limits)
	return err
}

// download streams a raw file from its download URL; the caller closes it
func download(ctx context.Context, gh *github.Client, rawURL string) (io.ReadCloser, error) {
	req, err := gh.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.raw")
	resp, err := gh.BareDo(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Connector) classify(op, id string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return base.NewConnectorError(c.ID(), op, "GitHub rate limit exceeded", err)
	}

	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch apiErr.Response.StatusCode {
		case http.StatusNotFound:
			return base.NotFoundError(c.ID(), op, "not found: "+id, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return base.AuthenticationError(c.ID(), op, apiErr.Message, err)
		case http.StatusUnprocessableEntity:
			return base.InvalidArgumentError(c.ID(), op, apiErr.Message)
		case http.StatusTooManyRequests:
			return base.NewConnectorError(c.ID(), op, "GitHub rate limit exceeded", err)
		}
	}
	return base.NewConnectorError(c.ID(), op, "GitHub API call failed", err)
}

// ParseResourceID splits owner/repo/path. The path may be empty, naming the
// repository root.
func ParseResourceID(id string) (owner, repo, p string, err error) {
	parts := strings.SplitN(strings.Trim(id, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("resource id must be owner/repo[/path], got %q", id)
	}
	if len(parts) == 3 {
		p = parts[2]
	}
	return parts[0], parts[1], p, nil
}

func perPage(limit int) int {
	return resource.EffectiveLimit(limit)
}

func repoItems(repos []*github.Repository) []base.Item {
	items := make([]base.Item, 0, len(repos))
	for _, r := range repos {
		item := base.Item{
			"id":             r.GetFullName(),
			"name":           r.GetName(),
			"full_name":      r.GetFullName(),
			"html_url":       r.GetHTMLURL(),
			"updated_at":     r.GetUpdatedAt().Time,
			"mimeType":       mimeRepository,
			"private":        r.GetPrivate(),
			"stars":          r.GetStargazersCount(),
			"default_branch": r.GetDefaultBranch(),
			"owner":          r.GetOwner().GetLogin(),
		}
		if d := r.GetDescription(); d != "" {
			item["description"] = d
		}
		if l := r.GetLanguage(); l != "" {
			item["language"] = l
		}
		if a := r.GetOwner().GetAvatarURL(); a != "" {
			item["avatar_url"] = a
		}
		items = append(items, item)
	}
	return items
}

func contentItem(owner, repo string, e *github.RepositoryContent) base.Item {
	item := base.Item{
		"id":         owner + "/" + repo + "/" + e.GetPath(),
		"name":       e.GetName(),
		"path":       e.GetPath(),
		"type":       e.GetType(),
		"sha":        e.GetSHA(),
		"html_url":   e.GetHTMLURL(),
		"repository": owner + "/" + repo,
	}
	if e.GetType() == "dir" {
		item["mimeType"] = resource.MimeDirectory
		return item
	}
	item["size"] = int64(e.GetSize())
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(e.GetName()))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			item["mimeType"] = mt
		}
	}
	return item
}
