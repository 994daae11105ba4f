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

package base

import (
	"context"
	"time"
)

// Operation names understood by the router. Lifecycle operations are routable
// on every connector; data operations only when advertised as capabilities.
const (
	OpHealth       = "health"
	OpInitialize   = "initialize"
	OpAuthenticate = "authenticate"
	OpAuthorizeURL = "authorizeUrl"
	OpCleanup      = "cleanup"

	OpFetch      = "fetch"
	OpSearch     = "search"
	OpGetContext = "getContext"
)

// Fetch query types
const (
	QueryFile   = "file"
	QueryFolder = "folder"
	QuerySearch = "search"
	QueryRecent = "recent"
)

// Connector is the capability contract every backend implements to
// participate in routing. Implementations must be safe for concurrent use.
type Connector interface {
	// Metadata
	Descriptor() Descriptor

	// Lifecycle
	Initialize(ctx context.Context, config *ConnectorConfig) error
	IsInitialized() bool
	HealthCheck(ctx context.Context) *HealthStatus
	Cleanup(ctx context.Context) error

	// Auth
	Authenticate(ctx context.Context, req *AuthRequest) (*Credential, error)

	// Data operations (native shapes, normalized by the router)
	Fetch(ctx context.Context, query *FetchQuery) (*FetchResult, error)
	Search(ctx context.Context, query string, opts *SearchOptions) (*SearchResult, error)
	GetContext(ctx context.Context, resourceID string, opts *ContextOptions) (*ContextResult, error)
}

// TokenRefresher is implemented by connectors whose credentials can be
// renewed with a refresh token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, cred *Credential) (*Credential, error)
}

// AuthorizationURLProvider is implemented by OAuth connectors that can start
// a consent flow.
type AuthorizationURLProvider interface {
	AuthorizationURL(state string) (string, error)
}

// AuthRequirer reports whether routed data operations need a stored credential.
// Connectors that do not implement it are treated as not requiring auth.
type AuthRequirer interface {
	RequiresAuth() bool
}

// OperationHandler serves a connector specific operation beyond the fixed contract.
type OperationHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// OperationProvider exposes extra operations keyed by operation name. Each
// name must also be advertised in the descriptor capabilities.
type OperationProvider interface {
	Operations() map[string]OperationHandler
}

// Descriptor advertises identity and capabilities of a connector.
type Descriptor struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Capabilities []string          `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HasCapability reports whether op is advertised.
func (d Descriptor) HasCapability(op string) bool {
	for _, c := range d.Capabilities {
		if c == op {
			return true
		}
	}
	return false
}

// ConnectorConfig holds the configuration for a connector instance
type ConnectorConfig struct {
	Name        string                 `json:"name"`        // Connector id
	Type        string                 `json:"type"`        // filesystem, google-drive, github, s3, ...
	Credentials map[string]string      `json:"credentials"` // Client ids, secrets, keys
	Options     map[string]interface{} `json:"options"`     // Connector-specific options
	Timeout     time.Duration          `json:"timeout"`     // Upstream call timeout
	MaxRetries  int                    `json:"max_retries"` // Connector-side retries for transient failures
}

// HealthStatus represents the health of a connector
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Message   string            `json:"message,omitempty"`
	Latency   time.Duration     `json:"latency"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuthRequest carries either an authorization code or directly supplied tokens.
type AuthRequest struct {
	Code         string     `json:"code,omitempty"`
	State        string     `json:"state,omitempty"`
	RedirectURL  string     `json:"redirectUrl,omitempty"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Scope        string     `json:"scope,omitempty"`
}

// IsCodeExchange reports whether the request is an authorization code exchange.
func (r *AuthRequest) IsCodeExchange() bool {
	return r != nil && r.Code != ""
}

// Credential is the token state held for one connector and principal.
type Credential struct {
	ConnectorID  string     `json:"connectorId"`
	Principal    string     `json:"principal,omitempty"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Scope        string     `json:"scope,omitempty"`
}

// Expired reports whether the access token is expired at now, treating
// tokens within skew of their expiry as already expired.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*c.ExpiresAt)
}

// CanRefresh reports whether a refresh token is held.
func (c *Credential) CanRefresh() bool {
	return c != nil && c.RefreshToken != ""
}

// Item is a connector-native record using provider field names.
type Item map[string]interface{}

// FetchQuery is the typed discriminated query accepted by Fetch.
type FetchQuery struct {
	Type     string                 `json:"type"`
	FileID   string                 `json:"fileId,omitempty"`
	FolderID string                 `json:"folderId,omitempty"`
	Query    string                 `json:"query,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// FetchResult holds either a single item (file queries) or a listing.
type FetchResult struct {
	Item  Item
	Items []Item
}

// SearchOptions are conjunctive filters applied upstream.
type SearchOptions struct {
	Limit        int    `json:"limit,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	ModifiedTime string `json:"modifiedTime,omitempty"` // ISO-8601 lower bound
}

// ModifiedSince parses ModifiedTime; the zero time means no bound.
func (o *SearchOptions) ModifiedSince() (time.Time, error) {
	if o == nil || o.ModifiedTime == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, o.ModifiedTime)
}

// SearchResult is the native search output; ordering, truncation and
// hasMore are settled during normalization.
type SearchResult struct {
	Items []Item
}

// ContextOptions bound content extraction.
type ContextOptions struct {
	MaxBytes int64 `json:"maxBytes,omitempty"`
}

// ContextResult is a single resource plus its extracted text. Content is empty
// for binary resources.
type ContextResult struct {
	Item     Item
	Content  string
	Metadata map[string]interface{}
}
