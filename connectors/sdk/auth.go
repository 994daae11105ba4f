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

package sdk

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"conhub/platform/connectors/base"
)

// OAuthFlow performs the authorization-code flow and token refresh for one
// connector.
type OAuthFlow struct {
	connectorID string
	config      *oauth2.Config
	// HTTPClient overrides the client used for token endpoint calls
	HTTPClient *http.Client
	// AuthOptions are extra provider parameters for the consent URL
	AuthOptions []oauth2.AuthCodeOption
}

// NewOAuthFlow creates an OAuth flow for connectorID
func NewOAuthFlow(connectorID string, config *oauth2.Config) *OAuthFlow {
	return &OAuthFlow{connectorID: connectorID, config: config}
}

// Config returns the underlying oauth2 config
func (f *OAuthFlow) Config() *oauth2.Config {
	return f.config
}

// AuthCodeURL returns the consent URL requesting offline access so a
// refresh token is issued.
func (f *OAuthFlow) AuthCodeURL(state string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}, f.AuthOptions...)
	return f.config.AuthCodeURL(state, opts...)
}

func (f *OAuthFlow) context(ctx context.Context) context.Context {
	if f.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	return ctx
}

// Authenticate dispatches on the request shape: a code is exchanged with
// exactly one token endpoint call, direct tokens are validated and wrapped.
func (f *OAuthFlow) Authenticate(ctx context.Context, req *base.AuthRequest) (*base.Credential, error) {
	if req == nil {
		return nil, base.AuthenticationError(f.connectorID, base.OpAuthenticate, "missing credentials payload", nil)
	}
	if !req.IsCodeExchange() {
		return CredentialFromDirectTokens(f.connectorID, req)
	}

	cfg := *f.config
	if req.RedirectURL != "" {
		cfg.RedirectURL = req.RedirectURL
	}

	token, err := cfg.Exchange(f.context(ctx), req.Code)
	if err != nil {
		return nil, base.AuthenticationError(f.connectorID, base.OpAuthenticate, "authorization code exchange failed", err)
	}
	return CredentialFromToken(f.connectorID, token), nil
}

// Refresh exchanges the refresh token for a new access token. Providers that
// do not rotate refresh tokens get the previous one carried forward.
func (f *OAuthFlow) Refresh(ctx context.Context, cred *base.Credential) (*base.Credential, error) {
	if !cred.CanRefresh() {
		return nil, base.AuthenticationError(f.connectorID, "refresh", "no refresh token held", nil)
	}

	expired := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	token, err := f.config.TokenSource(f.context(ctx), expired).Token()
	if err != nil {
		return nil, base.AuthenticationError(f.connectorID, "refresh", "token refresh failed", err)
	}

	refreshed := CredentialFromToken(f.connectorID, token)
	refreshed.Principal = cred.Principal
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if refreshed.Scope == "" {
		refreshed.Scope = cred.Scope
	}
	return refreshed, nil
}

// CredentialFromToken converts an oauth2 token into a credential record
func CredentialFromToken(connectorID string, token *oauth2.Token) *base.Credential {
	cred := &base.Credential{
		ConnectorID:  connectorID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		cred.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	return cred
}

// TokenFromCredential converts a credential record into an oauth2 token
func TokenFromCredential(cred *base.Credential) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
	}
	if cred.ExpiresAt != nil {
		token.Expiry = *cred.ExpiresAt
	}
	return token
}

// CredentialFromDirectTokens validates a directly supplied token payload
func CredentialFromDirectTokens(connectorID string, req *base.AuthRequest) (*base.Credential, error) {
	if req == nil || strings.TrimSpace(req.AccessToken) == "" {
		return nil, base.AuthenticationError(connectorID, base.OpAuthenticate, "payload must contain code or accessToken", nil)
	}
	if strings.ContainsAny(req.AccessToken, " \t\r\n") {
		return nil, base.AuthenticationError(connectorID, base.OpAuthenticate, "malformed access token", nil)
	}
	cred := &base.Credential{
		ConnectorID:  connectorID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    "Bearer",
		Scope:        req.Scope,
	}
	if req.ExpiresAt != nil {
		expiry := req.ExpiresAt.UTC()
		cred.ExpiresAt = &expiry
	}
	return cred, nil
}

// HTTPClientFor returns an http.Client that sends the credential as a bearer
// token. It never refreshes; refresh is owned by the credential manager.
func HTTPClientFor(ctx context.Context, transport *http.Client, cred *base.Credential) *http.Client {
	if transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, transport)
	}
	token := TokenFromCredential(cred)
	// A static source keeps oauth2 from attempting its own refresh.
	token.Expiry = time.Time{}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
}
