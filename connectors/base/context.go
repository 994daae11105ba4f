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

import "context"

// DefaultPrincipal is used when a transport supplies no identity.
const DefaultPrincipal = "default"

// ContextKey is a type for context keys
type ContextKey string

const (
	ContextKeyCredential ContextKey = "conhub_credential"
	ContextKeyPrincipal  ContextKey = "conhub_principal"
	ContextKeyRequestID  ContextKey = "conhub_request_id"
)

// WithCredential attaches the credential a connector should use upstream.
func WithCredential(ctx context.Context, cred *Credential) context.Context {
	return context.WithValue(ctx, ContextKeyCredential, cred)
}

// CredentialFrom returns the credential attached by the router, if any.
func CredentialFrom(ctx context.Context) (*Credential, bool) {
	cred, ok := ctx.Value(ContextKeyCredential).(*Credential)
	return cred, ok && cred != nil
}

func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// PrincipalFrom returns the principal on ctx or DefaultPrincipal.
func PrincipalFrom(ctx context.Context) string {
	if p, ok := ctx.Value(ContextKeyPrincipal).(string); ok && p != "" {
		return p
	}
	return DefaultPrincipal
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
