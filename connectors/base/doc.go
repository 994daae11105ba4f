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

/*
Package base provides the core interfaces and types for ConHub connectors.

# Overview

Every backend (Google Drive, GitHub, the local filesystem, object stores)
participates in routing by implementing the Connector interface. The router
never branches on the concrete type; it only consults the Descriptor's
capabilities and calls through the interface.

# Connector Interface

	type Connector interface {
	    Descriptor() Descriptor

	    // Lifecycle
	    Initialize(ctx context.Context, config *ConnectorConfig) error
	    IsInitialized() bool
	    HealthCheck(ctx context.Context) *HealthStatus
	    Cleanup(ctx context.Context) error

	    Authenticate(ctx context.Context, req *AuthRequest) (*Credential, error)

	    // Data operations
	    Fetch(ctx context.Context, query *FetchQuery) (*FetchResult, error)
	    Search(ctx context.Context, query string, opts *SearchOptions) (*SearchResult, error)
	    GetContext(ctx context.Context, resourceID string, opts *ContextOptions) (*ContextResult, error)
	}

Data operations return native Items using provider field names. Conversion
into resource descriptors happens at the router boundary.

Optional interfaces extend the contract: TokenRefresher for refreshable
OAuth credentials, AuthorizationURLProvider to start a consent flow,
AuthRequirer to request a stored credential per principal, and
OperationProvider for connector specific operations.

# Credentials

The router attaches the caller's credential to the context before invoking
a data operation:

	cred, ok := base.CredentialFrom(ctx)
	if !ok {
	    return nil, base.AuthenticationError(name, base.OpSearch, "no credential", nil)
	}

# Error Handling

Connector failures are returned as *ConnectorError carrying a Kind:

	if errors.Is(err, base.ErrNotFound) {
	    // resource does not exist upstream
	}

	switch base.KindOf(err) {
	case base.KindAuthentication:
	    ...
	}

Anything that is not a ConnectorError is classified as KindInternal.

# Thread Safety

All Connector implementations must be safe for concurrent use.
*/
package base
