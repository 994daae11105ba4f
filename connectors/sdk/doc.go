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

// Package sdk provides the building blocks shared by ConHub connectors.
//
// # Quick Start
//
// Embed BaseConnector and override the data operations the connector
// advertises:
//
//	type MyConnector struct {
//	    *sdk.BaseConnector
//	    client *myapi.Client
//	}
//
//	func (c *MyConnector) Initialize(ctx context.Context, cfg *base.ConnectorConfig) error {
//	    if c.IsInitialized() {
//	        return nil
//	    }
//	    if err := c.Configure(ctx, cfg); err != nil {
//	        return err
//	    }
//	    // open the upstream client
//	    c.MarkInitialized()
//	    return nil
//	}
//
// BaseConnector gives idempotent Cleanup, config validation that surfaces
// missing settings as initialization errors, a prefixed logger and
// in-process metrics.
//
// # OAuth
//
// OAuthFlow wraps golang.org/x/oauth2 for code exchange and refresh:
//
//	flow := sdk.NewOAuthFlow("google-drive", &oauth2.Config{...})
//	cred, err := flow.Authenticate(ctx, &base.AuthRequest{Code: code})
//
// # Retry and Rate Limiting
//
// RetryWithBackoff retries idempotent upstream reads on transient failures.
// IsConnectivityError classifies failures that should trigger an immediate
// health probe. PrincipalRateLimiter keeps one token bucket per principal.
//
// # Testing
//
// MockConnector is a configurable double that counts every call:
//
//	mock := sdk.NewMockConnector("test", base.OpSearch)
//	mock.SetSearchItems(base.Item{"id": "a"})
//	...
//	if mock.CallCount(base.OpSearch) != 1 { ... }
package sdk
