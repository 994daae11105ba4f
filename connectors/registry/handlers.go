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

package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/resource"
)

// lifecycle operations are routable on every connector
var lifecycleOps = map[string]bool{
	base.OpHealth:       true,
	base.OpInitialize:   true,
	base.OpAuthenticate: true,
	base.OpCleanup:      true,
}

// SearchParams is the params payload of a search call
type SearchParams struct {
	Query   string              `json:"query"`
	Options *base.SearchOptions `json:"options,omitempty"`
}

// ContextParams is the params payload of a getContext call
type ContextParams struct {
	ResourceID string              `json:"resourceId"`
	Options    *base.ContextOptions `json:"options,omitempty"`
}

// InitializeParams is the params payload of an initialize call. Values
// overlay the connector's default config.
type InitializeParams struct {
	Credentials map[string]string      `json:"credentials,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
	TimeoutMs   int                    `json:"timeoutMs,omitempty"`
	MaxRetries  int                    `json:"maxRetries,omitempty"`
}

// AuthorizeURLResult is returned by authorizeUrl
type AuthorizeURLResult struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// CleanupResult is returned by cleanup
type CleanupResult struct {
	ConnectorID string `json:"connectorId"`
	Cleaned     bool   `json:"cleaned"`
}

// SetDefaultConfig stores the config used when initialize is routed without
// explicit values, typically loaded from the config file.
func (r *Registry) SetDefaultConfig(id string, cfg *base.ConnectorConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaults == nil {
		r.defaults = make(map[string]*base.ConnectorConfig)
	}
	r.defaults[id] = cfg
}

func (r *Registry) defaultConfig(id string) *base.ConnectorConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := &base.ConnectorConfig{
		Name:        id,
		Credentials: map[string]string{},
		Options:     map[string]interface{}{},
	}
	if d, ok := r.defaults[id]; ok && d != nil {
		cfg.Type = d.Type
		cfg.Timeout = d.Timeout
		cfg.MaxRetries = d.MaxRetries
		for k, v := range d.Credentials {
			cfg.Credentials[k] = v
		}
		for k, v := range d.Options {
			cfg.Options[k] = v
		}
	}
	return cfg
}

// buildHandlers validates the advertised capabilities against what conn can
// serve and returns the routable operation table.
func (r *Registry) buildHandlers(id string, d base.Descriptor, conn base.Connector) (map[string]base.OperationHandler, error) {
	var extras map[string]base.OperationHandler
	if p, ok := conn.(base.OperationProvider); ok {
		extras = p.Operations()
	}

	handlers := map[string]base.OperationHandler{
		base.OpHealth: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			status := conn.HealthCheck(ctx)
			_, _ = r.SetHealth(id, status)
			return status, nil
		},
		base.OpInitialize: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			var p InitializeParams
			if err := DecodeParams(id, base.OpInitialize, params, &p); err != nil {
				return nil, err
			}
			cfg := r.defaultConfig(id)
			for k, v := range p.Credentials {
				cfg.Credentials[k] = v
			}
			for k, v := range p.Options {
				cfg.Options[k] = v
			}
			if p.TimeoutMs > 0 {
				cfg.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
			}
			if p.MaxRetries > 0 {
				cfg.MaxRetries = p.MaxRetries
			}
			if err := r.Initialize(ctx, id, cfg); err != nil {
				return nil, err
			}
			return map[string]interface{}{"connectorId": id, "initialized": true}, nil
		},
		base.OpAuthenticate: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			if nested, ok := params["credentials"].(map[string]interface{}); ok {
				params = nested
			}
			var req base.AuthRequest
			if err := DecodeParams(id, base.OpAuthenticate, params, &req); err != nil {
				return nil, err
			}
			return conn.Authenticate(ctx, &req)
		},
		base.OpCleanup: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			if err := r.Unregister(ctx, id); err != nil {
				return nil, err
			}
			return &CleanupResult{ConnectorID: id, Cleaned: true}, nil
		},
	}

	if p, ok := conn.(base.AuthorizationURLProvider); ok {
		handlers[base.OpAuthorizeURL] = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			state, _ := params["state"].(string)
			if state == "" {
				state = uuid.NewString()
			}
			u, err := p.AuthorizationURL(state)
			if err != nil {
				return nil, err
			}
			return &AuthorizeURLResult{URL: u, State: state}, nil
		}
	}

	for _, capability := range d.Capabilities {
		switch {
		case lifecycleOps[capability] || capability == base.OpAuthorizeURL:
			if _, ok := handlers[capability]; !ok {
				return nil, base.NewKindError(base.KindRegistration, id, "register",
					"capability '"+capability+"' advertised but not implemented", nil)
			}
		case capability == base.OpFetch:
			handlers[capability] = fetchHandler(id, conn)
		case capability == base.OpSearch:
			handlers[capability] = searchHandler(id, conn)
		case capability == base.OpGetContext:
			handlers[capability] = contextHandler(id, conn)
		default:
			h, ok := extras[capability]
			if !ok || h == nil {
				return nil, base.NewKindError(base.KindRegistration, id, "register",
					"capability '"+capability+"' advertised without a handler", nil)
			}
			handlers[capability] = h
		}
	}
	return handlers, nil
}

func fetchHandler(id string, conn base.Connector) base.OperationHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		var q base.FetchQuery
		if err := DecodeParams(id, base.OpFetch, params, &q); err != nil {
			return nil, err
		}
		if q.Type == "" {
			return nil, base.InvalidArgumentError(id, base.OpFetch, "query type is required")
		}
		res, err := conn.Fetch(ctx, &q)
		if err != nil {
			return nil, err
		}
		return resource.BuildFetchPage(id, res), nil
	}
}

func searchHandler(id string, conn base.Connector) base.OperationHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		var p SearchParams
		if err := DecodeParams(id, base.OpSearch, params, &p); err != nil {
			return nil, err
		}
		opts := p.Options
		if opts == nil {
			opts = &base.SearchOptions{}
		}
		if opts.Limit < 0 {
			return nil, base.InvalidArgumentError(id, base.OpSearch, "limit must not be negative")
		}
		if _, err := opts.ModifiedSince(); err != nil {
			return nil, base.InvalidArgumentError(id, base.OpSearch, "modifiedTime must be RFC3339")
		}
		opts.Limit = resource.EffectiveLimit(opts.Limit)

		res, err := conn.Search(ctx, p.Query, opts)
		if err != nil {
			return nil, err
		}
		var items []base.Item
		if res != nil {
			items = res.Items
		}
		return resource.BuildSearchPage(id, items, opts.Limit), nil
	}
}

func contextHandler(id string, conn base.Connector) base.OperationHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		var p ContextParams
		if err := DecodeParams(id, base.OpGetContext, params, &p); err != nil {
			return nil, err
		}
		if p.ResourceID == "" {
			return nil, base.InvalidArgumentError(id, base.OpGetContext, "resourceId is required")
		}
		res, err := conn.GetContext(ctx, p.ResourceID, p.Options)
		if err != nil {
			return nil, err
		}
		return resource.BuildContextPage(id, res), nil
	}
}

// DecodeParams converts a generic params object into out. Shape mismatches
// are KindInvalidArgument.
func DecodeParams(id, op string, params map[string]interface{}, out interface{}) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return base.InvalidArgumentError(id, op, "params are not serializable")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return base.InvalidArgumentError(id, op, "invalid params: "+err.Error())
	}
	return nil
}

func sortedKeys(m map[string]base.OperationHandler) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
