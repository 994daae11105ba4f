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
	"io"
	"log"
	"sync"
	"time"

	"conhub/platform/connectors/base"
)

// Operation name used by MockConnector call tracking for token refreshes
const OpRefresh = "refresh"

// MockConnector is a configurable test double that counts every call.
type MockConnector struct {
	*BaseConnector

	mu            sync.Mutex
	calls         map[string]int
	errs          map[string]error
	panics        map[string]bool
	blocks        map[string]chan struct{}
	healthStatus  *base.HealthStatus
	healthDelay   time.Duration
	searchItems   []base.Item
	fetchResult   *base.FetchResult
	contextResult *base.ContextResult
	credential    *base.Credential
	refreshFunc   func(ctx context.Context, cred *base.Credential) (*base.Credential, error)
	requiresAuth  bool
	extraOps      map[string]base.OperationHandler
	lastSearch    string
	lastOptions   *base.SearchOptions
	lastCredByOp  map[string]*base.Credential
}

// NewMockConnector creates a mock advertising the given capabilities
func NewMockConnector(id string, capabilities ...string) *MockConnector {
	bc := NewConnectorBuilder(id, "mock").
		WithVersion("1.0.0-mock").
		WithCapabilities(capabilities...).
		WithLogger(log.New(io.Discard, "", 0)).
		Build()

	return &MockConnector{
		BaseConnector: bc,
		calls:         make(map[string]int),
		errs:          make(map[string]error),
		panics:        make(map[string]bool),
		blocks:        make(map[string]chan struct{}),
		lastCredByOp:  make(map[string]*base.Credential),
		healthStatus:  &base.HealthStatus{Healthy: true, Message: "ok"},
	}
}

func (m *MockConnector) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	err := m.errs[op]
	shouldPanic := m.panics[op]
	block := m.blocks[op]
	if cred, ok := base.CredentialFrom(ctx); ok {
		m.lastCredByOp[op] = cred
	}
	m.mu.Unlock()

	if shouldPanic {
		panic("mock connector panic in " + op)
	}
	if block != nil {
		<-block
	}
	return err
}

// Initialize implements base.Connector
func (m *MockConnector) Initialize(ctx context.Context, config *base.ConnectorConfig) error {
	if err := m.enter(ctx, base.OpInitialize); err != nil {
		return err
	}
	return m.BaseConnector.Initialize(ctx, config)
}

// HealthCheck implements base.Connector
func (m *MockConnector) HealthCheck(ctx context.Context) *base.HealthStatus {
	m.mu.Lock()
	m.calls[base.OpHealth]++
	delay := m.healthDelay
	status := *m.healthStatus
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &base.HealthStatus{Healthy: false, Message: ctx.Err().Error(), Timestamp: time.Now()}
		}
	}
	status.Timestamp = time.Now()
	return &status
}

// Authenticate implements base.Connector
func (m *MockConnector) Authenticate(ctx context.Context, req *base.AuthRequest) (*base.Credential, error) {
	if err := m.enter(ctx, base.OpAuthenticate); err != nil {
		return nil, err
	}
	m.mu.Lock()
	cred := m.credential
	m.mu.Unlock()
	if cred != nil {
		copied := *cred
		return &copied, nil
	}
	return m.BaseConnector.Authenticate(ctx, req)
}

// Fetch implements base.Connector
func (m *MockConnector) Fetch(ctx context.Context, query *base.FetchQuery) (*base.FetchResult, error) {
	if err := m.enter(ctx, base.OpFetch); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchResult == nil {
		return &base.FetchResult{Items: []base.Item{}}, nil
	}
	return m.fetchResult, nil
}

// Search implements base.Connector
func (m *MockConnector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	if err := m.enter(ctx, base.OpSearch); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSearch = query
	m.lastOptions = opts
	items := make([]base.Item, len(m.searchItems))
	copy(items, m.searchItems)
	return &base.SearchResult{Items: items}, nil
}

// GetContext implements base.Connector
func (m *MockConnector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	if err := m.enter(ctx, base.OpGetContext); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contextResult == nil {
		return &base.ContextResult{Item: base.Item{"id": resourceID}}, nil
	}
	return m.contextResult, nil
}

// Cleanup implements base.Connector
func (m *MockConnector) Cleanup(ctx context.Context) error {
	if err := m.enter(ctx, base.OpCleanup); err != nil {
		return err
	}
	return m.BaseConnector.Cleanup(ctx)
}

// RefreshToken implements base.TokenRefresher
func (m *MockConnector) RefreshToken(ctx context.Context, cred *base.Credential) (*base.Credential, error) {
	if err := m.enter(ctx, OpRefresh); err != nil {
		return nil, err
	}
	m.mu.Lock()
	fn := m.refreshFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, cred)
	}
	expiry := time.Now().Add(time.Hour)
	return &base.Credential{
		ConnectorID:  cred.ConnectorID,
		Principal:    cred.Principal,
		AccessToken:  cred.AccessToken + "-refreshed",
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    &expiry,
	}, nil
}

// RequiresAuth implements base.AuthRequirer
func (m *MockConnector) RequiresAuth() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requiresAuth
}

// Operations implements base.OperationProvider
func (m *MockConnector) Operations() map[string]base.OperationHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extraOps
}

// SetOperation registers an extra operation handler
func (m *MockConnector) SetOperation(op string, handler base.OperationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extraOps == nil {
		m.extraOps = make(map[string]base.OperationHandler)
	}
	m.extraOps[op] = handler
}

// SetError makes op fail with err
func (m *MockConnector) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
}

// SetPanic makes op panic
func (m *MockConnector) SetPanic(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[op] = true
}

// SetBlock makes op block until ch is closed
func (m *MockConnector) SetBlock(op string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[op] = ch
}

// SetHealthStatus sets the status returned by HealthCheck
func (m *MockConnector) SetHealthStatus(healthy bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthStatus = &base.HealthStatus{Healthy: healthy, Message: message}
}

// SetHealthDelay delays HealthCheck, honoring ctx cancellation
func (m *MockConnector) SetHealthDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthDelay = d
}

// SetSearchItems sets the native items returned by Search
func (m *MockConnector) SetSearchItems(items ...base.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchItems = items
}

// SetFetchResult sets the result returned by Fetch
func (m *MockConnector) SetFetchResult(res *base.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchResult = res
}

// SetContextResult sets the result returned by GetContext
func (m *MockConnector) SetContextResult(res *base.ContextResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contextResult = res
}

// SetCredential sets the credential returned by Authenticate
func (m *MockConnector) SetCredential(cred *base.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = cred
}

// SetRefreshFunc overrides RefreshToken behavior
func (m *MockConnector) SetRefreshFunc(fn func(ctx context.Context, cred *base.Credential) (*base.Credential, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshFunc = fn
}

// SetRequiresAuth toggles the stored-credential requirement
func (m *MockConnector) SetRequiresAuth(required bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requiresAuth = required
}

// CallCount returns how many times op was invoked
func (m *MockConnector) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// LastSearch returns the query and options of the last Search call
func (m *MockConnector) LastSearch() (string, *base.SearchOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSearch, m.lastOptions
}

// CredentialSeen returns the credential attached to the last call of op
func (m *MockConnector) CredentialSeen(op string) *base.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCredByOp[op]
}

// NewTestConfig returns a minimal config for tests
func NewTestConfig(id string) *base.ConnectorConfig {
	return &base.ConnectorConfig{
		Name:        id,
		Type:        "mock",
		Credentials: map[string]string{},
		Options:     map[string]interface{}{},
		Timeout:     5 * time.Second,
	}
}
