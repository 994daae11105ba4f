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
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"conhub/platform/connectors/base"
)

// DefaultTimeout applies when a config carries no timeout
const DefaultTimeout = 30 * time.Second

// BaseConnector provides the shared lifecycle for concrete connectors.
// Embed it and override the data operations the connector advertises.
type BaseConnector struct {
	id           string
	connType     string
	displayName  string
	version      string
	capabilities []string
	metadata     map[string]string
	config       *base.ConnectorConfig
	initialized  bool
	logger       *log.Logger
	rateLimiter  *PrincipalRateLimiter
	retryConfig  *RetryConfig
	validator    ConfigValidator
	hooks        *LifecycleHooks
	metrics      *ConnectorMetrics
	mu           sync.RWMutex
}

// NewBaseConnector creates a base connector registered under id
func NewBaseConnector(id, connType string) *BaseConnector {
	return &BaseConnector{
		id:          id,
		connType:    connType,
		displayName: connType,
		version:     "1.0.0",
		metadata:    map[string]string{"type": connType},
		logger:      log.New(os.Stdout, fmt.Sprintf("[MCP_%s] ", strings.ToUpper(connType)), log.LstdFlags),
		metrics:     NewConnectorMetrics(connType),
	}
}

// Descriptor implements base.Connector
func (c *BaseConnector) Descriptor() base.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	caps := make([]string, len(c.capabilities))
	copy(caps, c.capabilities)
	meta := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	return base.Descriptor{
		ID:           c.id,
		Name:         c.displayName,
		Version:      c.version,
		Capabilities: caps,
		Metadata:     meta,
	}
}

// Initialize validates config and marks the connector initialized. Connectors
// that open upstream clients call Configure and MarkInitialized instead.
func (c *BaseConnector) Initialize(ctx context.Context, config *base.ConnectorConfig) error {
	if c.IsInitialized() {
		return nil
	}
	if err := c.Configure(ctx, config); err != nil {
		return err
	}
	c.MarkInitialized()
	return nil
}

// Configure validates config, applies defaults and runs the initialize hook
// without marking the connector initialized.
func (c *BaseConnector) Configure(ctx context.Context, config *base.ConnectorConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if config == nil {
		config = &base.ConnectorConfig{}
	}
	if config.Name == "" {
		config.Name = c.id
	}
	if config.Type == "" {
		config.Type = c.connType
	}

	if c.validator != nil {
		if err := c.validator.Validate(config); err != nil {
			return base.InitializationError(c.id, "configuration validation failed", err)
		}
		if defaults, ok := c.validator.(*DefaultConfigValidator); ok {
			defaults.ApplyDefaults(config)
		}
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	c.config = config

	if c.hooks != nil && c.hooks.OnInitialize != nil {
		if err := c.hooks.OnInitialize(ctx, config); err != nil {
			return base.InitializationError(c.id, "initialize hook failed", err)
		}
	}
	return nil
}

// MarkInitialized flips the connector into the initialized state
func (c *BaseConnector) MarkInitialized() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		c.initialized = true
		c.metrics.RecordInitialize()
		c.logger.Printf("Connector initialized: %s (type: %s)", c.id, c.connType)
	}
}

// IsInitialized implements base.Connector
func (c *BaseConnector) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Cleanup releases config-held secrets and resets the initialized flag.
// Calling it on a clean connector is a no-op.
func (c *BaseConnector) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	if c.hooks != nil && c.hooks.OnCleanup != nil {
		if err := c.hooks.OnCleanup(ctx); err != nil {
			c.logger.Printf("Warning: cleanup hook failed: %v", err)
		}
	}

	if c.config != nil {
		c.config.Credentials = nil
	}
	c.initialized = false
	c.metrics.RecordCleanup()
	c.logger.Printf("Connector cleaned up: %s", c.id)
	return nil
}

// HealthCheck reports initialization state. Connectors override it with an
// upstream probe.
func (c *BaseConnector) HealthCheck(ctx context.Context) *base.HealthStatus {
	c.mu.RLock()
	status := &base.HealthStatus{
		Healthy:   c.initialized,
		Timestamp: time.Now(),
		Metadata: map[string]string{
			"connector_type": c.connType,
			"version":        c.version,
		},
	}
	c.mu.RUnlock()
	if !status.Healthy {
		status.Message = "not initialized"
	}
	return status
}

// Authenticate accepts directly supplied tokens. Code exchange needs an
// OAuth connector.
func (c *BaseConnector) Authenticate(ctx context.Context, req *base.AuthRequest) (*base.Credential, error) {
	if req.IsCodeExchange() {
		return nil, base.AuthenticationError(c.id, base.OpAuthenticate, "authorization code exchange not supported", nil)
	}
	return CredentialFromDirectTokens(c.id, req)
}

// Fetch implements base.Connector
func (c *BaseConnector) Fetch(ctx context.Context, query *base.FetchQuery) (*base.FetchResult, error) {
	return nil, base.NewConnectorError(c.id, base.OpFetch, "fetch not implemented", nil)
}

// Search implements base.Connector
func (c *BaseConnector) Search(ctx context.Context, query string, opts *base.SearchOptions) (*base.SearchResult, error) {
	return nil, base.NewConnectorError(c.id, base.OpSearch, "search not implemented", nil)
}

// GetContext implements base.Connector
func (c *BaseConnector) GetContext(ctx context.Context, resourceID string, opts *base.ContextOptions) (*base.ContextResult, error) {
	return nil, base.NewConnectorError(c.id, base.OpGetContext, "getContext not implemented", nil)
}

// RequireInitialized guards data operations invoked before Initialize
func (c *BaseConnector) RequireInitialized(op string) error {
	if !c.IsInitialized() {
		return base.NewKindError(base.KindInitialization, c.id, op, "connector not initialized", nil)
	}
	return nil
}

// Throttle waits on the per-principal rate limiter if one is configured
func (c *BaseConnector) Throttle(ctx context.Context, op string) error {
	c.mu.RLock()
	limiter := c.rateLimiter
	c.mu.RUnlock()

	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx, base.PrincipalFrom(ctx)); err != nil {
		return base.NewConnectorError(c.id, op, "rate limit wait aborted", err)
	}
	return nil
}

// Track records an operation outcome and returns err unchanged
func (c *BaseConnector) Track(op string, start time.Time, err error) error {
	c.metrics.RecordOperation(op, time.Since(start), err)
	return err
}

// ID returns the registry id
func (c *BaseConnector) ID() string {
	return c.id
}

// Type returns the connector type
func (c *BaseConnector) Type() string {
	return c.connType
}

// SetName sets the human-readable name
func (c *BaseConnector) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = name
}

// SetVersion sets the connector version
func (c *BaseConnector) SetVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
}

// SetCapabilities sets the connector capabilities
func (c *BaseConnector) SetCapabilities(caps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities = caps
}

// SetMetadata adds a descriptor metadata entry
func (c *BaseConnector) SetMetadata(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// SetLogger sets a custom logger
func (c *BaseConnector) SetLogger(logger *log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// SetRateLimiter sets the per-principal rate limiter
func (c *BaseConnector) SetRateLimiter(limiter *PrincipalRateLimiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimiter = limiter
}

// SetRetryConfig sets the retry configuration
func (c *BaseConnector) SetRetryConfig(config *RetryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryConfig = config
}

// GetRetryConfig returns the retry configuration, honoring the config's
// MaxRetries when set.
func (c *BaseConnector) GetRetryConfig() *RetryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg := c.retryConfig
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	if c.config != nil && c.config.MaxRetries > 0 {
		copied := *cfg
		copied.MaxRetries = c.config.MaxRetries
		return &copied
	}
	return cfg
}

// SetValidator sets the configuration validator
func (c *BaseConnector) SetValidator(validator ConfigValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = validator
}

// SetHooks sets lifecycle hooks
func (c *BaseConnector) SetHooks(hooks *LifecycleHooks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = hooks
}

// GetMetrics returns the connector metrics
func (c *BaseConnector) GetMetrics() *ConnectorMetrics {
	return c.metrics
}

// GetConfig returns the connector configuration
func (c *BaseConnector) GetConfig() *base.ConnectorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Log writes a log message with the connector prefix
func (c *BaseConnector) Log(format string, args ...interface{}) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	logger.Printf(format, args...)
}

// GetTimeout returns the configured timeout or default
func (c *BaseConnector) GetTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config != nil && c.config.Timeout > 0 {
		return c.config.Timeout
	}
	return DefaultTimeout
}

// WithTimeout creates a context with the connector's configured timeout
func (c *BaseConnector) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.GetTimeout())
}

// GetOption retrieves an option value from config
func (c *BaseConnector) GetOption(key string, defaultValue interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config == nil || c.config.Options == nil {
		return defaultValue
	}
	if val, ok := c.config.Options[key]; ok {
		return val
	}
	return defaultValue
}

// GetStringOption retrieves a string option
func (c *BaseConnector) GetStringOption(key, defaultValue string) string {
	if s, ok := c.GetOption(key, defaultValue).(string); ok {
		return s
	}
	return defaultValue
}

// GetIntOption retrieves an integer option
func (c *BaseConnector) GetIntOption(key string, defaultValue int) int {
	switch v := c.GetOption(key, defaultValue).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

// GetBoolOption retrieves a boolean option
func (c *BaseConnector) GetBoolOption(key string, defaultValue bool) bool {
	if b, ok := c.GetOption(key, defaultValue).(bool); ok {
		return b
	}
	return defaultValue
}

// GetCredential retrieves a configured secret (client id, API key)
func (c *BaseConnector) GetCredential(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config == nil || c.config.Credentials == nil {
		return ""
	}
	return c.config.Credentials[key]
}
