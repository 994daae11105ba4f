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

	"conhub/platform/connectors/base"
)

// Version is the current SDK version
const Version = "1.0.0"

// ConnectorBuilder provides a fluent interface for building connectors
type ConnectorBuilder struct {
	id           string
	connType     string
	name         string
	version      string
	capabilities []string
	rateLimiter  *PrincipalRateLimiter
	retryConfig  *RetryConfig
	logger       *log.Logger
	validator    ConfigValidator
	hooks        *LifecycleHooks
}

// NewConnectorBuilder creates a new connector builder
func NewConnectorBuilder(id, connType string) *ConnectorBuilder {
	return &ConnectorBuilder{
		id:       id,
		connType: connType,
		name:     connType,
		version:  "1.0.0",
		logger:   log.New(os.Stdout, fmt.Sprintf("[MCP_%s] ", strings.ToUpper(connType)), log.LstdFlags),
	}
}

// WithName sets the human-readable connector name
func (b *ConnectorBuilder) WithName(name string) *ConnectorBuilder {
	b.name = name
	return b
}

// WithVersion sets the connector version
func (b *ConnectorBuilder) WithVersion(version string) *ConnectorBuilder {
	b.version = version
	return b
}

// WithCapabilities appends advertised capabilities
func (b *ConnectorBuilder) WithCapabilities(caps ...string) *ConnectorBuilder {
	b.capabilities = append(b.capabilities, caps...)
	return b
}

// WithRateLimiter sets the rate limiter
func (b *ConnectorBuilder) WithRateLimiter(limiter *PrincipalRateLimiter) *ConnectorBuilder {
	b.rateLimiter = limiter
	return b
}

// WithRetryConfig sets the retry configuration
func (b *ConnectorBuilder) WithRetryConfig(config *RetryConfig) *ConnectorBuilder {
	b.retryConfig = config
	return b
}

// WithLogger sets a custom logger
func (b *ConnectorBuilder) WithLogger(logger *log.Logger) *ConnectorBuilder {
	b.logger = logger
	return b
}

// WithValidator sets a configuration validator
func (b *ConnectorBuilder) WithValidator(validator ConfigValidator) *ConnectorBuilder {
	b.validator = validator
	return b
}

// WithHooks sets lifecycle hooks
func (b *ConnectorBuilder) WithHooks(hooks *LifecycleHooks) *ConnectorBuilder {
	b.hooks = hooks
	return b
}

// Build creates a BaseConnector with the configured options
func (b *ConnectorBuilder) Build() *BaseConnector {
	c := NewBaseConnector(b.id, b.connType)
	c.displayName = b.name
	c.version = b.version
	c.capabilities = b.capabilities
	c.rateLimiter = b.rateLimiter
	c.retryConfig = b.retryConfig
	c.logger = b.logger
	c.validator = b.validator
	c.hooks = b.hooks
	return c
}

// ConfigValidator validates connector configuration
type ConfigValidator interface {
	// Validate checks if the configuration is valid
	Validate(config *base.ConnectorConfig) error

	// RequiredFields returns the list of required configuration fields
	RequiredFields() []string
}

// DefaultConfigValidator checks that required fields are present in either
// Credentials or Options and fills optional defaults.
type DefaultConfigValidator struct {
	required []string
	optional map[string]interface{}
}

// NewDefaultConfigValidator creates a new default config validator
func NewDefaultConfigValidator(required []string, optional map[string]interface{}) *DefaultConfigValidator {
	if optional == nil {
		optional = make(map[string]interface{})
	}
	return &DefaultConfigValidator{
		required: required,
		optional: optional,
	}
}

// Validate reports every missing required field at once
func (v *DefaultConfigValidator) Validate(config *base.ConnectorConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var missing []string
	for _, field := range v.required {
		if s, ok := config.Credentials[field]; ok && s != "" {
			continue
		}
		if val, ok := config.Options[field]; ok && val != nil && val != "" {
			continue
		}
		missing = append(missing, field)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequiredFields returns the required fields
func (v *DefaultConfigValidator) RequiredFields() []string {
	return v.required
}

// ApplyDefaults applies optional defaults to config
func (v *DefaultConfigValidator) ApplyDefaults(config *base.ConnectorConfig) {
	if config.Options == nil {
		config.Options = make(map[string]interface{})
	}
	for field, defaultValue := range v.optional {
		if _, exists := config.Options[field]; !exists {
			config.Options[field] = defaultValue
		}
	}
}

// LifecycleHooks provides hooks for connector lifecycle events
type LifecycleHooks struct {
	// OnInitialize runs after validation, before the connector is marked initialized
	OnInitialize func(ctx context.Context, config *base.ConnectorConfig) error

	// OnCleanup runs before credentials are released
	OnCleanup func(ctx context.Context) error
}
