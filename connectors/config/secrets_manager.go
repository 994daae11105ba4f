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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"conhub/platform/connectors/base"
)

// SecretRefPrefix marks a credential value to be resolved from a secrets
// manager: "secretsmanager:<name>" or "secretsmanager:<name>#<field>".
const SecretRefPrefix = "secretsmanager:"

// SecretsManager resolves a named secret into key/value pairs
type SecretsManager interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// secretsAPI is the part of the Secrets Manager client used here
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager resolves secrets through AWS Secrets Manager with a TTL
// cache in front.
type AWSSecretsManager struct {
	client secretsAPI
	cache  *TTLCache[map[string]string]
	logger *log.Logger
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates a client from the default AWS credential chain
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.NewFromConfig(cfg), opts), nil
}

func newAWSSecretsManager(client secretsAPI, opts AWSSecretsManagerOptions) *AWSSecretsManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	return &AWSSecretsManager{
		client: client,
		cache:  NewTTLCache[map[string]string](opts.CacheTTL),
		logger: logger,
	}
}

// GetSecret returns the secret as key/value pairs. JSON object secrets are
// decoded; any other string is returned under "value".
func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached, nil
	}

	s.logger.Printf("Fetching secret %s", maskARN(name))
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(name), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(name))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}

	s.cache.Set(name, values)
	return values, nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(name string) {
	s.cache.Invalidate(name)
}

// maskARN masks a secret name for logging, keeping the last 8 characters
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// LocalSecretsManager serves secrets from memory, for development and tests
type LocalSecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewLocalSecretsManager creates an empty local secrets manager
func NewLocalSecretsManager(logger *log.Logger) *LocalSecretsManager {
	if logger == nil {
		logger = log.New(os.Stdout, "[LOCAL_SECRETS] ", log.LstdFlags)
	}
	return &LocalSecretsManager{
		secrets: make(map[string]map[string]string),
		logger:  logger,
	}
}

// GetSecret implements SecretsManager
func (s *LocalSecretsManager) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if secret, ok := s.secrets[name]; ok {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found in local secrets manager", name)
}

// SetSecret stores a secret
func (s *LocalSecretsManager) SetSecret(name string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
	s.logger.Printf("Set local secret %s", maskARN(name))
}

// ResolveSecrets replaces every "secretsmanager:" credential reference in cfg
// with the referenced value. Without an explicit field the credential's own
// key is looked up, then "value".
func ResolveSecrets(ctx context.Context, cfg *base.ConnectorConfig, sm SecretsManager) error {
	for key, raw := range cfg.Credentials {
		if !strings.HasPrefix(raw, SecretRefPrefix) {
			continue
		}
		if sm == nil {
			return fmt.Errorf("connector '%s' credential '%s' references a secret but no secrets manager is configured", cfg.Name, key)
		}

		name, field, _ := strings.Cut(strings.TrimPrefix(raw, SecretRefPrefix), "#")
		if name == "" {
			return fmt.Errorf("connector '%s' credential '%s' has an empty secret reference", cfg.Name, key)
		}

		values, err := sm.GetSecret(ctx, name)
		if err != nil {
			return fmt.Errorf("connector '%s' credential '%s': %w", cfg.Name, key, err)
		}

		candidates := []string{field}
		if field == "" {
			candidates = []string{key, "value"}
		}
		resolved := false
		for _, c := range candidates {
			if v, ok := values[c]; ok {
				cfg.Credentials[key] = v
				resolved = true
				break
			}
		}
		if !resolved {
			return fmt.Errorf("connector '%s' credential '%s': secret %s has no field %q", cfg.Name, key, maskARN(name), candidates[0])
		}
	}
	return nil
}
