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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"conhub/platform/connectors/base"
)

// Connector types understood by the router binary
const (
	TypeFilesystem  = "filesystem"
	TypeGoogleDrive = "google-drive"
	TypeGitHub      = "github"
	TypeDropbox     = "dropbox"
	TypeS3          = "s3"
	TypeGCS         = "gcs"
	TypeAzureBlob   = "azure-blob"
)

var knownTypes = []string{TypeFilesystem, TypeGoogleDrive, TypeGitHub, TypeDropbox, TypeS3, TypeGCS, TypeAzureBlob}

// IsKnownType reports whether connType names a supported connector type
func IsKnownType(connType string) bool {
	for _, t := range knownTypes {
		if t == connType {
			return true
		}
	}
	return false
}

// envDefault maps an environment variable onto a credential or option key
type envDefault struct {
	env      string
	key      string
	isOption bool
}

var envDefaults = map[string][]envDefault{
	TypeGoogleDrive: {
		{env: "GOOGLE_CLIENT_ID", key: "client_id"},
		{env: "GOOGLE_CLIENT_SECRET", key: "client_secret"},
		{env: "GOOGLE_REDIRECT_URL", key: "redirect_url"},
	},
	TypeGitHub: {
		{env: "GITHUB_CLIENT_ID", key: "client_id"},
		{env: "GITHUB_CLIENT_SECRET", key: "client_secret"},
		{env: "GITHUB_REDIRECT_URL", key: "redirect_url"},
	},
	TypeDropbox: {
		{env: "DROPBOX_CLIENT_ID", key: "client_id"},
		{env: "DROPBOX_CLIENT_SECRET", key: "client_secret"},
		{env: "DROPBOX_REDIRECT_URL", key: "redirect_url"},
	},
	TypeFilesystem: {
		{env: "FILESYSTEM_ROOT", key: "root", isOption: true},
	},
	TypeS3: {
		{env: "AWS_REGION", key: "region", isOption: true},
		{env: "S3_BUCKET", key: "bucket", isOption: true},
	},
	TypeGCS: {
		{env: "GCS_BUCKET", key: "bucket", isOption: true},
	},
	TypeAzureBlob: {
		{env: "AZURE_STORAGE_ACCOUNT_URL", key: "account_url", isOption: true},
		{env: "AZURE_STORAGE_CONTAINER", key: "container", isOption: true},
	},
}

// ApplyEnvDefaults fills missing credentials and options of cfg from the
// environment variables of its type. Values already present win.
func ApplyEnvDefaults(cfg *base.ConnectorConfig) {
	if cfg.Credentials == nil {
		cfg.Credentials = make(map[string]string)
	}
	if cfg.Options == nil {
		cfg.Options = make(map[string]interface{})
	}

	for _, d := range envDefaults[cfg.Type] {
		value := os.Getenv(d.env)
		if value == "" {
			continue
		}
		if d.isOption {
			if existing, ok := cfg.Options[d.key]; !ok || existing == nil || existing == "" {
				cfg.Options[d.key] = value
			}
			continue
		}
		if cfg.Credentials[d.key] == "" {
			cfg.Credentials[d.key] = value
		}
	}
}

// LoadFromEnv builds a connector configuration from environment variables
// prefixed with CONHUB_<ID>_:
//
//	CONHUB_DOCS_TIMEOUT=10s
//	CONHUB_DOCS_MAX_RETRIES=5
//	CONHUB_DOCS_CRED_CLIENT_ID=...
//	CONHUB_DOCS_OPT_ROOT=/srv/docs
func LoadFromEnv(connectorID, connectorType string) (*base.ConnectorConfig, error) {
	if !IsKnownType(connectorType) {
		return nil, fmt.Errorf("unknown connector type: %s", connectorType)
	}
	prefix := "CONHUB_" + envName(connectorID) + "_"

	cfg := &base.ConnectorConfig{
		Name:        connectorID,
		Type:        connectorType,
		Credentials: make(map[string]string),
		Options:     make(map[string]interface{}),
		Timeout:     defaultTimeout,
		MaxRetries:  defaultMaxRetries,
	}

	if timeoutStr := os.Getenv(prefix + "TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format: %s", timeoutStr)
		}
		cfg.Timeout = timeout
	}

	if maxRetriesStr := os.Getenv(prefix + "MAX_RETRIES"); maxRetriesStr != "" {
		maxRetries, err := strconv.Atoi(maxRetriesStr)
		if err != nil {
			return nil, fmt.Errorf("invalid max_retries format: %s", maxRetriesStr)
		}
		cfg.MaxRetries = maxRetries
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		switch {
		case strings.HasPrefix(rest, "CRED_"):
			cfg.Credentials[strings.ToLower(strings.TrimPrefix(rest, "CRED_"))] = value
		case strings.HasPrefix(rest, "OPT_"):
			cfg.Options[strings.ToLower(strings.TrimPrefix(rest, "OPT_"))] = value
		}
	}

	ApplyEnvDefaults(cfg)
	return cfg, nil
}

// envName upper-cases id and replaces characters not allowed in variable names
func envName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// ValidateConfig performs the checks common to all connector types
func ValidateConfig(cfg *base.ConnectorConfig) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if cfg.Name == "" {
		return fmt.Errorf("connector name is required")
	}
	if strings.Contains(cfg.Name, ".") {
		return fmt.Errorf("connector name '%s' must not contain '.'", cfg.Name)
	}
	if cfg.Type == "" {
		return fmt.Errorf("connector type is required")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// Transports served by the router process
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Credential store backends
const (
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	StoreKeyring = "keyring"
)

// ServerConfig holds process-level settings
type ServerConfig struct {
	Port            string
	Transport       string
	JWTSecret       string
	CredentialStore string
	RedisURL        string
	DatabaseURL     string
	AWSRegion       string
	HealthInterval  time.Duration
	HealthTimeout   time.Duration
	CallTimeout     time.Duration
	CORSOrigins     []string
	// RateLimit is requests per second per principal; zero disables it
	RateLimit float64
	RateBurst int
	// EnvConnectors lists "<id>:<type>" pairs loaded with LoadFromEnv
	// when no config file is found
	EnvConnectors []string
}

// LoadServerConfig reads server settings from the environment
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8090"),
		Transport:       strings.ToLower(getEnvOrDefault("CONHUB_TRANSPORT", TransportHTTP)),
		JWTSecret:       os.Getenv("CONHUB_JWT_SECRET"),
		CredentialStore: strings.ToLower(getEnvOrDefault("CONHUB_CREDENTIAL_STORE", StoreMemory)),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AWSRegion:       os.Getenv("AWS_REGION"),
		CORSOrigins:     splitList(getEnvOrDefault("CONHUB_CORS_ORIGINS", "*")),
		EnvConnectors:   splitList(os.Getenv("CONHUB_CONNECTORS")),
		RateBurst:       10,
	}

	var err error
	if cfg.HealthInterval, err = durationFromEnv("CONHUB_HEALTH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HealthTimeout, err = durationFromEnv("CONHUB_HEALTH_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CallTimeout, err = durationFromEnv("CONHUB_CALL_TIMEOUT", 0); err != nil {
		return nil, err
	}

	if v := os.Getenv("CONHUB_RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.ParseFloat(v, 64); err != nil || cfg.RateLimit < 0 {
			return nil, fmt.Errorf("invalid CONHUB_RATE_LIMIT: %s", v)
		}
	}
	if v := os.Getenv("CONHUB_RATE_BURST"); v != "" {
		if cfg.RateBurst, err = strconv.Atoi(v); err != nil || cfg.RateBurst < 1 {
			return nil, fmt.Errorf("invalid CONHUB_RATE_BURST: %s", v)
		}
	}

	switch cfg.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return nil, fmt.Errorf("invalid CONHUB_TRANSPORT '%s' (want http or stdio)", cfg.Transport)
	}

	switch cfg.CredentialStore {
	case StoreMemory, StoreKeyring:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("CONHUB_CREDENTIAL_STORE=redis requires REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("invalid CONHUB_CREDENTIAL_STORE '%s'", cfg.CredentialStore)
	}

	return cfg, nil
}

// LoadEnvConnectors builds one configuration per "<id>:<type>" entry
func LoadEnvConnectors(entries []string) ([]*base.ConnectorConfig, error) {
	configs := make([]*base.ConnectorConfig, 0, len(entries))
	for _, entry := range entries {
		id, connType, ok := strings.Cut(entry, ":")
		if !ok || id == "" || connType == "" {
			return nil, fmt.Errorf("invalid CONHUB_CONNECTORS entry '%s' (want <id>:<type>)", entry)
		}
		cfg, err := LoadFromEnv(strings.TrimSpace(id), strings.TrimSpace(connType))
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func durationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration for %s: %s", key, value)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
