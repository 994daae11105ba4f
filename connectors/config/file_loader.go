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
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"conhub/platform/connectors/base"
)

// ConfigFileEnv names the environment variable holding the config file path
const ConfigFileEnv = "CONHUB_CONFIG_FILE"

// DefaultConfigPaths are searched in order when ConfigFileEnv is unset
var DefaultConfigPaths = []string{
	"./config/connectors.yaml",
	"/etc/conhub/connectors.yaml",
}

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

// ConfigFile is the root of a connectors YAML file
type ConfigFile struct {
	Version    string                         `yaml:"version"`
	Connectors map[string]ConnectorFileConfig `yaml:"connectors,omitempty"`
}

// ConnectorFileConfig is one connector entry, keyed by connector id.
// Enabled defaults to true when omitted.
type ConnectorFileConfig struct {
	Type        string                 `yaml:"type"`
	Enabled     *bool                  `yaml:"enabled,omitempty"`
	DisplayName string                 `yaml:"display_name,omitempty"`
	Credentials map[string]string      `yaml:"credentials,omitempty"`
	Options     map[string]interface{} `yaml:"options,omitempty"`
	TimeoutMs   int                    `yaml:"timeout_ms,omitempty"`
	MaxRetries  int                    `yaml:"max_retries,omitempty"`
}

// IsEnabled reports whether the entry should be registered
func (c ConnectorFileConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// YAMLConfigFileLoader loads connector configurations from a YAML file
type YAMLConfigFileLoader struct {
	filePath string
	config   *ConfigFile
}

// FindConfigFile returns the config file to load, or "" when none exists.
// An explicit CONHUB_CONFIG_FILE is returned even if missing so the error
// surfaces at load time.
func FindConfigFile() string {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// NewYAMLConfigFileLoader reads and parses filePath
func NewYAMLConfigFileLoader(filePath string) (*YAMLConfigFileLoader, error) {
	loader := &YAMLConfigFileLoader{filePath: filePath}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	return loader, nil
}

func (l *YAMLConfigFileLoader) reload() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.filePath, err)
	}

	cfg, err := ParseConfigFile(data)
	if err != nil {
		return fmt.Errorf("config file %s: %w", l.filePath, err)
	}
	l.config = cfg
	return nil
}

// ParseConfigFile expands environment references in data and decodes it
func ParseConfigFile(data []byte) (*ConfigFile, error) {
	var cfg ConfigFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := ValidateConfigFile(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reload re-reads the configuration file
func (l *YAMLConfigFileLoader) Reload() error {
	return l.reload()
}

// File returns the parsed file
func (l *YAMLConfigFileLoader) File() *ConfigFile {
	return l.config
}

// LoadConnectors returns the enabled connector configs ordered by id, with
// environment defaults applied.
func (l *YAMLConfigFileLoader) LoadConnectors() ([]*base.ConnectorConfig, error) {
	if l.config == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	ids := make([]string, 0, len(l.config.Connectors))
	for id := range l.config.Connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	configs := make([]*base.ConnectorConfig, 0, len(ids))
	for _, id := range ids {
		fileConfig := l.config.Connectors[id]
		if !fileConfig.IsEnabled() {
			continue
		}
		cfg := toConnectorConfig(id, fileConfig)
		ApplyEnvDefaults(cfg)
		configs = append(configs, cfg)
	}
	return configs, nil
}

func toConnectorConfig(id string, fc ConnectorFileConfig) *base.ConnectorConfig {
	timeout := time.Duration(fc.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := fc.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	credentials := make(map[string]string, len(fc.Credentials))
	for k, v := range fc.Credentials {
		credentials[k] = v
	}
	options := make(map[string]interface{}, len(fc.Options)+1)
	for k, v := range fc.Options {
		options[k] = v
	}
	if fc.DisplayName != "" {
		options["display_name"] = fc.DisplayName
	}

	return &base.ConnectorConfig{
		Name:        id,
		Type:        fc.Type,
		Credentials: credentials,
		Options:     options,
		Timeout:     timeout,
		MaxRetries:  maxRetries,
	}
}

// envVarRegex matches ${VAR_NAME}, ${VAR_NAME:-default} and $VAR_NAME
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment references. Undefined variables without
// a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if name, def, ok := strings.Cut(varName, ":-"); ok {
			varName, defaultVal = name, def
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// ValidateConfigFile checks the version and every connector entry
func ValidateConfigFile(config *ConfigFile) error {
	if config.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}

	for id, connector := range config.Connectors {
		if strings.TrimSpace(id) == "" || strings.Contains(id, ".") {
			return fmt.Errorf("connector id '%s' must be non-empty and must not contain '.'", id)
		}
		if connector.Type == "" {
			return fmt.Errorf("connector '%s' must specify a type", id)
		}
		if !IsKnownType(connector.Type) {
			return fmt.Errorf("connector '%s' has invalid type '%s'", id, connector.Type)
		}
		if connector.TimeoutMs < 0 {
			return fmt.Errorf("connector '%s' timeout_ms cannot be negative", id)
		}
		if connector.MaxRetries < 0 {
			return fmt.Errorf("connector '%s' max_retries cannot be negative", id)
		}
	}
	return nil
}

// GenerateExampleConfigFile returns an annotated example configuration
func GenerateExampleConfigFile() string {
	return `# Connector router configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default}
# Credentials of the form secretsmanager:<name>[#field] are read from AWS Secrets Manager

version: "1.0"

connectors:
  docs:
    type: filesystem
    display_name: "Local Documents"
    options:
      root: ${FILESYSTEM_ROOT:-./data}

  drive:
    type: google-drive
    display_name: "Google Drive"
    credentials:
      client_id: ${GOOGLE_CLIENT_ID}
      client_secret: secretsmanager:conhub/google#client_secret
      redirect_url: ${GOOGLE_REDIRECT_URL:-http://localhost:8090/oauth/callback}
    timeout_ms: 30000

  code:
    type: github
    display_name: "GitHub"
    credentials:
      client_id: ${GITHUB_CLIENT_ID}
      client_secret: ${GITHUB_CLIENT_SECRET}

  files:
    type: dropbox
    display_name: "Dropbox"
    enabled: false
    credentials:
      client_id: ${DROPBOX_CLIENT_ID}
      client_secret: ${DROPBOX_CLIENT_SECRET}

  archive:
    type: s3
    enabled: false
    options:
      bucket: ${S3_BUCKET}
      region: ${AWS_REGION:-us-east-1}
      prefix: documents/
`
}
