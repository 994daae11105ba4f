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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CONHUB_TEST_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"${CONHUB_TEST_SET}", "value"},
		{"$CONHUB_TEST_SET", "value"},
		{"${CONHUB_TEST_UNSET}", ""},
		{"${CONHUB_TEST_UNSET:-fallback}", "fallback"},
		{"${CONHUB_TEST_SET:-fallback}", "value"},
		{"prefix-${CONHUB_TEST_SET}-suffix", "prefix-value-suffix"},
		{"no references", "no references"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.in))
		})
	}
}

func TestYAMLConfigFileLoader_LoadConnectors(t *testing.T) {
	t.Setenv("TEST_DOCS_ROOT", "/srv/docs")
	t.Setenv("GOOGLE_CLIENT_SECRET", "env-secret")

	path := writeConfig(t, `
version: "1.0"
connectors:
  drive:
    type: google-drive
    display_name: Team Drive
    credentials:
      client_id: file-id
    timeout_ms: 5000
  docs:
    type: filesystem
    options:
      root: ${TEST_DOCS_ROOT}
    max_retries: 1
  archive:
    type: s3
    enabled: false
`)

	loader, err := NewYAMLConfigFileLoader(path)
	require.NoError(t, err)

	configs, err := loader.LoadConnectors()
	require.NoError(t, err)
	require.Len(t, configs, 2)

	docs, drive := configs[0], configs[1]
	assert.Equal(t, "docs", docs.Name)
	assert.Equal(t, "/srv/docs", docs.Options["root"])
	assert.Equal(t, 1, docs.MaxRetries)
	assert.Equal(t, 30*time.Second, docs.Timeout)

	assert.Equal(t, "drive", drive.Name)
	assert.Equal(t, TypeGoogleDrive, drive.Type)
	assert.Equal(t, 5*time.Second, drive.Timeout)
	assert.Equal(t, 3, drive.MaxRetries)
	assert.Equal(t, "Team Drive", drive.Options["display_name"])
	assert.Equal(t, "file-id", drive.Credentials["client_id"])
	assert.Equal(t, "env-secret", drive.Credentials["client_secret"])
}

func TestYAMLConfigFileLoader_Reload(t *testing.T) {
	path := writeConfig(t, "version: \"1.0\"\nconnectors:\n  docs:\n    type: filesystem\n")
	loader, err := NewYAMLConfigFileLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\nconnectors:\n  docs:\n    type: filesystem\n  code:\n    type: github\n"), 0o600))
	require.NoError(t, loader.Reload())

	configs, err := loader.LoadConnectors()
	require.NoError(t, err)
	assert.Len(t, configs, 2)
}

func TestNewYAMLConfigFileLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"invalid yaml", "version: [", "failed to parse"},
		{"missing version", "connectors:\n  docs:\n    type: filesystem\n", "version"},
		{"missing type", "version: \"1\"\nconnectors:\n  docs:\n    enabled: true\n", "must specify a type"},
		{"unknown type", "version: \"1\"\nconnectors:\n  docs:\n    type: ftp\n", "invalid type"},
		{"dotted id", "version: \"1\"\nconnectors:\n  my.docs:\n    type: filesystem\n", "must not contain"},
		{"negative timeout", "version: \"1\"\nconnectors:\n  docs:\n    type: filesystem\n    timeout_ms: -1\n", "timeout_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLConfigFileLoader(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := NewYAMLConfigFileLoader(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, "/custom/connectors.yaml")
		assert.Equal(t, "/custom/connectors.yaml", FindConfigFile())
	})

	t.Run("default path", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, "")
		dir := t.TempDir()
		path := filepath.Join(dir, "connectors.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o600))

		saved := DefaultConfigPaths
		DefaultConfigPaths = []string{filepath.Join(dir, "missing.yaml"), path}
		defer func() { DefaultConfigPaths = saved }()

		assert.Equal(t, path, FindConfigFile())
	})

	t.Run("none", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, "")
		saved := DefaultConfigPaths
		DefaultConfigPaths = []string{filepath.Join(t.TempDir(), "missing.yaml")}
		defer func() { DefaultConfigPaths = saved }()

		assert.Empty(t, FindConfigFile())
	})
}

func TestGenerateExampleConfigFile(t *testing.T) {
	cfg, err := ParseConfigFile([]byte(GenerateExampleConfigFile()))
	require.NoError(t, err)
	assert.Equal(t, "1.0", cfg.Version)
	assert.Contains(t, cfg.Connectors, "docs")
	assert.False(t, cfg.Connectors["archive"].IsEnabled())
	assert.Equal(t, TypeDropbox, cfg.Connectors["files"].Type)
	assert.False(t, cfg.Connectors["files"].IsEnabled())
	assert.True(t, strings.HasPrefix(cfg.Connectors["drive"].Credentials["client_secret"], SecretRefPrefix))
}
