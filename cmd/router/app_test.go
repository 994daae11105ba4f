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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/config"
	"conhub/platform/connectors/router"
)

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Port:            "0",
		Transport:       config.TransportHTTP,
		CredentialStore: config.StoreMemory,
		HealthInterval:  time.Minute,
		HealthTimeout:   time.Second,
	}
}

func docsConfig(t *testing.T) *base.ConnectorConfig {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# quarterly budget\n"), 0o600))
	return &base.ConnectorConfig{
		Name:    "docs",
		Type:    config.TypeFilesystem,
		Options: map[string]interface{}{"root": dir},
		Timeout: 5 * time.Second,
	}
}

func TestBuildConnector(t *testing.T) {
	types := []string{
		config.TypeFilesystem,
		config.TypeGoogleDrive,
		config.TypeGitHub,
		config.TypeDropbox,
		config.TypeS3,
		config.TypeGCS,
		config.TypeAzureBlob,
	}
	for _, typ := range types {
		t.Run(typ, func(t *testing.T) {
			conn, err := buildConnector(&base.ConnectorConfig{Name: "c1", Type: typ})
			require.NoError(t, err)
			assert.Equal(t, "c1", conn.Descriptor().ID)
		})
	}

	_, err := buildConnector(&base.ConnectorConfig{Name: "c1", Type: "ftp"})
	assert.Error(t, err)
}

func TestHasSecretRefs(t *testing.T) {
	plain := []*base.ConnectorConfig{{Name: "a", Credentials: map[string]string{"client_id": "x"}}}
	assert.False(t, hasSecretRefs(plain))
	assert.False(t, hasSecretRefs(nil))

	withRef := append(plain, &base.ConnectorConfig{
		Name:        "b",
		Credentials: map[string]string{"client_secret": config.SecretRefPrefix + "conhub/google#client_secret"},
	})
	assert.True(t, hasSecretRefs(withRef))
}

func TestNewApp_RegistersConnectors(t *testing.T) {
	ctx := context.Background()
	drive := &base.ConnectorConfig{Name: "drive", Type: config.TypeGoogleDrive}

	app, err := NewApp(ctx, testServerConfig(), []*base.ConnectorConfig{docsConfig(t), drive})
	require.NoError(t, err)
	defer app.Close()

	infos := app.registry.List()
	require.Len(t, infos, 2)
	initialized := map[string]bool{}
	for _, info := range infos {
		initialized[info.ID] = info.Initialized
	}
	assert.True(t, initialized["docs"])
	// missing client credentials leave drive registered but uninitialized
	assert.False(t, initialized["drive"])

	resp := app.Router().Dispatch(ctx, &router.Request{
		Method: "docs.search",
		Params: map[string]interface{}{"query": "budget"},
	})
	require.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)

	resp = app.Router().Dispatch(ctx, &router.Request{Method: router.MethodList})
	require.Nil(t, resp.Error)
}

func TestNewApp_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewApp(ctx, testServerConfig(), []*base.ConnectorConfig{{Name: "x", Type: "ftp"}})
		assert.Error(t, err)
	})

	t.Run("dotted id", func(t *testing.T) {
		cc := docsConfig(t)
		cc.Name = "my.docs"
		_, err := NewApp(ctx, testServerConfig(), []*base.ConnectorConfig{cc})
		assert.Error(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := NewApp(ctx, testServerConfig(), []*base.ConnectorConfig{docsConfig(t), docsConfig(t)})
		assert.Error(t, err)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testServerConfig()
		cfg.CredentialStore = config.StoreRedis
		cfg.RedisURL = "redis://127.0.0.1:1"
		_, err := NewApp(ctx, cfg, nil)
		assert.Error(t, err)
	})
}

func TestNewApp_RedisCredentialStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testServerConfig()
	cfg.CredentialStore = config.StoreRedis
	cfg.RedisURL = "redis://" + mr.Addr()

	app, err := NewApp(context.Background(), cfg, []*base.ConnectorConfig{docsConfig(t)})
	require.NoError(t, err)
	assert.Len(t, app.closers, 1)

	app.Close()
	assert.Empty(t, app.closers)
}

func TestServe_StopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testServerConfig(), nil)
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestLoadConnectorConfigs(t *testing.T) {
	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "connectors.yaml")
		yaml := "version: \"1.0\"\nconnectors:\n  docs:\n    type: filesystem\n    options:\n      root: /srv/docs\n  old:\n    type: s3\n    enabled: false\n"
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
		t.Setenv(config.ConfigFileEnv, path)

		configs, err := loadConnectorConfigs(testServerConfig())
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, "docs", configs[0].Name)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(config.ConfigFileEnv, "")
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })
		cfg := testServerConfig()
		cfg.EnvConnectors = []string{"docs:filesystem"}

		configs, err := loadConnectorConfigs(cfg)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, config.TypeFilesystem, configs[0].Type)
	})
}

func TestConfigCommands(t *testing.T) {
	t.Run("example", func(t *testing.T) {
		var out bytes.Buffer
		cmd := rootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"config", "example"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "connectors:")
	})

	t.Run("validate", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "connectors.yaml")
		require.NoError(t, os.WriteFile(path, []byte(config.GenerateExampleConfigFile()), 0o600))

		var out bytes.Buffer
		cmd := rootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"config", "validate", path})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "docs")
		assert.Contains(t, out.String(), "google-drive")
		assert.NotContains(t, out.String(), "archive")
	})

	t.Run("validate rejects bad file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "connectors.yaml")
		require.NoError(t, os.WriteFile(path, []byte("connectors: {}\n"), 0o600))

		cmd := rootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"config", "validate", path})
		assert.Error(t, cmd.Execute())
	})
}
