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
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"conhub/platform/connectors/azureblob"
	"conhub/platform/connectors/base"
	"conhub/platform/connectors/config"
	"conhub/platform/connectors/credentials"
	"conhub/platform/connectors/dropbox"
	"conhub/platform/connectors/filesystem"
	"conhub/platform/connectors/gcs"
	"conhub/platform/connectors/github"
	"conhub/platform/connectors/googledrive"
	"conhub/platform/connectors/health"
	"conhub/platform/connectors/registry"
	"conhub/platform/connectors/router"
	"conhub/platform/connectors/s3"
	"conhub/platform/connectors/sdk"
	"conhub/platform/server"
	"conhub/platform/shared/logger"
)

// App holds the wired components of one router process
type App struct {
	cfg       *config.ServerConfig
	registry  *registry.Registry
	creds     *credentials.Manager
	health    *health.Aggregator
	router    *router.Router
	closers   []io.Closer
	logOutput io.Writer
	logger    *log.Logger
}

// loggerSetter is implemented by connectors built on sdk.BaseConnector
type loggerSetter interface {
	SetLogger(*log.Logger)
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectors, err := loadConnectorConfigs(cfg)
	if err != nil {
		return err
	}

	app, err := NewApp(ctx, cfg, connectors)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}

// loadConnectorConfigs reads the connectors file, falling back to
// CONHUB_CONNECTORS when there is none
func loadConnectorConfigs(cfg *config.ServerConfig) ([]*base.ConnectorConfig, error) {
	path := config.FindConfigFile()
	if path == "" {
		return config.LoadEnvConnectors(cfg.EnvConnectors)
	}
	loader, err := config.NewYAMLConfigFileLoader(path)
	if err != nil {
		return nil, err
	}
	return loader.LoadConnectors()
}

// NewApp wires the registry, credential store, health aggregator and router,
// then registers and initializes every configured connector. A connector that
// fails to initialize stays registered so it can be initialized later.
func NewApp(ctx context.Context, cfg *config.ServerConfig, connectors []*base.ConnectorConfig) (*App, error) {
	// stdout carries protocol frames in stdio mode
	var out io.Writer = os.Stdout
	if cfg.Transport == config.TransportStdio {
		out = os.Stderr
	}
	app := &App{
		cfg:       cfg,
		logOutput: out,
		logger:    log.New(out, "[CONHUB] ", log.LstdFlags),
	}

	if err := app.resolveSecrets(ctx, connectors); err != nil {
		return nil, err
	}

	reg, err := app.newRegistry()
	if err != nil {
		return nil, err
	}
	app.registry = reg

	store, err := app.newCredentialStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.creds = credentials.NewManager(store)
	app.creds.SetLogger(log.New(out, "[MCP_CREDENTIALS] ", log.LstdFlags))

	for _, cc := range connectors {
		if err := app.addConnector(ctx, cc); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.health = health.NewAggregator(reg, health.Config{
		Interval: cfg.HealthInterval,
		Timeout:  cfg.HealthTimeout,
	})
	app.health.SetLogger(log.New(out, "[MCP_HEALTH] ", log.LstdFlags))

	app.router = router.NewRouter(reg, app.creds, app.health)
	app.router.SetLogger(logger.New("router"))
	if cfg.CallTimeout > 0 {
		app.router.SetCallTimeout(cfg.CallTimeout)
	}
	if cfg.RateLimit > 0 {
		app.router.SetRateLimiter(sdk.NewPrincipalRateLimiter(cfg.RateLimit, cfg.RateBurst))
	}
	return app, nil
}

func (a *App) resolveSecrets(ctx context.Context, connectors []*base.ConnectorConfig) error {
	if !hasSecretRefs(connectors) {
		return nil
	}
	sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
		Region: a.cfg.AWSRegion,
		Logger: log.New(a.logOutput, "[SECRETS_MANAGER] ", log.LstdFlags),
	})
	if err != nil {
		return err
	}
	for _, cc := range connectors {
		if err := config.ResolveSecrets(ctx, cc, sm); err != nil {
			return err
		}
	}
	return nil
}

func hasSecretRefs(connectors []*base.ConnectorConfig) bool {
	for _, cc := range connectors {
		for _, v := range cc.Credentials {
			if strings.HasPrefix(v, config.SecretRefPrefix) {
				return true
			}
		}
	}
	return false
}

func (a *App) newRegistry() (*registry.Registry, error) {
	var reg *registry.Registry
	if a.cfg.DatabaseURL != "" {
		storage, err := registry.NewPostgreSQLStorage(a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("registry storage: %w", err)
		}
		reg = registry.NewRegistryWithStorage(storage)
		a.logger.Println("Registry persistence enabled (PostgreSQL)")
	} else {
		reg = registry.NewRegistry()
	}
	reg.SetLogger(log.New(a.logOutput, "[MCP_REGISTRY] ", log.LstdFlags))
	return reg, nil
}

func (a *App) newCredentialStore(ctx context.Context) (credentials.Store, error) {
	switch a.cfg.CredentialStore {
	case config.StoreRedis:
		store, err := credentials.NewRedisStoreFromURL(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.StoreKeyring:
		return credentials.NewKeyringStore(), nil
	default:
		return credentials.NewMemoryStore(), nil
	}
}

func (a *App) addConnector(ctx context.Context, cc *base.ConnectorConfig) error {
	if err := config.ValidateConfig(cc); err != nil {
		return err
	}
	conn, err := buildConnector(cc)
	if err != nil {
		return err
	}
	if ls, ok := conn.(loggerSetter); ok {
		ls.SetLogger(log.New(a.logOutput, fmt.Sprintf("[MCP_%s] ", strings.ToUpper(cc.Name)), log.LstdFlags))
	}
	if err := a.registry.Register(conn); err != nil {
		return err
	}
	a.registry.SetDefaultConfig(cc.Name, cc)

	if err := a.registry.Initialize(ctx, cc.Name, cc); err != nil {
		a.logger.Printf("Connector %s (%s) not initialized: %v", cc.Name, cc.Type, err)
		return nil
	}
	a.logger.Printf("Connector %s (%s) ready", cc.Name, cc.Type)
	return nil
}

// buildConnector constructs an uninitialized connector for cfg.Type
func buildConnector(cfg *base.ConnectorConfig) (base.Connector, error) {
	switch cfg.Type {
	case config.TypeFilesystem:
		return filesystem.NewConnector(cfg.Name), nil
	case config.TypeGoogleDrive:
		return googledrive.NewConnector(cfg.Name), nil
	case config.TypeGitHub:
		return github.NewConnector(cfg.Name), nil
	case config.TypeDropbox:
		return dropbox.NewConnector(cfg.Name), nil
	case config.TypeS3:
		return s3.NewConnector(cfg.Name), nil
	case config.TypeGCS:
		return gcs.NewConnector(cfg.Name), nil
	case config.TypeAzureBlob:
		return azureblob.NewConnector(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown connector type: %s", cfg.Type)
	}
}

// Router returns the dispatcher
func (a *App) Router() *router.Router {
	return a.router
}

// Serve starts health polling and blocks on the configured transport until
// ctx is cancelled or the transport fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.health.Start(ctx)
	defer a.health.Wait()
	defer cancel()

	if a.cfg.Transport == config.TransportStdio {
		principal := os.Getenv("CONHUB_PRINCIPAL")
		a.logger.Printf("Serving stdio (principal %q)", principal)
		srv := server.NewStdioServer(a.router, principal)
		srv.SetLogger(logger.New("stdio"))
		return srv.Serve(ctx, os.Stdin, os.Stdout)
	}

	srv := server.NewHTTPServer(a.router, server.HTTPConfig{
		JWTSecret:   a.cfg.JWTSecret,
		CORSOrigins: a.cfg.CORSOrigins,
	})
	srv.SetLogger(logger.New("http"))
	a.logger.Printf("Connector router starting on port %s", a.cfg.Port)
	return srv.ListenAndServe(ctx, ":"+a.cfg.Port)
}

// Close cleans up connectors and releases storage and store handles
func (a *App) Close() {
	if a.registry != nil {
		a.registry.CleanupAll(context.Background())
		if err := a.registry.Close(); err != nil {
			a.logger.Printf("Registry close: %v", err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Printf("Close: %v", err)
		}
	}
	a.closers = nil
}
