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
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"conhub/platform/connectors/base"
)

func TestBaseConnector(t *testing.T) {
	t.Run("descriptor", func(t *testing.T) {
		conn := NewBaseConnector("docs", "filesystem")
		conn.SetCapabilities([]string{base.OpFetch, base.OpSearch})
		conn.SetVersion("2.1.0")
		conn.SetName("Local Files")
		conn.SetMetadata("root", "/srv")

		d := conn.Descriptor()
		if d.ID != "docs" || d.Name != "Local Files" || d.Version != "2.1.0" {
			t.Errorf("unexpected descriptor: %+v", d)
		}
		if len(d.Capabilities) != 2 || !d.HasCapability(base.OpSearch) {
			t.Errorf("unexpected capabilities: %v", d.Capabilities)
		}
		if d.Metadata["type"] != "filesystem" || d.Metadata["root"] != "/srv" {
			t.Errorf("unexpected metadata: %v", d.Metadata)
		}

		// mutating the returned copy must not leak back
		d.Capabilities[0] = "mutated"
		if conn.Descriptor().Capabilities[0] != base.OpFetch {
			t.Error("descriptor capabilities should be copied")
		}
	})

	t.Run("initialize is idempotent", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")
		ctx := context.Background()
		cfg := &base.ConnectorConfig{}

		if err := conn.Initialize(ctx, cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := conn.Initialize(ctx, cfg); err != nil {
			t.Fatalf("second initialize should be a no-op, got %v", err)
		}
		if !conn.IsInitialized() {
			t.Error("expected initialized")
		}
		if conn.GetMetrics().GetStats().Initializations != 1 {
			t.Errorf("initializations = %d, want 1", conn.GetMetrics().GetStats().Initializations)
		}
		if cfg.Name != "x" || cfg.Type != "test" || cfg.Timeout != DefaultTimeout {
			t.Errorf("defaults not applied: %+v", cfg)
		}
	})

	t.Run("missing required config yields initialization error", func(t *testing.T) {
		conn := NewBaseConnector("drive", "google-drive")
		conn.SetValidator(NewDefaultConfigValidator([]string{"client_id", "client_secret"}, nil))

		err := conn.Initialize(context.Background(), &base.ConnectorConfig{
			Credentials: map[string]string{"client_id": "abc"},
		})
		if base.KindOf(err) != base.KindInitialization {
			t.Fatalf("KindOf(err) = %q, want initialization", base.KindOf(err))
		}
		if !strings.Contains(err.Error(), "client_secret") {
			t.Errorf("error should name the missing field: %v", err)
		}
		if conn.IsInitialized() {
			t.Error("connector must stay uninitialized")
		}
	})

	t.Run("cleanup twice", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")
		ctx := context.Background()
		cfg := &base.ConnectorConfig{Credentials: map[string]string{"api_key": "secret"}}
		_ = conn.Initialize(ctx, cfg)

		for i := 0; i < 2; i++ {
			if err := conn.Cleanup(ctx); err != nil {
				t.Fatalf("cleanup %d: unexpected error: %v", i, err)
			}
			if conn.IsInitialized() {
				t.Errorf("cleanup %d: expected initialized=false", i)
			}
		}
		if conn.GetCredential("api_key") != "" {
			t.Error("credentials should be released on cleanup")
		}
		if conn.GetMetrics().GetStats().Cleanups != 1 {
			t.Errorf("cleanups = %d, want 1", conn.GetMetrics().GetStats().Cleanups)
		}
	})

	t.Run("cleanup on never-initialized connector", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")
		if err := conn.Cleanup(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("health reflects initialization", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")
		status := conn.HealthCheck(context.Background())
		if status.Healthy || status.Message != "not initialized" {
			t.Errorf("unexpected status: %+v", status)
		}

		_ = conn.Initialize(context.Background(), nil)
		if !conn.HealthCheck(context.Background()).Healthy {
			t.Error("expected healthy after initialize")
		}
	})

	t.Run("hooks", func(t *testing.T) {
		var initCalled, cleanupCalled bool
		conn := NewBaseConnector("x", "test")
		conn.SetHooks(&LifecycleHooks{
			OnInitialize: func(ctx context.Context, cfg *base.ConnectorConfig) error {
				initCalled = true
				return nil
			},
			OnCleanup: func(ctx context.Context) error {
				cleanupCalled = true
				return errors.New("ignored")
			},
		})

		_ = conn.Initialize(context.Background(), nil)
		if err := conn.Cleanup(context.Background()); err != nil {
			t.Errorf("cleanup hook errors must not propagate: %v", err)
		}
		if !initCalled || !cleanupCalled {
			t.Errorf("hooks not called: init=%v cleanup=%v", initCalled, cleanupCalled)
		}
	})

	t.Run("failing initialize hook", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")
		conn.SetHooks(&LifecycleHooks{
			OnInitialize: func(ctx context.Context, cfg *base.ConnectorConfig) error {
				return errors.New("no upstream")
			},
		})
		err := conn.Initialize(context.Background(), nil)
		if base.KindOf(err) != base.KindInitialization {
			t.Errorf("KindOf(err) = %q", base.KindOf(err))
		}
	})

	t.Run("data operations default to internal errors", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")
		ctx := context.Background()

		if _, err := conn.Fetch(ctx, &base.FetchQuery{Type: base.QueryFile}); err == nil {
			t.Error("expected fetch error")
		}
		if _, err := conn.Search(ctx, "q", nil); err == nil {
			t.Error("expected search error")
		}
		if _, err := conn.GetContext(ctx, "id", nil); err == nil {
			t.Error("expected getContext error")
		}
		if err := conn.RequireInitialized(base.OpSearch); base.KindOf(err) != base.KindInitialization {
			t.Errorf("RequireInitialized: %v", err)
		}
	})

	t.Run("authenticate with direct tokens", func(t *testing.T) {
		conn := NewBaseConnector("x", "test")

		cred, err := conn.Authenticate(context.Background(), &base.AuthRequest{AccessToken: "tok", RefreshToken: "ref"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cred.ConnectorID != "x" || cred.AccessToken != "tok" || cred.RefreshToken != "ref" {
			t.Errorf("unexpected credential: %+v", cred)
		}

		_, err = conn.Authenticate(context.Background(), &base.AuthRequest{Code: "abc"})
		if base.KindOf(err) != base.KindAuthentication {
			t.Errorf("code exchange on base connector: %v", err)
		}
	})
}

func TestBaseConnector_Options(t *testing.T) {
	conn := NewBaseConnector("x", "test")
	_ = conn.Initialize(context.Background(), &base.ConnectorConfig{
		Options: map[string]interface{}{
			"root":        "/data",
			"max_results": float64(25),
			"recursive":   true,
		},
		Credentials: map[string]string{"client_id": "id"},
		Timeout:     2 * time.Second,
		MaxRetries:  5,
	})

	if conn.GetStringOption("root", "") != "/data" {
		t.Error("string option")
	}
	if conn.GetStringOption("missing", "def") != "def" {
		t.Error("string default")
	}
	if conn.GetIntOption("max_results", 0) != 25 {
		t.Error("int option from float64")
	}
	if !conn.GetBoolOption("recursive", false) {
		t.Error("bool option")
	}
	if conn.GetCredential("client_id") != "id" {
		t.Error("credential")
	}
	if conn.GetTimeout() != 2*time.Second {
		t.Errorf("timeout = %v", conn.GetTimeout())
	}
	if conn.GetRetryConfig().MaxRetries != 5 {
		t.Errorf("retry config should honor MaxRetries, got %d", conn.GetRetryConfig().MaxRetries)
	}
}

func TestBaseConnector_Log(t *testing.T) {
	var buf bytes.Buffer
	conn := NewBaseConnector("x", "test")
	conn.SetLogger(log.New(&buf, "[MCP_TEST] ", 0))

	conn.Log("hello %s", "world")

	if got := buf.String(); got != "[MCP_TEST] hello world\n" {
		t.Errorf("log output = %q", got)
	}
}

func TestBaseConnector_Throttle(t *testing.T) {
	conn := NewBaseConnector("x", "test")
	if err := conn.Throttle(context.Background(), base.OpSearch); err != nil {
		t.Fatalf("no limiter should not throttle: %v", err)
	}

	conn.SetRateLimiter(NewPrincipalRateLimiter(0.001, 1))
	ctx := base.WithPrincipal(context.Background(), "alice")
	if err := conn.Throttle(ctx, base.OpSearch); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := conn.Throttle(ctx, base.OpSearch); err == nil {
		t.Error("second call should be throttled until ctx expires")
	}
}
