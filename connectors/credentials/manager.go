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

package credentials

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"conhub/platform/connectors/base"
)

const (
	// DefaultExpirySkew treats tokens this close to expiry as expired
	DefaultExpirySkew = 30 * time.Second
	// DefaultRefreshTimeout bounds one upstream refresh
	DefaultRefreshTimeout = 30 * time.Second
)

// Manager applies the refresh policy on top of a Store. At most one refresh
// per (connector, principal) pair is in flight; concurrent callers share its
// outcome.
type Manager struct {
	store          Store
	flights        singleflight.Group
	skew           time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *log.Logger
}

// NewManager creates a manager over store
func NewManager(store Store) *Manager {
	return &Manager{
		store:          store,
		skew:           DefaultExpirySkew,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		logger:         log.New(os.Stdout, "[MCP_CREDENTIALS] ", log.LstdFlags),
	}
}

// SetLogger replaces the manager logger
func (m *Manager) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// SetClock overrides the time source, for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Store returns the backing store
func (m *Manager) Store() Store {
	return m.store
}

// Acquire returns a usable credential for the pair. An expired token with a
// refresh token is refreshed through refresher exactly once; a missing or
// unrefreshable credential is KindAuthentication.
func (m *Manager) Acquire(ctx context.Context, connectorID, principal string, refresher base.TokenRefresher) (*base.Credential, error) {
	cred, err := m.store.Get(ctx, connectorID, principal)
	if errors.Is(err, ErrNotFound) {
		return nil, base.AuthenticationError(connectorID, "credentials",
			"no credential for principal '"+principal+"'; authenticate first", nil)
	}
	if err != nil {
		return nil, base.NewConnectorError(connectorID, "credentials", "credential store unavailable", err)
	}
	if !cred.Expired(m.now(), m.skew) {
		return cred, nil
	}
	if !cred.CanRefresh() || refresher == nil {
		return nil, base.AuthenticationError(connectorID, "credentials", "access token expired", nil)
	}

	ch := m.flights.DoChan(connectorID+"\x00"+principal, func() (_ interface{}, err error) {
		// the flight runs on its own goroutine; a panic here would kill the process
		defer func() {
			if p := recover(); p != nil {
				m.logger.Printf("Token refresh panicked for %s/%s: %v", connectorID, principal, base.SanitizeLogString(fmt.Sprint(p)))
				err = base.NewConnectorError(connectorID, "credentials", "token refresh failed unexpectedly", fmt.Errorf("panic: %v", p))
			}
		}()
		return m.refresh(ctx, connectorID, principal, cred, refresher)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.(*base.Credential)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs inside the pair's flight. The store is re-read first so a
// refresh completed by an earlier flight is reused instead of spending the
// refresh token twice.
func (m *Manager) refresh(ctx context.Context, connectorID, principal string, seen *base.Credential, refresher base.TokenRefresher) (*base.Credential, error) {
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	current, err := m.store.Get(flightCtx, connectorID, principal)
	switch {
	case err == nil && !current.Expired(m.now(), m.skew):
		return current, nil
	case err == nil:
		seen = current
	case errors.Is(err, ErrNotFound):
		return nil, base.AuthenticationError(connectorID, "credentials", "credential was removed", nil)
	}

	refreshed, err := refresher.RefreshToken(flightCtx, seen)
	if err != nil {
		m.logger.Printf("Token refresh failed for %s/%s: %v", connectorID, principal, base.SanitizeLogString(err.Error()))
		if base.KindOf(err) == base.KindAuthentication {
			return nil, err
		}
		return nil, base.AuthenticationError(connectorID, "credentials", "token refresh failed", err)
	}

	if refreshed == nil {
		return nil, base.AuthenticationError(connectorID, "credentials", "token refresh returned no credential", nil)
	}

	refreshed.ConnectorID = connectorID
	refreshed.Principal = principal
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = seen.RefreshToken
	}
	if err := m.store.Put(flightCtx, refreshed); err != nil {
		m.logger.Printf("Warning: failed to persist refreshed token for %s/%s: %v", connectorID, principal, err)
	}
	m.logger.Printf("Refreshed token for %s/%s", connectorID, principal)
	return refreshed, nil
}

// Put stores cred for (connectorID, principal)
func (m *Manager) Put(ctx context.Context, connectorID, principal string, cred *base.Credential) error {
	if cred == nil {
		return errors.New("credential is nil")
	}
	stored := clone(cred)
	stored.ConnectorID = connectorID
	stored.Principal = principal
	return m.store.Put(ctx, stored)
}

// Delete removes the credential of one principal
func (m *Manager) Delete(ctx context.Context, connectorID, principal string) error {
	return m.store.Delete(ctx, connectorID, principal)
}

// DeleteAll removes the credentials of every principal for connectorID
func (m *Manager) DeleteAll(ctx context.Context, connectorID string) error {
	return m.store.DeleteAll(ctx, connectorID)
}
