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

// Package credentials holds per-connector, per-principal token state and the
// refresh policy applied before a routed call reaches a connector.
package credentials

import (
	"context"
	"errors"
	"sync"

	"conhub/platform/connectors/base"
)

// ErrNotFound is returned by stores when no record exists for the pair
var ErrNotFound = errors.New("credential not found")

// Store persists credential records keyed by (connector id, principal).
type Store interface {
	Get(ctx context.Context, connectorID, principal string) (*base.Credential, error)
	Put(ctx context.Context, cred *base.Credential) error
	Delete(ctx context.Context, connectorID, principal string) error
	// DeleteAll removes the records of every principal for connectorID
	DeleteAll(ctx context.Context, connectorID string) error
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	records map[string]map[string]*base.Credential
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*base.Credential)}
}

func (s *MemoryStore) Get(ctx context.Context, connectorID, principal string) (*base.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.records[connectorID][principal]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(cred), nil
}

func (s *MemoryStore) Put(ctx context.Context, cred *base.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byPrincipal, ok := s.records[cred.ConnectorID]
	if !ok {
		byPrincipal = make(map[string]*base.Credential)
		s.records[cred.ConnectorID] = byPrincipal
	}
	byPrincipal[cred.Principal] = clone(cred)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, connectorID, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records[connectorID], principal)
	if len(s.records[connectorID]) == 0 {
		delete(s.records, connectorID)
	}
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, connectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, connectorID)
	return nil
}

func clone(cred *base.Credential) *base.Credential {
	if cred == nil {
		return nil
	}
	c := *cred
	if cred.ExpiresAt != nil {
		t := *cred.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func validate(cred *base.Credential) error {
	if cred == nil {
		return errors.New("credential is nil")
	}
	if cred.ConnectorID == "" || cred.Principal == "" {
		return errors.New("credential requires connector id and principal")
	}
	return nil
}
