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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"

	"conhub/platform/connectors/base"
)

const keyringService = "conhub"

// KeyringStore keeps credentials in the operating system keychain, for
// single-user desktop deployments. An index entry per connector lists the
// principals so DeleteAll can find them.
type KeyringStore struct {
	service string
	mu      sync.Mutex
}

// NewKeyringStore creates a store under the default service name
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService}
}

func tokenKey(connectorID, principal string) string {
	return fmt.Sprintf("%s-%s-token", connectorID, principal)
}

func indexKey(connectorID string) string {
	return connectorID + "-principals"
}

func (s *KeyringStore) Get(ctx context.Context, connectorID, principal string) (*base.Credential, error) {
	raw, err := keyring.Get(s.service, tokenKey(connectorID, principal))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get token from keyring: %w", err)
	}

	var cred base.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("unable to decode token: %w", err)
	}
	return &cred, nil
}

func (s *KeyringStore) Put(ctx context.Context, cred *base.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("unable to marshal token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Set(s.service, tokenKey(cred.ConnectorID, cred.Principal), string(raw)); err != nil {
		return fmt.Errorf("unable to save token to keychain: %w", err)
	}

	principals, err := s.principals(cred.ConnectorID)
	if err != nil {
		return err
	}
	principals[cred.Principal] = true
	return s.writeIndex(cred.ConnectorID, principals)
}

func (s *KeyringStore) Delete(ctx context.Context, connectorID, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.service, tokenKey(connectorID, principal)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("unable to delete token from keychain: %w", err)
	}

	principals, err := s.principals(connectorID)
	if err != nil {
		return err
	}
	delete(principals, principal)
	return s.writeIndex(connectorID, principals)
}

func (s *KeyringStore) DeleteAll(ctx context.Context, connectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	principals, err := s.principals(connectorID)
	if err != nil {
		return err
	}
	for principal := range principals {
		if err := keyring.Delete(s.service, tokenKey(connectorID, principal)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("unable to delete token from keychain: %w", err)
		}
	}
	return s.writeIndex(connectorID, nil)
}

// principals must be called with mu held
func (s *KeyringStore) principals(connectorID string) (map[string]bool, error) {
	out := make(map[string]bool)
	raw, err := keyring.Get(s.service, indexKey(connectorID))
	if errors.Is(err, keyring.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read keychain index: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("unable to decode keychain index: %w", err)
	}
	for _, p := range list {
		out[p] = true
	}
	return out, nil
}

// writeIndex must be called with mu held
func (s *KeyringStore) writeIndex(connectorID string, principals map[string]bool) error {
	if len(principals) == 0 {
		if err := keyring.Delete(s.service, indexKey(connectorID)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("unable to delete keychain index: %w", err)
		}
		return nil
	}

	list := make([]string, 0, len(principals))
	for p := range principals {
		list = append(list, p)
	}
	sort.Strings(list)
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, indexKey(connectorID), string(raw)); err != nil {
		return fmt.Errorf("unable to write keychain index: %w", err)
	}
	return nil
}
