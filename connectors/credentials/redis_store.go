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
	"time"

	"github.com/go-redis/redis/v8"

	"conhub/platform/connectors/base"
)

const (
	redisKeyPrefix = "conhub:cred:"
	// records without a refresh token outlive their expiry by this much so
	// the expired state is still observable
	defaultRefreshGrace = 5 * time.Minute
)

// RedisStore keeps credentials in Redis as JSON so several router replicas
// share token state.
type RedisStore struct {
	client       *redis.Client
	refreshGrace time.Duration
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, refreshGrace: defaultRefreshGrace}
}

// NewRedisStoreFromURL connects to redisURL (redis://host:port/db) and pings it
func NewRedisStoreFromURL(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func redisKey(connectorID, principal string) string {
	return redisKeyPrefix + connectorID + ":" + principal
}

func (s *RedisStore) Get(ctx context.Context, connectorID, principal string) (*base.Credential, error) {
	raw, err := s.client.Get(ctx, redisKey(connectorID, principal)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	var cred base.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &cred, nil
}

func (s *RedisStore) Put(ctx context.Context, cred *base.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	var ttl time.Duration
	if cred.ExpiresAt != nil && !cred.CanRefresh() {
		ttl = time.Until(*cred.ExpiresAt) + s.refreshGrace
		if ttl <= 0 {
			ttl = time.Second
		}
	}

	if err := s.client.Set(ctx, redisKey(cred.ConnectorID, cred.Principal), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, connectorID, principal string) error {
	if err := s.client.Del(ctx, redisKey(connectorID, principal)).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, connectorID string) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+connectorID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan credentials: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
