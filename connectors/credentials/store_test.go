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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"conhub/platform/connectors/base"
)

// exerciseStore runs the contract every backend must satisfy
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	_, err := store.Get(ctx, "drive", "alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, &base.Credential{
		ConnectorID:  "drive",
		Principal:    "alice",
		AccessToken:  "tok",
		RefreshToken: "ref",
		ExpiresAt:    &expiry,
		Scope:        "drive.readonly",
	}))
	require.NoError(t, store.Put(ctx, &base.Credential{ConnectorID: "drive", Principal: "bob", AccessToken: "b"}))
	require.NoError(t, store.Put(ctx, &base.Credential{ConnectorID: "github", Principal: "alice", AccessToken: "g"}))

	got, err := store.Get(ctx, "drive", "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, "ref", got.RefreshToken)
	assert.Equal(t, "drive.readonly", got.Scope)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expiry.Equal(*got.ExpiresAt))

	// overwrite
	require.NoError(t, store.Put(ctx, &base.Credential{ConnectorID: "drive", Principal: "alice", AccessToken: "tok2"}))
	got, err = store.Get(ctx, "drive", "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok2", got.AccessToken)

	require.NoError(t, store.Delete(ctx, "drive", "bob"))
	_, err = store.Get(ctx, "drive", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "drive", "bob"), "deleting a missing record is not an error")

	require.NoError(t, store.Put(ctx, &base.Credential{ConnectorID: "drive", Principal: "carol", AccessToken: "c"}))
	require.NoError(t, store.DeleteAll(ctx, "drive"))
	for _, p := range []string{"alice", "carol"} {
		_, err = store.Get(ctx, "drive", p)
		assert.ErrorIs(t, err, ErrNotFound, p)
	}

	_, err = store.Get(ctx, "github", "alice")
	assert.NoError(t, err, "other connectors must be untouched")

	assert.Error(t, store.Put(ctx, &base.Credential{AccessToken: "x"}), "connector id and principal are required")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, &base.Credential{ConnectorID: "drive", Principal: "alice", AccessToken: "tok"})

	got, _ := store.Get(ctx, "drive", "alice")
	got.AccessToken = "mutated"

	again, _ := store.Get(ctx, "drive", "alice")
	assert.Equal(t, "tok", again.AccessToken)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	defer store.Close()

	exerciseStore(t, store)
}

func TestRedisStore_KeysAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()
	ctx := context.Background()

	expiry := time.Now().Add(10 * time.Minute)
	require.NoError(t, store.Put(ctx, &base.Credential{
		ConnectorID: "github", Principal: "alice", AccessToken: "tok", ExpiresAt: &expiry,
	}))
	require.NoError(t, store.Put(ctx, &base.Credential{
		ConnectorID: "drive", Principal: "alice", AccessToken: "tok", RefreshToken: "ref", ExpiresAt: &expiry,
	}))

	assert.True(t, mr.Exists("conhub:cred:github:alice"))
	ttl := mr.TTL("conhub:cred:github:alice")
	assert.Greater(t, ttl, 10*time.Minute, "ttl includes refresh grace")
	assert.LessOrEqual(t, ttl, 10*time.Minute+defaultRefreshGrace)

	assert.Equal(t, time.Duration(0), mr.TTL("conhub:cred:drive:alice"), "refreshable records do not expire")

	mr.FastForward(20 * time.Minute)
	_, err := store.Get(ctx, "github", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStoreFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStoreFromURL(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	_, err = NewRedisStoreFromURL(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	exerciseStore(t, NewKeyringStore())
}

func TestKeyringStore_Layout(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &base.Credential{ConnectorID: "drive", Principal: "alice", AccessToken: "tok"}))

	raw, err := keyring.Get("conhub", "drive-alice-token")
	require.NoError(t, err)
	assert.Contains(t, raw, `"accessToken":"tok"`)

	index, err := keyring.Get("conhub", "drive-principals")
	require.NoError(t, err)
	assert.Equal(t, `["alice"]`, index)

	require.NoError(t, store.Delete(ctx, "drive", "alice"))
	_, err = keyring.Get("conhub", "drive-principals")
	assert.True(t, errors.Is(err, keyring.ErrNotFound), "empty index is removed")
}
