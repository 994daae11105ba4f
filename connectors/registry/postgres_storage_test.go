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

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/sdk"
)

func newMockStorage(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conhub_connectors").
		WillReturnResult(sqlmock.NewResult(0, 0))

	storage, err := NewPostgreSQLStorageWithDB(db)
	require.NoError(t, err)
	return storage, mock
}

func TestPostgreSQLStorage_SchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	_, err = NewPostgreSQLStorageWithDB(db)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_SaveDescriptor(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer storage.Close()

	mock.ExpectExec("INSERT INTO conhub_connectors").
		WithArgs("docs", "Local Files", "1.0.0", []byte(`["fetch","search"]`), []byte(`{"type":"filesystem"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := storage.SaveDescriptor(context.Background(), base.Descriptor{
		ID:           "docs",
		Name:         "Local Files",
		Version:      "1.0.0",
		Capabilities: []string{"fetch", "search"},
		Metadata:     map[string]string{"type": "filesystem"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_UpdateHealth(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer storage.Close()

	checked := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE conhub_connectors").
		WithArgs("docs", "UNHEALTHY", "health probe timed out", checked).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := storage.UpdateHealth(context.Background(), "docs", HealthRecord{
		State:         StateUnhealthy,
		Message:       "health probe timed out",
		LastCheckedAt: &checked,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_DeleteConnector(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer storage.Close()

	mock.ExpectExec("DELETE FROM conhub_connectors").
		WithArgs("docs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM conhub_connectors").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, storage.DeleteConnector(context.Background(), "docs"))
	assert.Error(t, storage.DeleteConnector(context.Background(), "ghost"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_ListConnectors(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer storage.Close()

	registered := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "name", "version", "capabilities", "metadata",
		"registered_at", "health_state", "health_message", "last_health_check"}).
		AddRow("docs", "Local Files", "1.0.0", []byte(`["search"]`), []byte(`{}`), registered, "HEALTHY", "", registered).
		AddRow("drive", "Google Drive", "1.0.0", []byte(`["fetch"]`), []byte(`{"type":"google-drive"}`), registered, "UNKNOWN", "", nil)
	mock.ExpectQuery("SELECT id, name, version").WillReturnRows(rows)

	got, err := storage.ListConnectors(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "docs", got[0].Descriptor.ID)
	assert.Equal(t, []string{"search"}, got[0].Descriptor.Capabilities)
	assert.Equal(t, StateHealthy, got[0].HealthState)
	require.NotNil(t, got[0].LastCheckedAt)
	assert.Nil(t, got[1].LastCheckedAt)
	assert.Equal(t, "google-drive", got[1].Descriptor.Metadata["type"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_WithStorage(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer storage.Close()

	reg := NewRegistryWithStorage(storage)
	reg.SetLogger(newTestRegistry().logger)

	mock.ExpectExec("INSERT INTO conhub_connectors").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conhub_connectors").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM conhub_connectors").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, reg.Register(sdk.NewMockConnector("docs", base.OpSearch)))

	_, err := reg.SetHealth("docs", &base.HealthStatus{Healthy: true})
	require.NoError(t, err)
	// no transition, no write
	_, err = reg.SetHealth("docs", &base.HealthStatus{Healthy: true})
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(context.Background(), "docs"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_StorageFailureIsNotFatal(t *testing.T) {
	storage, mock := newMockStorage(t)
	defer storage.Close()

	reg := NewRegistryWithStorage(storage)
	reg.SetLogger(newTestRegistry().logger)

	mock.ExpectExec("INSERT INTO conhub_connectors").WillReturnError(errors.New("connection reset"))

	assert.NoError(t, reg.Register(sdk.NewMockConnector("docs")))
	assert.Equal(t, 1, reg.Count())
}
