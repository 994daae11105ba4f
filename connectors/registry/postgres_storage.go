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
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"conhub/platform/connectors/base"
)

// PostgreSQLStorage records registered descriptors and health transitions so
// operators can inspect router state across restarts and replicas.
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *log.Logger
}

// StoredConnector is a persisted registry row
type StoredConnector struct {
	Descriptor    base.Descriptor
	RegisteredAt  time.Time
	HealthState   HealthState
	HealthMessage string
	LastCheckedAt *time.Time
}

// NewPostgreSQLStorage connects to dbURL, retrying while the database comes
// up, and ensures the schema exists.
func NewPostgreSQLStorage(dbURL string) (*PostgreSQLStorage, error) {
	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				log.Printf("[ConnectorStorage] Connected to database (attempt %d/%d)", attempt, maxRetries)
				break
			}
			_ = db.Close()
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("[ConnectorStorage] Database connection failed (attempt %d/%d): %v, retrying in %v", attempt, maxRetries, err, backoff)
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}
	return NewPostgreSQLStorageWithDB(db)
}

// NewPostgreSQLStorageWithDB wraps an open database handle
func NewPostgreSQLStorageWithDB(db *sql.DB) (*PostgreSQLStorage, error) {
	storage := &PostgreSQLStorage{
		db:     db,
		logger: log.New(log.Writer(), "[ConnectorStorage] ", log.LstdFlags),
	}
	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return storage, nil
}

func (s *PostgreSQLStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conhub_connectors (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		version VARCHAR(64) NOT NULL DEFAULT '',
		capabilities JSONB NOT NULL DEFAULT '[]'::jsonb,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
		health_state VARCHAR(16) NOT NULL DEFAULT 'UNKNOWN',
		health_message TEXT NOT NULL DEFAULT '',
		last_health_check TIMESTAMP
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveDescriptor upserts a descriptor. Re-registration resets health to
// UNKNOWN.
func (s *PostgreSQLStorage) SaveDescriptor(ctx context.Context, d base.Descriptor) error {
	capsJSON, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO conhub_connectors (id, name, version, capabilities, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			capabilities = EXCLUDED.capabilities,
			metadata = EXCLUDED.metadata,
			registered_at = NOW(),
			health_state = 'UNKNOWN',
			health_message = '',
			last_health_check = NULL
	`

	if _, err := s.db.ExecContext(ctx, query, d.ID, d.Name, d.Version, capsJSON, metaJSON); err != nil {
		return fmt.Errorf("failed to save connector: %w", err)
	}

	s.logger.Printf("Saved connector: %s", d.ID)
	return nil
}

// UpdateHealth records a health transition
func (s *PostgreSQLStorage) UpdateHealth(ctx context.Context, id string, rec HealthRecord) error {
	checked := time.Now().UTC()
	if rec.LastCheckedAt != nil {
		checked = *rec.LastCheckedAt
	}

	query := `
		UPDATE conhub_connectors
		SET health_state = $2, health_message = $3, last_health_check = $4
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, string(rec.State), rec.Message, checked); err != nil {
		return fmt.Errorf("failed to update health status: %w", err)
	}
	return nil
}

// DeleteConnector removes a connector row
func (s *PostgreSQLStorage) DeleteConnector(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conhub_connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connector: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connector not found: %s", id)
	}

	s.logger.Printf("Deleted connector: %s", id)
	return nil
}

// ListConnectors returns persisted rows ordered by registration time
func (s *PostgreSQLStorage) ListConnectors(ctx context.Context) ([]StoredConnector, error) {
	query := `
		SELECT id, name, version, capabilities, metadata, registered_at,
		       health_state, health_message, last_health_check
		FROM conhub_connectors
		ORDER BY registered_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredConnector
	for rows.Next() {
		var (
			sc        StoredConnector
			capsJSON  []byte
			metaJSON  []byte
			state     string
			lastCheck sql.NullTime
		)
		if err := rows.Scan(&sc.Descriptor.ID, &sc.Descriptor.Name, &sc.Descriptor.Version,
			&capsJSON, &metaJSON, &sc.RegisteredAt, &state, &sc.HealthMessage, &lastCheck); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(capsJSON, &sc.Descriptor.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &sc.Descriptor.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		sc.HealthState = HealthState(state)
		if lastCheck.Valid {
			t := lastCheck.Time
			sc.LastCheckedAt = &t
		}
		out = append(out, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
