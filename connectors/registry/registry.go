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
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"conhub/platform/connectors/base"
)

// HealthState is the per-connector position in the health state machine
type HealthState string

const (
	StateUnknown   HealthState = "UNKNOWN"
	StateHealthy   HealthState = "HEALTHY"
	StateUnhealthy HealthState = "UNHEALTHY"
)

// HealthRecord is the last known health of a connector
type HealthRecord struct {
	State         HealthState   `json:"state"`
	Healthy       bool          `json:"healthy"`
	Message       string        `json:"message,omitempty"`
	LastCheckedAt *time.Time    `json:"lastCheckedAt"`
	Latency       time.Duration `json:"latency,omitempty"`
}

// ConnectorInfo is the descriptor of a registered connector plus its
// runtime state, as reported by the list operation.
type ConnectorInfo struct {
	base.Descriptor
	Initialized       bool        `json:"initialized"`
	Healthy           bool        `json:"healthy"`
	HealthState       HealthState `json:"healthState"`
	LastHealthCheckAt *time.Time  `json:"lastHealthCheckAt"`
}

// Storage persists registry state outside the process. Failures are logged
// by the registry and never fail the calling operation.
type Storage interface {
	SaveDescriptor(ctx context.Context, d base.Descriptor) error
	UpdateHealth(ctx context.Context, id string, rec HealthRecord) error
	DeleteConnector(ctx context.Context, id string) error
	Close() error
}

type entry struct {
	id         string
	descriptor base.Descriptor
	connector  base.Connector
	handlers   map[string]base.OperationHandler
	health     HealthRecord
	removing   bool
}

// Registry is the single authoritative mapping from connector id to
// descriptor and instance. Safe for concurrent use; no lock is held while a
// connector is called.
type Registry struct {
	entries  map[string]*entry
	order    []string
	storage  Storage
	defaults map[string]*base.ConnectorConfig
	inits    singleflight.Group
	mu       sync.RWMutex
	logger   *log.Logger
}

// NewRegistry creates an empty in-memory registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  log.New(os.Stdout, "[MCP_REGISTRY] ", log.LstdFlags),
	}
}

// NewRegistryWithStorage creates a registry that mirrors registrations and
// health transitions into storage.
func NewRegistryWithStorage(storage Storage) *Registry {
	r := NewRegistry()
	r.storage = storage
	return r
}

// SetLogger replaces the registry logger
func (r *Registry) SetLogger(logger *log.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds conn under the id from its own descriptor
func (r *Registry) Register(conn base.Connector) error {
	if conn == nil {
		return base.NewKindError(base.KindRegistration, "", "register", "connector is nil", nil)
	}
	d := conn.Descriptor()
	return r.RegisterConnector(d.ID, d, conn)
}

// RegisterConnector adds conn under id. A duplicate id fails with
// KindDuplicateConnector and leaves the registry unchanged.
func (r *Registry) RegisterConnector(id string, descriptor base.Descriptor, conn base.Connector) error {
	if id == "" {
		return base.NewKindError(base.KindRegistration, id, "register", "connector id is required", nil)
	}
	if conn == nil {
		return base.NewKindError(base.KindRegistration, id, "register", "connector is nil", nil)
	}
	descriptor.ID = id

	handlers, err := r.buildHandlers(id, descriptor, conn)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return base.NewKindError(base.KindDuplicateConnector, id, "register", "connector '"+id+"' already registered", nil)
	}
	r.entries[id] = &entry{
		id:         id,
		descriptor: descriptor,
		connector:  conn,
		handlers:   handlers,
		health:     HealthRecord{State: StateUnknown},
	}
	r.order = append(r.order, id)
	storage := r.storage
	r.logger.Printf("Registered connector '%s' (capabilities: %v)", id, descriptor.Capabilities)
	r.mu.Unlock()

	if storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := storage.SaveDescriptor(ctx, descriptor); err != nil {
			r.logger.Printf("Warning: Failed to persist connector '%s': %v", id, err)
		}
	}
	return nil
}

// Get returns the connector registered under id
func (r *Registry) Get(id string) (base.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live(id)
	if !ok {
		return nil, unknown(id)
	}
	return e.connector, nil
}

// Descriptor returns the registered descriptor for id
func (r *Registry) Descriptor(id string) (base.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live(id)
	if !ok {
		return base.Descriptor{}, unknown(id)
	}
	return e.descriptor, nil
}

// Handler returns the routable handler for op on connector id. The boolean
// is false when the connector does not support op.
func (r *Registry) Handler(id, op string) (base.OperationHandler, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live(id)
	if !ok {
		return nil, false, unknown(id)
	}
	h, ok := e.handlers[op]
	return h, ok, nil
}

// Operations returns the routable operation names for id, sorted
func (r *Registry) Operations(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live(id)
	if !ok {
		return nil, unknown(id)
	}
	return sortedKeys(e.handlers), nil
}

// List returns every registered connector in registration order
func (r *Registry) List() []ConnectorInfo {
	r.mu.RLock()
	entries := r.snapshotEntries()
	r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, ConnectorInfo{
			Descriptor:        e.descriptor,
			Initialized:       e.connector.IsInitialized(),
			Healthy:           e.health.Healthy,
			HealthState:       e.health.State,
			LastHealthCheckAt: e.health.LastCheckedAt,
		})
	}
	return infos
}

// IDs returns registered connector ids in registration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if e, ok := r.live(id); ok {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// ListByCapability returns the ids advertising capability, in registration
// order.
func (r *Registry) ListByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for _, id := range r.order {
		e, ok := r.live(id)
		if ok && e.descriptor.HasCapability(capability) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of registered connectors
func (r *Registry) Count() int {
	return len(r.IDs())
}

// Initialize initializes connector id with cfg. Concurrent calls for the same
// id share one Initialize invocation.
func (r *Registry) Initialize(ctx context.Context, id string, cfg *base.ConnectorConfig) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	if conn.IsInitialized() {
		return nil
	}

	ch := r.inits.DoChan(id, func() (_ interface{}, err error) {
		// the flight runs on its own goroutine; a panic here would kill the process
		defer func() {
			if p := recover(); p != nil {
				r.logger.Printf("Connector '%s' panicked during initialize: %v", id, base.SanitizeLogString(fmt.Sprint(p)))
				err = base.NewKindError(base.KindInitialization, id, base.OpInitialize,
					"connector failed unexpectedly", fmt.Errorf("panic: %v", p))
			}
		}()
		if cfg == nil {
			cfg = &base.ConnectorConfig{}
		}
		if cfg.Name == "" {
			cfg.Name = id
		}
		if err := conn.Initialize(ctx, cfg); err != nil {
			r.logger.Printf("Failed to initialize connector '%s': %v", id, base.SanitizeLogString(err.Error()))
			return nil, base.Wrap(id, base.OpInitialize, err)
		}
		r.logger.Printf("Initialized connector '%s'", id)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister runs the connector's Cleanup and then removes it. The entry is
// hidden from lookups while cleanup runs.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.live(id)
	if !ok {
		r.mu.Unlock()
		return unknown(id)
	}
	e.removing = true
	r.mu.Unlock()

	if err := e.connector.Cleanup(ctx); err != nil {
		r.logger.Printf("Error cleaning up connector '%s': %v", id, err)
	}

	r.mu.Lock()
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	storage := r.storage
	r.mu.Unlock()

	if storage != nil {
		if err := storage.DeleteConnector(ctx, id); err != nil {
			r.logger.Printf("Warning: Failed to delete connector '%s' from storage: %v", id, err)
		}
	}

	r.logger.Printf("Unregistered connector '%s'", id)
	return nil
}

// CleanupAll cleans up and removes every connector, used on shutdown
func (r *Registry) CleanupAll(ctx context.Context) {
	r.logger.Println("Cleaning up all connectors...")
	for _, id := range r.IDs() {
		_ = r.Unregister(ctx, id)
	}
	r.logger.Println("All connectors cleaned up")
}

// SetHealth records a probe outcome and returns the previous state
func (r *Registry) SetHealth(id string, status *base.HealthStatus) (HealthState, error) {
	if status == nil {
		status = &base.HealthStatus{Healthy: false, Message: "no health status"}
	}
	checked := status.Timestamp
	if checked.IsZero() {
		checked = time.Now()
	}
	checked = checked.UTC()

	rec := HealthRecord{
		State:         StateUnhealthy,
		Healthy:       status.Healthy,
		Message:       status.Message,
		LastCheckedAt: &checked,
		Latency:       status.Latency,
	}
	if status.Healthy {
		rec.State = StateHealthy
	}

	r.mu.Lock()
	e, ok := r.live(id)
	if !ok {
		r.mu.Unlock()
		return StateUnknown, unknown(id)
	}
	prev := e.health.State
	e.health = rec
	storage := r.storage
	r.mu.Unlock()

	if storage != nil && prev != rec.State {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := storage.UpdateHealth(ctx, id, rec); err != nil {
			r.logger.Printf("Warning: Failed to persist health of '%s': %v", id, err)
		}
	}
	return prev, nil
}

// Health returns the current health record for id
func (r *Registry) Health(id string) (HealthRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live(id)
	if !ok {
		return HealthRecord{}, unknown(id)
	}
	return e.health, nil
}

// Snapshot returns the health of every registered connector
func (r *Registry) Snapshot() map[string]HealthRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthRecord, len(r.entries))
	for _, id := range r.order {
		if e, ok := r.live(id); ok {
			out[id] = e.health
		}
	}
	return out
}

// Close releases the storage backend
func (r *Registry) Close() error {
	if r.storage != nil {
		return r.storage.Close()
	}
	return nil
}

// live must be called with mu held
func (r *Registry) live(id string) (*entry, bool) {
	e, ok := r.entries[id]
	if !ok || e.removing {
		return nil, false
	}
	return e, true
}

// snapshotEntries copies live entries in order; must be called with mu held
func (r *Registry) snapshotEntries() []entry {
	out := make([]entry, 0, len(r.order))
	for _, id := range r.order {
		if e, ok := r.live(id); ok {
			out = append(out, *e)
		}
	}
	return out
}

func unknown(id string) error {
	return base.NewKindError(base.KindUnknownConnector, id, "", "connector '"+id+"' not found", nil)
}
