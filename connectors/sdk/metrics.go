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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectorMetrics tracks in-process operation counters for a connector.
// The router exports process-wide Prometheus metrics; these snapshots are
// surfaced per connector by the list operation.
type ConnectorMetrics struct {
	connectorType string

	operationsTotal int64
	errorsTotal     int64
	initializations int64
	cleanups        int64
	refreshesTotal  int64

	initialized int32

	mu        sync.Mutex
	perOp     map[string]int64
	latencies *LatencyHistogram
}

// NewConnectorMetrics creates a new metrics collector
func NewConnectorMetrics(connectorType string) *ConnectorMetrics {
	return &ConnectorMetrics{
		connectorType: connectorType,
		perOp:         make(map[string]int64),
		latencies:     NewLatencyHistogram(),
	}
}

// RecordOperation records a data or auth operation
func (m *ConnectorMetrics) RecordOperation(op string, duration time.Duration, err error) {
	atomic.AddInt64(&m.operationsTotal, 1)
	if err != nil {
		atomic.AddInt64(&m.errorsTotal, 1)
	}

	m.mu.Lock()
	m.perOp[op]++
	m.mu.Unlock()

	m.latencies.Record(duration)
}

// RecordRefresh records a token refresh
func (m *ConnectorMetrics) RecordRefresh(err error) {
	atomic.AddInt64(&m.refreshesTotal, 1)
	if err != nil {
		atomic.AddInt64(&m.errorsTotal, 1)
	}
}

// RecordInitialize records a transition into the initialized state
func (m *ConnectorMetrics) RecordInitialize() {
	atomic.AddInt64(&m.initializations, 1)
	atomic.StoreInt32(&m.initialized, 1)
}

// RecordCleanup records a cleanup
func (m *ConnectorMetrics) RecordCleanup() {
	atomic.AddInt64(&m.cleanups, 1)
	atomic.StoreInt32(&m.initialized, 0)
}

// GetStats returns current metrics
func (m *ConnectorMetrics) GetStats() *MetricsSnapshot {
	m.mu.Lock()
	perOp := make(map[string]int64, len(m.perOp))
	for k, v := range m.perOp {
		perOp[k] = v
	}
	m.mu.Unlock()

	return &MetricsSnapshot{
		ConnectorType:   m.connectorType,
		OperationsTotal: atomic.LoadInt64(&m.operationsTotal),
		ErrorsTotal:     atomic.LoadInt64(&m.errorsTotal),
		RefreshesTotal:  atomic.LoadInt64(&m.refreshesTotal),
		Initializations: atomic.LoadInt64(&m.initializations),
		Cleanups:        atomic.LoadInt64(&m.cleanups),
		Initialized:     atomic.LoadInt32(&m.initialized) == 1,
		Operations:      perOp,
		LatencyP50:      m.latencies.Percentile(0.5),
		LatencyP95:      m.latencies.Percentile(0.95),
		LatencyP99:      m.latencies.Percentile(0.99),
	}
}

// Reset resets all metrics
func (m *ConnectorMetrics) Reset() {
	atomic.StoreInt64(&m.operationsTotal, 0)
	atomic.StoreInt64(&m.errorsTotal, 0)
	atomic.StoreInt64(&m.refreshesTotal, 0)
	atomic.StoreInt64(&m.initializations, 0)
	atomic.StoreInt64(&m.cleanups, 0)

	m.mu.Lock()
	m.perOp = make(map[string]int64)
	m.mu.Unlock()

	m.latencies.Reset()
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	ConnectorType   string           `json:"connector_type"`
	OperationsTotal int64            `json:"operations_total"`
	ErrorsTotal     int64            `json:"errors_total"`
	RefreshesTotal  int64            `json:"refreshes_total"`
	Initializations int64            `json:"initializations"`
	Cleanups        int64            `json:"cleanups"`
	Initialized     bool             `json:"initialized"`
	Operations      map[string]int64 `json:"operations,omitempty"`
	LatencyP50      time.Duration    `json:"latency_p50"`
	LatencyP95      time.Duration    `json:"latency_p95"`
	LatencyP99      time.Duration    `json:"latency_p99"`
}

// LatencyHistogram provides simple percentile calculations
type LatencyHistogram struct {
	samples []time.Duration
	maxSize int
	mu      sync.Mutex
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		samples: make([]time.Duration, 0, 256),
		maxSize: 4096,
	}
}

// Record adds a latency sample
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// drop the oldest half
		h.samples = h.samples[len(h.samples)/2:]
	}
	h.samples = append(h.samples, d)
}

// Percentile calculates the given percentile
func (h *LatencyHistogram) Percentile(p float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(h.samples))
	copy(sorted, h.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Reset clears all samples
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
}

// Count returns the number of samples
func (h *LatencyHistogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}
