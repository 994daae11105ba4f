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
	"errors"
	"testing"
	"time"
)

func TestConnectorMetrics(t *testing.T) {
	m := NewConnectorMetrics("github")

	m.RecordInitialize()
	m.RecordOperation("search", 10*time.Millisecond, nil)
	m.RecordOperation("search", 30*time.Millisecond, errors.New("boom"))
	m.RecordOperation("fetch", 20*time.Millisecond, nil)
	m.RecordRefresh(nil)

	stats := m.GetStats()
	if stats.ConnectorType != "github" {
		t.Errorf("type = %q", stats.ConnectorType)
	}
	if stats.OperationsTotal != 3 || stats.ErrorsTotal != 1 || stats.RefreshesTotal != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if stats.Operations["search"] != 2 || stats.Operations["fetch"] != 1 {
		t.Errorf("per-op counts: %v", stats.Operations)
	}
	if !stats.Initialized {
		t.Error("expected initialized")
	}
	if stats.LatencyP50 != 20*time.Millisecond {
		t.Errorf("p50 = %v", stats.LatencyP50)
	}

	m.RecordCleanup()
	if m.GetStats().Initialized {
		t.Error("cleanup should clear initialized")
	}

	m.Reset()
	stats = m.GetStats()
	if stats.OperationsTotal != 0 || len(stats.Operations) != 0 || stats.LatencyP99 != 0 {
		t.Errorf("reset left state: %+v", stats)
	}
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()
	if h.Percentile(0.5) != 0 {
		t.Error("empty histogram should report zero")
	}
	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}
	if h.Count() != 100 {
		t.Errorf("count = %d", h.Count())
	}
	if p := h.Percentile(0.99); p < 98*time.Millisecond {
		t.Errorf("p99 = %v", p)
	}
}
