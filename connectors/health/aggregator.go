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

// Package health runs connector health probes and keeps the registry's
// UNKNOWN -> HEALTHY <-> UNHEALTHY state current.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/registry"
	"conhub/platform/connectors/sdk"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second

	// MessageTimedOut is recorded when a probe exceeds its timeout
	MessageTimedOut = "health probe timed out"
)

var (
	promConnectorHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conhub_connector_healthy",
			Help: "1 if the connector's last health probe succeeded, 0 otherwise",
		},
		[]string{"connector"},
	)
	promHealthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conhub_health_probes_total",
			Help: "Total number of connector health probes",
		},
		[]string{"connector", "result"},
	)
)

func init() {
	prometheus.MustRegister(promConnectorHealthy)
	prometheus.MustRegister(promHealthProbes)
}

// Config controls probe scheduling
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Aggregator probes every registered connector on an interval, and on demand
// when a routed call fails with a connectivity error.
type Aggregator struct {
	registry   *registry.Registry
	interval   time.Duration
	timeout    time.Duration
	logger     *log.Logger
	probes     singleflight.Group
	fastDetect chan string

	mu      sync.Mutex
	pending map[string]bool
	running bool
	wg      sync.WaitGroup
}

// NewAggregator creates an aggregator over reg. Zero config values take the
// defaults.
func NewAggregator(reg *registry.Registry, cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Aggregator{
		registry:   reg,
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		logger:     log.New(os.Stdout, "[MCP_HEALTH] ", log.LstdFlags),
		fastDetect: make(chan string, 64),
		pending:    make(map[string]bool),
	}
}

// SetLogger replaces the aggregator logger
func (a *Aggregator) SetLogger(logger *log.Logger) {
	a.logger = logger
}

// Start probes all connectors immediately and then on every interval until
// ctx is done. Fast-detect requests are served in between.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	a.logger.Printf("Starting health probes (interval %v, timeout %v)", a.interval, a.timeout)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}()

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.ProbeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				a.logger.Println("Stopping health probes")
				return
			case <-ticker.C:
				a.ProbeAll(ctx)
			case id := <-a.fastDetect:
				a.mu.Lock()
				delete(a.pending, id)
				a.mu.Unlock()
				a.wg.Add(1)
				go func() {
					defer a.wg.Done()
					_, _ = a.ProbeNow(ctx, id)
				}()
			}
		}
	}()
}

// Wait blocks until the probe loop and in-flight fast-detect probes exit
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

// ProbeAll probes every registered connector concurrently
func (a *Aggregator) ProbeAll(ctx context.Context) map[string]registry.HealthRecord {
	ids := a.registry.IDs()
	out := make(map[string]registry.HealthRecord, len(ids))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			rec, err := a.ProbeNow(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			out[id] = rec
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// ProbeNow runs one bounded probe of connector id and records the outcome.
// Concurrent probes of the same id share one upstream call.
func (a *Aggregator) ProbeNow(ctx context.Context, id string) (registry.HealthRecord, error) {
	conn, err := a.registry.Get(id)
	if err != nil {
		return registry.HealthRecord{}, err
	}

	// The shared probe outlives any one caller: a caller that gives up must
	// not turn into a timeout recorded against the connector.
	flightCtx := context.WithoutCancel(ctx)
	ch := a.probes.DoChan(id, func() (interface{}, error) {
		status := a.probe(flightCtx, conn)
		prev, err := a.registry.SetHealth(id, status)
		if err != nil {
			// unregistered while probing
			return nil, err
		}
		a.observe(id, prev, status)
		return a.registry.Health(id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return registry.HealthRecord{}, res.Err
		}
		return res.Val.(registry.HealthRecord), nil
	case <-ctx.Done():
		return registry.HealthRecord{}, ctx.Err()
	}
}

// probe runs HealthCheck with the bounded timeout. A probe that does not
// return in time, or panics, is a failure.
func (a *Aggregator) probe(ctx context.Context, conn base.Connector) *base.HealthStatus {
	flightCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan *base.HealthStatus, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &base.HealthStatus{Healthy: false, Message: fmt.Sprintf("health probe panicked: %v", r)}
			}
		}()
		done <- conn.HealthCheck(flightCtx)
	}()

	select {
	case status := <-done:
		if errors.Is(flightCtx.Err(), context.DeadlineExceeded) && (status == nil || !status.Healthy) {
			// the check gave up on our deadline; report it as a timeout
			status = &base.HealthStatus{Healthy: false, Message: MessageTimedOut, Timestamp: time.Now()}
		}
		if status == nil {
			status = &base.HealthStatus{Healthy: false, Message: "health probe returned no status"}
		}
		if status.Latency == 0 {
			status.Latency = time.Since(start)
		}
		if status.Timestamp.IsZero() {
			status.Timestamp = time.Now()
		}
		return status
	case <-flightCtx.Done():
		return &base.HealthStatus{
			Healthy:   false,
			Message:   MessageTimedOut,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
	}
}

func (a *Aggregator) observe(id string, prev registry.HealthState, status *base.HealthStatus) {
	result := "healthy"
	gauge := 1.0
	next := registry.StateHealthy
	if !status.Healthy {
		result = "unhealthy"
		gauge = 0
		next = registry.StateUnhealthy
	}
	promHealthProbes.WithLabelValues(id, result).Inc()
	promConnectorHealthy.WithLabelValues(id).Set(gauge)

	if prev != next {
		a.logger.Printf("Connector '%s' %s -> %s: %s", id, prev, next, base.SanitizeLogString(status.Message))
	}
}

// Notify reports a routed-call failure. Connectivity failures schedule an
// immediate probe; other errors are ignored.
func (a *Aggregator) Notify(id string, err error) {
	if !sdk.IsConnectivityError(err) {
		return
	}

	a.mu.Lock()
	if a.pending[id] {
		a.mu.Unlock()
		return
	}
	a.pending[id] = true
	running := a.running
	a.mu.Unlock()

	if !running {
		// no loop to pick it up; probe inline in the background
		go func() {
			_, _ = a.ProbeNow(context.Background(), id)
			a.mu.Lock()
			delete(a.pending, id)
			a.mu.Unlock()
		}()
		return
	}

	select {
	case a.fastDetect <- id:
	default:
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}
}

// IsRoutable reports whether calls may be routed to id. UNKNOWN connectors
// are routable; only a failed probe blocks routing.
func (a *Aggregator) IsRoutable(id string) bool {
	rec, err := a.registry.Health(id)
	if err != nil {
		return false
	}
	return rec.State != registry.StateUnhealthy
}

// Forget drops exported metrics for a removed connector
func (a *Aggregator) Forget(id string) {
	promConnectorHealthy.DeleteLabelValues(id)
}
