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

package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/credentials"
	"conhub/platform/connectors/health"
	"conhub/platform/connectors/registry"
	"conhub/platform/connectors/sdk"
	"conhub/platform/shared/logger"
)

// Router-level methods, dispatched without a connector
const (
	MethodList       = "list"
	MethodHealth     = "health"
	MethodListHealth = "list-health"
	MethodDisconnect = "disconnect"
)

// operations that never need a stored credential
var lifecycleOps = map[string]bool{
	base.OpHealth:       true,
	base.OpInitialize:   true,
	base.OpAuthenticate: true,
	base.OpAuthorizeURL: true,
	base.OpCleanup:      true,
}

// Prometheus metrics for routed calls
var (
	promDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conhub_router_requests_total",
			Help: "Total number of dispatched envelope requests",
		},
		[]string{"connector", "operation", "code"},
	)
	promDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conhub_router_request_duration_milliseconds",
			Help:    "Envelope dispatch duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"connector", "operation"},
	)
	promInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conhub_router_requests_in_flight",
			Help: "Connector invocations currently in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(promDispatchTotal)
	prometheus.MustRegister(promDispatchDuration)
	prometheus.MustRegister(promInFlight)
}

// Router turns envelope requests into exactly one response each. It holds no
// lock across connector calls, so dispatches to different connectors (and to
// the same connector) proceed concurrently.
type Router struct {
	registry    *registry.Registry
	credentials *credentials.Manager
	health      *health.Aggregator
	logger      *logger.Logger
	callTimeout time.Duration
	limiter     *sdk.PrincipalRateLimiter
}

// AuthResult is returned by <id>.authenticate. Tokens stay in the credential
// store and never leave the router.
type AuthResult struct {
	ConnectorID   string     `json:"connectorId"`
	Principal     string     `json:"principal"`
	Authenticated bool       `json:"authenticated"`
	TokenType     string     `json:"tokenType,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Scope         string     `json:"scope,omitempty"`
}

// ListEntry is one connector in the list result
type ListEntry struct {
	registry.ConnectorInfo
	Operations []string             `json:"operations"`
	Metrics    *sdk.MetricsSnapshot `json:"metrics,omitempty"`
}

// metricsSource is implemented by connectors built on sdk.BaseConnector
type metricsSource interface {
	GetMetrics() *sdk.ConnectorMetrics
}

// HealthSummary is the per-connector entry of list-health
type HealthSummary struct {
	Healthy       bool       `json:"healthy"`
	LastCheckedAt *time.Time `json:"lastCheckedAt"`
	Message       string     `json:"message,omitempty"`
}

// NewRouter creates a router over reg. A nil creds uses an in-memory store;
// a nil agg leaves health probing to the connectors' own health operation.
func NewRouter(reg *registry.Registry, creds *credentials.Manager, agg *health.Aggregator) *Router {
	if creds == nil {
		creds = credentials.NewManager(credentials.NewMemoryStore())
	}
	return &Router{
		registry:    reg,
		credentials: creds,
		health:      agg,
		logger:      logger.New("router"),
	}
}

// SetLogger replaces the dispatch logger
func (r *Router) SetLogger(l *logger.Logger) {
	r.logger = l
}

// SetCallTimeout bounds every connector invocation. Zero leaves only the
// caller's context in charge.
func (r *Router) SetCallTimeout(d time.Duration) {
	r.callTimeout = d
}

// SetRateLimiter throttles data operations per principal. Lifecycle
// operations are never throttled.
func (r *Router) SetRateLimiter(l *sdk.PrincipalRateLimiter) {
	r.limiter = l
}

// Registry returns the registry the router dispatches to
func (r *Router) Registry() *registry.Registry {
	return r.registry
}

// Dispatch routes one request. It never panics and never returns nil.
func (r *Router) Dispatch(ctx context.Context, req *Request) *Response {
	start := time.Now()
	if req == nil {
		return ErrorResponse(nil, CodeInvalidRequest, "request is required")
	}

	connectorLabel, opLabel, resp := r.dispatch(ctx, req)
	resp.ID = req.ID
	resp.JSONRPC = req.JSONRPC
	if resp.Error == nil && resp.Result == nil {
		resp.Result = struct{}{}
	}

	r.observe(req, connectorLabel, opLabel, resp, time.Since(start))
	return resp
}

// dispatch returns the metric labels alongside the response. Labels for
// unresolved connectors and unsupported operations are collapsed so caller
// input cannot grow metric cardinality.
func (r *Router) dispatch(ctx context.Context, req *Request) (string, string, *Response) {
	method := strings.TrimSpace(req.Method)
	if method == "" {
		return "router", "invalid", ErrorResponse(nil, CodeInvalidRequest, "method is required")
	}

	connectorID, op, namespaced := strings.Cut(method, ".")
	if !namespaced {
		return r.routerMethod(ctx, req, method)
	}
	if connectorID == "" || op == "" {
		return "router", "invalid", ErrorResponse(nil, CodeInvalidRequest,
			"method must be '<connectorId>.<operation>'")
	}

	handler, supported, err := r.registry.Handler(connectorID, op)
	if err != nil {
		return "unknown", "unknown", &Response{Error: toError(err)}
	}
	if !supported {
		return connectorID, "unsupported", ErrorResponse(nil, CodeUnsupportedOperation,
			fmt.Sprintf("operation '%s' is not supported by connector '%s'", op, connectorID))
	}

	if op != base.OpHealth && !r.routable(connectorID) {
		return connectorID, op, ErrorResponse(nil, CodeConnectorUnhealthy,
			fmt.Sprintf("connector '%s' is unhealthy", connectorID))
	}

	principal := principalOf(req)
	ctx = base.WithPrincipal(ctx, principal)
	if req.RequestID != "" {
		ctx = base.WithRequestID(ctx, req.RequestID)
	}

	if op == base.OpHealth {
		rec, err := r.probe(ctx, connectorID, handler)
		if err != nil {
			return connectorID, op, &Response{Error: toError(err)}
		}
		return connectorID, op, &Response{Result: rec}
	}

	if r.limiter != nil && !lifecycleOps[op] {
		if err := r.limiter.Wait(ctx, principal); err != nil {
			if ctx.Err() != nil {
				return connectorID, op, &Response{Error: toError(ctx.Err())}
			}
			return connectorID, op, ErrorResponse(nil, CodeRateLimited,
				fmt.Sprintf("rate limit exceeded for principal '%s'", principal))
		}
	}

	if r.requiresCredential(connectorID, op) {
		cred, err := r.acquire(ctx, connectorID, principal)
		if err != nil {
			return connectorID, op, &Response{Error: toError(err)}
		}
		ctx = base.WithCredential(ctx, cred)
	}

	result, err := r.invoke(ctx, connectorID, op, handler, req.Params)
	if err != nil {
		if r.health != nil && ctx.Err() == nil {
			r.health.Notify(connectorID, err)
		}
		return connectorID, op, &Response{Error: toError(err)}
	}

	switch op {
	case base.OpAuthenticate:
		result, err = r.storeCredential(ctx, connectorID, principal, result)
		if err != nil {
			return connectorID, op, &Response{Error: toError(err)}
		}
	case base.OpCleanup:
		r.forget(ctx, connectorID)
	}
	return connectorID, op, &Response{Result: result}
}

func (r *Router) routable(id string) bool {
	if r.health != nil {
		return r.health.IsRoutable(id)
	}
	rec, err := r.registry.Health(id)
	return err == nil && rec.State != registry.StateUnhealthy
}

// probe serves <id>.health. With an aggregator the probe is bounded and
// coalesced; without one the connector's health handler runs directly.
func (r *Router) probe(ctx context.Context, id string, handler base.OperationHandler) (registry.HealthRecord, error) {
	if r.health != nil {
		return r.health.ProbeNow(ctx, id)
	}
	if _, err := r.invoke(ctx, id, base.OpHealth, handler, nil); err != nil {
		return registry.HealthRecord{}, err
	}
	return r.registry.Health(id)
}

func (r *Router) requiresCredential(id, op string) bool {
	if lifecycleOps[op] {
		return false
	}
	conn, err := r.registry.Get(id)
	if err != nil {
		return false
	}
	req, ok := conn.(base.AuthRequirer)
	return ok && req.RequiresAuth()
}

func (r *Router) acquire(ctx context.Context, id, principal string) (*base.Credential, error) {
	conn, err := r.registry.Get(id)
	if err != nil {
		return nil, err
	}
	refresher, _ := conn.(base.TokenRefresher)
	return r.credentials.Acquire(ctx, id, principal, refresher)
}

type outcome struct {
	result interface{}
	err    error
}

// invoke runs handler on its own goroutine. The caller stops waiting when ctx
// is done; the upstream call is left to finish and its outcome is dropped.
func (r *Router) invoke(ctx context.Context, id, op string, handler base.OperationHandler, params map[string]interface{}) (interface{}, error) {
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	promInFlight.Inc()
	done := make(chan outcome, 1)
	go func() {
		defer promInFlight.Dec()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(base.PrincipalFrom(ctx), base.RequestIDFrom(ctx), "connector panicked", map[string]interface{}{
					"connector": id,
					"operation": op,
					"panic":     base.SanitizeLogString(fmt.Sprint(p)),
					"stack":     string(debug.Stack()),
				})
				done <- outcome{err: base.NewConnectorError(id, op, "connector failed unexpectedly", fmt.Errorf("panic: %v", p))}
			}
		}()
		res, err := handler(ctx, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, base.Wrap(id, op, out.err)
		}
		return out.result, nil
	case <-ctx.Done():
		return nil, base.NewConnectorError(id, op, "request cancelled before the connector responded", ctx.Err())
	}
}

func (r *Router) storeCredential(ctx context.Context, id, principal string, result interface{}) (interface{}, error) {
	cred, ok := result.(*base.Credential)
	if !ok || cred == nil {
		return nil, base.AuthenticationError(id, base.OpAuthenticate, "connector returned no credential", nil)
	}
	if err := r.credentials.Put(ctx, id, principal, cred); err != nil {
		return nil, base.NewConnectorError(id, base.OpAuthenticate, "failed to store credential", err)
	}
	return &AuthResult{
		ConnectorID:   id,
		Principal:     principal,
		Authenticated: true,
		TokenType:     cred.TokenType,
		ExpiresAt:     cred.ExpiresAt,
		Scope:         cred.Scope,
	}, nil
}

// forget drops state held for a connector removed by cleanup
func (r *Router) forget(ctx context.Context, id string) {
	if err := r.credentials.DeleteAll(ctx, id); err != nil {
		r.logger.Warn(base.PrincipalFrom(ctx), base.RequestIDFrom(ctx), "failed to delete credentials", map[string]interface{}{
			"connector": id,
			"error":     base.SanitizeLogString(err.Error()),
		})
	}
	if r.health != nil {
		r.health.Forget(id)
	}
}

func (r *Router) routerMethod(ctx context.Context, req *Request, method string) (string, string, *Response) {
	switch method {
	case MethodList:
		return "router", method, &Response{Result: map[string]interface{}{"connectors": r.list()}}
	case MethodHealth:
		return "router", method, &Response{Result: r.aggregateHealth()}
	case MethodListHealth:
		return "router", method, &Response{Result: r.listHealth()}
	case MethodDisconnect:
		result, err := r.disconnect(ctx, req)
		if err != nil {
			return "router", method, &Response{Error: toError(err)}
		}
		return "router", method, &Response{Result: result}
	default:
		return "router", "unknown", ErrorResponse(nil, CodeMethodNotFound,
			fmt.Sprintf("method '%s' not found", method))
	}
}

func (r *Router) list() []ListEntry {
	infos := r.registry.List()
	out := make([]ListEntry, 0, len(infos))
	for _, info := range infos {
		ops, err := r.registry.Operations(info.ID)
		if err != nil {
			// unregistered since List
			continue
		}
		entry := ListEntry{ConnectorInfo: info, Operations: ops}
		if conn, err := r.registry.Get(info.ID); err == nil {
			if src, ok := conn.(metricsSource); ok {
				entry.Metrics = src.GetMetrics().GetStats()
			}
		}
		out = append(out, entry)
	}
	return out
}

// aggregateHealth reports overall health. Connectors not yet probed do not
// make the router unhealthy.
func (r *Router) aggregateHealth() map[string]interface{} {
	snapshot := r.registry.Snapshot()
	healthy := true
	for _, rec := range snapshot {
		if rec.State == registry.StateUnhealthy {
			healthy = false
		}
	}
	return map[string]interface{}{
		"healthy":    healthy,
		"count":      len(snapshot),
		"connectors": snapshot,
	}
}

func (r *Router) listHealth() map[string]HealthSummary {
	snapshot := r.registry.Snapshot()
	out := make(map[string]HealthSummary, len(snapshot))
	for id, rec := range snapshot {
		out[id] = HealthSummary{
			Healthy:       rec.Healthy,
			LastCheckedAt: rec.LastCheckedAt,
			Message:       rec.Message,
		}
	}
	return out
}

func (r *Router) disconnect(ctx context.Context, req *Request) (map[string]interface{}, error) {
	id, _ := req.Params["connectorId"].(string)
	if id == "" {
		return nil, base.InvalidArgumentError("router", MethodDisconnect, "params.connectorId is required")
	}
	if _, err := r.registry.Descriptor(id); err != nil {
		return nil, err
	}

	principal := principalOf(req)
	if err := r.credentials.Delete(ctx, id, principal); err != nil {
		return nil, base.NewConnectorError(id, MethodDisconnect, "failed to delete credential", err)
	}
	return map[string]interface{}{
		"connectorId":  id,
		"principal":    principal,
		"disconnected": true,
	}, nil
}

func (r *Router) observe(req *Request, connectorLabel, opLabel string, resp *Response, elapsed time.Duration) {
	code := codeOK
	if resp.Error != nil {
		code = resp.Error.Code
	}
	ms := float64(elapsed.Microseconds()) / 1000

	promDispatchTotal.WithLabelValues(connectorLabel, opLabel, code).Inc()
	promDispatchDuration.WithLabelValues(connectorLabel, opLabel).Observe(ms)

	fields := map[string]interface{}{
		"method":      base.SanitizeLogString(req.Method),
		"code":        code,
		"duration_ms": ms,
	}
	principal := principalOf(req)
	switch {
	case resp.Error == nil:
		r.logger.Info(principal, req.RequestID, "dispatch", fields)
	case code == CodeInternalError:
		fields["error"] = resp.Error.Message
		r.logger.Error(principal, req.RequestID, "dispatch failed", fields)
	default:
		fields["error"] = resp.Error.Message
		r.logger.Warn(principal, req.RequestID, "dispatch rejected", fields)
	}
}

func principalOf(req *Request) string {
	if req.Principal == "" {
		return base.DefaultPrincipal
	}
	return req.Principal
}
