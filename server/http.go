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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/router"
	"conhub/platform/shared/logger"
)

const (
	// MaxRequestBytes bounds one envelope body
	MaxRequestBytes = 1 << 20

	headerRequestID = "X-Request-ID"
	headerPrincipal = "X-Principal"
)

// HTTPConfig configures the HTTP transport
type HTTPConfig struct {
	// JWTSecret verifies HS256 bearer tokens; empty disables bearer auth
	JWTSecret   string
	CORSOrigins []string
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration
}

// HTTPServer exposes the router over HTTP: POST /rpc takes one envelope and
// always answers 200 with an envelope; the REST helpers map envelope errors
// to HTTP statuses.
type HTTPServer struct {
	router *router.Router
	auth   *Authenticator
	cfg    HTTPConfig
	logger *logger.Logger
}

// NewHTTPServer creates an HTTP transport over rt
func NewHTTPServer(rt *router.Router, cfg HTTPConfig) *HTTPServer {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &HTTPServer{
		router: rt,
		auth:   NewAuthenticator(cfg.JWTSecret),
		cfg:    cfg,
		logger: logger.New("http"),
	}
}

// SetLogger replaces the transport logger
func (s *HTTPServer) SetLogger(l *logger.Logger) {
	s.logger = l
}

// Handler returns the routed handler wrapped in CORS
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	r.HandleFunc("/connectors", s.handleListConnectors).Methods("GET")
	r.HandleFunc("/connectors/{id}/health", s.handleConnectorHealth).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", headerRequestID, headerPrincipal},
		ExposedHeaders: []string{headerRequestID},
	})
	return c.Handler(r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully
func (s *HTTPServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("", "", "HTTP transport listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type requestIDKey struct{}

// requestID defaults X-Request-ID and echoes it on the response
func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDOf(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDOf(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, router.ErrorResponse(nil, router.CodeInvalidRequest, "request body too large or unreadable"))
		return
	}

	req, decodeErr := router.DecodeRequest(body)
	if decodeErr != nil {
		s.logger.ErrorWithCode("", requestID, "rejected envelope", decodeErr.Code, decodeErr, nil)
		writeJSON(w, http.StatusOK, router.RejectRequest(req, decodeErr))
		return
	}

	principal, err := s.auth.Principal(r)
	if err != nil {
		s.logger.ErrorWithCode("", requestID, "bearer token rejected", router.CodeAuthFailed, err, nil)
		writeJSON(w, http.StatusOK, router.ErrorResponse(req.ID, router.CodeAuthFailed, "invalid bearer token"))
		return
	}
	req.Principal = principal
	req.RequestID = requestID

	writeJSON(w, http.StatusOK, s.router.Dispatch(r.Context(), req))
}

func (s *HTTPServer) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	s.serveMethod(w, r, router.MethodList)
}

func (s *HTTPServer) handleConnectorHealth(w http.ResponseWriter, r *http.Request) {
	s.serveMethod(w, r, mux.Vars(r)["id"]+"."+base.OpHealth)
}

// handleHealth reports the aggregate; 503 while any connector is unhealthy
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.router.Dispatch(r.Context(), &router.Request{Method: router.MethodHealth, RequestID: requestIDOf(r)})
	status := http.StatusOK
	if agg, ok := resp.Result.(map[string]interface{}); ok {
		if healthy, _ := agg["healthy"].(bool); !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp.Result)
}

// serveMethod dispatches a parameterless method and answers with its bare
// result or error body
func (s *HTTPServer) serveMethod(w http.ResponseWriter, r *http.Request, method string) {
	principal, err := s.auth.Principal(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, &router.Error{Code: router.CodeAuthFailed, Message: "invalid bearer token"})
		return
	}

	resp := s.router.Dispatch(r.Context(), &router.Request{
		Method:    method,
		Principal: principal,
		RequestID: requestIDOf(r),
	})
	if resp.Error != nil {
		writeJSON(w, StatusFor(resp.Error.Code), resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

// StatusFor maps an envelope error code to an HTTP status for the REST
// helpers
func StatusFor(code string) int {
	switch code {
	case router.CodeConnectorNotFound, router.CodeNotFound, router.CodeMethodNotFound:
		return http.StatusNotFound
	case router.CodeAuthFailed:
		return http.StatusUnauthorized
	case router.CodeInvalidRequest, router.CodeInvalidParams, router.CodeUnsupportedQuery, router.CodeUnsupportedOperation:
		return http.StatusBadRequest
	case router.CodeConnectorUnhealthy:
		return http.StatusServiceUnavailable
	case router.CodeDuplicateConnector:
		return http.StatusConflict
	case router.CodeRequestCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
