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

package base

import (
	"errors"
)

// Kind classifies a connector error. The router maps each kind to a stable
// envelope error code.
type Kind string

const (
	KindRegistration       Kind = "registration"
	KindInitialization     Kind = "initialization"
	KindAuthentication     Kind = "authentication"
	KindNotFound           Kind = "not_found"
	KindUnsupportedQuery   Kind = "unsupported_query"
	KindUnknownConnector   Kind = "unknown_connector"
	KindDuplicateConnector Kind = "duplicate_connector"
	KindConnectorUnhealthy Kind = "connector_unhealthy"
	KindInvalidArgument    Kind = "invalid_argument"
	KindInternal           Kind = "internal"
)

// ConnectorError represents errors specific to connector operations
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Kind          Kind
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// Is matches another *ConnectorError by kind, so errors.Is(err, ErrNotFound)
// holds for any not-found error regardless of connector.
func (e *ConnectorError) Is(target error) bool {
	t, ok := target.(*ConnectorError)
	if !ok {
		return false
	}
	return t.ConnectorName == "" && t.Operation == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is
var (
	ErrRegistration       = &ConnectorError{Kind: KindRegistration, Message: "registration failed"}
	ErrInitialization     = &ConnectorError{Kind: KindInitialization, Message: "initialization failed"}
	ErrAuthentication     = &ConnectorError{Kind: KindAuthentication, Message: "authentication failed"}
	ErrNotFound           = &ConnectorError{Kind: KindNotFound, Message: "not found"}
	ErrUnsupportedQuery   = &ConnectorError{Kind: KindUnsupportedQuery, Message: "unsupported query"}
	ErrUnknownConnector   = &ConnectorError{Kind: KindUnknownConnector, Message: "unknown connector"}
	ErrDuplicateConnector = &ConnectorError{Kind: KindDuplicateConnector, Message: "duplicate connector"}
	ErrConnectorUnhealthy = &ConnectorError{Kind: KindConnectorUnhealthy, Message: "connector unhealthy"}
	ErrInvalidArgument    = &ConnectorError{Kind: KindInvalidArgument, Message: "invalid argument"}
)

// NewConnectorError creates a new ConnectorError of KindInternal. Cause is
// preserved for diagnostics.
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return NewKindError(KindInternal, connectorName, operation, message, cause)
}

// NewKindError creates a ConnectorError with an explicit kind.
func NewKindError(kind Kind, connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Kind:          kind,
		Cause:         cause,
	}
}

func InitializationError(connectorName, message string, cause error) *ConnectorError {
	return NewKindError(KindInitialization, connectorName, OpInitialize, message, cause)
}

func AuthenticationError(connectorName, operation, message string, cause error) *ConnectorError {
	return NewKindError(KindAuthentication, connectorName, operation, message, cause)
}

func NotFoundError(connectorName, operation, message string, cause error) *ConnectorError {
	return NewKindError(KindNotFound, connectorName, operation, message, cause)
}

func UnsupportedQueryError(connectorName, queryType string) *ConnectorError {
	return NewKindError(KindUnsupportedQuery, connectorName, OpFetch, "unsupported query type: "+queryType, nil)
}

func InvalidArgumentError(connectorName, operation, message string) *ConnectorError {
	return NewKindError(KindInvalidArgument, connectorName, operation, message, nil)
}

// KindOf classifies err. Errors that are not ConnectorErrors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *ConnectorError
	if errors.As(err, &ce) && ce.Kind != "" {
		return ce.Kind
	}
	return KindInternal
}

// Wrap converts any error into a ConnectorError scoped to the connector and
// operation. ConnectorErrors pass through untouched.
func Wrap(connectorName, operation string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return err
	}
	return NewConnectorError(connectorName, operation, "upstream call failed", err)
}
