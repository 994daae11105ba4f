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
	"errors"

	"conhub/platform/connectors/base"
)

// Envelope error codes
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeMethodNotFound       = "METHOD_NOT_FOUND"
	CodeConnectorNotFound    = "CONNECTOR_NOT_FOUND"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeConnectorUnhealthy   = "CONNECTOR_UNHEALTHY"
	CodeNotFound             = "NOT_FOUND"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeUnsupportedQuery     = "UNSUPPORTED_QUERY"
	CodeInitializationFailed = "INITIALIZATION_FAILED"
	CodeRegistrationFailed   = "REGISTRATION_FAILED"
	CodeDuplicateConnector   = "DUPLICATE_CONNECTOR"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeRequestCancelled     = "REQUEST_CANCELLED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternalError        = "INTERNAL_ERROR"

	// codeOK labels successful dispatches in logs and metrics only
	codeOK = "OK"
)

var kindCodes = map[base.Kind]string{
	base.KindRegistration:       CodeRegistrationFailed,
	base.KindInitialization:     CodeInitializationFailed,
	base.KindAuthentication:     CodeAuthFailed,
	base.KindNotFound:           CodeNotFound,
	base.KindUnsupportedQuery:   CodeUnsupportedQuery,
	base.KindUnknownConnector:   CodeConnectorNotFound,
	base.KindDuplicateConnector: CodeDuplicateConnector,
	base.KindConnectorUnhealthy: CodeConnectorUnhealthy,
	base.KindInvalidArgument:    CodeInvalidParams,
	base.KindInternal:           CodeInternalError,
}

// CodeFor maps an error to its envelope code. Context cancellation wins over
// the error kind so a cancelled caller always sees REQUEST_CANCELLED.
func CodeFor(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeRequestCancelled
	}
	if code, ok := kindCodes[base.KindOf(err)]; ok {
		return code
	}
	return CodeInternalError
}

// toError converts err into an envelope error. The cause, when present, is
// surfaced in Data for diagnostics.
func toError(err error) *Error {
	code := CodeFor(err)
	e := &Error{Code: code, Message: base.SanitizeLogString(err.Error())}

	var ce *base.ConnectorError
	if errors.As(err, &ce) {
		e.Message = base.SanitizeLogString(ce.Message)
		data := map[string]interface{}{
			"connector": ce.ConnectorName,
			"operation": ce.Operation,
			"kind":      string(ce.Kind),
		}
		if ce.Cause != nil {
			data["cause"] = base.SanitizeLogString(ce.Cause.Error())
		}
		e.Data = data
	}
	return e
}
